package kms

import (
	"fmt"
	"sync"
)

// claimEntry is one plane's current owner and how many live PlaneClaim
// tokens point at it.
type claimEntry struct {
	crtcID   uint32
	refcount int
}

// PlaneClaimRegistry tracks which CRTC currently owns each plane, so two
// surfaces on the same device can never fight over one plane (§4.1,
// Testable Properties §8 exclusivity). Re-claiming a plane already held by
// the same CRTC increments the refcount instead of being a no-op, so the
// plane stays owned until every outstanding claim has been dropped.
type PlaneClaimRegistry struct {
	mu      sync.Mutex
	entries map[uint32]*claimEntry // plane id -> (crtc id, refcount)
}

// NewPlaneClaimRegistry returns an empty registry. One registry is shared
// by every surface opened against the same Device.
func NewPlaneClaimRegistry() *PlaneClaimRegistry {
	return &PlaneClaimRegistry{entries: make(map[uint32]*claimEntry)}
}

// PlaneClaim is a move-only proof that a plane is owned by one CRTC. Its
// zero value is not valid; obtain one from Claim and release it with Drop.
type PlaneClaim struct {
	registry *PlaneClaimRegistry
	plane    uint32
	crtc     uint32
	dropped  bool
}

// Plane returns the claimed plane id.
func (c *PlaneClaim) Plane() uint32 { return c.plane }

// Claim attempts to claim plane for crtc. It succeeds if the plane is
// unclaimed, or already claimed by the same crtc (refcounted re-claim,
// e.g. re-running Surface.ClaimPlane after a reset). It fails if another
// CRTC already holds the plane.
func (r *PlaneClaimRegistry) Claim(plane, crtc uint32) (*PlaneClaim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[plane]; ok {
		if e.crtcID != crtc {
			return nil, newError(KindUnsupportedPlaneConfiguration, "claim_plane",
				fmt.Errorf("plane %d already claimed by crtc %d", plane, e.crtcID))
		}
		e.refcount++
		return &PlaneClaim{registry: r, plane: plane, crtc: crtc}, nil
	}
	r.entries[plane] = &claimEntry{crtcID: crtc, refcount: 1}
	return &PlaneClaim{registry: r, plane: plane, crtc: crtc}, nil
}

// Drop releases the claim, decrementing the plane's refcount. The plane is
// only freed once every outstanding claim on it has been dropped. It is
// safe to call more than once.
func (c *PlaneClaim) Drop() {
	if c == nil || c.dropped {
		return
	}
	c.dropped = true
	r := c.registry
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[c.plane]
	if !ok || e.crtcID != c.crtc {
		return
	}
	e.refcount--
	if e.refcount <= 0 {
		delete(r.entries, c.plane)
	}
}

// OwnerOf reports the CRTC currently holding plane, if any.
func (r *PlaneClaimRegistry) OwnerOf(plane uint32) (uint32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[plane]
	if !ok {
		return 0, false
	}
	return e.crtcID, true
}
