package kms

import (
	"log/slog"
	"sync"
	"unsafe"
)

// LegacySurface drives one CRTC through the pre-atomic SETCRTC/PAGE_FLIP
// ABI (§4.4). Because that ABI has no concept of multiple planes, it only
// ever has one active plane configuration: the primary plane's framebuffer,
// checked by Surface.ensureLegacyPlanes when Surface.SetPlane stages it.
type LegacySurface struct {
	device *Device
	log    *slog.Logger
	crtcID uint32

	mu      sync.Mutex
	current PipelineState
	pending PipelineState

	planeClaims map[uint32]*PlaneClaim
	primaryFB   uint32
}

func newLegacySurface(d *Device, crtcID uint32, log *slog.Logger) *LegacySurface {
	return &LegacySurface{
		device:      d,
		log:         log,
		crtcID:      crtcID,
		planeClaims: make(map[uint32]*PlaneClaim),
	}
}

func (s *LegacySurface) AddConnector(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pending.hasConnector(id) {
		s.pending.Connectors = append(s.pending.Connectors, id)
	}
	return nil
}

func (s *LegacySurface) RemoveConnector(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending.Connectors[:0]
	for _, c := range s.pending.Connectors {
		if c != id {
			out = append(out, c)
		}
	}
	s.pending.Connectors = out
	return nil
}

// SetConnectors replaces the whole pending connector set atomically from
// the caller's point of view (Open Question (b)): the legacy SETCRTC
// ioctl itself is all-or-nothing, so this simply overwrites pending.
func (s *LegacySurface) SetConnectors(ids []uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]uint32, len(ids))
	copy(next, ids)
	s.pending.Connectors = next
	return nil
}

func (s *LegacySurface) UseMode(m Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending.Mode = m
	return nil
}

// CommitPending reports whether the staged connector/mode state differs
// from what the kernel currently has (§4.3, §8).
func (s *LegacySurface) CommitPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.pending.equal(s.current)
}

// ClaimPlane claims the primary plane this surface will collapse every
// commit onto. Legacy surfaces never use overlay/cursor planes through
// this engine (§4.6 ensureLegacyPlanes rejects them).
func (s *LegacySurface) ClaimPlane(planeID uint32, registry *PlaneClaimRegistry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.planeClaims[planeID]; ok {
		return nil
	}
	claim, err := registry.Claim(planeID, s.crtcID)
	if err != nil {
		return err
	}
	s.planeClaims[planeID] = claim
	return nil
}

// TestBuffer validates that fb could be shown in mode. The legacy ABI has
// no TEST_ONLY equivalent: with allowModeset false this returns success
// without probing the kernel at all (Open Question (a) in DESIGN.md,
// preserving the original behavior this module was distilled from), and
// with allowModeset true it performs the real SETCRTC so failure is
// observed directly instead of predicted.
func (s *LegacySurface) TestBuffer(fb uint32, mode Mode, allowModeset bool) error {
	if !allowModeset {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setCrtc(fb, mode, s.pending.Connectors)
}

// Commit pushes fb to the CRTC with mode and the pending connector set via
// SETCRTC, and on success makes pending the current state. It requests no
// vblank or page-flip event: Surface.Commit's event argument has no effect
// on legacy surfaces, and PageFlip is the legacy call that can request one.
func (s *LegacySurface) Commit(fb uint32, mode Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.device.requireActive("legacy_commit"); err != nil {
		return err
	}
	if err := s.setCrtc(fb, mode, s.pending.Connectors); err != nil {
		return err
	}
	s.primaryFB = fb
	s.current = s.pending.clone()
	return nil
}

// PageFlip schedules fb for the next vblank on an already-configured CRTC,
// without touching mode or connectors.
func (s *LegacySurface) PageFlip(fb uint32, event bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.device.requireActive("legacy_page_flip"); err != nil {
		return err
	}
	var flags uint32
	if event {
		flags = pageFlipFlagEvent
	}
	req := drmModeCrtcPageFlip{CrtcID: s.crtcID, FbID: fb, Flags: flags}
	if err := s.device.ioctl("page_flip", ioctlModePageFlip, unsafe.Pointer(&req)); err != nil {
		return err
	}
	s.primaryFB = fb
	return nil
}

// ResetState re-reads the CRTC's current configuration from the kernel.
func (s *LegacySurface) ResetState() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var req drmModeCrtc
	req.CrtcID = s.crtcID
	if err := s.device.ioctl("get_crtc", ioctlModeGetCrtc, unsafe.Pointer(&req)); err != nil {
		return err
	}
	s.current = PipelineState{Mode: convertMode(req.Mode)}
	s.pending = s.current.clone()
	s.primaryFB = req.FbID
	return nil
}

func (s *LegacySurface) setCrtc(fb uint32, mode Mode, connectors []uint32) error {
	raw := marshalModeInfo(mode)
	var mi drmModeModeInfo
	mi = *(*drmModeModeInfo)(unsafe.Pointer(&raw[0]))

	req := drmModeCrtc{
		CrtcID:          s.crtcID,
		FbID:            fb,
		ModeValid:       1,
		Mode:            mi,
		CountConnectors: uint32(len(connectors)),
	}
	if len(connectors) > 0 {
		req.SetConnectorsPtr = uint64(uintptr(unsafe.Pointer(&connectors[0])))
	}
	return s.device.ioctl("set_crtc", ioctlModeSetCrtc, unsafe.Pointer(&req))
}
