package kms

import (
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// AtomicSurface drives one CRTC through the atomic KMS ABI (§4.3): every
// state change is staged into `pending` and only takes effect on the
// kernel once Commit or PageFlip issues a DRM_IOCTL_MODE_ATOMIC request.
type AtomicSurface struct {
	device    *Device
	log       *slog.Logger
	crtcID    uint32
	crtcIndex uint32

	crtcProps      propertyCache
	connectorProps map[uint32]propertyCache
	connectorCaps  map[uint32]connectorCapability
	planeProps     map[uint32]propertyCache

	mu         sync.Mutex
	current    PipelineState
	pending    PipelineState
	modeBlobID uint32

	planeClaims map[uint32]*PlaneClaim
	planeStates map[uint32]*PlaneState // pending plane configuration, by plane id
}

func newAtomicSurface(d *Device, crtcID, crtcIndex uint32, log *slog.Logger) (*AtomicSurface, error) {
	crtcProps, err := loadProperties(d, crtcID, ObjectCRTC)
	if err != nil {
		return nil, err
	}
	return &AtomicSurface{
		device:         d,
		log:            log,
		crtcID:         crtcID,
		crtcIndex:      crtcIndex,
		crtcProps:      crtcProps,
		connectorProps: make(map[uint32]propertyCache),
		connectorCaps:  make(map[uint32]connectorCapability),
		planeProps:     make(map[uint32]propertyCache),
		planeClaims:    make(map[uint32]*PlaneClaim),
		planeStates:    make(map[uint32]*PlaneState),
	}, nil
}

// connectorCapability returns id's cached encoder/mode capability, loading
// it from the kernel on first use.
func (s *AtomicSurface) connectorCapability(id uint32) (connectorCapability, error) {
	if c, ok := s.connectorCaps[id]; ok {
		return c, nil
	}
	c, err := loadConnectorCapability(s.device, id)
	if err != nil {
		return connectorCapability{}, err
	}
	s.connectorCaps[id] = c
	return c, nil
}

// checkConnector verifies id has an encoder that can drive this CRTC, and
// that it supports whatever mode is already pending (§4.3, §7:
// incompatible-encoder / mode-unsupported).
func (s *AtomicSurface) checkConnector(id uint32) error {
	cc, err := s.connectorCapability(id)
	if err != nil {
		return err
	}
	if !cc.compatibleWith(s.crtcIndex) {
		return newError(KindIncompatibleEncoder, "add_connector",
			fmt.Errorf("connector %d has no encoder compatible with crtc %d", id, s.crtcID))
	}
	if s.pending.Mode.Hdisplay != 0 && !cc.supportsMode(s.pending.Mode) {
		return newError(KindModeUnsupported, "add_connector",
			fmt.Errorf("connector %d does not support mode %s", id, s.pending.Mode))
	}
	return nil
}

func (s *AtomicSurface) AddConnector(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending.hasConnector(id) {
		return nil
	}
	if err := s.checkConnector(id); err != nil {
		return err
	}
	if _, ok := s.connectorProps[id]; !ok {
		props, err := loadProperties(s.device, id, ObjectConnector)
		if err != nil {
			return err
		}
		s.connectorProps[id] = props
	}
	s.pending.Connectors = append(s.pending.Connectors, id)
	return nil
}

func (s *AtomicSurface) RemoveConnector(id uint32) error {
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

// SetConnectors replaces the whole pending connector set at once, either
// entirely or not at all (Open Question (b) in DESIGN.md): every id is
// validated and property-cached against a scratch copy before the real
// pending set is overwritten.
func (s *AtomicSurface) SetConnectors(ids []uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]uint32, len(ids))
	copy(next, ids)
	for _, id := range next {
		if err := s.checkConnector(id); err != nil {
			return err
		}
		if _, ok := s.connectorProps[id]; ok {
			continue
		}
		props, err := loadProperties(s.device, id, ObjectConnector)
		if err != nil {
			return err
		}
		s.connectorProps[id] = props
	}
	s.pending.Connectors = next
	return nil
}

func (s *AtomicSurface) UseMode(m Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.pending.Connectors {
		cc, err := s.connectorCapability(id)
		if err != nil {
			return err
		}
		if !cc.supportsMode(m) {
			return newError(KindModeUnsupported, "use_mode",
				fmt.Errorf("connector %d does not support mode %s", id, m))
		}
	}
	s.pending.Mode = m
	return nil
}

// SetPlane stages a plane's desired configuration, claiming the plane for
// this CRTC on first use.
func (s *AtomicSurface) SetPlane(planeID uint32, cfg *PlaneConfig, registry *PlaneClaimRegistry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, claimed := s.planeClaims[planeID]; !claimed {
		claim, err := registry.Claim(planeID, s.crtcID)
		if err != nil {
			return err
		}
		s.planeClaims[planeID] = claim
	}
	if _, ok := s.planeProps[planeID]; !ok {
		props, err := loadProperties(s.device, planeID, ObjectPlane)
		if err != nil {
			return err
		}
		s.planeProps[planeID] = props
	}
	s.planeStates[planeID] = &PlaneState{Handle: planeID, Config: cfg}
	return nil
}

// ClearPlane disables a plane on the next commit without releasing its
// claim, mirroring the kernel's "set FB_ID/CRTC_ID to 0" idiom.
func (s *AtomicSurface) ClearPlane(planeID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.planeStates[planeID]; !ok {
		return newError(KindNoPlane, "clear_plane", fmt.Errorf("plane %d not staged", planeID))
	}
	s.planeStates[planeID] = &PlaneState{Handle: planeID, Config: nil}
	return nil
}

// CommitPending reports whether the staged connector/mode state differs
// from what the kernel currently has (§4.3, §8), i.e. whether the next
// Commit would need to perform a modeset at all.
func (s *AtomicSurface) CommitPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.pending.equal(s.current)
}

func (s *AtomicSurface) TestState(allowModeset bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, err := s.buildRequest(allowModeset)
	if err != nil {
		return err
	}
	flags := uint32(atomicFlagTestOnly)
	if allowModeset {
		flags |= atomicFlagAllowModeset
	}
	return s.submit(req, flags)
}

func (s *AtomicSurface) Commit(event bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.device.requireActive("atomic_commit"); err != nil {
		return err
	}
	modeset := !s.pending.equal(s.current)
	req, err := s.buildRequest(modeset)
	if err != nil {
		return err
	}
	flags := uint32(atomicFlagAllowModeset)
	if event {
		flags |= atomicFlagNonblock | pageFlipFlagEvent
	}
	if err := s.submit(req, flags); err != nil {
		return err
	}
	s.current = s.pending.clone()
	return nil
}

// PageFlip issues a plane-only atomic commit (FB_ID updates plus the
// commit's damage clips), never touching CRTC/connector properties, so it
// can run non-blocking every frame without risking an implicit modeset.
func (s *AtomicSurface) PageFlip(event bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.device.requireActive("atomic_page_flip"); err != nil {
		return err
	}
	req, err := s.buildPlaneOnlyRequest()
	if err != nil {
		return err
	}
	flags := uint32(atomicFlagNonblock)
	if event {
		flags |= pageFlipFlagEvent
	}
	return s.submit(req, flags)
}

// ResetState re-reads the CRTC's current mode from the kernel, discarding
// any un-committed pending changes and staged plane states. The connector
// assignment is not read back: current and pending both start with an empty
// connector set, and cached property ids are kept.
func (s *AtomicSurface) ResetState() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var req drmModeCrtc
	req.CrtcID = s.crtcID
	if err := s.device.ioctl("get_crtc", ioctlModeGetCrtc, unsafe.Pointer(&req)); err != nil {
		return err
	}
	s.current = PipelineState{Mode: convertMode(req.Mode)}
	s.pending = s.current.clone()
	s.planeStates = make(map[uint32]*PlaneState)
	return nil
}

type atomicRequest struct {
	objs   []uint32
	counts []uint32
	props  []uint32
	values []uint64
}

func (r *atomicRequest) add(obj, prop uint32, value uint64) {
	r.objs = append(r.objs, obj)
	r.counts = append(r.counts, 1)
	r.props = append(r.props, prop)
	r.values = append(r.values, value)
}

func (s *AtomicSurface) buildRequest(modeset bool) (*atomicRequest, error) {
	req := &atomicRequest{}
	if modeset {
		crtcActive, err := s.crtcProps.id("ACTIVE")
		if err != nil {
			return nil, err
		}
		crtcModeID, err := s.crtcProps.id("MODE_ID")
		if err != nil {
			return nil, err
		}
		active := uint64(0)
		if len(s.pending.Connectors) > 0 {
			active = 1
		}
		req.add(s.crtcID, crtcActive, active)

		blobID, err := s.ensureModeBlob()
		if err != nil {
			return nil, err
		}
		req.add(s.crtcID, crtcModeID, uint64(blobID))

		for _, id := range s.pending.Connectors {
			props := s.connectorProps[id]
			crtcIDProp, err := props.id("CRTC_ID")
			if err != nil {
				return nil, err
			}
			req.add(id, crtcIDProp, uint64(s.crtcID))
		}

		// Connectors dropped from pending must be detached, or the kernel
		// leaves them pointed at this CRTC forever.
		for _, id := range s.current.Connectors {
			if s.pending.hasConnector(id) {
				continue
			}
			props, ok := s.connectorProps[id]
			if !ok {
				continue
			}
			crtcIDProp, err := props.id("CRTC_ID")
			if err != nil {
				return nil, err
			}
			req.add(id, crtcIDProp, 0)
		}
	}
	if err := s.addPlaneProps(req); err != nil {
		return nil, err
	}
	return req, nil
}

func (s *AtomicSurface) buildPlaneOnlyRequest() (*atomicRequest, error) {
	req := &atomicRequest{}
	if err := s.addPlaneProps(req); err != nil {
		return nil, err
	}
	return req, nil
}

func (s *AtomicSurface) addPlaneProps(req *atomicRequest) error {
	for planeID, state := range s.planeStates {
		props := s.planeProps[planeID]
		fbProp, err := props.id("FB_ID")
		if err != nil {
			return err
		}
		crtcIDProp, err := props.id("CRTC_ID")
		if err != nil {
			return err
		}
		if state.Config == nil {
			req.add(planeID, fbProp, 0)
			req.add(planeID, crtcIDProp, 0)
			continue
		}
		cfg := state.Config
		req.add(planeID, fbProp, uint64(cfg.FB))
		req.add(planeID, crtcIDProp, uint64(s.crtcID))

		if id, err := props.id("CRTC_X"); err == nil {
			req.add(planeID, id, uint64(uint32(cfg.Dst.Loc.X)))
		}
		if id, err := props.id("CRTC_Y"); err == nil {
			req.add(planeID, id, uint64(uint32(cfg.Dst.Loc.Y)))
		}
		if id, err := props.id("CRTC_W"); err == nil {
			req.add(planeID, id, uint64(uint32(cfg.Dst.Size.W)))
		}
		if id, err := props.id("CRTC_H"); err == nil {
			req.add(planeID, id, uint64(uint32(cfg.Dst.Size.H)))
		}
		if id, err := props.id("SRC_X"); err == nil {
			req.add(planeID, id, uint64(toFixed16_16(cfg.Src.Loc.X)))
		}
		if id, err := props.id("SRC_Y"); err == nil {
			req.add(planeID, id, uint64(toFixed16_16(cfg.Src.Loc.Y)))
		}
		if id, err := props.id("SRC_W"); err == nil {
			req.add(planeID, id, uint64(toFixed16_16(cfg.Src.Size.W)))
		}
		if id, err := props.id("SRC_H"); err == nil {
			req.add(planeID, id, uint64(toFixed16_16(cfg.Src.Size.H)))
		}
		if id, ok := props.lookup("alpha"); ok {
			req.add(planeID, id.ID, uint64(cfg.Alpha*0xffff))
		}
		if id, ok := props.lookup("FB_DAMAGE_CLIPS"); ok && cfg.DamageClips != nil {
			req.add(planeID, id.ID, uint64(cfg.DamageClips.BlobID()))
		}
		if id, ok := props.lookup("rotation"); ok {
			req.add(planeID, id.ID, uint64(rotationBits(cfg.Transform)))
		}
	}
	return nil
}

// DRM_MODE_ROTATE_*/REFLECT_* bit positions (drm_mode.h).
const (
	rotate0   = 1 << 0
	rotate90  = 1 << 1
	rotate180 = 1 << 2
	rotate270 = 1 << 3
	reflectX  = 1 << 4
	reflectY  = 1 << 5
)

// rotationBits maps a Transform onto the kernel's rotation property bitmask
// (§4.3 request marshalling).
func rotationBits(t Transform) uint32 {
	switch t {
	case Transform90:
		return rotate90
	case Transform180:
		return rotate180
	case Transform270:
		return rotate270
	case TransformFlipped:
		return rotate0 | reflectX
	case TransformFlipped90:
		return rotate90 | reflectX
	case TransformFlipped180:
		return rotate180 | reflectX
	case TransformFlipped270:
		return rotate270 | reflectX
	default:
		return rotate0
	}
}

func (s *AtomicSurface) ensureModeBlob() (uint32, error) {
	raw := marshalModeInfo(s.pending.Mode)
	blobID, err := s.device.createPropertyBlob(raw)
	if err != nil {
		return 0, err
	}
	if s.modeBlobID != 0 {
		_ = s.device.destroyPropertyBlob(s.modeBlobID)
	}
	s.modeBlobID = blobID
	return blobID, nil
}

func (s *AtomicSurface) submit(req *atomicRequest, flags uint32) error {
	areq := drmModeAtomic{
		Flags:         flags,
		CountObjs:     uint32(len(req.objs)),
		ObjsPtr:       ptrOf(req.objs),
		CountPropsPtr: ptrOf(req.counts),
		PropsPtr:      ptrOf(req.props),
		PropValuesPtr: ptrOfU64(req.values),
	}
	err := s.device.ioctl("atomic_commit", ioctlModeAtomic, unsafe.Pointer(&areq))
	if err == nil {
		return nil
	}
	var kerr *Error
	if e, ok := err.(*Error); ok {
		kerr = e
	}
	if kerr != nil && kerr.Err != nil {
		if flags&atomicFlagTestOnly != 0 {
			return classify("atomic_test", s.device.path, kerr.Err)
		}
		switch {
		case isErrno(kerr.Err, unix.EBUSY):
			return kerr // caller retries, current must not be advanced
		case isErrno(kerr.Err, unix.EINVAL):
			return newDeviceError(KindUnsupportedPlaneConfiguration, "atomic_commit", s.device.path, kerr.Err)
		case isErrno(kerr.Err, unix.EACCES), isErrno(kerr.Err, unix.EPERM):
			return newDeviceError(KindDeviceInactive, "atomic_commit", s.device.path, kerr.Err)
		}
	}
	return err
}

func isErrno(err error, target unix.Errno) bool {
	errno, ok := err.(unix.Errno)
	return ok && errno == target
}

func ptrOf(s []uint32) uint64 {
	if len(s) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&s[0])))
}

func ptrOfU64(s []uint64) uint64 {
	if len(s) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&s[0])))
}

func marshalModeInfo(m Mode) []byte {
	var raw drmModeModeInfo
	raw.Clock = m.Clock
	raw.Hdisplay = m.Hdisplay
	raw.HsyncStart = m.HsyncStart
	raw.HsyncEnd = m.HsyncEnd
	raw.Htotal = m.Htotal
	raw.Vdisplay = m.Vdisplay
	raw.VsyncStart = m.VsyncStart
	raw.VsyncEnd = m.VsyncEnd
	raw.Vtotal = m.Vtotal
	raw.Vrefresh = m.Vrefresh
	raw.Flags = m.Flags
	raw.Type = m.Type
	copy(raw.Name[:], m.Name)
	buf := make([]byte, unsafe.Sizeof(raw))
	*(*drmModeModeInfo)(unsafe.Pointer(&buf[0])) = raw
	return buf
}

func convertMode(raw drmModeModeInfo) Mode {
	return Mode{
		Clock:      raw.Clock,
		Hdisplay:   raw.Hdisplay,
		HsyncStart: raw.HsyncStart,
		HsyncEnd:   raw.HsyncEnd,
		Htotal:     raw.Htotal,
		Vdisplay:   raw.Vdisplay,
		VsyncStart: raw.VsyncStart,
		VsyncEnd:   raw.VsyncEnd,
		Vtotal:     raw.Vtotal,
		Vrefresh:   raw.Vrefresh,
		Flags:      raw.Flags,
		Type:       raw.Type,
		Name:       cString(raw.Name[:]),
	}
}
