package kms

import (
	"fmt"
	"log/slog"
	"unsafe"
)

// Surface is the single façade a caller drives (§4.6): it picks the atomic
// or legacy engine once at construction time based on what the device
// supports, and every operation below dispatches to whichever one is
// active. Callers never see the distinction.
type Surface struct {
	device    *Device
	registry  *PlaneClaimRegistry
	log       *slog.Logger
	crtcID    uint32
	crtcIndex uint32

	atomic *AtomicSurface
	legacy *LegacySurface

	primaryPlane uint32
	planeConfigs map[uint32]*PlaneConfig // legacy-only staging, by plane id
}

// NewSurface opens a surface on crtcID, using the atomic ABI if the device
// negotiated DRM_CLIENT_CAP_ATOMIC at Open time and falling back to the
// legacy SETCRTC/PAGE_FLIP ABI otherwise. The choice is fixed for the life
// of the Surface.
func NewSurface(d *Device, crtcID, crtcIndex uint32, registry *PlaneClaimRegistry, log *slog.Logger) (*Surface, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Surface{
		device:       d,
		registry:     registry,
		log:          log,
		crtcID:       crtcID,
		crtcIndex:    crtcIndex,
		planeConfigs: make(map[uint32]*PlaneConfig),
	}
	if d.HasAtomic() {
		a, err := newAtomicSurface(d, crtcID, crtcIndex, log)
		if err != nil {
			return nil, err
		}
		s.atomic = a
		log.Info("surface using atomic kms", "crtc", crtcID)
	} else {
		s.legacy = newLegacySurface(d, crtcID, log)
		log.Info("surface using legacy kms", "crtc", crtcID)
	}
	return s, nil
}

func (s *Surface) IsAtomic() bool { return s.atomic != nil }

func (s *Surface) AddConnector(id uint32) error {
	if s.atomic != nil {
		return s.atomic.AddConnector(id)
	}
	return s.legacy.AddConnector(id)
}

func (s *Surface) RemoveConnector(id uint32) error {
	if s.atomic != nil {
		return s.atomic.RemoveConnector(id)
	}
	return s.legacy.RemoveConnector(id)
}

func (s *Surface) SetConnectors(ids []uint32) error {
	if s.atomic != nil {
		return s.atomic.SetConnectors(ids)
	}
	return s.legacy.SetConnectors(ids)
}

func (s *Surface) UseMode(m Mode) error {
	if s.atomic != nil {
		return s.atomic.UseMode(m)
	}
	return s.legacy.UseMode(m)
}

// CommitPending reports whether the staged connector/mode state differs
// from what the kernel currently has, i.e. whether the next Commit would
// need to perform a modeset.
func (s *Surface) CommitPending() bool {
	if s.atomic != nil {
		return s.atomic.CommitPending()
	}
	return s.legacy.CommitPending()
}

// ClaimPlane claims planeID for this surface's CRTC. The first plane
// claimed by a legacy surface becomes its primary plane; any other plane
// claimed on a legacy surface will be rejected by SetPlane/ensureLegacyPlanes
// when it is staged, since the legacy ABI can only ever show one plane.
func (s *Surface) ClaimPlane(planeID uint32) error {
	if s.atomic != nil {
		return nil // atomic claims lazily in SetPlane
	}
	if err := s.legacy.ClaimPlane(planeID, s.registry); err != nil {
		return err
	}
	if s.primaryPlane == 0 {
		s.primaryPlane = planeID
	}
	return nil
}

// SetPlane stages planeID's configuration for the next commit. On a legacy
// surface this is validated immediately against ensureLegacyPlanes's
// restrictions rather than deferred to commit time, so callers learn about
// an unsupported configuration as soon as they ask for it.
func (s *Surface) SetPlane(planeID uint32, cfg *PlaneConfig) error {
	if s.atomic != nil {
		return s.atomic.SetPlane(planeID, cfg, s.registry)
	}
	if err := s.ensureLegacyPlanes(planeID, cfg); err != nil {
		return err
	}
	s.planeConfigs[planeID] = cfg
	return nil
}

func (s *Surface) ClearPlane(planeID uint32) error {
	if s.atomic != nil {
		return s.atomic.ClearPlane(planeID)
	}
	return newError(KindNonPrimaryPlane, "clear_plane",
		fmt.Errorf("legacy surfaces cannot disable plane %d", planeID))
}

func (s *Surface) TestState(allowModeset bool) error {
	if s.atomic != nil {
		return s.atomic.TestState(allowModeset)
	}
	cfg, mode, err := s.legacyPrimaryConfig()
	if err != nil {
		return err
	}
	return s.legacy.TestBuffer(cfg.FB, mode, allowModeset)
}

func (s *Surface) Commit(event bool) error {
	if s.atomic != nil {
		return s.atomic.Commit(event)
	}
	cfg, mode, err := s.legacyPrimaryConfig()
	if err != nil {
		return err
	}
	return s.legacy.Commit(cfg.FB, mode)
}

func (s *Surface) PageFlip(event bool) error {
	if s.atomic != nil {
		return s.atomic.PageFlip(event)
	}
	cfg, ok := s.planeConfigs[s.primaryPlane]
	if !ok || cfg == nil {
		return newError(KindNoFramebuffer, "page_flip", fmt.Errorf("no primary plane framebuffer staged"))
	}
	return s.legacy.PageFlip(cfg.FB, event)
}

func (s *Surface) ResetState() error {
	if s.atomic != nil {
		return s.atomic.ResetState()
	}
	return s.legacy.ResetState()
}

func (s *Surface) legacyPrimaryConfig() (*PlaneConfig, Mode, error) {
	if s.primaryPlane == 0 {
		return nil, Mode{}, newError(KindNoPlane, "legacy_commit", fmt.Errorf("no primary plane claimed"))
	}
	cfg, ok := s.planeConfigs[s.primaryPlane]
	if !ok || cfg == nil {
		return nil, Mode{}, newError(KindNoFramebuffer, "legacy_commit", fmt.Errorf("primary plane has no framebuffer staged"))
	}
	return cfg, s.legacy.pending.Mode, nil
}

// ensureLegacyPlanes enforces the legacy ABI's single-plane restriction in
// the exact rejection order the original implementation used: missing
// plane, wrong plane, missing framebuffer, non-origin placement, any
// crop/scale, then any non-normal transform.
func (s *Surface) ensureLegacyPlanes(planeID uint32, cfg *PlaneConfig) error {
	if s.legacy == nil {
		return nil
	}
	if s.primaryPlane == 0 {
		return newError(KindNoPlane, "set_plane", fmt.Errorf("no plane claimed on legacy surface"))
	}
	if planeID != s.primaryPlane {
		return newError(KindNonPrimaryPlane, "set_plane",
			fmt.Errorf("legacy surfaces only support their primary plane (%d), got %d", s.primaryPlane, planeID))
	}
	if cfg == nil {
		return newError(KindNoFramebuffer, "set_plane", fmt.Errorf("legacy surfaces require a framebuffer"))
	}
	if cfg.Dst.Loc.X != 0 || cfg.Dst.Loc.Y != 0 {
		return newError(KindUnsupportedPlaneConfiguration, "set_plane",
			fmt.Errorf("legacy surfaces cannot place the primary plane off-origin"))
	}
	if cfg.Src.Loc.X != 0 || cfg.Src.Loc.Y != 0 ||
		cfg.Src.Size.W != float64(cfg.Dst.Size.W) || cfg.Src.Size.H != float64(cfg.Dst.Size.H) {
		return newError(KindUnsupportedPlaneConfiguration, "set_plane",
			fmt.Errorf("legacy surfaces cannot crop or scale the primary plane"))
	}
	if cfg.Transform != TransformNormal {
		return newError(KindUnsupportedPlaneConfiguration, "set_plane",
			fmt.Errorf("legacy surfaces cannot rotate or reflect the primary plane"))
	}
	return nil
}

// SupportedFormats returns the (fourcc, modifier) pairs planeID accepts.
func (s *Surface) SupportedFormats(planeID uint32, planeType PlaneType) ([]Format, error) {
	return SupportedFormats(s.device, planeID, planeType)
}

// Planes enumerates every plane usable by this surface's CRTC, in the
// order the kernel reports them. On a legacy surface only planes whose
// "type" property is primary are listed.
func (s *Surface) Planes() ([]uint32, error) {
	var res drmModeGetPlaneRes
	if err := s.device.ioctl("get_plane_resources", ioctlModeGetPlaneResources, unsafe.Pointer(&res)); err != nil {
		return nil, err
	}
	if res.CountPlanes == 0 {
		return nil, nil
	}
	ids := make([]uint32, res.CountPlanes)
	res.PlaneIDPtr = uint64(uintptr(unsafe.Pointer(&ids[0])))
	if err := s.device.ioctl("get_plane_resources", ioctlModeGetPlaneResources, unsafe.Pointer(&res)); err != nil {
		return nil, err
	}

	var out []uint32
	for _, id := range ids {
		var p drmModeGetPlane
		p.PlaneID = id
		if err := s.device.ioctl("get_plane", ioctlModeGetPlane, unsafe.Pointer(&p)); err != nil {
			return nil, err
		}
		if p.PossibleCrtcs&(1<<s.crtcIndex) == 0 {
			continue
		}
		if s.legacy != nil {
			props, err := loadProperties(s.device, id, ObjectPlane)
			if err != nil {
				return nil, err
			}
			// DRM_PLANE_TYPE_PRIMARY is 1.
			if t, ok := props.lookup("type"); !ok || t.Value != 1 {
				continue
			}
		}
		out = append(out, id)
	}
	return out, nil
}
