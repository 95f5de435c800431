package kms

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// fakePropertyServer answers OBJ_GETPROPERTIES/GETPROPERTY for a fixed set
// of named properties on every object, which is all newAtomicSurface and
// SetPlane need to resolve property ids by name.
func fakePropertyServer(t *testing.T, names []string) func(req uintptr, arg unsafe.Pointer) error {
	t.Helper()
	return func(req uintptr, arg unsafe.Pointer) error {
		switch req {
		case ioctlModeObjGetProperties:
			p := (*drmModeObjGetProperties)(arg)
			if p.PropsPtr == 0 {
				p.CountProps = uint32(len(names))
				return nil
			}
			ids := unsafe.Slice((*uint32)(unsafe.Pointer(uintptr(p.PropsPtr))), len(names))
			vals := unsafe.Slice((*uint64)(unsafe.Pointer(uintptr(p.PropValuesPtr))), len(names))
			for i := range names {
				ids[i] = uint32(i + 1)
				vals[i] = 0
			}
			return nil
		case ioctlModeGetProperty:
			p := (*drmModeGetProperty)(arg)
			if p.PropID == 0 || int(p.PropID) > len(names) {
				return unix.EINVAL
			}
			copy(p.Name[:], names[p.PropID-1])
			return nil
		case ioctlModeCreatePropBlob:
			(*drmModeCreateBlob)(arg).BlobID = 100
			return nil
		case ioctlModeDestroyPropBlob:
			return nil
		case ioctlModeAtomic:
			return nil
		}
		return nil
	}
}

func TestAtomicSurfaceBuildRequestPlaneOnly(t *testing.T) {
	names := []string{"ACTIVE", "MODE_ID", "CRTC_ID", "FB_ID", "CRTC_X", "CRTC_Y", "CRTC_W", "CRTC_H",
		"SRC_X", "SRC_Y", "SRC_W", "SRC_H"}
	d := newFakeDevice(fakePropertyServer(t, names))

	s, err := newAtomicSurface(d, 1, 0, nil)
	require.NoError(t, err)

	registry := NewPlaneClaimRegistry()
	cfg := &PlaneConfig{
		FB:  7,
		Src: RectF{Size: SizeF{W: 1920, H: 1080}},
		Dst: RectI{Size: Size{W: 1920, H: 1080}},
	}
	require.NoError(t, s.SetPlane(10, cfg, registry))

	req, err := s.buildPlaneOnlyRequest()
	require.NoError(t, err)
	require.Len(t, req.objs, len(req.props))
	require.NotEmpty(t, req.objs)
	for _, obj := range req.objs {
		require.Equal(t, uint32(10), obj)
	}
}

func TestAtomicSurfaceClearPlaneZeroesFbAndCrtc(t *testing.T) {
	names := []string{"ACTIVE", "MODE_ID", "CRTC_ID", "FB_ID"}
	d := newFakeDevice(fakePropertyServer(t, names))

	s, err := newAtomicSurface(d, 1, 0, nil)
	require.NoError(t, err)

	registry := NewPlaneClaimRegistry()
	require.NoError(t, s.SetPlane(10, &PlaneConfig{FB: 7}, registry))
	require.NoError(t, s.ClearPlane(10))

	req, err := s.buildPlaneOnlyRequest()
	require.NoError(t, err)
	for i, v := range req.values {
		if req.props[i] == 3 || req.props[i] == 4 { // CRTC_ID is id 3, FB_ID id 4 in `names`
			require.EqualValues(t, 0, v)
		}
	}
}

// fakeConnectorHandler answers GETCONNECTOR/GETENCODER for one connector
// with a fixed encoder and mode list, layered in front of a property-only
// handler for everything else.
func fakeConnectorHandler(t *testing.T, base func(req uintptr, arg unsafe.Pointer) error,
	connectorID uint32, encoderID uint32, possibleCrtcs uint32, modes []Mode) func(req uintptr, arg unsafe.Pointer) error {
	t.Helper()
	return func(req uintptr, arg unsafe.Pointer) error {
		switch req {
		case ioctlModeGetConnector:
			p := (*drmModeGetConnector)(arg)
			if p.EncodersPtr == 0 && p.ModesPtr == 0 {
				p.CountEncoders = 1
				p.CountModes = uint32(len(modes))
				return nil
			}
			if p.EncodersPtr != 0 {
				dst := unsafe.Slice((*uint32)(unsafe.Pointer(uintptr(p.EncodersPtr))), 1)
				dst[0] = encoderID
			}
			if p.ModesPtr != 0 && len(modes) > 0 {
				dst := unsafe.Slice((*drmModeModeInfo)(unsafe.Pointer(uintptr(p.ModesPtr))), len(modes))
				for i, m := range modes {
					raw := marshalModeInfo(m)
					dst[i] = *(*drmModeModeInfo)(unsafe.Pointer(&raw[0]))
				}
			}
			return nil
		case ioctlModeGetEncoder:
			p := (*drmModeGetEncoder)(arg)
			p.PossibleCrtcs = possibleCrtcs
			return nil
		default:
			return base(req, arg)
		}
	}
}

func TestAtomicSurfaceAddConnectorRejectsIncompatibleEncoder(t *testing.T) {
	names := []string{"ACTIVE", "MODE_ID", "CRTC_ID", "FB_ID"}
	base := fakePropertyServer(t, names)
	d := newFakeDevice(fakeConnectorHandler(t, base, 20, 30, 0b10, nil))

	s, err := newAtomicSurface(d, 1, 0, nil)
	require.NoError(t, err)

	err = s.AddConnector(20)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindIncompatibleEncoder, kind)
}

func TestAtomicSurfaceAddConnectorRejectsUnsupportedMode(t *testing.T) {
	names := []string{"ACTIVE", "MODE_ID", "CRTC_ID", "FB_ID"}
	base := fakePropertyServer(t, names)
	supported := Mode{Hdisplay: 1920, Vdisplay: 1080}
	d := newFakeDevice(fakeConnectorHandler(t, base, 20, 30, 0b1, []Mode{supported}))

	s, err := newAtomicSurface(d, 1, 0, nil)
	require.NoError(t, err)

	require.NoError(t, s.UseMode(Mode{Hdisplay: 1280, Vdisplay: 720}))
	err = s.AddConnector(20)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindModeUnsupported, kind)
}

func TestAtomicSurfaceAddConnectorAcceptsCompatibleEncoderAndMode(t *testing.T) {
	names := []string{"ACTIVE", "MODE_ID", "CRTC_ID", "FB_ID"}
	base := fakePropertyServer(t, names)
	supported := Mode{Hdisplay: 1920, Vdisplay: 1080}
	d := newFakeDevice(fakeConnectorHandler(t, base, 20, 30, 0b1, []Mode{supported}))

	s, err := newAtomicSurface(d, 1, 0, nil)
	require.NoError(t, err)

	require.NoError(t, s.UseMode(supported))
	require.NoError(t, s.AddConnector(20))
}

func TestAtomicSurfaceBuildRequestDetachesDroppedConnectors(t *testing.T) {
	names := []string{"ACTIVE", "MODE_ID", "CRTC_ID", "FB_ID"}
	base := fakePropertyServer(t, names)
	d := newFakeDevice(fakeConnectorHandler(t, base, 20, 30, 0b1, nil))

	s, err := newAtomicSurface(d, 1, 0, nil)
	require.NoError(t, err)
	require.NoError(t, s.AddConnector(20))
	// Simulate a prior commit that left connector 20 attached.
	s.current = s.pending.clone()
	require.NoError(t, s.RemoveConnector(20))

	req, err := s.buildRequest(true)
	require.NoError(t, err)

	crtcIDProp := s.connectorProps[20]["CRTC_ID"].ID
	found := false
	for i, obj := range req.objs {
		if obj == 20 && req.props[i] == crtcIDProp {
			found = true
			require.EqualValues(t, 0, req.values[i])
		}
	}
	require.True(t, found, "dropped connector must have CRTC_ID zeroed")
}

func TestAtomicSurfaceAddPlanePropsMarshalsRotation(t *testing.T) {
	names := []string{"ACTIVE", "MODE_ID", "CRTC_ID", "FB_ID", "rotation"}
	d := newFakeDevice(fakePropertyServer(t, names))

	s, err := newAtomicSurface(d, 1, 0, nil)
	require.NoError(t, err)

	registry := NewPlaneClaimRegistry()
	cfg := &PlaneConfig{FB: 7, Transform: Transform90}
	require.NoError(t, s.SetPlane(10, cfg, registry))

	req, err := s.buildPlaneOnlyRequest()
	require.NoError(t, err)

	rotationProp := s.planeProps[10]["rotation"].ID
	found := false
	for i, prop := range req.props {
		if prop == rotationProp {
			found = true
			require.EqualValues(t, rotate90, req.values[i])
		}
	}
	require.True(t, found, "rotation property must be marshalled")
}

func TestAtomicSurfaceTestStateClassifiesBusy(t *testing.T) {
	names := []string{"ACTIVE", "MODE_ID", "CRTC_ID", "FB_ID"}
	handler := fakePropertyServer(t, names)
	d := newFakeDevice(func(req uintptr, arg unsafe.Pointer) error {
		if req == ioctlModeAtomic {
			return unix.EBUSY
		}
		return handler(req, arg)
	})

	s, err := newAtomicSurface(d, 1, 0, nil)
	require.NoError(t, err)

	err = s.TestState(false)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindTestFailed, kind)
}
