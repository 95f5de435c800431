package kms

import (
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildInFormatsBlob(fourccs []uint32, modifiers []struct {
	Modifier uint64
	Offset   uint32
	Mask     uint64
}) []byte {
	formatsOffset := uint32(inFormatsHeaderSize)
	modifiersOffset := formatsOffset + uint32(len(fourccs))*4

	buf := make([]byte, modifiersOffset+uint32(len(modifiers))*inFormatsModifierSize)
	binary.LittleEndian.PutUint32(buf[8:], uint32(len(fourccs)))
	binary.LittleEndian.PutUint32(buf[12:], uint32(len(modifiers)))
	binary.LittleEndian.PutUint32(buf[16:], formatsOffset)
	binary.LittleEndian.PutUint32(buf[20:], modifiersOffset)

	for i, f := range fourccs {
		binary.LittleEndian.PutUint32(buf[int(formatsOffset)+i*4:], f)
	}
	for i, m := range modifiers {
		off := int(modifiersOffset) + i*inFormatsModifierSize
		binary.LittleEndian.PutUint64(buf[off:], m.Modifier)
		binary.LittleEndian.PutUint32(buf[off+8:], m.Offset)
		binary.LittleEndian.PutUint64(buf[off+16:], m.Mask)
	}
	return buf
}

func TestParseInFormatsBlob(t *testing.T) {
	fourccs := []uint32{FourccARGB8888, 0x34324258}
	blob := buildInFormatsBlob(fourccs, []struct {
		Modifier uint64
		Offset   uint32
		Mask     uint64
	}{
		{Modifier: ModifierLinear, Offset: 0, Mask: 0b11},
		{Modifier: 0x0100000000000001, Offset: 0, Mask: 0b01},
	})

	formats, err := parseInFormatsBlob(blob)
	require.NoError(t, err)
	require.Len(t, formats, 3)
	assert.Contains(t, formats, Format{Fourcc: FourccARGB8888, Modifier: ModifierLinear})
	assert.Contains(t, formats, Format{Fourcc: 0x34324258, Modifier: ModifierLinear})
	assert.Contains(t, formats, Format{Fourcc: FourccARGB8888, Modifier: 0x0100000000000001})
}

func TestParseInFormatsBlobTooShort(t *testing.T) {
	formats, err := parseInFormatsBlob([]byte{1, 2, 3})
	require.NoError(t, err)
	assert.Nil(t, formats)
}

// fakeLegacyPlaneDevice answers GETPLANE with a fixed legacy format list and
// nothing else, for drivers that lack ADDFB2_MODIFIERS entirely.
func fakeLegacyPlaneDevice(fourccs []uint32) *Device {
	return newFakeDevice(func(req uintptr, arg unsafe.Pointer) error {
		if req != ioctlModeGetPlane {
			return nil
		}
		p := (*drmModeGetPlane)(arg)
		if p.FormatTypePtr == 0 {
			p.CountFormatTypes = uint32(len(fourccs))
			return nil
		}
		dst := unsafe.Slice((*uint32)(unsafe.Pointer(uintptr(p.FormatTypePtr))), len(fourccs))
		copy(dst, fourccs)
		return nil
	})
}

func TestSupportedFormatsCursorAddsLinearWithoutModifierSupport(t *testing.T) {
	d := fakeLegacyPlaneDevice([]uint32{FourccARGB8888})

	formats, err := SupportedFormats(d, 10, PlaneTypeCursor)
	require.NoError(t, err)
	assert.Contains(t, formats, Format{Fourcc: FourccARGB8888, Modifier: ModifierInvalid})
	assert.Contains(t, formats, Format{Fourcc: FourccARGB8888, Modifier: ModifierLinear})
}

func TestSupportedFormatsOverlayNoModifierSupportIsInvalidOnly(t *testing.T) {
	d := fakeLegacyPlaneDevice([]uint32{FourccARGB8888})

	formats, err := SupportedFormats(d, 10, PlaneTypeOverlay)
	require.NoError(t, err)
	assert.Equal(t, []Format{{Fourcc: FourccARGB8888, Modifier: ModifierInvalid}}, formats)
}

func TestSupportedFormatsUnionsLegacySeedWithInFormatsBlob(t *testing.T) {
	legacyFourccs := []uint32{FourccARGB8888}
	blobFourccs := []uint32{FourccARGB8888}
	blob := buildInFormatsBlob(blobFourccs, []struct {
		Modifier uint64
		Offset   uint32
		Mask     uint64
	}{
		{Modifier: 0x0100000000000001, Offset: 0, Mask: 0b1},
	})

	propNames := []string{"IN_FORMATS"}
	d := newFakeDevice(func(req uintptr, arg unsafe.Pointer) error {
		switch req {
		case ioctlModeGetPlane:
			p := (*drmModeGetPlane)(arg)
			if p.FormatTypePtr == 0 {
				p.CountFormatTypes = uint32(len(legacyFourccs))
				return nil
			}
			dst := unsafe.Slice((*uint32)(unsafe.Pointer(uintptr(p.FormatTypePtr))), len(legacyFourccs))
			copy(dst, legacyFourccs)
			return nil
		case ioctlModeObjGetProperties:
			p := (*drmModeObjGetProperties)(arg)
			if p.PropsPtr == 0 {
				p.CountProps = uint32(len(propNames))
				return nil
			}
			ids := unsafe.Slice((*uint32)(unsafe.Pointer(uintptr(p.PropsPtr))), len(propNames))
			vals := unsafe.Slice((*uint64)(unsafe.Pointer(uintptr(p.PropValuesPtr))), len(propNames))
			ids[0] = 1
			vals[0] = 100
			return nil
		case ioctlModeGetProperty:
			p := (*drmModeGetProperty)(arg)
			copy(p.Name[:], propNames[p.PropID-1])
			return nil
		case ioctlModeGetPropBlob:
			p := (*drmModeGetBlob)(arg)
			if p.Data == 0 {
				p.Length = uint32(len(blob))
				return nil
			}
			dst := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(p.Data))), len(blob))
			copy(dst, blob)
			return nil
		}
		return nil
	})
	d.hasAddFB2Modifiers = true

	formats, err := SupportedFormats(d, 10, PlaneTypeOverlay)
	require.NoError(t, err)
	assert.Contains(t, formats, Format{Fourcc: FourccARGB8888, Modifier: ModifierInvalid})
	assert.Contains(t, formats, Format{Fourcc: FourccARGB8888, Modifier: 0x0100000000000001})
}
