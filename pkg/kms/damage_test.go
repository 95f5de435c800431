package kms

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeBlobDevice(t *testing.T, nextBlobID uint32) *Device {
	t.Helper()
	return newFakeDevice(func(req uintptr, arg unsafe.Pointer) error {
		switch req {
		case ioctlModeCreatePropBlob:
			(*drmModeCreateBlob)(arg).BlobID = nextBlobID
			return nil
		case ioctlModeDestroyPropBlob:
			return nil
		default:
			t.Fatalf("unexpected ioctl %#x", req)
			return nil
		}
	})
}

func TestFromDamageEmptyYieldsNoBlob(t *testing.T) {
	d := fakeBlobDevice(t, 7)
	clips, err := FromDamage(d, RectF{Size: SizeF{W: 100, H: 100}}, RectI{Size: Size{W: 100, H: 100}}, nil)
	require.NoError(t, err)
	assert.Nil(t, clips)
}

func TestFromDamageIdentityScale(t *testing.T) {
	d := fakeBlobDevice(t, 9)
	src := RectF{Size: SizeF{W: 200, H: 100}}
	dst := RectI{Size: Size{W: 200, H: 100}}
	damage := []RectI{{Loc: Point{X: 10, Y: 20}, Size: Size{W: 30, H: 40}}}

	clips, err := FromDamage(d, src, dst, damage)
	require.NoError(t, err)
	require.NotNil(t, clips)
	assert.Equal(t, uint32(9), clips.BlobID())
}

func TestFromDamageScalesIntoBufferSpace(t *testing.T) {
	d := fakeBlobDevice(t, 1)
	// buffer is twice the size of the destination, so damage scales up 2x.
	src := RectF{Size: SizeF{W: 400, H: 200}}
	dst := RectI{Size: Size{W: 200, H: 100}}
	damage := []RectI{{Loc: Point{X: 0, Y: 0}, Size: Size{W: 10, H: 10}}}

	clips, err := FromDamage(d, src, dst, damage)
	require.NoError(t, err)
	require.NotNil(t, clips)
}

func TestFromDamageRejectsZeroSizeDst(t *testing.T) {
	d := fakeBlobDevice(t, 1)
	_, err := FromDamage(d, RectF{}, RectI{}, []RectI{{Size: Size{W: 1, H: 1}}})
	assert.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindUnsupportedPlaneConfiguration, kind)
}

func TestPlaneDamageClipsRefcount(t *testing.T) {
	destroyed := false
	d := newFakeDevice(func(req uintptr, arg unsafe.Pointer) error {
		switch req {
		case ioctlModeCreatePropBlob:
			(*drmModeCreateBlob)(arg).BlobID = 5
			return nil
		case ioctlModeDestroyPropBlob:
			destroyed = true
			return nil
		}
		return nil
	})

	clips, err := FromDamage(d, RectF{Size: SizeF{W: 10, H: 10}}, RectI{Size: Size{W: 10, H: 10}},
		[]RectI{{Size: Size{W: 1, H: 1}}})
	require.NoError(t, err)

	clips.Retain()
	require.NoError(t, clips.Release())
	assert.False(t, destroyed, "blob should survive one of two releases")

	require.NoError(t, clips.Release())
	assert.True(t, destroyed, "blob should be destroyed once refcount hits zero")
}
