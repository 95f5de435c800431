package kms

import (
	"encoding/binary"
	"errors"
	"math"
	"sync/atomic"
	"unsafe"
)

var errDstZeroSize = errors.New("destination rect has zero width or height")

// damageRect mirrors struct drm_mode_rect: four signed 32-bit buffer-space
// coordinates, x1,y1 inclusive and x2,y2 exclusive.
type damageRect struct{ X1, Y1, X2, Y2 int32 }

// PlaneDamageClips is a kernel property blob holding one or more damageRect
// entries for FB_DAMAGE_CLIPS. It is refcounted because the same clips are
// frequently reused across consecutive commits of an unchanged region.
type PlaneDamageClips struct {
	device  *Device
	blobID  uint32
	refs    int32
}

// FromDamage builds a damage-clip blob for plane updates covering src
// (fractional buffer-space source rect) scaled into dst (physical
// destination rect), per §4.2: each physical damage rect is translated and
// scaled into buffer space and rounded outward so the clip never undershoots
// the true damaged region. An empty damage list yields (nil, nil) -- no blob
// is created and the caller should omit FB_DAMAGE_CLIPS entirely.
func FromDamage(device *Device, src RectF, dst RectI, damage []RectI) (*PlaneDamageClips, error) {
	if len(damage) == 0 {
		return nil, nil
	}
	if dst.Size.W == 0 || dst.Size.H == 0 {
		return nil, newError(KindUnsupportedPlaneConfiguration, "damage_clips",
			errDstZeroSize)
	}
	scaleX := src.Size.W / float64(dst.Size.W)
	scaleY := src.Size.H / float64(dst.Size.H)

	rects := make([]damageRect, len(damage))
	for i, r := range damage {
		// Translate from physical dst-relative to buffer-relative, then
		// scale, then offset by the source rect's own origin.
		lx := float64(r.Loc.X-dst.Loc.X)*scaleX + src.Loc.X
		ly := float64(r.Loc.Y-dst.Loc.Y)*scaleY + src.Loc.Y
		w := float64(r.Size.W) * scaleX
		h := float64(r.Size.H) * scaleY

		x1 := saturateFloorI32(lx)
		y1 := saturateFloorI32(ly)
		x2 := saturateAddCeilI32(x1, lx, w)
		y2 := saturateAddCeilI32(y1, ly, h)
		rects[i] = damageRect{X1: x1, Y1: y1, X2: x2, Y2: y2}
	}

	buf := make([]byte, len(rects)*int(unsafe.Sizeof(damageRect{})))
	for i, r := range rects {
		off := i * 16
		binary.LittleEndian.PutUint32(buf[off:], uint32(r.X1))
		binary.LittleEndian.PutUint32(buf[off+4:], uint32(r.Y1))
		binary.LittleEndian.PutUint32(buf[off+8:], uint32(r.X2))
		binary.LittleEndian.PutUint32(buf[off+12:], uint32(r.Y2))
	}

	blobID, err := device.createPropertyBlob(buf)
	if err != nil {
		return nil, err
	}
	clips := &PlaneDamageClips{device: device, blobID: blobID}
	atomic.StoreInt32(&clips.refs, 1)
	return clips, nil
}

// BlobID returns the kernel blob id to set on FB_DAMAGE_CLIPS.
func (c *PlaneDamageClips) BlobID() uint32 {
	if c == nil {
		return 0
	}
	return c.blobID
}

// Retain increments the refcount; a commit reusing the same damage clips
// across frames calls this instead of rebuilding the blob.
func (c *PlaneDamageClips) Retain() *PlaneDamageClips {
	if c == nil {
		return nil
	}
	atomic.AddInt32(&c.refs, 1)
	return c
}

// Release decrements the refcount, destroying the kernel blob once it hits
// zero.
func (c *PlaneDamageClips) Release() error {
	if c == nil {
		return nil
	}
	if atomic.AddInt32(&c.refs, -1) > 0 {
		return nil
	}
	return c.device.destroyPropertyBlob(c.blobID)
}

func (d *Device) createPropertyBlob(data []byte) (uint32, error) {
	req := drmModeCreateBlob{
		Data:   uint64(uintptr(unsafe.Pointer(&data[0]))),
		Length: uint32(len(data)),
	}
	if err := d.ioctl("create_prop_blob", ioctlModeCreatePropBlob, unsafe.Pointer(&req)); err != nil {
		return 0, err
	}
	return req.BlobID, nil
}

func (d *Device) destroyPropertyBlob(id uint32) error {
	req := drmModeDestroyBlob{BlobID: id}
	return d.ioctl("destroy_prop_blob", ioctlModeDestroyPropBlob, unsafe.Pointer(&req))
}

func saturateFloorI32(v float64) int32 {
	f := math.Floor(v)
	if f > math.MaxInt32 {
		return math.MaxInt32
	}
	if f < math.MinInt32 {
		return math.MinInt32
	}
	return int32(f)
}

func saturateAddCeilI32(_ int32, origin, extent float64) int32 {
	f := math.Ceil(origin + extent)
	if f > math.MaxInt32 {
		return math.MaxInt32
	}
	if f < math.MinInt32 {
		return math.MinInt32
	}
	return int32(f)
}
