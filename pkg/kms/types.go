// Package kms drives a single scan-out pipeline on a DRM device: one CRTC,
// one primary plane, optional overlay/cursor planes, a set of connectors and
// a display mode, behind a single Surface that transparently supports both
// the atomic and legacy KMS ABIs.
package kms

import "fmt"

// ObjectType mirrors the DRM_MODE_OBJECT_* tags used by GETPROPERTY and
// OBJ_GETPROPERTIES to disambiguate which kind of object an id refers to.
type ObjectType uint32

const (
	ObjectCRTC      ObjectType = 0xcccccccc
	ObjectConnector ObjectType = 0xc0c0c0c0
	ObjectEncoder   ObjectType = 0xe0e0e0e0
	ObjectMode      ObjectType = 0xdededede
	ObjectProperty  ObjectType = 0xb0b0b0b0
	ObjectFB        ObjectType = 0xfbfbfbfb
	ObjectBlob      ObjectType = 0xbbbbbbbb
	ObjectPlane     ObjectType = 0xeeeeeeee
)

// PlaneType classifies a plane the way the kernel's "type" enum property
// does: overlay (compositable but not primary/cursor), primary (the one
// every CRTC always has), or cursor (hardware cursor, linear-only on many
// drivers).
type PlaneType int

const (
	PlaneTypeOverlay PlaneType = iota
	PlaneTypePrimary
	PlaneTypeCursor
)

func (t PlaneType) String() string {
	switch t {
	case PlaneTypePrimary:
		return "primary"
	case PlaneTypeCursor:
		return "cursor"
	default:
		return "overlay"
	}
}

// Transform describes a plane's rotation/reflection, mapped onto the
// kernel's DRM_MODE_ROTATE_*/REFLECT_* bitmask when marshalled.
type Transform int

const (
	TransformNormal Transform = iota
	Transform90
	Transform180
	Transform270
	TransformFlipped
	TransformFlipped90
	TransformFlipped180
	TransformFlipped270
)

// Point is an integer-coordinate point in physical (CRTC) space.
type Point struct{ X, Y int32 }

// Size is an integer width/height in physical (CRTC) space.
type Size struct{ W, H int32 }

// RectI is an integer rectangle in physical (CRTC) coordinates.
type RectI struct {
	Loc  Point
	Size Size
}

// PointF is a floating-point point in buffer (source) space.
type PointF struct{ X, Y float64 }

// SizeF is a floating-point width/height in buffer (source) space.
type SizeF struct{ W, H float64 }

// RectF is a floating-point rectangle in buffer (source) coordinates,
// as accepted from callers before 16.16 fixed-point marshalling.
type RectF struct {
	Loc  PointF
	Size SizeF
}

// Mode is a single display timing, mirroring struct drm_mode_modeinfo.
type Mode struct {
	Clock      uint32
	Hdisplay   uint16
	HsyncStart uint16
	HsyncEnd   uint16
	Htotal     uint16
	Hskew      uint16
	Vdisplay   uint16
	VsyncStart uint16
	VsyncEnd   uint16
	Vtotal     uint16
	Vscan      uint16
	Vrefresh   uint32
	Flags      uint32
	Type       uint32
	Name       string
}

func (m Mode) String() string {
	if m.Name != "" {
		return fmt.Sprintf("%s@%dHz", m.Name, m.Vrefresh)
	}
	return fmt.Sprintf("%dx%d@%dHz", m.Hdisplay, m.Vdisplay, m.Vrefresh)
}

// Equal compares two modes by their timing, not their name string.
func (m Mode) Equal(other Mode) bool {
	return m.Clock == other.Clock &&
		m.Hdisplay == other.Hdisplay && m.HsyncStart == other.HsyncStart &&
		m.HsyncEnd == other.HsyncEnd && m.Htotal == other.Htotal &&
		m.Vdisplay == other.Vdisplay && m.VsyncStart == other.VsyncStart &&
		m.VsyncEnd == other.VsyncEnd && m.Vtotal == other.Vtotal &&
		m.Flags == other.Flags
}

// PlaneConfig is a plane's active configuration: where it samples from
// (Src, buffer coordinates), where it lands (Dst, physical coordinates),
// and how it is composited.
type PlaneConfig struct {
	Src         RectF
	Dst         RectI
	Transform   Transform
	Alpha       float64 // 0..1
	DamageClips *PlaneDamageClips
	FB          uint32
}

// PlaneState is the desired state of one plane for a commit: Config nil
// disables the plane.
type PlaneState struct {
	Handle uint32
	Config *PlaneConfig
}

// PipelineState is one snapshot (current or pending) of a surface's mode
// and connector set.
type PipelineState struct {
	Mode       Mode
	Connectors []uint32
}

func (s PipelineState) hasConnector(id uint32) bool {
	for _, c := range s.Connectors {
		if c == id {
			return true
		}
	}
	return false
}

func (s PipelineState) equal(other PipelineState) bool {
	if !s.Mode.Equal(other.Mode) || len(s.Connectors) != len(other.Connectors) {
		return false
	}
	for _, c := range s.Connectors {
		if !other.hasConnector(c) {
			return false
		}
	}
	return true
}

func (s PipelineState) clone() PipelineState {
	conns := make([]uint32, len(s.Connectors))
	copy(conns, s.Connectors)
	return PipelineState{Mode: s.Mode, Connectors: conns}
}

// Format is a single supported (fourcc, modifier) pair for a plane.
type Format struct {
	Fourcc   uint32
	Modifier uint64
}

// Well-known fourcc and modifier values used by the format enumerator's
// fallback paths.
const (
	FourccARGB8888   uint32 = 0x34325241 // 'AR24' little-endian
	ModifierInvalid  uint64 = 0x00ffffffffffffff
	ModifierLinear   uint64 = 0
)
