package kms

import (
	"encoding/binary"
	"unsafe"
)

const inFormatsHeaderSize = 24 // version,flags,count_formats,count_modifiers,formats_offset,modifiers_offset
const inFormatsModifierSize = 24 // modifier(8) + offset(4) + pad(4) + formats_mask(8)

// SupportedFormats enumerates the (fourcc, modifier) pairs plane accepts
// (§4.5). Step 1 seeds the set with every legacy (GETPLANE) format at
// ModifierInvalid. Step 2: drivers exposing ADDFB2_MODIFIERS publish an
// IN_FORMATS blob property that must be read with unaligned loads (the
// blob is a packed C struct, not necessarily 8-byte aligned within the
// kernel's copy); its pairs are unioned into the seeded set rather than
// replacing it. Step 3: when the driver lacks ADDFB2_MODIFIERS and the
// plane is a cursor, ModifierLinear variants of the legacy formats are
// added too, since cursor planes are conventionally linear-only even when
// the driver never says so explicitly. A plane that yields nothing at all
// falls back to a bare (ARGB8888, INVALID) default.
func SupportedFormats(d *Device, planeID uint32, planeType PlaneType) ([]Format, error) {
	legacy, err := legacyPlaneFormats(d, planeID)
	if err != nil {
		return nil, err
	}
	seed := formatsWithModifier(legacy, ModifierInvalid)

	if !d.HasAddFB2Modifiers() {
		if planeType == PlaneTypeCursor {
			seed = unionFormats(seed, formatsWithModifier(legacy, ModifierLinear))
		}
		return defaultIfEmpty(seed), nil
	}

	props, err := loadProperties(d, planeID, ObjectPlane)
	if err != nil {
		return nil, err
	}
	inFormats, ok := props.lookup("IN_FORMATS")
	if !ok || inFormats.Value == 0 {
		return defaultIfEmpty(seed), nil
	}

	blob, err := d.readPropertyBlob(uint32(inFormats.Value))
	if err != nil {
		return nil, err
	}
	blobFormats, err := parseInFormatsBlob(blob)
	if err != nil {
		return nil, err
	}
	return defaultIfEmpty(unionFormats(seed, blobFormats)), nil
}

func formatsWithModifier(fourccs []uint32, mod uint64) []Format {
	out := make([]Format, len(fourccs))
	for i, f := range fourccs {
		out[i] = Format{Fourcc: f, Modifier: mod}
	}
	return out
}

// unionFormats merges b into a, keeping a's order and dropping duplicate
// (fourcc, modifier) pairs.
func unionFormats(a, b []Format) []Format {
	seen := make(map[Format]bool, len(a)+len(b))
	out := make([]Format, 0, len(a)+len(b))
	for _, f := range a {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	for _, f := range b {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

func defaultIfEmpty(formats []Format) []Format {
	if len(formats) == 0 {
		return []Format{{Fourcc: FourccARGB8888, Modifier: ModifierInvalid}}
	}
	return formats
}

func legacyPlaneFormats(d *Device, planeID uint32) ([]uint32, error) {
	req := drmModeGetPlane{PlaneID: planeID}
	if err := d.ioctl("get_plane", ioctlModeGetPlane, unsafe.Pointer(&req)); err != nil {
		return nil, err
	}
	if req.CountFormatTypes == 0 {
		return nil, nil
	}
	fourccs := make([]uint32, req.CountFormatTypes)
	req.FormatTypePtr = uint64(uintptr(unsafe.Pointer(&fourccs[0])))
	if err := d.ioctl("get_plane", ioctlModeGetPlane, unsafe.Pointer(&req)); err != nil {
		return nil, err
	}
	return fourccs, nil
}

func (d *Device) readPropertyBlob(id uint32) ([]byte, error) {
	var req drmModeGetBlob
	req.BlobID = id
	if err := d.ioctl("get_prop_blob", ioctlModeGetPropBlob, unsafe.Pointer(&req)); err != nil {
		return nil, err
	}
	if req.Length == 0 {
		return nil, nil
	}
	buf := make([]byte, req.Length)
	req.Data = uint64(uintptr(unsafe.Pointer(&buf[0])))
	if err := d.ioctl("get_prop_blob", ioctlModeGetPropBlob, unsafe.Pointer(&req)); err != nil {
		return nil, err
	}
	return buf, nil
}

// parseInFormatsBlob walks a drm_format_modifier_blob: a header, an array of
// fourcc codes, and an array of per-modifier records each carrying a
// bitmask of which of those fourccs the modifier applies to. Every field is
// read with explicit little-endian decodes instead of a cast to a Go
// struct, since the blob has no alignment guarantee.
func parseInFormatsBlob(blob []byte) ([]Format, error) {
	if len(blob) < inFormatsHeaderSize {
		return nil, nil
	}
	countFormats := binary.LittleEndian.Uint32(blob[8:])
	countModifiers := binary.LittleEndian.Uint32(blob[12:])
	formatsOffset := binary.LittleEndian.Uint32(blob[16:])
	modifiersOffset := binary.LittleEndian.Uint32(blob[20:])

	fourccs := make([]uint32, 0, countFormats)
	for i := uint32(0); i < countFormats; i++ {
		off := int(formatsOffset) + int(i)*4
		if off+4 > len(blob) {
			break
		}
		fourccs = append(fourccs, binary.LittleEndian.Uint32(blob[off:]))
	}

	var out []Format
	for i := uint32(0); i < countModifiers; i++ {
		off := int(modifiersOffset) + int(i)*inFormatsModifierSize
		if off+inFormatsModifierSize > len(blob) {
			break
		}
		modifier := binary.LittleEndian.Uint64(blob[off:])
		formatOffset := binary.LittleEndian.Uint32(blob[off+8:])
		formatsMask := binary.LittleEndian.Uint64(blob[off+16:])
		for bit := 0; bit < 64; bit++ {
			if formatsMask&(1<<uint(bit)) == 0 {
				continue
			}
			idx := int(formatOffset) + bit
			if idx >= len(fourccs) {
				continue
			}
			out = append(out, Format{Fourcc: fourccs[idx], Modifier: modifier})
		}
	}
	return out, nil
}
