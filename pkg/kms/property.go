package kms

import (
	"fmt"
	"unsafe"
)

// property is one object property's id and its value at load time. The
// value is only meaningful for immutable/blob properties such as
// IN_FORMATS; mutable properties are re-read through a fresh
// OBJ_GETPROPERTIES call when their current value matters.
type property struct {
	ID    uint32
	Value uint64
}

// propertyCache resolves property names to ids (and load-time values) for
// one object, populated once per object: at surface init for the CRTC, and
// on first use for each connector and plane (§4.3 design note: property
// ids are driver- and object-specific, so every surface looks them up for
// itself rather than hardcoding them).
type propertyCache map[string]property

// loadProperties runs OBJ_GETPROPERTIES followed by one GETPROPERTY call
// per id, mirroring the teacher's count-then-fill ioctl idiom in
// getResources/getConnectorStatus.
func loadProperties(d *Device, objID uint32, objType ObjectType) (propertyCache, error) {
	var req drmModeObjGetProperties
	req.ObjID = objID
	req.ObjType = uint32(objType)
	if err := d.ioctl("obj_get_properties", ioctlModeObjGetProperties, unsafe.Pointer(&req)); err != nil {
		return nil, err
	}
	if req.CountProps == 0 {
		return propertyCache{}, nil
	}

	ids := make([]uint32, req.CountProps)
	vals := make([]uint64, req.CountProps)
	req.PropsPtr = uint64(uintptr(unsafe.Pointer(&ids[0])))
	req.PropValuesPtr = uint64(uintptr(unsafe.Pointer(&vals[0])))
	if err := d.ioctl("obj_get_properties", ioctlModeObjGetProperties, unsafe.Pointer(&req)); err != nil {
		return nil, err
	}

	cache := make(propertyCache, len(ids))
	for i, id := range ids {
		var p drmModeGetProperty
		p.PropID = id
		if err := d.ioctl("get_property", ioctlModeGetProperty, unsafe.Pointer(&p)); err != nil {
			return nil, err
		}
		name := cString(p.Name[:])
		cache[name] = property{ID: id, Value: vals[i]}
	}
	return cache, nil
}

func (c propertyCache) id(name string) (uint32, error) {
	p, ok := c[name]
	if !ok {
		return 0, newError(KindUnsupportedPlaneConfiguration, "property_lookup",
			fmt.Errorf("driver does not expose property %q", name))
	}
	return p.ID, nil
}

func (c propertyCache) lookup(name string) (property, bool) {
	p, ok := c[name]
	return p, ok
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
