package kms

import (
	"log/slog"
	"unsafe"
)

// newFakeDevice builds a Device whose ioctl traffic is served by handle
// instead of a real syscall, since there is no DRM node to open in CI.
func newFakeDevice(handle func(req uintptr, arg unsafe.Pointer) error) *Device {
	d := &Device{path: "/dev/dri/fake", fd: -1, log: slog.Default(), active: true}
	d.doIoctl = handle
	return d
}
