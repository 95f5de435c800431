package kms

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Device owns an open DRM node fd and the capability probe results taken at
// open time (§2.1). All ioctl traffic for a surface passes through it.
type Device struct {
	path string
	fd   int
	log  *slog.Logger

	mu     sync.Mutex
	active bool

	hasAtomic           bool
	hasUniversalPlanes  bool
	hasAddFB2Modifiers  bool

	// doIoctl is the real syscall by default; tests replace it with a fake
	// that records requests and returns canned errno values, since there is
	// no way to exercise the kernel ABI in CI.
	doIoctl func(req uintptr, arg unsafe.Pointer) error
}

// Open opens the DRM node at path, becomes DRM master, and requests
// universal planes and (if available) the atomic KMS ABI.
func Open(path string, log *slog.Logger) (*Device, error) {
	if log == nil {
		log = slog.Default()
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CLOEXEC, 0)
	if err != nil {
		return nil, newDeviceError(KindAccess, "open", path, err)
	}

	d := &Device{path: path, fd: int(f.Fd()), log: log, active: true}
	d.doIoctl = func(req uintptr, arg unsafe.Pointer) error {
		return rawIoctl(uintptr(d.fd), req, arg)
	}

	if err := d.ioctl("set_master", ioctlSetMaster, nil); err != nil {
		f.Close()
		return nil, err
	}
	if err := d.setClientCap(clientCapUniversalPlanes, 1); err != nil {
		f.Close()
		return nil, err
	}
	d.hasUniversalPlanes = true

	if err := d.setClientCap(clientCapAtomic, 1); err == nil {
		d.hasAtomic = true
	}
	if v, err := d.getCap(capAddFB2Modifiers); err == nil && v != 0 {
		d.hasAddFB2Modifiers = true
	}

	log.Info("opened drm device", "path", path, "atomic", d.hasAtomic,
		"addfb2_modifiers", d.hasAddFB2Modifiers)
	return d, nil
}

// Close drops DRM master and closes the fd.
func (d *Device) Close() error {
	_ = d.ioctl("drop_master", ioctlDropMaster, nil)
	return unix.Close(d.fd)
}

// Path returns the device node this Device was opened from.
func (d *Device) Path() string { return d.path }

// HasAtomic reports whether the kernel driver accepted DRM_CLIENT_CAP_ATOMIC.
func (d *Device) HasAtomic() bool { return d.hasAtomic }

// HasAddFB2Modifiers reports whether ADDFB2 with explicit modifiers, and the
// IN_FORMATS plane property, are supported.
func (d *Device) HasAddFB2Modifiers() bool { return d.hasAddFB2Modifiers }

// Activate flips the device's active flag in response to an external
// session's activate/pause signal (§1, §5). It performs no VT switching or
// seat management itself -- that remains the session integration's job.
// While inactive, Commit and PageFlip fail with KindDeviceInactive before
// issuing any ioctl; TestState does not check this flag.
func (d *Device) Activate(active bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active == active {
		return
	}
	d.active = active
	d.log.Info("drm device activation changed", "path", d.path, "active", active)
}

// IsActive reports the current activation state.
func (d *Device) IsActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func (d *Device) requireActive(op string) error {
	if !d.IsActive() {
		return newDeviceError(KindDeviceInactive, op, d.path, errors.New("session inactive"))
	}
	return nil
}

// ioctl issues req with arg and wraps any failure as KindAccess, keeping the
// raw errno in Err. Finer §7 classification (EBUSY/EINVAL/EACCES/EPERM) is
// left to callers; the atomic engine's submit is the one that does it.
func (d *Device) ioctl(op string, req uintptr, arg unsafe.Pointer) error {
	if err := d.doIoctl(req, arg); err != nil {
		return newDeviceError(KindAccess, op, d.path, err)
	}
	return nil
}

// classify maps a raw ioctl error to the Kind a commit/test caller should
// see, per §7's EBUSY/EINVAL/EACCES/EPERM rules. It is used by the atomic
// engine's TEST_ONLY path, which needs finer distinctions than plain ioctl().
func classify(op, device string, err error) *Error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, unix.EBUSY):
		return newDeviceError(KindTestFailed, op, device, err)
	case errors.Is(err, unix.EINVAL):
		return newDeviceError(KindUnsupportedPlaneConfiguration, op, device, err)
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		return newDeviceError(KindDeviceInactive, op, device, err)
	default:
		return newDeviceError(KindAccess, op, device, err)
	}
}

func (d *Device) setClientCap(cap, value uint64) error {
	req := drmSetClientCap{Capability: cap, Value: value}
	return d.ioctl("set_client_cap", ioctlSetClientCap, unsafe.Pointer(&req))
}

func (d *Device) getCap(cap uint64) (uint64, error) {
	req := drmGetCap{Capability: cap}
	if err := d.ioctl("get_cap", ioctlGetCap, unsafe.Pointer(&req)); err != nil {
		return 0, err
	}
	return req.Value, nil
}

func (d *Device) fmtPath() string { return fmt.Sprintf("%s(fd=%d)", d.path, d.fd) }
