package kms

import (
	"errors"
	"fmt"
)

// Kind classifies an Error the way spec.md §7 requires: an exhaustive,
// closed set a caller can switch on to decide retry/fatal/ignore.
type Kind int

const (
	// KindAccess is an ioctl failure with operation/device/errno context.
	KindAccess Kind = iota
	// KindDeviceInactive means the session is paused or DRM master was lost.
	KindDeviceInactive
	// KindNoPlane means a commit was attempted with no plane state at all.
	KindNoPlane
	// KindNonPrimaryPlane means an operation needed the primary plane but
	// got a different one.
	KindNonPrimaryPlane
	// KindNoFramebuffer means a plane's config was nil where one is required.
	KindNoFramebuffer
	// KindUnsupportedPlaneConfiguration means a legacy-only restriction was
	// violated, or a driver doesn't expose a required property.
	KindUnsupportedPlaneConfiguration
	// KindIncompatibleEncoder means no encoder links a connector to the CRTC.
	KindIncompatibleEncoder
	// KindModeUnsupported means the chosen mode isn't in the connector's list.
	KindModeUnsupported
	// KindTestFailed means an atomic TEST_ONLY commit was rejected.
	KindTestFailed
)

func (k Kind) String() string {
	switch k {
	case KindAccess:
		return "access"
	case KindDeviceInactive:
		return "device inactive"
	case KindNoPlane:
		return "no plane"
	case KindNonPrimaryPlane:
		return "non-primary plane"
	case KindNoFramebuffer:
		return "no framebuffer"
	case KindUnsupportedPlaneConfiguration:
		return "unsupported plane configuration"
	case KindIncompatibleEncoder:
		return "incompatible encoder"
	case KindModeUnsupported:
		return "mode unsupported"
	case KindTestFailed:
		return "test failed"
	default:
		return "unknown"
	}
}

// Error is the single error type this package returns. It always carries a
// Kind, and ioctl-origin errors additionally carry the failing operation,
// device path, and underlying errno.
type Error struct {
	Kind   Kind
	Op     string
	Device string
	Err    error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Kind.String()
	}
	if e.Device != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Device, e.Kind, e.Err)
		}
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Device, e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func newDeviceError(kind Kind, op, device string, err error) *Error {
	return &Error{Kind: kind, Op: op, Device: device, Err: err}
}

// KindOf reports the Kind of err if it is (or wraps) a *Error, and false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Is lets callers write errors.Is(err, kms.ErrTestFailed) etc. against the
// sentinel Kind values below instead of unwrapping Kind manually.
func (e *Error) Is(target error) bool {
	k, ok := target.(kindSentinel)
	return ok && e.Kind == Kind(k)
}

type kindSentinel Kind

// Sentinels usable with errors.Is.
var (
	ErrAccess                       error = kindSentinel(KindAccess)
	ErrDeviceInactive               error = kindSentinel(KindDeviceInactive)
	ErrNoPlane                      error = kindSentinel(KindNoPlane)
	ErrNonPrimaryPlane              error = kindSentinel(KindNonPrimaryPlane)
	ErrNoFramebuffer                error = kindSentinel(KindNoFramebuffer)
	ErrUnsupportedPlaneConfiguration error = kindSentinel(KindUnsupportedPlaneConfiguration)
	ErrIncompatibleEncoder          error = kindSentinel(KindIncompatibleEncoder)
	ErrModeUnsupported              error = kindSentinel(KindModeUnsupported)
	ErrTestFailed                   error = kindSentinel(KindTestFailed)
)

func (k kindSentinel) Error() string { return Kind(k).String() }
