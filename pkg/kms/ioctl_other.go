//go:build !linux

package kms

import (
	"fmt"
	"unsafe"
)

func rawIoctl(fd uintptr, req uintptr, arg unsafe.Pointer) error {
	return fmt.Errorf("kms: DRM ioctls are only supported on Linux")
}
