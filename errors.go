package gofat

import (
	"errors"
	"fmt"
	"syscall"
)

// DriverError is a wrapper around a system errno code, with a customizable
// message and an optional wrapped cause. It implements the `error` interface
// and supports errors.Is/errors.As against both the errno sentinel and the
// wrapped cause.
type DriverError struct {
	ErrnoCode syscall.Errno
	message   string
	cause     error
}

// Error implements the `error` interface.
func (e *DriverError) Error() string {
	switch {
	case e.message != "" && e.cause != nil:
		return fmt.Sprintf("%s: %s", e.message, e.cause.Error())
	case e.message != "":
		return e.message
	case e.cause != nil:
		return fmt.Sprintf("%s: %s", e.ErrnoCode.Error(), e.cause.Error())
	default:
		return e.ErrnoCode.Error()
	}
}

// Unwrap allows errors.Is/errors.As to see through to both the errno sentinel
// and any wrapped cause.
func (e *DriverError) Unwrap() []error {
	if e.cause != nil {
		return []error{e.ErrnoCode, e.cause}
	}
	return []error{e.ErrnoCode}
}

// Is reports whether this error should be treated as equivalent to target,
// comparing by errno code so that two *DriverError values built from the same
// sentinel but with different messages still compare equal.
func (e *DriverError) Is(target error) bool {
	var other *DriverError
	if errors.As(target, &other) {
		return other.ErrnoCode == e.ErrnoCode
	}
	return errors.Is(e.ErrnoCode, target)
}

// WithMessage returns a copy of the error with a custom message, which Error()
// returns in place of the underlying errno text.
func (e *DriverError) WithMessage(message string) *DriverError {
	return &DriverError{ErrnoCode: e.ErrnoCode, message: message, cause: e.cause}
}

// Wrap returns a copy of the error with `cause` attached so that
// errors.Is(result, cause) holds in addition to errors.Is(result, e).
func (e *DriverError) Wrap(cause error) *DriverError {
	return &DriverError{ErrnoCode: e.ErrnoCode, message: e.message, cause: cause}
}

// NewDriverError creates a new DriverError with a default message derived
// from the system's error code.
func NewDriverError(errnoCode syscall.Errno) *DriverError {
	return &DriverError{ErrnoCode: errnoCode}
}

// NewDriverErrorWithMessage creates a new DriverError from a system error
// code with a custom message.
func NewDriverErrorWithMessage(errnoCode syscall.Errno, message string) *DriverError {
	return &DriverError{ErrnoCode: errnoCode, message: message}
}

// Predefined sentinel errors covering the conditions the driver layer is
// expected to surface. Drivers should prefer these over constructing raw
// DriverError values so that callers can reliably errors.Is() against them.
var (
	ErrBlockDeviceRequired = NewDriverErrorWithMessage(syscall.EINVAL, "block device required")
	ErrExists              = NewDriverErrorWithMessage(syscall.EEXIST, "file exists")
	ErrNotExist            = NewDriverErrorWithMessage(syscall.ENOENT, "no such file or directory")
	ErrIsDirectory         = NewDriverErrorWithMessage(syscall.EISDIR, "is a directory")
	ErrNotDirectory        = NewDriverErrorWithMessage(syscall.ENOTDIR, "not a directory")
	ErrDirectoryNotEmpty   = NewDriverErrorWithMessage(syscall.ENOTEMPTY, "directory not empty")
	ErrReadOnlyFileSystem  = NewDriverErrorWithMessage(syscall.EROFS, "read-only file system")
	ErrPermissionDenied    = NewDriverErrorWithMessage(syscall.EACCES, "permission denied")
	ErrNoSpaceLeft         = NewDriverErrorWithMessage(syscall.ENOSPC, "no space left on device")
	ErrInvalidArgument     = NewDriverErrorWithMessage(syscall.EINVAL, "invalid argument")
	ErrIOFailed            = NewDriverErrorWithMessage(syscall.EIO, "input/output error")
	ErrNotImplemented      = NewDriverErrorWithMessage(syscall.ENOSYS, "function not implemented")
	ErrNameTooLong         = NewDriverErrorWithMessage(syscall.ENAMETOOLONG, "file name too long")
	ErrBusy                = NewDriverErrorWithMessage(syscall.EBUSY, "device or resource busy")

	// ErrVolumeCorrupted is gofat-specific: it has no direct syscall.Errno
	// analogue but is reported as EIO so callers still see an I/O failure.
	ErrVolumeCorrupted = NewDriverErrorWithMessage(syscall.EIO, "file system volume is corrupted")
)
