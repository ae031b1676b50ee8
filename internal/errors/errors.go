// Package errors defines the driver error types used throughout EdgeLUN.
package errors

import (
	stderrors "errors"
	"fmt"
)

// DriverError represents a volume-driver error with a machine-readable code,
// a human-readable message, and the HTTP status code the API surface maps it to.
type DriverError struct {
	// Code is the driver error code (e.g., "UnknownVolume", "LunSpaceExhausted").
	Code string
	// Message is a human-readable description of the error.
	Message string
	// HTTPStatus is the HTTP status code to return (e.g., 404, 409).
	HTTPStatus int
	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface for DriverError.
func (e *DriverError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("DriverError %s (%d): %s: %v", e.Code, e.HTTPStatus, e.Message, e.Cause)
	}
	return fmt.Sprintf("DriverError %s (%d): %s", e.Code, e.HTTPStatus, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is and errors.As.
func (e *DriverError) Unwrap() error {
	return e.Cause
}

// Is matches DriverErrors by code, so copies produced by Wrap or WithMessage
// still satisfy errors.Is against the predeclared value.
func (e *DriverError) Is(target error) bool {
	var de *DriverError
	if !stderrors.As(target, &de) {
		return false
	}
	return e.Code == de.Code
}

// Wrap returns a copy of the DriverError carrying cause as its underlying error.
func (e *DriverError) Wrap(cause error) *DriverError {
	cp := *e
	cp.Cause = cause
	return &cp
}

// WithMessage returns a copy of the DriverError with the message replaced.
func (e *DriverError) WithMessage(format string, args ...any) *DriverError {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

// Pre-defined driver errors for common conditions.
var (
	// ErrBackendUnreachable is returned when a management REST call fails at
	// the transport or HTTP layer.
	ErrBackendUnreachable = &DriverError{
		Code:       "BackendUnreachable",
		Message:    "The storage backend could not be reached",
		HTTPStatus: 502,
	}

	// ErrUnknownVolume is returned when a volume name is absent from the name map.
	ErrUnknownVolume = &DriverError{
		Code:       "UnknownVolume",
		Message:    "The specified volume is not present in the bucket name map",
		HTTPStatus: 404,
	}

	// ErrLunSpaceExhausted is returned when all 255 LUN numbers are in use.
	ErrLunSpaceExhausted = &DriverError{
		Code:       "LunSpaceExhausted",
		Message:    "All 255 LUN numbers are in use",
		HTTPStatus: 507,
	}

	// ErrVolumeCreateFailed wraps a REST failure partway through a volume
	// creation sequence.
	ErrVolumeCreateFailed = &DriverError{
		Code:       "VolumeCreateFailed",
		Message:    "The backend failed to create the volume",
		HTTPStatus: 502,
	}

	// ErrVolumeDeleteFailed wraps a REST failure partway through a volume
	// deletion sequence.
	ErrVolumeDeleteFailed = &DriverError{
		Code:       "VolumeDeleteFailed",
		Message:    "The backend failed to delete the volume",
		HTTPStatus: 502,
	}

	// ErrStaleNameMap is returned when a versioned name-map write loses the
	// race against a concurrent writer.
	ErrStaleNameMap = &DriverError{
		Code:       "StaleNameMap",
		Message:    "The bucket name map was modified by another writer",
		HTTPStatus: 409,
	}

	// ErrUnsupported is returned by operations the driver deliberately does
	// not implement (backup and restore).
	ErrUnsupported = &DriverError{
		Code:       "Unsupported",
		Message:    "The requested operation is not supported by this driver",
		HTTPStatus: 501,
	}

	// ErrVolumeExists is returned when creating a volume whose name is
	// already mapped.
	ErrVolumeExists = &DriverError{
		Code:       "VolumeExists",
		Message:    "A volume with the specified name already exists",
		HTTPStatus: 409,
	}

	// ErrInvalidRequest is returned by the API surface for malformed request
	// bodies or parameters.
	ErrInvalidRequest = &DriverError{
		Code:       "InvalidRequest",
		Message:    "Invalid Request",
		HTTPStatus: 400,
	}

	// ErrInternalError is returned for unexpected internal failures.
	ErrInternalError = &DriverError{
		Code:       "InternalError",
		Message:    "We encountered an internal error. Please try again.",
		HTTPStatus: 500,
	}
)
