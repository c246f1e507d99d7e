// This file provides:
// - Sentinel errors for all error conditions
// - Error category checking functions
// - ErrorToStatus mapping for the HTTP API
// - Error wrapping utilities
// - ValidationErrors collection

package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ============================================================================
// Sentinel errors for common conditions
// ============================================================================

var (
	// Payload errors (ingestion boundary)
	ErrDecode        = errors.New("malformed payload")
	ErrMissingField  = errors.New("missing required field")
	ErrOutOfRange    = errors.New("value out of range")
	ErrInvalidType   = errors.New("invalid field type")
	ErrInvalidConfig = errors.New("invalid configuration")

	// Request errors (query boundary)
	ErrInvalidLimit     = errors.New("invalid limit")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNotFound         = errors.New("not found")

	// Transport errors
	ErrConnectionFailed = errors.New("connection failed")
	ErrNotConnected     = errors.New("not connected")
	ErrSubscribeFailed  = errors.New("subscribe failed")
	ErrTimeout          = errors.New("timeout")

	// Admin errors
	ErrNotAuthorized = errors.New("not authorized")
	ErrDisabled      = errors.New("operation disabled")

	// Internal errors
	ErrInternal = errors.New("internal error")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// New is a convenience wrapper for errors.New
var New = errors.New

// IsDecode returns true if err is a payload decoding error.
func IsDecode(err error) bool {
	return errors.Is(err, ErrDecode) ||
		errors.Is(err, ErrInvalidType)
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrOutOfRange) ||
		errors.Is(err, ErrInvalidConfig)
}

// IsRequest returns true if err was caused by bad caller input.
func IsRequest(err error) bool {
	return errors.Is(err, ErrInvalidLimit) ||
		errors.Is(err, ErrInvalidParameter)
}

// IsTransport returns true if err is a transport-level error.
func IsTransport(err error) bool {
	return errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrNotConnected) ||
		errors.Is(err, ErrSubscribeFailed) ||
		errors.Is(err, ErrTimeout)
}

// IsRetriable returns true if the error is potentially retriable.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrSubscribeFailed) ||
		errors.Is(err, ErrTimeout)
}

// ============================================================================
// Error to HTTP status mapping
// ============================================================================

// ErrorToStatus maps a sentinel error to an HTTP status code.
func ErrorToStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}

	switch {
	case IsRequest(err), IsValidation(err), IsDecode(err):
		return http.StatusBadRequest
	case Is(err, ErrNotFound):
		return http.StatusNotFound
	case Is(err, ErrNotAuthorized):
		return http.StatusUnauthorized
	case Is(err, ErrDisabled):
		return http.StatusForbidden
	case IsTransport(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewOutOfRange creates an out-of-range error for a bounded field.
func NewOutOfRange(field string, value float64, bound string) error {
	return fmt.Errorf("%s=%g must be %s: %w", field, value, bound, ErrOutOfRange)
}

// NewInvalidParameter creates a request parameter error.
func NewInvalidParameter(name, reason string) error {
	return fmt.Errorf("%s: %s: %w", name, reason, ErrInvalidParameter)
}

// NewValidation creates a config validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewValidation(field, reason))
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if !v.HasErrors() {
		return nil
	}
	return v
}

// Unwrap returns the collected errors for errors.Is/As support.
func (v *ValidationErrors) Unwrap() []error {
	return v.Errors
}
