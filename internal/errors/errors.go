// Package errors provides the error definitions shared by the whole project.
//
// This file provides:
//   - Sentinel errors for all error conditions
//   - Error category checking functions
//   - ErrorToStatus mapping for the HTTP API
//   - Error wrapping utilities
//   - ValidationErrors for configuration checks
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Read-time errors. Any of these aborts the active traversal.
	ErrStoreIO        = errors.New("store i/o error")
	ErrLengthMismatch = errors.New("value/timestamp length mismatch")

	// Caller errors
	ErrInvalidBatchSize = errors.New("batch size must be positive")
	ErrInvalidRange     = errors.New("invalid slice range")

	// Store errors
	ErrArrayNotFound    = errors.New("array not found")
	ErrUnsupportedDType = errors.New("unsupported dtype")
	ErrUnsupportedStore = errors.New("unsupported store")
	ErrCorruptChunk     = errors.New("corrupt chunk")

	// Not found errors
	ErrNotFound          = errors.New("not found")
	ErrEpisodeNotFound   = errors.New("episode not found")
	ErrEpisodeURLMissing = errors.New("episode url not found")

	// Recording errors
	ErrRecordingExists = errors.New("recording already exists")
	ErrPortInUse       = errors.New("port already in use")
	ErrNoFreePort      = errors.New("no free recording port")
	ErrRecordingClosed = errors.New("recording is closed")

	// Request errors
	ErrRateLimited = errors.New("too many failed requests")

	// Validation errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingField  = errors.New("missing required field")

	// Wire errors
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	ErrMalformed     = errors.New("malformed frame")
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

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrEpisodeNotFound) ||
		errors.Is(err, ErrEpisodeURLMissing) ||
		errors.Is(err, ErrArrayNotFound)
}

// IsFatalRead returns true if err must abort a traversal.
func IsFatalRead(err error) bool {
	return errors.Is(err, ErrStoreIO) ||
		errors.Is(err, ErrLengthMismatch)
}

// IsValidation returns true if err is a validation or caller error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidBatchSize) ||
		errors.Is(err, ErrInvalidRange)
}

// ============================================================================
// Error to HTTP status mapping
// ============================================================================

// ErrorToStatus maps a sentinel error to an HTTP status code.
func ErrorToStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsNotFound(err):
		return http.StatusNotFound
	case IsValidation(err):
		return http.StatusBadRequest
	case Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case Is(err, ErrNoFreePort):
		return http.StatusServiceUnavailable
	case Is(err, ErrRecordingExists), Is(err, ErrPortInUse):
		return http.StatusConflict
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

// StoreIO marks err as a store failure while keeping the original error
// reachable through errors.Is/As. It returns nil for a nil err and leaves
// errors already marked untouched.
func StoreIO(err error, op, name string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreIO) {
		return err
	}
	return fmt.Errorf("%s %q: %w: %w", op, name, ErrStoreIO, err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewNotFound creates a not-found error with context.
func NewNotFound(entityType, identifier string) error {
	return fmt.Errorf("%s '%s': %w", entityType, identifier, ErrNotFound)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewLengthMismatch reports a value/timestamp pair that disagree in size.
func NewLengthMismatch(channel string, values, timestamps int) error {
	return fmt.Errorf("channel %q: %d values vs %d timestamps: %w",
		channel, values, timestamps, ErrLengthMismatch)
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
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns the first error for errors.Is/As support.
func (v *ValidationErrors) Unwrap() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v.Errors[0]
}
