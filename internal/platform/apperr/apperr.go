// Package apperr defines the error taxonomy shared by the storage adapters,
// the domain services and the HTTP surface.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound reports a missing entity id, either on update or as a
	// foreign reference of a new record. Terminal for the operation.
	ErrNotFound = errors.New("not found")

	// ErrPatientNotFound reports that neither the local store nor the HR
	// directory knows the requested identification.
	ErrPatientNotFound = errors.New("patient not found")

	// ErrUnknownCode reports a diagnosis code that is absent or inactive in
	// the catalog. Callers degrade to caller-supplied text.
	ErrUnknownCode = errors.New("unknown diagnosis code")

	// ErrStorageUnavailable reports a transient backend failure (I/O, lock
	// contention, malformed workbook, driver error). Safe to retry.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrDirectoryUnavailable reports a transport failure talking to the
	// external HR directory. Safe to retry.
	ErrDirectoryUnavailable = errors.New("hr directory unavailable")

	// ErrConflict reports a collision on a unique field.
	ErrConflict = errors.New("conflict")
)

// ValidationError rejects malformed input before any storage call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// Validation builds a *ValidationError for field.
func Validation(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err carries a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Retryable reports whether the caller may retry the whole operation.
func Retryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable) || errors.Is(err, ErrDirectoryUnavailable)
}

// HTTPStatus maps err onto the status code the HTTP surface returns.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, ErrPatientNotFound), errors.Is(err, ErrNotFound), errors.Is(err, ErrUnknownCode):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case Retryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
