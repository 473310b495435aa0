// Package apperr holds the error kinds shared by the engine packages.
// Callers wrap them with fmt.Errorf("...: %w", ...) and test with errors.Is.
package apperr

import (
	"errors"
	"net/http"
)

var (
	// ErrNotFound indicates the referenced record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition rejects a status change the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrDuplicate rejects a second row for an idempotency key.
	ErrDuplicate = errors.New("duplicate")

	// ErrInvalidConfig rejects configuration that references missing or
	// inactive records (unknown template, unknown staff, bad trigger time).
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrValidation rejects malformed input.
	ErrValidation = errors.New("validation failed")
)

// HTTPStatus maps an error to the status code the REST layer answers with.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidConfig):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
