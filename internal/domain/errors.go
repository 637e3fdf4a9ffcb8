package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the five error kinds crossing the core boundary.
var (
	// ErrInvalidArgument signals malformed parameters or bad sort/filter/geo syntax.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrConflict signals a duplicate resource on create-only semantics.
	ErrConflict = errors.New("conflict")
	// ErrForbidden signals an authentication or authorization failure.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrInternal signals a store or hashing failure.
	ErrInternal = errors.New("internal error")
)

// Error carries one of the sentinel kinds together with an actionable message.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Kind }

// NewInvalidArgument creates an invalid-argument error.
func NewInvalidArgument(format string, args ...any) error {
	return &Error{Kind: ErrInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// NewConflict creates a conflict error.
func NewConflict(format string, args ...any) error {
	return &Error{Kind: ErrConflict, Message: fmt.Sprintf(format, args...)}
}

// NewForbidden creates a forbidden error.
func NewForbidden(format string, args ...any) error {
	return &Error{Kind: ErrForbidden, Message: fmt.Sprintf(format, args...)}
}

// NewNotFound creates a not-found error.
func NewNotFound(format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf(format, args...)}
}

// NewInternal creates an internal error.
func NewInternal(format string, args ...any) error {
	return &Error{Kind: ErrInternal, Message: fmt.Sprintf(format, args...)}
}

// HTTPStatus maps an error to its wire status code. Unrecognized errors map to 500.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
