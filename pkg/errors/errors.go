// Package errors defines the sentinel error values shared across the engine
// and an AppError wrapper that carries an HTTP status for the transport layer.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrDocumentNotFound is returned when a document lookup finds nothing.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrTermNotFound is returned when a term lookup finds nothing.
	ErrTermNotFound = errors.New("term not found")
	// ErrEmptyDocument marks a file whose text normalizes to zero tokens;
	// such a file is not indexable and the operation is a no-op.
	ErrEmptyDocument = errors.New("document has no indexable terms")
	// ErrMalformedQuery marks a postfix sequence with insufficient operands.
	// It indicates a parser contract violation, not a user error.
	ErrMalformedQuery = errors.New("malformed query token sequence")
	// ErrInvalidInput covers bad caller-supplied parameters.
	ErrInvalidInput = errors.New("invalid input")
	// ErrStorage wraps persistence failures surfaced by the storage layer.
	ErrStorage = errors.New("storage error")
	// ErrInternal is the catch-all for unexpected conditions.
	ErrInternal = errors.New("internal error")
)

// AppError pairs a sentinel error with a human-readable message and the HTTP
// status the transport layer should answer with.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New wraps a sentinel error into an AppError.
func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Newf is New with printf-style message formatting.
func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// HTTPStatusCode maps an error to the HTTP status the handler should return.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrDocumentNotFound), errors.Is(err, ErrTermNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrEmptyDocument), errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrStorage), errors.Is(err, ErrMalformedQuery):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
