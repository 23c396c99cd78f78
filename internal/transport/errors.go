package transport

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a failed Send. StatusCode is zero when no HTTP response was
// received (connection failure, timeout, cancellation, open breaker).
type Error struct {
	StatusCode int
	// Status is the reason phrase, e.g. "Unauthorized".
	Status string
	// Body is the raw response body, kept for upstream envelope parsing.
	Body []byte
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transport: HTTP %d %s", e.StatusCode, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("transport: %v", e.Err)
	}
	return "transport: request failed"
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsHTTP reports whether the server answered with a status code.
func (e *Error) IsHTTP() bool {
	return e.StatusCode > 0
}

// Temporary reports whether the same request may succeed later:
// connection-level failures, 429 and 5xx.
func (e *Error) Temporary() bool {
	if e.StatusCode == 0 {
		return !errors.Is(e.Err, errCancelled)
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

var errCancelled = errors.New("request cancelled")

func newStatusError(code int, status string, body []byte) *Error {
	return &Error{StatusCode: code, Status: status, Body: body}
}

func newConnectionError(err error) *Error {
	return &Error{Err: err}
}

func newCancelledError(cause error) *Error {
	return &Error{Err: fmt.Errorf("%w: %w", errCancelled, cause)}
}

// AsError extracts a *Error from err.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
