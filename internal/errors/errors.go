// Package errors provides the error taxonomy shared by the API client, the
// plan store and the scan session.
//
// Three families exist:
//   - TransportError: the request never produced a server answer (network,
//     timeout, undecodable body). Callers may retry.
//   - ServerError: the server answered with a non-success status. Detail is
//     surfaced verbatim.
//   - validation sentinels: rejected locally before any network call.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// NonRetryableError represents an error that should not be retried.
// Operations that encounter this error type should fail immediately
// without retry attempts.
type NonRetryableError struct {
	message string
	cause   error
}

// Error implements the error interface.
func (e *NonRetryableError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying cause error for error unwrapping.
func (e *NonRetryableError) Unwrap() error {
	return e.cause
}

// Is checks if the target error is a NonRetryableError.
func (e *NonRetryableError) Is(target error) bool {
	_, ok := target.(*NonRetryableError)
	return ok
}

// NewNonRetryableError creates a new non-retryable error with a message and optional cause.
func NewNonRetryableError(message string, cause error) error {
	return &NonRetryableError{
		message: message,
		cause:   cause,
	}
}

// WrapNonRetryable wraps an existing error as non-retryable.
func WrapNonRetryable(cause error) error {
	if cause == nil {
		return nil
	}
	return &NonRetryableError{
		message: "request rejected",
		cause:   cause,
	}
}

// IsNonRetryable checks if an error is non-retryable.
func IsNonRetryable(err error) bool {
	if err == nil {
		return false
	}
	var nonRetryableErr *NonRetryableError
	return errors.As(err, &nonRetryableErr)
}

// ServerError is a non-success response from the server.
type ServerError struct {
	StatusCode int
	// Detail is the server-provided reason, if any.
	Detail string
	Op     string
}

func (e *ServerError) Error() string {
	detail := e.Detail
	if detail == "" {
		detail = http.StatusText(e.StatusCode)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: server returned %d: %s", e.Op, e.StatusCode, detail)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, detail)
}

// Message returns what a user should see: the server detail when present.
func (e *ServerError) Message() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("request failed (%d %s)", e.StatusCode, http.StatusText(e.StatusCode))
}

// IsNotFound reports a 404.
func (e *ServerError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// TransportError wraps a failure to obtain a server answer.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError wraps err as a transport failure for op.
func NewTransportError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Op: op, Err: err}
}

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// AsServerError extracts a ServerError from err's chain.
func AsServerError(err error) (*ServerError, bool) {
	var se *ServerError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsNotFound reports whether err carries a 404 from the server.
func IsNotFound(err error) bool {
	se, ok := AsServerError(err)
	return ok && se.IsNotFound()
}

// UserMessage renders err for a notification: server detail verbatim when
// present, otherwise the error text.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if se, ok := AsServerError(err); ok {
		return se.Message()
	}
	return err.Error()
}

// Validation errors, rejected before any network call.
var (
	// ErrConfirmPhraseMismatch is returned when the typed phrase does not match the required one.
	ErrConfirmPhraseMismatch = errors.New("confirmation phrase does not match")

	// ErrNothingSelected is returned when applying a plan with no selected items.
	ErrNothingSelected = errors.New("no items selected")

	// ErrProtectedItem is returned when trying to select a protected item.
	ErrProtectedItem = errors.New("item is protected and cannot be selected")

	// ErrUnknownItem is returned for item ids that are not in the loaded plan.
	ErrUnknownItem = errors.New("item not found in plan")
)
