// Package apperror defines the domain errors shared by every layer.
//
// Services and repositories return these; only the handler package maps
// them to HTTP status codes (see handler/response.go).
//
// Two shapes exist:
//   - *AppError wraps one of the sentinels below plus an optional cause,
//     so both errors.Is(err, ErrTransport) and errors.Is(err, context.DeadlineExceeded)
//     work on the same value.
//   - *RemoteError carries a non-2xx answer from the remote sharing server
//     verbatim (status + parsed body) and matches ErrRemote.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("validation error")
	ErrConflict        = errors.New("conflict")
	ErrDuplicateKey    = errors.New("duplicate key")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrEmptyResult     = errors.New("empty result")
	ErrRemote          = errors.New("remote error")
	ErrTransport       = errors.New("transport error")
)

type AppError struct {
	Err     error  // sentinel
	Message string // human-readable message
	Field   string // optional: field causing the error
	Cause   error  // optional: underlying error
}

func (e *AppError) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel and the cause to errors.Is / errors.As.
func (e *AppError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// InvalidTransition rejects a key status change that would move backwards.
func InvalidTransition(key, from, to string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: fmt.Sprintf("analysis key %s cannot move from %s to %s", key, from, to),
		Field:   "status",
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

func DuplicateKey(key string, cause error) *AppError {
	return &AppError{
		Err:     ErrDuplicateKey,
		Message: fmt.Sprintf("analysis key %s already exists", key),
		Cause:   cause,
	}
}

func Unauthenticated(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthenticated,
		Message: message,
	}
}

// EmptyResult reports a required relation that exists but has no rows,
// e.g. EmptyResult("rates", "catalog", "4") -> "rates not found for catalog 4".
func EmptyResult(what, owner, id string) *AppError {
	return &AppError{
		Err:     ErrEmptyResult,
		Message: fmt.Sprintf("%s not found for %s %s", what, owner, id),
	}
}

func Transport(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrTransport,
		Message: message,
		Cause:   cause,
	}
}

// RemoteError is a non-2xx response from the remote sharing server.
type RemoteError struct {
	StatusCode int
	Message    string // extracted from the body when it has "message" or "error"
	Body       any    // parsed JSON body, nil when the body was not JSON
	Raw        string
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("remote returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("remote returned %d", e.StatusCode)
}

func (e *RemoteError) Is(target error) bool {
	return target == ErrRemote
}
