package ecode

import (
	"errors"
	"fmt"
	"time"
)

// Stable error codes exposed at the boundary. Display surfaces show the
// code/message pair; anything internal (wrapped cause, stack detail) stays in
// Details.
const (
	CodeValidation     = "VALIDATION_ERROR"
	CodeExecution      = "EXECUTION_ERROR"
	CodeTimeout        = "TIMEOUT_ERROR"
	CodeCancelled      = "CANCELLED"
	CodeRetryExhausted = "RETRY_EXHAUSTED"
	CodeCacheKey       = "CACHE_KEY_ERROR"
)

// Error represents a coded error with optional structured detail.
type Error struct {
	Code    string
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches errors by code, so callers can test against sentinel
// constructors without caring about message or detail.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// WithDetails attaches structured detail and returns the error.
func (e *Error) WithDetails(details map[string]any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any, len(details))
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// New creates a coded error.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a coded error wrapping a cause.
func Wrap(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// Validation reports a bad submission argument, rejected synchronously.
func Validation(message string) *Error {
	return New(CodeValidation, message)
}

// Execution wraps an error raised by a job callable.
func Execution(cause error) *Error {
	e := Wrap(CodeExecution, "job execution failed", cause)
	if cause != nil {
		e.Details = map[string]any{"error_type": fmt.Sprintf("%T", cause)}
	}
	return e
}

// Timeout reports a job exceeding its deadline.
func Timeout(d time.Duration) *Error {
	e := New(CodeTimeout, fmt.Sprintf("job timed out after %s", d))
	e.Details = map[string]any{"timeout": d.String()}
	return e
}

// Cancelled reports cooperative cancellation being observed.
func Cancelled() *Error {
	return New(CodeCancelled, "job cancelled")
}

// RetryExhausted reports a terminal failure after the retry budget ran out.
// The last attempt's error is preserved as the cause.
func RetryExhausted(retries int, cause error) *Error {
	e := Wrap(CodeRetryExhausted, fmt.Sprintf("failed after %d retries", retries), cause)
	e.Details = map[string]any{"retries": retries}
	return e
}

// CacheKey reports key data that could not be canonicalized.
func CacheKey(cause error) *Error {
	return Wrap(CodeCacheKey, "failed to build cache key", cause)
}

// CodeOf returns the stable code for any error, falling back to
// EXECUTION_ERROR for plain errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeExecution
}
