// Package errorx classifies failures so the worker can tell a transient remote
// failure (retry later) from a permanent one (log and drop).
package errorx

import (
	"errors"
	"fmt"
)

// Error carries a retry classification alongside the underlying cause.
type Error struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Err       error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the cause to errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.Err }

// Retriable builds a retryable error (network failures, 5xx, throttling).
func Retriable(code int, message string, err error) *Error {
	return &Error{Code: code, Message: message, Retryable: true, Err: err}
}

// NonRetriable builds a permanent error (validation, 4xx, business rules).
func NonRetriable(code int, message string, err error) *Error {
	return &Error{Code: code, Message: message, Retryable: false, Err: err}
}

// Wrap returns err as an *Error. Unclassified errors are treated as permanent.
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: 500, Message: err.Error(), Retryable: false, Err: err}
}

// IsRetryable reports whether any error in err's chain is a retryable *Error.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}
