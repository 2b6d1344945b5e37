// Package shared holds types used across the term and reporting contexts.
package shared

import (
	"errors"
	"fmt"
)

// ErrorCode is a machine-readable classification carried by domain errors so
// callers at the API boundary can map them without string matching.
type ErrorCode string

const (
	// CodeConflict indicates a concurrent operation violates a mutual-exclusion
	// rule, for example starting a second active batch for a term.
	CodeConflict ErrorCode = "CONFLICT"

	// CodeInvalidState indicates the target is in the wrong lifecycle state for
	// the requested operation.
	CodeInvalidState ErrorCode = "INVALID_STATE"

	// CodeNotReady indicates closure preconditions are not yet satisfied.
	CodeNotReady ErrorCode = "NOT_READY"

	// CodeNotFound indicates the referenced term or batch does not exist.
	CodeNotFound ErrorCode = "NOT_FOUND"
)

func (c ErrorCode) String() string { return string(c) }

// Error is a typed domain failure with a code and a human-readable message.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code, so errors.Is(err, ErrConflict)
// works regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels usable with errors.Is.
var (
	ErrConflict     = &Error{Code: CodeConflict}
	ErrInvalidState = &Error{Code: CodeInvalidState}
	ErrNotReady     = &Error{Code: CodeNotReady}
	ErrNotFound     = &Error{Code: CodeNotFound}
)

// NewConflict returns a CONFLICT error.
func NewConflict(format string, args ...any) *Error {
	return &Error{Code: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

// NewInvalidState returns an INVALID_STATE error.
func NewInvalidState(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidState, Message: fmt.Sprintf(format, args...)}
}

// NewNotReady returns a NOT_READY error.
func NewNotReady(format string, args ...any) *Error {
	return &Error{Code: CodeNotReady, Message: fmt.Sprintf(format, args...)}
}

// NewNotFound returns a NOT_FOUND error.
func NewNotFound(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the ErrorCode from anywhere in err's chain. It returns the
// empty code when err carries no domain classification.
func CodeOf(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// MessageOf returns the human-readable message of the first domain error in
// err's chain, falling back to err.Error().
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	return err.Error()
}
