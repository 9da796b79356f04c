// Package toolerr provides structured error kinds for the job executor
// core. Error preserves message and causal context while still
// implementing the standard error interface, so callers can use
// errors.Is/errors.As to branch on Kind across component boundaries.
package toolerr

import (
	"errors"
	"fmt"
)

// Kind enumerates the error categories named by the core's error table.
type Kind string

const (
	InvalidParam  Kind = "INVALID_PARAM"
	FileNotFound  Kind = "FILE_NOT_FOUND"
	Forbidden     Kind = "FORBIDDEN"
	ToolNotReady  Kind = "TOOL_NOT_READY"
	StagingError  Kind = "STAGING_ERROR"
	ChildFailed   Kind = "CHILD_FAILED"
	ChildCancelled Kind = "CHILD_CANCELLED"
	TargetMissing Kind = "TARGET_MISSING"
	QuotaExceeded Kind = "QUOTA_EXCEEDED"
	InstallFailed Kind = "INSTALL_FAILED"
	Internal      Kind = "INTERNAL"
)

// Error is a structured failure that carries a Kind, a human-readable
// message, and an optional underlying cause. Errors may be nested via
// Cause to retain diagnostics across layers while still supporting
// errors.Is/As through Unwrap.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New constructs an Error of the given kind with the provided message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Errorf formats according to a format specifier and returns the result as
// an Error of the given kind.
func Errorf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause so errors.Is/As can traverse it.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target matches this error's Kind, which lets callers
// write errors.Is(err, toolerr.New(toolerr.TargetMissing, "")) or, more
// commonly, use KindOf below.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error,
// returning ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
