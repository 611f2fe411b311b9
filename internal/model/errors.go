package model

import (
	"errors"
	"fmt"
)

// ErrorKind enumerates the error taxonomy shared by every component (MB, CE,
// CM, VKS, AO). A REST shim outside this module maps these to status codes;
// inside the module, callers switch on Kind to decide whether to retry.
type ErrorKind string

const (
	KindInvalidInput   ErrorKind = "invalid_input"
	KindInvalidType    ErrorKind = "invalid_type"
	KindNotFound       ErrorKind = "not_found"
	KindStateConflict  ErrorKind = "state_conflict"
	KindBackpressure   ErrorKind = "backpressure"
	KindTimeout        ErrorKind = "timeout"
	KindUnavailable    ErrorKind = "unavailable"
	KindCancelled      ErrorKind = "cancelled"
	KindTransient      ErrorKind = "transient"
	KindFatal          ErrorKind = "fatal"
)

// retryableKinds holds the kinds that are safe for a caller to retry.
var retryableKinds = map[ErrorKind]bool{
	KindBackpressure: true,
	KindTimeout:      true,
	KindUnavailable:  true,
	KindTransient:    true,
}

// Error is the typed error carried across every component boundary. It wraps
// an optional underlying cause so errors.Is/errors.As still work.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether the caller may safely retry the operation that
// produced this error.
func (e *Error) Retryable() bool { return retryableKinds[e.Kind] }

// NewError constructs a typed Error of the given kind.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func InvalidInput(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

func InvalidType(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidType, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func StateConflict(format string, args ...any) *Error {
	return &Error{Kind: KindStateConflict, Message: fmt.Sprintf(format, args...)}
}

func Backpressure(format string, args ...any) *Error {
	return &Error{Kind: KindBackpressure, Message: fmt.Sprintf(format, args...)}
}

func Timeout(format string, args ...any) *Error {
	return &Error{Kind: KindTimeout, Message: fmt.Sprintf(format, args...)}
}

func Unavailable(format string, args ...any) *Error {
	return &Error{Kind: KindUnavailable, Message: fmt.Sprintf(format, args...)}
}

func Cancelled(format string, args ...any) *Error {
	return &Error{Kind: KindCancelled, Message: fmt.Sprintf(format, args...)}
}

func Transient(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindTransient, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func Fatal(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindFatal, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the ErrorKind from err, or "" if err does not wrap *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsRetryable reports whether err is a retry-safe *Error.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}
