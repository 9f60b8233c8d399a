package domain

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a failure kind of the state bridge.
type ErrorCode string

const (
	// ErrCodeBindFailure means the listener could not acquire its address.
	ErrCodeBindFailure ErrorCode = "BIND_FAILURE"
	// ErrCodeLockUnavailable means the shared store was poisoned by a panicking writer.
	ErrCodeLockUnavailable ErrorCode = "LOCK_UNAVAILABLE"
	// ErrCodeMalformedPayload means a datagram was not UTF-8 or matched neither schema.
	ErrCodeMalformedPayload ErrorCode = "MALFORMED_PAYLOAD"
	// ErrCodeTransportFailure means a receive failed for a reason other than a timeout.
	ErrCodeTransportFailure ErrorCode = "TRANSPORT_FAILURE"
)

// ErrLockUnavailable matches any error carrying ErrCodeLockUnavailable.
var ErrLockUnavailable = NewError(ErrCodeLockUnavailable, "overlay state lock poisoned")

// Error is a coded error with optional details and cause.
type Error struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error with the same code, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// WithDetail adds a detail to the error.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewError creates a coded error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError wraps cause with a code.
func WrapError(cause error, code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the first code found in err's chain.
func CodeOf(err error) ErrorCode {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

// BindFailure reports that addr could not be bound.
func BindFailure(addr string, cause error) *Error {
	return WrapError(cause, ErrCodeBindFailure, fmt.Sprintf("failed to bind UDP bridge at %s", addr)).
		WithDetail("addr", addr)
}

// TransportFailure reports a fatal receive error.
func TransportFailure(cause error) *Error {
	return WrapError(cause, ErrCodeTransportFailure, "overlay UDP bridge stopped")
}

// MalformedPayload reports a discarded datagram.
func MalformedPayload(reason string, payload []byte) *Error {
	return NewError(ErrCodeMalformedPayload, reason).
		WithDetail("payload", string(payload))
}

// LockUnavailable wraps the reason the store became unusable.
func LockUnavailable(cause error) *Error {
	return WrapError(cause, ErrCodeLockUnavailable, "overlay state lock poisoned")
}
