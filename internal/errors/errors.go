// Package errors defines the structured error taxonomy shared by the
// activation core. Every public operation reports failures through *Error
// so callers can branch on Code without string matching.
package errors

import (
	"errors"
	"fmt"
)

// Code identifies a class of activation failure.
type Code string

// Error codes for activation operations
const (
	CodeMalformedCode       Code = "MALFORMED_CODE"
	CodeInvalidSignature    Code = "INVALID_SIGNATURE"
	CodeExpired             Code = "EXPIRED"
	CodeDeviceLimitExceeded Code = "DEVICE_LIMIT_EXCEEDED"
	CodeDeviceNotRegistered Code = "DEVICE_NOT_REGISTERED"
	CodeStorageIO           Code = "STORAGE_IO"
	CodeTimeTampered        Code = "TIME_TAMPERED"
	CodeTimeUnavailable     Code = "NETWORK_TIME_UNAVAILABLE"
	CodeNotActivated        Code = "NOT_ACTIVATED"
	CodeRateLimited         Code = "RATE_LIMITED"
)

// Error is the structured error type used across the activation core.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches two *Error values by code so sentinel comparisons work
// regardless of message detail.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// New creates an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a new coded error.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Sentinel errors for the common failure classes. Compare with errors.Is.
var (
	ErrMalformedCode       = New(CodeMalformedCode, "activation code is malformed")
	ErrInvalidSignature    = New(CodeInvalidSignature, "activation code signature is invalid")
	ErrExpired             = New(CodeExpired, "activation code has expired")
	ErrDeviceLimitExceeded = New(CodeDeviceLimitExceeded, "device limit reached for this activation code")
	ErrDeviceNotRegistered = New(CodeDeviceNotRegistered, "this device is not registered to the stored activation")
	ErrStorageIO           = New(CodeStorageIO, "activation storage operation failed")
	ErrTimeTampered        = New(CodeTimeTampered, "system time manipulation detected")
	ErrTimeUnavailable     = New(CodeTimeUnavailable, "no network time source is reachable")
	ErrNotActivated        = New(CodeNotActivated, "no activation is present")
	ErrRateLimited         = New(CodeRateLimited, "too many activation attempts")
)

// CodeOf extracts the Code from any error in the chain, or empty string
// when the error does not carry one.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsTerminal reports whether the error requires corrective action outside
// the core (new code, different device, clock correction) rather than a
// retry. Network time unavailability and storage hiccups are recoverable.
func IsTerminal(err error) bool {
	switch CodeOf(err) {
	case CodeInvalidSignature, CodeExpired, CodeDeviceLimitExceeded, CodeTimeTampered, CodeMalformedCode:
		return true
	}
	return false
}
