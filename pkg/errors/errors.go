// Package errors provides structured error types for the Siostam application.
//
// This package defines error codes and types that enable:
//   - Consistent error handling across CLI and server
//   - Machine-readable error codes for programmatic handling
//   - Error wrapping with context preservation
//
// # Error Codes
//
// Error codes follow the failure taxonomy of the refresh pipeline:
//   - FETCH_*: origin fetch failures (recovered by reusing stale data)
//   - RECONCILE_*: structurally invalid descriptions (item dropped)
//   - RENDER_*: layout engine failures (previous artifact keeps serving)
//   - CONFIG_*: configuration failures (fatal at startup)
//
// # Usage
//
//	err := errors.New(errors.ErrCodeFetchTimeout, "origin %s: deadline exceeded", name)
//	if errors.Is(err, errors.ErrCodeFetchTimeout) {
//	    // Handle timeout
//	}
//
//	// Wrap existing errors
//	err := errors.Wrap(errors.ErrCodeRenderFailed, origErr, "engine %s exited", engine)
package errors

import (
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Origin fetch errors
	ErrCodeFetchFailed    Code = "FETCH_FAILED"
	ErrCodeFetchTimeout   Code = "FETCH_TIMEOUT"
	ErrCodeFetchMalformed Code = "FETCH_MALFORMED"

	// Reconciliation errors
	ErrCodeReconcileInvalid Code = "RECONCILE_INVALID"

	// Render errors
	ErrCodeRenderFailed        Code = "RENDER_FAILED"
	ErrCodeRenderTimeout       Code = "RENDER_TIMEOUT"
	ErrCodeRenderEngineMissing Code = "RENDER_ENGINE_MISSING"

	// Configuration errors
	ErrCodeConfigInvalid Code = "CONFIG_INVALID"
	ErrCodeConfigMissing Code = "CONFIG_MISSING"

	// Serving errors
	ErrCodeNotReady Code = "NOT_READY"
	ErrCodeNotFound Code = "NOT_FOUND"

	// Internal errors
	ErrCodeInternal Code = "INTERNAL_ERROR"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error with a matching code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// IsFatal reports whether the error must abort startup.
// Only configuration errors and a missing layout engine are fatal;
// everything else is recovered inside the refresh cycle.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case ErrCodeConfigInvalid, ErrCodeConfigMissing, ErrCodeRenderEngineMissing:
		return true
	}
	return false
}
