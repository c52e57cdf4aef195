package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes for categorizing errors
const (
	ErrConfig    = "CONFIG"    // missing or contradictory settings, never retried
	ErrAuth      = "AUTH"      // credentials rejected by bastion or target
	ErrTimeout   = "TIMEOUT"   // connect or command deadline exceeded
	ErrTransport = "TRANSPORT" // connection-level fault (dial, channel, session)
	ErrParse     = "PARSE"
	ErrExec      = "EXEC"
	ErrBastion   = "BASTION" // the jump host itself could not be reached
	ErrAborted   = "ABORTED"
)

// Error represents a structured error with code, message, suggestion, and optional cause.
// Rendered as:
//
//	✗ <What failed>
//
//	  <Why it failed - technical details>
//
//	  <How to fix it - actionable steps>
type Error struct {
	Code       string
	Message    string
	Suggestion string
	Cause      error
}

// New creates a new structured error with the given code, message, and suggestion.
func New(code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
	}
}

// Wrap wraps an existing error with a message, defaulting to ErrTransport code.
func Wrap(err error, message string) *Error {
	return &Error{
		Code:    ErrTransport,
		Message: message,
		Cause:   err,
	}
}

// WrapWithCode wraps an existing error with a specific code, message, and suggestion.
func WrapWithCode(err error, code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
		Cause:      err,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("✗ %s\n", e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Cause.Error()))
	}

	if e.Suggestion != "" {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Suggestion))
	}

	return b.String()
}

// Summary returns a single-line description suitable for a table cell or
// a HostStatus error field.
func (e *Error) Summary() string {
	if e.Cause == nil {
		return e.Message
	}
	cause := e.Cause.Error()
	var inner *Error
	if errors.As(e.Cause, &inner) {
		cause = inner.Summary()
	}
	return e.Message + ": " + firstLine(cause)
}

// Unwrap returns the underlying cause for use with errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsCode checks if an error is a structured Error with the given code.
func IsCode(err error, code string) bool {
	return CodeOf(err) == code
}

// CodeOf returns the code of the outermost structured Error in the chain,
// or an empty string when err carries none.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var dhErr *Error
	if errors.As(err, &dhErr) {
		return dhErr.Code
	}
	return ""
}

// Summary returns a one-line rendering of any error.
func Summary(err error) string {
	if err == nil {
		return ""
	}
	var dhErr *Error
	if errors.As(err, &dhErr) {
		return dhErr.Summary()
	}
	return firstLine(err.Error())
}

func firstLine(s string) string {
	s = strings.TrimSpace(strings.TrimPrefix(s, "✗ "))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
