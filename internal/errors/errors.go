package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes for categorizing errors.
const (
	// ErrConfig covers malformed inventory, cyclic jump chains, and bad flags.
	// Configuration errors are fatal and never retried.
	ErrConfig = "CONFIG"
	// ErrResolve means the target name was not found in the inventory.
	ErrResolve = "RESOLVE"
	// ErrAuth means every authentication method was exhausted for a hop.
	ErrAuth = "AUTH"
	// ErrConnect means the tunnel could not be built (unreachable, refused,
	// dial timeout). Connect errors are retried by the pool before surfacing.
	ErrConnect = "CONNECT"
	// ErrTimeout means a command exceeded its command timeout. The connection
	// it ran on is discarded and the command is never silently retried.
	ErrTimeout = "TIMEOUT"
	// ErrBlocked is a policy outcome: a CRITICAL command without confirmation.
	// Always distinct from execution failures so callers can prompt and retry.
	ErrBlocked = "BLOCKED"
	// ErrExec covers remote execution failures that aren't timeouts.
	ErrExec = "EXEC"
	// ErrSSH covers transport-level problems (handshake, session, host keys).
	ErrSSH = "SSH"
)

// Error is a structured error with code, message, suggestion, and optional cause.
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

// Wrap wraps an existing error with a message, defaulting to ErrSSH code.
func Wrap(err error, message string) *Error {
	return &Error{
		Code:    ErrSSH,
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

// Error implements the error interface with formatted output.
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

// Unwrap returns the underlying cause for use with errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsCode checks if an error is a structured Error with the given code.
func IsCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var oerr *Error
	if errors.As(err, &oerr) {
		return oerr.Code == code
	}
	return false
}

// CodeOf returns the code of a structured error, or ErrExec for anything else.
func CodeOf(err error) string {
	var oerr *Error
	if errors.As(err, &oerr) {
		return oerr.Code
	}
	return ErrExec
}

// ExitError signals that the process should exit with a specific code
// without printing anything further. Used to pass through remote exit codes.
type ExitError struct {
	Code int
}

// NewExitError creates an ExitError for the given exit code.
func NewExitError(code int) *ExitError {
	return &ExitError{Code: code}
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}
