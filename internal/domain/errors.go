package domain

import "fmt"

// ErrCode is a stable, comparable error classification for engine failures.
// Callers should match on Code via errors.As rather than string-matching
// Error().
type ErrCode string

const (
	// ErrValidation covers malformed workflow JSON, schema mismatches,
	// unknown edge endpoints, unknown action kinds, and any other defect
	// caught at graph construction time.
	ErrValidation ErrCode = "VALIDATION"

	// ErrNotFound covers a missing process, node, or workflow id.
	ErrNotFound ErrCode = "NOT_FOUND"

	// ErrTimeout covers a per-node timer expiring before the action
	// returned.
	ErrTimeout ErrCode = "TIMEOUT"

	// ErrActionFailure covers an action explicitly returning a Failed
	// outcome.
	ErrActionFailure ErrCode = "ACTION_FAILURE"

	// ErrActionException covers an action raising an unexpected error.
	ErrActionException ErrCode = "ACTION_EXCEPTION"

	// ErrTemplateUnresolved covers a template token that could not be
	// bound to an env var or node output.
	ErrTemplateUnresolved ErrCode = "TEMPLATE_UNRESOLVED"

	// ErrCancelled covers a node or process stopped by shutdown/abort.
	ErrCancelled ErrCode = "CANCELLED"
)

// Error is the engine's single error type. It wraps a cause and tags it
// with a stable Code so callers can branch on failure class without
// parsing strings.
type Error struct {
	Code    ErrCode
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError constructs an *Error. cause may be nil.
func NewError(code ErrCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func NewErrorf(code ErrCode, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}
