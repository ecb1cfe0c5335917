package paper

import (
	"errors"
	"fmt"
)

// Code classifies a failure. Callers branch on the code, not the message.
type Code string

const (
	CodeInsufficientText Code = "insufficient_text"
	CodeNoSections       Code = "no_sections"
	CodeInvalidConfig    Code = "invalid_config"
	CodeMarksMismatch    Code = "marks_mismatch"
	CodeNotFound         Code = "not_found"
	CodeUnsupportedType  Code = "unsupported_type"
	CodeUnreadableFile   Code = "unreadable_file"
	CodeInProgress       Code = "in_progress"
	CodeInterrupted      Code = "interrupted"
	CodeTimeout          Code = "timeout"
	CodeGenerationFailed Code = "generation_failed"
)

// Error is a coded failure with a short human-readable message.
type Error struct {
	Code    Code
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

func newError(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the code of err, or "" when err carries none.
func CodeOf(err error) Code {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsInputError reports whether err was caused by the caller's input.
func IsInputError(err error) bool {
	switch CodeOf(err) {
	case CodeInsufficientText, CodeNoSections, CodeInvalidConfig, CodeMarksMismatch,
		CodeUnsupportedType, CodeUnreadableFile:
		return true
	}
	return false
}
