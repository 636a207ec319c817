// Package domainerrors carries the error taxonomy shared by the decisioning
// core and its adapters. Every failure surfaced to a caller is an *Error with a
// Code; transports map codes to status codes without inspecting messages.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a failure.
type Code string

const (
	CodeValidation             Code = "validation_error"
	CodeInvalidTransition      Code = "invalid_transition"
	CodeTerminalCase           Code = "terminal_case"
	CodeConcurrentModification Code = "concurrent_modification"
	CodeConfiguration          Code = "configuration_error"
	CodeUnknownCase            Code = "unknown_case"
	CodeInternal               Code = "internal_error"
)

// Error is a coded domain error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a bare sentinel of the same code, so callers
// can write errors.Is(err, domainerrors.ErrTerminalCase).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Message == "" && t.Err == nil
}

// Sentinels for errors.Is matching.
var (
	ErrValidation             = &Error{Code: CodeValidation}
	ErrInvalidTransition      = &Error{Code: CodeInvalidTransition}
	ErrTerminalCase           = &Error{Code: CodeTerminalCase}
	ErrConcurrentModification = &Error{Code: CodeConcurrentModification}
	ErrConfiguration          = &Error{Code: CodeConfiguration}
	ErrUnknownCase            = &Error{Code: CodeUnknownCase}
)

// New returns an error with the given code and message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Newf is New with formatting.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
