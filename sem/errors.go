// Package sem is the evaluation semantics core: the operator rules, numeric
// edge cases, error taxonomy and the single builtin dispatch registry that
// both execution engines consult. Neither engine implements any of these
// rules privately; two copies of a rule are how engines drift apart.
//
// Name resolution order, shared by both engines: local scope, then enclosing
// scopes, then globals, then declared functions, then the dispatch registry.
package sem

import (
	"errors"
	"fmt"
)

// Code is a stable error code. Both engines must raise the same code for the
// same faulty operation; message text is engine-irrelevant.
type Code string

const (
	CodeType      Code = "E_TYPE"
	CodeBounds    Code = "E_BOUNDS"
	CodeUndefined Code = "E_UNDEFINED"
	CodeNoBuiltin Code = "E_NO_BUILTIN"
	CodeArity     Code = "E_ARITY"
	CodeDivZero   Code = "E_DIV_ZERO"
	CodeMoved     Code = "E_MOVED"
	CodeBadCode   Code = "E_BADCODE"
	CodeCaps      Code = "E_CAPS"
)

// Span locates a source position. The zero Span means "unknown".
type Span struct {
	Line int32
	Col  int32
}

func (s Span) String() string {
	if s == (Span{}) {
		return "?"
	}
	return fmt.Sprintf("%d:%d", s.Line, s.Col)
}

// RuntimeError is the typed error both engines return up the call stack.
// It is never used for ordinary control flow and never terminates the host.
type RuntimeError struct {
	Code Code
	Msg  string
	Span Span
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s: %s (at %s)", e.Code, e.Msg, e.Span)
}

func Errf(code Code, span Span, format string, args ...any) *RuntimeError {
	return &RuntimeError{Code: code, Msg: fmt.Sprintf(format, args...), Span: span}
}

// CodeOf extracts the stable code from an error chain, or "" for non-runtime
// errors.
func CodeOf(err error) Code {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// WithSpan attaches a span to a runtime error that lacks one. Errors raised
// deep in builtins often only learn their callsite at the engine boundary.
func WithSpan(err error, span Span) error {
	var re *RuntimeError
	if errors.As(err, &re) && re.Span == (Span{}) {
		return &RuntimeError{Code: re.Code, Msg: re.Msg, Span: span}
	}
	return err
}
