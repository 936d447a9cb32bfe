package domain

import (
	"errors"
	"fmt"
)

// Kind classifies errors surfaced to callers of the reconciliation service.
type Kind string

const (
	KindParse      Kind = "parse_error"
	KindImport     Kind = "import_error"
	KindValidation Kind = "validation_error"
	KindState      Kind = "state_error"
	KindConflict   Kind = "conflict_error"
	KindNotFound   Kind = "not_found"
)

// ErrLedgerUnavailable marks ledger failures that affect every lookup, not a single movement.
var ErrLedgerUnavailable = errors.New("ledger unavailable")

// ErrAlreadyLinked is returned by Ledger.MarkReconciled when another statement movement holds the link.
var ErrAlreadyLinked = errors.New("ledger movement already linked")

// Error is the error type returned for every business rule violation.
type Error struct {
	Kind    Kind
	Message string
	// Line is the 1-based line or record number for parse errors, 0 when unknown.
	Line int
	Err  error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Line > 0 {
		msg = fmt.Sprintf("line %d: %s", e.Line, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match on kind with a template such as &Error{Kind: KindConflict}.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// KindOf returns the kind of the first *Error in the chain, or "" for infrastructure errors.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ParseErrorf builds a parse error pinned to a line number (0 when not determinable).
func ParseErrorf(line int, format string, args ...interface{}) *Error {
	e := newError(KindParse, format, args...)
	e.Line = line
	return e
}

func ImportErrorf(format string, args ...interface{}) *Error {
	return newError(KindImport, format, args...)
}

func ValidationErrorf(format string, args ...interface{}) *Error {
	return newError(KindValidation, format, args...)
}

func StateErrorf(format string, args ...interface{}) *Error {
	return newError(KindState, format, args...)
}

func ConflictErrorf(format string, args ...interface{}) *Error {
	return newError(KindConflict, format, args...)
}

func NotFoundErrorf(format string, args ...interface{}) *Error {
	return newError(KindNotFound, format, args...)
}

// Wrap attaches a cause to a domain error and returns it.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}
