// Package dberr defines the error kinds surfaced at the storage-engine file
// boundary. Errors are classified, never thrown: every operation returns an
// error whose kind callers can branch on with Is, while the wrapped cause
// keeps the full context and stack captured by github.com/pkg/errors.
package dberr

import (
	stderrors "errors"

	"github.com/pkg/errors"
)

// Kind classifies an error for the caller's handling policy.
type Kind string

const (
	// DbException marks semantic violations: full page, empty slot, tuple
	// not present, descriptor mismatch, underflow on a malformed tree.
	// Recoverable conditions (a full page during insertion) are handled
	// locally by the engine; a DbException that escapes is a real failure.
	DbException Kind = "DbException"

	// TransactionAborted is relayed unchanged from the buffer pool when a
	// lock cannot be granted. Callers treat it as fatal for the current call.
	TransactionAborted Kind = "TransactionAborted"

	// IoError marks failed disk operations. Callers treat it as fatal; the
	// buffer pool decides whether to retry.
	IoError Kind = "IoError"

	// IllegalArgument marks malformed page ids and short reads.
	IllegalArgument Kind = "IllegalArgument"
)

// Error carries a kind together with its cause.
type Error struct {
	kind  Kind
	cause error
}

func (e *Error) Error() string {
	return string(e.kind) + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error {
	return e.cause
}

// KindOf returns the kind of err, or "" if err carries no kind.
func KindOf(err error) Kind {
	var de *Error
	if stderrors.As(err, &de) {
		return de.kind
	}
	return ""
}

// Is reports whether err (or any error in its chain) has the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// New creates a classified error with a formatted message and call stack.
func New(kind Kind, format string, args ...any) error {
	return &Error{kind: kind, cause: errors.Errorf(format, args...)}
}

// Wrap classifies an existing error, annotating it with a message. A nil err
// yields nil. If err is already classified its kind is preserved and only the
// annotation is added.
func Wrap(kind Kind, err error, message string) error {
	if err == nil {
		return nil
	}
	var de *Error
	if stderrors.As(err, &de) {
		return &Error{kind: de.kind, cause: errors.WithMessage(err, message)}
	}
	return &Error{kind: kind, cause: errors.Wrap(err, message)}
}
