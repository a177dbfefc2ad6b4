// Package errkit defines the typed error kinds surfaced by triplit's
// public operations (spec.md §6 "Error kinds", §7 "Error handling
// design"). Every recoverable condition carries a stable Kind string so
// callers can branch on error class without string-matching messages.
package errkit

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies a class of error. Kinds are stable across releases;
// treat them as part of the public API.
type Kind string

const (
	EntityNotFound           Kind = "EntityNotFound"
	InvalidEntityId          Kind = "InvalidEntityId"
	InvalidInternalEntityId  Kind = "InvalidInternalEntityId"
	InvalidMigrationOperation Kind = "InvalidMigrationOperation"
	SessionVariableNotFound  Kind = "SessionVariableNotFound"
	WriteRuleViolation       Kind = "WriteRuleViolation"
	UnknownAttribute         Kind = "UnknownAttribute"
	SchemaVersionMismatch    Kind = "SchemaVersionMismatch"
	TransactionConflict      Kind = "TransactionConflict"
)

// Error is a Kind-tagged error with an optional wrapped cause. Its
// message includes the cause's message (if any). Error has no Format
// method, so %+v prints the same text as %v; the stack trace Wrap
// attaches stays on the cause, reachable through Unwrap.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a Kind-tagged error with no wrapped cause.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a Kind-tagged error around cause, attaching a stack trace
// to cause via pkg/errors (a new one even if cause already carries one).
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: errors.WithStack(cause)}
}

// Is reports whether err (or any error in its Unwrap chain) is an
// *Error of the given Kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.Kind == kind {
				return true
			}
			err = e.cause
			continue
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, and ok=false
// otherwise.
func KindOf(err error) (Kind, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return "", false
		}
		err = u.Unwrap()
	}
	return "", false
}
