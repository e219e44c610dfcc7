// Package outcome defines the result contract shared by every remote task
// operation: a value on success, or a classified failure.
package outcome

import (
	"errors"
	"fmt"
)

// Kind classifies why a task operation failed.
type Kind string

const (
	// KindNone is reported by successful outcomes.
	KindNone Kind = ""

	// Unauthenticated means no credential was supplied by the caller.
	Unauthenticated Kind = "unauthenticated"

	// TenantResolutionFailed means the site discovery call failed or
	// returned no accessible resources.
	TenantResolutionFailed Kind = "tenant_resolution_failed"

	// RemoteOperationFailed means a create or query call returned an
	// unexpected status or could not be delivered.
	RemoteOperationFailed Kind = "remote_operation_failed"

	// MalformedResponse means a success-status response lacked the
	// fields the caller depends on.
	MalformedResponse Kind = "malformed_response"
)

// Error is a classified failure of a remote task operation.
type Error struct {
	// Kind is the failure class.
	Kind Kind

	// Op names the operation that failed (e.g. "create issue").
	Op string

	// Status is the HTTP status code received, or 0 if none.
	Status int

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds an *Error of the given kind with a formatted cause.
func Errorf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the failure class of err. A nil error has KindNone; an
// error that carries no *Error in its chain is treated as a remote
// operation failure.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return RemoteOperationFailed
}

// Is reports whether err (or any error in its chain) is an *Error of kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Outcome is either a successful value or a classified failure.
// The zero Outcome is not valid; build one with Ok, Fail or From.
type Outcome[T any] struct {
	value T
	err   error
}

// Ok returns a successful outcome carrying v.
func Ok[T any](v T) Outcome[T] {
	return Outcome[T]{value: v}
}

// Fail returns a failed outcome. A nil err is recorded as an unclassified
// remote operation failure so that a failed outcome always has a cause.
func Fail[T any](err error) Outcome[T] {
	if err == nil {
		err = &Error{Kind: RemoteOperationFailed, Op: "unknown"}
	}
	return Outcome[T]{err: err}
}

// From converts a conventional (value, error) pair into an Outcome. The
// value is discarded when err is non-nil.
func From[T any](v T, err error) Outcome[T] {
	if err != nil {
		return Fail[T](err)
	}
	return Ok(v)
}

// OK reports whether the outcome is a success.
func (o Outcome[T]) OK() bool {
	return o.err == nil
}

// Value returns the carried value, or the zero value of T on failure.
func (o Outcome[T]) Value() T {
	return o.value
}

// Get returns the value and whether the outcome succeeded.
func (o Outcome[T]) Get() (T, bool) {
	return o.value, o.err == nil
}

// Err returns the failure cause, or nil on success.
func (o Outcome[T]) Err() error {
	return o.err
}

// Kind returns the failure class, or KindNone on success.
func (o Outcome[T]) Kind() Kind {
	return KindOf(o.err)
}
