// Package persistence is the durable storage facade: one interface covering
// conversations, jobs, job actions, LLM call records, estimation snapshots,
// sandbox job records, routines, tool failure counters, settings, and
// workspace documents/chunks, backed by either an in-memory store or a SQL
// database (CockroachDB/Postgres via lib/pq, or embedded SQLite via
// modernc.org/sqlite).
package persistence

import (
	"errors"
	"fmt"
)

// ErrorKind is the persistence-level error taxonomy.
type ErrorKind string

const (
	ErrNotFound     ErrorKind = "not_found"
	ErrConflict     ErrorKind = "conflict"
	ErrInvalidInput ErrorKind = "invalid_input"
	ErrBackend      ErrorKind = "backend"
)

// Error is a structured persistence error carrying its taxonomy kind plus
// the operation that failed.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("[persistence:%s] %s: %s", e.Kind, e.Op, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[persistence:%s] %s: %s", e.Kind, e.Op, e.Cause.Error())
	}
	return fmt.Sprintf("[persistence:%s] %s", e.Kind, e.Op)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(kind ErrorKind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Cause: cause}
}

// NotFound builds a not-found error for op (e.g. "GetJob").
func NotFound(op, message string) *Error {
	return newError(ErrNotFound, op, message, nil)
}

// Conflict builds a conflict error, used for the active-job-count guard and
// similar compare-and-set violations.
func Conflict(op, message string) *Error {
	return newError(ErrConflict, op, message, nil)
}

// Wrap classifies a driver-level error as a backend error unless it is
// already a *Error.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return newError(ErrBackend, op, "", err)
}

// IsNotFound reports whether err (or any error it wraps) is a not-found
// persistence error.
func IsNotFound(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == ErrNotFound
}

// IsConflict reports whether err (or any error it wraps) is a conflict
// persistence error.
func IsConflict(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == ErrConflict
}
