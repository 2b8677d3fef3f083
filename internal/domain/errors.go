package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error so callers can decide how to react
// without string-matching error messages.
type Kind string

const (
	KindDimensionMismatch  Kind = "dimension_mismatch"
	KindCapacityExceeded   Kind = "capacity_exceeded"
	KindNotFound           Kind = "not_found"
	KindBackendUnavailable Kind = "backend_unavailable"
	KindEmbedError         Kind = "embed_error"
	KindRerankerError      Kind = "reranker_error"
	KindGenerationError    Kind = "generation_error"
	KindPersistError       Kind = "persist_error"
	KindTimeout            Kind = "timeout"
	KindMigrationConflict  Kind = "migration_conflict"
	KindConfigError        Kind = "config_error"
)

// Error is the engine's typed error, carrying a Kind so callers can branch
// on failure category and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds an *Error of the given kind.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// ErrDimensionMismatch indicates a vector arrived with the wrong dimensionality.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
