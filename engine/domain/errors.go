package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for request validation failures.
var (
	ErrEmptyQuery      = errors.New("query must not be empty")
	ErrQueryTooLong    = errors.New("query too long")
	ErrEmptyVector     = errors.New("embedding vector is empty")
	ErrNonFiniteVector = errors.New("embedding vector contains non-finite values")
	ErrBadFilter       = errors.New("invalid filter")
)

// ValidationError wraps a sentinel with the offending field and value.
// Validation errors map to 400 at the API boundary and are never retried.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// NotFoundError reports an absent entity or record. Terminal, never retried.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// NewNotFound creates a NotFoundError.
func NewNotFound(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// DependencyError reports an unreachable or failing collaborator (embedding
// service, vector store). Maps to 503 at the API boundary; the asynchronous
// indexing path retries it through the queue instead.
type DependencyError struct {
	Dep string
	Err error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Dep, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

// NewDependencyError creates a DependencyError.
func NewDependencyError(dep string, err error) *DependencyError {
	return &DependencyError{Dep: dep, Err: err}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nfe *NotFoundError
	return errors.As(err, &nfe)
}

// IsDependency reports whether err is (or wraps) a DependencyError.
func IsDependency(err error) bool {
	var de *DependencyError
	return errors.As(err, &de)
}
