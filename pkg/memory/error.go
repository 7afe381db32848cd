package memory

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotConfigured is returned when memory operations are attempted
// but no memory driver has been configured.
var ErrNotConfigured = errors.New("memory not configured")

var (
	// ErrVectorShape matches validation failures of an embedding.
	ErrVectorShape = errors.New("invalid vector shape")

	// ErrInvalidContent matches validation failures of record content.
	ErrInvalidContent = errors.New("invalid content")

	// ErrInvalidMetadata matches validation failures of record metadata.
	ErrInvalidMetadata = errors.New("invalid metadata")
)

// NotFoundError is returned when a record doesn't exist in the store.
type NotFoundError struct {
	ID uuid.UUID
}

func (e NotFoundError) Error() string {
	if e.ID == uuid.Nil {
		return "memory not found"
	}

	return "memory not found: " + e.ID.String()
}

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}

// ValidationKind names which part of a record failed validation.
type ValidationKind int

const (
	VectorShape ValidationKind = iota
	InvalidContent
	InvalidMetadata
)

func (k ValidationKind) String() string {
	switch k {
	case VectorShape:
		return "vector_shape"
	case InvalidContent:
		return "invalid_content"
	case InvalidMetadata:
		return "invalid_metadata"
	}
	return "unknown"
}

// ValidationError is returned before any I/O when an input is rejected.
type ValidationError struct {
	Kind   ValidationKind
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.sentinel(), e.Reason)
}

// Is matches the sentinel for the error's kind.
func (e *ValidationError) Is(target error) bool {
	return target == e.sentinel()
}

func (e *ValidationError) sentinel() error {
	switch e.Kind {
	case VectorShape:
		return ErrVectorShape
	case InvalidContent:
		return ErrInvalidContent
	default:
		return ErrInvalidMetadata
	}
}

func vectorShape(format string, args ...any) error {
	return &ValidationError{Kind: VectorShape, Reason: fmt.Sprintf(format, args...)}
}

func invalidContent(format string, args ...any) error {
	return &ValidationError{Kind: InvalidContent, Reason: fmt.Sprintf(format, args...)}
}

func invalidMetadata(format string, args ...any) error {
	return &ValidationError{Kind: InvalidMetadata, Reason: fmt.Sprintf(format, args...)}
}

// BackendError wraps a failure reported by the underlying database.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("memory backend %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// WrapBackend wraps err in a BackendError for op. Validation and not-found
// errors pass through unchanged, as do nil and already wrapped errors.
func WrapBackend(op string, err error) error {
	if err == nil {
		return nil
	}

	var (
		ve *ValidationError
		be *BackendError
	)
	switch {
	case errors.As(err, &ve), errors.As(err, &be), IsNotFound(err):
		return err
	}

	return &BackendError{Op: op, Err: err}
}
