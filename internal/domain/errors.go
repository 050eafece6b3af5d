package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrInvalidQuery signals a malformed query request.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrIndexNotReady signals that no vector index could be published.
	ErrIndexNotReady = errors.New("index not ready")
	// ErrMissingCredentials signals a missing provider credential at construction.
	ErrMissingCredentials = errors.New("missing provider credentials")

	// ErrProvider is the parent class of every external provider failure.
	ErrProvider = errors.New("provider error")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = fmt.Errorf("embedding provider error: %w", ErrProvider)
	// ErrInterpreterError signals a language-understanding provider failure.
	ErrInterpreterError = fmt.Errorf("interpreter error: %w", ErrProvider)
)

// DimensionMismatchError wraps ErrVectorDimMismatch with the offending sizes.
type DimensionMismatchError struct {
	Expected int
	Got      int
	ID       string
}

func (e *DimensionMismatchError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s: %q has %d, expected %d", ErrVectorDimMismatch.Error(), e.ID, e.Got, e.Expected)
	}
	return fmt.Sprintf("%s: got %d, expected %d", ErrVectorDimMismatch.Error(), e.Got, e.Expected)
}

func (e *DimensionMismatchError) Unwrap() error { return ErrVectorDimMismatch }

// NewDimensionMismatch creates a dimension mismatch error.
func NewDimensionMismatch(id string, expected, got int) error {
	return &DimensionMismatchError{Expected: expected, Got: got, ID: id}
}
