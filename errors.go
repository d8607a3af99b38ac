package keycluster

import (
	"errors"
	"fmt"
)

// ErrMissingTextField is returned when an input record lacks the text field.
var ErrMissingTextField = errors.New("record is missing the text field")

// InsufficientDataError is returned when a clustering run gets too few items.
type InsufficientDataError struct {
	Got  int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for clustering: got %d items, need at least %d", e.Got, e.Need)
}

// EmbeddingServiceError means the embedding service failed for a batch.
// It is fatal to the clustering run.
type EmbeddingServiceError struct {
	Batch int
	Err   error
}

func (e *EmbeddingServiceError) Error() string {
	return fmt.Sprintf("embedding service failed on batch %d: %v", e.Batch, e.Err)
}

func (e *EmbeddingServiceError) Unwrap() error { return e.Err }

// ReductionError means the input could not be projected, e.g. fewer than two samples.
type ReductionError struct {
	Samples int
	Reason  string
}

func (e *ReductionError) Error() string {
	return fmt.Sprintf("dimensionality reduction failed on %d samples: %s", e.Samples, e.Reason)
}
