// Package vectorstore persists embedding records and ranks them by vector
// distance.
//
// Every backend uses cosine distance (1 - cosine similarity, range [0, 2])
// and orders results by ascending distance, breaking ties by insertion order.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidConfig indicates invalid store configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidRecord indicates a record with an empty reference, empty
	// content or no embedding.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrDimensionMismatch indicates a vector whose length differs from the
	// store's dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrInvalidVector indicates a vector with zero norm or a non-finite
	// component. Cosine distance is undefined for it.
	ErrInvalidVector = errors.New("invalid vector")

	// ErrInvalidTopK indicates a negative topK.
	ErrInvalidTopK = errors.New("topK must be >= 0")

	// ErrConnectionFailed indicates the backing database could not be reached.
	ErrConnectionFailed = errors.New("vector store connection failed")

	// ErrClosed indicates an operation on a closed store.
	ErrClosed = errors.New("vector store closed")
)

// Record is one embedded passage.
type Record struct {
	// ID is assigned by the store on insert and never changes.
	ID string

	// Reference groups every record derived from one source document.
	Reference string

	// Content is the exact text that was embedded.
	Content string

	// Embedding has exactly Dimension() components.
	Embedding []float32

	// Seq is the store-assigned insertion sequence used to break distance ties.
	Seq int64
}

// Match is a search hit.
type Match struct {
	Record
	Distance float64
}

// Store is the persistence port for embedding records.
//
// Records are never updated in place: replacing a document's embeddings is
// DeleteByReference followed by Insert.
type Store interface {
	// Insert appends a record and returns its assigned ID.
	// Any ID or Seq set by the caller is ignored.
	Insert(ctx context.Context, rec Record) (string, error)

	// DeleteByReference removes every record with the given reference as a
	// single atomic operation. Deleting an unknown reference is a no-op.
	DeleteByReference(ctx context.Context, reference string) error

	// Search returns at most topK records ordered by ascending cosine distance
	// to vector, ties broken by insertion order. topK == 0 or an empty store
	// yields an empty, non-nil slice.
	Search(ctx context.Context, vector []float32, topK int) ([]Match, error)

	// Dimension returns the fixed vector length accepted by the store.
	Dimension() int

	// Close releases resources held by the store.
	Close() error
}

// validateRecord checks the ingestion preconditions every backend enforces.
func validateRecord(rec Record, dim int) error {
	if err := validateReference(rec.Reference); err != nil {
		return err
	}
	if rec.Content == "" {
		return fmt.Errorf("%w: content is required", ErrInvalidRecord)
	}
	return validateVector(rec.Embedding, dim)
}

func validateVector(vec []float32, dim int) error {
	if len(vec) != dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), dim)
	}
	var norm float64
	for i, x := range vec {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: component %d is not finite", ErrInvalidVector, i)
		}
		norm += f * f
	}
	if norm == 0 {
		return fmt.Errorf("%w: zero norm", ErrInvalidVector)
	}
	return nil
}

// validateReference rejects the empty reference on every backend.
func validateReference(reference string) error {
	if reference == "" {
		return fmt.Errorf("%w: reference is required", ErrInvalidRecord)
	}
	return nil
}
