package rag

import (
	"context"
	"fmt"
	"math"
	"time"
)

// embedText calls e under timeout and checks the result has dim components.
// Every failure is reported as ErrEmbeddingGeneration; the cause stays
// reachable through errors.Is (e.g. context.DeadlineExceeded).
func embedText(ctx context.Context, e Embedder, text string, dim int, timeout time.Duration, document bool) ([]float32, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var (
		vec []float32
		err error
	)
	if de, ok := e.(DocumentEmbedder); ok && document {
		vec, err = de.EmbedDocument(ctx, text)
	} else {
		vec, err = e.Embed(ctx, text)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingGeneration, err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: model returned an empty vector", ErrEmbeddingGeneration)
	}
	if len(vec) != dim {
		return nil, fmt.Errorf("%w: got %d dimensions, want %d", ErrEmbeddingGeneration, len(vec), dim)
	}
	if !usable(vec) {
		return nil, fmt.Errorf("%w: vector has zero norm or non-finite components", ErrEmbeddingGeneration)
	}
	return vec, nil
}

// usable reports whether cosine distance is defined for vec.
func usable(vec []float32) bool {
	var norm float64
	for _, x := range vec {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
		norm += f * f
	}
	return norm > 0
}
