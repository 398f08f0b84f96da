package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/coursechat/internal/vectorstore"
)

// Retriever finds the stored passages closest to a query.
type Retriever struct {
	store        vectorstore.Store
	embedder     Embedder
	embedTimeout time.Duration

	// maxDistance drops matches farther than this cosine distance. Zero
	// keeps every match.
	maxDistance float64
}

// NewRetriever creates a Retriever.
func NewRetriever(store vectorstore.Store, embedder Embedder, embedTimeout time.Duration, maxDistance float64) *Retriever {
	return &Retriever{
		store:        store,
		embedder:     embedder,
		embedTimeout: embedTimeout,
		maxDistance:  maxDistance,
	}
}

// Retrieve returns the content of the topK closest records in rank order.
// No matches is an empty, non-nil slice.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]string, error) {
	matches, err := r.RetrieveMatches(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	contents := make([]string, len(matches))
	for i, m := range matches {
		contents[i] = m.Content
	}
	return contents, nil
}

// RetrieveMatches is Retrieve with the full match, including distance.
func (r *Retriever) RetrieveMatches(ctx context.Context, query string, topK int) ([]vectorstore.Match, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is empty", ErrInvalidQuery)
	}
	if topK < 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTopK, topK)
	}
	if topK == 0 {
		return []vectorstore.Match{}, nil
	}

	vec, err := embedText(ctx, r.embedder, query, r.store.Dimension(), r.embedTimeout, false)
	if err != nil {
		return nil, err
	}

	matches, err := r.store.Search(ctx, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("searching vector store: %w", err)
	}

	if r.maxDistance > 0 {
		kept := matches[:0]
		for _, m := range matches {
			if m.Distance <= r.maxDistance {
				kept = append(kept, m)
			}
		}
		matches = kept
	}
	RetrievedPassages.Observe(float64(len(matches)))
	return matches, nil
}
