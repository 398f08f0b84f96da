package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coursechat/internal/logging"
	"github.com/fyrsmithlabs/coursechat/internal/vectorstore"
)

// Topic is a named section of a course.
type Topic struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Course is an aggregate document: its topics are embedded together with
// it under the course reference.
type Course struct {
	Reference   string  `json:"reference"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Topics      []Topic `json:"topics,omitempty"`
}

// ComposeCourseContent builds the single text embedded for a course:
// "name description" followed by each "topic: description" pair, all
// separated by single spaces.
func ComposeCourseContent(c Course) string {
	content := c.Name + " " + c.Description
	if len(c.Topics) == 0 {
		return content
	}
	parts := make([]string, len(c.Topics))
	for i, t := range c.Topics {
		parts[i] = t.Name + ": " + t.Description
	}
	return content + " " + strings.Join(parts, " ")
}

// Indexer keeps the stored embeddings of each reference in step with its
// source content.
//
// Writes to one reference are serialized; writes to different references
// run concurrently. A reindex that fails after its delete leaves the
// reference with no records rather than stale ones.
type Indexer struct {
	store        vectorstore.Store
	embedder     Embedder
	embedTimeout time.Duration
	locks        *keyedLock
	logger       *logging.Logger
}

// NewIndexer creates an Indexer. embedTimeout bounds each embedding call;
// zero relies on the caller's context.
func NewIndexer(store vectorstore.Store, embedder Embedder, embedTimeout time.Duration, logger *logging.Logger) *Indexer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Indexer{
		store:        store,
		embedder:     embedder,
		embedTimeout: embedTimeout,
		locks:        newKeyedLock(),
		logger:       logger.Named("indexer"),
	}
}

// Reindex replaces every record for reference with one record for content.
func (ix *Indexer) Reindex(ctx context.Context, reference, content string) (err error) {
	if strings.TrimSpace(reference) == "" {
		return fmt.Errorf("%w: reference is required", ErrInvalidDocument)
	}
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: content is required", ErrInvalidDocument)
	}
	ctx = logging.WithReference(ctx, reference)
	defer func() { IndexOperationsTotal.WithLabelValues("reindex", resultLabel(err)).Inc() }()

	unlock, err := ix.locks.lock(ctx, reference)
	if err != nil {
		return fmt.Errorf("waiting for reference lock: %w", err)
	}
	defer unlock()

	start := time.Now()
	if err := ix.store.DeleteByReference(ctx, reference); err != nil {
		return fmt.Errorf("removing previous embeddings: %w", err)
	}

	vec, err := embedText(ctx, ix.embedder, content, ix.store.Dimension(), ix.embedTimeout, true)
	if err != nil {
		ix.logger.Warn(ctx, "reindex failed after delete, reference has no embeddings", zap.Error(err))
		return err
	}

	id, err := ix.store.Insert(ctx, vectorstore.Record{Reference: reference, Content: content, Embedding: vec})
	if err != nil {
		ix.logger.Warn(ctx, "reindex failed after delete, reference has no embeddings", zap.Error(err))
		return fmt.Errorf("storing embedding: %w", err)
	}

	ix.logger.Info(ctx, "reference reindexed",
		zap.String("id", id),
		zap.Int("content_length", len(content)),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// ReindexCourse composes the course aggregate and reindexes it under the
// course reference. Editing any topic must go through here.
func (ix *Indexer) ReindexCourse(ctx context.Context, c Course) error {
	return ix.Reindex(ctx, c.Reference, ComposeCourseContent(c))
}

// RemoveReference deletes every record for reference. Removing an unknown
// reference succeeds.
func (ix *Indexer) RemoveReference(ctx context.Context, reference string) (err error) {
	if strings.TrimSpace(reference) == "" {
		return fmt.Errorf("%w: reference is required", ErrInvalidDocument)
	}
	ctx = logging.WithReference(ctx, reference)
	defer func() { IndexOperationsTotal.WithLabelValues("remove", resultLabel(err)).Inc() }()

	unlock, err := ix.locks.lock(ctx, reference)
	if err != nil {
		return fmt.Errorf("waiting for reference lock: %w", err)
	}
	defer unlock()

	if err := ix.store.DeleteByReference(ctx, reference); err != nil {
		return fmt.Errorf("removing embeddings: %w", err)
	}
	ix.logger.Info(ctx, "reference removed")
	return nil
}
