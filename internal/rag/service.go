// Package rag answers questions about course material from stored
// embeddings.
//
// Content changes flow through the Indexer into the vector store. A query
// flows through the Retriever, which embeds it and ranks stored passages,
// and then through the Synthesizer, which grounds a generation call in
// those passages.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coursechat/internal/logging"
	"github.com/fyrsmithlabs/coursechat/internal/vectorstore"
)

// Config tunes the service.
type Config struct {
	// TopK is how many passages ground each answer.
	TopK int

	// MaxDistance drops passages farther than this cosine distance. Zero
	// disables the filter.
	MaxDistance float64

	// EmbedTimeout bounds each embedding call.
	EmbedTimeout time.Duration

	// GenerateTimeout bounds each generation call.
	GenerateTimeout time.Duration

	// Instruction overrides SystemInstruction.
	Instruction string
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.TopK < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidTopK, c.TopK)
	}
	if c.MaxDistance < 0 || c.MaxDistance > 2 {
		return fmt.Errorf("max distance must be within [0, 2], got %v", c.MaxDistance)
	}
	return nil
}

// Service is the core's public surface: reindex and answer.
type Service struct {
	indexer     *Indexer
	retriever   *Retriever
	synthesizer *Synthesizer
	topK        int
	logger      *logging.Logger
}

// NewService wires the indexer, retriever and synthesizer over one store.
func NewService(store vectorstore.Store, embedder Embedder, generator Generator, cfg Config, logger *logging.Logger) (*Service, error) {
	if store == nil || embedder == nil || generator == nil {
		return nil, errors.New("store, embedder and generator are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.Named("rag")

	return &Service{
		indexer:     NewIndexer(store, embedder, cfg.EmbedTimeout, logger),
		retriever:   NewRetriever(store, embedder, cfg.EmbedTimeout, cfg.MaxDistance),
		synthesizer: NewSynthesizer(generator, cfg.Instruction, cfg.GenerateTimeout),
		topK:        cfg.TopK,
		logger:      logger,
	}, nil
}

// Indexer returns the service's indexer.
func (s *Service) Indexer() *Indexer { return s.indexer }

// Retriever returns the service's retriever.
func (s *Service) Retriever() *Retriever { return s.retriever }

// Reindex replaces the embeddings stored for reference.
func (s *Service) Reindex(ctx context.Context, reference, content string) error {
	return s.indexer.Reindex(ctx, reference, content)
}

// ReindexCourse replaces the embeddings stored for a course aggregate.
func (s *Service) ReindexCourse(ctx context.Context, c Course) error {
	return s.indexer.ReindexCourse(ctx, c)
}

// RemoveReference deletes the embeddings stored for reference.
func (s *Service) RemoveReference(ctx context.Context, reference string) error {
	return s.indexer.RemoveReference(ctx, reference)
}

// Answer retrieves passages for query and generates a grounded answer.
// An empty query fails before any model call.
func (s *Service) Answer(ctx context.Context, query string) (answer string, err error) {
	start := time.Now()
	defer func() {
		AnswerDuration.Observe(time.Since(start).Seconds())
		AnswersTotal.WithLabelValues(answerResult(err)).Inc()
	}()

	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("%w: query is empty", ErrInvalidQuery)
	}

	contents, err := s.retriever.Retrieve(ctx, query, s.topK)
	if err != nil {
		s.logger.Warn(ctx, "retrieval failed", zap.Error(err))
		return "", err
	}
	if len(contents) == 0 {
		s.logger.Info(ctx, "no relevant passages found", zap.Int("top_k", s.topK))
	}

	answer, err = s.synthesizer.Answer(ctx, query, contents)
	if err != nil {
		s.logger.Warn(ctx, "generation failed", zap.Error(err))
		return "", err
	}

	s.logger.Debug(ctx, "answer generated",
		zap.Int("passages", len(contents)),
		zap.Int("answer_length", len(answer)),
		zap.Duration("duration", time.Since(start)),
	)
	return answer, nil
}

func answerResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInvalidQuery):
		return "invalid_query"
	case errors.Is(err, ErrEmbeddingGeneration):
		return "embedding_error"
	case errors.Is(err, ErrGeneration):
		return "generation_error"
	default:
		return "error"
	}
}
