// Package embeddings turns text into fixed-length vectors.
//
// A Provider talks to a concrete model (an OpenAI-compatible endpoint or a
// local ONNX model). Gateway wraps a Provider with input validation, rate
// limiting, a dimension check and metrics, and is what the rest of the
// service embeds through.
package embeddings

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coursechat/internal/config"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates the model returned nothing usable.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Provider is an embedding model backend.
type Provider interface {
	// EmbedDocuments embeds passages for storage.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// NewProvider creates the provider named by cfg.Provider. When cfg.Cache
// selects a backend the provider is wrapped in a CachedEmbedder.
func NewProvider(cfg config.EmbeddingsConfig, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		p   Provider
		err error
	)
	switch cfg.Provider {
	case "openai", "":
		p, err = NewOpenAIProvider(OpenAIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey.Value(),
			Dimension: cfg.Dimension,
		})
	case "fastembed":
		p, err = NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	cache, err := NewCache(cfg.Cache)
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	if cache == nil {
		return p, nil
	}
	logger.Info("embedding cache enabled",
		zap.String("backend", cfg.Cache.Backend),
		zap.String("model", cfg.Model),
	)
	return NewCachedEmbedder(p, cache, cfg.Model, logger), nil
}
