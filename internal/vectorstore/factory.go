package vectorstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coursechat/internal/config"
)

// NewStore creates the backend named by cfg.Provider for vectors of length
// dim, wrapped with instrumentation.
//
// Supported providers:
//   - "memory": in-process, not persisted
//   - "chromem": embedded, persisted to cfg.Chromem.Path (default)
//   - "qdrant": remote qdrant over gRPC
//   - "postgres": PostgreSQL with pgvector
func NewStore(ctx context.Context, cfg config.VectorStoreConfig, dim int, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("vectorstore")

	var (
		store Store
		err   error
	)
	switch cfg.Provider {
	case "memory":
		store, err = NewMemoryStore(dim, logger)
	case "chromem", "":
		store, err = NewChromemStore(ChromemConfig{
			Path:       cfg.Chromem.Path,
			Compress:   cfg.Chromem.Compress,
			Collection: cfg.Collection,
			Dimension:  dim,
		}, logger)
	case "qdrant":
		store, err = NewQdrantStore(ctx, QdrantConfig{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			UseTLS:     cfg.Qdrant.UseTLS,
			APIKey:     cfg.Qdrant.APIKey.Value(),
			Collection: cfg.Collection,
			Dimension:  dim,
		}, logger)
	case "postgres":
		store, err = NewPostgresStore(ctx, PostgresConfig{
			DSN:          cfg.Postgres.DSN.Value(),
			Dimension:    dim,
			MaxOpenConns: cfg.Postgres.MaxOpenConns,
			AutoMigrate:  cfg.Postgres.AutoMigrate,
		}, logger)
	default:
		return nil, fmt.Errorf("%w: unsupported provider %q (supported: memory, chromem, qdrant, postgres)", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s store: %w", cfg.Provider, err)
	}

	provider := cfg.Provider
	if provider == "" {
		provider = "chromem"
	}
	return Instrument(store, provider), nil
}
