package main

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coursechat/internal/config"
	"github.com/fyrsmithlabs/coursechat/internal/embeddings"
	"github.com/fyrsmithlabs/coursechat/internal/generation"
	"github.com/fyrsmithlabs/coursechat/internal/logging"
	"github.com/fyrsmithlabs/coursechat/internal/rag"
	"github.com/fyrsmithlabs/coursechat/internal/telemetry"
	"github.com/fyrsmithlabs/coursechat/internal/vectorstore"
)

// app holds every wired component and releases them in reverse order.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	store     vectorstore.Store
	gateway   *embeddings.Gateway
	service   *rag.Service
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// newApp wires config -> telemetry -> logging -> store -> embeddings ->
// generation -> rag.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}
	a.telemetry = tel

	logCfg, err := logging.FromAppConfig(cfg.Logging)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("logging config: %w", err)
	}
	logger, err := logging.NewLogger(logCfg, global.GetLoggerProvider())
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	a.logger = logger
	if degraded, reasons := tel.Degraded(); degraded {
		logger.Warn(ctx, "telemetry degraded", zap.Strings("reasons", reasons))
	}
	z := logger.Underlying()

	a.store, err = vectorstore.NewStore(ctx, cfg.VectorStore, cfg.Embeddings.Dimension, z)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	provider, err := embeddings.NewProvider(cfg.Embeddings, z)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}
	a.gateway, err = embeddings.NewGateway(provider, embeddings.GatewayConfig{
		Model:     cfg.Embeddings.Model,
		Dimension: cfg.Embeddings.Dimension,
		RateLimit: cfg.Embeddings.RateLimit,
		Burst:     cfg.Embeddings.Burst,
	}, embeddings.WithLogger(z), embeddings.WithMeter(tel.Meter("coursechat/embeddings")))
	if err != nil {
		_ = provider.Close()
		a.Close(ctx)
		return nil, fmt.Errorf("creating embedding gateway: %w", err)
	}

	generator, err := generation.New(cfg.Generation, z)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("creating generation client: %w", err)
	}

	a.service, err = rag.NewService(a.store, a.gateway, generator, rag.Config{
		TopK:            cfg.Retrieval.TopK,
		MaxDistance:     cfg.Retrieval.MaxDistance,
		EmbedTimeout:    cfg.Embeddings.Timeout.Duration(),
		GenerateTimeout: cfg.Generation.Timeout.Duration(),
	}, logger)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	logger.Info(ctx, "coursechat initialized",
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.String("embedding_model", cfg.Embeddings.Model),
		zap.Int("dimension", cfg.Embeddings.Dimension),
		zap.String("generation_model", cfg.Generation.Model),
		zap.Int("top_k", cfg.Retrieval.TopK),
	)
	return a, nil
}

// Close releases components in reverse order of creation.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.gateway != nil {
		errs = append(errs, a.gateway.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.telemetry != nil {
		errs = append(errs, a.telemetry.Shutdown(ctx))
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return errors.Join(errs...)
}
