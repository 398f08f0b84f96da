package embeddings

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// GatewayConfig configures a Gateway.
type GatewayConfig struct {
	// Model labels metrics and logs.
	Model string

	// Dimension is the vector length every call must return.
	Dimension int

	// Timeout bounds each model call. Zero leaves the caller's deadline alone.
	Timeout time.Duration

	// RateLimit is the sustained calls per second allowed. Zero disables it.
	RateLimit float64

	// Burst is the limiter bucket size. Default: 1
	Burst int
}

// Gateway is the single entry point for turning text into vectors.
//
// It never retries: a failed or malformed model response is returned to the
// caller as ErrEmbeddingFailed.
type Gateway struct {
	provider Provider
	config   GatewayConfig
	limiter  *rate.Limiter
	meter    metric.Meter
	metrics  *Metrics
	logger   *zap.Logger
}

// GatewayOption configures optional Gateway dependencies.
type GatewayOption func(*Gateway)

// WithLogger sets the gateway logger.
func WithLogger(l *zap.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = l }
}

// WithMeter records metrics on meter instead of the global provider.
func WithMeter(m metric.Meter) GatewayOption {
	return func(g *Gateway) { g.meter = m }
}

// NewGateway wraps provider.
func NewGateway(provider Provider, cfg GatewayConfig, opts ...GatewayOption) (*Gateway, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: provider is required", ErrInvalidConfig)
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = provider.Dimension()
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	if pd := provider.Dimension(); pd > 0 && pd != cfg.Dimension {
		return nil, fmt.Errorf("%w: provider produces %d-dimensional vectors, configured dimension is %d",
			ErrInvalidConfig, pd, cfg.Dimension)
	}
	if cfg.RateLimit < 0 {
		return nil, fmt.Errorf("%w: rate limit must not be negative", ErrInvalidConfig)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	g := &Gateway{provider: provider, config: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	g.metrics = NewMetrics(g.meter, g.logger)
	if cfg.RateLimit > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst)
	}
	return g, nil
}

// Embed embeds a query string.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	var vec []float32
	err := g.call(ctx, "embed_query", 1, func(ctx context.Context) error {
		v, err := g.provider.EmbedQuery(ctx, text)
		if err != nil {
			return err
		}
		vec = v
		return g.check(v)
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedDocument embeds one passage for storage.
func (g *Gateway) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	vectors, err := g.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedDocuments embeds passages for storage, one vector per text.
func (g *Gateway) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	for i, t := range texts {
		if t == "" {
			return nil, fmt.Errorf("%w: text %d is empty", ErrEmptyInput, i)
		}
	}

	var vectors [][]float32
	err := g.call(ctx, "embed_documents", len(texts), func(ctx context.Context) error {
		vs, err := g.provider.EmbedDocuments(ctx, texts)
		if err != nil {
			return err
		}
		if len(vs) != len(texts) {
			return fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vs), len(texts))
		}
		for _, v := range vs {
			if err := g.check(v); err != nil {
				return err
			}
		}
		vectors = vs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

func (g *Gateway) call(ctx context.Context, op string, batch int, fn func(context.Context) error) (err error) {
	start := time.Now()
	defer func() {
		g.metrics.RecordGeneration(ctx, g.config.Model, op, time.Since(start), batch, err)
		if err != nil {
			g.logger.Debug("embedding call failed",
				zap.String("model", g.config.Model),
				zap.String("operation", op),
				zap.Error(err),
			)
		}
	}()

	if g.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.Timeout)
		defer cancel()
	}
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}
	return fn(ctx)
}

func (g *Gateway) check(vec []float32) error { return checkVector(vec, g.config.Dimension) }

// checkVector reports ErrEmbeddingFailed unless vec has dim finite
// components and a non-zero norm.
func checkVector(vec []float32, dim int) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty vector", ErrEmbeddingFailed)
	}
	if len(vec) != dim {
		return fmt.Errorf("%w: got %d dimensions, want %d", ErrEmbeddingFailed, len(vec), dim)
	}
	var norm float64
	for _, x := range vec {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite component", ErrEmbeddingFailed)
		}
		norm += f * f
	}
	if norm == 0 {
		return fmt.Errorf("%w: zero vector", ErrEmbeddingFailed)
	}
	return nil
}

// Dimension returns the vector length every call returns.
func (g *Gateway) Dimension() int { return g.config.Dimension }

// Close closes the underlying provider.
func (g *Gateway) Close() error { return g.provider.Close() }
