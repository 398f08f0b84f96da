package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coursechat/internal/rag"
)

// Service is the part of the core the tools drive.
type Service interface {
	Answer(ctx context.Context, query string) (string, error)
	Reindex(ctx context.Context, reference, content string) error
	RemoveReference(ctx context.Context, reference string) error
}

// Server registers the coursechat tools on an MCP server.
type Server struct {
	mcp     *mcp.Server
	service Service
	metrics *Metrics
	logger  *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "coursechat")
	Name string

	// Version is the server version (default: "dev")
	Version string

	// Logger for structured logging
	Logger *zap.Logger

	// Meter records tool metrics. Nil uses the global meter provider.
	Meter metric.Meter
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "coursechat",
		Version: "dev",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates an MCP server over service.
func NewServer(cfg *Config, service Service) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if service == nil {
		return nil, errors.New("service is required")
	}
	if cfg.Name == "" {
		cfg.Name = "coursechat"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		service: service,
		metrics: NewMetrics(cfg.Meter, cfg.Logger),
		logger:  cfg.Logger,
	}
	s.registerTools()
	return s, nil
}

// Run serves the stdio transport until ctx is cancelled or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect serves a single session on transport. Tests use it with an
// in-memory transport.
func (s *Server) Connect(ctx context.Context, transport mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, transport, nil)
}

// toolError hides internal failures from clients and keeps the core's
// caller-facing error kinds.
func toolError(err error) error {
	switch {
	case errors.Is(err, rag.ErrInvalidQuery),
		errors.Is(err, rag.ErrInvalidDocument),
		errors.Is(err, rag.ErrEmbeddingGeneration),
		errors.Is(err, rag.ErrGeneration),
		errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return errors.New("internal error")
	}
}
