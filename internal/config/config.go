// Package config provides configuration loading for coursechat.
//
// Configuration is read from an optional YAML file and overridden by
// COURSECHAT_-prefixed environment variables. See LoadWithFile.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds the complete coursechat configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	Generation  GenerationConfig  `koanf:"generation"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Retrieval   RetrievalConfig   `koanf:"retrieval"`
	Events      EventsConfig      `koanf:"events"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	RequestTimeout  Duration `koanf:"request_timeout"`
}

// LoggingConfig holds the subset of logging settings exposed to operators.
type LoggingConfig struct {
	Level    string `koanf:"level"`
	Format   string `koanf:"format"`
	Sampling bool   `koanf:"sampling"`
	OTEL     bool   `koanf:"otel"`
	Output   string `koanf:"output"`
}

// TelemetryConfig holds OpenTelemetry exporter settings.
type TelemetryConfig struct {
	Enabled    bool    `koanf:"enabled"`
	Endpoint   string  `koanf:"endpoint"`
	Protocol   string  `koanf:"protocol"`
	Insecure   bool    `koanf:"insecure"`
	SampleRate float64 `koanf:"sample_rate"`
}

// EmbeddingsConfig configures the embedding gateway.
type EmbeddingsConfig struct {
	Provider  string      `koanf:"provider"`
	Model     string      `koanf:"model"`
	BaseURL   string      `koanf:"base_url"`
	APIKey    Secret      `koanf:"api_key"`
	Dimension int         `koanf:"dimension"`
	Timeout   Duration    `koanf:"timeout"`
	RateLimit float64     `koanf:"rate_limit"`
	Burst     int         `koanf:"burst"`
	CacheDir  string      `koanf:"cache_dir"`
	Cache     CacheConfig `koanf:"cache"`
}

// CacheConfig configures the optional embedding cache.
type CacheConfig struct {
	Backend string      `koanf:"backend"`
	Size    int         `koanf:"size"`
	TTL     Duration    `koanf:"ttl"`
	Redis   RedisConfig `koanf:"redis"`
}

// RedisConfig holds redis connection settings.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password Secret `koanf:"password"`
	DB       int    `koanf:"db"`
}

// GenerationConfig configures the generation model.
type GenerationConfig struct {
	Provider    string        `koanf:"provider"`
	Model       string        `koanf:"model"`
	BaseURL     string        `koanf:"base_url"`
	APIKey      Secret        `koanf:"api_key"`
	Temperature float64       `koanf:"temperature"`
	MaxTokens   int           `koanf:"max_tokens"`
	Timeout     Duration      `koanf:"timeout"`
	Breaker     BreakerConfig `koanf:"breaker"`
}

// BreakerConfig configures the generation circuit breaker.
type BreakerConfig struct {
	MaxFailures uint32   `koanf:"max_failures"`
	OpenTimeout Duration `koanf:"open_timeout"`
}

// VectorStoreConfig selects and configures the vector store backend.
type VectorStoreConfig struct {
	Provider   string         `koanf:"provider"`
	Collection string         `koanf:"collection"`
	Chromem    ChromemConfig  `koanf:"chromem"`
	Qdrant     QdrantConfig   `koanf:"qdrant"`
	Postgres   PostgresConfig `koanf:"postgres"`
}

// ChromemConfig configures the embedded chromem-go store.
type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// QdrantConfig configures the qdrant gRPC client.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	UseTLS bool   `koanf:"use_tls"`
	APIKey Secret `koanf:"api_key"`
}

// PostgresConfig configures the pgvector store.
type PostgresConfig struct {
	DSN          Secret `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

// RetrievalConfig holds retrieval defaults.
type RetrievalConfig struct {
	TopK        int     `koanf:"top_k"`
	MaxDistance float64 `koanf:"max_distance"`
}

// EventsConfig configures the NATS document-change subscriber.
type EventsConfig struct {
	Enabled       bool     `koanf:"enabled"`
	URL           string   `koanf:"url"`
	SubjectPrefix string   `koanf:"subject_prefix"`
	Queue         string   `koanf:"queue"`
	MaxRetries    uint64   `koanf:"max_retries"`
	DrainTimeout  Duration `koanf:"drain_timeout"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = Duration(90 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "openai"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "text-embedding-3-small"
	}
	if cfg.Embeddings.Dimension == 0 {
		cfg.Embeddings.Dimension = DimensionForModel(cfg.Embeddings.Model)
	}
	if cfg.Embeddings.Timeout == 0 {
		cfg.Embeddings.Timeout = Duration(10 * time.Second)
	}
	if cfg.Embeddings.Burst == 0 {
		cfg.Embeddings.Burst = 1
	}
	if cfg.Embeddings.Cache.Backend == "" {
		cfg.Embeddings.Cache.Backend = "none"
	}
	if cfg.Embeddings.Cache.Size == 0 {
		cfg.Embeddings.Cache.Size = 1024
	}
	if cfg.Embeddings.Cache.TTL == 0 {
		cfg.Embeddings.Cache.TTL = Duration(24 * time.Hour)
	}
	if cfg.Embeddings.Cache.Redis.Addr == "" {
		cfg.Embeddings.Cache.Redis.Addr = "localhost:6379"
	}

	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = "openai"
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = "gpt-4o-mini"
	}
	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = Duration(60 * time.Second)
	}
	if cfg.Generation.Breaker.MaxFailures == 0 {
		cfg.Generation.Breaker.MaxFailures = 5
	}
	if cfg.Generation.Breaker.OpenTimeout == 0 {
		cfg.Generation.Breaker.OpenTimeout = Duration(30 * time.Second)
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if cfg.VectorStore.Collection == "" {
		cfg.VectorStore.Collection = "course_embeddings"
	}
	if cfg.VectorStore.Chromem.Path == "" {
		cfg.VectorStore.Chromem.Path = "./data/vectorstore"
	}
	if cfg.VectorStore.Qdrant.Host == "" {
		cfg.VectorStore.Qdrant.Host = "localhost"
	}
	if cfg.VectorStore.Qdrant.Port == 0 {
		cfg.VectorStore.Qdrant.Port = 6334
	}
	if cfg.VectorStore.Postgres.MaxOpenConns == 0 {
		cfg.VectorStore.Postgres.MaxOpenConns = 10
	}

	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 4
	}

	if cfg.Events.URL == "" {
		cfg.Events.URL = "nats://127.0.0.1:4222"
	}
	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "lms.documents"
	}
	if cfg.Events.Queue == "" {
		cfg.Events.Queue = "coursechat"
	}
	if cfg.Events.MaxRetries == 0 {
		cfg.Events.MaxRetries = 3
	}
	if cfg.Events.DrainTimeout == 0 {
		cfg.Events.DrainTimeout = Duration(30 * time.Second)
	}
}

// DimensionForModel returns the vector size produced by known embedding models.
// Unknown models fall back to 1536.
func DimensionForModel(model string) int {
	switch strings.ToLower(model) {
	case "text-embedding-3-large":
		return 3072
	case "baai/bge-small-en-v1.5", "all-minilm-l6-v2", "sentence-transformers/all-minilm-l6-v2":
		return 384
	case "baai/bge-base-en-v1.5", "nomic-embed-text":
		return 768
	default:
		return 1536
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Server.RequestTimeout.Duration() < 0 {
		return errors.New("request timeout must not be negative")
	}

	switch c.Embeddings.Provider {
	case "openai", "fastembed":
	default:
		return fmt.Errorf("unsupported embeddings provider: %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimension <= 0 {
		return fmt.Errorf("embeddings dimension must be positive, got %d", c.Embeddings.Dimension)
	}
	if c.Embeddings.Timeout.Duration() <= 0 {
		return errors.New("embeddings timeout must be positive")
	}
	if c.Embeddings.RateLimit < 0 {
		return fmt.Errorf("embeddings rate_limit must be >= 0, got %v", c.Embeddings.RateLimit)
	}
	switch c.Embeddings.Cache.Backend {
	case "none", "memory", "redis":
	default:
		return fmt.Errorf("unsupported embeddings cache backend: %q", c.Embeddings.Cache.Backend)
	}

	switch c.Generation.Provider {
	case "openai", "ollama":
	default:
		return fmt.Errorf("unsupported generation provider: %q", c.Generation.Provider)
	}
	if c.Generation.Timeout.Duration() <= 0 {
		return errors.New("generation timeout must be positive")
	}

	switch c.VectorStore.Provider {
	case "memory", "chromem", "qdrant":
	case "postgres":
		if !c.VectorStore.Postgres.DSN.IsSet() {
			return errors.New("vectorstore.postgres.dsn is required for the postgres provider")
		}
	default:
		return fmt.Errorf("unsupported vectorstore provider: %q", c.VectorStore.Provider)
	}

	if c.Retrieval.TopK < 0 {
		return fmt.Errorf("retrieval top_k must be >= 0, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.MaxDistance < 0 || c.Retrieval.MaxDistance > 2 {
		return fmt.Errorf("retrieval max_distance must be within [0, 2], got %v", c.Retrieval.MaxDistance)
	}

	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return errors.New("telemetry endpoint required when telemetry is enabled")
	}

	return nil
}
