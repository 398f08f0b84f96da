package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coursechat/internal/config"
)

const cacheKeyPrefix = "coursechat:embedding:"

// Cache stores vectors by key. A miss is (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, vec []float32) error
	Close() error
}

// NewCache builds the cache backend named by cfg.Backend. "none" (or empty)
// returns a nil Cache.
func NewCache(cfg config.CacheConfig) (Cache, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "memory":
		return NewMemoryCache(cfg.Size)
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password.Value(),
			DB:       cfg.Redis.DB,
		})
		return NewRedisCache(client, cfg.TTL.Duration()), nil
	default:
		return nil, fmt.Errorf("%w: unknown cache backend %q", ErrInvalidConfig, cfg.Backend)
	}
}

// CacheKey derives the cache key for text embedded by model.
func CacheKey(model, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return cacheKeyPrefix + hex.EncodeToString(h.Sum(nil))
}

// MemoryCache is an in-process LRU of vectors.
type MemoryCache struct {
	lru *lru.Cache[string, []float32]
}

// NewMemoryCache creates an LRU holding at most size vectors.
func NewMemoryCache(size int) (*MemoryCache, error) {
	c, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &MemoryCache{lru: c}, nil
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]float32, bool, error) {
	vec, ok := c.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	return append([]float32(nil), vec...), true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, vec []float32) error {
	c.lru.Add(key, append([]float32(nil), vec...))
	return nil
}

func (c *MemoryCache) Close() error {
	c.lru.Purge()
	return nil
}

// Len returns the number of cached vectors.
func (c *MemoryCache) Len() int { return c.lru.Len() }

// RedisCache stores vectors in redis as little-endian float32 bytes.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache wraps client. A zero ttl keeps entries until evicted.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	vec, err := decodeVector(raw)
	if err != nil {
		return nil, false, err
	}
	return vec, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, vec []float32) error {
	return c.client.Set(ctx, key, encodeVector(vec), c.ttl).Err()
}

func (c *RedisCache) Close() error { return c.client.Close() }

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("corrupt cached vector: %d bytes", len(raw))
	}
	vec := make([]float32, len(raw)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return vec, nil
}

// CachedEmbedder is a read-through cache in front of a Provider. Cache
// errors are logged and the provider is called as if the entry were missing.
type CachedEmbedder struct {
	Provider
	cache   Cache
	model   string
	metrics *Metrics
	logger  *zap.Logger
}

// NewCachedEmbedder wraps p.
func NewCachedEmbedder(p Provider, cache Cache, model string, logger *zap.Logger) *CachedEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedEmbedder{
		Provider: p,
		cache:    cache,
		model:    model,
		metrics:  NewMetrics(nil, logger),
		logger:   logger,
	}
}

// EmbedQuery implements Provider. Query and document vectors are cached
// under separate keys.
func (c *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := CacheKey(c.model+"/query", text)
	if vec, ok := c.lookup(ctx, key); ok {
		return vec, nil
	}
	vec, err := c.Provider.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, vec)
	return vec, nil
}

// EmbedDocuments implements Provider. Only the texts missing from the cache
// are sent to the provider, in one batch.
func (c *CachedEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	var missing []int
	for i, t := range texts {
		keys[i] = CacheKey(c.model+"/document", t)
		if vec, ok := c.lookup(ctx, keys[i]); ok {
			out[i] = vec
			continue
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	batch := make([]string, len(missing))
	for j, i := range missing {
		batch[j] = texts[i]
	}
	vectors, err := c.Provider.EmbedDocuments(ctx, batch)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(batch) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vectors), len(batch))
	}
	for j, i := range missing {
		out[i] = vectors[j]
		c.store(ctx, keys[i], vectors[j])
	}
	return out, nil
}

func (c *CachedEmbedder) lookup(ctx context.Context, key string) ([]float32, bool) {
	vec, ok, err := c.cache.Get(ctx, key)
	switch {
	case err != nil:
		c.metrics.RecordCacheLookup(ctx, "error")
		c.logger.Warn("embedding cache read failed", zap.Error(err))
		return nil, false
	case !ok || !c.valid(vec):
		c.metrics.RecordCacheLookup(ctx, "miss")
		return nil, false
	default:
		c.metrics.RecordCacheLookup(ctx, "hit")
		return vec, true
	}
}

// valid reports whether vec is fit to cache or serve from the cache. A
// provider without a fixed dimension only gets the norm check.
func (c *CachedEmbedder) valid(vec []float32) bool {
	dim := c.Provider.Dimension()
	if dim <= 0 {
		dim = len(vec)
	}
	return checkVector(vec, dim) == nil
}

func (c *CachedEmbedder) store(ctx context.Context, key string, vec []float32) {
	if !c.valid(vec) {
		c.logger.Debug("not caching unusable vector", zap.Int("length", len(vec)))
		return
	}
	if err := c.cache.Set(ctx, key, vec); err != nil {
		c.logger.Warn("embedding cache write failed", zap.Error(err))
	}
}

// Close closes the cache and the wrapped provider.
func (c *CachedEmbedder) Close() error {
	return errors.Join(c.cache.Close(), c.Provider.Close())
}

var _ Provider = (*CachedEmbedder)(nil)
