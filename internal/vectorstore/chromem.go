package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

const (
	metaReference = "reference"
	metaSeq       = "seq"
)

var errNoEmbeddingFunc = errors.New("chromem store only accepts precomputed embeddings")

// ChromemConfig holds configuration for the chromem-go embedded database.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty keeps data in memory.
	Path string

	// Compress enables gzip compression of persisted documents.
	Compress bool

	// Collection is the collection holding every record.
	Collection string

	// Dimension is the fixed embedding length.
	Dimension int
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "course_embeddings"
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return nil
}

// ChromemStore implements Store on chromem-go.
//
// chromem-go ranks by cosine similarity but has no notion of insertion
// order, so Search pulls every candidate and re-ranks with rank. The store
// lock keeps the collection size stable between Count and Query.
type ChromemStore struct {
	mu         sync.RWMutex
	db         *chromem.DB
	collection *chromem.Collection
	config     ChromemConfig
	seq        *sequencer
	logger     *zap.Logger
}

// NewChromemStore opens (or creates) the persistent database at config.Path.
func NewChromemStore(config ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	var db *chromem.DB
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandPath(config.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(path, 0o750); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		db, err = chromem.NewPersistentDB(path, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
		config.Path = path
	}

	collection, err := db.GetOrCreateCollection(config.Collection, nil, rejectEmbed)
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", config.Collection, err)
	}

	logger.Info("chromem store initialized",
		zap.String("path", config.Path),
		zap.Bool("compress", config.Compress),
		zap.String("collection", config.Collection),
		zap.Int("dimension", config.Dimension),
		zap.Int("records", collection.Count()),
	)

	return &ChromemStore{
		db:         db,
		collection: collection,
		config:     config,
		seq:        newSequencer(),
		logger:     logger,
	}, nil
}

func rejectEmbed(context.Context, string) ([]float32, error) {
	return nil, errNoEmbeddingFunc
}

// expandPath expands a leading ~ to the home directory.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// Insert implements Store.
func (s *ChromemStore) Insert(ctx context.Context, rec Record) (string, error) {
	if err := validateRecord(rec, s.config.Dimension); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	seq := s.seq.next()
	doc := chromem.Document{
		ID:      id,
		Content: rec.Content,
		Metadata: map[string]string{
			metaReference: rec.Reference,
			metaSeq:       strconv.FormatInt(seq, 10),
		},
		Embedding: append([]float32(nil), rec.Embedding...),
	}
	if err := s.collection.AddDocument(ctx, doc); err != nil {
		return "", fmt.Errorf("adding document: %w", err)
	}

	s.logger.Debug("inserted record into chromem",
		zap.String("id", id),
		zap.String("reference", rec.Reference),
	)
	return id, nil
}

// DeleteByReference implements Store.
func (s *ChromemStore) DeleteByReference(ctx context.Context, reference string) error {
	if err := validateReference(reference); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.collection.Delete(ctx, map[string]string{metaReference: reference}, nil); err != nil {
		return fmt.Errorf("deleting reference %s: %w", reference, err)
	}
	s.logger.Debug("deleted chromem records by reference", zap.String("reference", reference))
	return nil
}

// Search implements Store.
func (s *ChromemStore) Search(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	if topK < 0 {
		return nil, ErrInvalidTopK
	}
	if err := validateVector(vector, s.config.Dimension); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	count := s.collection.Count()
	if topK == 0 || count == 0 {
		return []Match{}, nil
	}

	results, err := s.collection.QueryEmbedding(ctx, vector, count, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", s.config.Collection, err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		seq, err := strconv.ParseInt(r.Metadata[metaSeq], 10, 64)
		if err != nil {
			s.logger.Warn("record without sequence metadata", zap.String("id", r.ID))
		}
		matches = append(matches, Match{
			Record: Record{
				ID:        r.ID,
				Reference: r.Metadata[metaReference],
				Content:   r.Content,
				Embedding: r.Embedding,
				Seq:       seq,
			},
			Distance: 1 - float64(r.Similarity),
		})
	}
	return rank(matches, topK), nil
}

// Dimension implements Store.
func (s *ChromemStore) Dimension() int { return s.config.Dimension }

// Close implements Store. Persistent writes are flushed on each insert.
func (s *ChromemStore) Close() error { return nil }

var _ Store = (*ChromemStore)(nil)
