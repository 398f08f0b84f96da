package vectorstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MemoryStore keeps records in process memory and searches them exactly.
// It backs tests and single-node deployments that can afford to re-index on
// restart.
type MemoryStore struct {
	mu      sync.RWMutex
	dim     int
	records []Record
	seq     int64
	closed  bool
	logger  *zap.Logger
}

// NewMemoryStore creates an empty in-memory store for vectors of length dim.
func NewMemoryStore(dim int, logger *zap.Logger) (*MemoryStore, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidConfig, dim)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{dim: dim, logger: logger}, nil
}

// Insert implements Store.
func (s *MemoryStore) Insert(ctx context.Context, rec Record) (string, error) {
	if err := validateRecord(rec, s.dim); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}

	s.seq++
	rec.ID = uuid.NewString()
	rec.Seq = s.seq
	rec.Embedding = append([]float32(nil), rec.Embedding...)
	s.records = append(s.records, rec)

	s.logger.Debug("inserted record",
		zap.String("id", rec.ID),
		zap.String("reference", rec.Reference),
	)
	return rec.ID, nil
}

// DeleteByReference implements Store.
func (s *MemoryStore) DeleteByReference(ctx context.Context, reference string) error {
	if err := validateReference(reference); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	kept := s.records[:0]
	for _, rec := range s.records {
		if rec.Reference != reference {
			kept = append(kept, rec)
		}
	}
	removed := len(s.records) - len(kept)
	for i := len(kept); i < len(s.records); i++ {
		s.records[i] = Record{}
	}
	s.records = kept

	s.logger.Debug("deleted records by reference",
		zap.String("reference", reference),
		zap.Int("removed", removed),
	)
	return nil
}

// Search implements Store.
func (s *MemoryStore) Search(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	if topK < 0 {
		return nil, ErrInvalidTopK
	}
	if err := validateVector(vector, s.dim); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if topK == 0 || len(s.records) == 0 {
		return []Match{}, nil
	}

	matches := make([]Match, len(s.records))
	for i, rec := range s.records {
		matches[i] = Match{Record: rec, Distance: CosineDistance(vector, rec.Embedding)}
	}
	return rank(matches, topK), nil
}

// Count returns the number of stored records.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Dimension implements Store.
func (s *MemoryStore) Dimension() int { return s.dim }

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.records = nil
	return nil
}

var _ Store = (*MemoryStore)(nil)
