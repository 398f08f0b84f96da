package vectorstore_test

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coursechat/internal/vectorstore"
)

const testDim = 3

var (
	vecX  = []float32{1, 0, 0}
	vecY  = []float32{0, 1, 0}
	vecZ  = []float32{0, 0, 1}
	vecXY = []float32{1, 1, 0}
)

type storeFactory func(t *testing.T) vectorstore.Store

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) vectorstore.Store {
			s, err := vectorstore.NewMemoryStore(testDim, zap.NewNop())
			require.NoError(t, err)
			return s
		},
		"chromem": func(t *testing.T) vectorstore.Store {
			s, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{Dimension: testDim}, zap.NewNop())
			require.NoError(t, err)
			return s
		},
		"chromem_persistent": func(t *testing.T) vectorstore.Store {
			s, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{
				Path:      t.TempDir(),
				Dimension: testDim,
			}, zap.NewNop())
			require.NoError(t, err)
			return s
		},
		"instrumented_memory": func(t *testing.T) vectorstore.Store {
			s, err := vectorstore.NewMemoryStore(testDim, zap.NewNop())
			require.NoError(t, err)
			return vectorstore.Instrument(s, "memory")
		},
	}
}

func insert(t *testing.T, s vectorstore.Store, ref, content string, vec []float32) string {
	t.Helper()
	id, err := s.Insert(context.Background(), vectorstore.Record{Reference: ref, Content: content, Embedding: vec})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	return id
}

func contents(matches []vectorstore.Match) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Content
	}
	return out
}

func TestStore_SearchOrdersByDistance(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()

			insert(t, s, "doc-y", "about y", vecY)
			insert(t, s, "doc-xy", "about x and y", vecXY)
			insert(t, s, "doc-x", "about x", vecX)

			matches, err := s.Search(context.Background(), vecX, 3)
			require.NoError(t, err)
			assert.Equal(t, []string{"about x", "about x and y", "about y"}, contents(matches))
			assert.InDelta(t, 0.0, matches[0].Distance, 1e-5)
			assert.InDelta(t, 0.2928932, matches[1].Distance, 1e-5)
			assert.InDelta(t, 1.0, matches[2].Distance, 1e-5)
			assert.Equal(t, "doc-x", matches[0].Reference)
		})
	}
}

func TestStore_SearchTruncatesToTopK(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()

			insert(t, s, "a", "x", vecX)
			insert(t, s, "b", "y", vecY)
			insert(t, s, "c", "z", vecZ)

			matches, err := s.Search(context.Background(), vecX, 2)
			require.NoError(t, err)
			require.Len(t, matches, 2)
			assert.Equal(t, "x", matches[0].Content)

			all, err := s.Search(context.Background(), vecX, 10)
			require.NoError(t, err)
			assert.Len(t, all, 3)
		})
	}
}

func TestStore_TiesBreakByInsertionOrder(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()

			insert(t, s, "first", "first", vecZ)
			insert(t, s, "second", "second", vecZ)
			insert(t, s, "third", "third", vecZ)

			matches, err := s.Search(context.Background(), vecZ, 3)
			require.NoError(t, err)
			assert.Equal(t, []string{"first", "second", "third"}, contents(matches))

			matches, err = s.Search(context.Background(), vecZ, 1)
			require.NoError(t, err)
			assert.Equal(t, []string{"first"}, contents(matches))
		})
	}
}

func TestStore_EmptyResults(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()

			matches, err := s.Search(context.Background(), vecX, 5)
			require.NoError(t, err)
			assert.NotNil(t, matches)
			assert.Empty(t, matches)

			insert(t, s, "a", "x", vecX)
			matches, err = s.Search(context.Background(), vecX, 0)
			require.NoError(t, err)
			assert.NotNil(t, matches)
			assert.Empty(t, matches)
		})
	}
}

func TestStore_RejectsInvalidInput(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			ctx := context.Background()

			_, err := s.Search(ctx, vecX, -1)
			assert.ErrorIs(t, err, vectorstore.ErrInvalidTopK)

			_, err = s.Search(ctx, []float32{1, 0}, 1)
			assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)

			_, err = s.Insert(ctx, vectorstore.Record{Reference: "a", Content: "x", Embedding: []float32{1}})
			assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)

			_, err = s.Insert(ctx, vectorstore.Record{Content: "x", Embedding: vecX})
			assert.ErrorIs(t, err, vectorstore.ErrInvalidRecord)

			_, err = s.Insert(ctx, vectorstore.Record{Reference: "a", Embedding: vecX})
			assert.ErrorIs(t, err, vectorstore.ErrInvalidRecord)

			assert.ErrorIs(t, s.DeleteByReference(ctx, ""), vectorstore.ErrInvalidRecord)
		})
	}
}

func TestStore_RejectsZeroAndNonFiniteVectors(t *testing.T) {
	unusable := map[string][]float32{
		"zero":     {0, 0, 0},
		"nan":      {float32(math.NaN()), 1, 0},
		"infinite": {float32(math.Inf(1)), 0, 0},
	}
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			ctx := context.Background()
			insert(t, s, "ok", "usable", vecX)

			for vname, vec := range unusable {
				_, err := s.Insert(ctx, vectorstore.Record{Reference: "bad", Content: vname, Embedding: vec})
				assert.ErrorIs(t, err, vectorstore.ErrInvalidVector, vname)

				_, err = s.Search(ctx, vec, 1)
				assert.ErrorIs(t, err, vectorstore.ErrInvalidVector, vname)
			}

			matches, err := s.Search(ctx, vecX, 10)
			require.NoError(t, err)
			require.Len(t, matches, 1)
			assert.Equal(t, "usable", matches[0].Content)
			assert.InDelta(t, 0, matches[0].Distance, 1e-6)
		})
	}
}

func TestStore_DeleteByReference(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			ctx := context.Background()

			insert(t, s, "keep", "kept", vecX)
			insert(t, s, "drop", "dropped one", vecX)
			insert(t, s, "drop", "dropped two", vecY)

			require.NoError(t, s.DeleteByReference(ctx, "drop"))

			matches, err := s.Search(ctx, vecX, 10)
			require.NoError(t, err)
			assert.Equal(t, []string{"kept"}, contents(matches))

			// Deleting again, or deleting something never stored, is a no-op.
			require.NoError(t, s.DeleteByReference(ctx, "drop"))
			require.NoError(t, s.DeleteByReference(ctx, "never-indexed"))

			matches, err = s.Search(ctx, vecX, 10)
			require.NoError(t, err)
			assert.Len(t, matches, 1)
		})
	}
}

func TestStore_ReinsertAfterDeleteReplacesContent(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			ctx := context.Background()

			insert(t, s, "course-1", "old text", vecX)
			require.NoError(t, s.DeleteByReference(ctx, "course-1"))
			insert(t, s, "course-1", "new text", vecX)

			matches, err := s.Search(ctx, vecX, 10)
			require.NoError(t, err)
			assert.Equal(t, []string{"new text"}, contents(matches))
		})
	}
}

func TestStore_ConcurrentInsertAndSearch(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			ctx := context.Background()

			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(2)
				go func() {
					defer wg.Done()
					_, err := s.Insert(ctx, vectorstore.Record{Reference: "r", Content: "c", Embedding: vecXY})
					assert.NoError(t, err)
				}()
				go func() {
					defer wg.Done()
					_, err := s.Search(ctx, vecX, 4)
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			matches, err := s.Search(ctx, vecX, 100)
			require.NoError(t, err)
			assert.Len(t, matches, 8)
		})
	}
}

func TestMemoryStore_ClosedStore(t *testing.T) {
	s, err := vectorstore.NewMemoryStore(testDim, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Insert(context.Background(), vectorstore.Record{Reference: "a", Content: "x", Embedding: vecX})
	assert.ErrorIs(t, err, vectorstore.ErrClosed)
	_, err = s.Search(context.Background(), vecX, 1)
	assert.ErrorIs(t, err, vectorstore.ErrClosed)
	assert.ErrorIs(t, s.DeleteByReference(context.Background(), "a"), vectorstore.ErrClosed)
}

func TestMemoryStore_CopiesEmbedding(t *testing.T) {
	s, err := vectorstore.NewMemoryStore(testDim, nil)
	require.NoError(t, err)

	vec := []float32{1, 0, 0}
	insert(t, s, "a", "x", vec)
	vec[0], vec[1] = 0, 1

	matches, err := s.Search(context.Background(), []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, matches[0].Distance, 1e-9)
	assert.Equal(t, 1, s.Count())
}

func TestNewMemoryStore_InvalidDimension(t *testing.T) {
	_, err := vectorstore.NewMemoryStore(0, nil)
	assert.ErrorIs(t, err, vectorstore.ErrInvalidConfig)
}

func TestChromemStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := vectorstore.ChromemConfig{Path: dir, Dimension: testDim, Collection: "persist_test"}

	s, err := vectorstore.NewChromemStore(cfg, nil)
	require.NoError(t, err)
	insert(t, s, "a", "first", vecX)
	insert(t, s, "b", "second", vecX)
	require.NoError(t, s.Close())

	reopened, err := vectorstore.NewChromemStore(cfg, nil)
	require.NoError(t, err)
	defer reopened.Close()

	matches, err := reopened.Search(context.Background(), vecX, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, contents(matches))

	// New inserts after reopen still sort after the persisted ones.
	insert(t, reopened, "c", "third", vecX)
	matches, err = reopened.Search(context.Background(), vecX, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, contents(matches))
}

func TestChromemConfig_Validate(t *testing.T) {
	_, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{}, nil)
	assert.ErrorIs(t, err, vectorstore.ErrInvalidConfig)
}
