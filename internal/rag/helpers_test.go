package rag_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/coursechat/internal/rag"
	"github.com/fyrsmithlabs/coursechat/internal/vectorstore"
)

const dim = 3

// stubEmbedder returns handcrafted vectors so nearest neighbours are known.
type stubEmbedder struct {
	mu       sync.Mutex
	vectors  map[string][]float32
	fallback []float32
	err      error
	delay    time.Duration
	calls    int
}

func newStubEmbedder(vectors map[string][]float32) *stubEmbedder {
	return &stubEmbedder{vectors: vectors, fallback: []float32{0, 0, 1}}
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	s.mu.Lock()
	s.calls++
	vec, ok := s.vectors[text]
	err, delay := s.err, s.delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		vec = s.fallback
	}
	return append([]float32(nil), vec...), nil
}

func (s *stubEmbedder) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *stubEmbedder) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// stubGenerator records prompts and returns a fixed reply.
type stubGenerator struct {
	mu      sync.Mutex
	reply   string
	err     error
	delay   time.Duration
	prompts []rag.Prompt
}

func (g *stubGenerator) Generate(ctx context.Context, p rag.Prompt) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, p)
	g.mu.Unlock()

	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return g.reply, g.err
}

func (g *stubGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

func newStore(t *testing.T) *vectorstore.MemoryStore {
	t.Helper()
	s, err := vectorstore.NewMemoryStore(dim, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// recordsFor returns every stored record for reference.
func recordsFor(t *testing.T, s vectorstore.Store, reference string) []vectorstore.Match {
	t.Helper()
	all, err := s.Search(context.Background(), []float32{1, 1, 1}, 1000)
	require.NoError(t, err)
	var out []vectorstore.Match
	for _, m := range all {
		if m.Reference == reference {
			out = append(out, m)
		}
	}
	return out
}
