package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/coursechat/internal/rag"
	"github.com/fyrsmithlabs/coursechat/internal/telemetry"
)

type fakeService struct {
	mu        sync.Mutex
	answer    string
	err       error
	reindexed map[string]string
	removed   []string
}

func (f *fakeService) Answer(_ context.Context, query string) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("%w: query is empty", rag.ErrInvalidQuery)
	}
	return f.answer, f.err
}

func (f *fakeService) Reindex(_ context.Context, reference, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.reindexed == nil {
		f.reindexed = map[string]string{}
	}
	f.reindexed[reference] = content
	return nil
}

func (f *fakeService) RemoveReference(_ context.Context, reference string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, reference)
	return f.err
}

// connect starts s on an in-memory transport and returns a client session.
func connect(t *testing.T, s *Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	ss, err := s.Connect(ctx, serverTransport)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func call(t *testing.T, cs *mcp.ClientSession, tool string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: tool, Arguments: args})
	require.NoError(t, err)
	return res
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestNewServer(t *testing.T) {
	_, err := NewServer(nil, nil)
	assert.Error(t, err)

	s, err := NewServer(nil, &fakeService{})
	require.NoError(t, err)
	assert.NotNil(t, s.mcp)
}

func TestServer_ListsTools(t *testing.T) {
	s, err := NewServer(nil, &fakeService{})
	require.NoError(t, err)
	cs := connect(t, s)

	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"ask", "reindex", "remove_reference"}, names)
}

func TestAskTool(t *testing.T) {
	s, err := NewServer(nil, &fakeService{answer: "Cloud computing is on-demand compute."})
	require.NoError(t, err)
	cs := connect(t, s)

	res := call(t, cs, "ask", map[string]any{"query": "What is cloud computing?"})
	assert.False(t, res.IsError)
	assert.Equal(t, "Cloud computing is on-demand compute.", text(t, res))
}

func TestAskTool_Errors(t *testing.T) {
	t.Run("empty query", func(t *testing.T) {
		s, err := NewServer(nil, &fakeService{answer: "x"})
		require.NoError(t, err)
		res := call(t, connect(t, s), "ask", map[string]any{"query": ""})
		assert.True(t, res.IsError)
		assert.Contains(t, text(t, res), "invalid query")
	})

	t.Run("internal error is hidden", func(t *testing.T) {
		s, err := NewServer(nil, &fakeService{err: errors.New("dsn=postgres://secret")})
		require.NoError(t, err)
		res := call(t, connect(t, s), "ask", map[string]any{"query": "q"})
		assert.True(t, res.IsError)
		assert.NotContains(t, text(t, res), "secret")
	})
}

func TestReindexAndRemoveTools(t *testing.T) {
	svc := &fakeService{}
	s, err := NewServer(nil, svc)
	require.NoError(t, err)
	cs := connect(t, s)

	res := call(t, cs, "reindex", map[string]any{"reference": "course-1", "content": "Cloud fundamentals"})
	require.False(t, res.IsError, text(t, res))
	assert.Equal(t, "Reindexed course-1", text(t, res))
	assert.Equal(t, "Cloud fundamentals", svc.reindexed["course-1"])

	res = call(t, cs, "remove_reference", map[string]any{"reference": "course-1"})
	require.False(t, res.IsError, text(t, res))
	assert.Equal(t, "Removed course-1", text(t, res))
	assert.Equal(t, []string{"course-1"}, svc.removed)
}

func TestToolMetrics(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	s, err := NewServer(&Config{Name: "coursechat", Meter: tel.Meter("test")}, &fakeService{answer: "a"})
	require.NoError(t, err)
	cs := connect(t, s)

	call(t, cs, "ask", map[string]any{"query": "q"})
	call(t, cs, "ask", map[string]any{"query": " "})

	names := tel.MetricNames(context.Background())
	assert.Contains(t, names, "coursechat.mcp.tool.invocations_total")
	assert.Contains(t, names, "coursechat.mcp.tool.errors_total")
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("%w: %w", rag.ErrEmbeddingGeneration, context.DeadlineExceeded), "timeout"},
		{rag.ErrInvalidQuery, "validation_error"},
		{rag.ErrInvalidDocument, "validation_error"},
		{rag.ErrEmbeddingGeneration, "embedding_error"},
		{rag.ErrGeneration, "generation_error"},
		{errors.New("boom"), "internal_error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, categorizeError(tt.err))
	}
}
