package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

type askInput struct {
	Query string `json:"query" jsonschema:"The question to answer from course material"`
}

type askOutput struct {
	Answer string `json:"answer"`
}

type reindexInput struct {
	Reference string `json:"reference" jsonschema:"Opaque identifier of the source document"`
	Content   string `json:"content" jsonschema:"Full text to embed for the reference"`
}

type removeInput struct {
	Reference string `json:"reference" jsonschema:"Opaque identifier of the source document"`
}

type indexOutput struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "ask",
		Description: "Answer a question using only the indexed course material",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args askInput) (*mcp.CallToolResult, askOutput, error) {
		var answer string
		err := s.instrument(ctx, "ask", func(ctx context.Context) (err error) {
			answer, err = s.service.Answer(ctx, args.Query)
			return err
		})
		if err != nil {
			return nil, askOutput{}, err
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: answer}},
		}, askOutput{Answer: answer}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "reindex",
		Description: "Replace the stored embedding for a document reference with new content",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args reindexInput) (*mcp.CallToolResult, indexOutput, error) {
		err := s.instrument(ctx, "reindex", func(ctx context.Context) error {
			return s.service.Reindex(ctx, args.Reference, args.Content)
		})
		if err != nil {
			return nil, indexOutput{}, err
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Reindexed %s", args.Reference)}},
		}, indexOutput{Reference: args.Reference, Status: "indexed"}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "remove_reference",
		Description: "Delete every stored embedding for a document reference",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args removeInput) (*mcp.CallToolResult, indexOutput, error) {
		err := s.instrument(ctx, "remove_reference", func(ctx context.Context) error {
			return s.service.RemoveReference(ctx, args.Reference)
		})
		if err != nil {
			return nil, indexOutput{}, err
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Removed %s", args.Reference)}},
		}, indexOutput{Reference: args.Reference, Status: "removed"}, nil
	})
}

// instrument runs fn with metrics and logging, and maps its error for the
// client.
func (s *Server) instrument(ctx context.Context, tool string, fn func(context.Context) error) error {
	start := time.Now()
	s.metrics.IncrementActive(ctx, tool)
	err := fn(ctx)
	s.metrics.DecrementActive(ctx, tool)
	s.metrics.RecordInvocation(ctx, tool, time.Since(start), err)

	if err != nil {
		s.logger.Warn("tool call failed", zap.String("tool", tool), zap.Error(err))
		return toolError(err)
	}
	return nil
}
