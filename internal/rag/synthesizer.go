package rag

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Synthesizer turns retrieved passages and a query into an answer.
type Synthesizer struct {
	generator   Generator
	instruction string
	timeout     time.Duration
}

// NewSynthesizer creates a Synthesizer. An empty instruction uses
// SystemInstruction; timeout bounds each generation call.
func NewSynthesizer(generator Generator, instruction string, timeout time.Duration) *Synthesizer {
	if instruction == "" {
		instruction = SystemInstruction
	}
	return &Synthesizer{generator: generator, instruction: instruction, timeout: timeout}
}

// Answer grounds query in contents and returns the model output verbatim.
func (s *Synthesizer) Answer(ctx context.Context, query string, contents []string) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("%w: query is empty", ErrInvalidQuery)
	}
	prompt := BuildPrompt(s.instruction, GroundingBlock(contents), query)

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	out, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("%w: model returned no output", ErrGeneration)
	}
	return out, nil
}
