package rag

import "context"

// Embedder turns text into a vector. It is the embedding gateway port.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// DocumentEmbedder is implemented by embedders that embed stored passages
// differently from queries. The Indexer prefers it when available.
type DocumentEmbedder interface {
	EmbedDocument(ctx context.Context, text string) ([]float32, error)
}

// Generator produces the answer text for a prompt. It is the generation
// model port.
type Generator interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
}

// EmbedderFunc adapts a function to Embedder.
type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

// Embed implements Embedder.
func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) { return f(ctx, text) }

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt Prompt) (string, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, prompt Prompt) (string, error) {
	return f(ctx, prompt)
}
