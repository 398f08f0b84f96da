package rag

import "errors"

var (
	// ErrEmbeddingGeneration indicates the embedding model returned nothing
	// usable: an error, an empty vector, a vector of the wrong length, or no
	// answer before the embedding timeout.
	ErrEmbeddingGeneration = errors.New("embedding generation failed")

	// ErrInvalidQuery indicates an empty or whitespace-only query.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrGeneration indicates the generation model failed or returned no output.
	ErrGeneration = errors.New("generation failed")

	// ErrReferenceNotFound indicates the document owning a reference no longer
	// exists. Collaborators raise it; the core never does.
	ErrReferenceNotFound = errors.New("reference not found")

	// ErrInvalidDocument indicates an empty reference or empty content at
	// ingestion.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrInvalidTopK indicates a negative topK.
	ErrInvalidTopK = errors.New("topK must be >= 0")
)
