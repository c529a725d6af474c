// Package llm provides the embedding provider abstraction over
// OpenAI-compatible endpoints.
package llm

import "context"

// EmbeddingClient is the black-box text-to-vector function consumed by the
// embedding worker and the similarity ranker. Use this interface for
// dependency injection to enable mocking in tests.
type EmbeddingClient interface {
	// CreateEmbedding generates an embedding vector for the input text.
	CreateEmbedding(ctx context.Context, input string, model string) ([]float32, error)

	// CreateEmbeddings generates embeddings for multiple inputs in one call.
	CreateEmbeddings(ctx context.Context, inputs []string, model string) ([][]float32, error)
}

// Ensure Client implements EmbeddingClient at compile time.
var _ EmbeddingClient = (*Client)(nil)
