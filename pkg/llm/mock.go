package llm

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
)

// MockEmbeddingClient is a deterministic in-memory EmbeddingClient for tests.
// Vectors are derived from the input text so identical texts embed
// identically and different texts differ.
type MockEmbeddingClient struct {
	mu        sync.Mutex
	Dimension int
	Err       error       // returned from every call when set
	Responses [][]float32 // returned verbatim when non-nil, ignoring inputs
	Calls     [][]string
}

// NewMockEmbeddingClient creates a mock producing vectors of the given dimension.
func NewMockEmbeddingClient(dimension int) *MockEmbeddingClient {
	return &MockEmbeddingClient{Dimension: dimension}
}

// CreateEmbedding implements EmbeddingClient.
func (m *MockEmbeddingClient) CreateEmbedding(ctx context.Context, input string, model string) ([]float32, error) {
	vectors, err := m.CreateEmbeddings(ctx, []string{input}, model)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// CreateEmbeddings implements EmbeddingClient.
func (m *MockEmbeddingClient) CreateEmbeddings(ctx context.Context, inputs []string, model string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, inputs)
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Responses != nil {
		return m.Responses, nil
	}

	vectors := make([][]float32, len(inputs))
	for i, input := range inputs {
		vectors[i] = m.vectorFor(input)
	}
	return vectors, nil
}

// CallCount returns the number of provider calls made.
func (m *MockEmbeddingClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

func (m *MockEmbeddingClient) vectorFor(input string) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(input))
	seed := h.Sum64()

	vector := make([]float32, m.Dimension)
	for i := range vector {
		seed = seed*6364136223846793005 + 1442695040888963407
		vector[i] = float32(math.Sin(float64(seed % 1000)))
	}
	return vector
}
