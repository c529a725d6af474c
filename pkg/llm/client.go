package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Client provides access to OpenAI-compatible embedding endpoints.
type Client struct {
	client   *openai.Client
	endpoint string
	logger   *zap.Logger
}

// Config holds configuration for creating an embedding client.
type Config struct {
	Endpoint string // Base URL, e.g., "https://api.openai.com/v1"
	APIKey   string // Optional for local endpoints
}

// NewClient creates a new OpenAI-compatible embedding client.
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(cfg.Endpoint, "/")

	return &Client{
		client:   openai.NewClientWithConfig(clientConfig),
		endpoint: cfg.Endpoint,
		logger:   logger.Named("llm"),
	}, nil
}

// CreateEmbedding generates an embedding vector for the input text.
func (c *Client) CreateEmbedding(ctx context.Context, input string, model string) ([]float32, error) {
	vectors, err := c.CreateEmbeddings(ctx, []string{input}, model)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// CreateEmbeddings generates embeddings for multiple inputs in one call.
func (c *Client) CreateEmbeddings(ctx context.Context, inputs []string, model string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	start := time.Now()

	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(model),
		Input: inputs,
	})
	if err != nil {
		c.logger.Error("embedding request failed",
			zap.String("model", model),
			zap.Int("inputs", len(inputs)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, ClassifyError(err)
	}

	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(resp.Data), len(inputs))
	}

	embeddings := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("empty embedding at index %d", i)
		}
		embeddings[i] = d.Embedding
	}

	c.logger.Debug("embedding request completed",
		zap.String("model", model),
		zap.Int("inputs", len(inputs)),
		zap.Duration("elapsed", time.Since(start)))

	return embeddings, nil
}
