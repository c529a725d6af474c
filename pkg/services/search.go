package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/remlabs/rem-engine/pkg/apperrors"
	"github.com/remlabs/rem-engine/pkg/llm"
	"github.com/remlabs/rem-engine/pkg/models"
	"github.com/remlabs/rem-engine/pkg/repositories"
)

// Similarity search defaults.
const (
	DefaultSearchProvider      = "openai"
	DefaultSearchField         = models.FieldContent
	DefaultSearchMinSimilarity = 0.3
	DefaultSearchLimit         = 10
)

// SearchOptions tune a similarity search. Zero values fall back to defaults.
type SearchOptions struct {
	Collection    string
	FieldName     string
	Provider      string
	MinSimilarity float64
	Limit         int
	TenantID      *uuid.UUID
	UserID        *uuid.UUID
}

// SimilarityRanker embeds query text with the same provider abstraction the
// worker uses and ranks stored vectors by cosine similarity.
type SimilarityRanker interface {
	Search(ctx context.Context, queryText string, opts SearchOptions) ([]*models.ScoredEntity, error)
}

type similarityRanker struct {
	embeddingRepo repositories.EmbeddingRepository
	providers     *llm.Registry
	logger        *zap.Logger
}

// NewSimilarityRanker creates a new SimilarityRanker.
func NewSimilarityRanker(
	embeddingRepo repositories.EmbeddingRepository,
	providers *llm.Registry,
	logger *zap.Logger,
) SimilarityRanker {
	return &similarityRanker{
		embeddingRepo: embeddingRepo,
		providers:     providers,
		logger:        logger.Named("search"),
	}
}

var _ SimilarityRanker = (*similarityRanker)(nil)

func (s *similarityRanker) Search(ctx context.Context, queryText string, opts SearchOptions) ([]*models.ScoredEntity, error) {
	if queryText == "" {
		return nil, fmt.Errorf("query text is required: %w", apperrors.ErrInvalidKey)
	}
	if opts.Provider == "" {
		opts.Provider = DefaultSearchProvider
	}
	if opts.FieldName == "" {
		opts.FieldName = DefaultSearchField
	}
	if opts.MinSimilarity <= 0 {
		opts.MinSimilarity = DefaultSearchMinSimilarity
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultSearchLimit
	}

	if _, err := models.CollectionByName(opts.Collection); err != nil {
		return nil, fmt.Errorf("collection %q: %w", opts.Collection, err)
	}

	provider, err := s.providers.Get(opts.Provider)
	if err != nil {
		return nil, err
	}

	// Fail fast before calling the provider: an empty vector table or a
	// dimension mismatch is a configuration problem, not a transient one,
	// and must be distinguishable from a provider outage on the write side.
	storedDimension, err := s.embeddingRepo.StoredDimension(ctx, opts.Collection, opts.FieldName, opts.Provider)
	if err != nil {
		return nil, fmt.Errorf("check stored vectors: %w", err)
	}
	if storedDimension == 0 {
		return nil, fmt.Errorf("no vectors stored for %s/%s with provider %s: %w",
			opts.Collection, opts.FieldName, opts.Provider, apperrors.ErrConfiguration)
	}
	if storedDimension != provider.Dimension {
		return nil, fmt.Errorf("provider %s produces %d-dimensional vectors but %s/%s stores %d: %w",
			opts.Provider, provider.Dimension, opts.Collection, opts.FieldName,
			storedDimension, apperrors.ErrConfiguration)
	}

	vector, err := provider.Client.CreateEmbedding(ctx, queryText, provider.Model)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vector) != provider.Dimension {
		return nil, fmt.Errorf("provider %s returned a %d-dimensional vector, declared %d: %w",
			opts.Provider, len(vector), provider.Dimension, apperrors.ErrConfiguration)
	}

	results, err := s.embeddingRepo.SearchSimilar(ctx, repositories.SearchParams{
		Vector:        vector,
		Collection:    opts.Collection,
		FieldName:     opts.FieldName,
		Provider:      opts.Provider,
		MinSimilarity: opts.MinSimilarity,
		Limit:         opts.Limit,
		TenantID:      opts.TenantID,
		UserID:        opts.UserID,
	})
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	s.logger.Debug("similarity search completed",
		zap.String("collection", opts.Collection),
		zap.String("provider", opts.Provider),
		zap.Int("results", len(results)))

	return results, nil
}
