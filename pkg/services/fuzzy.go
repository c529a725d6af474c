package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/remlabs/rem-engine/pkg/models"
	"github.com/remlabs/rem-engine/pkg/repositories"
)

// Fuzzy matching defaults.
const (
	DefaultFuzzyThreshold = 0.3
	DefaultFuzzyLimit     = 10
)

// FuzzyMatch pairs an index row with its similarity score.
type FuzzyMatch struct {
	Row   *models.EntityIndexRow `json:"row"`
	Score float64                `json:"score"`
}

// FuzzyOptions tune a fuzzy match. Zero values fall back to defaults.
type FuzzyOptions struct {
	Threshold float64
	Limit     int
	TenantID  *uuid.UUID
	UserID    *uuid.UUID
}

// FuzzyMatcher scores candidate index rows against a query with a
// trigram similarity measure. An empty result is not an error: it signals
// that no sufficiently similar entity exists, distinct from NotFound.
type FuzzyMatcher interface {
	Match(ctx context.Context, query string, opts FuzzyOptions) ([]*FuzzyMatch, error)
}

type fuzzyMatcher struct {
	indexRepo repositories.EntityIndexRepository
	logger    *zap.Logger
}

// NewFuzzyMatcher creates a new FuzzyMatcher.
func NewFuzzyMatcher(indexRepo repositories.EntityIndexRepository, logger *zap.Logger) FuzzyMatcher {
	return &fuzzyMatcher{
		indexRepo: indexRepo,
		logger:    logger.Named("fuzzy"),
	}
}

var _ FuzzyMatcher = (*fuzzyMatcher)(nil)

func (m *fuzzyMatcher) Match(ctx context.Context, query string, opts FuzzyOptions) ([]*FuzzyMatch, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultFuzzyThreshold
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultFuzzyLimit
	}

	candidates, err := m.indexRepo.ListForMatch(ctx, opts.TenantID, opts.UserID)
	if err != nil {
		return nil, fmt.Errorf("list match candidates: %w", err)
	}

	queryGrams := trigramSet(query)

	var matches []*FuzzyMatch
	for _, row := range candidates {
		// Per-row score is the better of the key match and the summary match.
		score := trigramSimilarity(queryGrams, trigramSet(row.EntityKey))
		if summaryScore := trigramSimilarity(queryGrams, trigramSet(row.ContentSummary)); summaryScore > score {
			score = summaryScore
		}
		if score < opts.Threshold {
			continue
		}
		matches = append(matches, &FuzzyMatch{Row: row, Score: score})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Row.EntityKey < matches[j].Row.EntityKey
	})

	if len(matches) > opts.Limit {
		matches = matches[:opts.Limit]
	}

	return matches, nil
}

// trigramSet extracts the padded trigram set of a string, following the
// pg_trgm convention: lowercase, words padded with two leading and one
// trailing space.
func trigramSet(s string) map[string]struct{} {
	grams := make(map[string]struct{})
	for _, word := range strings.Fields(strings.ToLower(s)) {
		padded := "  " + word + " "
		for i := 0; i+3 <= len(padded); i++ {
			grams[padded[i:i+3]] = struct{}{}
		}
	}
	return grams
}

// trigramSimilarity is the Jaccard ratio of two trigram sets.
func trigramSimilarity(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	intersection := 0
	for gram := range a {
		if _, ok := b[gram]; ok {
			intersection++
		}
	}

	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
