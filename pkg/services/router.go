package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/remlabs/rem-engine/pkg/apperrors"
	"github.com/remlabs/rem-engine/pkg/models"
	"github.com/remlabs/rem-engine/pkg/repositories"
)

// QueryKind is the closed set of query types the router dispatches.
type QueryKind string

const (
	QueryKindLookup   QueryKind = "lookup"
	QueryKindSearch   QueryKind = "search"
	QueryKindFuzzy    QueryKind = "fuzzy"
	QueryKindTraverse QueryKind = "traverse"
)

// Query is the tagged variant dispatched by the router. Key drives LOOKUP
// and TRAVERSE; Text drives SEARCH and FUZZY.
type Query struct {
	Kind QueryKind `json:"kind"`

	Key  string `json:"key,omitempty"`
	Text string `json:"text,omitempty"`

	// Search parameters.
	Collection    string  `json:"collection,omitempty"`
	FieldName     string  `json:"field,omitempty"`
	Provider      string  `json:"provider,omitempty"`
	MinSimilarity float64 `json:"min_similarity,omitempty"`

	// Fuzzy parameters.
	Threshold float64 `json:"threshold,omitempty"`

	// Traverse parameters.
	MaxDepth int    `json:"max_depth,omitempty"`
	RelType  string `json:"rel_type,omitempty"`
	KeysOnly bool   `json:"keys_only,omitempty"`
	Load     bool   `json:"load,omitempty"`

	Limit int `json:"limit,omitempty"`

	// Scoping, applied uniformly to every query kind.
	TenantID *uuid.UUID `json:"tenant_id,omitempty"`
	UserID   *uuid.UUID `json:"user_id,omitempty"`
}

// ResponseStatus is the normalized outcome of a query.
type ResponseStatus string

const (
	StatusOK       ResponseStatus = "ok"
	StatusNotFound ResponseStatus = "not_found"
	StatusEmpty    ResponseStatus = "empty"
	StatusError    ResponseStatus = "error"
)

// Response is the single envelope all four query kinds share. NotFound,
// empty result sets and configuration errors are normalized here so callers
// handle one shape.
type Response struct {
	Kind      QueryKind      `json:"kind"`
	Status    ResponseStatus `json:"status"`
	ErrorKind string         `json:"error_kind,omitempty"`
	Error     string         `json:"error,omitempty"`

	Record    *models.EntityIndexRow `json:"record,omitempty"`
	Results   []*models.ScoredEntity `json:"results,omitempty"`
	Matches   []*FuzzyMatch          `json:"matches,omitempty"`
	Traversal *TraversalResult       `json:"traversal,omitempty"`
}

// QueryRouter validates a query, opens the tenant scope, and dispatches to
// the owning component. It performs no business logic of its own.
type QueryRouter interface {
	Route(ctx context.Context, query Query) (*Response, error)
}

type queryRouter struct {
	indexRepo repositories.EntityIndexRepository
	fuzzy     FuzzyMatcher
	ranker    SimilarityRanker
	traversal TraversalEngine
	scopes    ScopeFactory
	logger    *zap.Logger
}

// NewQueryRouter creates a new QueryRouter.
func NewQueryRouter(
	indexRepo repositories.EntityIndexRepository,
	fuzzy FuzzyMatcher,
	ranker SimilarityRanker,
	traversal TraversalEngine,
	scopes ScopeFactory,
	logger *zap.Logger,
) QueryRouter {
	return &queryRouter{
		indexRepo: indexRepo,
		fuzzy:     fuzzy,
		ranker:    ranker,
		traversal: traversal,
		scopes:    scopes,
		logger:    logger.Named("query-router"),
	}
}

var _ QueryRouter = (*queryRouter)(nil)

func (r *queryRouter) Route(ctx context.Context, query Query) (*Response, error) {
	query, err := validateQuery(query)
	if err != nil {
		return errorResponse(query.Kind, err), nil
	}

	scopeCtx, cleanup, err := r.scopes.WithTenantScope(ctx, query.TenantID)
	if err != nil {
		return nil, fmt.Errorf("acquire query scope: %w", err)
	}
	defer cleanup()

	switch query.Kind {
	case QueryKindLookup:
		return r.routeLookup(scopeCtx, query)
	case QueryKindSearch:
		return r.routeSearch(scopeCtx, query)
	case QueryKindFuzzy:
		return r.routeFuzzy(scopeCtx, query)
	case QueryKindTraverse:
		return r.routeTraverse(scopeCtx, query)
	default:
		// validateQuery already rejected unknown kinds.
		return nil, fmt.Errorf("unhandled query kind %q", query.Kind)
	}
}

// validateQuery rejects malformed queries and returns the query with its
// key normalized. Invalid keys must fail here, before any scope or store
// access happens.
func validateQuery(query Query) (Query, error) {
	switch query.Kind {
	case QueryKindLookup, QueryKindTraverse:
		key, err := models.NormalizeKey(query.Key)
		if err != nil {
			return query, fmt.Errorf("key for %s: %w", query.Kind, err)
		}
		query.Key = key
	case QueryKindSearch:
		if query.Text == "" {
			return query, fmt.Errorf("text is required for search: %w", apperrors.ErrInvalidKey)
		}
		if query.Collection == "" {
			return query, fmt.Errorf("collection is required for search: %w", apperrors.ErrConfiguration)
		}
	case QueryKindFuzzy:
		if query.Text == "" {
			return query, fmt.Errorf("text is required for fuzzy match: %w", apperrors.ErrInvalidKey)
		}
	default:
		return query, fmt.Errorf("unknown query kind %q: %w", query.Kind, apperrors.ErrConfiguration)
	}
	return query, nil
}

func (r *queryRouter) routeLookup(ctx context.Context, query Query) (*Response, error) {
	// validateQuery already normalized the key.
	row, err := r.indexRepo.Lookup(ctx, query.Key, query.TenantID, query.UserID)
	if err != nil {
		return errorResponse(query.Kind, err), nil
	}

	return &Response{Kind: query.Kind, Status: StatusOK, Record: row}, nil
}

func (r *queryRouter) routeSearch(ctx context.Context, query Query) (*Response, error) {
	results, err := r.ranker.Search(ctx, query.Text, SearchOptions{
		Collection:    query.Collection,
		FieldName:     query.FieldName,
		Provider:      query.Provider,
		MinSimilarity: query.MinSimilarity,
		Limit:         query.Limit,
		TenantID:      query.TenantID,
		UserID:        query.UserID,
	})
	if err != nil {
		return errorResponse(query.Kind, err), nil
	}
	if len(results) == 0 {
		return &Response{Kind: query.Kind, Status: StatusEmpty}, nil
	}

	return &Response{Kind: query.Kind, Status: StatusOK, Results: results}, nil
}

func (r *queryRouter) routeFuzzy(ctx context.Context, query Query) (*Response, error) {
	matches, err := r.fuzzy.Match(ctx, query.Text, FuzzyOptions{
		Threshold: query.Threshold,
		Limit:     query.Limit,
		TenantID:  query.TenantID,
		UserID:    query.UserID,
	})
	if err != nil {
		return errorResponse(query.Kind, err), nil
	}
	if len(matches) == 0 {
		return &Response{Kind: query.Kind, Status: StatusEmpty}, nil
	}

	return &Response{Kind: query.Kind, Status: StatusOK, Matches: matches}, nil
}

func (r *queryRouter) routeTraverse(ctx context.Context, query Query) (*Response, error) {
	mode := TraversalModeLazy
	if query.KeysOnly {
		mode = TraversalModeKeysOnly
	} else if query.Load {
		mode = TraversalModeLoad
	}

	result, err := r.traversal.Traverse(ctx, query.Key, TraversalOptions{
		MaxDepth: query.MaxDepth,
		RelType:  query.RelType,
		Mode:     mode,
		TenantID: query.TenantID,
		UserID:   query.UserID,
	})
	if err != nil {
		return errorResponse(query.Kind, err), nil
	}

	return &Response{Kind: query.Kind, Status: StatusOK, Traversal: result}, nil
}

func errorResponse(kind QueryKind, err error) *Response {
	resp := &Response{Kind: kind, Status: StatusError, Error: err.Error()}

	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		resp.Status = StatusNotFound
		resp.ErrorKind = "not_found"
	case errors.Is(err, apperrors.ErrInvalidKey):
		resp.ErrorKind = "invalid_key"
	case errors.Is(err, apperrors.ErrConfiguration):
		resp.ErrorKind = "configuration_error"
	default:
		resp.ErrorKind = "internal"
	}

	return resp
}
