// Package tools provides MCP tool implementations for rem-engine.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/remlabs/rem-engine/pkg/services"
)

// MemoryToolDeps contains dependencies for memory tools.
type MemoryToolDeps struct {
	Router services.QueryRouter
	Logger *zap.Logger
}

// Registrar is the surface the tools need from an MCP server. Both the
// raw mcp-go server and the engine's wrapper satisfy it.
type Registrar interface {
	AddTool(tool mcp.Tool, handler server.ToolHandlerFunc)
}

// RegisterMemoryTools registers the memory query tools. All four delegate
// to the query router, so MCP callers and HTTP callers get identical
// semantics and the same response envelope.
func RegisterMemoryTools(s Registrar, deps *MemoryToolDeps) {
	registerLookupTool(s, deps)
	registerSearchTool(s, deps)
	registerFuzzyTool(s, deps)
	registerTraverseTool(s, deps)
}

func registerLookupTool(s Registrar, deps *MemoryToolDeps) {
	tool := mcp.NewTool(
		"memory_lookup",
		mcp.WithDescription(
			"Look up a single entity by its exact name. "+
				"The name is normalized (case and whitespace insensitive) before lookup, "+
				"so 'Billing Overview' and 'billing overview' resolve to the same entity. "+
				"For misspelled or partially remembered names, use memory_fuzzy instead.",
		),
		mcp.WithString(
			"key",
			mcp.Required(),
			mcp.Description("Entity name or key to look up"),
		),
		mcp.WithString(
			"tenant_id",
			mcp.Description("Optional tenant UUID to scope the lookup"),
		),
		mcp.WithString(
			"user_id",
			mcp.Description("Optional user UUID; restricts results to that user's entities plus shared ones"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return NewErrorResult("invalid_params", err.Error()), nil
		}

		tenantID, result := parseTenantID(req)
		if result != nil {
			return result, nil
		}
		userID, result := parseUserID(req)
		if result != nil {
			return result, nil
		}

		return deps.route(ctx, services.Query{
			Kind:     services.QueryKindLookup,
			Key:      key,
			TenantID: tenantID,
			UserID:   userID,
		})
	})
}

func registerSearchTool(s Registrar, deps *MemoryToolDeps) {
	tool := mcp.NewTool(
		"memory_search",
		mcp.WithDescription(
			"Semantic similarity search over a collection. "+
				"Embeds the query text and ranks stored entities by cosine similarity. "+
				"Collections: ontology_pages, schemas, sessions, resources. "+
				"Use this for conceptual questions; use memory_lookup for exact names.",
		),
		mcp.WithString(
			"text",
			mcp.Required(),
			mcp.Description("Natural language query text"),
		),
		mcp.WithString(
			"collection",
			mcp.Required(),
			mcp.Description("Collection to search (e.g. ontology_pages, sessions)"),
		),
		mcp.WithNumber(
			"min_similarity",
			mcp.Description("Minimum cosine similarity, 0 to 1 (default 0.3)"),
		),
		mcp.WithNumber(
			"limit",
			mcp.Description("Maximum number of results (default 10)"),
		),
		mcp.WithString(
			"tenant_id",
			mcp.Description("Optional tenant UUID to scope the search"),
		),
		mcp.WithString(
			"user_id",
			mcp.Description("Optional user UUID; restricts results to that user's entities plus shared ones"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return NewErrorResult("invalid_params", err.Error()), nil
		}
		collection, err := req.RequireString("collection")
		if err != nil {
			return NewErrorResult("invalid_params", err.Error()), nil
		}

		tenantID, result := parseTenantID(req)
		if result != nil {
			return result, nil
		}
		userID, result := parseUserID(req)
		if result != nil {
			return result, nil
		}

		return deps.route(ctx, services.Query{
			Kind:          services.QueryKindSearch,
			Text:          text,
			Collection:    collection,
			MinSimilarity: req.GetFloat("min_similarity", 0),
			Limit:         req.GetInt("limit", 0),
			TenantID:      tenantID,
			UserID:        userID,
		})
	})
}

func registerFuzzyTool(s Registrar, deps *MemoryToolDeps) {
	tool := mcp.NewTool(
		"memory_fuzzy",
		mcp.WithDescription(
			"Fuzzy match entity names against the index using trigram similarity. "+
				"Resolves typos and partial names: 'searh' finds 'search'. "+
				"An empty result means nothing is similar enough, which is a valid answer.",
		),
		mcp.WithString(
			"text",
			mcp.Required(),
			mcp.Description("Approximate entity name to match"),
		),
		mcp.WithNumber(
			"threshold",
			mcp.Description("Minimum trigram similarity, 0 to 1 (default 0.3)"),
		),
		mcp.WithNumber(
			"limit",
			mcp.Description("Maximum number of matches (default 10)"),
		),
		mcp.WithString(
			"tenant_id",
			mcp.Description("Optional tenant UUID to scope the match"),
		),
		mcp.WithString(
			"user_id",
			mcp.Description("Optional user UUID; restricts results to that user's entities plus shared ones"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return NewErrorResult("invalid_params", err.Error()), nil
		}

		tenantID, result := parseTenantID(req)
		if result != nil {
			return result, nil
		}
		userID, result := parseUserID(req)
		if result != nil {
			return result, nil
		}

		return deps.route(ctx, services.Query{
			Kind:      services.QueryKindFuzzy,
			Text:      text,
			Threshold: req.GetFloat("threshold", 0),
			Limit:     req.GetInt("limit", 0),
			TenantID:  tenantID,
			UserID:    userID,
		})
	})
}

func registerTraverseTool(s Registrar, deps *MemoryToolDeps) {
	tool := mcp.NewTool(
		"memory_traverse",
		mcp.WithDescription(
			"Walk the entity graph outward from a starting entity. "+
				"Follows typed, weighted edges up to max_depth levels. "+
				"Cycles terminate, and edges to missing entities are reported "+
				"as unresolved rather than failing the walk.",
		),
		mcp.WithString(
			"key",
			mcp.Required(),
			mcp.Description("Entity name or key to start from"),
		),
		mcp.WithNumber(
			"max_depth",
			mcp.Description("How many edge levels to expand (default 1)"),
		),
		mcp.WithString(
			"rel_type",
			mcp.Description("Only follow edges with this relation type"),
		),
		mcp.WithBoolean(
			"keys_only",
			mcp.Description("Return keys and structure only, no payloads"),
		),
		mcp.WithBoolean(
			"load",
			mcp.Description("Load full entity rows for every node"),
		),
		mcp.WithString(
			"tenant_id",
			mcp.Description("Optional tenant UUID to scope the traversal"),
		),
		mcp.WithString(
			"user_id",
			mcp.Description("Optional user UUID; restricts results to that user's entities plus shared ones"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return NewErrorResult("invalid_params", err.Error()), nil
		}

		tenantID, result := parseTenantID(req)
		if result != nil {
			return result, nil
		}
		userID, result := parseUserID(req)
		if result != nil {
			return result, nil
		}

		return deps.route(ctx, services.Query{
			Kind:     services.QueryKindTraverse,
			Key:      key,
			MaxDepth: req.GetInt("max_depth", 0),
			RelType:  req.GetString("rel_type", ""),
			KeysOnly: req.GetBool("keys_only", false),
			Load:     req.GetBool("load", false),
			TenantID: tenantID,
			UserID:   userID,
		})
	})
}

// route dispatches through the query router and converts the envelope into
// a tool result. NotFound and validation failures become structured error
// results; system failures stay Go errors.
func (deps *MemoryToolDeps) route(ctx context.Context, query services.Query) (*mcp.CallToolResult, error) {
	resp, err := deps.Router.Route(ctx, query)
	if err != nil {
		deps.Logger.Error("memory tool query failed",
			zap.String("kind", string(query.Kind)),
			zap.Error(err))
		return nil, fmt.Errorf("query failed: %w", err)
	}

	if resp.Status == services.StatusError || resp.Status == services.StatusNotFound {
		return NewErrorResult(resp.ErrorKind, resp.Error), nil
	}

	jsonResult, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(jsonResult)), nil
}

func parseTenantID(req mcp.CallToolRequest) (*uuid.UUID, *mcp.CallToolResult) {
	raw := req.GetString("tenant_id", "")
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, NewErrorResult("invalid_params", fmt.Sprintf("invalid tenant_id: %s", raw))
	}
	return &id, nil
}

func parseUserID(req mcp.CallToolRequest) (*uuid.UUID, *mcp.CallToolResult) {
	raw := req.GetString("user_id", "")
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, NewErrorResult("invalid_params", fmt.Sprintf("invalid user_id: %s", raw))
	}
	return &id, nil
}
