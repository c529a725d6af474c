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

// DefaultTraversalDepth bounds expansion when the caller does not set one.
const DefaultTraversalDepth = 1

// TraversalMode selects the payload-fetch strategy per node.
type TraversalMode string

const (
	// TraversalModeLazy attaches summary and metadata from the index row.
	// Cheap, and the recommended default for exploratory walks.
	TraversalModeLazy TraversalMode = "lazy"
	// TraversalModeLoad additionally fetches the full source row per node.
	TraversalModeLoad TraversalMode = "load"
	// TraversalModeKeysOnly attaches no payload at all.
	TraversalModeKeysOnly TraversalMode = "keys_only"
)

// TraversalOptions tune a graph walk. Zero values fall back to defaults.
type TraversalOptions struct {
	MaxDepth int
	RelType  string
	Mode     TraversalMode
	TenantID *uuid.UUID
	UserID   *uuid.UUID
}

// TraversalNode is one node of the result tree.
type TraversalNode struct {
	Key      string  `json:"key"`
	Depth    int     `json:"depth"`
	Relation string  `json:"relation,omitempty"`
	Weight   float64 `json:"weight,omitempty"`

	// Resolved is false for dangling references: edge targets with no
	// entity index row. Those are reported, never treated as errors.
	Resolved bool `json:"resolved"`

	// BackReference marks an edge to an already-visited key. The edge is
	// recorded so the graph shape stays visible, but the node is not
	// re-expanded, which guarantees termination over cyclic graphs.
	BackReference bool `json:"back_reference,omitempty"`

	Payload  *TraversalPayload `json:"payload,omitempty"`
	Children []*TraversalNode  `json:"children,omitempty"`
}

// TraversalPayload carries per-node data according to the traversal mode.
type TraversalPayload struct {
	Summary  string          `json:"summary,omitempty"`
	Metadata models.Metadata `json:"metadata,omitempty"`
	Entity   *models.Entity  `json:"entity,omitempty"`
}

// TraversalResult wraps the tree with a marker for deadline-truncated walks.
type TraversalResult struct {
	Root *TraversalNode `json:"root"`
	// Partial is true when the walk stopped at the caller's deadline before
	// exhausting the depth bound. The returned tree is still well-formed.
	Partial bool `json:"partial,omitempty"`
}

// TraversalEngine walks the directed edge structure starting from an entity
// index hit. Traversal is exploratory, not transactional: each node is an
// independent index lookup and no lock is held across the walk.
type TraversalEngine interface {
	Traverse(ctx context.Context, startKey string, opts TraversalOptions) (*TraversalResult, error)
}

type traversalEngine struct {
	indexRepo  repositories.EntityIndexRepository
	entityRepo repositories.EntityRepository
	logger     *zap.Logger
}

// NewTraversalEngine creates a new TraversalEngine.
func NewTraversalEngine(
	indexRepo repositories.EntityIndexRepository,
	entityRepo repositories.EntityRepository,
	logger *zap.Logger,
) TraversalEngine {
	return &traversalEngine{
		indexRepo:  indexRepo,
		entityRepo: entityRepo,
		logger:     logger.Named("traversal"),
	}
}

var _ TraversalEngine = (*traversalEngine)(nil)

// expansion tracks one node awaiting child expansion.
type expansion struct {
	node *TraversalNode
	row  *models.EntityIndexRow
}

func (e *traversalEngine) Traverse(ctx context.Context, startKey string, opts TraversalOptions) (*TraversalResult, error) {
	key, err := models.NormalizeKey(startKey)
	if err != nil {
		return nil, err
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultTraversalDepth
	}
	if opts.Mode == "" {
		opts.Mode = TraversalModeLazy
	}

	// A missing seed aborts the whole traversal; there is no partial result.
	seedRow, err := e.indexRepo.Lookup(ctx, key, opts.TenantID, opts.UserID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("start key %q: %w", key, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("resolve start key: %w", err)
	}

	root := &TraversalNode{Key: key, Depth: 0, Resolved: true}
	if err := e.attachPayload(ctx, root, seedRow, opts.Mode); err != nil {
		return nil, err
	}

	visited := map[string]bool{key: true}
	result := &TraversalResult{Root: root}
	frontier := []expansion{{node: root, row: seedRow}}

	for depth := 0; depth < opts.MaxDepth && len(frontier) > 0; depth++ {
		// The deadline is only checked between levels so a timeout still
		// yields a well-formed partial tree.
		if ctx.Err() != nil {
			result.Partial = true
			return result, nil
		}

		var next []expansion
		for _, parent := range frontier {
			children, err := e.expandNode(ctx, parent, depth+1, visited, opts)
			if err != nil {
				return nil, err
			}
			next = append(next, children...)
		}
		frontier = next
	}

	return result, nil
}

// expandNode resolves every matching edge of the parent node, appends the
// child nodes, and returns the expansions for the next level.
func (e *traversalEngine) expandNode(ctx context.Context, parent expansion, depth int, visited map[string]bool, opts TraversalOptions) ([]expansion, error) {
	var next []expansion

	for _, edge := range parent.row.Edges {
		if opts.RelType != "" && edge.Relation != opts.RelType {
			continue
		}

		child := &TraversalNode{
			Depth:    depth,
			Relation: edge.Relation,
			Weight:   edge.Weight,
		}

		targetKey, err := models.NormalizeKey(edge.Target)
		if err != nil {
			// An unnormalizable target is a broken link; report it without
			// aborting the rest of the walk.
			child.Key = edge.Target
			parent.node.Children = append(parent.node.Children, child)
			continue
		}
		child.Key = targetKey

		if visited[targetKey] {
			child.Resolved = true
			child.BackReference = true
			parent.node.Children = append(parent.node.Children, child)
			continue
		}

		row, err := e.indexRepo.Lookup(ctx, targetKey, opts.TenantID, opts.UserID)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				// Dangling reference: the edge points at an entity that was
				// never ingested, or one outside the caller's user scope.
				// Kept in the result with resolved=false.
				parent.node.Children = append(parent.node.Children, child)
				continue
			}
			return nil, fmt.Errorf("resolve edge target %q: %w", targetKey, err)
		}

		child.Resolved = true
		visited[targetKey] = true
		if err := e.attachPayload(ctx, child, row, opts.Mode); err != nil {
			return nil, err
		}

		parent.node.Children = append(parent.node.Children, child)
		next = append(next, expansion{node: child, row: row})
	}

	return next, nil
}

func (e *traversalEngine) attachPayload(ctx context.Context, node *TraversalNode, row *models.EntityIndexRow, mode TraversalMode) error {
	switch mode {
	case TraversalModeKeysOnly:
		return nil
	case TraversalModeLoad:
		entity, err := e.entityRepo.GetByID(ctx, row.EntityType, row.EntityID)
		if err != nil {
			return fmt.Errorf("load entity %s/%s: %w", row.EntityType, row.EntityID, err)
		}
		node.Payload = &TraversalPayload{
			Summary:  row.ContentSummary,
			Metadata: row.Metadata,
			Entity:   entity,
		}
		return nil
	default:
		node.Payload = &TraversalPayload{
			Summary:  row.ContentSummary,
			Metadata: row.Metadata,
		}
		return nil
	}
}
