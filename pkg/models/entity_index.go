package models

import (
	"time"

	"github.com/google/uuid"
)

// EntityIndexRow is the derived, rebuildable projection of an entity keyed
// by its normalized entity key. It holds nothing that is not derivable from
// the source collections: the index can be truncated and regenerated at any
// time, and is regenerated at process start.
type EntityIndexRow struct {
	EntityKey      string     `json:"entity_key"`
	EntityType     string     `json:"entity_type"`
	EntityID       uuid.UUID  `json:"entity_id"`
	ContentSummary string     `json:"content_summary"`
	Edges          []Edge     `json:"edges,omitempty"`
	Metadata       Metadata   `json:"metadata,omitempty"`
	Owner          string     `json:"owner,omitempty"`
	TenantID       *uuid.UUID `json:"tenant_id,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// IndexRow projects an entity into its index row. Returns nil for entities
// without a name; those are simply omitted from the projection.
func (e *Entity) IndexRow() (*EntityIndexRow, error) {
	key, err := NormalizeKey(e.Name)
	if err != nil {
		return nil, err
	}
	summary := e.Summary
	if summary == "" {
		summary = e.Content
	}
	return &EntityIndexRow{
		EntityKey:      key,
		EntityType:     e.Collection,
		EntityID:       e.ID,
		ContentSummary: summary,
		Edges:          e.Edges,
		Metadata:       e.Metadata,
		Owner:          e.Owner,
		TenantID:       e.TenantID,
	}, nil
}
