package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// entityIDNamespace is the fixed UUID namespace for deriving entity IDs.
// Deriving IDs from (name, owner) makes re-ingestion idempotent: the same
// entity always maps to the same row.
var entityIDNamespace = uuid.MustParse("8f9c1d5e-4b2a-4e8f-9c3d-7a6b5e4d3c2b")

// Entity is the unit of knowledge: a named, typed record owned by its
// source collection. The entity index and embedding tables are derived
// from it, never authoritative.
type Entity struct {
	ID         uuid.UUID  `json:"id"`
	Collection string     `json:"collection"`
	Name       string     `json:"name"`
	Content    string     `json:"content"`
	Summary    string     `json:"summary"`
	Owner      string     `json:"owner"`
	TenantID   *uuid.UUID `json:"tenant_id,omitempty"`
	Metadata   Metadata   `json:"metadata,omitempty"`
	Edges      []Edge     `json:"edges,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Edge is a directed, weighted, typed link to another entity, addressed by
// target key rather than row id so edges may point at entities not yet
// ingested. Persisted per entity as an ordered JSONB array.
type Edge struct {
	Target   string  `json:"target"`
	Relation string  `json:"relation"`
	Weight   float64 `json:"weight"`
}

// DeriveID computes the deterministic entity ID from (name, owner).
func DeriveID(name, owner string) uuid.UUID {
	return uuid.NewSHA1(entityIDNamespace, []byte(name+"\x00"+owner))
}

// Field returns the value of a named embeddable field.
func (e *Entity) Field(field string) (string, error) {
	switch field {
	case FieldContent:
		return e.Content, nil
	case FieldSummary:
		return e.Summary, nil
	default:
		return "", fmt.Errorf("unknown entity field %q", field)
	}
}

// Entity field names usable as embedding sources.
const (
	FieldContent = "content"
	FieldSummary = "summary"
)
