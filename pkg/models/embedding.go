package models

import (
	"time"

	"github.com/google/uuid"
)

// EmbeddingStatus tracks a queue item through the worker pipeline.
type EmbeddingStatus string

const (
	EmbeddingStatusPending    EmbeddingStatus = "pending"
	EmbeddingStatusProcessing EmbeddingStatus = "processing"
	EmbeddingStatusDone       EmbeddingStatus = "done"
)

// EmbeddingQueueItem is one unit of pending embedding work, created by the
// same write path that updates the entity index. Consumed at-least-once by
// the embedding worker; the queue persists independently of worker lifetime.
type EmbeddingQueueItem struct {
	ID         uuid.UUID       `json:"id"`
	Collection string          `json:"collection"`
	EntityID   uuid.UUID       `json:"entity_id"`
	FieldName  string          `json:"field_name"`
	Status     EmbeddingStatus `json:"status"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	ClaimedAt  *time.Time      `json:"claimed_at,omitempty"`
}

// ScoredEntity pairs an entity with its similarity or match score.
type ScoredEntity struct {
	Entity     *Entity `json:"entity"`
	Similarity float64 `json:"similarity"`
}

// EmbeddingRow is one stored vector, unique per (collection, entity, field,
// provider). Overwritten on re-embedding; never appended.
type EmbeddingRow struct {
	Collection string    `json:"collection"`
	EntityID   uuid.UUID `json:"entity_id"`
	FieldName  string    `json:"field_name"`
	Provider   string    `json:"provider"`
	Dimension  int       `json:"dimension"`
	Vector     []float32 `json:"vector"`
	UpdatedAt  time.Time `json:"updated_at"`
}
