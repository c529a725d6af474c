package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/remlabs/rem-engine/pkg/apperrors"
	"github.com/remlabs/rem-engine/pkg/database"
	"github.com/remlabs/rem-engine/pkg/models"
)

// EntityRepository provides data access for source entities. Source
// collections are the authoritative store; the entity index and embedding
// tables are derived from them.
type EntityRepository interface {
	// Upsert inserts or replaces an entity by its deterministic id.
	Upsert(ctx context.Context, entity *models.Entity) error

	// GetByID fetches a single entity, returning apperrors.ErrNotFound on miss.
	GetByID(ctx context.Context, collection string, entityID uuid.UUID) (*models.Entity, error)

	// ListAll returns every source entity, ordered by collection then name.
	// Used by the index rebuild.
	ListAll(ctx context.Context) ([]*models.Entity, error)
}

type entityRepository struct{}

// NewEntityRepository creates a new EntityRepository.
func NewEntityRepository() EntityRepository {
	return &entityRepository{}
}

var _ EntityRepository = (*entityRepository)(nil)

func (r *entityRepository) Upsert(ctx context.Context, entity *models.Entity) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	now := time.Now()
	entity.UpdatedAt = now
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = now
	}

	metadataJSON, err := json.Marshal(entity.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if entity.Metadata == nil {
		metadataJSON = nil
	}

	edgesJSON, err := json.Marshal(entity.Edges)
	if err != nil {
		return fmt.Errorf("failed to marshal graph edges: %w", err)
	}
	if entity.Edges == nil {
		edgesJSON = nil
	}

	query := `
		INSERT INTO engine_entities (
			id, collection, name, content, summary, owner,
			tenant_id, metadata, graph_edges, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (collection, id) DO UPDATE SET
			name = EXCLUDED.name,
			content = EXCLUDED.content,
			summary = EXCLUDED.summary,
			owner = EXCLUDED.owner,
			tenant_id = EXCLUDED.tenant_id,
			metadata = EXCLUDED.metadata,
			graph_edges = EXCLUDED.graph_edges,
			updated_at = EXCLUDED.updated_at`

	_, err = scope.Conn.Exec(ctx, query,
		entity.ID, entity.Collection, entity.Name, entity.Content, entity.Summary,
		entity.Owner, entity.TenantID, metadataJSON, edgesJSON,
		entity.CreatedAt, entity.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert entity: %w", err)
	}

	return nil
}

func (r *entityRepository) GetByID(ctx context.Context, collection string, entityID uuid.UUID) (*models.Entity, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT id, collection, name, content, summary, owner,
		       tenant_id, metadata, graph_edges, created_at, updated_at
		FROM engine_entities
		WHERE collection = $1 AND id = $2`

	row := scope.Conn.QueryRow(ctx, query, collection, entityID)
	entity, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}

	return entity, nil
}

func (r *entityRepository) ListAll(ctx context.Context) ([]*models.Entity, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT id, collection, name, content, summary, owner,
		       tenant_id, metadata, graph_edges, created_at, updated_at
		FROM engine_entities
		ORDER BY collection, name`

	rows, err := scope.Conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	var entities []*models.Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entities: %w", err)
	}

	return entities, nil
}

func scanEntity(row pgx.Row) (*models.Entity, error) {
	var e models.Entity
	var metadataJSON, edgesJSON []byte

	err := row.Scan(
		&e.ID, &e.Collection, &e.Name, &e.Content, &e.Summary, &e.Owner,
		&e.TenantID, &metadataJSON, &edgesJSON, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan entity: %w", err)
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	if len(edgesJSON) > 0 {
		if err := json.Unmarshal(edgesJSON, &e.Edges); err != nil {
			return nil, fmt.Errorf("failed to unmarshal graph edges: %w", err)
		}
	}

	return &e, nil
}
