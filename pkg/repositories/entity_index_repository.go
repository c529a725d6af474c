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

// EntityIndexRepository maintains the derived entity-key projection. The
// backing table is UNLOGGED: it favors availability over durability and is
// rebuilt from the source collections at process start.
type EntityIndexRepository interface {
	// Upsert replaces any existing row with the same key (last-writer-wins).
	Upsert(ctx context.Context, row *models.EntityIndexRow) error

	// Lookup fetches the row for a normalized key, returning
	// apperrors.ErrNotFound on miss. Exact-key fetch only; no similarity
	// work. A non-nil userID narrows to rows owned by that user plus
	// unowned rows, mirroring the tenant policy's treatment of shared rows.
	Lookup(ctx context.Context, key string, tenantID, userID *uuid.UUID) (*models.EntityIndexRow, error)

	// ListForMatch returns the candidate rows for the fuzzy matcher,
	// ordered by entity_key for deterministic downstream tie-breaks.
	// userID narrows candidates the same way it narrows Lookup.
	ListForMatch(ctx context.Context, tenantID, userID *uuid.UUID) ([]*models.EntityIndexRow, error)

	// Rebuild replaces the whole index with the given rows. The new
	// projection is staged in a side table and swapped in atomically, so a
	// failed rebuild leaves the prior index untouched and concurrent reads
	// never observe a corrupted row.
	Rebuild(ctx context.Context, rows []*models.EntityIndexRow) error
}

type entityIndexRepository struct{}

// NewEntityIndexRepository creates a new EntityIndexRepository.
func NewEntityIndexRepository() EntityIndexRepository {
	return &entityIndexRepository{}
}

var _ EntityIndexRepository = (*entityIndexRepository)(nil)

const entityIndexColumns = `
	entity_key, entity_type, entity_id, content_summary,
	graph_edges, metadata, owner, tenant_id, updated_at`

func (r *entityIndexRepository) Upsert(ctx context.Context, row *models.EntityIndexRow) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	row.UpdatedAt = time.Now()

	edgesJSON, metadataJSON, err := marshalIndexPayload(row)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO engine_entity_index (
			entity_key, entity_type, entity_id, content_summary,
			graph_edges, metadata, owner, tenant_id, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_scope, entity_key) DO UPDATE SET
			entity_type = EXCLUDED.entity_type,
			entity_id = EXCLUDED.entity_id,
			content_summary = EXCLUDED.content_summary,
			graph_edges = EXCLUDED.graph_edges,
			metadata = EXCLUDED.metadata,
			owner = EXCLUDED.owner,
			updated_at = EXCLUDED.updated_at`

	_, err = scope.Conn.Exec(ctx, query,
		row.EntityKey, row.EntityType, row.EntityID, row.ContentSummary,
		edgesJSON, metadataJSON, row.Owner, row.TenantID, row.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert index row: %w", err)
	}

	return nil
}

func (r *entityIndexRepository) Lookup(ctx context.Context, key string, tenantID, userID *uuid.UUID) (*models.EntityIndexRow, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	// User scoping matches the tenant policy's shape: a scoped caller sees
	// their own rows plus unowned (shared) rows; nil leaves the scope open.
	query := `
		SELECT ` + entityIndexColumns + `
		FROM engine_entity_index
		WHERE entity_key = $1
		  AND tenant_scope = index_tenant_scope($2)
		  AND ($3::uuid IS NULL OR owner = '' OR owner = $3::uuid::text)`

	row := scope.Conn.QueryRow(ctx, query, key, tenantID, userID)
	indexRow, err := scanEntityIndexRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}

	return indexRow, nil
}

func (r *entityIndexRepository) ListForMatch(ctx context.Context, tenantID, userID *uuid.UUID) ([]*models.EntityIndexRow, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT ` + entityIndexColumns + `
		FROM engine_entity_index
		WHERE tenant_scope = index_tenant_scope($1)
		  AND ($2::uuid IS NULL OR owner = '' OR owner = $2::uuid::text)
		ORDER BY entity_key`

	rows, err := scope.Conn.Query(ctx, query, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query index rows: %w", err)
	}
	defer rows.Close()

	var result []*models.EntityIndexRow
	for rows.Next() {
		indexRow, err := scanEntityIndexRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, indexRow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating index rows: %w", err)
	}

	return result, nil
}

func (r *entityIndexRepository) Rebuild(ctx context.Context, indexRows []*models.EntityIndexRow) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin rebuild transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Stage into a fresh side table so readers keep hitting the live index
	// until the swap. Per-row writes stay atomic either way.
	if _, err := tx.Exec(ctx, `DROP TABLE IF EXISTS engine_entity_index_staging`); err != nil {
		return fmt.Errorf("failed to drop stale staging table: %w", err)
	}
	if _, err := tx.Exec(ctx, `CREATE UNLOGGED TABLE engine_entity_index_staging
		(LIKE engine_entity_index INCLUDING ALL)`); err != nil {
		return fmt.Errorf("failed to create staging table: %w", err)
	}

	now := time.Now()
	for _, row := range indexRows {
		row.UpdatedAt = now

		edgesJSON, metadataJSON, err := marshalIndexPayload(row)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO engine_entity_index_staging (
				entity_key, entity_type, entity_id, content_summary,
				graph_edges, metadata, owner, tenant_id, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (tenant_scope, entity_key) DO UPDATE SET
				entity_type = EXCLUDED.entity_type,
				entity_id = EXCLUDED.entity_id,
				content_summary = EXCLUDED.content_summary,
				graph_edges = EXCLUDED.graph_edges,
				metadata = EXCLUDED.metadata,
				owner = EXCLUDED.owner,
				updated_at = EXCLUDED.updated_at`,
			row.EntityKey, row.EntityType, row.EntityID, row.ContentSummary,
			edgesJSON, metadataJSON, row.Owner, row.TenantID, row.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to stage index row %q: %w", row.EntityKey, err)
		}
	}

	if _, err := tx.Exec(ctx, `DROP TABLE engine_entity_index`); err != nil {
		return fmt.Errorf("failed to drop prior index: %w", err)
	}
	if _, err := tx.Exec(ctx, `ALTER TABLE engine_entity_index_staging RENAME TO engine_entity_index`); err != nil {
		return fmt.Errorf("failed to swap in rebuilt index: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit rebuild: %w", err)
	}

	return nil
}

func marshalIndexPayload(row *models.EntityIndexRow) (edgesJSON, metadataJSON []byte, err error) {
	if row.Edges != nil {
		edgesJSON, err = json.Marshal(row.Edges)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal graph edges: %w", err)
		}
	}
	if row.Metadata != nil {
		metadataJSON, err = json.Marshal(row.Metadata)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}
	return edgesJSON, metadataJSON, nil
}

func scanEntityIndexRow(row pgx.Row) (*models.EntityIndexRow, error) {
	var r models.EntityIndexRow
	var edgesJSON, metadataJSON []byte

	err := row.Scan(
		&r.EntityKey, &r.EntityType, &r.EntityID, &r.ContentSummary,
		&edgesJSON, &metadataJSON, &r.Owner, &r.TenantID, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan index row: %w", err)
	}

	if len(edgesJSON) > 0 {
		if err := json.Unmarshal(edgesJSON, &r.Edges); err != nil {
			return nil, fmt.Errorf("failed to unmarshal graph edges: %w", err)
		}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &r.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &r, nil
}
