package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/remlabs/rem-engine/pkg/database"
	"github.com/remlabs/rem-engine/pkg/models"
)

// EmbeddingRepository provides data access for the embedding queue and the
// stored vectors. The queue persists independently of worker lifetime;
// claiming is atomic so several workers can drain the same queue without
// double-processing.
type EmbeddingRepository interface {
	// Enqueue records pending embedding work. Duplicate pending items for
	// the same (collection, entity, field) collapse into one, since the
	// worker reads the current entity content at processing time anyway.
	Enqueue(ctx context.Context, item *models.EmbeddingQueueItem) error

	// ClaimBatch atomically claims up to limit items, marking them
	// processing with a claim timestamp. Items claimed longer ago than
	// claimTimeout are considered abandoned by a crashed worker and become
	// reclaimable.
	ClaimBatch(ctx context.Context, limit int, claimTimeout time.Duration) ([]*models.EmbeddingQueueItem, error)

	// MarkDone removes successfully processed items from the queue.
	MarkDone(ctx context.Context, ids []uuid.UUID) error

	// Release returns claimed items to pending for retry.
	Release(ctx context.Context, ids []uuid.UUID) error

	// PendingCount returns the number of items awaiting processing.
	PendingCount(ctx context.Context) (int, error)

	// UpsertVector overwrites the stored vector for the row's
	// (collection, entity, field, provider).
	UpsertVector(ctx context.Context, row *models.EmbeddingRow) error

	// StoredDimension returns the dimension of vectors stored for the given
	// collection/field/provider, or 0 when none exist yet.
	StoredDimension(ctx context.Context, collection, field, provider string) (int, error)

	// SearchSimilar ranks entities of a collection by cosine similarity of
	// their stored vectors against the query vector. Results below
	// minSimilarity are excluded; ordering is similarity descending with
	// entity id ascending as tie-break.
	SearchSimilar(ctx context.Context, params SearchParams) ([]*models.ScoredEntity, error)
}

// SearchParams bundle the inputs of a vector similarity search.
type SearchParams struct {
	Vector        []float32
	Collection    string
	FieldName     string
	Provider      string
	MinSimilarity float64
	Limit         int
	TenantID      *uuid.UUID
	UserID        *uuid.UUID
}

type embeddingRepository struct{}

// NewEmbeddingRepository creates a new EmbeddingRepository.
func NewEmbeddingRepository() EmbeddingRepository {
	return &embeddingRepository{}
}

var _ EmbeddingRepository = (*embeddingRepository)(nil)

func (r *embeddingRepository) Enqueue(ctx context.Context, item *models.EmbeddingQueueItem) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	item.Status = models.EmbeddingStatusPending
	item.EnqueuedAt = time.Now()

	query := `
		INSERT INTO engine_embedding_queue (
			id, collection, entity_id, field_name, status, attempts, enqueued_at
		) VALUES ($1, $2, $3, $4, $5, 0, $6)
		ON CONFLICT (collection, entity_id, field_name) WHERE status = 'pending'
		DO UPDATE SET enqueued_at = EXCLUDED.enqueued_at`

	_, err := scope.Conn.Exec(ctx, query,
		item.ID, item.Collection, item.EntityID, item.FieldName,
		item.Status, item.EnqueuedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue embedding item: %w", err)
	}

	return nil
}

func (r *embeddingRepository) ClaimBatch(ctx context.Context, limit int, claimTimeout time.Duration) ([]*models.EmbeddingQueueItem, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		UPDATE engine_embedding_queue
		SET status = 'processing', claimed_at = now(), attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM engine_embedding_queue
			WHERE status = 'pending'
			   OR (status = 'processing' AND claimed_at < now() - $2::interval)
			ORDER BY enqueued_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, collection, entity_id, field_name, status, attempts, enqueued_at, claimed_at`

	rows, err := scope.Conn.Query(ctx, query, limit, claimTimeout.String())
	if err != nil {
		return nil, fmt.Errorf("failed to claim queue batch: %w", err)
	}
	defer rows.Close()

	var items []*models.EmbeddingQueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating claimed items: %w", err)
	}

	return items, nil
}

func (r *embeddingRepository) MarkDone(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	_, err := scope.Conn.Exec(ctx,
		`DELETE FROM engine_embedding_queue WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("failed to mark queue items done: %w", err)
	}

	return nil
}

func (r *embeddingRepository) Release(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	_, err := scope.Conn.Exec(ctx, `
		UPDATE engine_embedding_queue
		SET status = 'pending', claimed_at = NULL
		WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("failed to release queue items: %w", err)
	}

	return nil
}

func (r *embeddingRepository) PendingCount(ctx context.Context) (int, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no tenant scope in context")
	}

	var count int
	err := scope.Conn.QueryRow(ctx,
		`SELECT count(*) FROM engine_embedding_queue WHERE status = 'pending'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending items: %w", err)
	}

	return count, nil
}

func (r *embeddingRepository) UpsertVector(ctx context.Context, row *models.EmbeddingRow) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	row.UpdatedAt = time.Now()

	query := `
		INSERT INTO engine_embeddings (
			collection, entity_id, field_name, provider, dimension, vector, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (collection, entity_id, field_name, provider) DO UPDATE SET
			dimension = EXCLUDED.dimension,
			vector = EXCLUDED.vector,
			updated_at = EXCLUDED.updated_at`

	_, err := scope.Conn.Exec(ctx, query,
		row.Collection, row.EntityID, row.FieldName, row.Provider,
		row.Dimension, pgvector.NewVector(row.Vector), row.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert embedding vector: %w", err)
	}

	return nil
}

func (r *embeddingRepository) StoredDimension(ctx context.Context, collection, field, provider string) (int, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no tenant scope in context")
	}

	var dimension int
	err := scope.Conn.QueryRow(ctx, `
		SELECT dimension FROM engine_embeddings
		WHERE collection = $1 AND field_name = $2 AND provider = $3
		LIMIT 1`, collection, field, provider).Scan(&dimension)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read stored dimension: %w", err)
	}

	return dimension, nil
}

func (r *embeddingRepository) SearchSimilar(ctx context.Context, params SearchParams) ([]*models.ScoredEntity, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT e.id, e.collection, e.name, e.content, e.summary, e.owner,
		       e.tenant_id, e.metadata, e.graph_edges, e.created_at, e.updated_at,
		       1 - (emb.vector <=> $1) AS similarity
		FROM engine_embeddings emb
		JOIN engine_entities e
		  ON e.collection = emb.collection AND e.id = emb.entity_id
		WHERE emb.collection = $2
		  AND emb.field_name = $3
		  AND emb.provider = $4
		  AND index_tenant_scope(e.tenant_id) = index_tenant_scope($5)
		  AND ($6::uuid IS NULL OR e.owner = '' OR e.owner = $6::uuid::text)
		  AND 1 - (emb.vector <=> $1) >= $7
		ORDER BY similarity DESC, e.id ASC
		LIMIT $8`

	rows, err := scope.Conn.Query(ctx, query,
		pgvector.NewVector(params.Vector), params.Collection, params.FieldName,
		params.Provider, params.TenantID, params.UserID, params.MinSimilarity, params.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to run similarity search: %w", err)
	}
	defer rows.Close()

	var results []*models.ScoredEntity
	for rows.Next() {
		scored, err := scanScoredEntity(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, scored)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating search results: %w", err)
	}

	return results, nil
}

func scanQueueItem(row pgx.Row) (*models.EmbeddingQueueItem, error) {
	var item models.EmbeddingQueueItem
	err := row.Scan(
		&item.ID, &item.Collection, &item.EntityID, &item.FieldName,
		&item.Status, &item.Attempts, &item.EnqueuedAt, &item.ClaimedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan queue item: %w", err)
	}
	return &item, nil
}

func scanScoredEntity(row pgx.Row) (*models.ScoredEntity, error) {
	var e models.Entity
	var metadataJSON, edgesJSON []byte
	var similarity float64

	err := row.Scan(
		&e.ID, &e.Collection, &e.Name, &e.Content, &e.Summary, &e.Owner,
		&e.TenantID, &metadataJSON, &edgesJSON, &e.CreatedAt, &e.UpdatedAt,
		&similarity,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan scored entity: %w", err)
	}

	if len(metadataJSON) > 0 {
		if err := unmarshalJSON(metadataJSON, &e.Metadata); err != nil {
			return nil, err
		}
	}
	if len(edgesJSON) > 0 {
		if err := unmarshalJSON(edgesJSON, &e.Edges); err != nil {
			return nil, err
		}
	}

	return &models.ScoredEntity{Entity: &e, Similarity: similarity}, nil
}
