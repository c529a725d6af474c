package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/remlabs/rem-engine/pkg/models"
	"github.com/remlabs/rem-engine/pkg/repositories"
)

// IngestService is the entity write path. Every upsert updates the entity
// index synchronously as part of the same logical write (an explicit hook,
// not a database trigger) and enqueues embedding work when the entity's
// collection declares a non-empty embeddable field.
type IngestService interface {
	// UpsertEntity persists an entity, refreshes its index projection and
	// queues it for embedding. The entity id is derived from (name, owner)
	// so re-ingestion is idempotent.
	UpsertEntity(ctx context.Context, entity *models.Entity) error

	// RebuildIndex regenerates the whole entity index from the source
	// collections. Invoked at process start and available as an operator
	// command; a failed rebuild leaves the prior index untouched.
	RebuildIndex(ctx context.Context) error
}

type ingestService struct {
	entityRepo    repositories.EntityRepository
	indexRepo     repositories.EntityIndexRepository
	embeddingRepo repositories.EmbeddingRepository
	logger        *zap.Logger
}

// NewIngestService creates a new IngestService.
func NewIngestService(
	entityRepo repositories.EntityRepository,
	indexRepo repositories.EntityIndexRepository,
	embeddingRepo repositories.EmbeddingRepository,
	logger *zap.Logger,
) IngestService {
	return &ingestService{
		entityRepo:    entityRepo,
		indexRepo:     indexRepo,
		embeddingRepo: embeddingRepo,
		logger:        logger.Named("ingest"),
	}
}

var _ IngestService = (*ingestService)(nil)

func (s *ingestService) UpsertEntity(ctx context.Context, entity *models.Entity) error {
	spec, err := models.CollectionByName(entity.Collection)
	if err != nil {
		return fmt.Errorf("collection %q: %w", entity.Collection, err)
	}

	if err := entity.Metadata.Validate(); err != nil {
		return fmt.Errorf("invalid metadata: %w", err)
	}

	entity.ID = models.DeriveID(entity.Name, entity.Owner)

	if err := s.entityRepo.Upsert(ctx, entity); err != nil {
		return fmt.Errorf("upsert entity: %w", err)
	}

	// Entities without a name are stored but omitted from the index
	// projection; that is not an error.
	row, err := entity.IndexRow()
	if err == nil {
		if err := s.indexRepo.Upsert(ctx, row); err != nil {
			return fmt.Errorf("update entity index: %w", err)
		}
	}

	if spec.EmbeddableField != "" {
		text, err := entity.Field(spec.EmbeddableField)
		if err != nil {
			return fmt.Errorf("embeddable field: %w", err)
		}
		if text != "" {
			item := &models.EmbeddingQueueItem{
				Collection: entity.Collection,
				EntityID:   entity.ID,
				FieldName:  spec.EmbeddableField,
			}
			if err := s.embeddingRepo.Enqueue(ctx, item); err != nil {
				return fmt.Errorf("enqueue embedding: %w", err)
			}
		}
	}

	s.logger.Debug("entity upserted",
		zap.String("collection", entity.Collection),
		zap.String("entity_id", entity.ID.String()),
		zap.String("name", entity.Name))

	return nil
}

func (s *ingestService) RebuildIndex(ctx context.Context) error {
	entities, err := s.entityRepo.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("list source entities: %w", err)
	}

	rows := make([]*models.EntityIndexRow, 0, len(entities))
	for _, entity := range entities {
		row, err := entity.IndexRow()
		if err != nil {
			// Unnamed entities are simply not indexed.
			continue
		}
		rows = append(rows, row)
	}

	if err := s.indexRepo.Rebuild(ctx, rows); err != nil {
		return fmt.Errorf("rebuild entity index: %w", err)
	}

	s.logger.Info("entity index rebuilt",
		zap.Int("source_entities", len(entities)),
		zap.Int("indexed_rows", len(rows)))

	return nil
}
