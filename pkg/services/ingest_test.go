package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/remlabs/rem-engine/pkg/apperrors"
	"github.com/remlabs/rem-engine/pkg/models"
)

func newTestIngest(entityRepo *mockEntityRepository, indexRepo *mockEntityIndexRepository, embeddingRepo *mockEmbeddingRepository) IngestService {
	return NewIngestService(entityRepo, indexRepo, embeddingRepo, zap.NewNop())
}

func TestIngestService_UpsertEntity(t *testing.T) {
	entityRepo := newMockEntityRepository()
	indexRepo := newMockEntityIndexRepository()
	embeddingRepo := newMockEmbeddingRepository()
	svc := newTestIngest(entityRepo, indexRepo, embeddingRepo)

	entity := &models.Entity{
		Collection: models.CollectionOntologyPages,
		Name:       "Billing Overview",
		Content:    "how invoices are generated",
		Owner:      "tenant-a",
	}

	require.NoError(t, svc.UpsertEntity(context.Background(), entity))

	assert.Equal(t, models.DeriveID("Billing Overview", "tenant-a"), entity.ID)

	require.Len(t, indexRepo.upserted, 1)
	row := indexRepo.upserted[0]
	assert.Equal(t, "billing-overview", row.EntityKey)
	assert.Equal(t, models.CollectionOntologyPages, row.EntityType)
	assert.Equal(t, entity.ID, row.EntityID)
	assert.Equal(t, "how invoices are generated", row.ContentSummary)

	require.Len(t, embeddingRepo.queue, 1)
	assert.Equal(t, models.FieldContent, embeddingRepo.queue[0].FieldName)
}

func TestIngestService_UpsertIsIdempotent(t *testing.T) {
	entityRepo := newMockEntityRepository()
	indexRepo := newMockEntityIndexRepository()
	svc := newTestIngest(entityRepo, indexRepo, newMockEmbeddingRepository())
	ctx := context.Background()

	first := &models.Entity{
		Collection: models.CollectionOntologyPages,
		Name:       "Billing Overview",
		Content:    "v1",
		Owner:      "tenant-a",
	}
	second := &models.Entity{
		Collection: models.CollectionOntologyPages,
		Name:       "Billing Overview",
		Content:    "v2",
		Owner:      "tenant-a",
	}

	require.NoError(t, svc.UpsertEntity(ctx, first))
	require.NoError(t, svc.UpsertEntity(ctx, second))

	assert.Equal(t, first.ID, second.ID, "same (name, owner) maps to the same row")
	assert.Len(t, entityRepo.entities, 1)
	assert.Len(t, indexRepo.rows, 1)
}

func TestIngestService_UnknownCollection(t *testing.T) {
	svc := newTestIngest(newMockEntityRepository(), newMockEntityIndexRepository(), newMockEmbeddingRepository())

	err := svc.UpsertEntity(context.Background(), &models.Entity{
		Collection: "bogus",
		Name:       "x",
	})
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}

func TestIngestService_InvalidMetadata(t *testing.T) {
	svc := newTestIngest(newMockEntityRepository(), newMockEntityIndexRepository(), newMockEmbeddingRepository())

	err := svc.UpsertEntity(context.Background(), &models.Entity{
		Collection: models.CollectionOntologyPages,
		Name:       "x",
		Metadata:   models.Metadata{"bad": make(chan int)},
	})
	assert.Error(t, err)
}

func TestIngestService_EnqueueRules(t *testing.T) {
	tests := []struct {
		name    string
		entity  *models.Entity
		queued  int
		indexed int
	}{
		{
			name: "moments are never embedded",
			entity: &models.Entity{
				Collection: models.CollectionMoments,
				Name:       "a moment",
				Content:    "something happened",
			},
			queued:  0,
			indexed: 1,
		},
		{
			name: "sessions embed their summary",
			entity: &models.Entity{
				Collection: models.CollectionSessions,
				Name:       "session one",
				Summary:    "what we did",
			},
			queued:  1,
			indexed: 1,
		},
		{
			name: "empty embeddable field skips the queue",
			entity: &models.Entity{
				Collection: models.CollectionSessions,
				Name:       "session two",
				Content:    "raw transcript, not yet summarized",
			},
			queued:  0,
			indexed: 1,
		},
		{
			name: "unnamed entities are stored but not indexed",
			entity: &models.Entity{
				Collection: models.CollectionOntologyPages,
				Content:    "orphan content",
			},
			queued:  1,
			indexed: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entityRepo := newMockEntityRepository()
			indexRepo := newMockEntityIndexRepository()
			embeddingRepo := newMockEmbeddingRepository()
			svc := newTestIngest(entityRepo, indexRepo, embeddingRepo)

			require.NoError(t, svc.UpsertEntity(context.Background(), tt.entity))
			assert.Len(t, entityRepo.upserted, 1)
			assert.Len(t, embeddingRepo.queue, tt.queued)
			assert.Len(t, indexRepo.upserted, tt.indexed)
		})
	}
}

func TestIngestService_SummaryFallsBackToContent(t *testing.T) {
	indexRepo := newMockEntityIndexRepository()
	svc := newTestIngest(newMockEntityRepository(), indexRepo, newMockEmbeddingRepository())

	entity := &models.Entity{
		Collection: models.CollectionOntologyPages,
		Name:       "no summary",
		Content:    "content stands in",
	}
	require.NoError(t, svc.UpsertEntity(context.Background(), entity))

	require.Len(t, indexRepo.upserted, 1)
	assert.Equal(t, "content stands in", indexRepo.upserted[0].ContentSummary)
}

func TestIngestService_RebuildIndex(t *testing.T) {
	entityRepo := newMockEntityRepository()
	indexRepo := newMockEntityIndexRepository()
	svc := newTestIngest(entityRepo, indexRepo, newMockEmbeddingRepository())
	ctx := context.Background()

	named := &models.Entity{
		ID:         models.DeriveID("named", "test"),
		Collection: models.CollectionOntologyPages,
		Name:       "named",
		Content:    "indexed",
	}
	unnamed := &models.Entity{
		ID:         models.DeriveID("", "test"),
		Collection: models.CollectionMoments,
		Content:    "not indexed",
	}
	entityRepo.entities[named.ID] = named
	entityRepo.entities[unnamed.ID] = unnamed

	// A stale row that the rebuild must replace.
	indexRepo.add(indexRowForKey("stale", ""))

	require.NoError(t, svc.RebuildIndex(ctx))

	require.Len(t, indexRepo.rebuilt, 1)
	require.Len(t, indexRepo.rebuilt[0], 1)
	assert.Equal(t, "named", indexRepo.rebuilt[0][0].EntityKey)

	_, err := indexRepo.Lookup(ctx, "stale", nil, nil)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestIngestService_RebuildFailureLeavesIndexUntouched(t *testing.T) {
	entityRepo := newMockEntityRepository()
	indexRepo := newMockEntityIndexRepository()
	indexRepo.add(indexRowForKey("existing", ""))
	indexRepo.rebuildErr = assert.AnError
	svc := newTestIngest(entityRepo, indexRepo, newMockEmbeddingRepository())

	err := svc.RebuildIndex(context.Background())
	require.Error(t, err)

	_, lookupErr := indexRepo.Lookup(context.Background(), "existing", nil, nil)
	assert.NoError(t, lookupErr)
}
