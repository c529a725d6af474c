package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/remlabs/rem-engine/pkg/apperrors"
	"github.com/remlabs/rem-engine/pkg/llm"
	"github.com/remlabs/rem-engine/pkg/models"
	"github.com/remlabs/rem-engine/pkg/retry"
)

func workerRetryConfig() *retry.Config {
	return &retry.Config{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		JitterFactor: 0,
	}
}

func newTestWorker(t *testing.T, entityRepo *mockEntityRepository, embeddingRepo *mockEmbeddingRepository, client llm.EmbeddingClient) *EmbeddingWorker {
	t.Helper()

	registry, err := llm.NewRegistry(&llm.Provider{
		Name:      "openai",
		Model:     "text-embedding-3-small",
		Dimension: 8,
		Client:    client,
	})
	require.NoError(t, err)

	cfg := DefaultWorkerConfig("openai")
	cfg.Retry = workerRetryConfig()
	return NewEmbeddingWorker(entityRepo, embeddingRepo, registry, &mockScopeFactory{}, cfg, zap.NewNop())
}

func enqueueEntity(t *testing.T, entityRepo *mockEntityRepository, embeddingRepo *mockEmbeddingRepository, name, content string) *models.Entity {
	t.Helper()

	entity := &models.Entity{
		ID:         models.DeriveID(name, "test"),
		Collection: models.CollectionOntologyPages,
		Name:       name,
		Content:    content,
	}
	entityRepo.entities[entity.ID] = entity
	require.NoError(t, embeddingRepo.Enqueue(context.Background(), &models.EmbeddingQueueItem{
		Collection: entity.Collection,
		EntityID:   entity.ID,
		FieldName:  models.FieldContent,
	}))
	return entity
}

func TestEmbeddingWorker_ProcessOnce(t *testing.T) {
	entityRepo := newMockEntityRepository()
	embeddingRepo := newMockEmbeddingRepository()
	client := llm.NewMockEmbeddingClient(8)
	enqueueEntity(t, entityRepo, embeddingRepo, "page one", "some content")

	worker := newTestWorker(t, entityRepo, embeddingRepo, client)

	processed, err := worker.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	require.Len(t, embeddingRepo.vectors, 1)
	row := embeddingRepo.vectors[0]
	assert.Equal(t, models.CollectionOntologyPages, row.Collection)
	assert.Equal(t, "openai", row.Provider)
	assert.Len(t, row.Vector, 8)
	assert.Empty(t, embeddingRepo.queue, "processed items are removed from the queue")
}

func TestEmbeddingWorker_EmbedsLatestContent(t *testing.T) {
	entityRepo := newMockEntityRepository()
	embeddingRepo := newMockEmbeddingRepository()
	client := llm.NewMockEmbeddingClient(8)
	entity := enqueueEntity(t, entityRepo, embeddingRepo, "page one", "draft one")

	// The entity is edited after enqueueing but before the worker runs.
	entity.Content = "final text"

	worker := newTestWorker(t, entityRepo, embeddingRepo, client)
	_, err := worker.ProcessOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, client.Calls, 1)
	assert.Equal(t, []string{"final text"}, client.Calls[0])
}

func TestEmbeddingWorker_OverwritesVectorOnReprocess(t *testing.T) {
	entityRepo := newMockEntityRepository()
	embeddingRepo := newMockEmbeddingRepository()
	client := llm.NewMockEmbeddingClient(8)
	entity := enqueueEntity(t, entityRepo, embeddingRepo, "page one", "version one")

	worker := newTestWorker(t, entityRepo, embeddingRepo, client)
	ctx := context.Background()

	_, err := worker.ProcessOnce(ctx)
	require.NoError(t, err)
	require.Len(t, embeddingRepo.vectors, 1)
	first := embeddingRepo.vectors[0].Vector

	entity.Content = "version two"
	require.NoError(t, embeddingRepo.Enqueue(ctx, &models.EmbeddingQueueItem{
		Collection: entity.Collection,
		EntityID:   entity.ID,
		FieldName:  models.FieldContent,
	}))

	_, err = worker.ProcessOnce(ctx)
	require.NoError(t, err)

	require.Len(t, embeddingRepo.vectors, 1, "re-embedding overwrites, never appends")
	assert.NotEqual(t, first, embeddingRepo.vectors[0].Vector)
}

func TestEmbeddingWorker_ReleasesBatchOnProviderFailure(t *testing.T) {
	entityRepo := newMockEntityRepository()
	embeddingRepo := newMockEmbeddingRepository()
	client := llm.NewMockEmbeddingClient(8)
	client.Err = llm.NewError(llm.ErrorTypeAuth, "bad key", false, nil)
	enqueueEntity(t, entityRepo, embeddingRepo, "page one", "content")

	worker := newTestWorker(t, entityRepo, embeddingRepo, client)

	processed, err := worker.ProcessOnce(context.Background())
	require.Error(t, err)
	assert.Zero(t, processed)

	assert.Len(t, embeddingRepo.released, 1, "failed batch goes back to pending")
	assert.Empty(t, embeddingRepo.vectors)

	// The item is claimable again.
	pending, countErr := embeddingRepo.PendingCount(context.Background())
	require.NoError(t, countErr)
	assert.Equal(t, 1, pending)
}

func TestEmbeddingWorker_ReleasesBatchOnShortProviderResponse(t *testing.T) {
	entityRepo := newMockEntityRepository()
	embeddingRepo := newMockEmbeddingRepository()
	client := llm.NewMockEmbeddingClient(8)
	// One vector for two inputs.
	client.Responses = [][]float32{make([]float32, 8)}
	enqueueEntity(t, entityRepo, embeddingRepo, "page one", "alpha")
	enqueueEntity(t, entityRepo, embeddingRepo, "page two", "beta")

	worker := newTestWorker(t, entityRepo, embeddingRepo, client)

	processed, err := worker.ProcessOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
	assert.Zero(t, processed)

	assert.Len(t, embeddingRepo.released, 2, "both claimed items go back to pending")
	assert.Empty(t, embeddingRepo.vectors, "a short response must not store partial vectors")
}

func TestEmbeddingWorker_LogsRemainingBacklog(t *testing.T) {
	entityRepo := newMockEntityRepository()
	embeddingRepo := newMockEmbeddingRepository()
	client := llm.NewMockEmbeddingClient(8)
	ctx := context.Background()

	enqueueEntity(t, entityRepo, embeddingRepo, "first page", "alpha")
	enqueueEntity(t, entityRepo, embeddingRepo, "second page", "beta")

	registry, err := llm.NewRegistry(&llm.Provider{
		Name: "openai", Model: "text-embedding-3-small", Dimension: 8, Client: client,
	})
	require.NoError(t, err)

	core, logs := observer.New(zap.DebugLevel)
	cfg := DefaultWorkerConfig("openai")
	cfg.BatchSize = 1
	cfg.Retry = workerRetryConfig()
	worker := NewEmbeddingWorker(entityRepo, embeddingRepo, registry, &mockScopeFactory{}, cfg, zap.New(core))

	processed, err := worker.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	entries := logs.FilterMessage("queue backlog remains").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].ContextMap()["pending"])
}

func TestEmbeddingWorker_SkipsDeletedAndEmptyEntities(t *testing.T) {
	entityRepo := newMockEntityRepository()
	embeddingRepo := newMockEmbeddingRepository()
	client := llm.NewMockEmbeddingClient(8)
	ctx := context.Background()

	enqueueEntity(t, entityRepo, embeddingRepo, "kept", "real content")

	empty := enqueueEntity(t, entityRepo, embeddingRepo, "now empty", "had content")
	empty.Content = ""

	deleted := enqueueEntity(t, entityRepo, embeddingRepo, "deleted", "gone")
	delete(entityRepo.entities, deleted.ID)

	worker := newTestWorker(t, entityRepo, embeddingRepo, client)

	processed, err := worker.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, processed)

	require.Len(t, embeddingRepo.vectors, 1)
	assert.Equal(t, models.DeriveID("kept", "test"), embeddingRepo.vectors[0].EntityID)
	assert.Empty(t, embeddingRepo.queue, "skipped items are still drained")
}

func TestEmbeddingWorker_BatchOfOne(t *testing.T) {
	entityRepo := newMockEntityRepository()
	embeddingRepo := newMockEmbeddingRepository()
	client := llm.NewMockEmbeddingClient(8)
	ctx := context.Background()

	enqueueEntity(t, entityRepo, embeddingRepo, "first page", "alpha")
	enqueueEntity(t, entityRepo, embeddingRepo, "second page", "beta")
	enqueueEntity(t, entityRepo, embeddingRepo, "third page", "gamma")

	registry, err := llm.NewRegistry(&llm.Provider{
		Name: "openai", Model: "text-embedding-3-small", Dimension: 8, Client: client,
	})
	require.NoError(t, err)

	cfg := DefaultWorkerConfig("openai")
	cfg.BatchSize = 1
	cfg.Retry = workerRetryConfig()
	worker := NewEmbeddingWorker(entityRepo, embeddingRepo, registry, &mockScopeFactory{}, cfg, zap.NewNop())

	for i := 0; i < 3; i++ {
		processed, err := worker.ProcessOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, processed)
	}

	assert.Len(t, embeddingRepo.vectors, 3)
	assert.Empty(t, embeddingRepo.queue)
}

func TestEmbeddingWorker_EmptyQueueIsIdle(t *testing.T) {
	worker := newTestWorker(t, newMockEntityRepository(), newMockEmbeddingRepository(), llm.NewMockEmbeddingClient(8))

	processed, err := worker.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, processed)
}

func TestEmbeddingWorker_StartStop(t *testing.T) {
	entityRepo := newMockEntityRepository()
	embeddingRepo := newMockEmbeddingRepository()
	client := llm.NewMockEmbeddingClient(8)
	enqueueEntity(t, entityRepo, embeddingRepo, "page one", "content")

	registry, err := llm.NewRegistry(&llm.Provider{
		Name: "openai", Model: "text-embedding-3-small", Dimension: 8, Client: client,
	})
	require.NoError(t, err)

	cfg := DefaultWorkerConfig("openai")
	cfg.PollInterval = 5 * time.Millisecond
	cfg.Retry = workerRetryConfig()
	worker := NewEmbeddingWorker(entityRepo, embeddingRepo, registry, &mockScopeFactory{}, cfg, zap.NewNop())

	worker.Start()
	worker.Start() // second Start is a no-op

	deadline := time.After(2 * time.Second)
	for client.CallCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("worker never processed the queue")
		case <-time.After(time.Millisecond):
		}
	}

	worker.Stop()
	worker.Stop() // second Stop is a no-op
}
