package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/remlabs/rem-engine/pkg/apperrors"
	"github.com/remlabs/rem-engine/pkg/llm"
	"github.com/remlabs/rem-engine/pkg/models"
	"github.com/remlabs/rem-engine/pkg/repositories"
	"github.com/remlabs/rem-engine/pkg/retry"
)

// ScopeFactory creates scoped contexts for background database work.
// Satisfied by database.TenantScopeProvider.
type ScopeFactory interface {
	WithTenantScope(ctx context.Context, tenantID *uuid.UUID) (context.Context, func(), error)
}

// WorkerConfig tunes the embedding worker loop.
type WorkerConfig struct {
	// Provider is the registry name all batches are embedded with.
	Provider string
	// BatchSize bounds how many queue items are claimed per provider call.
	// Purely a throughput knob: a batch of 1 behaves identically.
	BatchSize int
	// PollInterval is the idle delay between queue polls.
	PollInterval time.Duration
	// ClaimTimeout is how long a processing claim holds before the item
	// becomes reclaimable by another worker.
	ClaimTimeout time.Duration
	// Retry configures backoff for transient provider failures.
	Retry *retry.Config
}

// DefaultWorkerConfig returns production defaults.
func DefaultWorkerConfig(provider string) WorkerConfig {
	return WorkerConfig{
		Provider:     provider,
		BatchSize:    32,
		PollInterval: 2 * time.Second,
		ClaimTimeout: 5 * time.Minute,
		Retry:        retry.DefaultConfig(),
	}
}

// EmbeddingWorker drains the embedding queue in the background: claim a
// batch, embed the current entity content, overwrite the stored vectors,
// delete the queue items. It is restartable and safe to run as several
// concurrent instances; claiming is atomic and abandoned claims expire.
type EmbeddingWorker struct {
	entityRepo    repositories.EntityRepository
	embeddingRepo repositories.EmbeddingRepository
	providers     *llm.Registry
	scopes        ScopeFactory
	cfg           WorkerConfig
	logger        *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEmbeddingWorker creates a stopped worker.
func NewEmbeddingWorker(
	entityRepo repositories.EntityRepository,
	embeddingRepo repositories.EmbeddingRepository,
	providers *llm.Registry,
	scopes ScopeFactory,
	cfg WorkerConfig,
	logger *zap.Logger,
) *EmbeddingWorker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = 5 * time.Minute
	}
	return &EmbeddingWorker{
		entityRepo:    entityRepo,
		embeddingRepo: embeddingRepo,
		providers:     providers,
		scopes:        scopes,
		cfg:           cfg,
		logger:        logger.Named("embedding-worker"),
	}
}

// Start launches the polling loop. Calling Start on a running worker is a no-op.
func (w *EmbeddingWorker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})

	go w.run(ctx)
	w.logger.Info("embedding worker started",
		zap.String("provider", w.cfg.Provider),
		zap.Int("batch_size", w.cfg.BatchSize))
}

// Stop signals the loop to exit and waits for it.
func (w *EmbeddingWorker) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel = nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	w.logger.Info("embedding worker stopped")
}

func (w *EmbeddingWorker) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		processed, err := w.ProcessOnce(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Warn("embedding batch failed, items left pending for retry", zap.Error(err))
		}

		// Keep draining without delay while the queue has work.
		if processed > 0 && err == nil {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce claims and processes a single batch. Returns the number of
// items handled. Exposed so operators and tests can drive the queue without
// the polling loop.
func (w *EmbeddingWorker) ProcessOnce(ctx context.Context) (int, error) {
	scopeCtx, cleanup, err := w.scopes.WithTenantScope(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("acquire worker scope: %w", err)
	}
	defer cleanup()

	items, err := w.embeddingRepo.ClaimBatch(scopeCtx, w.cfg.BatchSize, w.cfg.ClaimTimeout)
	if err != nil {
		return 0, fmt.Errorf("claim batch: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}

	if err := w.processBatch(scopeCtx, items); err != nil {
		ids := itemIDs(items)
		if releaseErr := w.embeddingRepo.Release(scopeCtx, ids); releaseErr != nil {
			w.logger.Error("failed to release claimed items; claims will expire",
				zap.Error(releaseErr))
		}
		return 0, err
	}

	if pending, err := w.embeddingRepo.PendingCount(scopeCtx); err == nil && pending > 0 {
		w.logger.Debug("queue backlog remains", zap.Int("pending", pending))
	}

	return len(items), nil
}

func (w *EmbeddingWorker) processBatch(ctx context.Context, items []*models.EmbeddingQueueItem) error {
	provider, err := w.providers.Get(w.cfg.Provider)
	if err != nil {
		return err
	}

	// Re-read the current entity content at processing time: if the entity
	// was re-edited after enqueueing, the vector reflects the latest text
	// and the stale queue entry costs nothing extra.
	texts := make([]string, 0, len(items))
	live := make([]*models.EmbeddingQueueItem, 0, len(items))
	var skipped []uuid.UUID

	for _, item := range items {
		entity, err := w.entityRepo.GetByID(ctx, item.Collection, item.EntityID)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				skipped = append(skipped, item.ID)
				continue
			}
			return fmt.Errorf("load entity %s/%s: %w", item.Collection, item.EntityID, err)
		}

		text, err := entity.Field(item.FieldName)
		if err != nil || text == "" {
			skipped = append(skipped, item.ID)
			continue
		}

		texts = append(texts, text)
		live = append(live, item)
	}

	if err := w.embeddingRepo.MarkDone(ctx, skipped); err != nil {
		return fmt.Errorf("drop stale items: %w", err)
	}
	if len(live) == 0 {
		return nil
	}

	var vectors [][]float32
	err = retry.DoIfRetryable(ctx, w.cfg.Retry, func() error {
		var embedErr error
		vectors, embedErr = provider.Client.CreateEmbeddings(ctx, texts, provider.Model)
		return embedErr
	})
	if err != nil {
		return fmt.Errorf("embed batch of %d: %w", len(live), err)
	}
	// The in-tree client guarantees one vector per input, but the interface
	// is injectable; a short response must release the batch, not panic.
	if len(vectors) != len(live) {
		return fmt.Errorf("provider %s returned %d vectors for %d inputs: %w",
			provider.Name, len(vectors), len(live), apperrors.ErrConfiguration)
	}

	for i, item := range live {
		if len(vectors[i]) != provider.Dimension {
			return fmt.Errorf("provider %s returned a %d-dimensional vector, declared %d: %w",
				provider.Name, len(vectors[i]), provider.Dimension, apperrors.ErrConfiguration)
		}

		row := &models.EmbeddingRow{
			Collection: item.Collection,
			EntityID:   item.EntityID,
			FieldName:  item.FieldName,
			Provider:   provider.Name,
			Dimension:  provider.Dimension,
			Vector:     vectors[i],
		}
		if err := w.embeddingRepo.UpsertVector(ctx, row); err != nil {
			return fmt.Errorf("store vector for %s/%s: %w", item.Collection, item.EntityID, err)
		}
	}

	if err := w.embeddingRepo.MarkDone(ctx, itemIDs(live)); err != nil {
		return fmt.Errorf("mark batch done: %w", err)
	}

	w.logger.Debug("embedded batch",
		zap.Int("items", len(live)),
		zap.Int("skipped", len(skipped)),
		zap.String("provider", provider.Name))

	return nil
}

func itemIDs(items []*models.EmbeddingQueueItem) []uuid.UUID {
	ids := make([]uuid.UUID, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	return ids
}
