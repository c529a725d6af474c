package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/remlabs/rem-engine/pkg/apperrors"
	"github.com/remlabs/rem-engine/pkg/models"
	"github.com/remlabs/rem-engine/pkg/repositories"
)

type mockEntityRepository struct {
	entities  map[uuid.UUID]*models.Entity
	upserted  []*models.Entity
	upsertErr error
	getErr    error
	listErr   error
}

func newMockEntityRepository() *mockEntityRepository {
	return &mockEntityRepository{entities: make(map[uuid.UUID]*models.Entity)}
}

func (m *mockEntityRepository) Upsert(_ context.Context, entity *models.Entity) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.upserted = append(m.upserted, entity)
	m.entities[entity.ID] = entity
	return nil
}

func (m *mockEntityRepository) GetByID(_ context.Context, _ string, entityID uuid.UUID) (*models.Entity, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	entity, ok := m.entities[entityID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return entity, nil
}

func (m *mockEntityRepository) ListAll(_ context.Context) ([]*models.Entity, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	all := make([]*models.Entity, 0, len(m.entities))
	for _, entity := range m.entities {
		all = append(all, entity)
	}
	return all, nil
}

type mockEntityIndexRepository struct {
	rows          map[string]*models.EntityIndexRow
	upserted      []*models.EntityIndexRow
	rebuilt       [][]*models.EntityIndexRow
	lookups       []string
	lookupUserIDs []*uuid.UUID
	listUserID    *uuid.UUID
	upsertErr     error
	lookupErr     error
	listErr       error
	rebuildErr    error
}

func newMockEntityIndexRepository() *mockEntityIndexRepository {
	return &mockEntityIndexRepository{rows: make(map[string]*models.EntityIndexRow)}
}

func (m *mockEntityIndexRepository) add(row *models.EntityIndexRow) {
	m.rows[row.EntityKey] = row
}

func (m *mockEntityIndexRepository) Upsert(_ context.Context, row *models.EntityIndexRow) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.upserted = append(m.upserted, row)
	m.rows[row.EntityKey] = row
	return nil
}

func (m *mockEntityIndexRepository) Lookup(_ context.Context, key string, _, userID *uuid.UUID) (*models.EntityIndexRow, error) {
	m.lookups = append(m.lookups, key)
	m.lookupUserIDs = append(m.lookupUserIDs, userID)
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	row, ok := m.rows[key]
	if !ok || !ownerVisible(row, userID) {
		return nil, apperrors.ErrNotFound
	}
	return row, nil
}

func (m *mockEntityIndexRepository) ListForMatch(_ context.Context, _, userID *uuid.UUID) ([]*models.EntityIndexRow, error) {
	m.listUserID = userID
	if m.listErr != nil {
		return nil, m.listErr
	}
	all := make([]*models.EntityIndexRow, 0, len(m.rows))
	for _, row := range m.rows {
		if ownerVisible(row, userID) {
			all = append(all, row)
		}
	}
	return all, nil
}

// ownerVisible mirrors the repository's user filter: a scoped caller sees
// their own rows plus unowned rows.
func ownerVisible(row *models.EntityIndexRow, userID *uuid.UUID) bool {
	return userID == nil || row.Owner == "" || row.Owner == userID.String()
}

func (m *mockEntityIndexRepository) Rebuild(_ context.Context, rows []*models.EntityIndexRow) error {
	if m.rebuildErr != nil {
		return m.rebuildErr
	}
	m.rebuilt = append(m.rebuilt, rows)
	m.rows = make(map[string]*models.EntityIndexRow)
	for _, row := range rows {
		m.rows[row.EntityKey] = row
	}
	return nil
}

type mockEmbeddingRepository struct {
	queue      []*models.EmbeddingQueueItem
	vectors    []*models.EmbeddingRow
	markedDone []uuid.UUID
	released   []uuid.UUID

	storedDim     int
	storedDimErr  error
	searchResults []*models.ScoredEntity
	searchParams  *repositories.SearchParams
	searchErr     error

	enqueueErr error
	claimErr   error
	upsertErr  error
	markErr    error
	releaseErr error
}

func newMockEmbeddingRepository() *mockEmbeddingRepository {
	return &mockEmbeddingRepository{}
}

func (m *mockEmbeddingRepository) Enqueue(_ context.Context, item *models.EmbeddingQueueItem) error {
	if m.enqueueErr != nil {
		return m.enqueueErr
	}
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	item.Status = models.EmbeddingStatusPending
	m.queue = append(m.queue, item)
	return nil
}

func (m *mockEmbeddingRepository) ClaimBatch(_ context.Context, limit int, _ time.Duration) ([]*models.EmbeddingQueueItem, error) {
	if m.claimErr != nil {
		return nil, m.claimErr
	}
	var claimed []*models.EmbeddingQueueItem
	for _, item := range m.queue {
		if len(claimed) >= limit {
			break
		}
		if item.Status == models.EmbeddingStatusPending {
			item.Status = models.EmbeddingStatusProcessing
			claimed = append(claimed, item)
		}
	}
	return claimed, nil
}

func (m *mockEmbeddingRepository) MarkDone(_ context.Context, ids []uuid.UUID) error {
	if m.markErr != nil {
		return m.markErr
	}
	m.markedDone = append(m.markedDone, ids...)
	var remaining []*models.EmbeddingQueueItem
	for _, item := range m.queue {
		if !containsID(ids, item.ID) {
			remaining = append(remaining, item)
		}
	}
	m.queue = remaining
	return nil
}

func (m *mockEmbeddingRepository) Release(_ context.Context, ids []uuid.UUID) error {
	if m.releaseErr != nil {
		return m.releaseErr
	}
	m.released = append(m.released, ids...)
	for _, item := range m.queue {
		if containsID(ids, item.ID) {
			item.Status = models.EmbeddingStatusPending
		}
	}
	return nil
}

func (m *mockEmbeddingRepository) PendingCount(_ context.Context) (int, error) {
	count := 0
	for _, item := range m.queue {
		if item.Status == models.EmbeddingStatusPending {
			count++
		}
	}
	return count, nil
}

func (m *mockEmbeddingRepository) UpsertVector(_ context.Context, row *models.EmbeddingRow) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	for i, existing := range m.vectors {
		if existing.Collection == row.Collection && existing.EntityID == row.EntityID &&
			existing.FieldName == row.FieldName && existing.Provider == row.Provider {
			m.vectors[i] = row
			return nil
		}
	}
	m.vectors = append(m.vectors, row)
	return nil
}

func (m *mockEmbeddingRepository) StoredDimension(_ context.Context, _, _, _ string) (int, error) {
	if m.storedDimErr != nil {
		return 0, m.storedDimErr
	}
	return m.storedDim, nil
}

func (m *mockEmbeddingRepository) SearchSimilar(_ context.Context, params repositories.SearchParams) ([]*models.ScoredEntity, error) {
	m.searchParams = &params
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	return m.searchResults, nil
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

type mockScopeFactory struct {
	scopeErr error
	acquired int
	cleaned  int
}

func (m *mockScopeFactory) WithTenantScope(ctx context.Context, _ *uuid.UUID) (context.Context, func(), error) {
	if m.scopeErr != nil {
		return nil, nil, m.scopeErr
	}
	m.acquired++
	return ctx, func() { m.cleaned++ }, nil
}

var (
	_ repositories.EntityRepository      = (*mockEntityRepository)(nil)
	_ repositories.EntityIndexRepository = (*mockEntityIndexRepository)(nil)
	_ repositories.EmbeddingRepository   = (*mockEmbeddingRepository)(nil)
	_ ScopeFactory                       = (*mockScopeFactory)(nil)
)
