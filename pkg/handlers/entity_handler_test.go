package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/remlabs/rem-engine/pkg/apperrors"
	"github.com/remlabs/rem-engine/pkg/models"
)

type mockIngestService struct {
	upserted   []*models.Entity
	upsertErr  error
	rebuilds   int
	rebuildErr error
}

func (m *mockIngestService) UpsertEntity(_ context.Context, entity *models.Entity) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	entity.ID = models.DeriveID(entity.Name, entity.Owner)
	m.upserted = append(m.upserted, entity)
	return nil
}

func (m *mockIngestService) RebuildIndex(_ context.Context) error {
	if m.rebuildErr != nil {
		return m.rebuildErr
	}
	m.rebuilds++
	return nil
}

type mockScopeFactory struct {
	scopeErr error
}

func (m *mockScopeFactory) WithTenantScope(ctx context.Context, _ *uuid.UUID) (context.Context, func(), error) {
	if m.scopeErr != nil {
		return nil, nil, m.scopeErr
	}
	return ctx, func() {}, nil
}

func TestEntityHandler_Upsert(t *testing.T) {
	ingest := &mockIngestService{}
	handler := NewEntityHandler(ingest, &mockScopeFactory{}, zap.NewNop())

	body := `{"collection":"ontology_pages","name":"Billing Overview","content":"text","owner":"tenant-a"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/entities", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.Upsert(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, ingest.upserted, 1)

	var resp UpsertResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "billing-overview", resp.EntityKey)
	assert.Equal(t, models.DeriveID("Billing Overview", "tenant-a").String(), resp.ID)
}

func TestEntityHandler_UpsertBadCollection(t *testing.T) {
	ingest := &mockIngestService{upsertErr: apperrors.ErrConfiguration}
	handler := NewEntityHandler(ingest, &mockScopeFactory{}, zap.NewNop())

	body := `{"collection":"bogus","name":"x"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/entities", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.Upsert(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "configuration_error")
}

func TestEntityHandler_UpsertMalformedBody(t *testing.T) {
	handler := NewEntityHandler(&mockIngestService{}, &mockScopeFactory{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/v1/entities", strings.NewReader("{nope"))
	rec := httptest.NewRecorder()
	handler.Upsert(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEntityHandler_RebuildIndex(t *testing.T) {
	ingest := &mockIngestService{}
	handler := NewEntityHandler(ingest, &mockScopeFactory{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/rebuild-index", nil)
	rec := httptest.NewRecorder()
	handler.RebuildIndex(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ingest.rebuilds)
}

func TestEntityHandler_RebuildIndexFailure(t *testing.T) {
	ingest := &mockIngestService{rebuildErr: assert.AnError}
	handler := NewEntityHandler(ingest, &mockScopeFactory{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/rebuild-index", nil)
	rec := httptest.NewRecorder()
	handler.RebuildIndex(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
