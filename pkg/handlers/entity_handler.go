package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/remlabs/rem-engine/pkg/apperrors"
	"github.com/remlabs/rem-engine/pkg/logging"
	"github.com/remlabs/rem-engine/pkg/models"
	"github.com/remlabs/rem-engine/pkg/services"
)

// EntityHandler exposes the entity write path: upserting entities and
// rebuilding the derived index.
type EntityHandler struct {
	ingest services.IngestService
	scopes services.ScopeFactory
	logger *zap.Logger
}

// NewEntityHandler creates a new EntityHandler.
func NewEntityHandler(ingest services.IngestService, scopes services.ScopeFactory, logger *zap.Logger) *EntityHandler {
	return &EntityHandler{ingest: ingest, scopes: scopes, logger: logger}
}

// RegisterRoutes registers the entity handler's routes on the given mux.
func (h *EntityHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/entities", h.Upsert)
	mux.HandleFunc("POST /v1/admin/rebuild-index", h.RebuildIndex)
}

// UpsertResponse reports the stored entity's derived identity.
type UpsertResponse struct {
	ID         string `json:"id"`
	Collection string `json:"collection"`
	EntityKey  string `json:"entity_key,omitempty"`
}

// Upsert handles POST /v1/entities requests.
func (h *EntityHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var entity models.Entity
	if err := json.NewDecoder(r.Body).Decode(&entity); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "malformed entity body")
		return
	}

	ctx, cleanup, err := h.scopes.WithTenantScope(r.Context(), entity.TenantID)
	if err != nil {
		// Scope errors can carry the database DSN; keep credentials out of logs.
		h.logger.Error("failed to acquire tenant scope",
			zap.String("error", logging.SanitizeError(err)))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "upsert failed")
		return
	}
	defer cleanup()

	if err := h.ingest.UpsertEntity(ctx, &entity); err != nil {
		switch {
		case errors.Is(err, apperrors.ErrConfiguration):
			_ = ErrorResponse(w, http.StatusBadRequest, "configuration_error", err.Error())
		case errors.Is(err, apperrors.ErrInvalidKey):
			_ = ErrorResponse(w, http.StatusBadRequest, "invalid_key", err.Error())
		default:
			h.logger.Error("entity upsert failed",
				zap.String("collection", entity.Collection),
				zap.String("error", logging.SanitizeError(err)))
			_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "upsert failed")
		}
		return
	}

	resp := UpsertResponse{
		ID:         entity.ID.String(),
		Collection: entity.Collection,
	}
	if key, err := models.NormalizeKey(entity.Name); err == nil {
		resp.EntityKey = key
	}

	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("failed to encode upsert response", zap.Error(err))
	}
}

// RebuildIndex handles POST /v1/admin/rebuild-index requests. The rebuild
// is atomic: readers see the old index until the swap commits.
func (h *EntityHandler) RebuildIndex(w http.ResponseWriter, r *http.Request) {
	ctx, cleanup, err := h.scopes.WithTenantScope(r.Context(), nil)
	if err != nil {
		h.logger.Error("failed to acquire scope for rebuild",
			zap.String("error", logging.SanitizeError(err)))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "rebuild failed")
		return
	}
	defer cleanup()

	if err := h.ingest.RebuildIndex(ctx); err != nil {
		h.logger.Error("index rebuild failed",
			zap.String("error", logging.SanitizeError(err)))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "rebuild failed")
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]string{"status": "rebuilt"}); err != nil {
		h.logger.Error("failed to encode rebuild response", zap.Error(err))
	}
}
