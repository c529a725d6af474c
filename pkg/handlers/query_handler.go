package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/remlabs/rem-engine/pkg/logging"
	"github.com/remlabs/rem-engine/pkg/services"
)

// QueryHandler exposes the query router over HTTP. All four query kinds go
// through the single POST endpoint; the response envelope is uniform.
type QueryHandler struct {
	router services.QueryRouter
	logger *zap.Logger
}

// NewQueryHandler creates a new QueryHandler.
func NewQueryHandler(router services.QueryRouter, logger *zap.Logger) *QueryHandler {
	return &QueryHandler{router: router, logger: logger}
}

// RegisterRoutes registers the query handler's routes on the given mux.
func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/query", h.Query)
}

// Query handles POST /v1/query requests.
func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	var query services.Query
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "malformed query body")
		return
	}

	resp, err := h.router.Route(r.Context(), query)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		h.logger.Error("query routing failed",
			zap.String("kind", string(query.Kind)),
			zap.String("error", logging.SanitizeError(err)))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "query failed")
		return
	}

	status := http.StatusOK
	if resp.Status == services.StatusNotFound {
		status = http.StatusNotFound
	}

	if err := WriteJSON(w, status, resp); err != nil {
		h.logger.Error("failed to encode query response", zap.Error(err))
	}
}
