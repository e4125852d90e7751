package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsehq/pulse-engine/pkg/auth"
	"github.com/pulsehq/pulse-engine/pkg/models"
	"github.com/pulsehq/pulse-engine/pkg/services"
)

// QueryRequest is the POST/PUT body for saved queries.
type QueryRequest struct {
	DataSourceID  uuid.UUID             `json:"datasource_id"`
	Name          string                `json:"name"`
	Kind          string                `json:"kind"`
	Definition    json.RawMessage       `json:"definition"`
	ParameterDefs []models.ParameterDef `json:"parameter_defs,omitempty"`
	CacheEnabled  bool                  `json:"cache_enabled"`
	CacheTTL      int                   `json:"cache_ttl"`
}

// ExecuteQueryRequest is the POST body for query execution.
type ExecuteQueryRequest struct {
	Parameters map[string]any `json:"parameters,omitempty"`
	SkipCache  bool           `json:"skip_cache,omitempty"`
}

// QueriesHandler handles saved query HTTP requests.
type QueriesHandler struct {
	queries services.QueryService
	logger  *zap.Logger
}

// NewQueriesHandler creates a new queries handler.
func NewQueriesHandler(queries services.QueryService, logger *zap.Logger) *QueriesHandler {
	return &QueriesHandler{queries: queries, logger: logger}
}

// RegisterRoutes registers the query routes on the given mux.
func (h *QueriesHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("GET /api/queries", authMiddleware.RequireAuth(h.List))
	mux.HandleFunc("POST /api/queries", authMiddleware.RequireAuth(h.Create))
	mux.HandleFunc("GET /api/queries/{id}", authMiddleware.RequireAuth(h.Get))
	mux.HandleFunc("PUT /api/queries/{id}", authMiddleware.RequireAuth(h.Update))
	mux.HandleFunc("DELETE /api/queries/{id}", authMiddleware.RequireAuth(h.Delete))
	mux.HandleFunc("POST /api/queries/{id}/execute", authMiddleware.RequireAuth(h.Execute))
}

// List handles GET /api/queries
func (h *QueriesHandler) List(w http.ResponseWriter, r *http.Request) {
	queries, err := h.queries.List(r.Context())
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusOK, queries)
}

// Create handles POST /api/queries
func (h *QueriesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if !DecodeBody(w, r, &req, h.logger) {
		return
	}

	q := &models.Query{
		DataSourceID:  req.DataSourceID,
		Name:          req.Name,
		Kind:          req.Kind,
		Definition:    req.Definition,
		ParameterDefs: req.ParameterDefs,
		CacheEnabled:  req.CacheEnabled,
		CacheTTL:      req.CacheTTL,
		CreatedBy:     auth.Subject(r.Context()),
	}

	created, err := h.queries.Create(r.Context(), q)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusCreated, created)
}

// Get handles GET /api/queries/{id}
func (h *QueriesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	q, err := h.queries.Get(r.Context(), id)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusOK, q)
}

// Update handles PUT /api/queries/{id}
func (h *QueriesHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	var req QueryRequest
	if !DecodeBody(w, r, &req, h.logger) {
		return
	}

	q := &models.Query{
		ID:            id,
		DataSourceID:  req.DataSourceID,
		Name:          req.Name,
		Kind:          req.Kind,
		Definition:    req.Definition,
		ParameterDefs: req.ParameterDefs,
		CacheEnabled:  req.CacheEnabled,
		CacheTTL:      req.CacheTTL,
	}

	updated, err := h.queries.Update(r.Context(), q)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusOK, updated)
}

// Delete handles DELETE /api/queries/{id}
func (h *QueriesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.queries.Delete(r.Context(), id); err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusOK, map[string]any{"deleted": true})
}

// Execute handles POST /api/queries/{id}/execute
func (h *QueriesHandler) Execute(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	req := ExecuteQueryRequest{}
	if r.ContentLength != 0 && !DecodeBody(w, r, &req, h.logger) {
		return
	}

	result, err := h.queries.Execute(r.Context(), id, req.Parameters, services.ExecuteOptions{
		SkipCache: req.SkipCache,
	})
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusOK, result)
}
