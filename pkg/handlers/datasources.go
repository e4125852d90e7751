package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/pulsehq/pulse-engine/pkg/auth"
	"github.com/pulsehq/pulse-engine/pkg/models"
	"github.com/pulsehq/pulse-engine/pkg/services"
)

// CreateDataSourceRequest is the POST body for new data sources.
type CreateDataSourceRequest struct {
	Name       string         `json:"name"`
	Kind       string         `json:"kind"`
	Config     map[string]any `json:"config"`
	ServiceTag string         `json:"service_tag,omitempty"`
}

// UpdateDataSourceRequest is the PUT body. Redacted config values are
// preserved from the stored source.
type UpdateDataSourceRequest struct {
	Name       string         `json:"name"`
	Config     map[string]any `json:"config"`
	ServiceTag string         `json:"service_tag,omitempty"`
}

// DataSourcesHandler handles data source HTTP requests.
type DataSourcesHandler struct {
	datasources services.DataSourceService
	logger      *zap.Logger
}

// NewDataSourcesHandler creates a new data sources handler.
func NewDataSourcesHandler(datasources services.DataSourceService, logger *zap.Logger) *DataSourcesHandler {
	return &DataSourcesHandler{datasources: datasources, logger: logger}
}

// RegisterRoutes registers the data source routes on the given mux.
func (h *DataSourcesHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("GET /api/datasources", authMiddleware.RequireAuth(h.List))
	mux.HandleFunc("POST /api/datasources", authMiddleware.RequireAuth(h.Create))
	mux.HandleFunc("GET /api/datasources/{id}", authMiddleware.RequireAuth(h.Get))
	mux.HandleFunc("PUT /api/datasources/{id}", authMiddleware.RequireAuth(h.Update))
	mux.HandleFunc("DELETE /api/datasources/{id}", authMiddleware.RequireAuth(h.Delete))
	mux.HandleFunc("POST /api/datasources/{id}/probe", authMiddleware.RequireAuth(h.Probe))
	mux.HandleFunc("POST /api/datasources/{id}/discover", authMiddleware.RequireAuth(h.Discover))
}

// List handles GET /api/datasources
func (h *DataSourcesHandler) List(w http.ResponseWriter, r *http.Request) {
	sources, err := h.datasources.List(r.Context())
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusOK, sources)
}

// Create handles POST /api/datasources
func (h *DataSourcesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateDataSourceRequest
	if !DecodeBody(w, r, &req, h.logger) {
		return
	}

	ds := &models.DataSource{
		Name:       req.Name,
		Kind:       req.Kind,
		Config:     req.Config,
		ServiceTag: req.ServiceTag,
		CreatedBy:  auth.Subject(r.Context()),
	}

	created, err := h.datasources.Create(r.Context(), ds)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusCreated, created)
}

// Get handles GET /api/datasources/{id}
func (h *DataSourcesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	ds, err := h.datasources.Get(r.Context(), id)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusOK, ds)
}

// Update handles PUT /api/datasources/{id}
func (h *DataSourcesHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	var req UpdateDataSourceRequest
	if !DecodeBody(w, r, &req, h.logger) {
		return
	}

	ds := &models.DataSource{
		ID:         id,
		Name:       req.Name,
		Config:     req.Config,
		ServiceTag: req.ServiceTag,
	}

	updated, err := h.datasources.Update(r.Context(), ds)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusOK, updated)
}

// Delete handles DELETE /api/datasources/{id}
func (h *DataSourcesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.datasources.Delete(r.Context(), id); err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusOK, map[string]any{"deleted": true})
}

// Probe handles POST /api/datasources/{id}/probe
// Probe failures are reported in the result body, not as HTTP errors.
func (h *DataSourcesHandler) Probe(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	result, err := h.datasources.Probe(r.Context(), id)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusOK, result)
}

// Discover handles POST /api/datasources/{id}/discover
func (h *DataSourcesHandler) Discover(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	metadata, err := h.datasources.Discover(r.Context(), id)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusOK, metadata)
}
