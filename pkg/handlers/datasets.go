package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsehq/pulse-engine/pkg/auth"
	"github.com/pulsehq/pulse-engine/pkg/models"
	"github.com/pulsehq/pulse-engine/pkg/services"
)

// CreateDatasetBody is the POST body for materializing a dataset.
type CreateDatasetBody struct {
	QueryID    uuid.UUID      `json:"query_id"`
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters,omitempty"`
	IsSnapshot bool           `json:"is_snapshot"`
}

// TransformDatasetBody is the POST body for deriving a transformed snapshot.
type TransformDatasetBody struct {
	Name string               `json:"name"`
	Ops  []models.TransformOp `json:"ops"`
}

// DatasetsHandler handles dataset HTTP requests.
type DatasetsHandler struct {
	datasets services.DatasetService
	logger   *zap.Logger
}

// NewDatasetsHandler creates a new datasets handler.
func NewDatasetsHandler(datasets services.DatasetService, logger *zap.Logger) *DatasetsHandler {
	return &DatasetsHandler{datasets: datasets, logger: logger}
}

// RegisterRoutes registers the dataset routes on the given mux.
func (h *DatasetsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("GET /api/datasets", authMiddleware.RequireAuth(h.List))
	mux.HandleFunc("POST /api/datasets", authMiddleware.RequireAuth(h.Create))
	mux.HandleFunc("GET /api/datasets/{id}", authMiddleware.RequireAuth(h.Get))
	mux.HandleFunc("DELETE /api/datasets/{id}", authMiddleware.RequireAuth(h.Delete))
	mux.HandleFunc("POST /api/datasets/{id}/refresh", authMiddleware.RequireAuth(h.Refresh))
	mux.HandleFunc("POST /api/datasets/{id}/transform", authMiddleware.RequireAuth(h.Transform))
}

// List handles GET /api/datasets
func (h *DatasetsHandler) List(w http.ResponseWriter, r *http.Request) {
	datasets, err := h.datasets.List(r.Context())
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusOK, datasets)
}

// Create handles POST /api/datasets
func (h *DatasetsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body CreateDatasetBody
	if !DecodeBody(w, r, &body, h.logger) {
		return
	}

	created, err := h.datasets.Create(r.Context(), &services.CreateDatasetRequest{
		QueryID:    body.QueryID,
		Name:       body.Name,
		Parameters: body.Parameters,
		IsSnapshot: body.IsSnapshot,
		CreatedBy:  auth.Subject(r.Context()),
	})
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusCreated, created)
}

// Get handles GET /api/datasets/{id}
func (h *DatasetsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	d, err := h.datasets.Get(r.Context(), id)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusOK, d)
}

// Delete handles DELETE /api/datasets/{id}
func (h *DatasetsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.datasets.Delete(r.Context(), id); err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusOK, map[string]any{"deleted": true})
}

// Refresh handles POST /api/datasets/{id}/refresh
func (h *DatasetsHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	d, err := h.datasets.Refresh(r.Context(), id)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusOK, d)
}

// Transform handles POST /api/datasets/{id}/transform
func (h *DatasetsHandler) Transform(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	var body TransformDatasetBody
	if !DecodeBody(w, r, &body, h.logger) {
		return
	}

	derived, err := h.datasets.Transform(r.Context(), id, body.Name, body.Ops, auth.Subject(r.Context()))
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusCreated, derived)
}
