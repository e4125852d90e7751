package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsehq/pulse-engine/pkg/auth"
	"github.com/pulsehq/pulse-engine/pkg/models"
	"github.com/pulsehq/pulse-engine/pkg/services"
)

// VisualizationRequest is the POST/PUT body for visualizations.
type VisualizationRequest struct {
	DatasetID    uuid.UUID               `json:"dataset_id"`
	Name         string                  `json:"name"`
	Type         string                  `json:"type"`
	Renderer     string                  `json:"renderer"`
	Config       map[string]any          `json:"config,omitempty"`
	DataMapping  models.DataMapping      `json:"data_mapping"`
	Filters      []models.VizFilter      `json:"filters,omitempty"`
	Aggregations []models.VizAggregation `json:"aggregations,omitempty"`
}

// VisualizationsHandler handles visualization HTTP requests.
type VisualizationsHandler struct {
	visualizations services.VisualizationService
	logger         *zap.Logger
}

// NewVisualizationsHandler creates a new visualizations handler.
func NewVisualizationsHandler(visualizations services.VisualizationService, logger *zap.Logger) *VisualizationsHandler {
	return &VisualizationsHandler{visualizations: visualizations, logger: logger}
}

// RegisterRoutes registers the visualization routes on the given mux.
func (h *VisualizationsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("GET /api/visualizations", authMiddleware.RequireAuth(h.List))
	mux.HandleFunc("POST /api/visualizations", authMiddleware.RequireAuth(h.Create))
	mux.HandleFunc("GET /api/visualizations/{id}", authMiddleware.RequireAuth(h.Get))
	mux.HandleFunc("PUT /api/visualizations/{id}", authMiddleware.RequireAuth(h.Update))
	mux.HandleFunc("DELETE /api/visualizations/{id}", authMiddleware.RequireAuth(h.Delete))
	mux.HandleFunc("GET /api/visualizations/{id}/render", authMiddleware.RequireAuth(h.Render))
}

// List handles GET /api/visualizations
func (h *VisualizationsHandler) List(w http.ResponseWriter, r *http.Request) {
	visualizations, err := h.visualizations.List(r.Context())
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusOK, visualizations)
}

// Create handles POST /api/visualizations
func (h *VisualizationsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req VisualizationRequest
	if !DecodeBody(w, r, &req, h.logger) {
		return
	}

	created, err := h.visualizations.Create(r.Context(), h.fromRequest(uuid.Nil, &req, auth.Subject(r.Context())))
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusCreated, created)
}

// Get handles GET /api/visualizations/{id}
func (h *VisualizationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	v, err := h.visualizations.Get(r.Context(), id)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusOK, v)
}

// Update handles PUT /api/visualizations/{id}
func (h *VisualizationsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	var req VisualizationRequest
	if !DecodeBody(w, r, &req, h.logger) {
		return
	}

	updated, err := h.visualizations.Update(r.Context(), h.fromRequest(id, &req, ""))
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusOK, updated)
}

// Delete handles DELETE /api/visualizations/{id}
func (h *VisualizationsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.visualizations.Delete(r.Context(), id); err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusOK, map[string]any{"deleted": true})
}

// Render handles GET /api/visualizations/{id}/render
// Query params: auto_refresh re-runs an expired backing dataset, skip_cache
// bypasses the payload cache.
func (h *VisualizationsHandler) Render(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	payload, err := h.visualizations.Render(r.Context(), id, services.RenderOptions{
		AutoRefresh: QueryBool(r, "auto_refresh"),
		SkipCache:   QueryBool(r, "skip_cache"),
	})
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusOK, payload)
}

func (h *VisualizationsHandler) fromRequest(id uuid.UUID, req *VisualizationRequest, createdBy string) *models.Visualization {
	return &models.Visualization{
		ID:           id,
		DatasetID:    req.DatasetID,
		Name:         req.Name,
		Type:         req.Type,
		Renderer:     req.Renderer,
		Config:       req.Config,
		DataMapping:  req.DataMapping,
		Filters:      req.Filters,
		Aggregations: req.Aggregations,
		CreatedBy:    createdBy,
	}
}
