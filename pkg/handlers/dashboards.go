package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsehq/pulse-engine/pkg/auth"
	"github.com/pulsehq/pulse-engine/pkg/models"
	"github.com/pulsehq/pulse-engine/pkg/services"
)

// DashboardRequest is the POST/PUT body for dashboards.
type DashboardRequest struct {
	Name            string         `json:"name"`
	Layout          map[string]any `json:"layout,omitempty"`
	Theme           string         `json:"theme,omitempty"`
	RefreshInterval *int           `json:"refresh_interval,omitempty"`
	IsRealtime      bool           `json:"is_realtime"`
}

// DashboardItemRequest is the POST/PUT body for dashboard items.
type DashboardItemRequest struct {
	VisualizationID uuid.UUID           `json:"visualization_id"`
	Position        models.ItemPosition `json:"position"`
	Title           string              `json:"title,omitempty"`
	Order           int                 `json:"order"`
	IsLocked        bool                `json:"is_locked"`
}

// PositionsRequest is the PUT body for batch position moves.
type PositionsRequest struct {
	Positions map[uuid.UUID]models.ItemPosition `json:"positions"`
}

// CloneDashboardRequest is the POST body for cloning.
type CloneDashboardRequest struct {
	Name string `json:"name,omitempty"`
}

// DashboardsHandler handles dashboard HTTP requests.
type DashboardsHandler struct {
	dashboards services.DashboardService
	logger     *zap.Logger
}

// NewDashboardsHandler creates a new dashboards handler.
func NewDashboardsHandler(dashboards services.DashboardService, logger *zap.Logger) *DashboardsHandler {
	return &DashboardsHandler{dashboards: dashboards, logger: logger}
}

// RegisterRoutes registers the dashboard routes on the given mux.
func (h *DashboardsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("GET /api/dashboards", authMiddleware.RequireAuth(h.List))
	mux.HandleFunc("POST /api/dashboards", authMiddleware.RequireAuth(h.Create))
	mux.HandleFunc("GET /api/dashboards/{id}", authMiddleware.RequireAuth(h.Get))
	mux.HandleFunc("PUT /api/dashboards/{id}", authMiddleware.RequireAuth(h.Update))
	mux.HandleFunc("DELETE /api/dashboards/{id}", authMiddleware.RequireAuth(h.Delete))
	mux.HandleFunc("GET /api/dashboards/{id}/render", authMiddleware.RequireAuth(h.Render))
	mux.HandleFunc("POST /api/dashboards/{id}/clone", authMiddleware.RequireAuth(h.Clone))
	mux.HandleFunc("POST /api/dashboards/{id}/items", authMiddleware.RequireAuth(h.AddItem))
	mux.HandleFunc("PUT /api/dashboards/{id}/items/{itemID}", authMiddleware.RequireAuth(h.UpdateItem))
	mux.HandleFunc("DELETE /api/dashboards/{id}/items/{itemID}", authMiddleware.RequireAuth(h.DeleteItem))
	mux.HandleFunc("PUT /api/dashboards/{id}/positions", authMiddleware.RequireAuth(h.UpdatePositions))
}

// List handles GET /api/dashboards
func (h *DashboardsHandler) List(w http.ResponseWriter, r *http.Request) {
	dashboards, err := h.dashboards.List(r.Context())
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusOK, dashboards)
}

// Create handles POST /api/dashboards
func (h *DashboardsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req DashboardRequest
	if !DecodeBody(w, r, &req, h.logger) {
		return
	}

	d := &models.Dashboard{
		Name:            req.Name,
		Layout:          req.Layout,
		Theme:           req.Theme,
		RefreshInterval: req.RefreshInterval,
		IsRealtime:      req.IsRealtime,
		CreatedBy:       auth.Subject(r.Context()),
	}

	created, err := h.dashboards.Create(r.Context(), d)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusCreated, created)
}

// Get handles GET /api/dashboards/{id}
func (h *DashboardsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	d, err := h.dashboards.Get(r.Context(), id)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusOK, d)
}

// Update handles PUT /api/dashboards/{id}
func (h *DashboardsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	var req DashboardRequest
	if !DecodeBody(w, r, &req, h.logger) {
		return
	}

	d := &models.Dashboard{
		ID:              id,
		Name:            req.Name,
		Layout:          req.Layout,
		Theme:           req.Theme,
		RefreshInterval: req.RefreshInterval,
		IsRealtime:      req.IsRealtime,
	}

	updated, err := h.dashboards.Update(r.Context(), d)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusOK, updated)
}

// Delete handles DELETE /api/dashboards/{id}
func (h *DashboardsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.dashboards.Delete(r.Context(), id); err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusOK, map[string]any{"deleted": true})
}

// Render handles GET /api/dashboards/{id}/render
func (h *DashboardsHandler) Render(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	composed, err := h.dashboards.Compose(r.Context(), id, services.ComposeOptions{
		AutoRefresh: QueryBool(r, "auto_refresh"),
		SkipCache:   QueryBool(r, "skip_cache"),
	})
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusOK, composed)
}

// Clone handles POST /api/dashboards/{id}/clone
func (h *DashboardsHandler) Clone(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	req := CloneDashboardRequest{}
	if r.ContentLength != 0 && !DecodeBody(w, r, &req, h.logger) {
		return
	}

	clone, err := h.dashboards.Clone(r.Context(), id, req.Name, auth.Subject(r.Context()))
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusCreated, clone)
}

// AddItem handles POST /api/dashboards/{id}/items
func (h *DashboardsHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	var req DashboardItemRequest
	if !DecodeBody(w, r, &req, h.logger) {
		return
	}

	item := &models.DashboardItem{
		DashboardID:     id,
		VisualizationID: req.VisualizationID,
		Position:        req.Position,
		Title:           req.Title,
		Order:           req.Order,
		IsLocked:        req.IsLocked,
	}

	added, err := h.dashboards.AddItem(r.Context(), item)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusCreated, added)
}

// UpdateItem handles PUT /api/dashboards/{id}/items/{itemID}
func (h *DashboardsHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}
	itemID, ok := parseUUID(w, r, "itemID", h.logger)
	if !ok {
		return
	}

	var req DashboardItemRequest
	if !DecodeBody(w, r, &req, h.logger) {
		return
	}

	item := &models.DashboardItem{
		ID:              itemID,
		DashboardID:     id,
		VisualizationID: req.VisualizationID,
		Position:        req.Position,
		Title:           req.Title,
		Order:           req.Order,
		IsLocked:        req.IsLocked,
	}

	updated, err := h.dashboards.UpdateItem(r.Context(), item)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusOK, updated)
}

// DeleteItem handles DELETE /api/dashboards/{id}/items/{itemID}
func (h *DashboardsHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}
	itemID, ok := parseUUID(w, r, "itemID", h.logger)
	if !ok {
		return
	}

	if err := h.dashboards.DeleteItem(r.Context(), id, itemID); err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusOK, map[string]any{"deleted": true})
}

// UpdatePositions handles PUT /api/dashboards/{id}/positions
func (h *DashboardsHandler) UpdatePositions(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	var req PositionsRequest
	if !DecodeBody(w, r, &req, h.logger) {
		return
	}

	if err := h.dashboards.UpdateItemPositions(r.Context(), id, req.Positions); err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusOK, map[string]any{"updated": len(req.Positions)})
}
