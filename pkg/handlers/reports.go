package handlers

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsehq/pulse-engine/pkg/auth"
	"github.com/pulsehq/pulse-engine/pkg/models"
	"github.com/pulsehq/pulse-engine/pkg/services"
)

// ReportRequest is the POST/PUT body for reports.
type ReportRequest struct {
	QueryID    uuid.UUID      `json:"query_id"`
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Format     string         `json:"format"`
}

// ExecuteReportRequest is the POST body for ad-hoc report runs.
type ExecuteReportRequest struct {
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ReportsHandler handles report HTTP requests.
type ReportsHandler struct {
	reports services.ReportService
	logger  *zap.Logger
}

// NewReportsHandler creates a new reports handler.
func NewReportsHandler(reports services.ReportService, logger *zap.Logger) *ReportsHandler {
	return &ReportsHandler{reports: reports, logger: logger}
}

// RegisterRoutes registers the report routes on the given mux.
func (h *ReportsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("GET /api/reports", authMiddleware.RequireAuth(h.List))
	mux.HandleFunc("POST /api/reports", authMiddleware.RequireAuth(h.Create))
	mux.HandleFunc("GET /api/reports/{id}", authMiddleware.RequireAuth(h.Get))
	mux.HandleFunc("PUT /api/reports/{id}", authMiddleware.RequireAuth(h.Update))
	mux.HandleFunc("DELETE /api/reports/{id}", authMiddleware.RequireAuth(h.Delete))
	mux.HandleFunc("POST /api/reports/{id}/execute", authMiddleware.RequireAuth(h.Execute))
}

// List handles GET /api/reports
func (h *ReportsHandler) List(w http.ResponseWriter, r *http.Request) {
	reports, err := h.reports.List(r.Context())
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusOK, reports)
}

// Create handles POST /api/reports
func (h *ReportsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req ReportRequest
	if !DecodeBody(w, r, &req, h.logger) {
		return
	}

	rep := &models.Report{
		QueryID:    req.QueryID,
		Name:       req.Name,
		Parameters: req.Parameters,
		Format:     req.Format,
		CreatedBy:  auth.Subject(r.Context()),
	}

	created, err := h.reports.Create(r.Context(), rep)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusCreated, created)
}

// Get handles GET /api/reports/{id}
func (h *ReportsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	rep, err := h.reports.Get(r.Context(), id)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusOK, rep)
}

// Update handles PUT /api/reports/{id}
func (h *ReportsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	var req ReportRequest
	if !DecodeBody(w, r, &req, h.logger) {
		return
	}

	rep := &models.Report{
		ID:         id,
		QueryID:    req.QueryID,
		Name:       req.Name,
		Parameters: req.Parameters,
		Format:     req.Format,
	}

	updated, err := h.reports.Update(r.Context(), rep)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusOK, updated)
}

// Delete handles DELETE /api/reports/{id}
func (h *ReportsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.reports.Delete(r.Context(), id); err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusOK, map[string]any{"deleted": true})
}

// Execute handles POST /api/reports/{id}/execute
// The artifact is streamed raw with its own content type so clients can
// download CSV directly.
func (h *ReportsHandler) Execute(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	req := ExecuteReportRequest{}
	if r.ContentLength != 0 && !DecodeBody(w, r, &req, h.logger) {
		return
	}

	artifact, err := h.reports.Execute(r.Context(), id, req.Parameters)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("%s.%s", artifact.Name, artifact.Format)))
	if _, err := w.Write(artifact.Content); err != nil {
		h.logger.Error("Failed to write artifact", zap.Error(err))
	}
}
