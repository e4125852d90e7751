package handlers

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsehq/pulse-engine/pkg/auth"
	"github.com/pulsehq/pulse-engine/pkg/models"
	"github.com/pulsehq/pulse-engine/pkg/scheduler"
	"github.com/pulsehq/pulse-engine/pkg/services"
)

// ScheduleRequest is the POST/PUT body for schedules.
type ScheduleRequest struct {
	ReportID   uuid.UUID                `json:"report_id"`
	Name       string                   `json:"name"`
	Cron       string                   `json:"cron"`
	Timezone   string                   `json:"timezone,omitempty"`
	Parameters map[string]any           `json:"parameters,omitempty"`
	Format     string                   `json:"format"`
	Channels   []models.DeliveryChannel `json:"delivery_channels"`
	Window     models.ScheduleWindow    `json:"window"`
	Active     bool                     `json:"active"`
}

// SetActiveRequest is the PATCH body for toggling a schedule.
type SetActiveRequest struct {
	Active bool `json:"active"`
}

// SchedulesHandler handles schedule HTTP requests. Manual runs go through the
// scheduler so they share overlap protection with timed fires.
type SchedulesHandler struct {
	schedules services.ScheduleService
	runner    *scheduler.Scheduler
	logger    *zap.Logger
}

// NewSchedulesHandler creates a new schedules handler.
func NewSchedulesHandler(schedules services.ScheduleService, runner *scheduler.Scheduler, logger *zap.Logger) *SchedulesHandler {
	return &SchedulesHandler{schedules: schedules, runner: runner, logger: logger}
}

// RegisterRoutes registers the schedule routes on the given mux.
func (h *SchedulesHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("GET /api/schedules", authMiddleware.RequireAuth(h.List))
	mux.HandleFunc("POST /api/schedules", authMiddleware.RequireAuth(h.Create))
	mux.HandleFunc("GET /api/schedules/{id}", authMiddleware.RequireAuth(h.Get))
	mux.HandleFunc("PUT /api/schedules/{id}", authMiddleware.RequireAuth(h.Update))
	mux.HandleFunc("DELETE /api/schedules/{id}", authMiddleware.RequireAuth(h.Delete))
	mux.HandleFunc("PATCH /api/schedules/{id}/active", authMiddleware.RequireAuth(h.SetActive))
	mux.HandleFunc("POST /api/schedules/{id}/execute", authMiddleware.RequireAuth(h.Execute))
	mux.HandleFunc("GET /api/schedules/{id}/executions", authMiddleware.RequireAuth(h.Executions))
	mux.HandleFunc("POST /api/executions/{id}/cancel", authMiddleware.RequireAuth(h.CancelExecution))
}

// List handles GET /api/schedules
func (h *SchedulesHandler) List(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.schedules.List(r.Context())
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusOK, schedules)
}

// Create handles POST /api/schedules
func (h *SchedulesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if !DecodeBody(w, r, &req, h.logger) {
		return
	}

	created, err := h.schedules.Create(r.Context(), h.fromRequest(uuid.Nil, &req))
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusCreated, created)
}

// Get handles GET /api/schedules/{id}
func (h *SchedulesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	s, err := h.schedules.Get(r.Context(), id)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusOK, s)
}

// Update handles PUT /api/schedules/{id}
func (h *SchedulesHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	var req ScheduleRequest
	if !DecodeBody(w, r, &req, h.logger) {
		return
	}

	updated, err := h.schedules.Update(r.Context(), h.fromRequest(id, &req))
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusOK, updated)
}

// Delete handles DELETE /api/schedules/{id}
func (h *SchedulesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.schedules.Delete(r.Context(), id); err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusOK, map[string]any{"deleted": true})
}

// SetActive handles PATCH /api/schedules/{id}/active
func (h *SchedulesHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	var req SetActiveRequest
	if !DecodeBody(w, r, &req, h.logger) {
		return
	}

	s, err := h.schedules.SetActive(r.Context(), id, req.Active)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusOK, s)
}

// Execute handles POST /api/schedules/{id}/execute
// Triggers a manual run; a run already in progress is a conflict.
func (h *SchedulesHandler) Execute(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	exec, err := h.runner.RunNow(r.Context(), id)
	if err != nil {
		if errors.Is(err, scheduler.ErrRunInProgress) {
			if werr := ErrorResponse(w, http.StatusConflict, "run_in_progress", err.Error()); werr != nil {
				h.logger.Error("Failed to write error response", zap.Error(werr))
			}
			return
		}
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusOK, exec)
}

// Executions handles GET /api/schedules/{id}/executions
func (h *SchedulesHandler) Executions(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	executions, err := h.schedules.Executions(r.Context(), id, QueryInt(r, "limit", 50))
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusOK, executions)
}

// CancelExecution handles POST /api/executions/{id}/cancel
func (h *SchedulesHandler) CancelExecution(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.schedules.CancelExecution(r.Context(), id); err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusOK, map[string]any{"cancelled": true})
}

func (h *SchedulesHandler) fromRequest(id uuid.UUID, req *ScheduleRequest) *models.Schedule {
	return &models.Schedule{
		ID:         id,
		ReportID:   req.ReportID,
		Name:       req.Name,
		Cron:       req.Cron,
		Timezone:   req.Timezone,
		Parameters: req.Parameters,
		Format:     req.Format,
		Channels:   req.Channels,
		Window:     req.Window,
		Active:     req.Active,
	}
}
