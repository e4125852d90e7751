package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pulsehq/pulse-engine/pkg/cache"
	"github.com/pulsehq/pulse-engine/pkg/config"
	"github.com/pulsehq/pulse-engine/pkg/database"
	"github.com/pulsehq/pulse-engine/pkg/realtime"
)

// healthCheckDeadline bounds the dependency pings inside one health request.
const healthCheckDeadline = 2 * time.Second

// CacheHealth reports result cache availability.
type CacheHealth struct {
	Enabled   bool `json:"enabled"`
	Connected bool `json:"connected"`
	Healthy   bool `json:"healthy"`
}

// RealtimeHealth reports broadcaster occupancy.
type RealtimeHealth struct {
	Connections int `json:"connections"`
	Dashboards  int `json:"dashboards"`
}

// HealthResponse is the /health body. Status is "degraded" when the cache is
// configured but unreachable; the database being down makes it "unhealthy".
type HealthResponse struct {
	Status    string         `json:"status"`
	Version   string         `json:"version"`
	GoVersion string         `json:"go_version"`
	Database  string         `json:"database"`
	Cache     CacheHealth    `json:"cache"`
	Realtime  RealtimeHealth `json:"realtime"`
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	cfg    *config.Config
	db     *database.DB
	store  *cache.Store
	redis  *redis.Client
	hub    *realtime.Hub
	logger *zap.Logger
}

// NewHealthHandler creates a new health handler. redisClient and hub may be
// nil when the corresponding subsystem is disabled.
func NewHealthHandler(cfg *config.Config, db *database.DB, store *cache.Store, redisClient *redis.Client, hub *realtime.Hub, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, db: db, store: store, redis: redisClient, hub: hub, logger: logger}
}

// RegisterRoutes registers the health routes on the given mux. Health is
// unauthenticated so load balancers can probe it.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckDeadline)
	defer cancel()

	resp := HealthResponse{
		Status:    "ok",
		Version:   h.cfg.Version,
		GoVersion: runtime.Version(),
		Database:  "ok",
		Cache:     CacheHealth{Enabled: h.store.Enabled()},
	}

	if err := h.db.Ping(ctx); err != nil {
		resp.Status = "unhealthy"
		resp.Database = "unreachable"
	}

	if h.store.Enabled() && h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			if resp.Status == "ok" {
				resp.Status = "degraded"
			}
		} else {
			resp.Cache.Connected = true
			resp.Cache.Healthy = true
		}
	}

	if h.hub != nil {
		stats := h.hub.Stats()
		resp.Realtime = RealtimeHealth{
			Connections: stats.Connections,
			Dashboards:  stats.Rooms,
		}
	}

	status := http.StatusOK
	if resp.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	if err := WriteJSON(w, status, resp); err != nil {
		h.logger.Error("Failed to write health response", zap.Error(err))
	}
}
