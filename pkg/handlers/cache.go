package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/pulsehq/pulse-engine/pkg/auth"
	"github.com/pulsehq/pulse-engine/pkg/cache"
)

// CacheHandler exposes cache administration endpoints.
type CacheHandler struct {
	store  *cache.Store
	logger *zap.Logger
}

// NewCacheHandler creates a new cache handler.
func NewCacheHandler(store *cache.Store, logger *zap.Logger) *CacheHandler {
	return &CacheHandler{store: store, logger: logger}
}

// RegisterRoutes registers the cache routes on the given mux. Flush is
// destructive and restricted to admins.
func (h *CacheHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("GET /api/cache/stats", authMiddleware.RequireAuth(h.Stats))
	mux.HandleFunc("POST /api/cache/flush", authMiddleware.RequireRole("admin")(h.Flush))
}

// Stats handles GET /api/cache/stats
func (h *CacheHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, h.logger, http.StatusOK, stats)
}

// Flush handles POST /api/cache/flush
func (h *CacheHandler) Flush(w http.ResponseWriter, r *http.Request) {
	removed, err := h.store.Flush(r.Context())
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}

	h.logger.Info("Cache flushed",
		zap.Int64("keys_removed", removed),
		zap.String("subject", auth.Subject(r.Context())))
	WriteData(w, h.logger, http.StatusOK, map[string]any{"keys_removed": removed})
}
