// Package realtime pushes live dashboard refreshes to websocket subscribers.
// Each dashboard has a room; room membership is local to the process, and a
// Redis pub/sub channel fans invalidation events out across replicas.
package realtime

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pulsehq/pulse-engine/pkg/metrics"
	"github.com/pulsehq/pulse-engine/pkg/models"
	"github.com/pulsehq/pulse-engine/pkg/services"
)

// pubsubChannel carries cross-replica invalidation events.
const pubsubChannel = "pulse:realtime"

// Message types on the wire.
const (
	MsgSubscribe     = "subscribe:dashboard"
	MsgUnsubscribe   = "unsubscribe:dashboard"
	MsgRefresh       = "dashboard:refresh"
	MsgPing          = "ping"
	MsgPong          = "pong"
	MsgDashboardData = "dashboard:data"
	MsgDashboardUpd  = "dashboard:update"
	MsgSubscribed    = "subscribed"
	MsgUnsubscribed  = "unsubscribed"
	MsgError         = "error"
)

type clientRequest struct {
	Type        string `json:"type"`
	DashboardID string `json:"dashboard_id"`
}

type envelope struct {
	Type        string `json:"type"`
	DashboardID string `json:"dashboard_id,omitempty"`
	Payload     any    `json:"payload,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Stats is the broadcaster's on-demand report.
type Stats struct {
	Connections   int            `json:"connections"`
	Rooms         int            `json:"rooms"`
	PerRoomCounts map[string]int `json:"per_room_counts"`
}

// room holds local subscribers for one dashboard under its own lock.
type room struct {
	mu      sync.Mutex
	clients map[*client]bool
}

// Hub is the realtime broadcaster.
type Hub struct {
	dashboards services.DashboardService
	redis      *redis.Client // nil disables cross-replica fan-out
	logger     *zap.Logger

	mu      sync.RWMutex
	rooms   map[uuid.UUID]*room
	clients map[*client]bool

	shutdownOnce sync.Once
	done         chan struct{}
}

// NewHub creates the broadcaster. redisClient may be nil for single-replica
// deployments.
func NewHub(dashboards services.DashboardService, redisClient *redis.Client, logger *zap.Logger) *Hub {
	return &Hub{
		dashboards: dashboards,
		redis:      redisClient,
		logger:     logger,
		rooms:      make(map[uuid.UUID]*room),
		clients:    make(map[*client]bool),
		done:       make(chan struct{}),
	}
}

// Run consumes the cross-replica pub/sub channel until ctx is cancelled.
// Run returns immediately when no Redis client is attached.
func (h *Hub) Run(ctx context.Context) {
	if h.redis == nil {
		return
	}

	sub := h.redis.Subscribe(ctx, pubsubChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event envelope
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				h.logger.Warn("Malformed realtime event", zap.Error(err))
				continue
			}
			dashboardID, err := uuid.Parse(event.DashboardID)
			if err != nil {
				continue
			}
			h.refreshRoom(ctx, dashboardID)
		}
	}
}

// Shutdown disconnects every client and stops the pub/sub consumer. Called
// before the scheduler stops so in-flight refreshes drain first.
func (h *Hub) Shutdown() {
	h.shutdownOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		clients := make([]*client, 0, len(h.clients))
		for c := range h.clients {
			clients = append(clients, c)
		}
		h.clients = make(map[*client]bool)
		h.rooms = make(map[uuid.UUID]*room)
		h.mu.Unlock()

		for _, c := range clients {
			c.close()
		}
		metrics.RealtimeConnections.Set(0)
	})
}

// NotifyVisualizationChanged pushes a dashboard:update to every room whose
// dashboard references the visualization, across all replicas.
func (h *Hub) NotifyVisualizationChanged(ctx context.Context, visualizationID uuid.UUID) {
	dashboardIDs, err := h.dashboards.DashboardsForVisualization(ctx, visualizationID)
	if err != nil {
		h.logger.Warn("Failed to resolve dashboards for visualization",
			zap.String("visualization_id", visualizationID.String()), zap.Error(err))
		return
	}
	for _, id := range dashboardIDs {
		h.NotifyDashboardChanged(ctx, id)
	}
}

// NotifyDashboardChanged publishes an update event for one dashboard. With
// Redis attached the event reaches every replica, this one included; without
// it the local rooms refresh directly.
func (h *Hub) NotifyDashboardChanged(ctx context.Context, dashboardID uuid.UUID) {
	if h.redis != nil {
		raw, err := json.Marshal(envelope{Type: MsgDashboardUpd, DashboardID: dashboardID.String()})
		if err == nil {
			if err := h.redis.Publish(ctx, pubsubChannel, raw).Err(); err == nil {
				return
			}
			h.logger.Warn("Realtime publish failed, falling back to local broadcast",
				zap.String("dashboard_id", dashboardID.String()))
		}
	}
	h.refreshRoom(ctx, dashboardID)
}

// refreshRoom recomposes a dashboard and pushes a dashboard:update to its
// local subscribers.
func (h *Hub) refreshRoom(ctx context.Context, dashboardID uuid.UUID) {
	r := h.roomFor(dashboardID, false)
	if r == nil {
		return
	}

	r.mu.Lock()
	subscribers := make([]*client, 0, len(r.clients))
	for c := range r.clients {
		subscribers = append(subscribers, c)
	}
	r.mu.Unlock()
	if len(subscribers) == 0 {
		return
	}

	composed, err := h.dashboards.Compose(ctx, dashboardID, services.ComposeOptions{
		SkipViewTracking: true,
		AutoRefresh:      true,
		SkipCache:        true,
	})
	if err != nil {
		h.logger.Warn("Realtime recompose failed",
			zap.String("dashboard_id", dashboardID.String()), zap.Error(err))
		return
	}

	msg := marshalEnvelope(envelope{
		Type:        MsgDashboardUpd,
		DashboardID: dashboardID.String(),
		Payload:     composed,
	})
	for _, c := range subscribers {
		c.enqueue(msg)
	}
}

func (h *Hub) roomFor(dashboardID uuid.UUID, create bool) *room {
	h.mu.RLock()
	r := h.rooms[dashboardID]
	h.mu.RUnlock()
	if r != nil || !create {
		return r
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if r = h.rooms[dashboardID]; r == nil {
		r = &room{clients: make(map[*client]bool)}
		h.rooms[dashboardID] = r
	}
	return r
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = true
	total := len(h.clients)
	h.mu.Unlock()
	metrics.RealtimeConnections.Set(float64(total))
}

func (h *Hub) disconnect(c *client) {
	for _, id := range c.roomIDs() {
		h.leave(c, id)
	}

	h.mu.Lock()
	delete(h.clients, c)
	total := len(h.clients)
	h.mu.Unlock()
	metrics.RealtimeConnections.Set(float64(total))

	c.close()
}

func (h *Hub) handleRequest(c *client, req *clientRequest) {
	// Application-level keepalive; carries no dashboard id.
	if req.Type == MsgPing {
		c.enqueue(marshalEnvelope(envelope{Type: MsgPong}))
		return
	}

	dashboardID, err := uuid.Parse(req.DashboardID)
	if err != nil {
		c.enqueue(marshalEnvelope(envelope{
			Type:  MsgError,
			Error: "invalid dashboard id",
		}))
		return
	}

	switch req.Type {
	case MsgSubscribe:
		h.join(c, dashboardID)
	case MsgUnsubscribe:
		h.leave(c, dashboardID)
		c.enqueue(marshalEnvelope(envelope{
			Type:        MsgUnsubscribed,
			DashboardID: dashboardID.String(),
		}))
	case MsgRefresh:
		h.refreshClient(c, dashboardID)
	default:
		c.enqueue(marshalEnvelope(envelope{
			Type:        MsgError,
			DashboardID: dashboardID.String(),
			Error:       "unknown message type",
		}))
	}
}

// refreshClient forces a recompose for one subscriber, bypassing the
// composed-payload cache.
func (h *Hub) refreshClient(c *client, dashboardID uuid.UUID) {
	composed, err := h.dashboards.Compose(context.Background(), dashboardID, services.ComposeOptions{
		SkipViewTracking: true,
		AutoRefresh:      true,
		SkipCache:        true,
	})
	if err != nil {
		h.logger.Warn("Forced recompose failed",
			zap.String("dashboard_id", dashboardID.String()), zap.Error(err))
		c.enqueue(marshalEnvelope(envelope{
			Type:        MsgError,
			DashboardID: dashboardID.String(),
			Error:       "failed to compose dashboard",
		}))
		return
	}
	c.enqueue(marshalEnvelope(envelope{
		Type:        MsgDashboardData,
		DashboardID: dashboardID.String(),
		Payload:     composed,
	}))
}

// join adds the client to a room, sends the full payload immediately, and
// starts the per-socket refresh loop when the dashboard wants one.
func (h *Hub) join(c *client, dashboardID uuid.UUID) {
	ctx := context.Background()

	d, err := h.dashboards.Get(ctx, dashboardID)
	if err != nil {
		c.enqueue(marshalEnvelope(envelope{
			Type:        MsgError,
			DashboardID: dashboardID.String(),
			Error:       "dashboard not found",
		}))
		return
	}

	r := h.roomFor(dashboardID, true)
	r.mu.Lock()
	r.clients[c] = true
	r.mu.Unlock()

	c.enqueue(marshalEnvelope(envelope{
		Type:        MsgSubscribed,
		DashboardID: dashboardID.String(),
	}))

	composed, err := h.dashboards.Compose(ctx, dashboardID, services.ComposeOptions{
		SkipViewTracking: true,
		AutoRefresh:      true,
	})
	if err != nil {
		h.logger.Warn("Initial compose failed",
			zap.String("dashboard_id", dashboardID.String()), zap.Error(err))
		c.enqueue(marshalEnvelope(envelope{
			Type:        MsgError,
			DashboardID: dashboardID.String(),
			Error:       "failed to compose dashboard",
		}))
	} else {
		c.enqueue(marshalEnvelope(envelope{
			Type:        MsgDashboardData,
			DashboardID: dashboardID.String(),
			Payload:     composed,
		}))
	}

	if d.IsRealtime || d.RefreshInterval != nil {
		loopCtx, cancel := context.WithCancel(context.Background())
		c.trackRoom(dashboardID, cancel)
		go h.refreshLoop(loopCtx, c, d)
	} else {
		c.trackRoom(dashboardID, nil)
	}
}

func (h *Hub) leave(c *client, dashboardID uuid.UUID) {
	c.untrackRoom(dashboardID)

	r := h.roomFor(dashboardID, false)
	if r == nil {
		return
	}
	r.mu.Lock()
	delete(r.clients, c)
	empty := len(r.clients) == 0
	r.mu.Unlock()

	if empty {
		h.mu.Lock()
		if rr := h.rooms[dashboardID]; rr == r {
			rr.mu.Lock()
			if len(rr.clients) == 0 {
				delete(h.rooms, dashboardID)
			}
			rr.mu.Unlock()
		}
		h.mu.Unlock()
	}
}

// refreshLoop composes the dashboard at its refresh interval and emits to one
// socket until the subscription or connection ends.
func (h *Hub) refreshLoop(ctx context.Context, c *client, d *models.Dashboard) {
	ticker := time.NewTicker(d.EffectiveRefreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			composed, err := h.dashboards.Compose(ctx, d.ID, services.ComposeOptions{
				SkipViewTracking: true,
				AutoRefresh:      true,
				SkipCache:        true,
			})
			if err != nil {
				h.logger.Warn("Periodic compose failed",
					zap.String("dashboard_id", d.ID.String()), zap.Error(err))
				continue
			}
			c.enqueue(marshalEnvelope(envelope{
				Type:        MsgDashboardData,
				DashboardID: d.ID.String(),
				Payload:     composed,
			}))
		}
	}
}

// Stats reports current connection and room counts.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := Stats{
		Connections:   len(h.clients),
		Rooms:         len(h.rooms),
		PerRoomCounts: make(map[string]int, len(h.rooms)),
	}
	ids := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		ids = append(ids, id.String())
	}
	sort.Strings(ids)
	for _, id := range ids {
		parsed, _ := uuid.Parse(id)
		r := h.rooms[parsed]
		r.mu.Lock()
		stats.PerRoomCounts[id] = len(r.clients)
		r.mu.Unlock()
	}
	return stats
}

func marshalEnvelope(e envelope) []byte {
	raw, err := json.Marshal(e)
	if err != nil {
		return []byte(`{"type":"error","error":"internal encoding failure"}`)
	}
	return raw
}
