package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pulsehq/pulse-engine/pkg/metrics"
)

const (
	// sendQueueSize bounds the per-client outbound buffer. When it fills,
	// the oldest pending message is dropped for the newest; the refresh
	// loop never blocks on a slow reader.
	sendQueueSize = 32

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4 * 1024
)

// client is one websocket connection. A single writePump goroutine owns all
// writes, so messages for the same dashboard leave in generation order.
type client struct {
	hub     *Hub
	conn    *websocket.Conn
	subject string

	send chan []byte

	mu     sync.Mutex
	rooms  map[uuid.UUID]context.CancelFunc // per-room refresh loop cancels
	closed bool
}

func newClient(hub *Hub, conn *websocket.Conn, subject string) *client {
	return &client{
		hub:     hub,
		conn:    conn,
		subject: subject,
		send:    make(chan []byte, sendQueueSize),
		rooms:   make(map[uuid.UUID]context.CancelFunc),
	}
}

// enqueue queues a message for delivery, dropping the oldest pending message
// under backpressure.
func (c *client) enqueue(msg []byte) {
	select {
	case c.send <- msg:
		return
	default:
	}

	select {
	case <-c.send:
		metrics.RealtimeMessagesDropped.Inc()
	default:
	}
	select {
	case c.send <- msg:
	default:
		metrics.RealtimeMessagesDropped.Inc()
	}
}

func (c *client) trackRoom(dashboardID uuid.UUID, cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.rooms[dashboardID]; ok && prev != nil {
		prev()
	}
	c.rooms[dashboardID] = cancel
}

func (c *client) untrackRoom(dashboardID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cancel, ok := c.rooms[dashboardID]; ok {
		if cancel != nil {
			cancel()
		}
		delete(c.rooms, dashboardID)
	}
}

// roomIDs returns a snapshot of the rooms this client has joined.
func (c *client) roomIDs() []uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(c.rooms))
	for id := range c.rooms {
		ids = append(ids, id)
	}
	return ids
}

// close cancels every refresh loop and closes the send channel once.
func (c *client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for _, cancel := range c.rooms {
		if cancel != nil {
			cancel()
		}
	}
	c.rooms = make(map[uuid.UUID]context.CancelFunc)
	c.mu.Unlock()

	close(c.send)
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) readPump() {
	defer c.hub.disconnect(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var req clientRequest
		if err := c.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("Websocket read failed", zap.Error(err))
			}
			return
		}
		c.hub.handleRequest(c, &req)
	}
}
