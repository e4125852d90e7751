package realtime

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pulsehq/pulse-engine/pkg/auth"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 32 * 1024,
}

// Handler upgrades authenticated requests to websocket connections and hands
// them to the hub. Unauthenticated sockets are rejected before the upgrade so
// they never receive data.
func Handler(hub *Hub, authService auth.AuthService, corsOrigin string) http.HandlerFunc {
	up := upgrader
	up.CheckOrigin = func(r *http.Request) bool {
		if corsOrigin == "" || corsOrigin == "*" {
			return true
		}
		origin := r.Header.Get("Origin")
		return origin == "" || origin == corsOrigin
	}

	return func(w http.ResponseWriter, r *http.Request) {
		claims, _, err := authService.ValidateRequest(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			hub.logger.Warn("Websocket upgrade failed", zap.Error(err))
			return
		}

		c := newClient(hub, conn, claims.Subject)
		hub.register(c)
		hub.logger.Info("Realtime client connected", zap.String("subject", claims.Subject))

		go c.writePump()
		go c.readPump()
	}
}
