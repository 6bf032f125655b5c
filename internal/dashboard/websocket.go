package dashboard

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"e2eforge/pkg/logging"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsHub mirrors sseHub's broadcast to websocket clients, a supplementary
// feed for consumers that can't hold an SSE connection open.
type wsHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func newWSHub() *wsHub {
	return &wsHub{clients: map[*websocket.Conn]struct{}{}}
}

func (h *wsHub) add(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()
}

func (h *wsHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}

func (h *wsHub) broadcast(p ssePayload) {
	h.mu.Lock()
	defer h.mu.Unlock()

	msg := map[string]interface{}{
		"channel": p.channel,
		"event":   p.eventName,
		"data":    p.data,
	}
	for conn := range h.clients {
		if err := conn.WriteJSON(msg); err != nil {
			logging.Debug(subsystem, "dropping websocket client after write error: %v", err)
			go h.remove(conn)
		}
	}
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn(subsystem, "websocket upgrade failed: %v", err)
		return
	}
	s.ws.add(conn)

	go func() {
		defer s.ws.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
