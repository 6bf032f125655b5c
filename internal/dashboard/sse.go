package dashboard

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"e2eforge/pkg/logging"
)

// ssePayload is one multiplexed server-sent event: "event: <channel>:
// <eventName>\ndata: <json>\n\n".
type ssePayload struct {
	channel   string
	eventName string
	data      interface{}
}

// sseHub fans out broadcast payloads to every connected SSE client.
type sseHub struct {
	mu      sync.Mutex
	clients map[chan ssePayload]struct{}
}

func newSSEHub() *sseHub {
	return &sseHub{clients: map[chan ssePayload]struct{}{}}
}

func (h *sseHub) subscribe() chan ssePayload {
	ch := make(chan ssePayload, 32)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *sseHub) unsubscribe(ch chan ssePayload) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *sseHub) broadcast(p ssePayload) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- p:
		default:
			logging.Warn(subsystem, "dropping SSE payload for slow client on channel %s", p.channel)
		}
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.hub.subscribe()
	defer s.hub.unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(payload.data)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s:%s\ndata: %s\n\n", payload.channel, payload.eventName, data)
			flusher.Flush()
		}
	}
}
