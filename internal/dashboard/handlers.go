package dashboard

import (
	"encoding/json"
	"net/http"
	"strconv"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "ok",
		"historyConfigured": s.history != nil,
		"queueConfigured":   s.queue != nil,
		"limiterConfigured": s.limiter != nil,
	})
}

func (s *Server) handleActivities(w http.ResponseWriter, r *http.Request) {
	limit := intParam(r, "limit", 50)
	writeJSON(w, http.StatusOK, s.activity.recent(limit))
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		unavailable(w, "task queue")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stats": map[string]int{
			"pending": s.queue.PendingCount(),
			"running": s.queue.RunningCount(),
		},
	})
}

func (s *Server) handleResources(w http.ResponseWriter, r *http.Request) {
	if s.limiter == nil {
		unavailable(w, "resource limiter")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"projects": s.limiter.GetAllProjectStates(),
	})
}

func intParam(r *http.Request, name string, fallback int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func stringParam(r *http.Request, name, fallback string) string {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	return v
}
