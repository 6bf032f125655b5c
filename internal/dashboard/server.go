// Package dashboard implements the HTTP/SSE surface a running e2eforge
// process exposes to a browser dashboard UI: health, multiplexed live
// events, persisted history/trends, queue and resource state, and run
// comparison.
package dashboard

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"e2eforge/internal/eventbus"
	"e2eforge/internal/history"
	"e2eforge/internal/limiter"
	"e2eforge/internal/queue"
	"e2eforge/pkg/logging"
)

const subsystem = "Dashboard"

// multiplexedChannels are the eventbus channels fanned out over the
// /api/events SSE stream and the optional websocket feed.
var multiplexedChannels = []string{
	eventbus.ChannelBuild,
	eventbus.ChannelTest,
	eventbus.ChannelSetup,
	eventbus.ChannelClean,
	eventbus.ChannelContainer,
	eventbus.ChannelActivity,
}

// Server is the dashboard's HTTP surface. All dependencies are optional;
// a handler backed by a nil dependency answers 503 ("required store is
// not configured").
type Server struct {
	Router *chi.Mux

	bus     *eventbus.Bus
	history *history.Store
	queue   *queue.TaskQueue
	limiter *limiter.ResourceLimiter

	hub      *sseHub
	ws       *wsHub
	activity *activityLog
	metrics  *metrics
	projects *projectRegistry

	cancel context.CancelFunc
}

// Options configures a Server. Any field may be left nil to disable the
// endpoints that depend on it.
type Options struct {
	Bus     *eventbus.Bus
	History *history.Store
	Queue   *queue.TaskQueue
	Limiter *limiter.ResourceLimiter
}

// New builds a dashboard server and wires it to opts's dependencies. It
// starts background goroutines (event fan-out, metrics sampling); call
// Stop to release them.
func New(opts Options) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		bus:      opts.Bus,
		history:  opts.History,
		queue:    opts.Queue,
		limiter:  opts.Limiter,
		hub:      newSSEHub(),
		ws:       newWSHub(),
		activity: newActivityLog(200),
		metrics:  newMetrics(),
		projects: newProjectRegistry(),
		cancel:   cancel,
	}

	if s.bus != nil {
		for _, channel := range multiplexedChannels {
			channel := channel
			s.bus.Subscribe(channel, func(msg interface{}) {
				s.activity.record(channel, msg)
				payload := ssePayload{channel: channel, eventName: "update", data: msg}
				s.hub.broadcast(payload)
				s.ws.broadcast(payload)
			})
		}
	}

	go s.metrics.samplingLoop(ctx, s.queue, s.limiter, 5*time.Second)

	s.Router = s.buildRouter()
	return s
}

// Stop halts background goroutines started by New and closes every
// registered project's manifest watcher.
func (s *Server) Stop() {
	s.cancel()
	s.projects.closeAll()
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/events", s.handleEvents)
	r.Get("/api/ws", s.handleWebsocket)
	r.Get("/api/activities", s.handleActivities)

	r.Get("/api/history/tests", s.handleHistoryTests)
	r.Get("/api/history/builds", s.handleHistoryBuilds)
	r.Get("/api/stats", s.handleStats)
	r.Get("/api/queue", s.handleQueue)
	r.Get("/api/resources", s.handleResources)

	r.Get("/api/trends/pass-rate", s.handleTrendPassRate)
	r.Get("/api/trends/duration", s.handleTrendDuration)
	r.Get("/api/trends/flaky", s.handleTrendFlaky)

	r.Get("/api/runs", s.handleRunsList)
	r.Get("/api/runs/{id}", s.handleRunByID)
	r.Get("/api/runs/{base}/compare/{compare}", s.handleRunsCompare)

	r.Get("/api/projects", s.handleProjectsList)
	r.Post("/api/projects", s.handleProjectsAdd)
	r.Delete("/api/projects/*", s.handleProjectsRemove)

	r.Get("/api/config", s.handleConfigGet)
	r.Put("/api/config", s.handleConfigPut)

	r.Get("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}).ServeHTTP)

	return r
}

func unavailable(w http.ResponseWriter, what string) {
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": what + " is not configured"})
	logging.Debug(subsystem, "%s requested but not configured", what)
}
