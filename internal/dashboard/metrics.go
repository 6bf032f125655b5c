package dashboard

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"e2eforge/internal/limiter"
	"e2eforge/internal/queue"
)

// metrics exposes queue and resource-limiter state as prometheus
// gauges, sampled on a fixed interval. The underlying packages stay
// dependency-free; this is the one place that turns their snapshots
// into a scrape-able surface, per the "exposes aggregates backed by
// counters/gauges" wiring.
type metrics struct {
	registry        *prometheus.Registry
	queuePending    prometheus.Gauge
	queueRunning    prometheus.Gauge
	limiterInUse    *prometheus.GaugeVec
	limiterCeiling  *prometheus.GaugeVec
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()

	m := &metrics{
		registry: reg,
		queuePending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "e2eforge_queue_pending",
			Help: "Number of tasks waiting to run in the task queue.",
		}),
		queueRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "e2eforge_queue_running",
			Help: "Number of tasks currently running in the task queue.",
		}),
		limiterInUse: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "e2eforge_limiter_containers_in_use",
			Help: "Containers currently tracked per project.",
		}, []string{"project"}),
		limiterCeiling: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "e2eforge_limiter_max_containers",
			Help: "Configured per-project container ceiling.",
		}, []string{"project"}),
	}

	reg.MustRegister(m.queuePending, m.queueRunning, m.limiterInUse, m.limiterCeiling)
	return m
}

func (m *metrics) samplingLoop(ctx context.Context, q *queue.TaskQueue, l *limiter.ResourceLimiter, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample(q, l)
		}
	}
}

func (m *metrics) sample(q *queue.TaskQueue, l *limiter.ResourceLimiter) {
	if q != nil {
		m.queuePending.Set(float64(q.PendingCount()))
		m.queueRunning.Set(float64(q.RunningCount()))
	}
	if l != nil {
		for _, state := range l.GetAllProjectStates() {
			m.limiterInUse.WithLabelValues(state.Project).Set(float64(len(state.Containers)))
			m.limiterCeiling.WithLabelValues(state.Project).Set(float64(state.Limits.MaxContainers))
		}
	}
}
