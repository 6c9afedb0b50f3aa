package mirror

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exported by the coordinator.
type Metrics struct {
	followerOrders  *prometheus.CounterVec
	followerLatency *prometheus.HistogramVec
	runs            *prometheus.CounterVec
	sessions        prometheus.Gauge
}

// NewMetrics registers the mirror metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		followerOrders: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "spotmirror",
				Subsystem: "mirror",
				Name:      "follower_results_total",
				Help:      "Mirror attempts per follower by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		followerLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "spotmirror",
				Subsystem: "mirror",
				Name:      "follower_latency_ms",
				Help:      "Time to mirror onto one follower in milliseconds",
				Buckets:   []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000},
			},
			[]string{"action"},
		),
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "spotmirror",
				Subsystem: "mirror",
				Name:      "runs_total",
				Help:      "Master events fanned out, by action and status",
			},
			[]string{"action", "status"},
		),
		sessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "spotmirror",
				Subsystem: "mirror",
				Name:      "sessions",
				Help:      "Cached follower exchange sessions",
			},
		),
	}
}

func (m *Metrics) observe(result ExecutionResult, sessions int) {
	if m == nil {
		return
	}

	for _, r := range result.Results {
		outcome := "failed"
		switch {
		case r.Skipped:
			outcome = "skipped"
		case r.Success:
			outcome = "success"
		}
		m.followerOrders.WithLabelValues(result.Action, outcome).Inc()

		if !r.Skipped {
			m.followerLatency.WithLabelValues(result.Action).Observe(float64(r.LatencyMs))
		}
	}

	m.runs.WithLabelValues(result.Action, result.Status()).Inc()
	m.sessions.Set(float64(sessions))
}
