package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the engine's Prometheus instruments.
type Metrics struct {
	turns        *prometheus.CounterVec
	toolRuns     *prometheus.CounterVec
	turnDuration prometheus.Histogram
}

// NewMetrics registers the engine metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ishikawa",
			Name:      "chat_turns_total",
			Help:      "Chat turns processed, by outcome.",
		}, []string{"outcome"}),
		toolRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ishikawa",
			Name:      "tool_runs_total",
			Help:      "Tool executions, by tool and status.",
		}, []string{"tool", "status"}),
		turnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ishikawa",
			Name:      "chat_turn_duration_seconds",
			Help:      "Wall time of a full chat turn, model calls included.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}
}

func (m *Metrics) observeTurn(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
	m.turnDuration.Observe(seconds)
}

func (m *Metrics) observeTool(tool, status string) {
	if m == nil {
		return
	}
	m.toolRuns.WithLabelValues(tool, status).Inc()
}
