// Package metrics holds the Prometheus collectors for the scan pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the scan pipeline.
type Metrics struct {
	SessionsStarted   prometheus.Counter
	SessionsCompleted prometheus.Counter
	SessionsFailed    *prometheus.CounterVec
	Transitions       *prometheus.CounterVec
	SessionDuration   prometheus.Histogram
	ClassifierCalls   *prometheus.CounterVec
	ClassifierLatency prometheus.Histogram
}

// New creates and registers all scan metrics on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith creates the scan metrics on a caller-supplied registerer so tests
// can use an isolated registry.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "gatescan_sessions_started_total",
			Help: "Total number of scan sessions started",
		}),
		SessionsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "gatescan_sessions_completed_total",
			Help: "Total number of scan sessions that reached the welcome screen",
		}),
		SessionsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gatescan_sessions_failed_total",
			Help: "Total number of scan sessions that ended in error, labeled by error code",
		}, []string{"code"}),
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gatescan_state_transitions_total",
			Help: "Total number of state transitions, labeled by target state",
		}, []string{"state"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "gatescan_session_duration_seconds",
			Help:    "Wall time from start to welcome",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		}),
		ClassifierCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gatescan_classifier_calls_total",
			Help: "Total number of face-presence classifier calls, labeled by outcome",
		}, []string{"outcome"}),
		ClassifierLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "gatescan_classifier_latency_seconds",
			Help:    "Latency of face-presence classifier calls",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// ObserveSession records a completed session's duration.
func (m *Metrics) ObserveSession(d time.Duration) {
	m.SessionDuration.Observe(d.Seconds())
}
