// Package metrics holds the prometheus collectors shared by the sync pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lampkit"

// Metrics groups the collectors on a private registry so that independent
// service instances (and tests) never collide on registration.
type Metrics struct {
	Registry *prometheus.Registry

	EventsApplied   prometheus.Counter
	EventsDuplicate prometheus.Counter
	RangesFailed    prometheus.Counter
	RangesDropped   prometheus.Counter
	RetryQueueDepth prometheus.Gauge
	RemoteRetries   *prometheus.CounterVec
	Refreshes       *prometheus.CounterVec
	RefreshDuration prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		EventsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_applied_total",
			Help: "Score events applied to the local score ledger.",
		}),
		EventsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_duplicate_total",
			Help: "Score events ignored because their (player, block, log index) was already applied.",
		}),
		RangesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ranges_failed_total",
			Help: "Block sub-ranges whose query exhausted its retry budget.",
		}),
		RangesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "retry_queue_dropped_total",
			Help: "Block ranges dropped because the retry queue was full.",
		}),
		RetryQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "retry_queue_depth",
			Help: "Block ranges waiting in the retry queue.",
		}),
		RemoteRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "remote_retries_total",
			Help: "Failed remote ledger calls that were retried.",
		}, []string{"call"}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "leaderboard_refresh_total",
			Help: "Leaderboard refresh attempts by result.",
		}, []string{"result"}),
		RefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "leaderboard_refresh_seconds",
			Help:    "Wall time of leaderboard refreshes.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
	}
	m.Registry.MustRegister(
		m.EventsApplied, m.EventsDuplicate, m.RangesFailed, m.RangesDropped,
		m.RetryQueueDepth, m.RemoteRetries, m.Refreshes, m.RefreshDuration,
	)
	return m
}

// Handler exposes the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
