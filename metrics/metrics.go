// Package metrics exposes Prometheus collectors for a memory session.
//
// All methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "memcore"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	turns           *prometheus.CounterVec
	turnDuration    prometheus.Histogram
	stored          *prometheus.CounterVec
	deleted         prometheus.Counter
	records         *prometheus.GaugeVec
	persistFailures prometheus.Counter
}

// New registers the collectors plus Go runtime metrics.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Turns processed, by memory action.",
		}, []string{"action"}),
		turnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Time spent processing one turn.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		stored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memories_stored_total",
			Help:      "Memories stored, by kind.",
		}, []string{"kind"}),
		deleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memories_deleted_total",
			Help:      "Memories soft-deleted.",
		}),
		records: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_records",
			Help:      "Records held by the store, by state.",
		}, []string{"state"}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Failed attempts to save the store.",
		}),
	}
	m.registry.MustRegister(
		m.turns, m.turnDuration, m.stored, m.deleted, m.records, m.persistFailures,
		collectors.NewGoCollector(),
	)
	return m
}

// ObserveTurn records a finished turn.
func (m *Metrics) ObserveTurn(action string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(action).Inc()
	m.turnDuration.Observe(elapsed.Seconds())
}

// Stored counts a memory insert.
func (m *Metrics) Stored(kind string) {
	if m == nil {
		return
	}
	m.stored.WithLabelValues(kind).Inc()
}

// Deleted counts soft deletes.
func (m *Metrics) Deleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.deleted.Add(float64(n))
}

// SetRecords publishes the store size.
func (m *Metrics) SetRecords(active, deleted int) {
	if m == nil {
		return
	}
	m.records.WithLabelValues("active").Set(float64(active))
	m.records.WithLabelValues("deleted").Set(float64(deleted))
}

// PersistFailed counts a failed save.
func (m *Metrics) PersistFailed() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
