// Package metrics exposes routing and marker-store instrumentation through
// prometheus. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rywrouter"

// Metrics holds the collectors registered on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	decisions     *prometheus.CounterVec
	trackerErrors *prometheus.CounterVec
	lookup        prometheus.Histogram
}

// New creates and registers all collectors, plus the Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_decisions_total",
			Help:      "Routing decisions by target role and reason.",
		}, []string{"role", "reason"}),
		trackerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracker_errors_total",
			Help:      "Marker store failures absorbed by the tracker.",
		}, []string{"op"}),
		lookup: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tracker_lookup_seconds",
			Help:      "Latency of last-write marker lookups.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5},
		}),
	}
	reg.MustRegister(
		m.decisions,
		m.trackerErrors,
		m.lookup,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveDecision counts one routing decision.
func (m *Metrics) ObserveDecision(role, reason string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(role, reason).Inc()
}

// TrackerError counts a marker store failure for op ("get" or "record").
func (m *Metrics) TrackerError(op string) {
	if m == nil {
		return
	}
	m.trackerErrors.WithLabelValues(op).Inc()
}

// ObserveLookup records how long a marker lookup took.
func (m *Metrics) ObserveLookup(d time.Duration) {
	if m == nil {
		return
	}
	m.lookup.Observe(d.Seconds())
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
