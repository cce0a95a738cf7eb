// Package metrics exposes the approval service's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	actionsTotal       *prometheus.CounterVec
	actionDuration     *prometheus.HistogramVec
	bulkItemsTotal     *prometheus.CounterVec
	cacheLookups       *prometheus.CounterVec
	cacheInvalidations prometheus.Counter
	sideEffectFailures *prometheus.CounterVec
}

// New creates and registers the collectors on a private registry that also
// carries the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		actionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "survey_approval_actions_total",
				Help: "Total number of approval operations by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		actionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "survey_approval_action_duration_seconds",
				Help:    "Duration of approval operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action"},
		),
		bulkItemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "survey_approval_bulk_items_total",
				Help: "Items processed by bulk operations",
			},
			[]string{"action", "outcome"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "survey_approval_cache_lookups_total",
				Help: "Derived view cache lookups",
			},
			[]string{"view", "result"},
		),
		cacheInvalidations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "survey_approval_cache_invalidations_total",
				Help: "Survey cache invalidations after a transition",
			},
		),
		sideEffectFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "survey_approval_side_effect_failures_total",
				Help: "Best-effort side effects that failed after commit",
			},
			[]string{"kind"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.actionsTotal,
		m.actionDuration,
		m.bulkItemsTotal,
		m.cacheLookups,
		m.cacheInvalidations,
		m.sideEffectFailures,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveAction records one approval operation.
func (m *Metrics) ObserveAction(action string, err error, took time.Duration) {
	if m == nil {
		return
	}
	m.actionsTotal.WithLabelValues(action, outcome(err)).Inc()
	m.actionDuration.WithLabelValues(action).Observe(took.Seconds())
}

// ObserveBulkItem records one item of a bulk operation.
func (m *Metrics) ObserveBulkItem(action string, err error) {
	if m == nil {
		return
	}
	m.bulkItemsTotal.WithLabelValues(action, outcome(err)).Inc()
}

// CacheLookup records a hit or miss of a cached view.
func (m *Metrics) CacheLookup(view string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(view, result).Inc()
}

func (m *Metrics) CacheInvalidated() {
	if m == nil {
		return
	}
	m.cacheInvalidations.Inc()
}

// SideEffectFailed counts a failed cache or notification side effect.
func (m *Metrics) SideEffectFailed(kind string) {
	if m == nil {
		return
	}
	m.sideEffectFailures.WithLabelValues(kind).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
