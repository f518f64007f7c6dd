// Package metrics provides the Prometheus collectors for pipeline runs, the
// result cache and page acquisition.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the namespace for all sitefeed metrics.
	Namespace = "sitefeed"
)

// Cache lookup results.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheStale = "stale"
)

// Metrics holds all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	RunsTotal       *prometheus.CounterVec
	RunDuration     *prometheus.HistogramVec
	Items           *prometheus.GaugeVec
	CacheLookups    *prometheus.CounterVec
	AcquireAttempts *prometheus.CounterVec
	ActiveSessions  prometheus.Gauge
}

// New creates and registers all collectors against reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "pipeline",
				Name:      "runs_total",
				Help:      "Total number of pipeline runs by outcome",
			},
			[]string{"source", "outcome"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "pipeline",
				Name:      "run_duration_seconds",
				Help:      "Duration of pipeline runs in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"source"},
		),
		Items: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "pipeline",
				Name:      "items",
				Help:      "Number of items in the last result per source",
			},
			[]string{"source"},
		),
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "cache",
				Name:      "lookups_total",
				Help:      "Result cache lookups by result",
			},
			[]string{"result"},
		),
		AcquireAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "acquire",
				Name:      "attempts_total",
				Help:      "Navigation attempts by strategy and result",
			},
			[]string{"strategy", "result"},
		),
		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "acquire",
				Name:      "active_sessions",
				Help:      "Browser sessions currently held by pipeline runs",
			},
		),
	}
}

// ObserveRun records one finished run.
func (m *Metrics) ObserveRun(source, outcome string, d time.Duration, items int) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(source, outcome).Inc()
	m.RunDuration.WithLabelValues(source).Observe(d.Seconds())
	m.Items.WithLabelValues(source).Set(float64(items))
}

// ObserveCache records a cache lookup result.
func (m *Metrics) ObserveCache(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// ObserveNavigation records one navigation strategy attempt.
func (m *Metrics) ObserveNavigation(strategy string, ok bool) {
	if m == nil {
		return
	}
	result := "failed"
	if ok {
		result = "ok"
	}
	m.AcquireAttempts.WithLabelValues(strategy, result).Inc()
}

// SessionOpened increments the active session gauge.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

// SessionClosed decrements the active session gauge.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}
