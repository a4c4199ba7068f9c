package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	passes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "panelsweep",
			Subsystem: "pass",
			Name:      "total",
			Help:      "Number of reconciliation passes by result (ok, failed, skipped).",
		}, []string{"result"},
	)
	passDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "panelsweep",
			Subsystem: "pass",
			Name:      "duration_seconds",
			Help:      "Wall time of a reconciliation pass.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
	)
	lastSuccess = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "panelsweep",
			Subsystem: "pass",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last pass that saved its state.",
		},
	)
	serversScanned = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "panelsweep",
			Subsystem: "servers",
			Name:      "scanned",
			Help:      "Servers seen in the last pass, split into protected and evaluated.",
		}, []string{"kind"},
	)
	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "panelsweep",
			Subsystem: "servers",
			Name:      "transitions_total",
			Help:      "Lifecycle transitions applied, by outcome.",
		}, []string{"outcome"},
	)
	actionFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "panelsweep",
			Subsystem: "servers",
			Name:      "action_failures_total",
			Help:      "Per-server failures by action (activity, suspend, delete).",
		}, []string{"action"},
	)
	tracked = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "panelsweep",
			Subsystem: "state",
			Name:      "tracked_records",
			Help:      "Persisted records by phase after the last pass.",
		}, []string{"phase"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{passes, passDuration, lastSuccess, serversScanned, transitions, actionFailures, tracked}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has succeeded.

func ObservePass(result string, d time.Duration) {
	if regOK.Load() {
		passes.WithLabelValues(result).Inc()
		if result != "skipped" {
			passDuration.Observe(d.Seconds())
		}
	}
}

func SetLastSuccess(t time.Time) {
	if regOK.Load() {
		lastSuccess.Set(float64(t.Unix()))
	}
}

func SetScanned(protected, evaluated int) {
	if regOK.Load() {
		serversScanned.WithLabelValues("protected").Set(float64(protected))
		serversScanned.WithLabelValues("evaluated").Set(float64(evaluated))
	}
}

func AddTransitions(outcome string, n int) {
	if regOK.Load() && n > 0 {
		transitions.WithLabelValues(outcome).Add(float64(n))
	}
}

func IncActionFailure(action string) {
	if regOK.Load() {
		actionFailures.WithLabelValues(action).Inc()
	}
}

func SetTracked(phase string, n int) {
	if regOK.Load() {
		tracked.WithLabelValues(phase).Set(float64(n))
	}
}
