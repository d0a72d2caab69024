// Package metrics exposes the sync daemon's Prometheus collectors: cycle
// counts, per-step failure counts, and cycle duration, grounded on the
// Registry/collector-struct pattern used throughout the reference service's
// internal/app/metrics package.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps a dedicated Prometheus registry and the daemon's
// collectors. It is not a package-level global so tests (and multiple
// daemon instances in one process) can each hold an independent one.
type Registry struct {
	reg *prometheus.Registry

	cyclesTotal   prometheus.Counter
	stepRuns      *prometheus.CounterVec
	stepFailures  *prometheus.CounterVec
	cycleDuration prometheus.Histogram
}

// New builds a Registry with every daemon collector registered.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		cyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "omnimem",
			Subsystem: "daemon",
			Name:      "cycles_total",
			Help:      "Total number of sync daemon cycles run.",
		}),
		stepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "omnimem",
			Subsystem: "daemon",
			Name:      "step_runs_total",
			Help:      "Total number of daemon step attempts, by step name.",
		}, []string{"step"}),
		stepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "omnimem",
			Subsystem: "daemon",
			Name:      "step_failures_total",
			Help:      "Total number of failed daemon step attempts, by step name.",
		}, []string{"step"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "omnimem",
			Subsystem: "daemon",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one sync daemon cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
	r.reg.MustRegister(r.cyclesTotal, r.stepRuns, r.stepFailures, r.cycleDuration)
	return r
}

// Handler exposes the registry's collectors over HTTP in the standard
// Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// RecordStep records one attempt of step, marking it as a failure when ok
// is false.
func (r *Registry) RecordStep(step string, ok bool) {
	r.stepRuns.WithLabelValues(step).Inc()
	if !ok {
		r.stepFailures.WithLabelValues(step).Inc()
	}
}

// RecordCycle records one completed daemon cycle and its wall-clock
// duration.
func (r *Registry) RecordCycle(d time.Duration) {
	r.cyclesTotal.Inc()
	r.cycleDuration.Observe(d.Seconds())
}
