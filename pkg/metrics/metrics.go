package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the ingestion metrics on a private Prometheus registry.
type Registry struct {
	reg *prometheus.Registry

	decisions    *prometheus.CounterVec
	issues       *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	failOpen     *prometheus.CounterVec
	bytes        *prometheus.HistogramVec
}

// New registers the ingestion metrics under namespace.
func New(namespace string) *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Registry{
		reg: reg,
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "decisions_total",
			Help:      "Upload decisions by media kind and outcome.",
		}, []string{"kind", "outcome"}),
		issues: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "issues_total",
			Help:      "Errors and warnings raised while evaluating uploads.",
		}, []string{"severity", "kind", "code"}),
		stepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "step_duration_seconds",
			Help:      "Time spent in each pipeline step.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"step"}),
		failOpen: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "fail_open_total",
			Help:      "Uploads allowed because a dependency could not be read.",
		}, []string{"dependency"}),
		bytes: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "upload_bytes",
			Help:      "Size of evaluated uploads.",
			Buckets:   prometheus.ExponentialBuckets(64<<10, 4, 8),
		}, []string{"kind"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Gatherer exposes the registry for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// ObserveDecision counts one upload decision.
func (r *Registry) ObserveDecision(kind string, accepted bool, size int64) {
	if r == nil {
		return
	}
	r.DecisionCounter(kind, accepted).Inc()
	r.bytes.WithLabelValues(kind).Observe(float64(size))
}

// DecisionCounter returns the counter ObserveDecision increments.
func (r *Registry) DecisionCounter(kind string, accepted bool) prometheus.Counter {
	outcome := "rejected"
	if accepted {
		outcome = "accepted"
	}
	return r.decisions.WithLabelValues(kind, outcome)
}

// ObserveIssue counts one error or warning.
func (r *Registry) ObserveIssue(severity, kind, code string) {
	if r == nil {
		return
	}
	r.issues.WithLabelValues(severity, kind, code).Inc()
}

// ObserveStep records how long a pipeline step took.
func (r *Registry) ObserveStep(step string, d time.Duration) {
	if r == nil {
		return
	}
	r.stepDuration.WithLabelValues(step).Observe(d.Seconds())
}

// FailOpen counts an upload allowed despite dependency failure.
func (r *Registry) FailOpen(dependency string) {
	if r == nil {
		return
	}
	r.failOpen.WithLabelValues(dependency).Inc()
}
