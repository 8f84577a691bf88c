// Package metrics exposes the service's Prometheus instrumentation. All
// metrics live in a private registry so tests can run registries side by
// side without collisions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Terminal processing outcomes, used as the outcome label on
// messages_processed_total.
const (
	OutcomeSubmitted     = "submitted"
	OutcomeSkipped       = "skipped"
	OutcomeDecodeFailed  = "decode_failed"
	OutcomeMappingFailed = "mapping_failed"
	OutcomeRejected      = "rejected"
	OutcomeTransient     = "transient"
)

// Metrics holds the Prometheus collectors for the message pipeline.
type Metrics struct {
	registry *prometheus.Registry

	messagesReceived   *prometheus.CounterVec   // By tenant
	messagesProcessed  *prometheus.CounterVec   // By tenant and outcome
	submissionDuration *prometheus.HistogramVec // By tenant and entity kind
	tenantsRunning     prometheus.Gauge
}

// New creates the collectors and registers them, together with the Go runtime
// collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulsarmapper",
			Subsystem: "pipeline",
			Name:      "messages_received_total",
			Help:      "Total number of messages received from the broker",
		}, []string{"tenant"}),

		messagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulsarmapper",
			Subsystem: "pipeline",
			Name:      "messages_processed_total",
			Help:      "Total number of messages that reached a terminal outcome",
		}, []string{"tenant", "outcome"}),

		submissionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pulsarmapper",
			Subsystem: "pipeline",
			Name:      "submission_duration_seconds",
			Help:      "Time spent submitting an entity to the platform",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"tenant", "kind"}),

		tenantsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pulsarmapper",
			Name:      "tenants_running",
			Help:      "Number of tenant pipelines currently running",
		}),
	}

	m.registry.MustRegister(
		m.messagesReceived,
		m.messagesProcessed,
		m.submissionDuration,
		m.tenantsRunning,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler returns the HTTP handler serving the registry in the Prometheus
// exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// RecordReceived counts a message handed to a pipeline worker.
func (m *Metrics) RecordReceived(tenant string) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(tenant).Inc()
}

// RecordOutcome counts a terminal processing outcome.
func (m *Metrics) RecordOutcome(tenant, outcome string) {
	if m == nil {
		return
	}
	m.messagesProcessed.WithLabelValues(tenant, outcome).Inc()
}

// RecordSubmission observes the duration of a successful platform submission.
func (m *Metrics) RecordSubmission(tenant, kind string, duration time.Duration) {
	if m == nil {
		return
	}
	m.submissionDuration.WithLabelValues(tenant, kind).Observe(duration.Seconds())
}

// SetTenantsRunning reports how many tenant pipelines are live.
func (m *Metrics) SetTenantsRunning(n int) {
	if m == nil {
		return
	}
	m.tenantsRunning.Set(float64(n))
}
