// ABOUTME: Prometheus collectors for authentication, ingestion and HTTP latency
// ABOUTME: Uses a private registry exposed through Handler; nil *Metrics is a no-op

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "unconv"

const (
	LabelScheme  = "scheme"
	LabelOutcome = "outcome"
	LabelSource  = "source"
	LabelMethod  = "method"
	LabelCode    = "code"
)

// Metrics holds the service's collectors and the registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	authAttempts     *prometheus.CounterVec
	readingsIngested *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
}

// New creates and registers all collectors, including Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		authAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "auth_attempts_total",
				Help:      "Authentication attempts by scheme and outcome.",
			},
			[]string{LabelScheme, LabelOutcome},
		),
		readingsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "readings_ingested_total",
				Help:      "Environmental readings stored, by ingestion source.",
			},
			[]string{LabelSource},
		),
		// requestDuration collects how long it takes to reply to an HTTP
		// request, from the time the request was received.
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Histogram of latencies for HTTP requests.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{LabelMethod, LabelCode},
		),
	}

	m.registry.MustRegister(
		m.authAttempts,
		m.readingsIngested,
		m.requestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveAuthAttempt counts one authentication attempt.
func (m *Metrics) ObserveAuthAttempt(scheme, outcome string) {
	if m == nil {
		return
	}
	m.authAttempts.WithLabelValues(scheme, outcome).Inc()
}

// ObserveReadingsIngested counts n readings stored from source.
func (m *Metrics) ObserveReadingsIngested(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.readingsIngested.WithLabelValues(source).Add(float64(n))
}

// InstrumentHandler records request latency by method and status code.
func (m *Metrics) InstrumentHandler(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return promhttp.InstrumentHandlerDuration(m.requestDuration, next)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
