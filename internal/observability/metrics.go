// Package observability wires prometheus metrics and OpenTelemetry tracing.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fhirdoc/internal/hook"
)

const namespace = "fhirdoc"

// Metrics implements core.MetricsRecorder on prometheus collectors and also
// instruments the HTTP surface.
type Metrics struct {
	gatherer prometheus.Gatherer

	documents        *prometheus.CounterVec
	assemblyDuration *prometheus.HistogramVec
	documentRecords  prometheus.Histogram
	candidates       *prometheus.CounterVec
	dangling         *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// NewMetrics registers the collectors on reg. Pass a fresh
// prometheus.NewRegistry() in tests to avoid duplicate registration.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		documents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_assembled_total",
			Help:      "Document assemblies by outcome.",
		}, []string{"outcome"}),
		assemblyDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "assembly_duration_seconds",
			Help:      "Time spent assembling a document.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"outcome"}),
		documentRecords: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "document_records",
			Help:      "Records included in successfully assembled documents.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		candidates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_total",
			Help:      "Candidates offered to observers by resource type and decision.",
		}, []string{"resource_type", "decision"}),
		dangling: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dangling_references_total",
			Help:      "References whose target did not resolve.",
		}, []string{"resource_type"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// ObserveAssembly implements core.MetricsRecorder.
func (m *Metrics) ObserveAssembly(outcome string, d time.Duration, records int) {
	m.documents.WithLabelValues(outcome).Inc()
	m.assemblyDuration.WithLabelValues(outcome).Observe(d.Seconds())
	if outcome == "success" {
		m.documentRecords.Observe(float64(records))
	}
}

// ObserveCandidate implements core.MetricsRecorder.
func (m *Metrics) ObserveCandidate(resourceType string, decision hook.Decision) {
	m.candidates.WithLabelValues(resourceType, decision.String()).Inc()
}

// ObserveDangling implements core.MetricsRecorder.
func (m *Metrics) ObserveDangling(resourceType string) {
	m.dangling.WithLabelValues(resourceType).Inc()
}

// ObserveHTTP records one served request. route is the matched route
// template, not the raw path.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler exposes the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
