package observability

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"fhirdoc/internal/hook"
)

func TestMetricsRecordAssemblies(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.ObserveAssembly("success", 20*time.Millisecond, 10)
	m.ObserveAssembly("root_not_found", time.Millisecond, 0)
	m.ObserveCandidate("Patient", hook.Accept)
	m.ObserveCandidate("Patient", hook.Suppress)
	m.ObserveCandidate("Patient", hook.Suppress)
	m.ObserveDangling("Observation")
	m.ObserveHTTP(http.MethodGet, "/fhir/:type/:id/:operation", 200, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.documents.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.documents.WithLabelValues("root_not_found")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.candidates.WithLabelValues("Patient", hook.Suppress.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dangling.WithLabelValues("Observation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/fhir/:type/:id/:operation", "200")))
}

func TestMetricsHandlerExposesCollectors(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.ObserveDangling("Patient")
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fhirdoc_dangling_references_total")
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), nil, TracingConfig{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitTracingStdout(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := InitTracing(context.Background(), nil, TracingConfig{Enabled: true, Exporter: ExporterStdout, Writer: &buf})
	require.NoError(t, err)
	_, span := otel.Tracer("test").Start(context.Background(), "probe")
	span.End()
	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "probe")
}

func TestInitTracingUnknownExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), nil, TracingConfig{Enabled: true, Exporter: "zipkin"})
	assert.Error(t, err)
}
