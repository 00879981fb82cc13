package telemetry

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInit(t *testing.T) {
	shutdown, err := Init("test-service", "v0.0.1")
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitNone(t *testing.T) {
	shutdown, err := InitWithConfig("test-service", "v0.0.1", Config{Exporter: "none"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitUnknownExporter(t *testing.T) {
	_, err := InitWithConfig("test-service", "v0.0.1", Config{Exporter: "carrier-pigeon"})
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestInitOTLPRequiresEndpoint(t *testing.T) {
	_, err := InitWithConfig("test-service", "v0.0.1", Config{Exporter: "otlp"})
	assert.Error(t, err)
}

func TestInitPrometheusServesMetrics(t *testing.T) {
	shutdown, err := InitWithConfig("test-service", "v0.0.1", Config{Exporter: "prometheus"})
	require.NoError(t, err)
	defer shutdown(context.Background())

	m, err := NewMetricsWithProvider(otel.GetMeterProvider())
	require.NoError(t, err)
	m.RecordAlert(context.Background(), "critical", "health")

	handler := MetricsHandler()
	require.NotNil(t, handler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "sentinel_alerts")
}
