// SPDX-License-Identifier: Apache-2.0
package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/studybuddy/sentinel/pkg/errors"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetricsWithProvider(mp)
	require.NoError(t, err)
	return m, reader
}

func collectSum(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestRecordError(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordError(ctx, &errors.LayerError{Layer: errors.LayerInputValidation, Impact: errors.ImpactHigh, Source: errors.SourceNetwork})
	m.RecordError(ctx, &errors.LayerError{Layer: errors.LayerQualityAssurance, Impact: errors.ImpactMedium, Source: errors.SourceSystem})
	m.RecordError(ctx, nil)

	assert.Equal(t, int64(2), collectSum(t, reader, "sentinel.errors.total"))
}

func TestRecordCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRecovery(ctx, "retry", true)
	m.RecordRecovery(ctx, "cached-answer", false)
	m.RecordAlert(ctx, "critical", "health")
	m.RecordFeedback(ctx, "error_report", "high")
	m.RecordEvent(ctx, "error", errors.LayerContextMemory)
	m.RecordEvent(ctx, "info", errors.LayerSystem)

	assert.Equal(t, int64(2), collectSum(t, reader, "sentinel.recoveries.total"))
	assert.Equal(t, int64(1), collectSum(t, reader, "sentinel.alerts.total"))
	assert.Equal(t, int64(1), collectSum(t, reader, "sentinel.feedback.total"))
	assert.Equal(t, int64(2), collectSum(t, reader, "sentinel.events.total"))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordError(ctx, &errors.LayerError{})
		m.RecordRecovery(ctx, "retry", true)
		m.RecordRetry(ctx, 3, time.Second, true)
		m.RecordHealthScore(ctx, errors.LayerSystem, 90)
		m.RecordLayerStatus(ctx, errors.LayerInputValidation, "healthy")
		m.RecordAlert(ctx, "warning", "monitor")
		m.RecordFeedback(ctx, "suggestion", "low")
		m.RecordEvent(ctx, "error", errors.LayerInputValidation)
	})
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, StatusHealthy, StatusCode("healthy"))
	assert.Equal(t, StatusDegraded, StatusCode("degraded"))
	assert.Equal(t, StatusCritical, StatusCode("critical"))
	assert.Equal(t, StatusCritical, StatusCode("failed"))
	assert.Equal(t, int64(-1), StatusCode("unknown"))
}

func TestConcurrentMetrics(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				m.RecordError(ctx, &errors.LayerError{Layer: errors.Layer(i + 1), Impact: errors.ImpactLow})
				m.RecordHealthScore(ctx, errors.Layer(i+1), float64(j*10))
				m.RecordLayerStatus(ctx, errors.Layer(i+1), "degraded")
				m.RecordRetry(ctx, j%3+1, time.Duration(j)*time.Millisecond, j%2 == 0)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(30), collectSum(t, reader, "sentinel.errors.total"))
}
