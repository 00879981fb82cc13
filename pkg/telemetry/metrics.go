// SPDX-License-Identifier: Apache-2.0
// Package telemetry provides observability for the sentinel error-handling pipeline.
// See docs/ERROR_HANDLING.md for metric integration patterns.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/studybuddy/sentinel/pkg/errors"
)

// Status codes recorded by the status gauges.
const (
	StatusCritical int64 = 0
	StatusDegraded int64 = 1
	StatusHealthy  int64 = 2
)

// StatusCode maps a status name to the gauge value. Unknown names map to -1.
func StatusCode(status string) int64 {
	switch status {
	case "healthy":
		return StatusHealthy
	case "degraded":
		return StatusDegraded
	case "critical", "failed":
		return StatusCritical
	default:
		return -1
	}
}

// Metrics tracks classified errors, recoveries, health and feedback.
// All methods are safe on a nil receiver.
type Metrics struct {
	errorCounter    metric.Int64Counter
	recoveryCounter metric.Int64Counter
	retryAttempts   metric.Int64Histogram
	retryDuration   metric.Float64Histogram
	healthScore     metric.Float64Gauge
	layerStatus     metric.Int64Gauge
	alertCounter    metric.Int64Counter
	feedbackCounter metric.Int64Counter
	eventCounter    metric.Int64Counter
}

// NewMetrics creates the sentinel meters on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithProvider(otel.GetMeterProvider())
}

// NewMetricsWithProvider creates the sentinel meters on the given provider.
func NewMetricsWithProvider(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter("sentinel/errors")
	m := &Metrics{}
	var err error

	if m.errorCounter, err = meter.Int64Counter(
		"sentinel.errors.total",
		metric.WithDescription("Classified errors by layer, impact and source"),
	); err != nil {
		return nil, err
	}
	if m.recoveryCounter, err = meter.Int64Counter(
		"sentinel.recoveries.total",
		metric.WithDescription("Recovery attempts by strategy and outcome"),
	); err != nil {
		return nil, err
	}
	if m.retryAttempts, err = meter.Int64Histogram(
		"sentinel.retry.attempts",
		metric.WithDescription("Attempts used per retried operation"),
	); err != nil {
		return nil, err
	}
	if m.retryDuration, err = meter.Float64Histogram(
		"sentinel.retry.duration",
		metric.WithDescription("Total time spent per retried operation"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.healthScore, err = meter.Float64Gauge(
		"sentinel.health.score",
		metric.WithDescription("Health score from 0 to 100, overall and per layer"),
	); err != nil {
		return nil, err
	}
	if m.layerStatus, err = meter.Int64Gauge(
		"sentinel.layer.status",
		metric.WithDescription("Layer status (0=critical, 1=degraded, 2=healthy)"),
	); err != nil {
		return nil, err
	}
	if m.alertCounter, err = meter.Int64Counter(
		"sentinel.alerts.total",
		metric.WithDescription("Alerts raised by severity and origin"),
	); err != nil {
		return nil, err
	}
	if m.feedbackCounter, err = meter.Int64Counter(
		"sentinel.feedback.total",
		metric.WithDescription("Feedback submissions by type and priority"),
	); err != nil {
		return nil, err
	}
	if m.eventCounter, err = meter.Int64Counter(
		"sentinel.events.total",
		metric.WithDescription("Monitoring events by type"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordError increments the error counter for a classified error.
func (m *Metrics) RecordError(ctx context.Context, le *errors.LayerError) {
	if m == nil || le == nil {
		return
	}
	m.errorCounter.Add(ctx, 1, metric.WithAttributes(LayerErrorAttributes(le)...))
}

// RecordRecovery counts a recovery attempt.
func (m *Metrics) RecordRecovery(ctx context.Context, strategy string, success bool) {
	if m == nil {
		return
	}
	m.recoveryCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrRecoveryStrategy, strategy),
		attribute.Bool(AttrRecoverySuccess, success),
	))
}

// RecordRetry records the attempts and total time of one engine run.
func (m *Metrics) RecordRetry(ctx context.Context, attempts int, elapsed time.Duration, success bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool(AttrRecoverySuccess, success))
	m.retryAttempts.Record(ctx, int64(attempts), attrs)
	m.retryDuration.Record(ctx, float64(elapsed)/float64(time.Millisecond), attrs)
}

// RecordHealthScore records the overall score, or a layer score when layer > 0.
func (m *Metrics) RecordHealthScore(ctx context.Context, layer errors.Layer, score float64) {
	if m == nil {
		return
	}
	m.healthScore.Record(ctx, score, metric.WithAttributes(LayerAttributes(layer)...))
}

// RecordLayerStatus records a layer status by name.
func (m *Metrics) RecordLayerStatus(ctx context.Context, layer errors.Layer, status string) {
	if m == nil {
		return
	}
	m.layerStatus.Record(ctx, StatusCode(status), metric.WithAttributes(LayerAttributes(layer)...))
}

// RecordAlert counts a raised alert.
func (m *Metrics) RecordAlert(ctx context.Context, severity, origin string) {
	if m == nil {
		return
	}
	m.alertCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrAlertSeverity, severity),
		attribute.String(AttrAlertOrigin, origin),
	))
}

// RecordFeedback counts a feedback submission.
func (m *Metrics) RecordFeedback(ctx context.Context, feedbackType, priority string) {
	if m == nil {
		return
	}
	m.feedbackCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrFeedbackType, feedbackType),
		attribute.String(AttrFeedbackPriority, priority),
	))
}

// RecordEvent counts a monitoring event.
func (m *Metrics) RecordEvent(ctx context.Context, eventType string, layer errors.Layer) {
	if m == nil {
		return
	}
	attrs := append(LayerAttributes(layer), attribute.String(AttrEventType, eventType))
	m.eventCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
}
