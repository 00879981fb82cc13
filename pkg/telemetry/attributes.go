// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"

	"github.com/studybuddy/sentinel/pkg/errors"
)

// Semantic conventions for sentinel telemetry.
const (
	// Layer attributes
	AttrLayer     = "sentinel.layer"
	AttrLayerName = "sentinel.layer.name"

	// Error attributes
	AttrErrorID          = "sentinel.error.id"
	AttrErrorImpact      = "sentinel.error.impact"
	AttrErrorSource      = "sentinel.error.source"
	AttrErrorRecoverable = "sentinel.error.recoverable"
	AttrCorrelationID    = "sentinel.correlation.id"

	// Retry and recovery attributes
	AttrRetryAttempt     = "sentinel.retry.attempt"
	AttrRetryMaxAttempts = "sentinel.retry.max_attempts"
	AttrRecoveryStrategy = "sentinel.recovery.strategy"
	AttrRecoverySuccess  = "sentinel.recovery.success"

	// Alert attributes
	AttrAlertSeverity = "sentinel.alert.severity"
	AttrAlertOrigin   = "sentinel.alert.origin"

	// Feedback attributes
	AttrFeedbackType     = "sentinel.feedback.type"
	AttrFeedbackPriority = "sentinel.feedback.priority"

	// Event and health attributes
	AttrEventType    = "sentinel.event.type"
	AttrHealthStatus = "sentinel.health.status"
	AttrHealthScore  = "sentinel.health.score"
)

// LayerAttributes returns the layer attributes. The system layer carries only its name.
func LayerAttributes(layer errors.Layer) []attribute.KeyValue {
	if layer == errors.LayerSystem {
		return []attribute.KeyValue{attribute.String(AttrLayerName, layer.String())}
	}
	return []attribute.KeyValue{
		attribute.Int(AttrLayer, int(layer)),
		attribute.String(AttrLayerName, layer.String()),
	}
}

// LayerErrorAttributes returns low-cardinality attributes for a classified error.
func LayerErrorAttributes(le *errors.LayerError) []attribute.KeyValue {
	if le == nil {
		return nil
	}
	attrs := LayerAttributes(le.Layer)
	return append(attrs,
		attribute.String(AttrErrorImpact, string(le.Impact)),
		attribute.String(AttrErrorSource, string(le.Source)),
		attribute.Bool(AttrErrorRecoverable, le.Recoverable),
	)
}

// RetryAttemptAttributes returns span attributes for one retry attempt.
func RetryAttemptAttributes(correlationID string, attempt, maxAttempts int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int(AttrRetryAttempt, attempt),
		attribute.Int(AttrRetryMaxAttempts, maxAttempts),
	}
	if correlationID != "" {
		attrs = append(attrs, attribute.String(AttrCorrelationID, correlationID))
	}
	return attrs
}

// HealthAttributes returns span attributes for a health check cycle.
func HealthAttributes(status string, score float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrHealthStatus, status),
		attribute.Float64(AttrHealthScore, score),
	}
}
