// SPDX-License-Identifier: Apache-2.0
// Package health scores the five pipeline layers from per-layer metrics,
// raises and tracks alerts, and keeps a rolling history for trend reports.
package health

import (
	"math"

	"github.com/studybuddy/sentinel/pkg/errors"
)

// Status is the health of a layer or the whole system.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
)

// StatusForScore maps a 0..100 score to a status: >=90 healthy, >=70 degraded.
func StatusForScore(score float64) Status {
	switch {
	case score >= 90:
		return StatusHealthy
	case score >= 70:
		return StatusDegraded
	default:
		return StatusCritical
	}
}

// MetricStatus classifies a metric value against its thresholds.
type MetricStatus string

const (
	MetricHealthy  MetricStatus = "healthy"
	MetricWarning  MetricStatus = "warning"
	MetricCritical MetricStatus = "critical"
)

// Trend is the direction a value is moving in.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDegrading Trend = "degrading"
)

// trendThreshold is the relative change that counts as movement.
const trendThreshold = 0.05

// Metric is one named measurement of a layer.
type Metric struct {
	Name              string       `json:"name" yaml:"name"`
	Value             float64      `json:"value" yaml:"value"`
	Unit              string       `json:"unit" yaml:"unit"`
	WarningThreshold  float64      `json:"warning_threshold" yaml:"warning_threshold"`
	CriticalThreshold float64      `json:"critical_threshold" yaml:"critical_threshold"`
	HigherIsBetter    bool         `json:"higher_is_better" yaml:"higher_is_better"`
	Status            MetricStatus `json:"status" yaml:"status"`
	Trend             Trend        `json:"trend" yaml:"trend"`
	Description       string       `json:"description" yaml:"description"`

	// Baseline is the expected value probes perturb or fall back to.
	Baseline float64 `json:"-" yaml:"-"`
}

// Classify returns the status of value v.
func (m Metric) Classify(v float64) MetricStatus {
	if m.HigherIsBetter {
		switch {
		case v <= m.CriticalThreshold:
			return MetricCritical
		case v <= m.WarningThreshold:
			return MetricWarning
		}
		return MetricHealthy
	}
	switch {
	case v >= m.CriticalThreshold:
		return MetricCritical
	case v >= m.WarningThreshold:
		return MetricWarning
	}
	return MetricHealthy
}

// Score returns the 0..100 contribution of the metric at its current value,
// weighted down by half when critical and by a fifth when warning.
func (m Metric) Score() float64 {
	var score float64
	if m.HigherIsBetter {
		score = clamp(m.Value)
	} else {
		score = clamp(100 * m.WarningThreshold / math.Max(m.Value, m.WarningThreshold))
	}
	switch m.Status {
	case MetricCritical:
		score *= 0.5
	case MetricWarning:
		score *= 0.8
	}
	return score
}

// trendOf compares v with the previous value in the metric's good direction.
func (m Metric) trendOf(prev, v float64) Trend {
	if prev == 0 {
		return TrendStable
	}
	change := (v - prev) / math.Abs(prev)
	if !m.HigherIsBetter {
		change = -change
	}
	switch {
	case change > trendThreshold:
		return TrendImproving
	case change < -trendThreshold:
		return TrendDegrading
	default:
		return TrendStable
	}
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

// DefaultMetrics returns the baseline metric set of every layer.
func DefaultMetrics() map[errors.Layer][]Metric {
	hb := func(name, unit, desc string, baseline, warn, crit float64) Metric {
		return Metric{Name: name, Unit: unit, Description: desc, Value: baseline, Baseline: baseline,
			WarningThreshold: warn, CriticalThreshold: crit, HigherIsBetter: true}
	}
	lb := func(name, unit, desc string, baseline, warn, crit float64) Metric {
		return Metric{Name: name, Unit: unit, Description: desc, Value: baseline, Baseline: baseline,
			WarningThreshold: warn, CriticalThreshold: crit}
	}
	return map[errors.Layer][]Metric{
		errors.LayerInputValidation: {
			hb("validation_accuracy", "%", "Share of inputs validated correctly", 98, 95, 90),
			lb("response_time", "ms", "Validation latency", 120, 500, 1000),
		},
		errors.LayerContextMemory: {
			hb("context_retrieval_success", "%", "Share of context lookups that succeed", 97, 93, 85),
			lb("memory_utilization", "%", "Conversation memory in use", 62, 80, 95),
		},
		errors.LayerResponseValidation: {
			hb("fact_check_accuracy", "%", "Share of answers passing fact checks", 95, 92, 85),
			lb("hallucination_rate", "%", "Share of answers flagged as hallucinated", 2, 5, 10),
		},
		errors.LayerFeedbackLearning: {
			hb("feedback_processing_rate", "%", "Share of feedback processed on time", 96, 90, 80),
			lb("learning_latency", "ms", "Delay before feedback affects answers", 300, 1000, 3000),
		},
		errors.LayerQualityAssurance: {
			hb("quality_score", "%", "Mean answer quality score", 94, 90, 80),
			hb("monitoring_coverage", "%", "Share of requests under monitoring", 99, 95, 90),
			lb("error_rate", "%", "Share of events that are errors", 1, 5, 10),
		},
	}
}
