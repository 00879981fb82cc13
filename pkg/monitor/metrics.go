// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/studybuddy/sentinel/pkg/errors"
)

// Status is the health classification of a layer or the whole system.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
)

func (s Status) rank() int {
	switch s {
	case StatusCritical:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

// Trend is the direction error volume is moving in.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDegrading Trend = "degrading"
)

// Pattern is a recurring error message.
type Pattern struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// Metrics aggregates the event log over a time range.
type Metrics struct {
	TotalEvents         int                   `json:"total_events"`
	TotalErrors         int                   `json:"total_errors"`
	CriticalErrors      int                   `json:"critical_errors"`
	ByType              map[EventType]int     `json:"by_type"`
	ByLayer             map[errors.Layer]int  `json:"by_layer"`
	BySeverity          map[errors.Impact]int `json:"by_severity"`
	MeanResolutionTime  time.Duration         `json:"mean_resolution_time"`
	RecoverySuccessRate float64               `json:"recovery_success_rate"`
	CascadingErrorRate  float64               `json:"cascading_error_rate"`
	TopPatterns         []Pattern             `json:"top_patterns"`
	HealthScore         float64               `json:"health_score"`
	Trend               Trend                 `json:"trend"`
}

// LayerHealth is the last-hour error picture of one layer.
type LayerHealth struct {
	Layer     errors.Layer `json:"layer"`
	Name      string       `json:"name"`
	Status    Status       `json:"status"`
	Events    int          `json:"events"`
	Errors    int          `json:"errors"`
	ErrorRate float64      `json:"error_rate"`
}

// SystemHealth is the overall status derived from the last hour of events.
type SystemHealth struct {
	Overall         Status        `json:"overall"`
	Layers          []LayerHealth `json:"layers"`
	Alerts          []Alert       `json:"alerts"`
	Recommendations []string      `json:"recommendations"`
}

// topPatternLimit bounds Metrics.TopPatterns.
const topPatternLimit = 10

// Metrics aggregates the events within r. A zero range covers the whole log.
func (m *Monitor) Metrics(ctx context.Context, r TimeRange) (Metrics, error) {
	now := m.clock.Now()
	all, err := m.store.Since(ctx, r.From)
	if err != nil {
		return Metrics{}, err
	}
	events := all[:0:0]
	for _, ev := range all {
		if r.Contains(ev.Timestamp) {
			events = append(events, ev)
		}
	}
	return aggregate(events, now), nil
}

func aggregate(events []Event, now time.Time) Metrics {
	out := Metrics{
		ByType:     make(map[EventType]int),
		ByLayer:    make(map[errors.Layer]int),
		BySeverity: make(map[errors.Impact]int),
	}
	var (
		resolvedCount      int
		resolutionSum      time.Duration
		recoveries, recOK  int
		recent, recentErrs int
	)
	patterns := make(map[string]int)
	errorLayers := make(map[string]map[errors.Layer]struct{})
	errorsByCorr := make(map[string]int)
	hourAgo := now.Add(-time.Hour)

	for _, ev := range events {
		out.TotalEvents++
		out.ByType[ev.Type]++
		out.ByLayer[ev.Layer]++
		if ev.Severity != "" {
			out.BySeverity[ev.Severity]++
		}
		if !ev.Timestamp.Before(hourAgo) {
			recent++
		}
		if ev.Resolved && !ev.ResolutionTime.IsZero() && ev.Type != EventRecovery {
			resolvedCount++
			resolutionSum += ev.ResolutionTime.Sub(ev.Timestamp)
		}
		switch ev.Type {
		case EventError:
			out.TotalErrors++
			if ev.Severity == errors.ImpactCritical {
				out.CriticalErrors++
			}
			if !ev.Timestamp.Before(hourAgo) {
				recentErrs++
			}
			patterns[ev.Message]++
			if ev.CorrelationID != "" {
				if errorLayers[ev.CorrelationID] == nil {
					errorLayers[ev.CorrelationID] = make(map[errors.Layer]struct{})
				}
				errorLayers[ev.CorrelationID][ev.Layer] = struct{}{}
				errorsByCorr[ev.CorrelationID]++
			}
		case EventRecovery:
			recoveries++
			if ev.Resolved {
				recOK++
			}
		}
	}

	if resolvedCount > 0 {
		out.MeanResolutionTime = resolutionSum / time.Duration(resolvedCount)
	}
	if recoveries > 0 {
		out.RecoverySuccessRate = float64(recOK) / float64(recoveries)
	}
	if out.TotalErrors > 0 {
		cascading := 0
		for id, layers := range errorLayers {
			if len(layers) >= 2 {
				cascading += errorsByCorr[id]
			}
		}
		out.CascadingErrorRate = float64(cascading) / float64(out.TotalErrors)
	}

	out.TopPatterns = topPatterns(patterns, topPatternLimit)
	out.HealthScore = HealthScore(out.CriticalErrors, out.TotalErrors, recent)
	out.Trend = TrendFor(recentErrs)
	return out
}

// HealthScore is 100 - 20*critical - 5*errors - 0.1*recentEvents, floored at 0.
func HealthScore(critical, errs, recentEvents int) float64 {
	score := 100 - 20*float64(critical) - 5*float64(errs) - 0.1*float64(recentEvents)
	return math.Max(0, score)
}

// TrendFor classifies the number of errors seen in the last hour.
func TrendFor(errorsLastHour int) Trend {
	switch {
	case errorsLastHour > 10:
		return TrendDegrading
	case errorsLastHour < 2:
		return TrendImproving
	default:
		return TrendStable
	}
}

func topPatterns(counts map[string]int, limit int) []Pattern {
	out := make([]Pattern, 0, len(counts))
	for msg, n := range counts {
		out = append(out, Pattern{Message: msg, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Message < out[j].Message
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// LayerStatusFor classifies a layer error rate (0..1).
func LayerStatusFor(errorRate float64) Status {
	switch {
	case errorRate > 0.20:
		return StatusCritical
	case errorRate > 0.10:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

// SystemHealth buckets the last hour of events per layer and classifies each
// layer by its error rate. The overall status is the worst layer status.
func (m *Monitor) SystemHealth(ctx context.Context) (SystemHealth, error) {
	now := m.clock.Now()
	events, err := m.store.Since(ctx, now.Add(-time.Hour))
	if err != nil {
		return SystemHealth{}, err
	}

	type bucket struct{ events, errs int }
	buckets := make(map[errors.Layer]*bucket, len(errors.Layers))
	for _, l := range errors.Layers {
		buckets[l] = &bucket{}
	}
	for _, ev := range events {
		b, ok := buckets[ev.Layer]
		if !ok || ev.Timestamp.After(now) {
			continue
		}
		b.events++
		if ev.Type == EventError {
			b.errs++
		}
	}

	h := SystemHealth{Overall: StatusHealthy}
	for _, l := range errors.Layers {
		b := buckets[l]
		lh := LayerHealth{Layer: l, Name: l.String(), Events: b.events, Errors: b.errs}
		if b.events > 0 {
			lh.ErrorRate = float64(b.errs) / float64(b.events)
		}
		lh.Status = LayerStatusFor(lh.ErrorRate)
		if lh.Status.rank() > h.Overall.rank() {
			h.Overall = lh.Status
		}
		h.Layers = append(h.Layers, lh)
	}

	hourAgo := now.Add(-time.Hour)
	for _, a := range m.Alerts() {
		if !a.Timestamp.Before(hourAgo) {
			h.Alerts = append(h.Alerts, a)
		}
	}
	h.Recommendations = recommendations(h, aggregate(events, now))
	return h, nil
}

func recommendations(h SystemHealth, metrics Metrics) []string {
	var recs []string
	for _, l := range h.Layers {
		switch l.Status {
		case StatusCritical:
			recs = append(recs, fmt.Sprintf("Investigate %s immediately: %.0f%% of its events are errors.", l.Name, l.ErrorRate*100))
		case StatusDegraded:
			recs = append(recs, fmt.Sprintf("Review recent %s failures; error rate is %.0f%%.", l.Name, l.ErrorRate*100))
		}
	}
	if metrics.CascadingErrorRate > 0.1 {
		recs = append(recs, "Failures are cascading across layers; check shared dependencies.")
	}
	if metrics.TotalEvents > 0 && metrics.ByType[EventRecovery] > 0 && metrics.RecoverySuccessRate < 0.5 {
		recs = append(recs, "Most recoveries are failing; review retry and fallback configuration.")
	}
	if len(recs) == 0 {
		recs = append(recs, "All layers are operating normally.")
	}
	return recs
}
