// SPDX-License-Identifier: Apache-2.0

package health

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/studybuddy/sentinel/pkg/errors"
	"github.com/studybuddy/sentinel/pkg/monitor"
	"github.com/studybuddy/sentinel/pkg/notify"
	"github.com/studybuddy/sentinel/pkg/scheduler"
)

var epoch = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

// override reports fixed values for the named metrics and baselines otherwise.
type override struct {
	mu     sync.Mutex
	values map[string]float64
}

func (o *override) set(values map[string]float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.values = values
}

func (o *override) Sample(_ context.Context, _ errors.Layer, m Metric) (float64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if v, ok := o.values[m.Name]; ok {
		return v, nil
	}
	return m.Baseline, nil
}

func TestBaselineIsHealthy(t *testing.T) {
	m := New(WithClock(scheduler.NewManual(epoch)))
	st := m.Status()
	assert.Equal(t, StatusHealthy, st.Overall)
	assert.Greater(t, st.Score, 90.0)
	require.Len(t, st.Layers, 5)
	for _, l := range st.Layers {
		assert.Equal(t, StatusHealthy, l.Status, l.Name)
		assert.Equal(t, 100.0, l.Uptime)
	}
	assert.Equal(t, []string{"All layers are operating normally."}, st.Recommendations)

	st, err := m.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, st.Overall)
	assert.Empty(t, m.ActiveAlerts())
}

func TestMetricScoring(t *testing.T) {
	lower := Metric{WarningThreshold: 500, CriticalThreshold: 1000}
	lower.Value = 250
	lower.Status = lower.Classify(lower.Value)
	assert.Equal(t, MetricHealthy, lower.Status)
	assert.Equal(t, 100.0, lower.Score())

	lower.Value = 1000
	lower.Status = lower.Classify(lower.Value)
	assert.Equal(t, MetricCritical, lower.Status)
	assert.Equal(t, 25.0, lower.Score())

	higher := Metric{WarningThreshold: 95, CriticalThreshold: 90, HigherIsBetter: true, Value: 93}
	higher.Status = higher.Classify(higher.Value)
	assert.Equal(t, MetricWarning, higher.Status)
	assert.InDelta(t, 93*0.8, higher.Score(), 0.0001)

	assert.Equal(t, StatusHealthy, StatusForScore(90))
	assert.Equal(t, StatusDegraded, StatusForScore(70))
	assert.Equal(t, StatusCritical, StatusForScore(69.9))
}

func TestCheckRaisesAlertsForCriticalLayer(t *testing.T) {
	probe := &override{}
	probe.set(map[string]float64{"fact_check_accuracy": 80, "hallucination_rate": 12})

	var notified []notify.Notification
	m := New(
		WithClock(scheduler.NewManual(epoch)),
		WithProbe(probe),
		WithNotifier(notify.Func(func(_ context.Context, n notify.Notification) error {
			notified = append(notified, n)
			return nil
		})),
	)

	st, err := m.Check(context.Background())
	require.NoError(t, err)
	layer, ok := m.Layer(errors.LayerResponseValidation)
	require.True(t, ok)
	assert.Equal(t, StatusCritical, layer.Status)
	assert.Equal(t, 0.0, layer.Uptime)
	assert.Equal(t, StatusDegraded, st.Overall)

	active := m.ActiveAlerts()
	require.Len(t, active, 3)
	assert.Equal(t, 3, st.ActiveAlerts)
	for _, a := range active {
		assert.Equal(t, SeverityCritical, a.Severity)
		assert.Equal(t, errors.LayerResponseValidation, a.Layer)
	}
	assert.Len(t, notified, 3)
	assert.NotEmpty(t, st.Recommendations)
}

func TestWarningAlertsAreNotNotified(t *testing.T) {
	probe := &override{}
	probe.set(map[string]float64{"memory_utilization": 85})
	var notified int
	m := New(WithProbe(probe), WithNotifier(notify.Func(func(context.Context, notify.Notification) error {
		notified++
		return nil
	})))

	_, err := m.Check(context.Background())
	require.NoError(t, err)
	active := m.ActiveAlerts()
	require.Len(t, active, 1)
	assert.Equal(t, SeverityWarning, active[0].Severity)
	assert.Equal(t, "memory_utilization", active[0].Metric)
	assert.Zero(t, notified)
}

func TestAlertLifecycle(t *testing.T) {
	ctx := context.Background()
	clock := scheduler.NewManual(epoch)
	m := New(WithClock(clock))

	a := m.Raise(ctx, SeverityError, "monitor", "High error rate", "rate at 20%", errors.LayerInputValidation)
	assert.False(t, a.Acknowledged)
	require.Len(t, a.Actions, 1)

	clock.Advance(time.Minute)
	acked, err := m.Acknowledge(ctx, a.ID, "alice")
	require.NoError(t, err)
	assert.True(t, acked.Acknowledged)
	assert.False(t, acked.Resolved)

	clock.Advance(time.Minute)
	resolved, err := m.Resolve(ctx, a.ID, "bob", "restarted the validator")
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)
	assert.True(t, resolved.ResolutionTime.Equal(epoch.Add(2*time.Minute)))
	require.Len(t, resolved.Actions, 3)
	assert.Equal(t, "resolved", resolved.Actions[2].Action)
	assert.Equal(t, "restarted the validator", resolved.Actions[2].Note)

	_, err = m.Acknowledge(ctx, a.ID, "carol")
	assert.ErrorIs(t, err, ErrAlertResolved)
	_, err = m.Resolve(ctx, "missing", "bob", "")
	assert.ErrorIs(t, err, ErrAlertNotFound)

	assert.Empty(t, m.ActiveAlerts())
	assert.Len(t, m.Alerts(), 1)
}

func TestAlertCapacityPrunesOldest(t *testing.T) {
	ctx := context.Background()
	m := New(WithAlertCapacity(2))
	first := m.Raise(ctx, SeverityInfo, "test", "one", "", 0)
	m.Raise(ctx, SeverityInfo, "test", "two", "", 0)
	m.Raise(ctx, SeverityInfo, "test", "three", "", 0)

	alerts := m.Alerts()
	require.Len(t, alerts, 2)
	assert.Equal(t, "two", alerts[0].Title)
	_, err := m.Alert(first.ID)
	assert.ErrorIs(t, err, ErrAlertNotFound)
}

func TestHistoryAndTrends(t *testing.T) {
	ctx := context.Background()
	probe := &override{}
	m := New(WithClock(scheduler.NewManual(epoch)), WithProbe(probe), WithHistory(8))

	for i := 0; i < 5; i++ {
		_, err := m.Check(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, TrendStable, m.Trends().Overall)

	probe.set(map[string]float64{"validation_accuracy": 50, "fact_check_accuracy": 50, "quality_score": 50})
	for i := 0; i < 6; i++ {
		_, err := m.Check(ctx)
		require.NoError(t, err)
	}
	assert.Len(t, m.History(), 8)

	trends := m.Trends()
	assert.Equal(t, 8, trends.Samples)
	assert.Equal(t, TrendStable, trends.Overall)

	probe.set(nil)
	for i := 0; i < 3; i++ {
		_, err := m.Check(ctx)
		require.NoError(t, err)
	}
	trends = m.Trends()
	assert.Equal(t, TrendImproving, trends.Overall)
	assert.Equal(t, TrendImproving, trends.Layers[errors.LayerInputValidation])
	assert.Equal(t, TrendStable, trends.Layers[errors.LayerContextMemory])
}

func TestTrendsDegrading(t *testing.T) {
	ctx := context.Background()
	probe := &override{}
	m := New(WithProbe(probe))
	for i := 0; i < 3; i++ {
		_, err := m.Check(ctx)
		require.NoError(t, err)
	}
	probe.set(map[string]float64{"hallucination_rate": 12})
	for i := 0; i < 3; i++ {
		_, err := m.Check(ctx)
		require.NoError(t, err)
	}
	trends := m.Trends()
	assert.Equal(t, TrendDegrading, trends.Layers[errors.LayerResponseValidation])
	layer, _ := m.Layer(errors.LayerResponseValidation)
	for _, metric := range layer.Metrics {
		if metric.Name == "hallucination_rate" {
			assert.Equal(t, TrendStable, metric.Trend)
			assert.Equal(t, MetricCritical, metric.Status)
		}
	}
}

func TestExportJSONRoundTrip(t *testing.T) {
	ctx := context.Background()
	probe := &override{}
	probe.set(map[string]float64{"learning_latency": 1500})
	m := New(WithClock(scheduler.NewManual(epoch)), WithProbe(probe))
	_, err := m.Check(ctx)
	require.NoError(t, err)

	out, err := m.ExportReport("json")
	require.NoError(t, err)

	var report Report
	require.NoError(t, json.Unmarshal(out, &report))
	st := m.Status()
	assert.Equal(t, st.Overall, report.Status.Overall)
	assert.Equal(t, st.Score, report.Status.Score)
	assert.Len(t, report.ActiveAlerts, len(m.ActiveAlerts()))
	assert.NotEmpty(t, report.ActiveAlerts)
}

func TestExportCSVAndYAML(t *testing.T) {
	ctx := context.Background()
	m := New(WithClock(scheduler.NewManual(epoch)))
	for i := 0; i < 2; i++ {
		_, err := m.Check(ctx)
		require.NoError(t, err)
	}

	out, err := m.ExportReport("csv")
	require.NoError(t, err)
	records, err := csv.NewReader(bytes.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"timestamp", "score", "status", "layer_1_score", "layer_2_score",
		"layer_3_score", "layer_4_score", "layer_5_score"}, records[0])
	assert.Equal(t, "healthy", records[1][2])

	out, err = m.ExportReport("yaml")
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(out, &doc))
	status, ok := doc["status"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "healthy", status["overall"])

	_, err = m.ExportReport("xml")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestStartRunsChecksOnSchedule(t *testing.T) {
	clock := scheduler.NewManual(epoch)
	m := New(WithClock(clock))
	m.Start(clock, 30*time.Second)
	clock.Advance(90 * time.Second)
	m.Stop()
	clock.Advance(90 * time.Second)

	assert.Len(t, m.History(), 3)
	assert.Equal(t, 3, m.Status().System.Checks)
	assert.Equal(t, 3*time.Minute, m.Status().System.Uptime)
}

func TestJitterProbeStaysWithinFivePercent(t *testing.T) {
	p := NewJitterProbe(42)
	metric := Metric{Name: "quality_score", Baseline: 90}
	for i := 0; i < 200; i++ {
		v, err := p.Sample(context.Background(), errors.LayerQualityAssurance, metric)
		require.NoError(t, err)
		assert.InDelta(t, 90, v, 4.5)
	}
}

func TestMonitorProbeErrorRate(t *testing.T) {
	ctx := context.Background()
	clock := scheduler.NewManual(epoch)
	mon := monitor.New(monitor.WithClock(clock), monitor.WithRules(nil))
	for i := 0; i < 3; i++ {
		mon.LogEvent(ctx, monitor.Event{Type: monitor.EventInfo, Layer: errors.LayerInputValidation})
	}
	mon.LogEvent(ctx, monitor.Event{Type: monitor.EventError, Layer: errors.LayerInputValidation})

	p := MonitorProbe{Monitor: mon}
	v, err := p.Sample(ctx, errors.LayerInputValidation, Metric{Name: "error_rate"})
	require.NoError(t, err)
	assert.Equal(t, 25.0, v)

	v, err = p.Sample(ctx, errors.LayerQualityAssurance, Metric{Name: "error_rate"})
	require.NoError(t, err)
	assert.Equal(t, 25.0, v)

	v, err = p.Sample(ctx, errors.LayerInputValidation, Metric{Name: "validation_accuracy", Baseline: 98})
	require.NoError(t, err)
	assert.Equal(t, 98.0, v)
}
