// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"fmt"
	"log/slog"
	goruntime "runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/studybuddy/sentinel/pkg/errors"
	"github.com/studybuddy/sentinel/pkg/notify"
	"github.com/studybuddy/sentinel/pkg/scheduler"
	"github.com/studybuddy/sentinel/pkg/telemetry"
)

const (
	// DefaultCheckInterval is how often Start runs a check.
	DefaultCheckInterval = 30 * time.Second

	// DefaultHistory bounds the snapshot history.
	DefaultHistory = 100

	// DefaultAlertCapacity bounds the retained alerts.
	DefaultAlertCapacity = 500

	// trendWindow is the number of samples compared by Trends.
	trendWindow = 3
)

// LayerStatus is the health of one layer after the last check.
type LayerStatus struct {
	Layer     errors.Layer `json:"layer" yaml:"layer"`
	Name      string       `json:"name" yaml:"name"`
	Status    Status       `json:"status" yaml:"status"`
	Score     float64      `json:"score" yaml:"score"`
	Uptime    float64      `json:"uptime" yaml:"uptime"`
	Metrics   []Metric     `json:"metrics" yaml:"metrics"`
	LastCheck time.Time    `json:"last_check" yaml:"last_check"`
}

// SystemInfo describes the running process.
type SystemInfo struct {
	Version   string        `json:"version" yaml:"version"`
	GoVersion string        `json:"go_version" yaml:"go_version"`
	StartedAt time.Time     `json:"started_at" yaml:"started_at"`
	Uptime    time.Duration `json:"uptime" yaml:"uptime"`
	Checks    int           `json:"checks" yaml:"checks"`
}

// SystemStatus is the overall health picture.
type SystemStatus struct {
	Overall         Status        `json:"overall" yaml:"overall"`
	Score           float64       `json:"score" yaml:"score"`
	Layers          []LayerStatus `json:"layers" yaml:"layers"`
	ActiveAlerts    int           `json:"active_alerts" yaml:"active_alerts"`
	Recommendations []string      `json:"recommendations" yaml:"recommendations"`
	System          SystemInfo    `json:"system" yaml:"system"`
	Timestamp       time.Time     `json:"timestamp" yaml:"timestamp"`
}

// Snapshot is one entry of the health history.
type Snapshot struct {
	Timestamp time.Time                `json:"timestamp" yaml:"timestamp"`
	Overall   Status                   `json:"overall" yaml:"overall"`
	Score     float64                  `json:"score" yaml:"score"`
	Layers    map[errors.Layer]float64 `json:"layers" yaml:"layers"`
}

type layerState struct {
	metrics []Metric
	checks  int
	up      int
	status  Status
	score   float64
	last    time.Time
}

// Monitor runs health checks over the five layers.
type Monitor struct {
	mu         sync.Mutex
	layers     map[errors.Layer]*layerState
	history    []Snapshot
	historyCap int
	alerts     []Alert
	alertCap   int
	status     SystemStatus
	checks     int
	probe      Probe
	notifier   notify.Notifier
	notifyOn   bool
	metrics    *telemetry.Metrics
	tracer     trace.Tracer
	clock      scheduler.Clock
	logger     *slog.Logger
	version    string
	startedAt  time.Time
	newID      func() string
	stopCheck  func()
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithProbe sets the metric source. The default reports baselines.
func WithProbe(p Probe) Option {
	return func(m *Monitor) {
		if p != nil {
			m.probe = p
		}
	}
}

// WithLayerMetrics replaces the metrics of the given layers.
func WithLayerMetrics(metrics map[errors.Layer][]Metric) Option {
	return func(m *Monitor) {
		for layer, ms := range metrics {
			if st, ok := m.layers[layer]; ok {
				st.metrics = append([]Metric(nil), ms...)
			}
		}
	}
}

// WithHistory bounds the snapshot history.
func WithHistory(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.historyCap = n
		}
	}
}

// WithAlertCapacity bounds the retained alerts.
func WithAlertCapacity(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.alertCap = n
		}
	}
}

// WithNotifier sends critical alerts to n.
func WithNotifier(n notify.Notifier) Option {
	return func(m *Monitor) {
		if n != nil {
			m.notifier = n
			m.notifyOn = true
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Monitor) {
		m.metrics = metrics
	}
}

// WithClock sets the time source.
func WithClock(clock scheduler.Clock) Option {
	return func(m *Monitor) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithVersion sets the version reported in SystemInfo.
func WithVersion(v string) Option {
	return func(m *Monitor) {
		m.version = v
	}
}

// New creates a Monitor with the default metrics. The initial status is
// computed from the current metric values without raising alerts.
func New(opts ...Option) *Monitor {
	m := &Monitor{
		layers:     make(map[errors.Layer]*layerState, len(errors.Layers)),
		historyCap: DefaultHistory,
		alertCap:   DefaultAlertCapacity,
		probe:      BaselineProbe{},
		notifier:   notify.Noop{},
		tracer:     otel.Tracer("sentinel/health"),
		clock:      scheduler.SystemClock,
		logger:     slog.Default(),
		version:    "dev",
		newID:      uuid.NewString,
	}
	for layer, ms := range DefaultMetrics() {
		m.layers[layer] = &layerState{metrics: ms}
	}
	for _, opt := range opts {
		opt(m)
	}
	m.startedAt = m.clock.Now()

	now := m.startedAt
	for _, layer := range errors.Layers {
		st := m.layers[layer]
		for i := range st.metrics {
			st.metrics[i].Status = st.metrics[i].Classify(st.metrics[i].Value)
			if st.metrics[i].Trend == "" {
				st.metrics[i].Trend = TrendStable
			}
		}
		st.score = layerScore(st.metrics)
		st.status = StatusForScore(st.score)
		st.last = now
	}
	m.status = m.buildStatusLocked(now)
	return m
}

// Check samples every metric, rescores the layers, raises alerts and
// records a history snapshot.
func (m *Monitor) Check(ctx context.Context) (SystemStatus, error) {
	ctx, span := m.tracer.Start(ctx, "health.check")
	defer span.End()

	samples, err := m.sample(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return SystemStatus{}, err
	}

	m.mu.Lock()
	now := m.clock.Now()
	m.checks++
	var raised []Alert
	snap := Snapshot{Timestamp: now, Layers: make(map[errors.Layer]float64, len(errors.Layers))}

	for _, layer := range errors.Layers {
		st := m.layers[layer]
		for i := range st.metrics {
			metric := &st.metrics[i]
			v, ok := samples[layer][metric.Name]
			if !ok {
				continue
			}
			metric.Trend = metric.trendOf(metric.Value, v)
			metric.Value = v
			metric.Status = metric.Classify(v)
			switch metric.Status {
			case MetricCritical:
				raised = append(raised, m.raiseLocked(SeverityCritical, "health",
					fmt.Sprintf("%s %s critical", layer, metric.Name),
					fmt.Sprintf("%s is %.2f%s (critical at %.2f)", metric.Name, v, metric.Unit, metric.CriticalThreshold),
					layer, metric.Name, now))
			case MetricWarning:
				raised = append(raised, m.raiseLocked(SeverityWarning, "health",
					fmt.Sprintf("%s %s warning", layer, metric.Name),
					fmt.Sprintf("%s is %.2f%s (warning at %.2f)", metric.Name, v, metric.Unit, metric.WarningThreshold),
					layer, metric.Name, now))
			}
		}
		st.score = layerScore(st.metrics)
		st.status = StatusForScore(st.score)
		st.checks++
		if st.status != StatusCritical {
			st.up++
		}
		st.last = now
		snap.Layers[layer] = st.score
		if st.status == StatusCritical {
			raised = append(raised, m.raiseLocked(SeverityCritical, "health",
				fmt.Sprintf("%s critical", layer),
				fmt.Sprintf("%s scored %.1f", layer, st.score),
				layer, "", now))
		}
		m.metrics.RecordHealthScore(ctx, layer, st.score)
		m.metrics.RecordLayerStatus(ctx, layer, string(st.status))
	}

	m.status = m.buildStatusLocked(now)
	snap.Overall = m.status.Overall
	snap.Score = m.status.Score
	m.history = append(m.history, snap)
	if over := len(m.history) - m.historyCap; over > 0 {
		m.history = append([]Snapshot(nil), m.history[over:]...)
	}
	status := m.status
	m.mu.Unlock()

	m.metrics.RecordHealthScore(ctx, errors.LayerSystem, status.Score)
	span.SetAttributes(telemetry.HealthAttributes(string(status.Overall), status.Score)...)
	m.logger.LogAttrs(ctx, slog.LevelInfo, "health.check.complete",
		slog.String("overall", string(status.Overall)),
		slog.Float64("score", status.Score),
		slog.Int("alerts_raised", len(raised)),
	)
	m.announce(ctx, raised)
	return status, nil
}

func (m *Monitor) sample(ctx context.Context) (map[errors.Layer]map[string]float64, error) {
	m.mu.Lock()
	plan := make(map[errors.Layer][]Metric, len(m.layers))
	for layer, st := range m.layers {
		plan[layer] = append([]Metric(nil), st.metrics...)
	}
	probe := m.probe
	m.mu.Unlock()

	out := make(map[errors.Layer]map[string]float64, len(plan))
	for layer, metrics := range plan {
		out[layer] = make(map[string]float64, len(metrics))
		for _, metric := range metrics {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			v, err := probe.Sample(ctx, layer, metric)
			if err != nil {
				m.logger.LogAttrs(ctx, slog.LevelWarn, "health.probe.failed",
					slog.Int("layer", int(layer)),
					slog.String("metric", metric.Name),
					slog.String("error", err.Error()),
				)
				continue
			}
			out[layer][metric.Name] = v
		}
	}
	return out, nil
}

// Status returns the status computed by the last check.
func (m *Monitor) Status() SystemStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.status
	st.ActiveAlerts = m.activeCountLocked()
	st.System.Uptime = m.clock.Now().Sub(m.startedAt)
	return st
}

// Layer returns the status of one layer.
func (m *Monitor) Layer(layer errors.Layer) (LayerStatus, bool) {
	st := m.Status()
	for _, l := range st.Layers {
		if l.Layer == layer {
			return l, true
		}
	}
	return LayerStatus{}, false
}

// History returns the snapshots, oldest first.
func (m *Monitor) History() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Snapshot(nil), m.history...)
}

// Start runs Check on s every interval.
func (m *Monitor) Start(s scheduler.Scheduler, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopCheck != nil {
		return
	}
	m.stopCheck = s.Every("health.check", interval, func(ctx context.Context) error {
		_, err := m.Check(ctx)
		return err
	})
}

// Stop cancels the periodic check.
func (m *Monitor) Stop() {
	m.mu.Lock()
	stop := m.stopCheck
	m.stopCheck = nil
	m.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// buildStatusLocked assembles the system status. Caller holds m.mu.
func (m *Monitor) buildStatusLocked(now time.Time) SystemStatus {
	st := SystemStatus{
		Timestamp: now,
		System: SystemInfo{
			Version:   m.version,
			GoVersion: goruntime.Version(),
			StartedAt: m.startedAt,
			Uptime:    now.Sub(m.startedAt),
			Checks:    m.checks,
		},
	}
	var sum float64
	for _, layer := range errors.Layers {
		ls := m.layers[layer]
		uptime := 100.0
		if ls.checks > 0 {
			uptime = float64(ls.up) * 100 / float64(ls.checks)
		}
		st.Layers = append(st.Layers, LayerStatus{
			Layer:     layer,
			Name:      layer.String(),
			Status:    ls.status,
			Score:     ls.score,
			Uptime:    uptime,
			Metrics:   append([]Metric(nil), ls.metrics...),
			LastCheck: ls.last,
		})
		sum += ls.score
	}
	st.Score = sum / float64(len(errors.Layers))
	st.Overall = StatusForScore(st.Score)
	st.ActiveAlerts = m.activeCountLocked()
	st.Recommendations = recommend(st)
	return st
}

func layerScore(metrics []Metric) float64 {
	if len(metrics) == 0 {
		return 100
	}
	var sum float64
	for _, metric := range metrics {
		sum += metric.Score()
	}
	return sum / float64(len(metrics))
}

func recommend(st SystemStatus) []string {
	var recs []string
	for _, l := range st.Layers {
		switch l.Status {
		case StatusCritical:
			recs = append(recs, fmt.Sprintf("%s is critical (score %.1f); investigate immediately.", l.Name, l.Score))
		case StatusDegraded:
			recs = append(recs, fmt.Sprintf("%s is degraded (score %.1f); review its metrics.", l.Name, l.Score))
		}
		for _, metric := range l.Metrics {
			if metric.Status == MetricCritical {
				recs = append(recs, fmt.Sprintf("Bring %s in %s back within %.2f%s.", metric.Name, l.Name, metric.WarningThreshold, metric.Unit))
			}
		}
	}
	if len(recs) == 0 {
		recs = append(recs, "All layers are operating normally.")
	}
	return recs
}
