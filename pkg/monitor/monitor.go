// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/studybuddy/sentinel/pkg/errors"
	"github.com/studybuddy/sentinel/pkg/notify"
	"github.com/studybuddy/sentinel/pkg/scheduler"
	"github.com/studybuddy/sentinel/pkg/telemetry"
)

const (
	// DefaultSweepInterval is how often the background health sweep runs.
	DefaultSweepInterval = 30 * time.Second

	// DefaultAlertCapacity bounds the triggered alert list.
	DefaultAlertCapacity = 500
)

var (
	// ErrEventNotFound is returned when resolving an unknown event.
	ErrEventNotFound = stderrors.New("event not found")

	// ErrRuleNotFound is returned for an unknown rule ID.
	ErrRuleNotFound = stderrors.New("alert rule not found")
)

// Alert is raised when a rule fires with the alert action.
type Alert struct {
	ID        string        `json:"id"`
	RuleID    string        `json:"rule_id"`
	Severity  AlertSeverity `json:"severity"`
	Title     string        `json:"title"`
	Message   string        `json:"message"`
	Layer     errors.Layer  `json:"layer,omitempty"`
	Value     float64       `json:"value"`
	Timestamp time.Time     `json:"timestamp"`
}

// AlertSink receives alerts raised by rules, for example a health monitor.
type AlertSink func(ctx context.Context, a Alert)

// RecoverHook runs for rules with the auto_recover action.
type RecoverHook func(ctx context.Context, rule AlertRule, trigger Event)

// Monitor records events, evaluates alert rules and aggregates metrics.
type Monitor struct {
	mu            sync.Mutex
	store         EventStore
	rules         []AlertRule
	alerts        []Alert
	alertCapacity int
	hooks         []RecoverHook
	sink          AlertSink
	notifier      notify.Notifier
	metrics       *telemetry.Metrics
	clock         scheduler.Clock
	logger        *slog.Logger
	newID         func() string
	stopSweep     func()
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithStore sets the event store. The default is an in-memory ring of DefaultCapacity.
func WithStore(store EventStore) Option {
	return func(m *Monitor) {
		if store != nil {
			m.store = store
		}
	}
}

// WithRules replaces the default alert rules.
func WithRules(rules []AlertRule) Option {
	return func(m *Monitor) {
		m.rules = append([]AlertRule(nil), rules...)
	}
}

// WithNotifier sets the notifier used by the notify action.
func WithNotifier(n notify.Notifier) Option {
	return func(m *Monitor) {
		if n != nil {
			m.notifier = n
		}
	}
}

// WithAlertSink forwards raised alerts to sink.
func WithAlertSink(sink AlertSink) Option {
	return func(m *Monitor) {
		m.sink = sink
	}
}

// WithRecoverHook registers a hook for the auto_recover action.
func WithRecoverHook(hook RecoverHook) Option {
	return func(m *Monitor) {
		if hook != nil {
			m.hooks = append(m.hooks, hook)
		}
	}
}

// WithAlertCapacity bounds the triggered alert list.
func WithAlertCapacity(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.alertCapacity = n
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

// New creates a Monitor with the default rules.
func New(opts ...Option) *Monitor {
	m := &Monitor{
		store:         NewMemoryEventStore(DefaultCapacity),
		rules:         DefaultRules(),
		alertCapacity: DefaultAlertCapacity,
		notifier:      notify.Noop{},
		clock:         scheduler.SystemClock,
		logger:        slog.Default(),
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// firing is a rule that fired, with the side effects to run outside the lock.
type firing struct {
	rule    AlertRule
	value   float64
	trigger Event
	alert   *Alert
}

// LogEvent appends ev to the log, evaluates the rules and returns the event ID.
// Missing IDs and timestamps are filled in. Store failures are logged.
func (m *Monitor) LogEvent(ctx context.Context, ev Event) string {
	m.mu.Lock()
	id, fired := m.recordLocked(ctx, ev)
	m.mu.Unlock()

	m.dispatch(ctx, fired)
	return id
}

// LogError records a classified error. Errors that widen their correlation
// to a second or further layer also record a cascading event.
func (m *Monitor) LogError(ctx context.Context, le *errors.LayerError, extra map[string]any) string {
	if le == nil {
		return ""
	}
	ev := Event{
		Type:           EventError,
		CorrelationID:  le.CorrelationID,
		Layer:          le.Layer,
		Severity:       le.Impact,
		Message:        le.Message,
		UserID:         le.ContextString(errors.ContextUserID),
		SessionID:      le.ContextString(errors.ContextSessionID),
		ConversationID: le.ContextString(errors.ContextConversationID),
		RetryCount:     le.RecoveryAttempts,
		Source:         le.Source,
		Metadata:       mergeMetadata(extra, map[string]any{"error_id": le.ID, "recoverable": le.Recoverable}),
	}

	m.mu.Lock()
	layers := m.layersLocked(ctx, le.CorrelationID)
	_, seen := layers[le.Layer]
	id, fired := m.recordLocked(ctx, ev)
	if le.CorrelationID != "" && !seen && len(layers) >= 1 {
		_, more := m.recordLocked(ctx, Event{
			Type:          EventCascading,
			CorrelationID: le.CorrelationID,
			Layer:         le.Layer,
			Severity:      errors.WorseImpact(le.Impact, errors.ImpactHigh),
			Message:       fmt.Sprintf("failure cascaded into %s across %d layers", le.Layer, len(layers)+1),
			Source:        le.Source,
		})
		fired = append(fired, more...)
	}
	m.mu.Unlock()

	m.dispatch(ctx, fired)
	return id
}

// LogRecovery records the outcome of a recovery attempt for a correlation.
func (m *Monitor) LogRecovery(ctx context.Context, correlationID string, success bool, strategy string, duration time.Duration, extra map[string]any) string {
	severity := errors.ImpactLow
	msg := "recovery succeeded via " + strategy
	if !success {
		severity = errors.ImpactMedium
		msg = "recovery failed via " + strategy
	}
	return m.LogEvent(ctx, Event{
		Type:          EventRecovery,
		CorrelationID: correlationID,
		Layer:         errors.LayerSystem,
		Severity:      severity,
		Message:       msg,
		Duration:      duration,
		Resolved:      success,
		Source:        errors.SourceSystem,
		Metadata:      mergeMetadata(extra, map[string]any{"strategy": strategy, "success": success}),
	})
}

// ResolveEvent marks an event resolved.
func (m *Monitor) ResolveEvent(ctx context.Context, id string) error {
	ok, err := m.store.Resolve(ctx, id, m.clock.Now())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	return nil
}

// Events returns the events recorded for a correlation, oldest first.
func (m *Monitor) Events(ctx context.Context, correlationID string) ([]Event, error) {
	return m.store.ByCorrelation(ctx, correlationID)
}

// Len returns the number of stored events.
func (m *Monitor) Len(ctx context.Context) (int, error) {
	return m.store.Len(ctx)
}

// Rules returns a copy of the alert rules with their trigger state.
func (m *Monitor) Rules() []AlertRule {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AlertRule(nil), m.rules...)
}

// SetRules replaces the alert rules. Trigger state of rules whose ID is kept
// carries over.
func (m *Monitor) SetRules(rules []AlertRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := make(map[string]AlertRule, len(m.rules))
	for _, r := range m.rules {
		prev[r.ID] = r
	}
	next := append([]AlertRule(nil), rules...)
	for i := range next {
		if old, ok := prev[next[i].ID]; ok {
			next[i].TriggerCount = old.TriggerCount
			next[i].LastTriggered = old.LastTriggered
		}
	}
	m.rules = next
}

// AddRule adds or replaces the rule with the same ID.
func (m *Monitor) AddRule(rule AlertRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rules {
		if m.rules[i].ID == rule.ID {
			m.rules[i] = rule
			return
		}
	}
	m.rules = append(m.rules, rule)
}

// EnableRule turns a rule on or off.
func (m *Monitor) EnableRule(id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rules {
		if m.rules[i].ID == id {
			m.rules[i].Enabled = enabled
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
}

// Alerts returns the triggered alerts, oldest first.
func (m *Monitor) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Alert(nil), m.alerts...)
}

// Start runs the health sweep on s every interval.
func (m *Monitor) Start(s scheduler.Scheduler, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopSweep != nil {
		return
	}
	m.stopSweep = s.Every("monitor.sweep", interval, m.Sweep)
}

// Stop cancels the health sweep.
func (m *Monitor) Stop() {
	m.mu.Lock()
	stop := m.stopSweep
	m.stopSweep = nil
	m.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Sweep re-evaluates system health, publishes the layer status gauges and
// records a critical system event when the overall status is critical.
func (m *Monitor) Sweep(ctx context.Context) error {
	h, err := m.SystemHealth(ctx)
	if err != nil {
		return err
	}
	for _, lh := range h.Layers {
		m.metrics.RecordLayerStatus(ctx, lh.Layer, string(lh.Status))
	}
	if h.Overall != StatusCritical {
		return nil
	}
	m.LogEvent(ctx, Event{
		Type:     EventError,
		Layer:    errors.LayerSystem,
		Severity: errors.ImpactCritical,
		Message:  "system health is critical",
		Source:   errors.SourceSystem,
		Metadata: map[string]any{"synthetic": true},
	})
	return nil
}

// recordLocked stores ev and evaluates the enabled rules. Caller holds m.mu.
func (m *Monitor) recordLocked(ctx context.Context, ev Event) (string, []firing) {
	now := m.clock.Now()
	if ev.ID == "" {
		ev.ID = m.newID()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = now
	}
	if err := m.store.Append(ctx, ev); err != nil {
		m.logger.LogAttrs(ctx, slog.LevelError, "monitor.event.store_failed",
			slog.String("event_id", ev.ID),
			slog.String("error", err.Error()),
		)
		return ev.ID, nil
	}
	m.metrics.RecordEvent(ctx, string(ev.Type), ev.Layer)
	m.logger.LogAttrs(ctx, slog.LevelDebug, "monitor.event.logged",
		slog.String("event_id", ev.ID),
		slog.String("type", string(ev.Type)),
		slog.Int("layer", int(ev.Layer)),
		slog.String("correlation_id", ev.CorrelationID),
	)
	return ev.ID, m.evaluateLocked(ctx, ev, now)
}

func (m *Monitor) evaluateLocked(ctx context.Context, trigger Event, now time.Time) []firing {
	var window time.Duration
	for _, r := range m.rules {
		if r.Enabled && r.Window > window {
			window = r.Window
		}
	}
	if window == 0 {
		return nil
	}
	events, err := m.store.Since(ctx, now.Add(-window))
	if err != nil {
		m.logger.LogAttrs(ctx, slog.LevelError, "monitor.rules.load_failed", slog.String("error", err.Error()))
		return nil
	}

	var fired []firing
	for i := range m.rules {
		r := &m.rules[i]
		if !r.Enabled {
			continue
		}
		ok, value := r.Evaluate(events, now)
		if !ok {
			continue
		}
		r.TriggerCount++
		r.LastTriggered = now
		f := firing{rule: *r, value: value, trigger: trigger}
		if r.has(ActionAlert) {
			a := Alert{
				ID:        m.newID(),
				RuleID:    r.ID,
				Severity:  r.Level,
				Title:     r.Name,
				Message:   fmt.Sprintf("%s: %s at %.2f (threshold %.2f)", r.Name, r.Type, value, r.Threshold),
				Layer:     r.Layer,
				Value:     value,
				Timestamp: now,
			}
			m.alerts = append(m.alerts, a)
			if over := len(m.alerts) - m.alertCapacity; over > 0 {
				m.alerts = append([]Alert(nil), m.alerts[over:]...)
			}
			f.alert = &a
		}
		fired = append(fired, f)
	}
	return fired
}

// dispatch runs rule actions that leave the monitor. It must not hold m.mu.
func (m *Monitor) dispatch(ctx context.Context, fired []firing) {
	for _, f := range fired {
		r := f.rule
		if r.has(ActionLog) {
			m.logger.LogAttrs(ctx, slog.LevelWarn, "monitor.rule.triggered",
				slog.String("rule_id", r.ID),
				slog.String("type", string(r.Type)),
				slog.Float64("value", f.value),
				slog.Float64("threshold", r.Threshold),
				slog.Int("trigger_count", r.TriggerCount),
				slog.String("event_id", f.trigger.ID),
			)
		}
		if f.alert != nil {
			m.metrics.RecordAlert(ctx, string(f.alert.Severity), "monitor")
			if m.sink != nil {
				m.sink(ctx, *f.alert)
			}
		}
		if r.has(ActionNotify) {
			n := notify.Notification{
				ID:        f.trigger.ID,
				Severity:  string(r.Level),
				Title:     r.Name,
				Message:   fmt.Sprintf("%s fired at %.2f (threshold %.2f)", r.Name, f.value, r.Threshold),
				Source:    "monitor",
				Layer:     int(r.Layer),
				Timestamp: f.trigger.Timestamp,
				Metadata:  map[string]any{"rule_id": r.ID, "correlation_id": f.trigger.CorrelationID},
			}
			if err := m.notifier.Notify(ctx, n); err != nil {
				m.logger.LogAttrs(ctx, slog.LevelWarn, "monitor.notify.failed",
					slog.String("rule_id", r.ID),
					slog.String("error", err.Error()),
				)
			}
		}
		if r.has(ActionAutoRecover) {
			for _, hook := range m.hooks {
				hook(ctx, r, f.trigger)
			}
		}
	}
}

// layersLocked returns the layers of the error events already recorded for a
// correlation. Caller holds m.mu.
func (m *Monitor) layersLocked(ctx context.Context, correlationID string) map[errors.Layer]struct{} {
	layers := make(map[errors.Layer]struct{})
	if correlationID == "" {
		return layers
	}
	events, err := m.store.ByCorrelation(ctx, correlationID)
	if err != nil {
		return layers
	}
	for _, ev := range events {
		if ev.Type == EventError {
			layers[ev.Layer] = struct{}{}
		}
	}
	return layers
}

func mergeMetadata(extra, base map[string]any) map[string]any {
	out := make(map[string]any, len(extra)+len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
