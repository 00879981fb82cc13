// SPDX-License-Identifier: Apache-2.0
// Package runtime wires the sentinel services together and owns their
// background tasks and stores.
package runtime

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/studybuddy/sentinel/pkg/config"
	"github.com/studybuddy/sentinel/pkg/correlation"
	"github.com/studybuddy/sentinel/pkg/errors"
	"github.com/studybuddy/sentinel/pkg/feedback"
	"github.com/studybuddy/sentinel/pkg/health"
	"github.com/studybuddy/sentinel/pkg/monitor"
	"github.com/studybuddy/sentinel/pkg/notify"
	"github.com/studybuddy/sentinel/pkg/resilience"
	"github.com/studybuddy/sentinel/pkg/scheduler"
	"github.com/studybuddy/sentinel/pkg/storage"
	"github.com/studybuddy/sentinel/pkg/telemetry"
)

const (
	// RefreshInterval is how often correlation states are re-derived.
	RefreshInterval = time.Minute

	// GCInterval is how often the durable correlation store reclaims space.
	GCInterval = 10 * time.Minute
)

// ErrStopped is returned when starting a runtime that was stopped.
var ErrStopped = stderrors.New("runtime stopped")

// Runtime owns the error-handling services and their lifecycle.
type Runtime struct {
	mu       sync.Mutex
	cfg      *config.ReloadableConfig
	started  bool
	stopped  bool
	tasks    []func()
	sched    scheduler.Scheduler
	ownSched bool
	clock    scheduler.Clock
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	notifier notify.Notifier
	version  string
	tracer   trace.Tracer

	sqlDB *sql.DB
	kvDB  *badger.DB

	classifier *errors.Classifier
	tracker    *correlation.Tracker
	events     *monitor.Monitor
	health     *health.Monitor
	feedback   *feedback.Service
	engine     *resilience.Engine
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithScheduler runs background tasks on s. A scheduler that is also a Clock
// becomes the time source unless WithClock is given.
func WithScheduler(s scheduler.Scheduler) Option {
	return func(r *Runtime) {
		if s != nil {
			r.sched = s
		}
	}
}

// WithClock sets the time source shared by all services.
func WithClock(clock scheduler.Clock) Option {
	return func(r *Runtime) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithLogger sets the logger shared by all services.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink shared by all services.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Runtime) {
		r.metrics = m
	}
}

// WithNotifier replaces the notifier built from configuration.
func WithNotifier(n notify.Notifier) Option {
	return func(r *Runtime) {
		if n != nil {
			r.notifier = n
		}
	}
}

// WithVersion sets the version reported by health status.
func WithVersion(v string) Option {
	return func(r *Runtime) {
		r.version = v
	}
}

// New builds the services described by cfg. A nil cfg uses config.Default().
func New(cfg *config.Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	r := &Runtime{
		cfg:    config.NewReloadableConfig(cfg),
		logger: slog.Default(),
		tracer: otel.Tracer("sentinel/runtime"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.sched == nil {
		r.sched = scheduler.NewTicker(scheduler.WithLogger(r.logger))
		r.ownSched = true
	}
	if r.clock == nil {
		if c, ok := r.sched.(scheduler.Clock); ok {
			r.clock = c
		} else {
			r.clock = scheduler.SystemClock
		}
	}
	if r.notifier == nil {
		r.notifier = NewNotifier(cfg.Notify, r.logger)
	}

	if err := r.build(); err != nil {
		r.closeStores()
		return nil, err
	}
	return r, nil
}

// NewNotifier builds the configured notifier: the log notifier, plus a
// webhook when a URL is set.
func NewNotifier(cfg config.NotifyConfig, logger *slog.Logger) notify.Notifier {
	logNotifier := notify.NewLogNotifier(logger)
	if cfg.Webhook == "" {
		return logNotifier
	}
	return notify.NewMulti(logNotifier, notify.NewWebhookNotifier(notify.WebhookConfig{
		URL:        cfg.Webhook,
		Timeout:    cfg.Timeout,
		RetryCount: cfg.Retries,
		RetryDelay: cfg.Backoff,
		Rate:       cfg.Rate,
		Burst:      cfg.Burst,
	}, notify.WithWebhookLogger(logger)))
}

func (r *Runtime) build() error {
	cfg := r.cfg.Get()

	rules, err := monitor.RulesFromConfig(cfg.Monitor.Rules)
	if err != nil {
		return fmt.Errorf("monitor rules: %w", err)
	}

	var (
		corrStore     correlation.Store  = correlation.NewMemoryStore()
		eventStore    monitor.EventStore = monitor.NewMemoryEventStore(cfg.Monitor.Capacity)
		feedbackStore feedback.Store     = feedback.NewMemoryStore(cfg.Feedback.Capacity)
	)
	if cfg.Storage.Durable {
		r.sqlDB, err = storage.OpenSQLite(filepath.Join(cfg.Storage.Dir, "sentinel.db"))
		if err != nil {
			return err
		}
		if eventStore, err = monitor.NewSQLiteEventStore(r.sqlDB, cfg.Monitor.Capacity); err != nil {
			return fmt.Errorf("event store: %w", err)
		}
		if feedbackStore, err = feedback.NewSQLiteStore(r.sqlDB, cfg.Feedback.Capacity); err != nil {
			return fmt.Errorf("feedback store: %w", err)
		}
		badgerCfg := storage.DefaultBadgerConfig(filepath.Join(cfg.Storage.Dir, "correlations"))
		badgerCfg.Logger = r.logger
		r.kvDB, err = storage.OpenBadger(badgerCfg)
		if err != nil {
			return err
		}
		if corrStore, err = correlation.NewBadgerStore(r.kvDB); err != nil {
			return fmt.Errorf("correlation store: %w", err)
		}
	}

	r.classifier = errors.NewClassifier(
		errors.WithLogger(r.logger),
		errors.WithClock(r.clock.Now),
	)
	r.tracker = correlation.NewTracker(
		correlation.WithStore(corrStore),
		correlation.WithCapacity(cfg.Correlation.Capacity),
		correlation.WithClock(r.clock),
		correlation.WithLogger(r.logger),
	)
	r.events = monitor.New(
		monitor.WithStore(eventStore),
		monitor.WithRules(rules),
		monitor.WithNotifier(r.notifier),
		monitor.WithAlertSink(r.forwardAlert),
		monitor.WithRecoverHook(r.autoRecover),
		monitor.WithMetrics(r.metrics),
		monitor.WithClock(r.clock),
		monitor.WithLogger(r.logger),
	)

	var next health.Probe = health.BaselineProbe{}
	if cfg.Health.Jitter {
		next = health.NewJitterProbe(r.clock.Now().UnixNano())
	}
	healthOpts := []health.Option{
		health.WithProbe(health.MonitorProbe{Monitor: r.events, Next: next}),
		health.WithHistory(cfg.Health.History),
		health.WithAlertCapacity(cfg.Health.Alerts),
		health.WithMetrics(r.metrics),
		health.WithClock(r.clock),
		health.WithLogger(r.logger),
		health.WithVersion(r.version),
	}
	if cfg.Health.Notify {
		healthOpts = append(healthOpts, health.WithNotifier(r.notifier))
	}
	r.health = health.New(healthOpts...)

	r.feedback = feedback.New(
		feedback.WithStore(feedbackStore),
		feedback.WithCacheTTL(cfg.Feedback.TTL),
		feedback.WithNotifier(r.notifier),
		feedback.WithMetrics(r.metrics),
		feedback.WithClock(r.clock),
		feedback.WithLogger(r.logger),
	)
	r.engine = resilience.NewEngine(
		resilience.WithClassifier(r.classifier),
		resilience.WithTracker(r.tracker),
		resilience.WithRecorder(r.events),
		resilience.WithMetrics(r.metrics),
		resilience.WithLogger(r.logger),
		resilience.WithNow(r.clock.Now),
	)
	return nil
}

// forwardAlert raises event monitor alerts on the health monitor so they share
// one acknowledge and resolve lifecycle.
func (r *Runtime) forwardAlert(ctx context.Context, a monitor.Alert) {
	r.health.Raise(ctx, health.AlertSeverity(a.Severity), "monitor:"+a.RuleID, a.Title, a.Message, a.Layer)
}

// autoRecover re-derives correlation states so settled failures stop
// counting as active.
func (r *Runtime) autoRecover(ctx context.Context, rule monitor.AlertRule, trigger monitor.Event) {
	r.logger.LogAttrs(ctx, slog.LevelInfo, "runtime.auto_recover",
		slog.String("rule_id", rule.ID),
		slog.String("correlation_id", trigger.CorrelationID),
	)
	if err := r.tracker.Refresh(ctx); err != nil {
		r.logger.LogAttrs(ctx, slog.LevelWarn, "runtime.auto_recover.failed",
			slog.String("rule_id", rule.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Start runs an initial health check and schedules the background tasks:
// the event monitor sweep, health checks, correlation refresh and, for
// durable storage, value log GC.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return ErrStopped
	}
	if r.started {
		return nil
	}

	ctx, span := r.tracer.Start(ctx, "runtime.start")
	defer span.End()
	cfg := r.cfg.Get()

	if _, err := r.health.Check(ctx); err != nil {
		r.logger.LogAttrs(ctx, slog.LevelWarn, "runtime.health.initial_check_failed",
			slog.String("error", err.Error()),
		)
	}
	r.events.Start(r.sched, cfg.Monitor.Interval)
	r.health.Start(r.sched, cfg.Health.Interval)
	r.tasks = append(r.tasks, r.sched.Every("correlation.refresh", RefreshInterval, r.tracker.Refresh))
	if r.kvDB != nil {
		r.tasks = append(r.tasks, r.sched.Every("storage.badger.gc", GCInterval, storage.BadgerGC(r.kvDB, 0.5)))
	}
	r.started = true

	span.SetAttributes(
		attribute.Bool("sentinel.storage.durable", cfg.Storage.Durable),
		attribute.Int("sentinel.rules", len(r.events.Rules())),
	)
	r.logger.LogAttrs(ctx, slog.LevelInfo, "runtime.start",
		slog.Bool("durable", cfg.Storage.Durable),
		slog.Duration("monitor_interval", cfg.Monitor.Interval),
		slog.Duration("health_interval", cfg.Health.Interval),
	)
	return nil
}

// Stop cancels the background tasks, waits for running ones and closes the
// stores. A stopped runtime cannot be started again.
func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	r.started = false
	tasks := r.tasks
	r.tasks = nil
	r.mu.Unlock()

	r.events.Stop()
	r.health.Stop()
	for _, stop := range tasks {
		stop()
	}
	if r.ownSched {
		r.sched.Stop()
	}
	err := r.closeStores()
	r.logger.LogAttrs(ctx, slog.LevelInfo, "runtime.stop")
	return err
}

func (r *Runtime) closeStores() error {
	var errs []error
	if r.sqlDB != nil {
		if err := r.sqlDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sqlite: %w", err))
		}
		r.sqlDB = nil
	}
	if r.kvDB != nil {
		if err := r.kvDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close badger: %w", err))
		}
		r.kvDB = nil
	}
	return stderrors.Join(errs...)
}

// Execute runs op through the retry and fallback engine.
func (r *Runtime) Execute(ctx context.Context, op resilience.Operation, cfg resilience.RetryConfig, ec errors.ErrorContext) resilience.Result {
	return r.engine.Execute(ctx, op, cfg, ec)
}

// ApplyConfig applies a reloaded configuration: alert rules and log level.
// Storage and capacity changes need a restart.
func (r *Runtime) ApplyConfig(cfg *config.Config) error {
	if cfg == nil {
		return stderrors.New("apply config: nil config")
	}
	rules, err := monitor.RulesFromConfig(cfg.Monitor.Rules)
	if err != nil {
		return fmt.Errorf("monitor rules: %w", err)
	}
	r.events.SetRules(rules)
	r.cfg.Update(cfg)
	telemetry.SetLogLevel(r.cfg.Log().Level)

	r.logger.Info("runtime.config.applied", slog.Int("rules", len(rules)))
	return nil
}

// Config returns the active configuration.
func (r *Runtime) Config() *config.Config {
	return r.cfg.Get()
}

func (r *Runtime) Classifier() *errors.Classifier { return r.classifier }
func (r *Runtime) Tracker() *correlation.Tracker { return r.tracker }
func (r *Runtime) Events() *monitor.Monitor { return r.events }
func (r *Runtime) Health() *health.Monitor { return r.health }
func (r *Runtime) Feedback() *feedback.Service { return r.feedback }
func (r *Runtime) Engine() *resilience.Engine { return r.engine }
func (r *Runtime) Notifier() notify.Notifier { return r.notifier }
func (r *Runtime) Scheduler() scheduler.Scheduler { return r.sched }
func (r *Runtime) Clock() scheduler.Clock { return r.clock }
