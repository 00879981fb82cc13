// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/studybuddy/sentinel/pkg/errors"
	"github.com/studybuddy/sentinel/pkg/telemetry"
)

// Operation is a unit of work the engine may run several times.
type Operation func(ctx context.Context) (any, error)

// Tracker files classified failures and recoveries under correlation IDs.
type Tracker interface {
	Track(ctx context.Context, le *errors.LayerError, ec errors.ErrorContext) (string, error)
	RecordRecovery(ctx context.Context, id, strategy string, success bool, duration time.Duration) error
}

// Recorder receives error and recovery events.
type Recorder interface {
	LogError(ctx context.Context, le *errors.LayerError, extra map[string]any) string
	LogRecovery(ctx context.Context, correlationID string, success bool, strategy string, duration time.Duration, extra map[string]any) string
}

// Result is the outcome of Engine.Execute. Err is set only when Success is false.
type Result struct {
	Success       bool
	Value         any
	Err           *errors.LayerError
	Attempts      int
	TotalTime     time.Duration
	Recovered     bool
	FallbackUsed  string
	CorrelationID string
}

// Recovery strategy names reported to the tracker and recorder.
const (
	StrategyRetry    = "retry"
	StrategyFallback = "fallback"
)

// Engine runs operations with retries and fallbacks.
type Engine struct {
	classifier *errors.Classifier
	tracker    Tracker
	recorder   Recorder
	metrics    *telemetry.Metrics
	tracer     trace.Tracer
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClassifier sets the classifier used for failures.
func WithClassifier(c *errors.Classifier) EngineOption {
	return func(e *Engine) {
		if c != nil {
			e.classifier = c
		}
	}
}

// WithTracker sets the correlation tracker.
func WithTracker(t Tracker) EngineOption {
	return func(e *Engine) {
		e.tracker = t
	}
}

// WithRecorder sets the event recorder.
func WithRecorder(r Recorder) EngineOption {
	return func(e *Engine) {
		e.recorder = r
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithSleep replaces the backoff wait. The function must return ctx.Err()
// when the context ends first.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) EngineOption {
	return func(e *Engine) {
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

// WithNow overrides the time source used for TotalTime.
func WithNow(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates an Engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		classifier: errors.NewClassifier(),
		tracer:     otel.Tracer("sentinel/resilience"),
		logger:     slog.Default(),
		sleep:      sleepContext,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs op under cfg. It never returns an error: failures, including
// a context cancelled during backoff, are reported in the Result.
func (e *Engine) Execute(ctx context.Context, op Operation, cfg RetryConfig, ec errors.ErrorContext) Result {
	start := e.now()
	maxAttempts := cfg.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if ec.CorrelationID == "" {
		ec.CorrelationID = uuid.NewString()
	}

	res := Result{CorrelationID: ec.CorrelationID}
	var last *errors.LayerError
	retries := 0

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res.Attempts = attempt
		value, err := e.attempt(ctx, op, attempt, maxAttempts, ec.CorrelationID)
		if err == nil {
			res.Success = true
			res.Value = value
			res.Recovered = attempt > 1
			if res.Recovered {
				e.recovered(ctx, ec.CorrelationID, StrategyRetry, e.now().Sub(start), attempt)
			}
			return e.finish(ctx, res, start)
		}

		last = e.fail(ctx, err, cfg, ec, attempt, retries)
		if attempt == maxAttempts || !e.shouldRetry(last, cfg) {
			break
		}
		// The logged error stays untouched; the layer budget is spent on a copy.
		next := last.Clone()
		if !next.AttemptRecovery() {
			e.logger.LogAttrs(ctx, slog.LevelWarn, "resilience.retry.budget_exhausted",
				slog.String("correlation_id", ec.CorrelationID),
				slog.Int("layer", int(last.Layer)),
				slog.Int("max_recovery_attempts", last.MaxRecoveryAttempts),
			)
			break
		}
		retries = next.RecoveryAttempts

		delay := cfg.Delay(attempt - 1)
		e.logger.LogAttrs(ctx, slog.LevelDebug, "resilience.retry.backoff",
			slog.String("correlation_id", ec.CorrelationID),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
		)
		if err := e.sleep(ctx, delay); err != nil {
			e.logger.LogAttrs(ctx, slog.LevelWarn, "resilience.retry.cancelled",
				slog.String("correlation_id", ec.CorrelationID),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			res.Err = last
			return e.finish(ctx, res, start)
		}
	}

	if value, name, ok := e.fallback(ctx, cfg, last); ok {
		res.Success = true
		res.Value = value
		res.Recovered = true
		res.FallbackUsed = name
		e.recovered(ctx, ec.CorrelationID, StrategyFallback+":"+name, e.now().Sub(start), res.Attempts)
		return e.finish(ctx, res, start)
	}

	if res.Attempts > 1 || len(cfg.Fallbacks) > 0 {
		e.recordFailedRecovery(ctx, ec.CorrelationID, e.now().Sub(start))
	}
	res.Err = last
	return e.finish(ctx, res, start)
}

func (e *Engine) attempt(ctx context.Context, op Operation, attempt, maxAttempts int, correlationID string) (any, error) {
	ctx, span := e.tracer.Start(ctx, "resilience.attempt",
		trace.WithAttributes(telemetry.RetryAttemptAttributes(correlationID, attempt, maxAttempts)...))
	defer span.End()

	value, err := op(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return value, nil
}

// fail classifies err and reports it to the tracker, recorder and metrics.
// retries is the number of recovery attempts spent before this failure. The
// returned error is a copy, so errors supplied by op are never modified.
func (e *Engine) fail(ctx context.Context, err error, cfg RetryConfig, ec errors.ErrorContext, attempt, retries int) *errors.LayerError {
	le := e.classifier.FromError(ctx, cfg.Layer, err, ec).Clone()
	if retries > le.RecoveryAttempts {
		le.RecoveryAttempts = min(retries, le.MaxRecoveryAttempts)
	}
	le.WithContext("attempt", attempt)

	if e.tracker != nil {
		if _, terr := e.tracker.Track(ctx, le, ec); terr != nil {
			e.logger.LogAttrs(ctx, slog.LevelWarn, "resilience.track.failed",
				slog.String("correlation_id", le.CorrelationID),
				slog.String("error", terr.Error()),
			)
		}
	}
	if e.recorder != nil {
		e.recorder.LogError(ctx, le, map[string]any{"attempt": attempt})
	}
	e.metrics.RecordError(ctx, le)
	return le
}

func (e *Engine) shouldRetry(le *errors.LayerError, cfg RetryConfig) bool {
	if !le.Recoverable {
		return false
	}
	if cfg.RetryCondition != nil && !cfg.RetryCondition(le) {
		return false
	}
	return true
}

// fallback runs the first accepting fallback, by priority, that succeeds.
func (e *Engine) fallback(ctx context.Context, cfg RetryConfig, le *errors.LayerError) (any, string, bool) {
	if le == nil {
		return nil, "", false
	}
	for _, fb := range byPriority(cfg.Fallbacks) {
		if !fb.Handles(le) {
			continue
		}
		_, span := e.tracer.Start(ctx, "resilience.fallback", trace.WithAttributes(
			attribute.String(telemetry.AttrRecoveryStrategy, string(fb.Kind)),
			attribute.String(telemetry.AttrCorrelationID, le.CorrelationID),
		))
		value, err := fb.Execute(ctx, le)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			e.logger.LogAttrs(ctx, slog.LevelWarn, "resilience.fallback.failed",
				slog.String("correlation_id", le.CorrelationID),
				slog.String("fallback", fb.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		span.End()
		return value, fb.Name, true
	}
	return nil, "", false
}

func (e *Engine) recovered(ctx context.Context, correlationID, strategy string, elapsed time.Duration, attempts int) {
	e.logger.LogAttrs(ctx, slog.LevelInfo, "resilience.recovered",
		slog.String("correlation_id", correlationID),
		slog.String("strategy", strategy),
		slog.Int("attempts", attempts),
		slog.Duration("elapsed", elapsed),
	)
	e.reportRecovery(ctx, correlationID, strategy, true, elapsed)
}

func (e *Engine) recordFailedRecovery(ctx context.Context, correlationID string, elapsed time.Duration) {
	e.reportRecovery(ctx, correlationID, StrategyRetry, false, elapsed)
}

func (e *Engine) reportRecovery(ctx context.Context, correlationID, strategy string, success bool, elapsed time.Duration) {
	if e.tracker != nil {
		if err := e.tracker.RecordRecovery(ctx, correlationID, strategy, success, elapsed); err != nil {
			e.logger.LogAttrs(ctx, slog.LevelDebug, "resilience.recovery.untracked",
				slog.String("correlation_id", correlationID),
				slog.String("error", err.Error()),
			)
		}
	}
	if e.recorder != nil {
		e.recorder.LogRecovery(ctx, correlationID, success, strategy, elapsed, nil)
	}
	e.metrics.RecordRecovery(ctx, strategy, success)
}

func (e *Engine) finish(ctx context.Context, res Result, start time.Time) Result {
	res.TotalTime = e.now().Sub(start)
	e.metrics.RecordRetry(ctx, res.Attempts, res.TotalTime, res.Success)
	return res
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
