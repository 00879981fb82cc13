// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Ticker runs each task in its own goroutine driven by a time.Ticker.
type Ticker struct {
	mu      sync.Mutex
	tasks   map[int]*tickerTask
	nextID  int
	timeout time.Duration
	logger  *slog.Logger
	stopped bool
}

type tickerTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// TickerOption configures a Ticker.
type TickerOption func(*Ticker)

// WithTaskTimeout bounds each run of a task. Zero means no timeout.
func WithTaskTimeout(d time.Duration) TickerOption {
	return func(t *Ticker) {
		t.timeout = d
	}
}

// WithLogger sets the logger for task lifecycle and failures.
func WithLogger(logger *slog.Logger) TickerOption {
	return func(t *Ticker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewTicker creates a wall-clock scheduler.
func NewTicker(opts ...TickerOption) *Ticker {
	t := &Ticker{
		tasks:  make(map[int]*tickerTask),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Every implements Scheduler. A non-positive interval or a stopped scheduler
// schedules nothing.
func (t *Ticker) Every(name string, interval time.Duration, task Task) func() {
	t.mu.Lock()
	if t.stopped || interval <= 0 || task == nil {
		t.mu.Unlock()
		t.logger.Info("scheduler.task.disabled",
			slog.String("task", name),
			slog.Duration("interval", interval),
		)
		return func() {}
	}
	initTaskMetrics()
	ctx, cancel := context.WithCancel(context.Background())
	tt := &tickerTask{cancel: cancel, done: make(chan struct{})}
	id := t.nextID
	t.nextID++
	t.tasks[id] = tt
	t.mu.Unlock()

	go t.loop(ctx, name, interval, task, tt.done)

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.tasks, id)
			t.mu.Unlock()
			tt.cancel()
			<-tt.done
		})
	}
}

// Stop implements Scheduler.
func (t *Ticker) Stop() {
	t.mu.Lock()
	t.stopped = true
	tasks := t.tasks
	t.tasks = make(map[int]*tickerTask)
	t.mu.Unlock()

	for _, tt := range tasks {
		tt.cancel()
	}
	for _, tt := range tasks {
		<-tt.done
	}
}

func (t *Ticker) loop(ctx context.Context, name string, interval time.Duration, task Task, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	t.logger.Info("scheduler.task.start",
		slog.String("task", name),
		slog.Duration("interval", interval),
	)
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("scheduler.task.stop", slog.String("task", name))
			return
		case <-ticker.C:
			t.run(ctx, name, task)
		}
	}
}

func (t *Ticker) run(ctx context.Context, name string, task Task) {
	runCtx := ctx
	var cancel context.CancelFunc
	if t.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	runCtx, span := otel.Tracer("sentinel/scheduler").Start(runCtx, "scheduler.task.run",
		trace.WithAttributes(attribute.String("task", name)),
	)
	defer span.End()

	start := time.Now()
	err := safeRun(runCtx, task)
	durationMs := float64(time.Since(start).Seconds() * 1000)

	attrs := metric.WithAttributes(attribute.String("task", name))
	runCounter.Add(ctx, 1, attrs)
	runLatencyMs.Record(ctx, durationMs, attrs)
	if err != nil {
		runErrorCounter.Add(ctx, 1, attrs)
		span.RecordError(err)
		t.logger.WarnContext(runCtx, "scheduler.task.error",
			slog.String("task", name),
			slog.Float64("duration_ms", durationMs),
			slog.String("error", err.Error()),
		)
		return
	}
	t.logger.DebugContext(runCtx, "scheduler.task.complete",
		slog.String("task", name),
		slog.Float64("duration_ms", durationMs),
	)
}

// safeRun converts a panicking task into an error so one bad run does not
// kill the loop.
func safeRun(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}

var (
	taskMetricsOnce sync.Once
	runCounter      metric.Int64Counter
	runErrorCounter metric.Int64Counter
	runLatencyMs    metric.Float64Histogram
)

func initTaskMetrics() {
	taskMetricsOnce.Do(func() {
		meter := otel.Meter("sentinel/scheduler")
		runCounter, _ = meter.Int64Counter("sentinel.scheduler.run.count")
		runErrorCounter, _ = meter.Int64Counter("sentinel.scheduler.run.error.count")
		runLatencyMs, _ = meter.Float64Histogram("sentinel.scheduler.run.latency_ms")
	})
}
