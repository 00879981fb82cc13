// SPDX-License-Identifier: Apache-2.0

package correlation

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/studybuddy/sentinel/pkg/errors"
	"github.com/studybuddy/sentinel/pkg/scheduler"
)

// DefaultCapacity bounds the number of tracked correlations.
const DefaultCapacity = 1000

// ErrNotFound is returned for an unknown correlation ID.
var ErrNotFound = stderrors.New("correlation not found")

// Tracker files layer errors under correlation IDs. Eviction of the oldest
// correlations runs under the same lock right after each insert.
type Tracker struct {
	mu       sync.Mutex
	store    Store
	capacity int
	clock    scheduler.Clock
	logger   *slog.Logger
	newID    func() string
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithStore sets the backing store. The default is a MemoryStore.
func WithStore(store Store) Option {
	return func(t *Tracker) {
		if store != nil {
			t.store = store
		}
	}
}

// WithCapacity sets the maximum number of correlations kept.
func WithCapacity(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.capacity = n
		}
	}
}

// WithClock sets the time source.
func WithClock(clock scheduler.Clock) Option {
	return func(t *Tracker) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewTracker creates a Tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		store:    NewMemoryStore(),
		capacity: DefaultCapacity,
		clock:    scheduler.SystemClock,
		logger:   slog.Default(),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Track files le under its correlation ID and returns the ID. An error
// without one gets ec.CorrelationID, or a fresh ID, assigned in place.
func (t *Tracker) Track(ctx context.Context, le *errors.LayerError, ec errors.ErrorContext) (string, error) {
	if le == nil {
		return "", stderrors.New("track correlation: nil error")
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	id := le.CorrelationID
	if id == "" {
		id = ec.CorrelationID
	}
	if id == "" {
		id = t.newID()
	}
	le.CorrelationID = id
	now := t.clock.Now()

	c, ok, err := t.store.Get(ctx, id)
	if err != nil {
		return id, err
	}
	if ok {
		c.CascadeErrors = append(c.CascadeErrors, le.Clone())
		c.UpdatedAt = now
	} else {
		c = &Correlation{
			ID:             id,
			Timestamp:      now,
			UpdatedAt:      now,
			UserID:         firstNonEmpty(ec.UserID, le.ContextString(errors.ContextUserID)),
			SessionID:      firstNonEmpty(ec.SessionID, le.ContextString(errors.ContextSessionID)),
			ConversationID: firstNonEmpty(ec.ConversationID, le.ContextString(errors.ContextConversationID)),
			PrimaryError:   le.Clone(),
		}
	}
	c.refresh(now)

	if err := t.store.Put(ctx, c); err != nil {
		return id, err
	}

	t.logger.LogAttrs(ctx, slog.LevelDebug, "correlation.tracked",
		slog.String("correlation_id", id),
		slog.Bool("cascade", ok),
		slog.Int("layers", len(c.LayersInvolved)),
		slog.String("system_state", string(c.SystemState)),
	)

	if err := t.evict(ctx); err != nil {
		return id, err
	}
	return id, nil
}

// evict deletes the oldest correlations until the store is within capacity.
// Caller holds t.mu.
func (t *Tracker) evict(ctx context.Context) error {
	for {
		n, err := t.store.Len(ctx)
		if err != nil {
			return err
		}
		if n <= t.capacity {
			return nil
		}
		id, ok, err := t.store.Oldest(ctx)
		if err != nil || !ok {
			return err
		}
		if err := t.store.Delete(ctx, id); err != nil {
			return err
		}
		t.logger.LogAttrs(ctx, slog.LevelDebug, "correlation.evicted", slog.String("correlation_id", id))
	}
}

// RecordRecovery stores a recovery attempt for an existing correlation.
func (t *Tracker) RecordRecovery(ctx context.Context, id, strategy string, success bool, duration time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok, err := t.store.Get(ctx, id); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t.store.AddRecovery(ctx, RecoveryAttempt{
		CorrelationID: id,
		Strategy:      strategy,
		Success:       success,
		Duration:      duration,
		Timestamp:     t.clock.Now(),
	})
}

// Get returns a copy of the correlation.
func (t *Tracker) Get(ctx context.Context, id string) (*Correlation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok, err := t.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c, nil
}

// Recoveries returns the recovery attempts recorded for id.
func (t *Tracker) Recoveries(ctx context.Context, id string) ([]RecoveryAttempt, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.store.Recoveries(ctx, id)
}

// List returns all correlations, oldest first.
func (t *Tracker) List(ctx context.Context) ([]*Correlation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.store.List(ctx)
}

// Cascading returns the correlations that span two or more layers.
func (t *Tracker) Cascading(ctx context.Context) ([]*Correlation, error) {
	all, err := t.List(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, c := range all {
		if c.Cascading() {
			out = append(out, c)
		}
	}
	return out, nil
}

// Len returns the number of tracked correlations.
func (t *Tracker) Len(ctx context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.store.Len(ctx)
}

// Refresh recomputes the system state of every correlation so quiet groups
// settle to healthy. It is meant to run as a scheduler task.
func (t *Tracker) Refresh(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	all, err := t.store.List(ctx)
	if err != nil {
		return err
	}
	now := t.clock.Now()
	for _, c := range all {
		before := c.SystemState
		c.refresh(now)
		if c.SystemState == before {
			continue
		}
		if err := t.store.Put(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
