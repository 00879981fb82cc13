// SPDX-License-Identifier: Apache-2.0

package correlation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studybuddy/sentinel/pkg/errors"
	"github.com/studybuddy/sentinel/pkg/scheduler"
	"github.com/studybuddy/sentinel/pkg/storage"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func layerErr(layer errors.Layer, impact errors.Impact, at time.Time) *errors.LayerError {
	return &errors.LayerError{
		ID:        fmt.Sprintf("err-%d-%s-%d", layer, impact, at.UnixNano()),
		Layer:     layer,
		LayerName: layer.String(),
		Message:   "failure",
		Impact:    impact,
		Timestamp: at,
	}
}

func storesUnderTest(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"memory": func() Store { return NewMemoryStore() },
		"badger": func() Store {
			db, err := storage.OpenBadgerInMemory()
			require.NoError(t, err)
			t.Cleanup(func() { db.Close() })
			s, err := NewBadgerStore(db)
			require.NoError(t, err)
			return s
		},
	}
}

func TestTrackCascadeAcrossLayers(t *testing.T) {
	for name, newStore := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			clock := scheduler.NewManual(epoch)
			tr := NewTracker(WithStore(newStore()), WithClock(clock))
			ctx := context.Background()

			first := layerErr(errors.LayerInputValidation, errors.ImpactHigh, epoch)
			first.CorrelationID = "corr-1"
			id, err := tr.Track(ctx, first, errors.ErrorContext{UserID: "u-1"})
			require.NoError(t, err)
			assert.Equal(t, "corr-1", id)

			second := layerErr(errors.LayerResponseValidation, errors.ImpactCritical, epoch)
			second.CorrelationID = "corr-1"
			_, err = tr.Track(ctx, second, errors.ErrorContext{})
			require.NoError(t, err)

			c, err := tr.Get(ctx, "corr-1")
			require.NoError(t, err)
			assert.Equal(t, []errors.Layer{1, 3}, c.LayersInvolved)
			assert.Equal(t, StateFailed, c.SystemState)
			assert.Equal(t, ResolveEscalate, c.ResolutionStrategy)
			assert.Equal(t, "u-1", c.UserID)
			require.Len(t, c.CascadeErrors, 1)
			assert.True(t, c.Cascading())

			cascading, err := tr.Cascading(ctx)
			require.NoError(t, err)
			assert.Len(t, cascading, 1)
		})
	}
}

func TestTrackAssignsCorrelationID(t *testing.T) {
	tr := NewTracker()
	le := layerErr(errors.LayerContextMemory, errors.ImpactLow, time.Now())
	id, err := tr.Track(context.Background(), le, errors.ErrorContext{})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, le.CorrelationID)

	le2 := layerErr(errors.LayerContextMemory, errors.ImpactLow, time.Now())
	id2, err := tr.Track(context.Background(), le2, errors.ErrorContext{CorrelationID: "from-context"})
	require.NoError(t, err)
	assert.Equal(t, "from-context", id2)
}

func TestDeriveState(t *testing.T) {
	now := epoch
	tests := []struct {
		name string
		errs []*errors.LayerError
		want SystemState
	}{
		{"critical", []*errors.LayerError{layerErr(1, errors.ImpactLow, now), layerErr(2, errors.ImpactCritical, now)}, StateFailed},
		{"high", []*errors.LayerError{layerErr(1, errors.ImpactHigh, now), layerErr(2, errors.ImpactMedium, now)}, StateDegraded},
		{"old low", []*errors.LayerError{layerErr(1, errors.ImpactLow, now.Add(-10 * time.Minute))}, StateHealthy},
		{"recent low", []*errors.LayerError{layerErr(1, errors.ImpactLow, now.Add(-time.Minute))}, StateUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveState(tt.errs, now))
		})
	}
	assert.Equal(t, ResolveFallback, StrategyFor(StateDegraded))
	assert.Equal(t, ResolveRetry, StrategyFor(StateUnknown))
	assert.Equal(t, ResolveMonitor, StrategyFor(StateHealthy))
}

func TestEvictionDropsOldestWithRecoveries(t *testing.T) {
	for name, newStore := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			clock := scheduler.NewManual(epoch)
			tr := NewTracker(WithStore(newStore()), WithClock(clock), WithCapacity(3))
			ctx := context.Background()

			for i := 0; i < 5; i++ {
				le := layerErr(errors.LayerInputValidation, errors.ImpactLow, clock.Now())
				le.CorrelationID = fmt.Sprintf("c%d", i)
				_, err := tr.Track(ctx, le, errors.ErrorContext{})
				require.NoError(t, err)
				require.NoError(t, tr.RecordRecovery(ctx, le.CorrelationID, "retry", true, time.Millisecond))
				clock.Advance(time.Second)
			}

			n, err := tr.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			_, err = tr.Get(ctx, "c0")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = tr.Get(ctx, "c1")
			assert.ErrorIs(t, err, ErrNotFound)

			rec, err := tr.Recoveries(ctx, "c0")
			require.NoError(t, err)
			assert.Empty(t, rec)

			rec, err = tr.Recoveries(ctx, "c4")
			require.NoError(t, err)
			require.Len(t, rec, 1)
			assert.Equal(t, "retry", rec[0].Strategy)

			all, err := tr.List(ctx)
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "c2", all[0].ID)
		})
	}
}

func TestEvictionKeepsInsertionOrderOnEqualTimestamps(t *testing.T) {
	for name, newStore := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			clock := scheduler.NewManual(epoch)
			tr := NewTracker(WithStore(newStore()), WithClock(clock), WithCapacity(2))
			ctx := context.Background()

			// IDs sort opposite to insertion order and the clock never moves.
			for _, id := range []string{"z", "m", "a"} {
				le := layerErr(errors.LayerContextMemory, errors.ImpactMedium, clock.Now())
				le.CorrelationID = id
				got, err := tr.Track(ctx, le, errors.ErrorContext{})
				require.NoError(t, err)
				require.Equal(t, id, got)

				_, err = tr.Get(ctx, id)
				require.NoError(t, err, "just tracked %s", id)
				require.NoError(t, tr.RecordRecovery(ctx, id, "retry", true, time.Millisecond))
			}

			_, err := tr.Get(ctx, "z")
			assert.ErrorIs(t, err, ErrNotFound)

			all, err := tr.List(ctx)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, "m", all[0].ID)
			assert.Equal(t, "a", all[1].ID)
			assert.Less(t, all[0].Seq, all[1].Seq)

			n, err := tr.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, n)
		})
	}
}

func TestStoreKeepsSeqOnUpdate(t *testing.T) {
	for name, newStore := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			ctx := context.Background()

			require.NoError(t, s.Put(ctx, &Correlation{ID: "first", Timestamp: epoch}))
			require.NoError(t, s.Put(ctx, &Correlation{ID: "second", Timestamp: epoch}))
			// An update without Seq keeps the stored position.
			require.NoError(t, s.Put(ctx, &Correlation{ID: "first", Timestamp: epoch, SystemState: StateFailed}))

			oldest, ok, err := s.Oldest(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "first", oldest)

			n, err := s.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			require.NoError(t, s.Delete(ctx, "first"))
			oldest, ok, err = s.Oldest(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "second", oldest)

			require.NoError(t, s.Delete(ctx, "missing"))
			n, err = s.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}

func TestRecordRecoveryUnknown(t *testing.T) {
	tr := NewTracker()
	err := tr.RecordRecovery(context.Background(), "missing", "retry", false, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRefreshSettlesQuietCorrelations(t *testing.T) {
	clock := scheduler.NewManual(epoch)
	tr := NewTracker(WithClock(clock))
	ctx := context.Background()

	le := layerErr(errors.LayerFeedbackLearning, errors.ImpactLow, epoch)
	le.CorrelationID = "quiet"
	_, err := tr.Track(ctx, le, errors.ErrorContext{})
	require.NoError(t, err)

	c, _ := tr.Get(ctx, "quiet")
	assert.Equal(t, StateUnknown, c.SystemState)

	clock.Advance(6 * time.Minute)
	require.NoError(t, tr.Refresh(ctx))
	c, _ = tr.Get(ctx, "quiet")
	assert.Equal(t, StateHealthy, c.SystemState)
	assert.Equal(t, ResolveMonitor, c.ResolutionStrategy)
}

func TestGetReturnsCopy(t *testing.T) {
	tr := NewTracker()
	le := layerErr(errors.LayerInputValidation, errors.ImpactLow, time.Now())
	le.CorrelationID = "copy"
	_, err := tr.Track(context.Background(), le, errors.ErrorContext{})
	require.NoError(t, err)

	c, err := tr.Get(context.Background(), "copy")
	require.NoError(t, err)
	c.LayersInvolved = append(c.LayersInvolved, errors.LayerQualityAssurance)

	again, err := tr.Get(context.Background(), "copy")
	require.NoError(t, err)
	assert.Equal(t, []errors.Layer{errors.LayerInputValidation}, again.LayersInvolved)
}
