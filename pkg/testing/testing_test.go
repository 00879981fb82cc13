// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sentinelerrors "github.com/studybuddy/sentinel/pkg/errors"
	"github.com/studybuddy/sentinel/pkg/notify"
	"github.com/studybuddy/sentinel/pkg/resilience"
)

func TestScriptedOperationOrder(t *testing.T) {
	ctx := context.Background()
	op := NewScriptedOperation().
		AddFailure("ai service timeout").
		AddValue("answer")

	_, err := op.Operation()(ctx)
	require.EqualError(t, err, "ai service timeout")
	v, err := op.Operation()(ctx)
	require.NoError(t, err)
	assert.Equal(t, "answer", v)

	_, err = op.Operation()(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no more scripted steps (call 3)")
	assert.Equal(t, 3, op.Calls())
	assert.Zero(t, op.Remaining())
}

func TestScriptedOperationDefault(t *testing.T) {
	op := NewScriptedOperation().WithDefault("cached", nil)
	v, err := op.Operation()(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cached", v)
}

func TestScriptedOperationCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	op := NewScriptedOperation().AddValue("never")

	_, err := op.Operation()(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, op.Remaining())
}

func TestScriptedOperationDrivesEngine(t *testing.T) {
	op := NewScriptedOperation().
		AddFailures(2, "request timed out").
		AddValue("answer")
	engine := resilience.NewEngine(resilience.WithSleep(func(context.Context, time.Duration) error { return nil }))

	res := engine.Execute(context.Background(), op.Operation(), resilience.RetryConfig{
		MaxRetries: 3,
		Layer:      sentinelerrors.LayerInputValidation,
	}, sentinelerrors.ErrorContext{})

	require.True(t, res.Success)
	assert.True(t, res.Recovered)
	assert.Equal(t, 3, op.Calls())
}

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	r := NewRecorder()
	require.NoError(t, r.Notify(ctx, notify.Notification{Severity: notify.SeverityWarning, Title: "slow"}))
	require.NoError(t, r.Notify(ctx, notify.Notification{Severity: notify.SeverityCritical, Title: "down"}))

	assert.Equal(t, 2, r.Len())
	critical := r.BySeverity(notify.SeverityCritical)
	require.Len(t, critical, 1)
	assert.Equal(t, "down", critical[0].Title)

	boom := errors.New("channel closed")
	r.FailWith(boom)
	assert.ErrorIs(t, r.Notify(ctx, notify.Notification{Title: "lost"}), boom)
	assert.Equal(t, 3, r.Len())

	r.Reset()
	assert.Empty(t, r.Notifications())
}
