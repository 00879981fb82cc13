// SPDX-License-Identifier: Apache-2.0
// Package scheduler runs named periodic tasks. Ticker runs them on wall-clock
// time; Manual runs them when virtual time is advanced, for deterministic tests.
package scheduler

import (
	"context"
	"time"
)

// Task is one run of a periodic job. The context is cancelled when the task
// is stopped.
type Task func(ctx context.Context) error

// Scheduler runs tasks at a fixed interval until they are stopped.
type Scheduler interface {
	// Every schedules task to run each interval. The returned func stops it
	// and waits for an in-flight run to finish.
	Every(name string, interval time.Duration, task Task) (stop func())

	// Stop stops every scheduled task.
	Stop()
}

// Clock is a source of the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

var (
	_ Scheduler = (*Ticker)(nil)
	_ Scheduler = (*Manual)(nil)
	_ Clock     = (*Manual)(nil)
)
