// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Manual is a scheduler driven by virtual time. Tasks run synchronously
// inside Advance, in due order. It also serves as the Clock for components
// under test so their notion of "now" moves with the scheduler.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	tasks  map[int]*manualTask
	nextID int
	errs   []error
}

type manualTask struct {
	id       int
	name     string
	interval time.Duration
	next     time.Time
	task     Task
}

// NewManual creates a manual scheduler starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start, tasks: make(map[int]*manualTask)}
}

// Now implements Clock.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Every implements Scheduler.
func (m *Manual) Every(name string, interval time.Duration, task Task) func() {
	if interval <= 0 || task == nil {
		return func() {}
	}
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.tasks[id] = &manualTask{id: id, name: name, interval: interval, next: m.now.Add(interval), task: task}
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.tasks, id)
		m.mu.Unlock()
	}
}

// Stop implements Scheduler.
func (m *Manual) Stop() {
	m.mu.Lock()
	m.tasks = make(map[int]*manualTask)
	m.mu.Unlock()
}

// Pending returns the names of scheduled tasks, sorted.
func (m *Manual) Pending() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.tasks))
	for _, t := range m.tasks {
		names = append(names, t.name)
	}
	sort.Strings(names)
	return names
}

// Errors returns the errors returned by task runs so far.
func (m *Manual) Errors() []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]error(nil), m.errs...)
}

// Advance moves virtual time forward by d, running every task that comes due
// at its due time. It returns the number of runs.
func (m *Manual) Advance(d time.Duration) int {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	runs := 0
	for {
		m.mu.Lock()
		due := m.nextDue(target)
		if due == nil {
			m.now = target
			m.mu.Unlock()
			return runs
		}
		m.now = due.next
		due.next = due.next.Add(due.interval)
		task := due.task
		m.mu.Unlock()

		if err := task(context.Background()); err != nil {
			m.mu.Lock()
			m.errs = append(m.errs, err)
			m.mu.Unlock()
		}
		runs++
	}
}

// nextDue returns the earliest task due at or before target, ties broken by
// registration order. Caller holds m.mu.
func (m *Manual) nextDue(target time.Time) *manualTask {
	var best *manualTask
	for _, t := range m.tasks {
		if t.next.After(target) {
			continue
		}
		if best == nil || t.next.Before(best.next) || (t.next.Equal(best.next) && t.id < best.id) {
			best = t
		}
	}
	return best
}
