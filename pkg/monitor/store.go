// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"context"
	"sync"
	"time"
)

// DefaultCapacity bounds the event log.
const DefaultCapacity = 10000

// EventStore is the bounded, append-only event log. Appending past capacity
// drops the oldest events first.
type EventStore interface {
	Append(ctx context.Context, ev Event) error
	Since(ctx context.Context, t time.Time) ([]Event, error)
	ByCorrelation(ctx context.Context, correlationID string) ([]Event, error)
	Resolve(ctx context.Context, id string, at time.Time) (bool, error)
	Len(ctx context.Context) (int, error)
}

// MemoryEventStore is a ring-buffered EventStore indexed by correlation ID.
type MemoryEventStore struct {
	mu       sync.RWMutex
	capacity int
	events   []*Event
	byID     map[string]*Event
	byCorr   map[string][]*Event
}

// NewMemoryEventStore creates a store holding at most capacity events.
func NewMemoryEventStore(capacity int) *MemoryEventStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryEventStore{
		capacity: capacity,
		byID:     make(map[string]*Event),
		byCorr:   make(map[string][]*Event),
	}
}

func (s *MemoryEventStore) Append(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := ev.clone()
	s.events = append(s.events, &e)
	s.byID[e.ID] = &e
	if e.CorrelationID != "" {
		s.byCorr[e.CorrelationID] = append(s.byCorr[e.CorrelationID], &e)
	}

	for len(s.events) > s.capacity {
		oldest := s.events[0]
		s.events[0] = nil
		s.events = s.events[1:]
		delete(s.byID, oldest.ID)
		if oldest.CorrelationID != "" {
			rest := s.byCorr[oldest.CorrelationID][1:]
			if len(rest) == 0 {
				delete(s.byCorr, oldest.CorrelationID)
			} else {
				s.byCorr[oldest.CorrelationID] = rest
			}
		}
	}
	return nil
}

func (s *MemoryEventStore) Since(_ context.Context, t time.Time) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, 0, len(s.events))
	for _, e := range s.events {
		if !e.Timestamp.Before(t) {
			out = append(out, e.clone())
		}
	}
	return out, nil
}

func (s *MemoryEventStore) ByCorrelation(_ context.Context, correlationID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	evs := s.byCorr[correlationID]
	out := make([]Event, len(evs))
	for i, e := range evs {
		out[i] = e.clone()
	}
	return out, nil
}

func (s *MemoryEventStore) Resolve(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok {
		return false, nil
	}
	e.Resolved = true
	e.ResolutionTime = at
	return true, nil
}

func (s *MemoryEventStore) Len(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events), nil
}
