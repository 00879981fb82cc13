// SPDX-License-Identifier: Apache-2.0

package feedback

import (
	"context"
	"sync"
)

// DefaultCapacity bounds the feedback store.
const DefaultCapacity = 5000

// Store holds feedback records in insertion order. Putting a new record past
// capacity drops the oldest records first; putting an existing ID replaces it
// in place.
type Store interface {
	Put(ctx context.Context, f *Feedback) error
	Get(ctx context.Context, id string) (*Feedback, error)
	List(ctx context.Context) ([]*Feedback, error)
	Len(ctx context.Context) (int, error)
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu       sync.RWMutex
	capacity int
	order    []string
	items    map[string]*Feedback
}

// NewMemoryStore creates a store holding at most capacity records.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryStore{
		capacity: capacity,
		items:    make(map[string]*Feedback),
	}
}

func (s *MemoryStore) Put(_ context.Context, f *Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[f.ID]; ok {
		s.items[f.ID] = f.Clone()
		return nil
	}
	s.items[f.ID] = f.Clone()
	s.order = append(s.order, f.ID)
	for len(s.order) > s.capacity {
		delete(s.items, s.order[0])
		s.order = s.order[1:]
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Feedback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.items[id]
	if !ok {
		return nil, ErrFeedbackNotFound
	}
	return f.Clone(), nil
}

func (s *MemoryStore) List(context.Context) ([]*Feedback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Feedback, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id].Clone())
	}
	return out, nil
}

func (s *MemoryStore) Len(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order), nil
}
