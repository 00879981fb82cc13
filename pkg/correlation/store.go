// SPDX-License-Identifier: Apache-2.0

package correlation

import (
	"context"
	"sort"
	"sync"
)

// Store persists correlations and their recovery attempts.
// Put assigns Seq on first insert and keeps it on updates.
// Deleting a correlation deletes its recovery attempts.
type Store interface {
	Get(ctx context.Context, id string) (*Correlation, bool, error)
	Put(ctx context.Context, c *Correlation) error
	Delete(ctx context.Context, id string) error
	Len(ctx context.Context) (int, error)
	// Oldest returns the ID of the earliest inserted correlation still stored.
	Oldest(ctx context.Context) (string, bool, error)
	List(ctx context.Context) ([]*Correlation, error)
	AddRecovery(ctx context.Context, attempt RecoveryAttempt) error
	Recoveries(ctx context.Context, id string) ([]RecoveryAttempt, error)
}

// MemoryStore keeps correlations in memory.
type MemoryStore struct {
	mu           sync.RWMutex
	correlations map[string]*Correlation
	recoveries   map[string][]RecoveryAttempt
	seq          uint64
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		correlations: make(map[string]*Correlation),
		recoveries:   make(map[string][]RecoveryAttempt),
	}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Correlation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.correlations[id]
	return c.Clone(), ok, nil
}

func (s *MemoryStore) Put(_ context.Context, c *Correlation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := c.Clone()
	if prev, ok := s.correlations[c.ID]; ok {
		stored.Seq = prev.Seq
	} else {
		s.seq++
		stored.Seq = s.seq
	}
	s.correlations[c.ID] = stored
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.correlations, id)
	delete(s.recoveries, id)
	return nil
}

func (s *MemoryStore) Len(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.correlations), nil
}

func (s *MemoryStore) Oldest(context.Context) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var oldest *Correlation
	for _, c := range s.correlations {
		if oldest == nil || c.Seq < oldest.Seq {
			oldest = c
		}
	}
	if oldest == nil {
		return "", false, nil
	}
	return oldest.ID, true, nil
}

func (s *MemoryStore) List(context.Context) ([]*Correlation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Correlation, 0, len(s.correlations))
	for _, c := range s.correlations {
		out = append(out, c.Clone())
	}
	sortBySeq(out)
	return out, nil
}

func (s *MemoryStore) AddRecovery(_ context.Context, attempt RecoveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recoveries[attempt.CorrelationID] = append(s.recoveries[attempt.CorrelationID], attempt)
	return nil
}

func (s *MemoryStore) Recoveries(_ context.Context, id string) ([]RecoveryAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]RecoveryAttempt(nil), s.recoveries[id]...), nil
}

// sortBySeq orders correlations by insertion.
func sortBySeq(cs []*Correlation) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].Seq < cs[j].Seq })
}
