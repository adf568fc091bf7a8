package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aescanero/triage/pkg/domain"
)

// InMemoryRunStore implements RunStore using an in-memory map.
// Runs are lost on restart and dropped once past retention.
type InMemoryRunStore struct {
	ttl time.Duration
	now func() time.Time

	runs map[string]archived
	mu   sync.RWMutex
}

type archived struct {
	snap      *domain.Snapshot
	expiresAt time.Time
}

func (a archived) expired(now time.Time) bool {
	return !a.expiresAt.IsZero() && !now.Before(a.expiresAt)
}

// Option configures an InMemoryRunStore.
type Option func(*InMemoryRunStore)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *InMemoryRunStore) {
		s.now = now
	}
}

// NewInMemoryRunStore creates a run store keeping each run for ttl after it
// finished. A non-positive ttl keeps runs forever.
func NewInMemoryRunStore(ttl time.Duration, opts ...Option) *InMemoryRunStore {
	s := &InMemoryRunStore{
		ttl:  ttl,
		now:  time.Now,
		runs: make(map[string]archived),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save archives a snapshot, replacing any earlier one for the same run.
// Expired runs are swept on every save.
func (s *InMemoryRunStore) Save(ctx context.Context, snap *domain.Snapshot) error {
	if snap == nil || snap.ID == "" {
		return fmt.Errorf("snapshot has no run id")
	}

	now := s.now()
	entry := archived{snap: copySnapshot(snap)}
	if s.ttl > 0 {
		entry.expiresAt = snap.RetainedFrom(now).Add(s.ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweep(now)
	if entry.expired(now) {
		delete(s.runs, snap.ID)
		return nil
	}
	s.runs[snap.ID] = entry
	return nil
}

// sweep drops expired runs. Callers hold mu.
func (s *InMemoryRunStore) sweep(now time.Time) {
	if s.ttl <= 0 {
		return
	}
	for id, a := range s.runs {
		if a.expired(now) {
			delete(s.runs, id)
		}
	}
}

// Get retrieves the snapshot of a run
func (s *InMemoryRunStore) Get(ctx context.Context, runID string) (*domain.Snapshot, error) {
	now := s.now()

	s.mu.RLock()
	a, ok := s.runs[runID]
	s.mu.RUnlock()

	if !ok || a.expired(now) {
		if ok {
			s.mu.Lock()
			delete(s.runs, runID)
			s.mu.Unlock()
		}
		return nil, fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
	}
	return copySnapshot(a.snap), nil
}

// Delete removes a run
func (s *InMemoryRunStore) Delete(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.runs, runID)
	return nil
}

// List returns up to limit live runs, most recently started first
func (s *InMemoryRunStore) List(ctx context.Context, limit int) ([]*domain.Snapshot, error) {
	now := s.now()

	s.mu.Lock()
	s.sweep(now)
	snaps := make([]*domain.Snapshot, 0, len(s.runs))
	for _, a := range s.runs {
		snaps = append(snaps, copySnapshot(a.snap))
	}
	s.mu.Unlock()

	sortNewestFirst(snaps)
	if limit > 0 && len(snaps) > limit {
		snaps = snaps[:limit]
	}
	return snaps, nil
}

func copySnapshot(snap *domain.Snapshot) *domain.Snapshot {
	copied := *snap
	return &copied
}

func sortNewestFirst(snaps []*domain.Snapshot) {
	sort.SliceStable(snaps, func(i, j int) bool {
		a, b := snaps[i].StartedAt, snaps[j].StartedAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return a.After(*b)
	})
}
