package store

import (
	"context"
	"sync"

	"github.com/stakewell/pool-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	accumulator *model.AccumulatorRecord
	snapshots   map[string]*model.Snapshot
	events      []model.Event
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string]*model.Snapshot),
	}
}

func (s *MemoryStore) SaveAccumulator(_ context.Context, rec *model.AccumulatorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *rec
	copy.Sums = append([]model.SumEntry(nil), rec.Sums...)
	s.accumulator = &copy
	return nil
}

func (s *MemoryStore) LoadAccumulator(_ context.Context) (*model.AccumulatorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.accumulator == nil {
		return nil, nil
	}
	copy := *s.accumulator
	copy.Sums = append([]model.SumEntry(nil), s.accumulator.Sums...)
	return &copy, nil
}

func (s *MemoryStore) UpsertSnapshot(_ context.Context, snap *model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[snap.DepositorID] = snap.Clone()
	return nil
}

func (s *MemoryStore) DeleteSnapshot(_ context.Context, depositorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.snapshots, depositorID)
	return nil
}

func (s *MemoryStore) GetSnapshot(_ context.Context, depositorID string) (*model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.snapshots[depositorID].Clone(), nil
}

func (s *MemoryStore) ListSnapshots(_ context.Context) ([]*model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps := make([]*model.Snapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		snaps = append(snaps, snap.Clone())
	}
	return snaps, nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, e *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, *e)
	return nil
}

func (s *MemoryStore) ListEvents(_ context.Context, limit int) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return lastEventsReversed(s.events, limit, ""), nil
}

func (s *MemoryStore) ListEventsByDepositor(_ context.Context, depositorID string, limit int) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return lastEventsReversed(s.events, limit, depositorID), nil
}

// lastEventsReversed returns up to limit matching events, most recent first.
func lastEventsReversed(events []model.Event, limit int, depositorID string) []model.Event {
	var result []model.Event
	for i := len(events) - 1; i >= 0 && (limit <= 0 || len(result) < limit); i-- {
		if depositorID != "" && events[i].DepositorID != depositorID {
			continue
		}
		result = append(result, events[i])
	}
	return result
}
