package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/redis/go-redis/v9"

	"github.com/stakewell/pool-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for snapshots and the accumulator record. Writes go to the primary
// store and invalidate the cache; journal reads pass through.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// snapshotDTO is the cache form of a snapshot: big integers as decimal
// strings so the cache never rounds.
type snapshotDTO struct {
	DepositorID string    `json:"depositor_id"`
	Principal   string    `json:"principal"`
	P           string    `json:"p"`
	S           string    `json:"s"`
	Scale       uint64    `json:"scale"`
	Epoch       uint64    `json:"epoch"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toDTO(snap *model.Snapshot) snapshotDTO {
	return snapshotDTO{
		DepositorID: snap.DepositorID,
		Principal:   snap.Principal.Dec(),
		P:           snap.P.Dec(),
		S:           snap.S.Dec(),
		Scale:       snap.Scale,
		Epoch:       snap.Epoch,
		UpdatedAt:   snap.UpdatedAt,
	}
}

func fromDTO(dto snapshotDTO) (*model.Snapshot, error) {
	principal, err := uint256.FromDecimal(dto.Principal)
	if err != nil {
		return nil, err
	}
	p, err := uint256.FromDecimal(dto.P)
	if err != nil {
		return nil, err
	}
	sum, err := uint256.FromDecimal(dto.S)
	if err != nil {
		return nil, err
	}
	return &model.Snapshot{
		DepositorID: dto.DepositorID,
		Principal:   principal,
		P:           p,
		S:           sum,
		Scale:       dto.Scale,
		Epoch:       dto.Epoch,
		UpdatedAt:   dto.UpdatedAt,
	}, nil
}

// --- Write-through (write to primary, refresh/invalidate cache) ---

func (s *CachedStore) SaveAccumulator(ctx context.Context, rec *model.AccumulatorRecord) error {
	if err := s.primary.SaveAccumulator(ctx, rec); err != nil {
		return err
	}
	if data, err := json.Marshal(rec); err == nil {
		s.rdb.Set(ctx, accumulatorKey(), data, s.ttl)
	}
	return nil
}

func (s *CachedStore) UpsertSnapshot(ctx context.Context, snap *model.Snapshot) error {
	if err := s.primary.UpsertSnapshot(ctx, snap); err != nil {
		return err
	}
	if data, err := json.Marshal(toDTO(snap)); err == nil {
		s.rdb.Set(ctx, snapshotKey(snap.DepositorID), data, s.ttl)
	}
	return nil
}

func (s *CachedStore) DeleteSnapshot(ctx context.Context, depositorID string) error {
	if err := s.primary.DeleteSnapshot(ctx, depositorID); err != nil {
		return err
	}
	s.rdb.Del(ctx, snapshotKey(depositorID))
	return nil
}

func (s *CachedStore) AppendEvent(ctx context.Context, e *model.Event) error {
	return s.primary.AppendEvent(ctx, e)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) LoadAccumulator(ctx context.Context) (*model.AccumulatorRecord, error) {
	data, err := s.rdb.Get(ctx, accumulatorKey()).Bytes()
	if err == nil {
		var rec model.AccumulatorRecord
		if json.Unmarshal(data, &rec) == nil {
			return &rec, nil
		}
	}

	rec, err := s.primary.LoadAccumulator(ctx)
	if err != nil || rec == nil {
		return rec, err
	}
	if data, err := json.Marshal(rec); err == nil {
		s.rdb.Set(ctx, accumulatorKey(), data, s.ttl)
	}
	return rec, nil
}

func (s *CachedStore) GetSnapshot(ctx context.Context, depositorID string) (*model.Snapshot, error) {
	data, err := s.rdb.Get(ctx, snapshotKey(depositorID)).Bytes()
	if err == nil {
		var dto snapshotDTO
		if json.Unmarshal(data, &dto) == nil {
			if snap, err := fromDTO(dto); err == nil {
				return snap, nil
			}
		}
	}

	snap, err := s.primary.GetSnapshot(ctx, depositorID)
	if err != nil || snap == nil {
		return snap, err
	}
	if data, err := json.Marshal(toDTO(snap)); err == nil {
		s.rdb.Set(ctx, snapshotKey(depositorID), data, s.ttl)
	}
	return snap, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListSnapshots(ctx context.Context) ([]*model.Snapshot, error) {
	return s.primary.ListSnapshots(ctx)
}

func (s *CachedStore) ListEvents(ctx context.Context, limit int) ([]model.Event, error) {
	return s.primary.ListEvents(ctx, limit)
}

func (s *CachedStore) ListEventsByDepositor(ctx context.Context, depositorID string, limit int) ([]model.Event, error) {
	return s.primary.ListEventsByDepositor(ctx, depositorID, limit)
}

// --- Cache keys ---

func accumulatorKey() string           { return "pool:accumulator" }
func snapshotKey(depositor string) string { return fmt.Sprintf("pool:snapshot:%s", depositor) }
