// Package store defines the persistence interface for the pool engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"

	"github.com/stakewell/pool-engine/internal/model"
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer. Serialization is exact:
// every big integer travels as a decimal string, never floating point.
type Store interface {
	// --- Accumulator ---

	// SaveAccumulator persists the global accumulator and its sum table.
	SaveAccumulator(ctx context.Context, rec *model.AccumulatorRecord) error

	// LoadAccumulator retrieves the accumulator, or (nil, nil) if the
	// pool has never been persisted.
	LoadAccumulator(ctx context.Context) (*model.AccumulatorRecord, error)

	// --- Depositor snapshots ---

	// UpsertSnapshot writes a depositor's snapshot, replacing any prior one.
	UpsertSnapshot(ctx context.Context, snap *model.Snapshot) error

	// DeleteSnapshot removes a depositor's snapshot (zero realized balance).
	DeleteSnapshot(ctx context.Context, depositorID string) error

	// GetSnapshot retrieves a snapshot, or (nil, nil) if absent.
	GetSnapshot(ctx context.Context, depositorID string) (*model.Snapshot, error)

	// ListSnapshots returns every live snapshot (used at startup recovery).
	ListSnapshots(ctx context.Context) ([]*model.Snapshot, error)

	// --- Immutable event journal ---

	// AppendEvent appends an immutable ledger event.
	AppendEvent(ctx context.Context, e *model.Event) error

	// ListEvents returns up to limit events, most recent first.
	ListEvents(ctx context.Context, limit int) ([]model.Event, error)

	// ListEventsByDepositor returns up to limit events for one depositor,
	// most recent first.
	ListEventsByDepositor(ctx context.Context, depositorID string, limit int) ([]model.Event, error)
}
