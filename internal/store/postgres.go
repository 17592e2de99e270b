package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stakewell/pool-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All big integers are stored as NUMERIC and scanned back as TEXT so the
// exact integer semantics of P, S, and amounts survive persistence.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) SaveAccumulator(ctx context.Context, rec *model.AccumulatorRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO accumulator (id, p, scale, epoch, total_pooled, reward_error, loss_error)
		 VALUES (1, $1::NUMERIC, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC)
		 ON CONFLICT (id) DO UPDATE SET
		   p = EXCLUDED.p, scale = EXCLUDED.scale, epoch = EXCLUDED.epoch,
		   total_pooled = EXCLUDED.total_pooled,
		   reward_error = EXCLUDED.reward_error, loss_error = EXCLUDED.loss_error`,
		rec.P, rec.Scale, rec.Epoch, rec.TotalPooled, rec.RewardError, rec.LossError,
	)
	if err != nil {
		return fmt.Errorf("save accumulator: %w", err)
	}

	for _, e := range rec.Sums {
		_, err = tx.Exec(ctx,
			`INSERT INTO sum_table (epoch, scale, s)
			 VALUES ($1, $2, $3::NUMERIC)
			 ON CONFLICT (epoch, scale) DO UPDATE SET s = EXCLUDED.s`,
			e.Epoch, e.Scale, e.S,
		)
		if err != nil {
			return fmt.Errorf("save sum entry (%d,%d): %w", e.Epoch, e.Scale, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) LoadAccumulator(ctx context.Context) (*model.AccumulatorRecord, error) {
	var rec model.AccumulatorRecord
	err := s.pool.QueryRow(ctx,
		`SELECT p::TEXT, scale, epoch, total_pooled::TEXT, reward_error::TEXT, loss_error::TEXT
		 FROM accumulator WHERE id = 1`).
		Scan(&rec.P, &rec.Scale, &rec.Epoch, &rec.TotalPooled, &rec.RewardError, &rec.LossError)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load accumulator: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT epoch, scale, s::TEXT FROM sum_table ORDER BY epoch, scale`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var e model.SumEntry
		if err := rows.Scan(&e.Epoch, &e.Scale, &e.S); err != nil {
			return nil, err
		}
		rec.Sums = append(rec.Sums, e)
	}
	return &rec, rows.Err()
}

func (s *PostgresStore) UpsertSnapshot(ctx context.Context, snap *model.Snapshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO snapshots (depositor_id, principal, p, s, scale, epoch, updated_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5, $6, $7)
		 ON CONFLICT (depositor_id) DO UPDATE SET
		   principal = EXCLUDED.principal, p = EXCLUDED.p, s = EXCLUDED.s,
		   scale = EXCLUDED.scale, epoch = EXCLUDED.epoch, updated_at = EXCLUDED.updated_at`,
		snap.DepositorID, snap.Principal.Dec(), snap.P.Dec(), snap.S.Dec(),
		snap.Scale, snap.Epoch, snap.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) DeleteSnapshot(ctx context.Context, depositorID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM snapshots WHERE depositor_id = $1`, depositorID)
	return err
}

func (s *PostgresStore) GetSnapshot(ctx context.Context, depositorID string) (*model.Snapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT depositor_id, principal::TEXT, p::TEXT, s::TEXT, scale, epoch, updated_at
		 FROM snapshots WHERE depositor_id = $1`, depositorID)
	snap, err := scanSnapshot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return snap, err
}

func (s *PostgresStore) ListSnapshots(ctx context.Context) ([]*model.Snapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT depositor_id, principal::TEXT, p::TEXT, s::TEXT, scale, epoch, updated_at
		 FROM snapshots`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []*model.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func (s *PostgresStore) AppendEvent(ctx context.Context, e *model.Event) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pool_events (id, type, depositor_id, amount, reward, loss, total_pooled, epoch, scale, timestamp)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9, $10)`,
		e.ID, e.Type, e.DepositorID,
		numericOrZero(e.Amount), numericOrZero(e.Reward), numericOrZero(e.Loss),
		e.TotalPooled, e.Epoch, e.Scale, e.Timestamp,
	)
	return err
}

func (s *PostgresStore) ListEvents(ctx context.Context, limit int) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, type, depositor_id, amount::TEXT, reward::TEXT, loss::TEXT,
		        total_pooled::TEXT, epoch, scale, timestamp
		 FROM pool_events ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *PostgresStore) ListEventsByDepositor(ctx context.Context, depositorID string, limit int) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, type, depositor_id, amount::TEXT, reward::TEXT, loss::TEXT,
		        total_pooled::TEXT, epoch, scale, timestamp
		 FROM pool_events WHERE depositor_id = $1 ORDER BY timestamp DESC LIMIT $2`,
		depositorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

// --- scan helpers ---

func scanSnapshot(row pgx.Row) (*model.Snapshot, error) {
	var snap model.Snapshot
	var principal, p, sum string

	if err := row.Scan(&snap.DepositorID, &principal, &p, &sum,
		&snap.Scale, &snap.Epoch, &snap.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	if snap.Principal, err = uint256.FromDecimal(principal); err != nil {
		return nil, fmt.Errorf("scan snapshot principal: %w", err)
	}
	if snap.P, err = uint256.FromDecimal(p); err != nil {
		return nil, fmt.Errorf("scan snapshot p: %w", err)
	}
	if snap.S, err = uint256.FromDecimal(sum); err != nil {
		return nil, fmt.Errorf("scan snapshot s: %w", err)
	}
	return &snap, nil
}

func scanEvents(rows pgx.Rows) ([]model.Event, error) {
	var events []model.Event
	for rows.Next() {
		var e model.Event
		if err := rows.Scan(&e.ID, &e.Type, &e.DepositorID,
			&e.Amount, &e.Reward, &e.Loss,
			&e.TotalPooled, &e.Epoch, &e.Scale, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func numericOrZero(v string) string {
	if v == "" {
		return "0"
	}
	return v
}
