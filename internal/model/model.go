// Package model defines the core domain types shared across the pool engine.
// All monetary values use holiman/uint256 — never float64 for money.
package model

import (
	"time"

	"github.com/holiman/uint256"
)

// Snapshot is a depositor's record of the global accumulator at the moment
// of their last deposit or withdrawal. Presence of a snapshot is the
// "active" state; a depositor with no snapshot has no deposit and a zero
// balance. Snapshots are overwritten wholesale on every mutation — there is
// no partial update.
type Snapshot struct {
	DepositorID string        `json:"depositor_id"`
	Principal   *uint256.Int  `json:"-"` // nominal deposit as last realized
	P           *uint256.Int  `json:"-"` // product at snapshot time
	S           *uint256.Int  `json:"-"` // sum at snapshot (epoch, scale)
	Scale       uint64        `json:"scale"`
	Epoch       uint64        `json:"epoch"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Clone returns a deep copy; uint256 values are mutable, so snapshots
// handed across package boundaries are always copied.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	c := *s
	c.Principal = new(uint256.Int).Set(s.Principal)
	c.P = new(uint256.Int).Set(s.P)
	c.S = new(uint256.Int).Set(s.S)
	return &c
}

// SumEntry is one frozen-or-current cell of the (epoch, scale) → S table.
// S values are stored as decimal strings to keep persistence exact.
type SumEntry struct {
	Epoch uint64 `json:"epoch"`
	Scale uint64 `json:"scale"`
	S     string `json:"s"`
}

// AccumulatorRecord is the persistence form of the global accumulator.
// All big integers are decimal strings; serialization must never round.
type AccumulatorRecord struct {
	P           string     `json:"p"`
	Scale       uint64     `json:"scale"`
	Epoch       uint64     `json:"epoch"`
	TotalPooled string     `json:"total_pooled"`
	RewardError string     `json:"reward_error"`
	LossError   string     `json:"loss_error"`
	Sums        []SumEntry `json:"sums"`
}

// Event types journaled by the ledger and broadcast to observers.
const (
	EventDeposit       = "deposit_made"
	EventWithdrawal    = "withdrawal_made"
	EventLiquidation   = "liquidation_applied"
	EventEpochAdvanced = "epoch_advanced"
	EventScaleAdvanced = "scale_advanced"
	EventRewardPaid    = "reward_paid"
)

// Event is an immutable record of a ledger state change. Once journaled,
// events are never modified or deleted.
type Event struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	DepositorID string    `json:"depositor_id,omitempty"`
	Amount      string    `json:"amount,omitempty"` // op-dependent: deposit, payout, or debt offset
	Reward      string    `json:"reward,omitempty"`
	Loss        string    `json:"loss,omitempty"` // principal eroded since last realization
	TotalPooled string    `json:"total_pooled"`
	Epoch       uint64    `json:"epoch"`
	Scale       uint64    `json:"scale"`
	Timestamp   time.Time `json:"timestamp"`
}
