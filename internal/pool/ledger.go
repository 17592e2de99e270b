// Package pool provides the ledger and HTTP handlers for the proportional
// distribution pool: deposits, withdrawals, liquidations, and lazy
// realization of compounded balances and accrued rewards.
//
// All monetary values use holiman/uint256 — never float64 for money.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog/log"

	"github.com/stakewell/pool-engine/internal/accumulator"
	"github.com/stakewell/pool-engine/internal/custody"
	"github.com/stakewell/pool-engine/internal/model"
)

var (
	// ErrInvalidAmount is returned for zero or missing amounts.
	ErrInvalidAmount = errors.New("pool: amount must be positive")

	// ErrNoDeposit is returned when a depositor has no live snapshot.
	ErrNoDeposit = errors.New("pool: depositor has no deposit")

	// ErrTransferFailed wraps custody errors; the ledger state is
	// unchanged when it is returned.
	ErrTransferFailed = errors.New("pool: asset transfer failed")
)

// Ledger owns the accumulator state and the live snapshot set. A single
// RWMutex serializes mutations (single-instance); reads run concurrently.
// For horizontal scaling, replace with distributed locking or
// database-level optimistic concurrency.
type Ledger struct {
	mu        sync.RWMutex
	state     *accumulator.State
	snapshots map[string]*model.Snapshot

	vault        custody.Custody
	lossSink     string
	rewardSource string
}

// NewLedger creates an empty ledger. Liquidated pooled value is paid to
// lossSink; injected rewards are drawn from rewardSource.
func NewLedger(vault custody.Custody, lossSink, rewardSource string) *Ledger {
	return &Ledger{
		state:        accumulator.NewState(),
		snapshots:    make(map[string]*model.Snapshot),
		vault:        vault,
		lossSink:     lossSink,
		rewardSource: rewardSource,
	}
}

// RestoreLedger rebuilds a ledger from persisted state at startup.
func RestoreLedger(rec *model.AccumulatorRecord, snaps []*model.Snapshot, vault custody.Custody, lossSink, rewardSource string) (*Ledger, error) {
	state, err := accumulator.Restore(rec)
	if err != nil {
		return nil, err
	}
	l := NewLedger(vault, lossSink, rewardSource)
	l.state = state
	for _, s := range snaps {
		if s != nil {
			l.snapshots[s.DepositorID] = s.Clone()
		}
	}
	return l, nil
}

// DepositResult reports what a deposit did.
type DepositResult struct {
	DepositorID string
	Amount      *uint256.Int // new value added
	RewardPaid  *uint256.Int // accrued reward paid out during realization
	Loss        *uint256.Int // principal eroded since the last realization
	Principal   *uint256.Int // nominal deposit after the top-up
	TotalPooled *uint256.Int
	Epoch       uint64
	Scale       uint64
	Snapshot    *model.Snapshot
}

// Deposit adds value for a depositor. Any prior position is realized
// first: its compounded remainder is folded into the new principal and
// its accrued reward is paid out immediately.
func (l *Ledger) Deposit(ctx context.Context, depositorID string, amount *uint256.Int) (*DepositResult, error) {
	if amount == nil || amount.IsZero() {
		return nil, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	snap := l.snapshots[depositorID]
	compounded, err := accumulator.CompoundedDeposit(snap, l.state)
	if err != nil {
		return nil, err
	}
	reward, err := accumulator.RewardGain(snap, l.state)
	if err != nil {
		return nil, err
	}

	// Move assets before touching state; refund on partial failure so a
	// returned error always means nothing changed.
	if err := l.vault.TransferIn(ctx, custody.AssetPooled, depositorID, amount); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	if !reward.IsZero() {
		if err := l.vault.TransferOut(ctx, custody.AssetReward, depositorID, reward); err != nil {
			if rbErr := l.vault.TransferOut(ctx, custody.AssetPooled, depositorID, amount); rbErr != nil {
				log.Error().Err(rbErr).Str("depositor", depositorID).Msg("deposit refund failed")
			}
			return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}
	}

	newPrincipal := new(uint256.Int).Add(compounded, amount)
	if err := l.state.AddDeposit(amount); err != nil {
		return nil, err
	}
	newSnap := l.state.TakeSnapshot(depositorID, newPrincipal)
	l.snapshots[depositorID] = newSnap

	loss := uint256.NewInt(0)
	if snap != nil && snap.Principal.Gt(compounded) {
		loss.Sub(snap.Principal, compounded)
	}

	return &DepositResult{
		DepositorID: depositorID,
		Amount:      new(uint256.Int).Set(amount),
		RewardPaid:  reward,
		Loss:        loss,
		Principal:   newPrincipal,
		TotalPooled: l.state.TotalPooled(),
		Epoch:       l.state.Epoch(),
		Scale:       l.state.Scale(),
		Snapshot:    newSnap.Clone(),
	}, nil
}

// WithdrawResult reports what a withdrawal did.
type WithdrawResult struct {
	DepositorID string
	Payout      *uint256.Int // pooled value returned, capped at the compounded balance
	RewardPaid  *uint256.Int
	Loss        *uint256.Int
	Principal   *uint256.Int // remaining nominal deposit, zero if closed
	Closed      bool         // position fully exited, snapshot deleted
	TotalPooled *uint256.Int
	Epoch       uint64
	Scale       uint64
	Snapshot    *model.Snapshot // nil when Closed
}

// Withdraw returns up to amount of a depositor's compounded value along
// with their accrued reward. Requesting more than the compounded balance
// withdraws everything and closes the position; a position compounded to
// zero still pays out its reward before closing.
func (l *Ledger) Withdraw(ctx context.Context, depositorID string, amount *uint256.Int) (*WithdrawResult, error) {
	if amount == nil || amount.IsZero() {
		return nil, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	snap := l.snapshots[depositorID]
	if snap == nil {
		return nil, ErrNoDeposit
	}

	compounded, err := accumulator.CompoundedDeposit(snap, l.state)
	if err != nil {
		return nil, err
	}
	reward, err := accumulator.RewardGain(snap, l.state)
	if err != nil {
		return nil, err
	}

	payout := new(uint256.Int).Set(amount)
	if payout.Gt(compounded) {
		payout.Set(compounded)
	}

	if err := l.vault.TransferOut(ctx, custody.AssetPooled, depositorID, payout); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	if !reward.IsZero() {
		if err := l.vault.TransferOut(ctx, custody.AssetReward, depositorID, reward); err != nil {
			if rbErr := l.vault.TransferIn(ctx, custody.AssetPooled, depositorID, payout); rbErr != nil {
				log.Error().Err(rbErr).Str("depositor", depositorID).Msg("withdrawal reversal failed")
			}
			return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}
	}

	if err := l.state.RemoveDeposit(payout); err != nil {
		return nil, err
	}

	loss := uint256.NewInt(0)
	if snap.Principal.Gt(compounded) {
		loss.Sub(snap.Principal, compounded)
	}

	res := &WithdrawResult{
		DepositorID: depositorID,
		Payout:      payout,
		RewardPaid:  reward,
		Loss:        loss,
		TotalPooled: l.state.TotalPooled(),
		Epoch:       l.state.Epoch(),
		Scale:       l.state.Scale(),
	}

	newPrincipal := new(uint256.Int).Sub(compounded, payout)
	if newPrincipal.IsZero() {
		delete(l.snapshots, depositorID)
		res.Principal = uint256.NewInt(0)
		res.Closed = true
		return res, nil
	}

	newSnap := l.state.TakeSnapshot(depositorID, newPrincipal)
	l.snapshots[depositorID] = newSnap
	res.Principal = newPrincipal
	res.Snapshot = newSnap.Clone()
	return res, nil
}

// LiquidateResult reports what a liquidation did.
type LiquidateResult struct {
	accumulator.LiquidationOutcome
	DebtOffset  *uint256.Int
	RewardAdded *uint256.Int
	TotalPooled *uint256.Int
	Epoch       uint64
	Scale       uint64
}

// Liquidate removes debtToOffset from the pool as a proportional loss on
// every depositor and injects rewardToAdd as a proportional reward. A
// zero debt or an empty pool is ignored without error (Applied=false).
func (l *Ledger) Liquidate(ctx context.Context, debtToOffset, rewardToAdd *uint256.Int) (*LiquidateResult, error) {
	if debtToOffset == nil {
		return nil, ErrInvalidAmount
	}
	if rewardToAdd == nil {
		rewardToAdd = uint256.NewInt(0)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	res := &LiquidateResult{
		DebtOffset:  new(uint256.Int).Set(debtToOffset),
		RewardAdded: new(uint256.Int).Set(rewardToAdd),
	}

	if debtToOffset.IsZero() || l.state.TotalPooled().IsZero() {
		res.TotalPooled = l.state.TotalPooled()
		res.Epoch = l.state.Epoch()
		res.Scale = l.state.Scale()
		return res, nil
	}
	if debtToOffset.Gt(l.state.TotalPooled()) {
		return nil, accumulator.ErrInsufficientPooledValue
	}

	// Seized value leaves for the loss sink; the reward funding arrives
	// from the treasury. Both must land before the state transition.
	if err := l.vault.TransferOut(ctx, custody.AssetPooled, l.lossSink, debtToOffset); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	if !rewardToAdd.IsZero() {
		if err := l.vault.TransferIn(ctx, custody.AssetReward, l.rewardSource, rewardToAdd); err != nil {
			if rbErr := l.vault.TransferIn(ctx, custody.AssetPooled, l.lossSink, debtToOffset); rbErr != nil {
				log.Error().Err(rbErr).Msg("liquidation reversal failed")
			}
			return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}
	}

	outcome, err := l.state.ApplyLiquidation(debtToOffset, rewardToAdd)
	if err != nil {
		if rbErr := l.vault.TransferIn(ctx, custody.AssetPooled, l.lossSink, debtToOffset); rbErr != nil {
			log.Error().Err(rbErr).Msg("liquidation reversal failed")
		}
		if !rewardToAdd.IsZero() {
			if rbErr := l.vault.TransferOut(ctx, custody.AssetReward, l.rewardSource, rewardToAdd); rbErr != nil {
				log.Error().Err(rbErr).Msg("liquidation reversal failed")
			}
		}
		return nil, err
	}

	res.LiquidationOutcome = outcome
	res.TotalPooled = l.state.TotalPooled()
	res.Epoch = l.state.Epoch()
	res.Scale = l.state.Scale()
	return res, nil
}

// --- Read queries (concurrent, never mutate) ---

// TotalPooled returns the aggregate depositor value.
func (l *Ledger) TotalPooled() *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.TotalPooled()
}

// Snapshot returns a copy of a depositor's snapshot, or nil if absent.
func (l *Ledger) Snapshot(depositorID string) *model.Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshots[depositorID].Clone()
}

// CompoundedDeposit returns a depositor's current value; zero if absent.
func (l *Ledger) CompoundedDeposit(depositorID string) (*uint256.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return accumulator.CompoundedDeposit(l.snapshots[depositorID], l.state)
}

// RewardGain returns a depositor's accrued unpaid reward; zero if absent.
func (l *Ledger) RewardGain(depositorID string) (*uint256.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return accumulator.RewardGain(l.snapshots[depositorID], l.state)
}

// Stats is a point-in-time view of the pool, for the status endpoint.
type Stats struct {
	TotalPooled *uint256.Int
	P           *uint256.Int
	Epoch       uint64
	Scale       uint64
	Depositors  int
}

// Stats returns a consistent view of the pool's global state.
func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Stats{
		TotalPooled: l.state.TotalPooled(),
		P:           l.state.P(),
		Epoch:       l.state.Epoch(),
		Scale:       l.state.Scale(),
		Depositors:  len(l.snapshots),
	}
}

// AccumulatorRecord returns the persistence form of the global state.
func (l *Ledger) AccumulatorRecord() *model.AccumulatorRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Record()
}
