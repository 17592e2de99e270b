// Package accumulator implements the O(1) proportional-distribution state:
// a running product P tracking the fraction of original value each unit of
// deposit retains, and a per-(epoch, scale) sum table S tracking reward per
// unit. A liquidation removes a proportional loss from and injects a
// proportional reward into the whole pool by updating these scalars once,
// never iterating depositors; a depositor's true balance and accrued reward
// are realized lazily from the snapshot they took at their last operation.
//
// P lives in (0, Precision] and only shrinks within an epoch. When a
// multiplication would take it below ScaleFactor it is rebased by
// ScaleFactor and the scale counter increments; when the pool is driven to
// exactly zero the epoch increments and P resets to Precision. Floor
// division remainders from both the loss and reward per-unit computations
// are carried into the next liquidation so rounding never drifts unbounded.
package accumulator

import (
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/stakewell/pool-engine/internal/fixedpoint"
	"github.com/stakewell/pool-engine/internal/model"
)

var (
	// ErrInsufficientPooledValue is returned when a liquidation's debt
	// exceeds the total pooled value.
	ErrInsufficientPooledValue = errors.New("accumulator: debt to offset exceeds total pooled value")

	// ErrInvariantViolation indicates the P > 0 guarantee would be broken.
	// This is a programming error, not a user error; callers must abort.
	ErrInvariantViolation = errors.New("accumulator: product invariant violated")
)

// State is the global accumulator. It is exclusively owned by the ledger
// and must only be mutated under the ledger's write lock.
type State struct {
	p           *uint256.Int
	scale       uint64
	epoch       uint64
	sums        map[uint64]map[uint64]*uint256.Int // epoch → scale → S
	totalPooled *uint256.Int
	rewardError *uint256.Int // floor remainder carried into the next reward split
	lossError   *uint256.Int // floor remainder carried into the next loss split
}

// NewState returns a fresh accumulator: P = Precision, everything else zero.
func NewState() *State {
	return &State{
		p:           new(uint256.Int).Set(fixedpoint.Precision),
		sums:        make(map[uint64]map[uint64]*uint256.Int),
		totalPooled: uint256.NewInt(0),
		rewardError: uint256.NewInt(0),
		lossError:   uint256.NewInt(0),
	}
}

// Restore rebuilds a State from its persistence record.
func Restore(rec *model.AccumulatorRecord) (*State, error) {
	s := NewState()
	if rec == nil {
		return s, nil
	}
	var err error
	if s.p, err = parseDec(rec.P, "p"); err != nil {
		return nil, err
	}
	if s.p.IsZero() || s.p.Gt(fixedpoint.Precision) {
		return nil, fmt.Errorf("%w: restored P %s outside (0, precision]", ErrInvariantViolation, rec.P)
	}
	if s.totalPooled, err = parseDec(rec.TotalPooled, "total_pooled"); err != nil {
		return nil, err
	}
	if s.rewardError, err = parseDec(rec.RewardError, "reward_error"); err != nil {
		return nil, err
	}
	if s.lossError, err = parseDec(rec.LossError, "loss_error"); err != nil {
		return nil, err
	}
	s.scale = rec.Scale
	s.epoch = rec.Epoch
	for _, e := range rec.Sums {
		v, err := parseDec(e.S, "sum")
		if err != nil {
			return nil, err
		}
		s.setSum(e.Epoch, e.Scale, v)
	}
	return s, nil
}

func parseDec(v, field string) (*uint256.Int, error) {
	if v == "" {
		return uint256.NewInt(0), nil
	}
	n, err := uint256.FromDecimal(v)
	if err != nil {
		return nil, fmt.Errorf("accumulator: invalid %s value %q: %w", field, v, err)
	}
	return n, nil
}

// Record returns the persistence form of the state.
func (s *State) Record() *model.AccumulatorRecord {
	rec := &model.AccumulatorRecord{
		P:           s.p.Dec(),
		Scale:       s.scale,
		Epoch:       s.epoch,
		TotalPooled: s.totalPooled.Dec(),
		RewardError: s.rewardError.Dec(),
		LossError:   s.lossError.Dec(),
	}
	for epoch, byScale := range s.sums {
		for scale, sum := range byScale {
			rec.Sums = append(rec.Sums, model.SumEntry{Epoch: epoch, Scale: scale, S: sum.Dec()})
		}
	}
	return rec
}

// P returns a copy of the current product.
func (s *State) P() *uint256.Int { return new(uint256.Int).Set(s.p) }

// Scale returns the current rebasing count within the epoch.
func (s *State) Scale() uint64 { return s.scale }

// Epoch returns the current pool generation.
func (s *State) Epoch() uint64 { return s.epoch }

// TotalPooled returns a copy of the aggregate depositor value.
func (s *State) TotalPooled() *uint256.Int { return new(uint256.Int).Set(s.totalPooled) }

// Sum returns a copy of the sum-table entry at (epoch, scale), zero if the
// entry was never written.
func (s *State) Sum(epoch, scale uint64) *uint256.Int {
	if byScale, ok := s.sums[epoch]; ok {
		if v, ok := byScale[scale]; ok {
			return new(uint256.Int).Set(v)
		}
	}
	return uint256.NewInt(0)
}

func (s *State) setSum(epoch, scale uint64, v *uint256.Int) {
	byScale, ok := s.sums[epoch]
	if !ok {
		byScale = make(map[uint64]*uint256.Int)
		s.sums[epoch] = byScale
	}
	byScale[scale] = v
}

// AddDeposit increases totalPooled by amount. The caller (the ledger) is
// responsible for having realized the depositor's position first.
func (s *State) AddDeposit(amount *uint256.Int) error {
	total, err := fixedpoint.Add(s.totalPooled, amount)
	if err != nil {
		return err
	}
	s.totalPooled = total
	return nil
}

// RemoveDeposit decreases totalPooled by amount; amount must not exceed it.
func (s *State) RemoveDeposit(amount *uint256.Int) error {
	if amount.Gt(s.totalPooled) {
		return ErrInvariantViolation
	}
	s.totalPooled = new(uint256.Int).Sub(s.totalPooled, amount)
	return nil
}

// TakeSnapshot captures the accumulator values a depositor's future
// realization will be measured against.
func (s *State) TakeSnapshot(depositorID string, principal *uint256.Int) *model.Snapshot {
	return &model.Snapshot{
		DepositorID: depositorID,
		Principal:   new(uint256.Int).Set(principal),
		P:           new(uint256.Int).Set(s.p),
		S:           s.Sum(s.epoch, s.scale),
		Scale:       s.scale,
		Epoch:       s.epoch,
		UpdatedAt:   time.Now().UTC(),
	}
}

// LiquidationOutcome reports what a liquidation transition did, so the
// caller can emit boundary notifications without inspecting internals.
type LiquidationOutcome struct {
	Applied       bool
	EpochAdvanced bool
	ScaleAdvanced bool
	LossPerUnit   *uint256.Int // Precision-scaled
	RewardPerUnit *uint256.Int // Precision-scaled
}

// ApplyLiquidation removes debtToOffset from the pool as a proportional
// loss and distributes rewardToAdd as a proportional reward.
//
// A zero debt or an empty pool is intentionally ignored (Applied=false,
// nil error). Every intermediate is computed before any field is written,
// so a failed transition leaves the state untouched.
func (s *State) ApplyLiquidation(debtToOffset, rewardToAdd *uint256.Int) (LiquidationOutcome, error) {
	var out LiquidationOutcome
	if debtToOffset.IsZero() || s.totalPooled.IsZero() {
		return out, nil
	}
	if debtToOffset.Gt(s.totalPooled) {
		return out, ErrInsufficientPooledValue
	}

	// Per-unit figures, Precision-scaled, with floor remainders carried
	// forward. Full depletion sets the loss per unit to exactly Precision
	// and drops the loss carry.
	scaledReward, err := fixedpoint.Mul(rewardToAdd, fixedpoint.Precision)
	if err != nil {
		return out, err
	}
	rewardNumerator, err := fixedpoint.Add(scaledReward, s.rewardError)
	if err != nil {
		return out, err
	}
	rewardPerUnit := new(uint256.Int).Div(rewardNumerator, s.totalPooled)
	newRewardError := new(uint256.Int).Sub(
		rewardNumerator, new(uint256.Int).Mul(rewardPerUnit, s.totalPooled))

	var lossPerUnit *uint256.Int
	newLossError := uint256.NewInt(0)
	if debtToOffset.Eq(s.totalPooled) {
		lossPerUnit = new(uint256.Int).Set(fixedpoint.Precision)
	} else {
		scaledDebt, err := fixedpoint.Mul(debtToOffset, fixedpoint.Precision)
		if err != nil {
			return out, err
		}
		lossNumerator, err := fixedpoint.Add(scaledDebt, s.lossError)
		if err != nil {
			return out, err
		}
		lossPerUnit = new(uint256.Int).Div(lossNumerator, s.totalPooled)
		newLossError = new(uint256.Int).Sub(
			lossNumerator, new(uint256.Int).Mul(lossPerUnit, s.totalPooled))
	}

	if lossPerUnit.Gt(fixedpoint.Precision) {
		return out, ErrInvariantViolation
	}
	retentionFactor := new(uint256.Int).Sub(fixedpoint.Precision, lossPerUnit)

	// The marginal sum term is rewardPerUnit·P, deliberately left at
	// Precision² scale; realization divides it back out.
	marginalSum, err := fixedpoint.Mul(rewardPerUnit, s.p)
	if err != nil {
		return out, err
	}
	newSum, err := fixedpoint.Add(s.Sum(s.epoch, s.scale), marginalSum)
	if err != nil {
		return out, err
	}

	newP := new(uint256.Int)
	newScale, newEpoch := s.scale, s.epoch
	switch {
	case retentionFactor.IsZero():
		// Pool fully depleted: next generation starts from scratch.
		newEpoch++
		newScale = 0
		newP.Set(fixedpoint.Precision)
		out.EpochAdvanced = true
	default:
		shrunk, err := fixedpoint.MulDiv(s.p, retentionFactor, fixedpoint.Precision)
		if err != nil {
			return out, err
		}
		if shrunk.Lt(fixedpoint.ScaleFactor) {
			// Applying the factor directly would collapse P below safe
			// resolution; rebase by ScaleFactor instead.
			boosted, err := fixedpoint.Mul(retentionFactor, fixedpoint.ScaleFactor)
			if err != nil {
				return out, err
			}
			if newP, err = fixedpoint.MulDiv(s.p, boosted, fixedpoint.Precision); err != nil {
				return out, err
			}
			newScale++
			out.ScaleAdvanced = true
		} else {
			newP = shrunk
		}
		if newP.IsZero() {
			return out, ErrInvariantViolation
		}
	}

	// Commit. The sum is written at the pre-transition (epoch, scale):
	// snapshots taken under that pair must see this liquidation's reward.
	s.setSum(s.epoch, s.scale, newSum)
	s.p = newP
	s.scale = newScale
	s.epoch = newEpoch
	s.rewardError = newRewardError
	s.lossError = newLossError
	s.totalPooled = new(uint256.Int).Sub(s.totalPooled, debtToOffset)

	out.Applied = true
	out.LossPerUnit = lossPerUnit
	out.RewardPerUnit = rewardPerUnit
	return out, nil
}
