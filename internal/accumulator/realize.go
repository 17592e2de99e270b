package accumulator

import (
	"github.com/holiman/uint256"

	"github.com/stakewell/pool-engine/internal/fixedpoint"
	"github.com/stakewell/pool-engine/internal/model"
)

// CompoundedDeposit derives a depositor's true current value from their
// snapshot and the present accumulator state. Pure read: calling it any
// number of times between mutations yields identical results.
//
// A snapshot from a past epoch lived through full depletion and is worth
// zero. Within the epoch, the deposit compounds by P/snapP, corrected by
// one ScaleFactor if exactly one rebasing happened since the snapshot; a
// deposit that survived two or more rebasings is below 1/ScaleFactor of its
// original size and is defined as fully depleted. The same dust floor is
// applied to the computed value.
func CompoundedDeposit(snap *model.Snapshot, s *State) (*uint256.Int, error) {
	if snap == nil || snap.Epoch < s.epoch {
		return uint256.NewInt(0), nil
	}

	var value *uint256.Int
	switch s.scale - snap.Scale {
	case 0:
		v, err := fixedpoint.MulDiv(snap.Principal, s.p, snap.P)
		if err != nil {
			return nil, err
		}
		value = v
	case 1:
		denom, err := fixedpoint.Mul(snap.P, fixedpoint.ScaleFactor)
		if err != nil {
			return nil, err
		}
		v, err := fixedpoint.MulDiv(snap.Principal, s.p, denom)
		if err != nil {
			return nil, err
		}
		value = v
	default:
		return uint256.NewInt(0), nil
	}

	dust := new(uint256.Int).Div(snap.Principal, fixedpoint.ScaleFactor)
	if value.Lt(dust) {
		return uint256.NewInt(0), nil
	}
	return value, nil
}

// RewardGain derives the reward a depositor has accrued since their
// snapshot. Pure read.
//
// A deposit's accrual spans at most one scale boundary before the dust
// floor declares it depleted, so only two sum-table entries are ever
// consulted: the remainder of the snapshot's own (epoch, scale) cell plus
// the next scale's cell divided back down by ScaleFactor.
func RewardGain(snap *model.Snapshot, s *State) (*uint256.Int, error) {
	if snap == nil {
		return uint256.NewInt(0), nil
	}

	firstPortion := s.Sum(snap.Epoch, snap.Scale)
	if firstPortion.Lt(snap.S) {
		return uint256.NewInt(0), nil
	}
	firstPortion.Sub(firstPortion, snap.S)

	secondPortion := s.Sum(snap.Epoch, snap.Scale+1)
	secondPortion.Div(secondPortion, fixedpoint.ScaleFactor)

	portions, err := fixedpoint.Add(firstPortion, secondPortion)
	if err != nil {
		return nil, err
	}
	gain, err := fixedpoint.MulDiv(snap.Principal, portions, snap.P)
	if err != nil {
		return nil, err
	}
	return gain.Div(gain, fixedpoint.Precision), nil
}
