// Package fixedpoint provides the scaled-integer arithmetic underlying the
// pool ledger.
//
// Every ratio in the ledger is an unsigned 256-bit integer scaled by
// Precision (10^18). Division always rounds toward zero; callers that need
// exactness carry the floor remainder forward themselves. Intermediate
// products are computed with full 512-bit precision, so overflow can only
// occur when a final result does not fit 256 bits — and that is a checked
// condition, never a silent wraparound.
//
// All monetary values use holiman/uint256 — never float64 for money.
package fixedpoint

import (
	"errors"

	"github.com/holiman/uint256"
)

var (
	// ErrOverflow is returned when a result does not fit in 256 bits.
	// Unreachable for realistic pool sizes; callers treat it as fatal.
	ErrOverflow = errors.New("fixedpoint: result exceeds 256-bit range")

	// ErrDivisionByZero is returned for a zero denominator.
	ErrDivisionByZero = errors.New("fixedpoint: division by zero")
)

// Precision is the global fixed-point scale, 10^18. A ratio of exactly 1.0
// is represented as Precision.
var Precision = uint256.NewInt(1_000_000_000_000_000_000)

// ScaleFactor is the rebasing multiplier, 10^9, applied to the running
// product when it would otherwise drop below safe resolution.
var ScaleFactor = uint256.NewInt(1_000_000_000)

// MulDiv returns ⌊a·b/denominator⌋. The product a·b is computed at 512-bit
// width, so the only failure modes are a zero denominator and a quotient
// that does not fit 256 bits.
func MulDiv(a, b, denominator *uint256.Int) (*uint256.Int, error) {
	if denominator.IsZero() {
		return nil, ErrDivisionByZero
	}
	res, overflow := new(uint256.Int).MulDivOverflow(a, b, denominator)
	if overflow {
		return nil, ErrOverflow
	}
	return res, nil
}

// Mul returns a·b, failing with ErrOverflow if the product exceeds 256 bits.
func Mul(a, b *uint256.Int) (*uint256.Int, error) {
	res, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return res, nil
}

// Add returns a+b, failing with ErrOverflow on carry out of 256 bits.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	res, carry := new(uint256.Int).AddOverflow(a, b)
	if carry {
		return nil, ErrOverflow
	}
	return res, nil
}
