package fixedpoint

import (
	"testing"

	"github.com/holiman/uint256"
)

// u is a test helper for creating uint256 values from uint64.
func u(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

func TestMulDiv_Exact(t *testing.T) {
	// 100 * 9e17 / 1e18 = 90 exactly.
	res, err := MulDiv(u(100), u(900_000_000_000_000_000), Precision)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Eq(u(90)) {
		t.Errorf("expected 90, got %s", res.Dec())
	}
}

func TestMulDiv_FloorsTowardZero(t *testing.T) {
	tests := []struct {
		a, b, den, want uint64
	}{
		{7, 3, 2, 10},   // 21/2 = 10.5 → 10
		{1, 1, 3, 0},    // 1/3 → 0
		{10, 10, 3, 33}, // 100/3 → 33
		{5, 0, 7, 0},
	}
	for _, tt := range tests {
		res, err := MulDiv(u(tt.a), u(tt.b), u(tt.den))
		if err != nil {
			t.Fatalf("MulDiv(%d,%d,%d): unexpected error %v", tt.a, tt.b, tt.den, err)
		}
		if !res.Eq(u(tt.want)) {
			t.Errorf("MulDiv(%d,%d,%d) = %s, want %d", tt.a, tt.b, tt.den, res.Dec(), tt.want)
		}
	}
}

func TestMulDiv_LargeIntermediate(t *testing.T) {
	// a·b overflows 256 bits but the quotient fits: (2^200 * 2^100) / 2^100.
	a := new(uint256.Int).Lsh(u(1), 200)
	b := new(uint256.Int).Lsh(u(1), 100)
	res, err := MulDiv(a, b, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Eq(a) {
		t.Errorf("expected 2^200, got %s", res.Hex())
	}
}

func TestMulDiv_OverflowChecked(t *testing.T) {
	// (2^200)^2 / 2 does not fit 256 bits.
	a := new(uint256.Int).Lsh(u(1), 200)
	if _, err := MulDiv(a, a, u(2)); err != ErrOverflow {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestMulDiv_ZeroDenominator(t *testing.T) {
	if _, err := MulDiv(u(1), u(1), u(0)); err != ErrDivisionByZero {
		t.Errorf("expected ErrDivisionByZero, got %v", err)
	}
}

func TestMul_Overflow(t *testing.T) {
	a := new(uint256.Int).Lsh(u(1), 200)
	if _, err := Mul(a, a); err != ErrOverflow {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
	res, err := Mul(u(6), u(7))
	if err != nil || !res.Eq(u(42)) {
		t.Errorf("Mul(6,7) = %v, %v", res, err)
	}
}

func TestAdd_Overflow(t *testing.T) {
	max := new(uint256.Int).Not(u(0))
	if _, err := Add(max, u(1)); err != ErrOverflow {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
	res, err := Add(u(40), u(2))
	if err != nil || !res.Eq(u(42)) {
		t.Errorf("Add(40,2) = %v, %v", res, err)
	}
}

func TestConstants(t *testing.T) {
	if Precision.Dec() != "1000000000000000000" {
		t.Errorf("Precision = %s", Precision.Dec())
	}
	if ScaleFactor.Dec() != "1000000000" {
		t.Errorf("ScaleFactor = %s", ScaleFactor.Dec())
	}
}
