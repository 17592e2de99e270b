package pool_test

import (
	"context"
	"testing"

	"github.com/holiman/uint256"

	"github.com/stakewell/pool-engine/internal/accumulator"
	"github.com/stakewell/pool-engine/internal/custody"
	"github.com/stakewell/pool-engine/internal/model"
	"github.com/stakewell/pool-engine/internal/pool"
)

const (
	lossSink     = "loss-sink"
	rewardSource = "treasury"
)

func u(n uint64) *uint256.Int {
	return uint256.NewInt(n)
}

// newTestLedger creates a ledger with a vault where alice and bob hold
// pooled funds and the treasury can cover rewards.
func newTestLedger(t *testing.T) (*pool.Ledger, *custody.MemoryVault) {
	t.Helper()
	vault := custody.NewMemoryVault()
	vault.Credit(custody.AssetPooled, "alice", u(1_000_000))
	vault.Credit(custody.AssetPooled, "bob", u(1_000_000))
	vault.Credit(custody.AssetReward, rewardSource, u(1_000_000_000))
	return pool.NewLedger(vault, lossSink, rewardSource), vault
}

func mustDeposit(t *testing.T, l *pool.Ledger, id string, amount uint64) *pool.DepositResult {
	t.Helper()
	res, err := l.Deposit(context.Background(), id, u(amount))
	if err != nil {
		t.Fatalf("deposit %s/%d failed: %v", id, amount, err)
	}
	return res
}

func mustLiquidate(t *testing.T, l *pool.Ledger, debt, reward uint64) *pool.LiquidateResult {
	t.Helper()
	res, err := l.Liquidate(context.Background(), u(debt), u(reward))
	if err != nil {
		t.Fatalf("liquidate %d/%d failed: %v", debt, reward, err)
	}
	return res
}

func TestDeposit_New(t *testing.T) {
	l, vault := newTestLedger(t)

	res := mustDeposit(t, l, "alice", 100)

	if !res.Principal.Eq(u(100)) {
		t.Errorf("expected principal 100, got %s", res.Principal.Dec())
	}
	if !res.TotalPooled.Eq(u(100)) {
		t.Errorf("expected total 100, got %s", res.TotalPooled.Dec())
	}
	if !res.RewardPaid.IsZero() {
		t.Errorf("fresh deposit should pay no reward, got %s", res.RewardPaid.Dec())
	}
	if !vault.Held(custody.AssetPooled).Eq(u(100)) {
		t.Errorf("pool should hold 100 pooled, got %s", vault.Held(custody.AssetPooled).Dec())
	}
	if !vault.Balance(custody.AssetPooled, "alice").Eq(u(999_900)) {
		t.Errorf("alice balance not debited: %s", vault.Balance(custody.AssetPooled, "alice").Dec())
	}
}

func TestDeposit_ZeroAmount(t *testing.T) {
	l, _ := newTestLedger(t)

	if _, err := l.Deposit(context.Background(), "alice", u(0)); err != pool.ErrInvalidAmount {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := l.Deposit(context.Background(), "alice", nil); err != pool.ErrInvalidAmount {
		t.Errorf("expected ErrInvalidAmount for nil, got %v", err)
	}
}

func TestDeposit_InsufficientFunds(t *testing.T) {
	l, vault := newTestLedger(t)
	vault.Credit(custody.AssetPooled, "carol", u(50))

	_, err := l.Deposit(context.Background(), "carol", u(100))
	if err == nil {
		t.Fatal("expected transfer failure")
	}
	if !l.TotalPooled().IsZero() {
		t.Errorf("failed deposit must not change total, got %s", l.TotalPooled().Dec())
	}
	if l.Snapshot("carol") != nil {
		t.Error("failed deposit must not create a snapshot")
	}
	if !vault.Balance(custody.AssetPooled, "carol").Eq(u(50)) {
		t.Errorf("carol balance should be untouched, got %s", vault.Balance(custody.AssetPooled, "carol").Dec())
	}
}

func TestWithdraw_NoDeposit(t *testing.T) {
	l, _ := newTestLedger(t)

	if _, err := l.Withdraw(context.Background(), "nobody", u(10)); err != pool.ErrNoDeposit {
		t.Errorf("expected ErrNoDeposit, got %v", err)
	}
}

func TestWithdraw_Partial(t *testing.T) {
	l, vault := newTestLedger(t)
	mustDeposit(t, l, "alice", 100)

	res, err := l.Withdraw(context.Background(), "alice", u(40))
	if err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	if !res.Payout.Eq(u(40)) {
		t.Errorf("expected payout 40, got %s", res.Payout.Dec())
	}
	if !res.Principal.Eq(u(60)) {
		t.Errorf("expected remaining principal 60, got %s", res.Principal.Dec())
	}
	if res.Closed {
		t.Error("partial withdrawal must not close the position")
	}
	if !vault.Balance(custody.AssetPooled, "alice").Eq(u(999_940)) {
		t.Errorf("alice should have received 40 back, got %s", vault.Balance(custody.AssetPooled, "alice").Dec())
	}
}

func TestWithdraw_MoreThanCompounded(t *testing.T) {
	l, _ := newTestLedger(t)
	mustDeposit(t, l, "alice", 100)

	res, err := l.Withdraw(context.Background(), "alice", u(500))
	if err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	if !res.Payout.Eq(u(100)) {
		t.Errorf("payout should cap at compounded balance, got %s", res.Payout.Dec())
	}
	if !res.Closed {
		t.Error("full withdrawal should close the position")
	}
	if l.Snapshot("alice") != nil {
		t.Error("closed position should have no snapshot")
	}
	if !l.TotalPooled().IsZero() {
		t.Errorf("expected empty pool, got %s", l.TotalPooled().Dec())
	}
}

func TestLiquidate_TwoDepositorFlow(t *testing.T) {
	l, vault := newTestLedger(t)
	mustDeposit(t, l, "alice", 100)
	mustDeposit(t, l, "bob", 100)

	res := mustLiquidate(t, l, 20, 1000)
	if !res.Applied {
		t.Fatal("liquidation should apply")
	}
	if !res.TotalPooled.Eq(u(180)) {
		t.Errorf("expected total 180, got %s", res.TotalPooled.Dec())
	}
	if !vault.Balance(custody.AssetPooled, lossSink).Eq(u(20)) {
		t.Errorf("loss sink should hold 20, got %s", vault.Balance(custody.AssetPooled, lossSink).Dec())
	}
	if !vault.Held(custody.AssetReward).Eq(u(1000)) {
		t.Errorf("pool should hold the injected reward, got %s", vault.Held(custody.AssetReward).Dec())
	}

	// Both positions compound to 90 and split the reward evenly.
	for _, id := range []string{"alice", "bob"} {
		compounded, err := l.CompoundedDeposit(id)
		if err != nil {
			t.Fatalf("compounded(%s): %v", id, err)
		}
		if !compounded.Eq(u(90)) {
			t.Errorf("%s compounded: expected 90, got %s", id, compounded.Dec())
		}
		gain, err := l.RewardGain(id)
		if err != nil {
			t.Fatalf("gain(%s): %v", id, err)
		}
		if !gain.Eq(u(500)) {
			t.Errorf("%s gain: expected 500, got %s", id, gain.Dec())
		}
	}

	// Top-up realizes: reward is paid out, principal folds in the loss.
	dres := mustDeposit(t, l, "alice", 100)
	if !dres.RewardPaid.Eq(u(500)) {
		t.Errorf("expected reward payout 500, got %s", dres.RewardPaid.Dec())
	}
	if !dres.Principal.Eq(u(190)) {
		t.Errorf("expected principal 190, got %s", dres.Principal.Dec())
	}
	if !dres.Loss.Eq(u(10)) {
		t.Errorf("expected realized loss 10, got %s", dres.Loss.Dec())
	}
	if !vault.Balance(custody.AssetReward, "alice").Eq(u(500)) {
		t.Errorf("alice should have received reward, got %s", vault.Balance(custody.AssetReward, "alice").Dec())
	}

	// And the same on withdrawal for bob.
	wres, err := l.Withdraw(context.Background(), "bob", u(50))
	if err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	if !wres.Payout.Eq(u(50)) {
		t.Errorf("expected payout 50, got %s", wres.Payout.Dec())
	}
	if !wres.RewardPaid.Eq(u(500)) {
		t.Errorf("expected reward payout 500, got %s", wres.RewardPaid.Dec())
	}
	if !wres.Principal.Eq(u(40)) {
		t.Errorf("expected remaining principal 40, got %s", wres.Principal.Dec())
	}

	// Realized rewards reset.
	gain, _ := l.RewardGain("bob")
	if !gain.IsZero() {
		t.Errorf("gain should reset after realization, got %s", gain.Dec())
	}
}

func TestLiquidate_EmptyPoolIgnored(t *testing.T) {
	l, vault := newTestLedger(t)

	res := mustLiquidate(t, l, 50, 10)
	if res.Applied {
		t.Error("liquidation of an empty pool should be a no-op")
	}
	if !vault.Balance(custody.AssetPooled, lossSink).IsZero() {
		t.Error("no-op liquidation must not move assets")
	}
}

func TestLiquidate_DebtExceedsPool(t *testing.T) {
	l, vault := newTestLedger(t)
	mustDeposit(t, l, "alice", 100)

	_, err := l.Liquidate(context.Background(), u(101), u(10))
	if err != accumulator.ErrInsufficientPooledValue {
		t.Fatalf("expected ErrInsufficientPooledValue, got %v", err)
	}
	if !l.TotalPooled().Eq(u(100)) {
		t.Errorf("failed liquidation must not change total, got %s", l.TotalPooled().Dec())
	}
	if !vault.Balance(custody.AssetPooled, lossSink).IsZero() {
		t.Error("failed liquidation must not move assets")
	}
}

func TestLiquidate_RewardSourceBroke(t *testing.T) {
	vault := custody.NewMemoryVault()
	vault.Credit(custody.AssetPooled, "alice", u(1000))
	vault.Credit(custody.AssetReward, rewardSource, u(5)) // cannot cover the reward
	l := pool.NewLedger(vault, lossSink, rewardSource)

	if _, err := l.Deposit(context.Background(), "alice", u(100)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	_, err := l.Liquidate(context.Background(), u(20), u(1000))
	if err == nil {
		t.Fatal("expected transfer failure")
	}

	// The seized pooled value must have been returned.
	if !vault.Balance(custody.AssetPooled, lossSink).IsZero() {
		t.Errorf("loss sink should hold nothing, got %s", vault.Balance(custody.AssetPooled, lossSink).Dec())
	}
	if !vault.Held(custody.AssetPooled).Eq(u(100)) {
		t.Errorf("pool holdings should be intact, got %s", vault.Held(custody.AssetPooled).Dec())
	}
	if !l.TotalPooled().Eq(u(100)) {
		t.Errorf("total should be unchanged, got %s", l.TotalPooled().Dec())
	}
}

func TestFullDepletion_WithdrawStillPaysReward(t *testing.T) {
	l, vault := newTestLedger(t)
	mustDeposit(t, l, "alice", 100)

	res := mustLiquidate(t, l, 100, 50)
	if !res.EpochAdvanced {
		t.Error("full depletion should advance the epoch")
	}

	compounded, _ := l.CompoundedDeposit("alice")
	if !compounded.IsZero() {
		t.Errorf("depleted position should compound to zero, got %s", compounded.Dec())
	}

	wres, err := l.Withdraw(context.Background(), "alice", u(10))
	if err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	if !wres.Payout.IsZero() {
		t.Errorf("depleted position pays no principal, got %s", wres.Payout.Dec())
	}
	if !wres.RewardPaid.Eq(u(50)) {
		t.Errorf("expected reward payout 50, got %s", wres.RewardPaid.Dec())
	}
	if !wres.Closed {
		t.Error("depleted position should close on withdrawal")
	}
	if !vault.Balance(custody.AssetReward, "alice").Eq(u(50)) {
		t.Errorf("alice should hold the reward, got %s", vault.Balance(custody.AssetReward, "alice").Dec())
	}
}

func TestRestoreLedger_Roundtrip(t *testing.T) {
	l, vault := newTestLedger(t)
	mustDeposit(t, l, "alice", 300)
	mustDeposit(t, l, "bob", 700)
	mustLiquidate(t, l, 137, 555)

	snaps := []*model.Snapshot{l.Snapshot("alice"), l.Snapshot("bob")}
	restored, err := pool.RestoreLedger(l.AccumulatorRecord(), snaps, vault, lossSink, rewardSource)
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	if !restored.TotalPooled().Eq(l.TotalPooled()) {
		t.Errorf("total mismatch after restore: %s vs %s",
			restored.TotalPooled().Dec(), l.TotalPooled().Dec())
	}
	for _, id := range []string{"alice", "bob"} {
		want, _ := l.CompoundedDeposit(id)
		got, err := restored.CompoundedDeposit(id)
		if err != nil {
			t.Fatalf("compounded(%s): %v", id, err)
		}
		if !got.Eq(want) {
			t.Errorf("%s compounded mismatch: %s vs %s", id, got.Dec(), want.Dec())
		}
		wantGain, _ := l.RewardGain(id)
		gotGain, err := restored.RewardGain(id)
		if err != nil {
			t.Fatalf("gain(%s): %v", id, err)
		}
		if !gotGain.Eq(wantGain) {
			t.Errorf("%s gain mismatch: %s vs %s", id, gotGain.Dec(), wantGain.Dec())
		}
	}
}
