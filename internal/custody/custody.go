// Package custody abstracts movement of the pooled and reward assets
// between external accounts and the pool. The ledger never holds balances
// itself; it instructs a Custody implementation and aborts the whole
// operation if a transfer cannot complete.
package custody

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
)

// Asset identifies which of the two asset books a transfer touches.
type Asset string

const (
	// AssetPooled is the asset depositors stake into the pool.
	AssetPooled Asset = "pooled"
	// AssetReward is the asset liquidations inject and depositors earn.
	AssetReward Asset = "reward"
)

var (
	// ErrUnknownAccount is returned when the source account has no balance
	// entry for the asset.
	ErrUnknownAccount = errors.New("custody: unknown account")

	// ErrInsufficientFunds is returned when the source account cannot
	// cover the transfer.
	ErrInsufficientFunds = errors.New("custody: insufficient funds")
)

// Custody moves asset value between external accounts and the pool's
// holdings. Implementations must be atomic per call: a returned error
// means no balance changed.
type Custody interface {
	// TransferIn moves amount of asset from an external account into the
	// pool's holdings.
	TransferIn(ctx context.Context, asset Asset, from string, amount *uint256.Int) error

	// TransferOut moves amount of asset from the pool's holdings to an
	// external account.
	TransferOut(ctx context.Context, asset Asset, to string, amount *uint256.Int) error
}

// MemoryVault implements Custody with in-memory balance books. Used for
// testing and development; production deployments wire a real custodian
// behind the same interface.
type MemoryVault struct {
	mu       sync.Mutex
	accounts map[Asset]map[string]*uint256.Int
	held     map[Asset]*uint256.Int // pool-side holdings per asset
}

// NewMemoryVault creates an empty vault.
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{
		accounts: map[Asset]map[string]*uint256.Int{
			AssetPooled: make(map[string]*uint256.Int),
			AssetReward: make(map[string]*uint256.Int),
		},
		held: map[Asset]*uint256.Int{
			AssetPooled: uint256.NewInt(0),
			AssetReward: uint256.NewInt(0),
		},
	}
}

// Credit seeds an external account balance.
func (v *MemoryVault) Credit(asset Asset, account string, amount *uint256.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	bal, ok := v.accounts[asset][account]
	if !ok {
		bal = uint256.NewInt(0)
		v.accounts[asset][account] = bal
	}
	bal.Add(bal, amount)
}

// Balance returns a copy of an external account's balance.
func (v *MemoryVault) Balance(asset Asset, account string) *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if bal, ok := v.accounts[asset][account]; ok {
		return new(uint256.Int).Set(bal)
	}
	return uint256.NewInt(0)
}

// Held returns a copy of the pool-side holdings for an asset.
func (v *MemoryVault) Held(asset Asset) *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(uint256.Int).Set(v.held[asset])
}

func (v *MemoryVault) TransferIn(_ context.Context, asset Asset, from string, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	bal, ok := v.accounts[asset][from]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrUnknownAccount, asset, from)
	}
	if bal.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, need %s", ErrInsufficientFunds, from, bal.Dec(), amount.Dec())
	}
	bal.Sub(bal, amount)
	v.held[asset].Add(v.held[asset], amount)
	return nil
}

func (v *MemoryVault) TransferOut(_ context.Context, asset Asset, to string, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	held := v.held[asset]
	if held.Lt(amount) {
		return fmt.Errorf("%w: pool holds %s of %s, need %s", ErrInsufficientFunds, held.Dec(), asset, amount.Dec())
	}
	held.Sub(held, amount)
	bal, ok := v.accounts[asset][to]
	if !ok {
		bal = uint256.NewInt(0)
		v.accounts[asset][to] = bal
	}
	bal.Add(bal, amount)
	return nil
}
