// Package ledger provides the in-process token custody ledger the matching
// engine and pool settle against: per-asset balances keyed by account, plus
// per-asset transfer restrictions so tests and simulations can model tokens
// whose transfers fail.
package ledger

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/openhooks/matchbook/internal/domain"
)

// RestrictFunc vetoes a transfer before it is applied. Returning a non-nil
// error fails the transfer with no balance change.
type RestrictFunc func(asset, from, to common.Address, amount *uint256.Int) error

// Ledger holds token balances. All methods are safe for concurrent use.
type Ledger struct {
	mu           sync.Mutex
	balances     map[common.Address]map[common.Address]*uint256.Int
	restrictions map[common.Address]RestrictFunc
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		balances:     make(map[common.Address]map[common.Address]*uint256.Int),
		restrictions: make(map[common.Address]RestrictFunc),
	}
}

// Mint credits amount of asset to the account out of thin air.
func (l *Ledger) Mint(asset, to common.Address, amount *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(asset, to, amount)
}

// Restrict installs fn as the transfer restriction for asset. Passing nil
// clears the restriction.
func (l *Ledger) Restrict(asset common.Address, fn RestrictFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if fn == nil {
		delete(l.restrictions, asset)
		return
	}
	l.restrictions[asset] = fn
}

// Transfer moves amount of asset between accounts. It fails atomically: the
// restriction check and the balance check both happen before any mutation.
func (l *Ledger) Transfer(asset, from, to common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if fn, ok := l.restrictions[asset]; ok {
		if err := fn(asset, from, to, amount); err != nil {
			return fmt.Errorf("ledger: %w: %w", domain.ErrTransferRestricted, err)
		}
	}

	bal := l.balance(asset, from)
	if bal.Lt(amount) {
		return fmt.Errorf("ledger: %s has %s of %s, need %s: %w",
			from.Hex(), bal.Dec(), asset.Hex(), amount.Dec(), domain.ErrInsufficientBalance)
	}

	bal.Sub(bal, amount)
	l.credit(asset, to, amount)
	return nil
}

// BalanceOf returns a copy of the account's balance of asset.
func (l *Ledger) BalanceOf(asset, account common.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance(asset, account).Clone()
}

func (l *Ledger) balance(asset, account common.Address) *uint256.Int {
	accounts, ok := l.balances[asset]
	if !ok {
		accounts = make(map[common.Address]*uint256.Int)
		l.balances[asset] = accounts
	}
	bal, ok := accounts[account]
	if !ok {
		bal = uint256.NewInt(0)
		accounts[account] = bal
	}
	return bal
}

func (l *Ledger) credit(asset, to common.Address, amount *uint256.Int) {
	bal := l.balance(asset, to)
	bal.Add(bal, amount)
}
