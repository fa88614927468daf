// Package ledger owns per-account collateral and minted-debt balances.
// It is pure bookkeeping: solvency rules live in the engine, which is the
// only mutation path.
package ledger

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Position is one account's state: collateral balance per asset plus the
// minted-debt counter. Created implicitly on first touch and never
// reclaimed, even when every balance returns to zero.
type Position struct {
	Account    common.Address              `json:"account"`
	Collateral map[common.Address]*big.Int `json:"collateral"`
	DebtMinted *big.Int                    `json:"debtMinted"`
}

func newPosition(account common.Address) *Position {
	return &Position{
		Account:    account,
		Collateral: make(map[common.Address]*big.Int),
		DebtMinted: new(big.Int),
	}
}

// collateral returns the live balance entry for asset, creating it at zero.
func (p *Position) collateral(asset common.Address) *big.Int {
	bal, ok := p.Collateral[asset]
	if !ok {
		bal = new(big.Int)
		p.Collateral[asset] = bal
	}
	return bal
}

// Ledger is the shared position store: an in-memory map in front of an
// optional pebble-backed Store. Individual methods are thread-safe; the
// engine's reentrancy guard serializes multi-step mutations.
type Ledger struct {
	mu        sync.RWMutex
	positions map[common.Address]*Position
	store     *Store
}

// NewLedger creates a ledger persisted through store. A nil store keeps the
// ledger purely in memory (tests, dry runs).
func NewLedger(store *Store) *Ledger {
	return &Ledger{
		positions: make(map[common.Address]*Position),
		store:     store,
	}
}

// NewMemory creates an in-memory ledger with no persistence.
func NewMemory() *Ledger {
	return NewLedger(nil)
}

// Close releases the backing store, if any.
func (l *Ledger) Close() error {
	if l.store == nil {
		return nil
	}
	return l.store.Close()
}

// position returns the live record for account, loading from the store on
// a cache miss and creating a zero record otherwise. Callers hold l.mu.
func (l *Ledger) position(account common.Address) *Position {
	pos, ok := l.positions[account]
	if ok {
		return pos
	}

	if l.store != nil {
		loaded, err := l.store.LoadPosition(account)
		if err == nil && loaded != nil {
			l.positions[account] = loaded
			return loaded
		}
	}

	pos = newPosition(account)
	l.positions[account] = pos
	return pos
}

// persist writes account's record through the store. Callers hold l.mu.
func (l *Ledger) persist(pos *Position) error {
	if l.store == nil {
		return nil
	}
	return l.store.SavePosition(pos)
}

// CollateralOf returns the account's balance of one asset (copy).
func (l *Ledger) CollateralOf(account, asset common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.position(account).collateral(asset))
}

// DebtOf returns the account's minted-debt counter (copy).
func (l *Ledger) DebtOf(account common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.position(account).DebtMinted)
}

// AddCollateral credits amount of asset to account.
func (l *Ledger) AddCollateral(account, asset common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos := l.position(account)
	bal := pos.collateral(asset)
	bal.Add(bal, amount)
	return l.persist(pos)
}

// SubCollateral debits amount of asset from account. Fails without mutating
// when the balance is insufficient; this underflow check is the only bound
// check redemption relies on.
func (l *Ledger) SubCollateral(account, asset common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos := l.position(account)
	bal := pos.collateral(asset)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("ledger: collateral underflow for %s asset %s: have %s, need %s",
			account.Hex(), asset.Hex(), bal, amount)
	}
	bal.Sub(bal, amount)
	return l.persist(pos)
}

// AddDebt increases the account's minted-debt counter.
func (l *Ledger) AddDebt(account common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos := l.position(account)
	pos.DebtMinted.Add(pos.DebtMinted, amount)
	return l.persist(pos)
}

// SubDebt decreases the account's minted-debt counter, underflow-checked.
func (l *Ledger) SubDebt(account common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos := l.position(account)
	if pos.DebtMinted.Cmp(amount) < 0 {
		return fmt.Errorf("ledger: debt underflow for %s: minted %s, burn %s",
			account.Hex(), pos.DebtMinted, amount)
	}
	pos.DebtMinted.Sub(pos.DebtMinted, amount)
	return l.persist(pos)
}

// Accounts returns every account the ledger has touched.
func (l *Ledger) Accounts() []common.Address {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]common.Address, 0, len(l.positions))
	for addr := range l.positions {
		out = append(out, addr)
	}
	return out
}
