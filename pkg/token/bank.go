package token

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrAmountZero      = errors.New("token: amount must exceed zero")
	ErrBurnExceedsHeld = errors.New("token: burn exceeds balance")
)

// Bank is an in-process fungible token with balances, allowances, and
// mint/burn, mirroring the ERC-20 state machine. Transfers report success
// with a bool and apply atomically or not at all.
//
// An on-chain token resolves the caller from msg.sender; in-process there
// is no ambient caller, so a Bank is bound to one operator address (the
// engine). Transfer spends the operator's balance, TransferFrom spends the
// operator's allowance, and Burn destroys from the operator's balance
// context. Whoever holds the *Bank pointer holds mint authority, which in
// the node wiring is the engine alone.
type Bank struct {
	mu         sync.Mutex
	name       string
	operator   common.Address
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
	supply     *big.Int
}

func NewBank(name string, operator common.Address) *Bank {
	return &Bank{
		name:       name,
		operator:   operator,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
		supply:     new(big.Int),
	}
}

func (b *Bank) Name() string { return b.name }

func (b *Bank) TotalSupply() *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.supply)
}

func (b *Bank) BalanceOf(account common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.balance(account))
}

// balance returns the live balance entry, creating it at zero. Callers hold b.mu.
func (b *Bank) balance(account common.Address) *big.Int {
	bal, ok := b.balances[account]
	if !ok {
		bal = new(big.Int)
		b.balances[account] = bal
	}
	return bal
}

// Transfer moves tokens out of the operator's balance.
func (b *Bank) Transfer(to common.Address, amount *big.Int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.move(b.operator, to, amount)
}

// TransferFrom moves tokens on the operator's behalf, consuming from's
// allowance to the operator unless from is the operator itself.
func (b *Bank) TransferFrom(from, to common.Address, amount *big.Int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if from != b.operator {
		allowed := b.allowance(from, b.operator)
		if amount == nil || allowed.Cmp(amount) < 0 {
			return false
		}
		if !b.move(from, to, amount) {
			return false
		}
		allowed.Sub(allowed, amount)
		return true
	}
	return b.move(from, to, amount)
}

// move debits from and credits to. Callers hold b.mu.
func (b *Bank) move(from, to common.Address, amount *big.Int) bool {
	if amount == nil || amount.Sign() <= 0 {
		return false
	}
	src := b.balance(from)
	if src.Cmp(amount) < 0 {
		return false
	}
	src.Sub(src, amount)
	b.balance(to).Add(b.balance(to), amount)
	return true
}

func (b *Bank) Approve(owner, spender common.Address, amount *big.Int) bool {
	if amount == nil || amount.Sign() < 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allowance(owner, spender).Set(amount)
	return true
}

func (b *Bank) Allowance(owner, spender common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.allowance(owner, spender))
}

// allowance returns the live allowance entry, creating it at zero. Callers hold b.mu.
func (b *Bank) allowance(owner, spender common.Address) *big.Int {
	inner, ok := b.allowances[owner]
	if !ok {
		inner = make(map[common.Address]*big.Int)
		b.allowances[owner] = inner
	}
	amt, ok := inner[spender]
	if !ok {
		amt = new(big.Int)
		inner[spender] = amt
	}
	return amt
}

// Mint creates new tokens for to.
func (b *Bank) Mint(to common.Address, amount *big.Int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return false
	}
	b.balance(to).Add(b.balance(to), amount)
	b.supply.Add(b.supply, amount)
	return true
}

// Burn destroys tokens from the operator's balance context.
func (b *Bank) Burn(amount *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return ErrAmountZero
	}
	held := b.balance(b.operator)
	if held.Cmp(amount) < 0 {
		return ErrBurnExceedsHeld
	}
	held.Sub(held, amount)
	b.supply.Sub(b.supply, amount)
	return nil
}
