// Package token defines the fungible-token contracts the engine consumes
// and an in-process implementation used by the node and tests.
package token

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Token is the standard fungible-token surface the engine relies on for
// collateral assets. A false return means the transfer did not happen;
// implementations never partially apply.
type Token interface {
	Transfer(to common.Address, amount *big.Int) bool
	TransferFrom(from, to common.Address, amount *big.Int) bool
	Approve(owner, spender common.Address, amount *big.Int) bool
	BalanceOf(account common.Address) *big.Int
}

// DebtToken is the mintable/burnable synthetic unit. Mint and Burn are
// owner-gated: only the engine holding the token may call them.
type DebtToken interface {
	Token
	Mint(to common.Address, amount *big.Int) bool
	Burn(amount *big.Int) error
}
