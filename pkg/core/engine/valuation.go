package engine

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/crucible-fi/crucible/params"
)

// UsdValue converts a collateral quantity to 1e18 USD value using the
// asset's guarded feed. The 8-decimal feed price is lifted to 18 decimals
// before the multiply; the oracle is re-read on every call, never cached.
func (e *Engine) UsdValue(asset common.Address, amount *big.Int) (*big.Int, error) {
	feed, err := e.registry.Feed(asset)
	if err != nil {
		return nil, err
	}
	price, _, err := feed.LatestPrice()
	if err != nil {
		return nil, fmt.Errorf("valuing %s: %w", asset.Hex(), err)
	}

	norm := new(big.Int).Mul(price, params.FeedPrecisionGap)
	norm.Mul(norm, amount)
	return norm.Div(norm, params.Precision), nil
}

// TokenAmountFromUsd is the inverse conversion: how much of asset a 1e18
// USD amount buys at the current guarded price. The guard has already
// rejected non-positive prices, so the divisor is never zero.
func (e *Engine) TokenAmountFromUsd(asset common.Address, usdAmount *big.Int) (*big.Int, error) {
	feed, err := e.registry.Feed(asset)
	if err != nil {
		return nil, err
	}
	price, _, err := feed.LatestPrice()
	if err != nil {
		return nil, fmt.Errorf("pricing %s: %w", asset.Hex(), err)
	}

	norm := new(big.Int).Mul(price, params.FeedPrecisionGap)
	out := new(big.Int).Mul(usdAmount, params.Precision)
	return out.Div(out, norm), nil
}

// AccountCollateralValue sums the USD value of every registered asset the
// account holds, in registry enumeration order. Zero balances go through
// the same valuation path, so a stale feed freezes the whole account even
// when the affected balance is zero. A duplicated registry entry is counted
// once per enumeration entry.
func (e *Engine) AccountCollateralValue(account common.Address) (*big.Int, error) {
	total := new(big.Int)
	for _, asset := range e.registry.Assets() {
		balance := e.ledger.CollateralOf(account, asset)
		value, err := e.UsdValue(asset, balance)
		if err != nil {
			return nil, err
		}
		total.Add(total, value)
	}
	return total, nil
}
