package engine

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethmath "github.com/ethereum/go-ethereum/common/math"

	"github.com/crucible-fi/crucible/params"
)

// healthFactor computes the solvency score from a minted-debt total and a
// USD collateral value, both 1e18 fixed point:
//
//	(collateralUsd * threshold / thresholdPrecision) * 1e18 / debt
//
// A debt-free account gets the max-uint256 sentinel: never liquidatable,
// never blocks minting. big.Int intermediates make the double product safe
// at any collateral size; division truncates toward zero.
func healthFactor(debt, collateralUsd *big.Int) *big.Int {
	if debt.Sign() == 0 {
		return new(big.Int).Set(gethmath.MaxBig256)
	}

	adjusted := new(big.Int).Mul(collateralUsd, params.LiquidationThreshold)
	adjusted.Div(adjusted, params.LiquidationPrecision)
	adjusted.Mul(adjusted, params.Precision)
	return adjusted.Div(adjusted, debt)
}

// HealthFactor recomputes an account's solvency score from the live ledger
// and oracle state. Read-only; fails if any feed backing the account's
// collateral is stale.
func (e *Engine) HealthFactor(account common.Address) (*big.Int, error) {
	collateralUsd, err := e.AccountCollateralValue(account)
	if err != nil {
		return nil, err
	}
	return healthFactor(e.ledger.DebtOf(account), collateralUsd), nil
}

// revertIfHealthBroken recomputes the account's health factor and fails
// when it sits below the minimum. Called at the end of every operation that
// increases debt or decreases collateral for the account.
func (e *Engine) revertIfHealthBroken(account common.Address) error {
	hf, err := e.HealthFactor(account)
	if err != nil {
		return err
	}
	if hf.Cmp(params.MinHealthFactor) < 0 {
		return &BreaksHealthFactorError{Account: account, HealthFactor: hf}
	}
	return nil
}
