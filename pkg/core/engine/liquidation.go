package engine

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/crucible-fi/crucible/params"
)

// Liquidate lets any caller repay debtToCover of target's debt in exchange
// for the equivalent quantity of asset plus a 10% bonus, provided the
// target is unhealthy and the repayment strictly improves its health.
//
// The seizure runs through the same internal redeem path as a normal
// redemption, so it underflows when the target does not hold enough of
// this particular asset: liquidators must pick an asset the target
// actually holds in sufficient quantity.
func (e *Engine) Liquidate(caller, asset, target common.Address, debtToCover *big.Int) error {
	if debtToCover == nil || debtToCover.Sign() <= 0 {
		return ErrAmountZero
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()

	startingHealth, err := e.HealthFactor(target)
	if err != nil {
		return err
	}
	if startingHealth.Cmp(params.MinHealthFactor) >= 0 {
		return fmt.Errorf("%w: target %s health %s", ErrHealthFactorOk, target.Hex(), startingHealth)
	}

	baseAmount, err := e.TokenAmountFromUsd(asset, debtToCover)
	if err != nil {
		return err
	}
	bonus := new(big.Int).Mul(baseAmount, params.LiquidationBonus)
	bonus.Div(bonus, params.LiquidationPrecision)
	seize := new(big.Int).Add(baseAmount, bonus)

	// Debit the target's collateral before anything irreversible; the
	// underflow check doubles as the hold-enough-of-this-asset check.
	if err := e.ledger.SubCollateral(target, asset, seize); err != nil {
		return err
	}

	// restore unwinds everything done so far. Steps append as they land.
	undoSeize := func() error { return e.ledger.AddCollateral(target, asset, seize) }

	// Repay on the target's behalf with the liquidator's debt tokens.
	if err := e.burnDebt(target, caller, debtToCover); err != nil {
		if rerr := undoSeize(); rerr != nil {
			return fmt.Errorf("restoring after failed liquidation: %v: %w", rerr, err)
		}
		return err
	}

	restore := func() error {
		if err := e.ledger.AddDebt(target, debtToCover); err != nil {
			return err
		}
		if !e.debt.Mint(caller, debtToCover) {
			return ErrMintFailed
		}
		return undoSeize()
	}

	endingHealth, err := e.HealthFactor(target)
	if err == nil && endingHealth.Cmp(startingHealth) <= 0 {
		err = fmt.Errorf("%w: %s -> %s", ErrHealthFactorNotImproved, startingHealth, endingHealth)
	}
	// The liquidator must not end up insolvent either: the same primitives
	// compose this call, and any pre-existing debt of theirs still counts.
	if err == nil {
		err = e.revertIfHealthBroken(caller)
	}
	if err != nil {
		if rerr := restore(); rerr != nil {
			return fmt.Errorf("restoring after failed liquidation: %v: %w", rerr, err)
		}
		return err
	}

	// All checks passed: hand the seized collateral to the liquidator.
	if !e.collateral[asset].Transfer(caller, seize) {
		if rerr := restore(); rerr != nil {
			return fmt.Errorf("restoring after failed liquidation: %v: %w", rerr, ErrTransferFailed)
		}
		return ErrTransferFailed
	}

	e.log.Info("liquidated",
		zap.String("target", target.Hex()),
		zap.String("liquidator", caller.Hex()),
		zap.String("asset", asset.Hex()),
		zap.String("debt_covered", debtToCover.String()),
		zap.String("collateral_seized", seize.String()),
		zap.String("health_before", startingHealth.String()),
		zap.String("health_after", endingHealth.String()))
	e.emitter.Emit(CollateralRedeemed{From: target, To: caller, Asset: asset, Amount: new(big.Int).Set(seize)})
	e.emitter.Emit(Liquidated{
		Target:           target,
		Liquidator:       caller,
		Asset:            asset,
		DebtCovered:      new(big.Int).Set(debtToCover),
		CollateralSeized: seize,
	})
	return nil
}
