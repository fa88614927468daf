// Package engine enforces the solvency invariant over the position ledger:
// aggregate minted debt stays at or below the risk-adjusted value of the
// collateral backing it, for every account, at every state-changing
// boundary.
package engine

import (
	"fmt"
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/crucible-fi/crucible/pkg/core/ledger"
	"github.com/crucible-fi/crucible/pkg/core/registry"
	"github.com/crucible-fi/crucible/pkg/token"
)

// Engine is the collateral/debt solvency engine. All ledger mutation is
// funneled through it; the debt token and collateral tokens are untrusted
// external collaborators reached only through their interfaces.
type Engine struct {
	address    common.Address // custody identity for token movements
	registry   *registry.Registry
	ledger     *ledger.Ledger
	debt       token.DebtToken
	collateral map[common.Address]token.Token
	emitter    Emitter
	log        *zap.Logger

	// busy guards every mutating entry point against reentrancy. The
	// token call-outs inside an operation are untrusted; a nested call
	// back into the engine must fail, not interleave.
	busy atomic.Bool
}

// Config wires an Engine. Collateral must hold a token binding for every
// asset in the registry.
type Config struct {
	Address    common.Address
	Registry   *registry.Registry
	Ledger     *ledger.Ledger
	DebtToken  token.DebtToken
	Collateral map[common.Address]token.Token
	Emitter    Emitter
	Logger     *zap.Logger
}

func New(cfg Config) (*Engine, error) {
	if cfg.Registry == nil || cfg.Ledger == nil || cfg.DebtToken == nil {
		return nil, fmt.Errorf("engine: registry, ledger, and debt token are required")
	}
	for _, asset := range cfg.Registry.Assets() {
		if _, ok := cfg.Collateral[asset]; !ok {
			return nil, fmt.Errorf("engine: no token binding for collateral %s", asset.Hex())
		}
	}
	if cfg.Emitter == nil {
		cfg.Emitter = nopEmitter{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Engine{
		address:    cfg.Address,
		registry:   cfg.Registry,
		ledger:     cfg.Ledger,
		debt:       cfg.DebtToken,
		collateral: cfg.Collateral,
		emitter:    cfg.Emitter,
		log:        cfg.Logger,
	}, nil
}

// Registry exposes the collateral registry for the read surface.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// SetEmitter swaps the event sink. Wiring-time only, before the engine
// starts taking operations.
func (e *Engine) SetEmitter(em Emitter) {
	if em == nil {
		em = nopEmitter{}
	}
	e.emitter = em
}

// Address returns the engine's custody identity.
func (e *Engine) Address() common.Address { return e.address }

// enter takes the engine-wide reentrancy flag.
func (e *Engine) enter() error {
	if !e.busy.CompareAndSwap(false, true) {
		return ErrReentrancy
	}
	return nil
}

func (e *Engine) exit() { e.busy.Store(false) }

// DepositCollateral pulls amount of asset from the caller into engine
// custody and credits the caller's collateral balance. Depositing can only
// improve health, so no invariant check follows.
func (e *Engine) DepositCollateral(caller, asset common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrAmountZero
	}
	if !e.registry.IsAccepted(asset) {
		return fmt.Errorf("%w: %s", ErrAssetNotAccepted, asset.Hex())
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()

	if err := e.ledger.AddCollateral(caller, asset, amount); err != nil {
		return err
	}

	// Ledger first, transfer second: a reentrant observer sees updated
	// balances, and a failed pull unwinds the credit before returning.
	if !e.collateral[asset].TransferFrom(caller, e.address, amount) {
		if uerr := e.ledger.SubCollateral(caller, asset, amount); uerr != nil {
			return fmt.Errorf("unwinding failed deposit: %v: %w", uerr, ErrTransferFailed)
		}
		return ErrTransferFailed
	}

	e.log.Info("collateral_deposited",
		zap.String("account", caller.Hex()),
		zap.String("asset", asset.Hex()),
		zap.String("amount", amount.String()))
	e.emitter.Emit(CollateralDeposited{Account: caller, Asset: asset, Amount: new(big.Int).Set(amount)})
	return nil
}

// RedeemCollateral debits amount of asset from the caller and transfers it
// back to them. The ledger debit's underflow check is the bound check; the
// health assertion runs against the debited state and must pass before any
// tokens leave custody.
func (e *Engine) RedeemCollateral(caller, asset common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrAmountZero
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()

	if err := e.redeemCollateral(caller, caller, asset, amount); err != nil {
		return err
	}
	return nil
}

// redeemCollateral moves amount of asset out of from's balance to the
// recipient's wallet, asserting from's health against the debited state.
// Any failure restores the balance before returning. Callers hold the
// reentrancy flag.
func (e *Engine) redeemCollateral(from, to, asset common.Address, amount *big.Int) error {
	if err := e.ledger.SubCollateral(from, asset, amount); err != nil {
		return err
	}

	restore := func() error { return e.ledger.AddCollateral(from, asset, amount) }

	if err := e.revertIfHealthBroken(from); err != nil {
		if rerr := restore(); rerr != nil {
			return fmt.Errorf("restoring after failed redeem: %v: %w", rerr, err)
		}
		return err
	}

	if !e.collateral[asset].Transfer(to, amount) {
		if rerr := restore(); rerr != nil {
			return fmt.Errorf("restoring after failed redeem: %v: %w", rerr, ErrTransferFailed)
		}
		return ErrTransferFailed
	}

	e.log.Info("collateral_redeemed",
		zap.String("from", from.Hex()),
		zap.String("to", to.Hex()),
		zap.String("asset", asset.Hex()),
		zap.String("amount", amount.String()))
	e.emitter.Emit(CollateralRedeemed{From: from, To: to, Asset: asset, Amount: new(big.Int).Set(amount)})
	return nil
}

// MintDebt raises the caller's minted-debt counter and, only once the
// health assertion has passed against the raised counter, mints debt
// tokens to them. A failed assertion leaves no token-level side effect.
func (e *Engine) MintDebt(caller common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrAmountZero
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()

	return e.mintDebt(caller, amount)
}

// mintDebt is MintDebt without the guard, for composition.
func (e *Engine) mintDebt(caller common.Address, amount *big.Int) error {
	if err := e.ledger.AddDebt(caller, amount); err != nil {
		return err
	}

	restore := func() error { return e.ledger.SubDebt(caller, amount) }

	if err := e.revertIfHealthBroken(caller); err != nil {
		if rerr := restore(); rerr != nil {
			return fmt.Errorf("restoring after failed mint: %v: %w", rerr, err)
		}
		return err
	}

	if !e.debt.Mint(caller, amount) {
		if rerr := restore(); rerr != nil {
			return fmt.Errorf("restoring after failed mint: %v: %w", rerr, ErrMintFailed)
		}
		return ErrMintFailed
	}

	e.log.Info("debt_minted",
		zap.String("account", caller.Hex()),
		zap.String("amount", amount.String()))
	e.emitter.Emit(DebtMinted{Account: caller, Amount: new(big.Int).Set(amount)})
	return nil
}

// BurnDebt lowers the caller's minted-debt counter, pulls the debt tokens
// in, and burns them. Burning can only improve health; the closing
// assertion is kept anyway as a defense against miscomputation.
func (e *Engine) BurnDebt(caller common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrAmountZero
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()

	if err := e.burnDebt(caller, caller, amount); err != nil {
		return err
	}

	// Defensive: burning can only improve health, but the re-check is
	// cheap and guards against miscomputation. It also fails on a stale
	// oracle, in which case the burn unwinds to keep the op atomic.
	if err := e.revertIfHealthBroken(caller); err != nil {
		if uerr := e.ledger.AddDebt(caller, amount); uerr != nil {
			return fmt.Errorf("unwinding burn after failed check: %v: %w", uerr, err)
		}
		if !e.debt.Mint(caller, amount) {
			return fmt.Errorf("reminting debt after failed check: %v: %w", ErrMintFailed, err)
		}
		return err
	}
	return nil
}

// burnDebt repays amount of onBehalfOf's debt with tokens pulled from
// payer. The counter falls first (underflow-checked); a failed pull or
// burn restores it, and a failed burn also returns the pulled tokens.
// Callers hold the reentrancy flag.
func (e *Engine) burnDebt(onBehalfOf, payer common.Address, amount *big.Int) error {
	if err := e.ledger.SubDebt(onBehalfOf, amount); err != nil {
		return err
	}

	if !e.debt.TransferFrom(payer, e.address, amount) {
		if rerr := e.ledger.AddDebt(onBehalfOf, amount); rerr != nil {
			return fmt.Errorf("restoring after failed burn: %v: %w", rerr, ErrTransferFailed)
		}
		return ErrTransferFailed
	}

	if err := e.debt.Burn(amount); err != nil {
		if rerr := e.ledger.AddDebt(onBehalfOf, amount); rerr != nil {
			return fmt.Errorf("restoring after failed burn: %v: %w", rerr, err)
		}
		if !e.debt.Transfer(payer, amount) {
			return fmt.Errorf("returning tokens after failed burn: %w: %v", ErrTransferFailed, err)
		}
		return fmt.Errorf("engine: debt burn: %w", err)
	}

	e.log.Info("debt_burned",
		zap.String("account", onBehalfOf.Hex()),
		zap.String("payer", payer.Hex()),
		zap.String("amount", amount.String()))
	e.emitter.Emit(DebtBurned{Account: onBehalfOf, Payer: payer, Amount: new(big.Int).Set(amount)})
	return nil
}

// DepositCollateralAndMint atomically deposits collateral and mints debt
// against it. A failed mint unwinds the deposit, returning the pulled
// collateral to the caller.
func (e *Engine) DepositCollateralAndMint(caller, asset common.Address, collateralAmount, debtAmount *big.Int) error {
	if collateralAmount == nil || collateralAmount.Sign() <= 0 || debtAmount == nil || debtAmount.Sign() <= 0 {
		return ErrAmountZero
	}
	if !e.registry.IsAccepted(asset) {
		return fmt.Errorf("%w: %s", ErrAssetNotAccepted, asset.Hex())
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()

	if err := e.ledger.AddCollateral(caller, asset, collateralAmount); err != nil {
		return err
	}
	if !e.collateral[asset].TransferFrom(caller, e.address, collateralAmount) {
		if uerr := e.ledger.SubCollateral(caller, asset, collateralAmount); uerr != nil {
			return fmt.Errorf("unwinding failed deposit: %v: %w", uerr, ErrTransferFailed)
		}
		return ErrTransferFailed
	}

	if err := e.mintDebt(caller, debtAmount); err != nil {
		// Unwind the deposit: debit the credit and hand the tokens back.
		if uerr := e.ledger.SubCollateral(caller, asset, collateralAmount); uerr != nil {
			return fmt.Errorf("unwinding deposit after failed mint: %v: %w", uerr, err)
		}
		if !e.collateral[asset].Transfer(caller, collateralAmount) {
			return fmt.Errorf("returning collateral after failed mint: %v: %w", ErrTransferFailed, err)
		}
		return err
	}

	e.emitter.Emit(CollateralDeposited{Account: caller, Asset: asset, Amount: new(big.Int).Set(collateralAmount)})
	return nil
}

// RedeemCollateralForDebt atomically burns debt and redeems collateral,
// burn first so the intermediate state is solvent or neutral.
func (e *Engine) RedeemCollateralForDebt(caller, asset common.Address, collateralAmount, debtAmount *big.Int) error {
	if collateralAmount == nil || collateralAmount.Sign() <= 0 || debtAmount == nil || debtAmount.Sign() <= 0 {
		return ErrAmountZero
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()

	if err := e.burnDebt(caller, caller, debtAmount); err != nil {
		return err
	}

	if err := e.redeemCollateral(caller, caller, asset, collateralAmount); err != nil {
		// Unwind the burn: raise the counter and mint the tokens back.
		if uerr := e.ledger.AddDebt(caller, debtAmount); uerr != nil {
			return fmt.Errorf("unwinding burn after failed redeem: %v: %w", uerr, err)
		}
		if !e.debt.Mint(caller, debtAmount) {
			return fmt.Errorf("reminting debt after failed redeem: %v: %w", ErrMintFailed, err)
		}
		return err
	}
	return nil
}

// AccountInformation returns the account's minted debt and total USD
// collateral value. Read-only.
func (e *Engine) AccountInformation(account common.Address) (debt, collateralUsd *big.Int, err error) {
	collateralUsd, err = e.AccountCollateralValue(account)
	if err != nil {
		return nil, nil, err
	}
	return e.ledger.DebtOf(account), collateralUsd, nil
}

// CollateralBalance returns the account's deposited balance of one asset.
func (e *Engine) CollateralBalance(account, asset common.Address) *big.Int {
	return e.ledger.CollateralOf(account, asset)
}
