package engine

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrAmountZero rejects zero-amount calls to every mutating operation.
	// This is a public precondition, not an internal optimization.
	ErrAmountZero = errors.New("engine: amount needs to be more than zero")

	// ErrAssetNotAccepted rejects collateral the registry does not know.
	ErrAssetNotAccepted = errors.New("engine: collateral asset not accepted")

	// ErrTransferFailed surfaces a token transfer that reported failure.
	ErrTransferFailed = errors.New("engine: token transfer failed")

	// ErrMintFailed surfaces a debt-token mint that reported failure.
	ErrMintFailed = errors.New("engine: debt token mint failed")

	// ErrReentrancy rejects a nested call into a mutating entry point while
	// another mutating operation is still executing.
	ErrReentrancy = errors.New("engine: reentrant call")

	// ErrBreaksHealthFactor marks an operation that would leave the acting
	// account below the minimum health factor.
	ErrBreaksHealthFactor = errors.New("engine: breaks health factor")

	// ErrHealthFactorOk rejects liquidation of a healthy account.
	ErrHealthFactorOk = errors.New("engine: health factor ok")

	// ErrHealthFactorNotImproved rejects a liquidation that did not
	// strictly improve the target's health factor.
	ErrHealthFactorNotImproved = errors.New("engine: health factor not improved")
)

// BreaksHealthFactorError carries the offending health factor value.
// errors.Is(err, ErrBreaksHealthFactor) matches it.
type BreaksHealthFactorError struct {
	Account      common.Address
	HealthFactor *big.Int
}

func (e *BreaksHealthFactorError) Error() string {
	return fmt.Sprintf("engine: breaks health factor: account %s health %s below minimum",
		e.Account.Hex(), e.HealthFactor)
}

func (e *BreaksHealthFactorError) Unwrap() error { return ErrBreaksHealthFactor }
