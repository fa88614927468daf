package engine

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Event is an observable side effect of a mutating operation. Events are
// emitted only after the whole operation has succeeded.
type Event interface {
	Channel() string
}

// Emitter fans events out to subscribers (the API websocket hub in the
// node wiring). Implementations must not block the engine.
type Emitter interface {
	Emit(Event)
}

type nopEmitter struct{}

func (nopEmitter) Emit(Event) {}

type CollateralDeposited struct {
	Account common.Address `json:"account"`
	Asset   common.Address `json:"asset"`
	Amount  *big.Int       `json:"amount"`
}

func (CollateralDeposited) Channel() string { return "deposits" }

// CollateralRedeemed reports collateral leaving an account's balance. Under
// liquidation the recipient differs from the account whose balance fell.
type CollateralRedeemed struct {
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Asset  common.Address `json:"asset"`
	Amount *big.Int       `json:"amount"`
}

func (CollateralRedeemed) Channel() string { return "redemptions" }

type DebtMinted struct {
	Account common.Address `json:"account"`
	Amount  *big.Int       `json:"amount"`
}

func (DebtMinted) Channel() string { return "debt" }

type DebtBurned struct {
	Account common.Address `json:"account"`
	Payer   common.Address `json:"payer"`
	Amount  *big.Int       `json:"amount"`
}

func (DebtBurned) Channel() string { return "debt" }

type Liquidated struct {
	Target           common.Address `json:"target"`
	Liquidator       common.Address `json:"liquidator"`
	Asset            common.Address `json:"asset"`
	DebtCovered      *big.Int       `json:"debtCovered"`
	CollateralSeized *big.Int       `json:"collateralSeized"`
}

func (Liquidated) Channel() string { return "liquidations" }
