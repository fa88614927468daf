package api

// CollateralInfo describes one registry entry for the read API.
type CollateralInfo struct {
	Asset      string `json:"asset"`
	Feed       string `json:"feed"`
	Price      string `json:"price,omitempty"`
	PriceError string `json:"priceError,omitempty"`
	UpdatedAt  int64  `json:"updatedAt,omitempty"`
	Decimals   uint8  `json:"decimals"`
}

// AccountInfo is the solvency snapshot for one account.
type AccountInfo struct {
	Address            string `json:"address"`
	DebtMinted         string `json:"debtMinted"`
	CollateralValueUsd string `json:"collateralValueUsd"`
	HealthFactor       string `json:"healthFactor"`
	Liquidatable       bool   `json:"liquidatable"`
}

// CollateralBalance is one account's deposited balance of one asset.
type CollateralBalance struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
}

// Constants exposes the fixed-point engine parameters for off-chain
// tooling (liquidation bots, dashboards).
type Constants struct {
	Precision            string `json:"precision"`
	FeedPrecisionGap     string `json:"feedPrecisionGap"`
	LiquidationThreshold string `json:"liquidationThreshold"`
	LiquidationPrecision string `json:"liquidationPrecision"`
	LiquidationBonus     string `json:"liquidationBonus"`
	MinHealthFactor      string `json:"minHealthFactor"`
	StalenessTimeoutSec  int64  `json:"stalenessTimeoutSec"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
