package engine

import (
	"math/big"
	"testing"
)

func TestUsdValue(t *testing.T) {
	h := newHarness(t)

	// 10 WETH at $2000 = $20,000.
	got, err := h.eng.UsdValue(assetWETH, units(10))
	if err != nil {
		t.Fatalf("usd value: %v", err)
	}
	if got.Cmp(units(20000)) != 0 {
		t.Errorf("value = %s, want 20000", got)
	}

	// 2 WBTC at $30,000 = $60,000.
	got, err = h.eng.UsdValue(assetWBTC, units(2))
	if err != nil {
		t.Fatalf("usd value: %v", err)
	}
	if got.Cmp(units(60000)) != 0 {
		t.Errorf("value = %s, want 60000", got)
	}
}

func TestTokenAmountFromUsd(t *testing.T) {
	h := newHarness(t)

	// $100 at $2000/WETH = 0.05 WETH.
	got, err := h.eng.TokenAmountFromUsd(assetWETH, units(100))
	if err != nil {
		t.Fatalf("token amount: %v", err)
	}
	want := new(big.Int).Div(units(1), big.NewInt(20))
	if got.Cmp(want) != 0 {
		t.Errorf("amount = %s, want %s", got, want)
	}
}

func TestUnregisteredAssetFailsValuation(t *testing.T) {
	h := newHarness(t)
	if _, err := h.eng.UsdValue(dscAddr, units(1)); err == nil {
		t.Error("expected error valuing unregistered asset")
	}
	if _, err := h.eng.TokenAmountFromUsd(dscAddr, units(1)); err == nil {
		t.Error("expected error pricing unregistered asset")
	}
}

// TestRoundTripValuation checks amountFromUsd(usdValue(x)) == x up to the
// truncation loss of integer division, bounded by one base unit.
func TestRoundTripValuation(t *testing.T) {
	h := newHarness(t)

	// An awkward price to force truncation: $3333.12345678.
	h.feedWETH.Set(big.NewInt(3333_12345678))

	one := big.NewInt(1)
	for _, amount := range []*big.Int{
		big.NewInt(1),
		big.NewInt(999_999_999),
		units(1),
		units(12345),
		new(big.Int).Sub(units(7), one),
	} {
		value, err := h.eng.UsdValue(assetWETH, amount)
		if err != nil {
			t.Fatalf("usd value: %v", err)
		}
		back, err := h.eng.TokenAmountFromUsd(assetWETH, value)
		if err != nil {
			t.Fatalf("token amount: %v", err)
		}

		diff := new(big.Int).Sub(amount, back)
		if diff.Sign() < 0 || diff.Cmp(one) > 0 {
			t.Errorf("amount %s: round trip %s, diff %s exceeds one unit", amount, back, diff)
		}
	}
}

func TestAccountCollateralValueSumsAllAssets(t *testing.T) {
	h := newHarness(t)
	h.fund(t, h.weth, user, units(10))
	h.fund(t, h.wbtc, user, units(2))

	if err := h.eng.DepositCollateral(user, assetWETH, units(10)); err != nil {
		t.Fatalf("deposit weth: %v", err)
	}
	if err := h.eng.DepositCollateral(user, assetWBTC, units(2)); err != nil {
		t.Fatalf("deposit wbtc: %v", err)
	}

	// 10 * $2000 + 2 * $30,000 = $80,000.
	value, err := h.eng.AccountCollateralValue(user)
	if err != nil {
		t.Fatalf("collateral value: %v", err)
	}
	if value.Cmp(units(80000)) != 0 {
		t.Errorf("value = %s, want 80000", value)
	}
}
