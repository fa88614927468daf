package engine

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/crucible-fi/crucible/params"
	"github.com/crucible-fi/crucible/pkg/core/ledger"
	"github.com/crucible-fi/crucible/pkg/core/registry"
	"github.com/crucible-fi/crucible/pkg/oracle"
	"github.com/crucible-fi/crucible/pkg/token"
	"github.com/crucible-fi/crucible/pkg/util"
)

var (
	engineAddr = common.HexToAddress("0xEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEE")
	user       = common.HexToAddress("0x1111111111111111111111111111111111111111")
	liquidator = common.HexToAddress("0x2222222222222222222222222222222222222222")

	assetWETH = common.HexToAddress("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	assetWBTC = common.HexToAddress("0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB")
	dscAddr   = common.HexToAddress("0xDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDD")
)

// units converts whole tokens to 18-decimal base units.
func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), params.Precision)
}

// feedPrice converts a whole-dollar price to 8-decimal feed units.
func feedPrice(usd int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(usd), big.NewInt(1e8))
}

type harness struct {
	clock    *util.FakeClock
	feedWETH *oracle.SettableFeed
	feedWBTC *oracle.SettableFeed
	weth     *token.Bank
	wbtc     *token.Bank
	dsc      *token.Bank
	eng      *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	clock := util.NewFakeClock(time.Unix(1_700_000_000, 0))
	feedWETH := oracle.NewSettableFeed("ETH / USD", clock)
	feedWBTC := oracle.NewSettableFeed("BTC / USD", clock)
	feedWETH.Set(feedPrice(2000))
	feedWBTC.Set(feedPrice(30000))

	reg, err := registry.New(
		[]common.Address{assetWETH, assetWBTC},
		[]*oracle.Guard{
			oracle.NewGuard(feedWETH, params.StalenessTimeout, clock),
			oracle.NewGuard(feedWBTC, params.StalenessTimeout, clock),
		},
		dscAddr,
	)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	weth := token.NewBank("WETH", engineAddr)
	wbtc := token.NewBank("WBTC", engineAddr)
	dsc := token.NewBank("DSC", engineAddr)

	eng, err := New(Config{
		Address:   engineAddr,
		Registry:  reg,
		Ledger:    ledger.NewMemory(),
		DebtToken: dsc,
		Collateral: map[common.Address]token.Token{
			assetWETH: weth,
			assetWBTC: wbtc,
		},
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	return &harness{
		clock:    clock,
		feedWETH: feedWETH,
		feedWBTC: feedWBTC,
		weth:     weth,
		wbtc:     wbtc,
		dsc:      dsc,
		eng:      eng,
	}
}

// fund seeds an account with collateral tokens and approves the engine.
func (h *harness) fund(t *testing.T, bank *token.Bank, account common.Address, amount *big.Int) {
	t.Helper()
	if !bank.Mint(account, amount) {
		t.Fatalf("funding %s failed", account.Hex())
	}
	if !bank.Approve(account, engineAddr, amount) {
		t.Fatalf("approving %s failed", account.Hex())
	}
}

func TestDepositCollateral(t *testing.T) {
	h := newHarness(t)
	h.fund(t, h.weth, user, units(10))

	if err := h.eng.DepositCollateral(user, assetWETH, units(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if got := h.eng.CollateralBalance(user, assetWETH); got.Cmp(units(10)) != 0 {
		t.Errorf("ledger balance = %s, want %s", got, units(10))
	}
	if got := h.weth.BalanceOf(engineAddr); got.Cmp(units(10)) != 0 {
		t.Errorf("custody balance = %s, want %s", got, units(10))
	}
	if got := h.weth.BalanceOf(user); got.Sign() != 0 {
		t.Errorf("user wallet = %s, want 0", got)
	}
}

func TestDepositUnregisteredAssetRejected(t *testing.T) {
	h := newHarness(t)
	err := h.eng.DepositCollateral(user, dscAddr, units(1))
	if !errors.Is(err, ErrAssetNotAccepted) {
		t.Fatalf("err = %v, want ErrAssetNotAccepted", err)
	}
}

func TestDepositFailedTransferUnwindsLedger(t *testing.T) {
	h := newHarness(t)
	// No funding, no allowance: the pull must fail.
	err := h.eng.DepositCollateral(user, assetWETH, units(10))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("err = %v, want ErrTransferFailed", err)
	}
	if got := h.eng.CollateralBalance(user, assetWETH); got.Sign() != 0 {
		t.Errorf("ledger balance after failed deposit = %s, want 0", got)
	}
}

func TestZeroAmountRejectedEverywhere(t *testing.T) {
	h := newHarness(t)
	zero := big.NewInt(0)

	cases := []struct {
		name string
		call func() error
	}{
		{"deposit", func() error { return h.eng.DepositCollateral(user, assetWETH, zero) }},
		{"redeem", func() error { return h.eng.RedeemCollateral(user, assetWETH, zero) }},
		{"mint", func() error { return h.eng.MintDebt(user, zero) }},
		{"burn", func() error { return h.eng.BurnDebt(user, zero) }},
		{"depositAndMint", func() error { return h.eng.DepositCollateralAndMint(user, assetWETH, zero, units(1)) }},
		{"redeemForDebt", func() error { return h.eng.RedeemCollateralForDebt(user, assetWETH, units(1), zero) }},
		{"liquidate", func() error { return h.eng.Liquidate(liquidator, assetWETH, user, zero) }},
	}
	for _, tc := range cases {
		if err := tc.call(); !errors.Is(err, ErrAmountZero) {
			t.Errorf("%s: err = %v, want ErrAmountZero", tc.name, err)
		}
	}

	if got := h.eng.CollateralBalance(user, assetWETH); got.Sign() != 0 {
		t.Errorf("balances changed by zero-amount calls")
	}
}

// Scenario A from the design sheet: 10 WETH at $2000 backs up to 10000 DSC.
func TestMintBoundary(t *testing.T) {
	h := newHarness(t)
	h.fund(t, h.weth, user, units(10))

	// $20,000 collateral, 50% threshold -> 10,000 debt capacity.
	if err := h.eng.DepositCollateralAndMint(user, assetWETH, units(10), units(9000)); err != nil {
		t.Fatalf("deposit+mint: %v", err)
	}

	hf, err := h.eng.HealthFactor(user)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	// (20000e18 * 50/100) * 1e18 / 9000e18 = 1.111...e18 (truncated).
	want, _ := new(big.Int).SetString("1111111111111111111", 10)
	if hf.Cmp(want) != 0 {
		t.Errorf("health factor = %s, want %s", hf, want)
	}

	// Up to capacity is allowed: exactly 10000 total puts health at 1.0.
	if err := h.eng.MintDebt(user, units(1000)); err != nil {
		t.Fatalf("mint to boundary: %v", err)
	}

	// One more unit breaks the invariant and must leave no side effect.
	supplyBefore := h.dsc.TotalSupply()
	err = h.eng.MintDebt(user, units(1))
	if !errors.Is(err, ErrBreaksHealthFactor) {
		t.Fatalf("err = %v, want ErrBreaksHealthFactor", err)
	}
	var bhf *BreaksHealthFactorError
	if !errors.As(err, &bhf) {
		t.Fatalf("error does not carry the health factor value")
	}
	if bhf.HealthFactor.Cmp(params.MinHealthFactor) >= 0 {
		t.Errorf("reported health %s not below minimum", bhf.HealthFactor)
	}
	if got := h.dsc.TotalSupply(); got.Cmp(supplyBefore) != 0 {
		t.Errorf("failed mint changed supply: %s -> %s", supplyBefore, got)
	}
	if got := h.dsc.BalanceOf(user); got.Cmp(units(10000)) != 0 {
		t.Errorf("user debt tokens = %s, want %s", got, units(10000))
	}
}

func TestHealthFactorSentinelWithoutDebt(t *testing.T) {
	h := newHarness(t)
	h.fund(t, h.weth, user, units(5))
	if err := h.eng.DepositCollateral(user, assetWETH, units(5)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	hf, err := h.eng.HealthFactor(user)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	if hf.Cmp(max) != 0 {
		t.Errorf("debt-free health = %s, want max uint256", hf)
	}
}

func TestRedeemGuardedByHealth(t *testing.T) {
	h := newHarness(t)
	h.fund(t, h.weth, user, units(10))
	if err := h.eng.DepositCollateralAndMint(user, assetWETH, units(10), units(9000)); err != nil {
		t.Fatalf("deposit+mint: %v", err)
	}

	// 9000 debt needs $18,000 collateral (9 WETH at $2000). Redeeming 1
	// WETH is exactly at the boundary and passes.
	if err := h.eng.RedeemCollateral(user, assetWETH, units(1)); err != nil {
		t.Fatalf("redeem at boundary: %v", err)
	}
	if got := h.weth.BalanceOf(user); got.Cmp(units(1)) != 0 {
		t.Errorf("user wallet = %s, want 1 WETH", got)
	}

	// Any further redemption breaks the invariant; ledger and custody
	// must be untouched afterward.
	err := h.eng.RedeemCollateral(user, assetWETH, units(1))
	if !errors.Is(err, ErrBreaksHealthFactor) {
		t.Fatalf("err = %v, want ErrBreaksHealthFactor", err)
	}
	if got := h.eng.CollateralBalance(user, assetWETH); got.Cmp(units(9)) != 0 {
		t.Errorf("ledger balance = %s, want 9 WETH", got)
	}
	if got := h.weth.BalanceOf(engineAddr); got.Cmp(units(9)) != 0 {
		t.Errorf("custody balance = %s, want 9 WETH", got)
	}
}

func TestRedeemMoreThanBalanceFails(t *testing.T) {
	h := newHarness(t)
	h.fund(t, h.weth, user, units(2))
	if err := h.eng.DepositCollateral(user, assetWETH, units(2)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := h.eng.RedeemCollateral(user, assetWETH, units(3)); err == nil {
		t.Fatal("expected underflow error")
	}
	if got := h.eng.CollateralBalance(user, assetWETH); got.Cmp(units(2)) != 0 {
		t.Errorf("balance changed by failed redeem: %s", got)
	}
}

func TestBurnDebt(t *testing.T) {
	h := newHarness(t)
	h.fund(t, h.weth, user, units(10))
	if err := h.eng.DepositCollateralAndMint(user, assetWETH, units(10), units(4000)); err != nil {
		t.Fatalf("deposit+mint: %v", err)
	}

	// The engine pulls debt tokens before burning.
	if !h.dsc.Approve(user, engineAddr, units(4000)) {
		t.Fatal("approve failed")
	}
	if err := h.eng.BurnDebt(user, units(1500)); err != nil {
		t.Fatalf("burn: %v", err)
	}

	debt, _, err := h.eng.AccountInformation(user)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if debt.Cmp(units(2500)) != 0 {
		t.Errorf("debt = %s, want 2500", debt)
	}
	if got := h.dsc.TotalSupply(); got.Cmp(units(2500)) != 0 {
		t.Errorf("supply = %s, want 2500", got)
	}

	// Burning more than minted underflows the counter.
	if err := h.eng.BurnDebt(user, units(2501)); err == nil {
		t.Fatal("expected debt underflow error")
	}
}

func TestBurnWithoutApprovalRestoresCounter(t *testing.T) {
	h := newHarness(t)
	h.fund(t, h.weth, user, units(10))
	if err := h.eng.DepositCollateralAndMint(user, assetWETH, units(10), units(1000)); err != nil {
		t.Fatalf("deposit+mint: %v", err)
	}

	// No approval: the pull fails and the counter must come back.
	err := h.eng.BurnDebt(user, units(1000))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("err = %v, want ErrTransferFailed", err)
	}
	debt, _, ierr := h.eng.AccountInformation(user)
	if ierr != nil {
		t.Fatalf("info: %v", ierr)
	}
	if debt.Cmp(units(1000)) != 0 {
		t.Errorf("debt after failed burn = %s, want 1000", debt)
	}
}

// stuckBurnToken simulates a debt token that refuses to destroy pulled
// tokens, forcing the compensation path after a failed burn.
type stuckBurnToken struct {
	*token.Bank
	refundBlocked bool
}

func (s *stuckBurnToken) Burn(amount *big.Int) error {
	return errors.New("burn rejected")
}

func (s *stuckBurnToken) Transfer(to common.Address, amount *big.Int) bool {
	if s.refundBlocked {
		return false
	}
	return s.Bank.Transfer(to, amount)
}

func newStuckBurnEngine(t *testing.T, refundBlocked bool) (*Engine, *stuckBurnToken) {
	t.Helper()

	clock := util.NewFakeClock(time.Unix(1_700_000_000, 0))
	feed := oracle.NewSettableFeed("ETH / USD", clock)
	feed.Set(feedPrice(2000))

	reg, err := registry.New(
		[]common.Address{assetWETH},
		[]*oracle.Guard{oracle.NewGuard(feed, params.StalenessTimeout, clock)},
		dscAddr,
	)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	weth := token.NewBank("WETH", engineAddr)
	dsc := &stuckBurnToken{Bank: token.NewBank("DSC", engineAddr), refundBlocked: refundBlocked}

	eng, err := New(Config{
		Address:    engineAddr,
		Registry:   reg,
		Ledger:     ledger.NewMemory(),
		DebtToken:  dsc,
		Collateral: map[common.Address]token.Token{assetWETH: weth},
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	weth.Mint(user, units(10))
	weth.Approve(user, engineAddr, units(10))
	if err := eng.DepositCollateralAndMint(user, assetWETH, units(10), units(1000)); err != nil {
		t.Fatalf("deposit+mint: %v", err)
	}
	dsc.Approve(user, engineAddr, units(1000))
	return eng, dsc
}

func TestBurnFailureReturnsPulledTokens(t *testing.T) {
	eng, dsc := newStuckBurnEngine(t, false)

	if err := eng.BurnDebt(user, units(1000)); err == nil {
		t.Fatal("expected burn failure")
	}
	debt, _, _ := eng.AccountInformation(user)
	if debt.Cmp(units(1000)) != 0 {
		t.Errorf("debt = %s, want 1000 restored", debt)
	}
	if got := dsc.BalanceOf(user); got.Cmp(units(1000)) != 0 {
		t.Errorf("user debt tokens = %s, want 1000 returned", got)
	}
}

func TestBurnFailureWithBlockedRefundSurfaces(t *testing.T) {
	eng, dsc := newStuckBurnEngine(t, true)

	err := eng.BurnDebt(user, units(1000))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("err = %v, want ErrTransferFailed", err)
	}
	debt, _, _ := eng.AccountInformation(user)
	if debt.Cmp(units(1000)) != 0 {
		t.Errorf("debt = %s, want 1000 restored", debt)
	}
	// The pulled tokens are stranded in custody; the error must say so
	// rather than report a clean failure.
	if got := dsc.BalanceOf(engineAddr); got.Cmp(units(1000)) != 0 {
		t.Errorf("custody debt tokens = %s, want 1000 stranded", got)
	}
}

func TestRedeemCollateralForDebt(t *testing.T) {
	h := newHarness(t)
	h.fund(t, h.weth, user, units(10))
	if err := h.eng.DepositCollateralAndMint(user, assetWETH, units(10), units(9000)); err != nil {
		t.Fatalf("deposit+mint: %v", err)
	}
	h.dsc.Approve(user, engineAddr, units(9000))

	// Burn 2000 then pull 2 WETH: remaining 7000 debt vs $16,000
	// collateral, capacity 8000. Healthy.
	if err := h.eng.RedeemCollateralForDebt(user, assetWETH, units(2), units(2000)); err != nil {
		t.Fatalf("redeemForDebt: %v", err)
	}

	debt, value, err := h.eng.AccountInformation(user)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if debt.Cmp(units(7000)) != 0 {
		t.Errorf("debt = %s, want 7000", debt)
	}
	if value.Cmp(units(16000)) != 0 {
		t.Errorf("collateral value = %s, want 16000", value)
	}
	if got := h.weth.BalanceOf(user); got.Cmp(units(2)) != 0 {
		t.Errorf("user wallet = %s, want 2 WETH", got)
	}
}

func TestRedeemForDebtUnwindsBurnOnFailedRedeem(t *testing.T) {
	h := newHarness(t)
	h.fund(t, h.weth, user, units(10))
	if err := h.eng.DepositCollateralAndMint(user, assetWETH, units(10), units(9000)); err != nil {
		t.Fatalf("deposit+mint: %v", err)
	}
	h.dsc.Approve(user, engineAddr, units(9000))

	// Burning 1000 leaves 8000 debt needing $16,000; redeeming 5 WETH
	// would leave $10,000. The redeem fails and the burn must unwind.
	err := h.eng.RedeemCollateralForDebt(user, assetWETH, units(5), units(1000))
	if !errors.Is(err, ErrBreaksHealthFactor) {
		t.Fatalf("err = %v, want ErrBreaksHealthFactor", err)
	}

	debt, _, ierr := h.eng.AccountInformation(user)
	if ierr != nil {
		t.Fatalf("info: %v", ierr)
	}
	if debt.Cmp(units(9000)) != 0 {
		t.Errorf("debt = %s, want 9000 after unwind", debt)
	}
	if got := h.dsc.BalanceOf(user); got.Cmp(units(9000)) != 0 {
		t.Errorf("debt tokens = %s, want 9000 after unwind", got)
	}
	if got := h.eng.CollateralBalance(user, assetWETH); got.Cmp(units(10)) != 0 {
		t.Errorf("collateral = %s, want 10 after unwind", got)
	}
}

func TestStalenessFreezesOperations(t *testing.T) {
	h := newHarness(t)
	h.fund(t, h.weth, user, units(10))
	if err := h.eng.DepositCollateralAndMint(user, assetWETH, units(10), units(1000)); err != nil {
		t.Fatalf("deposit+mint: %v", err)
	}

	// Feed stops updating; three hours and change later every valuation
	// touching it must fail, regardless of the numeric price.
	h.clock.Advance(params.StalenessTimeout + time.Minute)

	if _, err := h.eng.HealthFactor(user); !errors.Is(err, oracle.ErrStalePrice) {
		t.Errorf("health: err = %v, want ErrStalePrice", err)
	}
	if err := h.eng.MintDebt(user, units(1)); !errors.Is(err, oracle.ErrStalePrice) {
		t.Errorf("mint: err = %v, want ErrStalePrice", err)
	}
	if err := h.eng.RedeemCollateral(user, assetWETH, units(1)); !errors.Is(err, oracle.ErrStalePrice) {
		t.Errorf("redeem: err = %v, want ErrStalePrice", err)
	}

	// Deposits do not touch valuation and stay open.
	h.fund(t, h.weth, user, units(1))
	if err := h.eng.DepositCollateral(user, assetWETH, units(1)); err != nil {
		t.Errorf("deposit during freeze: %v", err)
	}

	// Fresh prices thaw everything. Both feeds must recover: valuation
	// walks the full registry even for zero balances.
	h.feedWETH.Set(feedPrice(2000))
	h.feedWBTC.Set(feedPrice(30000))
	if _, err := h.eng.HealthFactor(user); err != nil {
		t.Errorf("health after refresh: %v", err)
	}
}

// reentrantToken attacks the engine from inside a transfer callback.
type reentrantToken struct {
	*token.Bank
	eng   *Engine
	probe func(*Engine) error
	got   error
	fired bool
}

func (r *reentrantToken) TransferFrom(from, to common.Address, amount *big.Int) bool {
	if !r.fired {
		r.fired = true
		r.got = r.probe(r.eng)
	}
	return r.Bank.TransferFrom(from, to, amount)
}

func TestReentrancyBlocked(t *testing.T) {
	clock := util.NewFakeClock(time.Unix(1_700_000_000, 0))
	feed := oracle.NewSettableFeed("ETH / USD", clock)
	feed.Set(feedPrice(2000))

	reg, err := registry.New(
		[]common.Address{assetWETH},
		[]*oracle.Guard{oracle.NewGuard(feed, params.StalenessTimeout, clock)},
		dscAddr,
	)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	weth := token.NewBank("WETH", engineAddr)
	evil := &reentrantToken{
		Bank: weth,
		probe: func(e *Engine) error {
			return e.MintDebt(user, units(1))
		},
	}
	dsc := token.NewBank("DSC", engineAddr)

	eng, err := New(Config{
		Address:    engineAddr,
		Registry:   reg,
		Ledger:     ledger.NewMemory(),
		DebtToken:  dsc,
		Collateral: map[common.Address]token.Token{assetWETH: evil},
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	evil.eng = eng

	weth.Mint(user, units(10))
	weth.Approve(user, engineAddr, units(10))

	if err := eng.DepositCollateral(user, assetWETH, units(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if !evil.fired {
		t.Fatal("reentrant probe never ran")
	}
	if !errors.Is(evil.got, ErrReentrancy) {
		t.Errorf("nested call err = %v, want ErrReentrancy", evil.got)
	}
}
