package position_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"PerpPools/internal/config"
	"PerpPools/internal/market"
	fpmath "PerpPools/internal/math"
	"PerpPools/internal/oracle"
	"PerpPools/internal/position"
	"PerpPools/internal/registry"
)

const (
	priceScale = int64(100_000_000)
	usdScale   = int64(1_000_000)
	now        = int64(1_700_000_000)
)

var impact = fpmath.SquaredImbalanceModel{}

func testMarket(t *testing.T) *market.Market {
	t.Helper()
	m, err := market.New("GM-WETH", "WETH", "WETH", "USDC", market.Config{
		SwapFeeFactorPositive: 0,
		SwapFeeFactorNegative: 0,
		FundingFactor:         1_000,
		BorrowingFactor:       2_000,
		ReserveFactor:         1_000_000,
	})
	if err != nil {
		t.Fatalf("market.New failed: %v", err)
	}
	m.PoolLong = 1_000_000_000     // 1000 WETH
	m.PoolShort = 3_000_000_000_000 // 3M USDC
	return m
}

func pricesAt(t *testing.T, wethPrice int64) *oracle.Snapshot {
	t.Helper()
	slots := oracle.NewSlots(registry.NewInMemoryRegistry(), config.NewStore())
	snap, err := slots.Acquire("test")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	err = slots.SetPrices(snap, []oracle.PriceReport{
		{Token: "WETH", Price: wethPrice, Timestamp: now},
		{Token: "USDC", Price: priceScale, Timestamp: now},
	}, now)
	if err != nil {
		t.Fatalf("SetPrices failed: %v", err)
	}
	return snap
}

func newPosition(isLong bool) *position.Position {
	return &position.Position{
		Key: position.Key{
			Owner:           uuid.New(),
			MarketToken:     "GM-WETH",
			CollateralToken: "USDC",
			IsLong:          isLong,
		},
	}
}

// ============================================================================
// Test: Increase
// ============================================================================

func TestIncrease_OpensLong(t *testing.T) {
	m := testMarket(t)
	prices := pricesAt(t, 3_000*priceScale)
	p := newPosition(true)

	// $30000 size, 10000 USDC collateral.
	res, err := position.Increase(p, m, prices, impact, 30_000*usdScale, 10_000*usdScale, now)
	if err != nil {
		t.Fatalf("Increase failed: %v", err)
	}
	if res.SizeDeltaTokens != 10_000_000 { // 10 WETH at $3000
		t.Errorf("size tokens got %d, want 10000000", res.SizeDeltaTokens)
	}
	if res.ReserveDelta != 10_000_000 {
		t.Errorf("long reserve should match size tokens, got %d", res.ReserveDelta)
	}
	if p.SizeInUsd != 30_000*usdScale || p.CollateralAmount != 10_000*usdScale {
		t.Errorf("position got size=%d collateral=%d", p.SizeInUsd, p.CollateralAmount)
	}
	if m.OpenInterestLongUsd != 30_000*usdScale || m.ReservedLong != 10_000_000 {
		t.Errorf("market got oi=%d reserved=%d", m.OpenInterestLongUsd, m.ReservedLong)
	}
	if p.IncreasedAt != now {
		t.Errorf("IncreasedAt got %d, want %d", p.IncreasedAt, now)
	}
}

func TestIncrease_ShortReservesShortToken(t *testing.T) {
	m := testMarket(t)
	prices := pricesAt(t, 3_000*priceScale)
	p := newPosition(false)

	res, err := position.Increase(p, m, prices, impact, 30_000*usdScale, 10_000*usdScale, now)
	if err != nil {
		t.Fatalf("Increase failed: %v", err)
	}
	// Shorts reserve the USD value in short tokens: $30000 of USDC.
	if res.ReserveDelta != 30_000*usdScale {
		t.Errorf("short reserve got %d, want %d", res.ReserveDelta, 30_000*usdScale)
	}
	if m.ReservedShort != 30_000*usdScale {
		t.Errorf("market reserved short got %d", m.ReservedShort)
	}
}

func TestIncrease_CollateralOnly(t *testing.T) {
	m := testMarket(t)
	prices := pricesAt(t, 3_000*priceScale)
	p := newPosition(true)

	res, err := position.Increase(p, m, prices, impact, 0, 5_000*usdScale, now)
	if err != nil {
		t.Fatalf("Increase failed: %v", err)
	}
	if res.SizeDeltaTokens != 0 || res.ReserveDelta != 0 {
		t.Errorf("collateral-only increase should not reserve: %+v", res)
	}
	if p.CollateralAmount != 5_000*usdScale {
		t.Errorf("collateral got %d", p.CollateralAmount)
	}
}

func TestIncrease_InvalidDeltas(t *testing.T) {
	m := testMarket(t)
	prices := pricesAt(t, 3_000*priceScale)

	if _, err := position.Increase(newPosition(true), m, prices, impact, 0, 0, now); err == nil {
		t.Error("zero deltas should be rejected")
	}
	if _, err := position.Increase(newPosition(true), m, prices, impact, -1, 0, now); err == nil {
		t.Error("negative size delta should be rejected")
	}
}

func TestIncrease_ReserveBound(t *testing.T) {
	m := testMarket(t)
	m.PoolLong = 10_000_000 // only 10 WETH backing
	prices := pricesAt(t, 3_000*priceScale)
	p := newPosition(true)

	// $45000 needs 15 WETH reserved against a 10 WETH pool.
	_, err := position.Increase(p, m, prices, impact, 45_000*usdScale, 10_000*usdScale, now)
	if !errors.Is(err, market.ErrInsufficientLiquidity) {
		t.Errorf("got %v, want ErrInsufficientLiquidity", err)
	}
}

// ============================================================================
// Test: open-interest price impact
// ============================================================================

func TestIncrease_ImbalancePenaltyRaisesLongEntry(t *testing.T) {
	m := testMarket(t)
	m.Config.ImpactFactorNegative = 20
	prices := pricesAt(t, 3_000*priceScale)
	p := newPosition(true)

	// $10000 long from balanced OI worsens the imbalance by $10000:
	// impact = 2e-5 * (0 - 10000²) = -$2000, so the entry pays
	// 3000 * 10000/8000 = $3750 per token.
	res, err := position.Increase(p, m, prices, impact, 10_000*usdScale, 10_000*usdScale, now)
	if err != nil {
		t.Fatalf("Increase failed: %v", err)
	}
	if res.ExecutionPrice != 3_750*priceScale {
		t.Errorf("execution price got %d, want %d", res.ExecutionPrice, 3_750*priceScale)
	}
	if res.SizeDeltaTokens != 2_666_667 { // 10000/3750 WETH
		t.Errorf("size tokens got %d, want 2666667", res.SizeDeltaTokens)
	}
	if m.OpenInterestLongUsd != 10_000*usdScale {
		t.Errorf("open interest got %d", m.OpenInterestLongUsd)
	}
}

func TestIncrease_ImbalancePenaltyLowersShortEntry(t *testing.T) {
	m := testMarket(t)
	m.Config.ImpactFactorNegative = 20
	prices := pricesAt(t, 3_000*priceScale)
	p := newPosition(false)

	// The short side mirrors: a worsening short sells below index,
	// 3000 * 10000/12000 = $2500 per token.
	res, err := position.Increase(p, m, prices, impact, 10_000*usdScale, 10_000*usdScale, now)
	if err != nil {
		t.Fatalf("Increase failed: %v", err)
	}
	if res.ExecutionPrice != 2_500*priceScale {
		t.Errorf("execution price got %d, want %d", res.ExecutionPrice, 2_500*priceScale)
	}
	if res.SizeDeltaTokens != 4_000_000 { // 10000/2500 WETH
		t.Errorf("size tokens got %d, want 4000000", res.SizeDeltaTokens)
	}
}

func TestIncrease_RebalancingRebateImprovesEntry(t *testing.T) {
	m := testMarket(t)
	m.Config.ImpactFactorPositive = 25
	m.Config.ImpactFactorNegative = 50
	m.OpenInterestShortUsd = 10_000 * usdScale
	prices := pricesAt(t, 3_000*priceScale)
	p := newPosition(true)

	// A $10000 long against a $10000 short skew flattens the imbalance:
	// rebate = 2.5e-5 * 10000² = $2500, entry at 3000 * 10000/12500 = $2400.
	res, err := position.Increase(p, m, prices, impact, 10_000*usdScale, 10_000*usdScale, now)
	if err != nil {
		t.Fatalf("Increase failed: %v", err)
	}
	if res.ExecutionPrice != 2_400*priceScale {
		t.Errorf("execution price got %d, want %d", res.ExecutionPrice, 2_400*priceScale)
	}
	if res.SizeDeltaTokens != 4_166_667 {
		t.Errorf("size tokens got %d, want 4166667", res.SizeDeltaTokens)
	}
}

func TestDecrease_RebalancingRebateLiftsExit(t *testing.T) {
	m := testMarket(t)
	prices := pricesAt(t, 3_000*priceScale)
	p := newPosition(true)

	// Open impact-free, then close with a positive factor: unwinding the
	// skew the position itself created earns a rebate, so the flat-price
	// close realizes a profit.
	if _, err := position.Increase(p, m, prices, impact, 30_000*usdScale, 10_000*usdScale, now); err != nil {
		t.Fatalf("Increase failed: %v", err)
	}
	m.Config.ImpactFactorPositive = 2

	res, err := position.Decrease(p, m, prices, impact, 30_000*usdScale, 0, now)
	if err != nil {
		t.Fatalf("Decrease failed: %v", err)
	}
	if res.ExecutionPrice <= 3_000*priceScale {
		t.Errorf("rebated exit should beat index, got %d", res.ExecutionPrice)
	}
	if res.RealizedPnlUsd <= 0 {
		t.Errorf("rebated flat close should profit, got %d", res.RealizedPnlUsd)
	}
	if res.PayoutAmount <= 10_000*usdScale {
		t.Errorf("payout %d should exceed collateral", res.PayoutAmount)
	}
}

func TestIncrease_ImpactSwallowsSize(t *testing.T) {
	m := testMarket(t)
	m.Config.ImpactFactorNegative = 2_000
	prices := pricesAt(t, 3_000*priceScale)
	p := newPosition(true)

	// Penalty of $200000 against a $10000 delta leaves nothing to buy.
	if _, err := position.Increase(p, m, prices, impact, 10_000*usdScale, 10_000*usdScale, now); err == nil {
		t.Error("impact exceeding the size delta should be rejected")
	}
}

// ============================================================================
// Test: Decrease
// ============================================================================

func TestDecrease_FlatCloseReturnsCollateral(t *testing.T) {
	m := testMarket(t)
	prices := pricesAt(t, 3_000*priceScale)
	p := newPosition(true)

	if _, err := position.Increase(p, m, prices, impact, 30_000*usdScale, 10_000*usdScale, now); err != nil {
		t.Fatalf("Increase failed: %v", err)
	}

	// Same price, no accrual elapsed: PnL is zero.
	res, err := position.Decrease(p, m, prices, impact, 30_000*usdScale, 0, now)
	if err != nil {
		t.Fatalf("Decrease failed: %v", err)
	}
	if !res.Closed {
		t.Error("full-size decrease should close")
	}
	if res.RealizedPnlUsd != 0 {
		t.Errorf("flat close pnl got %d, want 0", res.RealizedPnlUsd)
	}
	if res.PayoutAmount != 10_000*usdScale {
		t.Errorf("payout got %d, want all collateral back", res.PayoutAmount)
	}
	if p.SizeInUsd != 0 || p.CollateralAmount != 0 || p.ReservedAmount != 0 {
		t.Errorf("closed position not zeroed: %+v", p)
	}
	if m.OpenInterestLongUsd != 0 || m.ReservedLong != 0 {
		t.Errorf("market not released: oi=%d reserved=%d", m.OpenInterestLongUsd, m.ReservedLong)
	}
}

func TestDecrease_LongProfit(t *testing.T) {
	m := testMarket(t)
	entry := pricesAt(t, 3_000*priceScale)
	p := newPosition(true)

	if _, err := position.Increase(p, m, entry, impact, 30_000*usdScale, 10_000*usdScale, now); err != nil {
		t.Fatalf("Increase failed: %v", err)
	}

	// +10%: 10 WETH position gains $3000, paid in USDC.
	exit := pricesAt(t, 3_300*priceScale)
	res, err := position.Decrease(p, m, exit, impact, 30_000*usdScale, 0, now)
	if err != nil {
		t.Fatalf("Decrease failed: %v", err)
	}
	if res.RealizedPnlUsd != 3_000*usdScale {
		t.Errorf("pnl got %d, want %d", res.RealizedPnlUsd, 3_000*usdScale)
	}
	if res.PnlAmount != 3_000*usdScale {
		t.Errorf("pnl amount got %d, want %d", res.PnlAmount, 3_000*usdScale)
	}
	if res.PayoutAmount != 13_000*usdScale {
		t.Errorf("payout got %d, want collateral plus profit", res.PayoutAmount)
	}
}

func TestDecrease_LongLossComesFromCollateral(t *testing.T) {
	m := testMarket(t)
	entry := pricesAt(t, 3_000*priceScale)
	p := newPosition(true)

	if _, err := position.Increase(p, m, entry, impact, 30_000*usdScale, 10_000*usdScale, now); err != nil {
		t.Fatalf("Increase failed: %v", err)
	}

	// -10%: $3000 loss against 10000 USDC collateral.
	exit := pricesAt(t, 2_700*priceScale)
	res, err := position.Decrease(p, m, exit, impact, 30_000*usdScale, 0, now)
	if err != nil {
		t.Fatalf("Decrease failed: %v", err)
	}
	if res.PnlAmount != -3_000*usdScale {
		t.Errorf("pnl amount got %d, want %d", res.PnlAmount, -3_000*usdScale)
	}
	if res.PayoutAmount != 7_000*usdScale {
		t.Errorf("payout got %d, want remaining collateral", res.PayoutAmount)
	}
}

func TestDecrease_LossExceedsCollateral(t *testing.T) {
	m := testMarket(t)
	entry := pricesAt(t, 3_000*priceScale)
	p := newPosition(true)

	if _, err := position.Increase(p, m, entry, impact, 30_000*usdScale, 1_000*usdScale, now); err != nil {
		t.Fatalf("Increase failed: %v", err)
	}

	// -10% is a $3000 loss against 1000 USDC collateral.
	exit := pricesAt(t, 2_700*priceScale)
	_, err := position.Decrease(p, m, exit, impact, 30_000*usdScale, 0, now)
	if !errors.Is(err, position.ErrInsufficientCollateral) {
		t.Errorf("got %v, want ErrInsufficientCollateral", err)
	}
}

func TestDecrease_PartialIsProportional(t *testing.T) {
	m := testMarket(t)
	prices := pricesAt(t, 3_000*priceScale)
	p := newPosition(true)

	if _, err := position.Increase(p, m, prices, impact, 30_000*usdScale, 10_000*usdScale, now); err != nil {
		t.Fatalf("Increase failed: %v", err)
	}

	res, err := position.Decrease(p, m, prices, impact, 10_000*usdScale, 0, now)
	if err != nil {
		t.Fatalf("Decrease failed: %v", err)
	}
	if res.Closed {
		t.Error("partial decrease should not close")
	}
	if res.SizeDeltaTokens != 10_000_000/3 {
		t.Errorf("size tokens got %d, want a third", res.SizeDeltaTokens)
	}
	if p.SizeInUsd != 20_000*usdScale {
		t.Errorf("remaining size got %d", p.SizeInUsd)
	}
	// Partial decrease without withdrawal keeps collateral in place.
	if p.CollateralAmount != 10_000*usdScale {
		t.Errorf("collateral got %d, want untouched", p.CollateralAmount)
	}
}

func TestDecrease_OverSize(t *testing.T) {
	m := testMarket(t)
	prices := pricesAt(t, 3_000*priceScale)
	p := newPosition(true)

	if _, err := position.Increase(p, m, prices, impact, 30_000*usdScale, 10_000*usdScale, now); err != nil {
		t.Fatalf("Increase failed: %v", err)
	}
	if _, err := position.Decrease(p, m, prices, impact, 40_000*usdScale, 0, now); err == nil {
		t.Error("decrease beyond size should be rejected")
	}
}

// ============================================================================
// Test: fee settlement on touch
// ============================================================================

func TestIncrease_ChargesAccruedBorrowing(t *testing.T) {
	m := testMarket(t)
	prices := pricesAt(t, 3_000*priceScale)
	p := newPosition(true)

	if _, err := position.Increase(p, m, prices, impact, 30_000*usdScale, 10_000*usdScale, now); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	// Advance the borrowing accumulator by hand: 0.001 per size unit.
	m.CumBorrowingLong += 100_000

	res, err := position.Increase(p, m, prices, impact, 0, 1_000*usdScale, now+60)
	if err != nil {
		t.Fatalf("touch failed: %v", err)
	}
	// 0.001 of $30000 = $30 in USDC.
	if res.Fees.BorrowingUsd != 30*usdScale {
		t.Errorf("borrowing fee got %d, want %d", res.Fees.BorrowingUsd, 30*usdScale)
	}
	if res.Fees.CollectedAmount != 30*usdScale {
		t.Errorf("collected got %d, want %d", res.Fees.CollectedAmount, 30*usdScale)
	}
	// 10000 - 30 fee + 1000 new.
	if p.CollateralAmount != 10_970*usdScale {
		t.Errorf("collateral got %d, want %d", p.CollateralAmount, 10_970*usdScale)
	}
	// Snapshot rolled forward: a second touch charges nothing more.
	res2, err := position.Increase(p, m, prices, impact, 0, 1_000*usdScale, now+120)
	if err != nil {
		t.Fatalf("second touch failed: %v", err)
	}
	if res2.Fees.CollectedAmount != 0 {
		t.Errorf("second touch collected %d, want 0", res2.Fees.CollectedAmount)
	}
}

func TestSettleFees_NegativeFundingIsRebate(t *testing.T) {
	m := testMarket(t)
	prices := pricesAt(t, 3_000*priceScale)
	p := newPosition(true)

	if _, err := position.Increase(p, m, prices, impact, 30_000*usdScale, 10_000*usdScale, now); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	// Receiving side: the accumulator decreased since the snapshot.
	m.CumFundingLong -= 100_000

	res, err := position.Decrease(p, m, prices, impact, 30_000*usdScale, 0, now+60)
	if err != nil {
		t.Fatalf("Decrease failed: %v", err)
	}
	if res.Fees.FundingUsd != -30*usdScale {
		t.Errorf("funding got %d, want %d", res.Fees.FundingUsd, -30*usdScale)
	}
	if res.Fees.CollectedAmount != -30*usdScale {
		t.Errorf("collected got %d, want a rebate", res.Fees.CollectedAmount)
	}
	// Rebate lands in the payout on close.
	if res.PayoutAmount != 10_030*usdScale {
		t.Errorf("payout got %d, want %d", res.PayoutAmount, 10_030*usdScale)
	}
}

func TestIncrease_FeeWipesCollateral(t *testing.T) {
	m := testMarket(t)
	prices := pricesAt(t, 3_000*priceScale)
	p := newPosition(true)

	if _, err := position.Increase(p, m, prices, impact, 30_000*usdScale, 10*usdScale, now); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	// Owed fee exceeds the 10 USDC collateral; the excess is uncollected.
	m.CumBorrowingLong += 100_000

	_, err := position.Increase(p, m, prices, impact, 0, 1, now+60)
	if err != nil {
		t.Fatalf("touch failed: %v", err)
	}
	// With collateral wiped and topped up by 1, the position survives; the
	// fee report carries the shortfall.
	if p.CollateralAmount != 1 {
		t.Errorf("collateral got %d, want 1", p.CollateralAmount)
	}
}
