package market_test

import (
	"errors"
	"testing"

	"PerpPools/internal/config"
	"PerpPools/internal/market"
	fpmath "PerpPools/internal/math"
	"PerpPools/internal/oracle"
	"PerpPools/internal/registry"
)

const (
	priceScale = int64(100_000_000)
	usdScale   = int64(1_000_000)
	now        = int64(1_700_000_000)
)

func defaultConfig() market.Config {
	return market.Config{
		SwapFeeFactorPositive: 500,   // 0.05%
		SwapFeeFactorNegative: 700,   // 0.07%
		ImpactFactorPositive:  0,
		ImpactFactorNegative:  0,
		FundingFactor:         0,
		BorrowingFactor:       0,
		ReserveFactor:         500_000, // half the pool reservable
	}
}

func newMarket(t *testing.T) *market.Market {
	t.Helper()
	m, err := market.New("GM-WETH", "WETH", "WETH", "USDC", defaultConfig())
	if err != nil {
		t.Fatalf("market.New failed: %v", err)
	}
	return m
}

// pricesFor builds a snapshot with WETH at $3000 and USDC at $1.
func pricesFor(t *testing.T) *oracle.Snapshot {
	t.Helper()
	slots := oracle.NewSlots(registry.NewInMemoryRegistry(), config.NewStore())
	snap, err := slots.Acquire("test")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	err = slots.SetPrices(snap, []oracle.PriceReport{
		{Token: "WETH", Price: 3_000 * priceScale, Timestamp: now},
		{Token: "USDC", Price: priceScale, Timestamp: now},
	}, now)
	if err != nil {
		t.Fatalf("SetPrices failed: %v", err)
	}
	return snap
}

// ============================================================================
// Test: Config validation
// ============================================================================

func TestConfigValidate_Ranges(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*market.Config)
		ok     bool
	}{
		{"default", func(c *market.Config) {}, true},
		{"negative swap fee", func(c *market.Config) { c.SwapFeeFactorPositive = -1 }, false},
		{"negative below positive", func(c *market.Config) { c.SwapFeeFactorNegative = 100 }, false},
		{"swap fee at ppm", func(c *market.Config) { c.SwapFeeFactorNegative = 1_000_000 }, false},
		{"negative impact", func(c *market.Config) { c.ImpactFactorNegative = -1 }, false},
		{"negative funding", func(c *market.Config) { c.FundingFactor = -1 }, false},
		{"zero reserve factor", func(c *market.Config) { c.ReserveFactor = 0 }, false},
		{"reserve factor above ppm", func(c *market.Config) { c.ReserveFactor = 1_000_001 }, false},
	}
	for _, tc := range cases {
		cfg := defaultConfig()
		tc.mutate(&cfg)
		err := cfg.Validate()
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestNew_SingleTokenDetection(t *testing.T) {
	m, err := market.New("GM-USDC", "USDC", "USDC", "USDC", defaultConfig())
	if err != nil {
		t.Fatalf("market.New failed: %v", err)
	}
	if !m.SingleToken {
		t.Error("long == short should mark the market single-token")
	}
	if !m.Enabled {
		t.Error("new markets start enabled")
	}
}

// ============================================================================
// Test: deposits and share minting
// ============================================================================

func TestApplyDeposit_FreshPoolMintsPerUsd(t *testing.T) {
	m := newMarket(t)
	prices := pricesFor(t)

	// 1 WETH + 3000 USDC = $6000.
	mint, err := m.ApplyDeposit(1_000_000, 3_000_000_000, prices, 0)
	if err != nil {
		t.Fatalf("ApplyDeposit failed: %v", err)
	}
	if mint != 6_000*usdScale {
		t.Errorf("mint got %d, want %d", mint, 6_000*usdScale)
	}
	if m.PoolLong != 1_000_000 || m.PoolShort != 3_000_000_000 {
		t.Errorf("pools got long=%d short=%d", m.PoolLong, m.PoolShort)
	}
}

func TestApplyDeposit_ProRata(t *testing.T) {
	m := newMarket(t)
	prices := pricesFor(t)

	supply, err := m.ApplyDeposit(1_000_000, 3_000_000_000, prices, 0)
	if err != nil {
		t.Fatalf("seed deposit failed: %v", err)
	}

	// Second deposit of half the pool value mints half the supply.
	mint, err := m.ApplyDeposit(1_000_000, 0, prices, supply)
	if err != nil {
		t.Fatalf("second deposit failed: %v", err)
	}
	if mint != supply/2 {
		t.Errorf("mint got %d, want %d", mint, supply/2)
	}
}

func TestApplyDeposit_Disabled(t *testing.T) {
	m := newMarket(t)
	m.Enabled = false

	_, err := m.ApplyDeposit(1_000_000, 0, pricesFor(t), 0)
	if !errors.Is(err, market.ErrMarketDisabled) {
		t.Errorf("got %v, want ErrMarketDisabled", err)
	}
}

func TestApplyDeposit_ZeroAmounts(t *testing.T) {
	m := newMarket(t)
	if _, err := m.ApplyDeposit(0, 0, pricesFor(t), 0); err == nil {
		t.Error("empty deposit should be rejected")
	}
}

func TestApplyDeposit_SingleTokenShortSide(t *testing.T) {
	m, err := market.New("GM-USDC", "USDC", "USDC", "USDC", defaultConfig())
	if err != nil {
		t.Fatalf("market.New failed: %v", err)
	}
	if _, err := m.ApplyDeposit(1_000_000, 1_000_000, pricesFor(t), 0); err == nil {
		t.Error("single-token market should reject short-side deposits")
	}
}

// ============================================================================
// Test: withdrawals
// ============================================================================

func TestApplyWithdrawal_FullRoundTrip(t *testing.T) {
	m := newMarket(t)
	prices := pricesFor(t)

	supply, err := m.ApplyDeposit(1_000_000, 3_000_000_000, prices, 0)
	if err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	longOut, shortOut, err := m.ApplyWithdrawal(supply, supply)
	if err != nil {
		t.Fatalf("ApplyWithdrawal failed: %v", err)
	}
	if longOut != 1_000_000 || shortOut != 3_000_000_000 {
		t.Errorf("got long=%d short=%d, want full pools back", longOut, shortOut)
	}
	if m.PoolLong != 0 || m.PoolShort != 0 {
		t.Errorf("pools should drain to zero, got long=%d short=%d", m.PoolLong, m.PoolShort)
	}
}

func TestApplyWithdrawal_Half(t *testing.T) {
	m := newMarket(t)
	prices := pricesFor(t)

	supply, err := m.ApplyDeposit(2_000_000, 6_000_000_000, prices, 0)
	if err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	longOut, shortOut, err := m.ApplyWithdrawal(supply/2, supply)
	if err != nil {
		t.Fatalf("ApplyWithdrawal failed: %v", err)
	}
	if longOut != 1_000_000 || shortOut != 3_000_000_000 {
		t.Errorf("got long=%d short=%d, want half pools", longOut, shortOut)
	}
}

func TestApplyWithdrawal_BurnExceedsSupply(t *testing.T) {
	m := newMarket(t)
	if _, _, err := m.ApplyWithdrawal(101, 100); err == nil {
		t.Error("burning more than supply should fail")
	}
}

func TestApplyWithdrawal_ReserveBound(t *testing.T) {
	m := newMarket(t)
	prices := pricesFor(t)

	supply, err := m.ApplyDeposit(10_000_000, 0, prices, 0) // 10 WETH
	if err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	// Reserve 4 WETH of the 5 reservable.
	if err := m.AddOpenInterest(true, 12_000*usdScale, 4_000_000); err != nil {
		t.Fatalf("AddOpenInterest failed: %v", err)
	}

	// Withdrawing 60% would leave 4 WETH pool < 4 WETH reserved / 0.5.
	_, _, err = m.ApplyWithdrawal(supply*6/10, supply)
	if !errors.Is(err, market.ErrInsufficientLiquidity) {
		t.Errorf("got %v, want ErrInsufficientLiquidity", err)
	}
}

// ============================================================================
// Test: swaps
// ============================================================================

func TestApplySwap_FeeAndOutput(t *testing.T) {
	m := newMarket(t)
	prices := pricesFor(t)

	if _, err := m.ApplyDeposit(10_000_000, 30_000_000_000, prices, 0); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	// Long side holds $30000, short side $30000: swapping WETH in worsens
	// the imbalance, so the negative fee factor applies.
	res, err := m.ApplySwap("WETH", 1_000_000, prices, fpmath.SquaredImbalanceModel{})
	if err != nil {
		t.Fatalf("ApplySwap failed: %v", err)
	}
	if res.TokenOut != "USDC" {
		t.Errorf("token out got %s, want USDC", res.TokenOut)
	}
	wantFee := int64(700) // 0.07% of 1 WETH
	if res.FeeAmount != wantFee {
		t.Errorf("fee got %d, want %d", res.FeeAmount, wantFee)
	}
	// (1 WETH - fee) * $3000 in USDC with zero impact.
	wantOut := (1_000_000 - wantFee) * 3_000
	if res.AmountOut != wantOut {
		t.Errorf("amount out got %d, want %d", res.AmountOut, wantOut)
	}
	// Pools moved: fee amount stays out of the pool for the caller to route.
	if m.PoolLong != 10_000_000+1_000_000-wantFee {
		t.Errorf("long pool got %d", m.PoolLong)
	}
	if m.PoolShort != 30_000_000_000-wantOut {
		t.Errorf("short pool got %d", m.PoolShort)
	}
}

func TestApplySwap_ImprovingUsesPositiveFee(t *testing.T) {
	m := newMarket(t)
	prices := pricesFor(t)

	// Long-heavy pool: 20 WETH ($60000) vs $30000 USDC.
	if _, err := m.ApplyDeposit(20_000_000, 30_000_000_000, prices, 0); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	// Swapping USDC in improves the imbalance.
	res, err := m.ApplySwap("USDC", 3_000_000_000, prices, fpmath.SquaredImbalanceModel{})
	if err != nil {
		t.Fatalf("ApplySwap failed: %v", err)
	}
	wantFee := int64(1_500_000) // 0.05% of 3000 USDC
	if res.FeeAmount != wantFee {
		t.Errorf("fee got %d, want %d", res.FeeAmount, wantFee)
	}
}

func TestApplySwap_SingleTokenRejected(t *testing.T) {
	m, err := market.New("GM-USDC", "USDC", "USDC", "USDC", defaultConfig())
	if err != nil {
		t.Fatalf("market.New failed: %v", err)
	}
	_, err = m.ApplySwap("USDC", 1_000_000, pricesFor(t), fpmath.SquaredImbalanceModel{})
	if !errors.Is(err, market.ErrSwapNotSupported) {
		t.Errorf("got %v, want ErrSwapNotSupported", err)
	}
}

func TestApplySwap_ForeignToken(t *testing.T) {
	m := newMarket(t)
	_, err := m.ApplySwap("WBTC", 1_000_000, pricesFor(t), fpmath.SquaredImbalanceModel{})
	if !errors.Is(err, market.ErrSwapNotSupported) {
		t.Errorf("got %v, want ErrSwapNotSupported", err)
	}
}

func TestApplySwap_DrainsOutputPool(t *testing.T) {
	m := newMarket(t)
	prices := pricesFor(t)

	// Tiny USDC side cannot cover the output leg.
	if _, err := m.ApplyDeposit(10_000_000, 1_000_000, prices, 0); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if _, err := m.ApplySwap("WETH", 1_000_000, prices, fpmath.SquaredImbalanceModel{}); err == nil {
		t.Error("swap draining the output pool should fail")
	}
}

// ============================================================================
// Test: open interest and reserve bound
// ============================================================================

func TestAddOpenInterest_ReserveBound(t *testing.T) {
	m := newMarket(t)
	prices := pricesFor(t)

	if _, err := m.ApplyDeposit(10_000_000, 0, prices, 0); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	// Reserve factor 0.5 of a 10 WETH pool: 5 WETH reservable.
	if err := m.AddOpenInterest(true, 15_000*usdScale, 5_000_000); err != nil {
		t.Fatalf("AddOpenInterest within bound failed: %v", err)
	}
	err := m.AddOpenInterest(true, 3_000*usdScale, 1_000_000)
	if !errors.Is(err, market.ErrInsufficientLiquidity) {
		t.Errorf("got %v, want ErrInsufficientLiquidity", err)
	}
}

func TestReduceOpenInterest_ClampsAtZero(t *testing.T) {
	m := newMarket(t)
	prices := pricesFor(t)

	if _, err := m.ApplyDeposit(10_000_000, 0, prices, 0); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if err := m.AddOpenInterest(true, 3_000*usdScale, 1_000_000); err != nil {
		t.Fatalf("AddOpenInterest failed: %v", err)
	}

	m.ReduceOpenInterest(true, 10_000*usdScale, 5_000_000)
	if m.OpenInterestLongUsd != 0 || m.ReservedLong != 0 {
		t.Errorf("got oi=%d reserved=%d, want both clamped to 0",
			m.OpenInterestLongUsd, m.ReservedLong)
	}
}

func TestAdjustPool_NegativeBeyondPool(t *testing.T) {
	m := newMarket(t)
	prices := pricesFor(t)

	if _, err := m.ApplyDeposit(1_000_000, 0, prices, 0); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if err := m.AdjustPool("WETH", -2_000_000); err == nil {
		t.Error("draining the pool below zero should fail")
	}
}

// ============================================================================
// Test: Manager
// ============================================================================

func TestManager_Lifecycle(t *testing.T) {
	mgr := market.NewManager()
	m := newMarket(t)

	if err := mgr.Create(m); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := mgr.Create(m); !errors.Is(err, market.ErrMarketExists) {
		t.Errorf("got %v, want ErrMarketExists", err)
	}

	got, err := mgr.Get("GM-WETH")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.MarketToken != "GM-WETH" {
		t.Errorf("got %s, want GM-WETH", got.MarketToken)
	}

	if err := mgr.Remove("GM-WETH"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := mgr.Get("GM-WETH"); !errors.Is(err, market.ErrMarketNotFound) {
		t.Errorf("got %v, want ErrMarketNotFound", err)
	}
}

func TestManager_RemoveNonEmpty(t *testing.T) {
	mgr := market.NewManager()
	m := newMarket(t)
	m.PoolLong = 1

	if err := mgr.Create(m); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := mgr.Remove("GM-WETH"); !errors.Is(err, market.ErrMarketNotEmpty) {
		t.Errorf("got %v, want ErrMarketNotEmpty", err)
	}
}
