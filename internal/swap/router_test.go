package swap_test

import (
	"errors"
	"testing"

	"PerpPools/internal/config"
	"PerpPools/internal/market"
	fpmath "PerpPools/internal/math"
	"PerpPools/internal/oracle"
	"PerpPools/internal/registry"
	"PerpPools/internal/swap"
)

const (
	priceScale = int64(100_000_000)
	now        = int64(1_700_000_000)
)

func swapConfig() market.Config {
	return market.Config{
		SwapFeeFactorPositive: 0,
		SwapFeeFactorNegative: 0,
		ReserveFactor:         1_000_000,
	}
}

func testPrices(t *testing.T) *oracle.Snapshot {
	t.Helper()
	slots := oracle.NewSlots(registry.NewInMemoryRegistry(), config.NewStore())
	snap, err := slots.Acquire("test")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	err = slots.SetPrices(snap, []oracle.PriceReport{
		{Token: "WETH", Price: 3_000 * priceScale, Timestamp: now},
		{Token: "WBTC", Price: 60_000 * priceScale, Timestamp: now},
		{Token: "USDC", Price: priceScale, Timestamp: now},
	}, now)
	if err != nil {
		t.Fatalf("SetPrices failed: %v", err)
	}
	return snap
}

// testMarkets builds a manager holding GM-WETH (WETH/USDC) and GM-WBTC
// (WBTC/USDC), both deep enough that test swaps never drain a side.
func testMarkets(t *testing.T, prices *oracle.Snapshot) *market.Manager {
	t.Helper()
	mgr := market.NewManager()

	weth, err := market.New("GM-WETH", "WETH", "WETH", "USDC", swapConfig())
	if err != nil {
		t.Fatalf("market.New GM-WETH failed: %v", err)
	}
	if _, err := weth.ApplyDeposit(1_000_000_000, 3_000_000_000_000, prices, 0); err != nil {
		t.Fatalf("seed GM-WETH failed: %v", err)
	}
	if err := mgr.Create(weth); err != nil {
		t.Fatalf("Create GM-WETH failed: %v", err)
	}

	wbtc, err := market.New("GM-WBTC", "WBTC", "WBTC", "USDC", swapConfig())
	if err != nil {
		t.Fatalf("market.New GM-WBTC failed: %v", err)
	}
	if _, err := wbtc.ApplyDeposit(100_000_000, 6_000_000_000_000, prices, 0); err != nil {
		t.Fatalf("seed GM-WBTC failed: %v", err)
	}
	if err := mgr.Create(wbtc); err != nil {
		t.Fatalf("Create GM-WBTC failed: %v", err)
	}
	return mgr
}

// ============================================================================
// Test: empty path
// ============================================================================

func TestRoute_EmptyPathPassThrough(t *testing.T) {
	prices := testPrices(t)
	mgr := testMarkets(t, prices)

	res, err := swap.Route(mgr, nil, "USDC", 1_000_000, "", prices, fpmath.SquaredImbalanceModel{})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if res.TokenOut != "USDC" || res.AmountOut != 1_000_000 {
		t.Errorf("got %s/%d, want USDC/1000000", res.TokenOut, res.AmountOut)
	}
	if len(res.Hops) != 0 {
		t.Errorf("pass-through should have no hops, got %d", len(res.Hops))
	}
}

func TestRoute_EmptyPathSameToken(t *testing.T) {
	prices := testPrices(t)
	mgr := testMarkets(t, prices)

	res, err := swap.Route(mgr, nil, "USDC", 1_000_000, "USDC", prices, fpmath.SquaredImbalanceModel{})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if res.AmountOut != 1_000_000 {
		t.Errorf("got %d, want 1000000", res.AmountOut)
	}
}

func TestRoute_EmptyPathNeedsConversion(t *testing.T) {
	prices := testPrices(t)
	mgr := testMarkets(t, prices)

	_, err := swap.Route(mgr, nil, "USDC", 1_000_000, "WETH", prices, fpmath.SquaredImbalanceModel{})
	if !errors.Is(err, swap.ErrInvalidSwapPath) {
		t.Errorf("got %v, want ErrInvalidSwapPath", err)
	}
}

// ============================================================================
// Test: hop threading
// ============================================================================

func TestRoute_SingleHop(t *testing.T) {
	prices := testPrices(t)
	mgr := testMarkets(t, prices)

	// 1 WETH -> USDC at $3000 with zero fees and impact.
	res, err := swap.Route(mgr, []string{"GM-WETH"}, "WETH", 1_000_000, "USDC", prices, fpmath.SquaredImbalanceModel{})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if res.TokenOut != "USDC" {
		t.Errorf("token out got %s, want USDC", res.TokenOut)
	}
	if res.AmountOut != 3_000_000_000 {
		t.Errorf("amount out got %d, want 3000000000", res.AmountOut)
	}
	if len(res.Hops) != 1 || res.Hops[0].MarketToken != "GM-WETH" {
		t.Fatalf("hops malformed: %+v", res.Hops)
	}
}

func TestRoute_TwoHops(t *testing.T) {
	prices := testPrices(t)
	mgr := testMarkets(t, prices)

	// 2 WETH -> USDC -> WBTC: $6000 buys 0.1 WBTC.
	res, err := swap.Route(mgr, []string{"GM-WETH", "GM-WBTC"}, "WETH", 2_000_000, "WBTC", prices, fpmath.SquaredImbalanceModel{})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if res.TokenOut != "WBTC" {
		t.Errorf("token out got %s, want WBTC", res.TokenOut)
	}
	if res.AmountOut != 100_000 {
		t.Errorf("amount out got %d, want 100000", res.AmountOut)
	}
	if len(res.Hops) != 2 {
		t.Fatalf("got %d hops, want 2", len(res.Hops))
	}
	// Each hop's output feeds the next hop's input.
	if res.Hops[0].Result.AmountOut != res.Hops[1].Result.AmountIn {
		t.Errorf("hop outputs not threaded: %d -> %d",
			res.Hops[0].Result.AmountOut, res.Hops[1].Result.AmountIn)
	}
}

// ============================================================================
// Test: path validation
// ============================================================================

func TestRoute_RepeatedMarket(t *testing.T) {
	prices := testPrices(t)
	mgr := testMarkets(t, prices)

	_, err := swap.Route(mgr, []string{"GM-WETH", "GM-WETH"}, "WETH", 1_000_000, "", prices, fpmath.SquaredImbalanceModel{})
	if !errors.Is(err, swap.ErrInvalidSwapPath) {
		t.Errorf("got %v, want ErrInvalidSwapPath", err)
	}
}

func TestRoute_UnknownMarket(t *testing.T) {
	prices := testPrices(t)
	mgr := testMarkets(t, prices)

	_, err := swap.Route(mgr, []string{"GM-SOL"}, "USDC", 1_000_000, "", prices, fpmath.SquaredImbalanceModel{})
	if !errors.Is(err, swap.ErrInvalidSwapPath) {
		t.Errorf("got %v, want ErrInvalidSwapPath", err)
	}
}

func TestRoute_TokenNotInMarket(t *testing.T) {
	prices := testPrices(t)
	mgr := testMarkets(t, prices)

	_, err := swap.Route(mgr, []string{"GM-WETH"}, "WBTC", 1_000_000, "", prices, fpmath.SquaredImbalanceModel{})
	if !errors.Is(err, swap.ErrInvalidSwapPath) {
		t.Errorf("got %v, want ErrInvalidSwapPath", err)
	}
}

func TestRoute_WrongDestination(t *testing.T) {
	prices := testPrices(t)
	mgr := testMarkets(t, prices)

	_, err := swap.Route(mgr, []string{"GM-WETH"}, "WETH", 1_000_000, "WBTC", prices, fpmath.SquaredImbalanceModel{})
	if !errors.Is(err, swap.ErrInvalidSwapPath) {
		t.Errorf("got %v, want ErrInvalidSwapPath", err)
	}
}

func TestRoute_NonPositiveAmount(t *testing.T) {
	prices := testPrices(t)
	mgr := testMarkets(t, prices)

	_, err := swap.Route(mgr, []string{"GM-WETH"}, "WETH", 0, "", prices, fpmath.SquaredImbalanceModel{})
	if !errors.Is(err, swap.ErrInvalidSwapPath) {
		t.Errorf("got %v, want ErrInvalidSwapPath", err)
	}
}
