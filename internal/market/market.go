package market

import (
	"errors"
	"fmt"
)

var (
	ErrMarketNotFound        = errors.New("market not found")
	ErrMarketDisabled        = errors.New("market disabled")
	ErrMarketNotEmpty        = errors.New("market not empty")
	ErrMarketExists          = errors.New("market already exists")
	ErrSwapNotSupported      = errors.New("swap not supported")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
)

// Config holds the per-market fee/impact/accrual factors, all ppm.
// The positive/negative pairs are keyed on imbalance direction: a trade that
// worsens the pool's long/short imbalance pays the negative factor, one that
// improves it pays the positive factor.
type Config struct {
	SwapFeeFactorPositive int64
	SwapFeeFactorNegative int64
	ImpactFactorPositive  int64
	ImpactFactorNegative  int64
	FundingFactor         int64
	BorrowingFactor       int64
	ReserveFactor         int64 // fraction of pool reservable for open interest
}

// Validate checks factor ranges before a config is accepted.
func (c *Config) Validate() error {
	const ppm = 1_000_000
	if c.SwapFeeFactorPositive < 0 || c.SwapFeeFactorPositive >= ppm {
		return fmt.Errorf("swap_fee_factor_positive out of range: %d", c.SwapFeeFactorPositive)
	}
	if c.SwapFeeFactorNegative < c.SwapFeeFactorPositive || c.SwapFeeFactorNegative >= ppm {
		return fmt.Errorf("swap_fee_factor_negative out of range: %d", c.SwapFeeFactorNegative)
	}
	if c.ImpactFactorPositive < 0 || c.ImpactFactorNegative < 0 {
		return fmt.Errorf("impact factors must be >= 0")
	}
	if c.FundingFactor < 0 || c.BorrowingFactor < 0 {
		return fmt.Errorf("accrual factors must be >= 0")
	}
	if c.ReserveFactor <= 0 || c.ReserveFactor > ppm {
		return fmt.Errorf("reserve_factor out of range: %d", c.ReserveFactor)
	}
	return nil
}

// Market is one shared-liquidity market: a long/short token reserve backing
// leveraged positions and swaps, with a fungible share token minted against
// the pool. A single-token market (long == short) uses combined-pool
// semantics — all formulas fall out the same because both sides price off
// the one token.
type Market struct {
	MarketToken string // share identity
	IndexToken  string
	LongToken   string
	ShortToken  string

	PoolLong  int64 // amount scale; invariant: >= 0 after every operation
	PoolShort int64

	Config      Config
	Enabled     bool
	SingleToken bool

	// Lazy accrual state, advanced by Accrue before every touching op.
	CumFundingLong    int64 // per-size accumulators, rate scale
	CumFundingShort   int64
	CumBorrowingLong  int64
	CumBorrowingShort int64
	LastAccrualAt     int64 // unix seconds; 0 = never accrued

	// Open interest and pool reservation backing it.
	OpenInterestLongUsd  int64
	OpenInterestShortUsd int64
	ReservedLong         int64 // long-token amount reserved for long positions
	ReservedShort        int64

	Version int64 // bumped on every mutation
}

// New creates a market with both pools empty.
func New(marketToken, indexToken, longToken, shortToken string, cfg Config) (*Market, error) {
	if marketToken == "" || indexToken == "" || longToken == "" || shortToken == "" {
		return nil, fmt.Errorf("market tokens must not be empty")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("market %s: %w", marketToken, err)
	}
	return &Market{
		MarketToken: marketToken,
		IndexToken:  indexToken,
		LongToken:   longToken,
		ShortToken:  shortToken,
		Config:      cfg,
		Enabled:     true,
		SingleToken: longToken == shortToken,
	}, nil
}

// IsEmpty reports whether the market can be removed.
func (m *Market) IsEmpty() bool {
	return m.PoolLong == 0 && m.PoolShort == 0 &&
		m.OpenInterestLongUsd == 0 && m.OpenInterestShortUsd == 0
}

// Clone returns a deep copy for unit-of-work staging.
func (m *Market) Clone() *Market {
	c := *m
	return &c
}

// Manager holds all markets.
// Not thread-safe — only accessed from the single-threaded settlement core.
type Manager struct {
	markets map[string]*Market
}

func NewManager() *Manager {
	return &Manager{markets: make(map[string]*Market)}
}

// Get returns the market keyed by its share token.
func (mgr *Manager) Get(marketToken string) (*Market, error) {
	m, ok := mgr.markets[marketToken]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, marketToken)
	}
	return m, nil
}

// Create registers a new market.
func (mgr *Manager) Create(m *Market) error {
	if _, exists := mgr.markets[m.MarketToken]; exists {
		return fmt.Errorf("%w: %s", ErrMarketExists, m.MarketToken)
	}
	mgr.markets[m.MarketToken] = m
	return nil
}

// Remove deletes a market; permitted only when empty.
func (mgr *Manager) Remove(marketToken string) error {
	m, ok := mgr.markets[marketToken]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMarketNotFound, marketToken)
	}
	if !m.IsEmpty() {
		return fmt.Errorf("%w: %s", ErrMarketNotEmpty, marketToken)
	}
	delete(mgr.markets, marketToken)
	return nil
}

// Set replaces a market entry (unit-of-work commit and snapshot restore).
func (mgr *Manager) Set(m *Market) {
	mgr.markets[m.MarketToken] = m
}

// All returns every market (iteration order unspecified).
func (mgr *Manager) All() []*Market {
	out := make([]*Market, 0, len(mgr.markets))
	for _, m := range mgr.markets {
		out = append(out, m)
	}
	return out
}
