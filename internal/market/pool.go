package market

import (
	"fmt"

	fpmath "PerpPools/internal/math"
	"PerpPools/internal/oracle"
)

// SwapResult describes the outcome of routing a swap through one market.
type SwapResult struct {
	TokenIn   string
	TokenOut  string
	AmountIn  int64 // gross, before fee
	AmountOut int64
	FeeAmount int64 // charged in TokenIn, routed to the fee receiver
	ImpactUsd int64 // signed; positive rebates, negative penalizes
}

// sideFor maps a deposit/swap token onto a pool side.
// Single-token markets route everything through the long pool.
func (m *Market) sideFor(token string) (isLong bool, ok bool) {
	if m.SingleToken {
		return true, token == m.LongToken
	}
	switch token {
	case m.LongToken:
		return true, true
	case m.ShortToken:
		return false, true
	}
	return false, false
}

func (m *Market) pool(isLong bool) int64 {
	if isLong {
		return m.PoolLong
	}
	return m.PoolShort
}

func (m *Market) addPool(isLong bool, delta int64) error {
	var next int64
	var err error
	if isLong {
		next, err = fpmath.AddChecked(m.PoolLong, delta)
	} else {
		next, err = fpmath.AddChecked(m.PoolShort, delta)
	}
	if err != nil {
		return err
	}
	if next < 0 {
		return fmt.Errorf("%w: %s pool would go negative", ErrInsufficientLiquidity, m.MarketToken)
	}
	if isLong {
		m.PoolLong = next
	} else {
		m.PoolShort = next
	}
	return nil
}

func (m *Market) reserved(isLong bool) int64 {
	if isLong {
		return m.ReservedLong
	}
	return m.ReservedShort
}

// checkReserveBound verifies reserved <= pool * reserveFactor after a change.
func (m *Market) checkReserveBound(isLong bool) error {
	bound, err := fpmath.ApplyFactor(m.pool(isLong), m.Config.ReserveFactor)
	if err != nil {
		return err
	}
	if m.reserved(isLong) > bound {
		side := "short"
		if isLong {
			side = "long"
		}
		return fmt.Errorf("%w: %s reserve bound exceeded in %s", ErrInsufficientLiquidity, side, m.MarketToken)
	}
	return nil
}

// sideValueUsd prices one pool side.
func (m *Market) sideValueUsd(isLong bool, prices *oracle.Snapshot) (int64, error) {
	token := m.ShortToken
	if isLong {
		token = m.LongToken
	}
	price, err := prices.Price(token)
	if err != nil {
		return 0, err
	}
	return fpmath.AmountToUsd(m.pool(isLong), price)
}

// PoolValueUsd is the total USD value of both pool sides at the given prices.
// Trader PnL is not deducted here; the pools already reflect realized flows
// and unrealized PnL is bounded by the reserve factor.
func (m *Market) PoolValueUsd(prices *oracle.Snapshot) (int64, error) {
	longUsd, err := m.sideValueUsd(true, prices)
	if err != nil {
		return 0, err
	}
	shortUsd, err := m.sideValueUsd(false, prices)
	if err != nil {
		return 0, err
	}
	return fpmath.AddChecked(longUsd, shortUsd)
}

// ApplyDeposit adds liquidity on both sides and returns the share amount to
// mint. A fresh (or fully drained) pool mints one share per USD deposited;
// otherwise shares are minted pro rata against the pre-deposit pool value so
// existing holders are not diluted.
func (m *Market) ApplyDeposit(longAmount, shortAmount int64, prices *oracle.Snapshot, shareSupply int64) (int64, error) {
	if !m.Enabled {
		return 0, fmt.Errorf("%w: %s", ErrMarketDisabled, m.MarketToken)
	}
	if longAmount < 0 || shortAmount < 0 || (longAmount == 0 && shortAmount == 0) {
		return 0, fmt.Errorf("deposit amounts invalid: long=%d short=%d", longAmount, shortAmount)
	}
	if m.SingleToken && shortAmount != 0 {
		return 0, fmt.Errorf("single-token market %s accepts long-side deposits only", m.MarketToken)
	}

	valueBefore, err := m.PoolValueUsd(prices)
	if err != nil {
		return 0, err
	}

	longPrice, err := prices.Price(m.LongToken)
	if err != nil {
		return 0, err
	}
	depositUsd, err := fpmath.AmountToUsd(longAmount, longPrice)
	if err != nil {
		return 0, err
	}
	if shortAmount > 0 {
		shortPrice, err := prices.Price(m.ShortToken)
		if err != nil {
			return 0, err
		}
		shortUsd, err := fpmath.AmountToUsd(shortAmount, shortPrice)
		if err != nil {
			return 0, err
		}
		if depositUsd, err = fpmath.AddChecked(depositUsd, shortUsd); err != nil {
			return 0, err
		}
	}

	if err := m.addPool(true, longAmount); err != nil {
		return 0, err
	}
	if shortAmount > 0 {
		if err := m.addPool(false, shortAmount); err != nil {
			return 0, err
		}
	}

	var mint int64
	if shareSupply == 0 || valueBefore == 0 {
		mint = depositUsd
	} else {
		mint, err = fpmath.ProportionalShare(shareSupply, depositUsd, valueBefore)
		if err != nil {
			return 0, err
		}
	}
	if mint <= 0 {
		return 0, fmt.Errorf("deposit too small to mint shares: %d usd", depositUsd)
	}
	m.Version++
	return mint, nil
}

// ApplyWithdrawal burns shares and returns the pro-rata token amounts owed.
// The withdrawal fails if it would leave either pool unable to back its
// reserved open interest.
func (m *Market) ApplyWithdrawal(burnShares, shareSupply int64) (longOut, shortOut int64, err error) {
	if burnShares <= 0 || burnShares > shareSupply {
		return 0, 0, fmt.Errorf("burn amount invalid: %d of supply %d", burnShares, shareSupply)
	}
	longOut, err = fpmath.ProportionalShare(m.PoolLong, burnShares, shareSupply)
	if err != nil {
		return 0, 0, err
	}
	shortOut, err = fpmath.ProportionalShare(m.PoolShort, burnShares, shareSupply)
	if err != nil {
		return 0, 0, err
	}
	if longOut == 0 && shortOut == 0 {
		return 0, 0, fmt.Errorf("burn amount too small: %d", burnShares)
	}
	if err = m.addPool(true, -longOut); err != nil {
		return 0, 0, err
	}
	if err = m.addPool(false, -shortOut); err != nil {
		return 0, 0, err
	}
	if err = m.checkReserveBound(true); err != nil {
		return 0, 0, err
	}
	if err = m.checkReserveBound(false); err != nil {
		return 0, 0, err
	}
	m.Version++
	return longOut, shortOut, nil
}

// ApplySwap exchanges tokenIn for the opposite pool token. The fee factor and
// price impact both key on whether the trade improves or worsens the pool's
// USD imbalance. Mutates the pools; the fee amount is returned for the caller
// to route out of band.
func (m *Market) ApplySwap(tokenIn string, amountIn int64, prices *oracle.Snapshot, model fpmath.ImpactModel) (*SwapResult, error) {
	if !m.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrMarketDisabled, m.MarketToken)
	}
	if m.SingleToken {
		return nil, fmt.Errorf("%w: %s is single-token", ErrSwapNotSupported, m.MarketToken)
	}
	if amountIn <= 0 {
		return nil, fmt.Errorf("swap amount must be positive: %d", amountIn)
	}
	inIsLong, ok := m.sideFor(tokenIn)
	if !ok {
		return nil, fmt.Errorf("%w: token %s not in market %s", ErrSwapNotSupported, tokenIn, m.MarketToken)
	}
	tokenOut := m.LongToken
	if inIsLong {
		tokenOut = m.ShortToken
	}

	priceIn, err := prices.Price(tokenIn)
	if err != nil {
		return nil, err
	}
	priceOut, err := prices.Price(tokenOut)
	if err != nil {
		return nil, err
	}
	usdIn, err := fpmath.AmountToUsd(amountIn, priceIn)
	if err != nil {
		return nil, err
	}

	longUsd, err := m.sideValueUsd(true, prices)
	if err != nil {
		return nil, err
	}
	shortUsd, err := m.sideValueUsd(false, prices)
	if err != nil {
		return nil, err
	}
	initImbalance := fpmath.AbsImbalance(longUsd, shortUsd)
	var nextLong, nextShort int64
	if inIsLong {
		nextLong, err = fpmath.AddChecked(longUsd, usdIn)
		if err == nil {
			nextShort, err = fpmath.AddChecked(shortUsd, -usdIn)
		}
	} else {
		nextShort, err = fpmath.AddChecked(shortUsd, usdIn)
		if err == nil {
			nextLong, err = fpmath.AddChecked(longUsd, -usdIn)
		}
	}
	if err != nil {
		return nil, err
	}
	nextImbalance := fpmath.AbsImbalance(nextLong, nextShort)

	impactUsd, err := model.ImpactUsd(initImbalance, nextImbalance,
		m.Config.ImpactFactorPositive, m.Config.ImpactFactorNegative)
	if err != nil {
		return nil, err
	}

	feeFactor := m.Config.SwapFeeFactorPositive
	if nextImbalance > initImbalance {
		feeFactor = m.Config.SwapFeeFactorNegative
	}
	feeAmount, err := fpmath.ApplyFactor(amountIn, feeFactor)
	if err != nil {
		return nil, err
	}
	amountAfterFee := amountIn - feeAmount

	usdNet, err := fpmath.AmountToUsd(amountAfterFee, priceIn)
	if err != nil {
		return nil, err
	}
	if usdNet, err = fpmath.AddChecked(usdNet, impactUsd); err != nil {
		return nil, err
	}
	if usdNet <= 0 {
		return nil, fmt.Errorf("swap consumed by fees and impact: %d usd", usdNet)
	}
	amountOut, err := fpmath.UsdToAmount(usdNet, priceOut)
	if err != nil {
		return nil, err
	}
	if amountOut <= 0 {
		return nil, fmt.Errorf("swap output rounds to zero")
	}

	if err := m.addPool(inIsLong, amountAfterFee); err != nil {
		return nil, err
	}
	if err := m.addPool(!inIsLong, -amountOut); err != nil {
		return nil, err
	}
	if err := m.checkReserveBound(!inIsLong); err != nil {
		return nil, err
	}
	m.Version++
	return &SwapResult{
		TokenIn:   tokenIn,
		TokenOut:  tokenOut,
		AmountIn:  amountIn,
		AmountOut: amountOut,
		FeeAmount: feeAmount,
		ImpactUsd: impactUsd,
	}, nil
}

// AdjustPool moves backing-token amounts in or out of the pool directly,
// used by position settlement for PnL payout and collateral absorption.
func (m *Market) AdjustPool(token string, delta int64) error {
	isLong, ok := m.sideFor(token)
	if !ok {
		return fmt.Errorf("token %s not backed by market %s", token, m.MarketToken)
	}
	if err := m.addPool(isLong, delta); err != nil {
		return err
	}
	m.Version++
	return nil
}

// AddOpenInterest records a position size increase and reserves pool tokens
// to back the worst-case payout. Longs reserve index-side tokens sized in
// tokens; shorts reserve short-side tokens sized by USD at the current price.
func (m *Market) AddOpenInterest(isLong bool, sizeDeltaUsd, reserveDeltaTokens int64) error {
	if !m.Enabled {
		return fmt.Errorf("%w: %s", ErrMarketDisabled, m.MarketToken)
	}
	var err error
	if isLong {
		if m.OpenInterestLongUsd, err = fpmath.AddChecked(m.OpenInterestLongUsd, sizeDeltaUsd); err != nil {
			return err
		}
		if m.ReservedLong, err = fpmath.AddChecked(m.ReservedLong, reserveDeltaTokens); err != nil {
			return err
		}
	} else {
		if m.OpenInterestShortUsd, err = fpmath.AddChecked(m.OpenInterestShortUsd, sizeDeltaUsd); err != nil {
			return err
		}
		if m.ReservedShort, err = fpmath.AddChecked(m.ReservedShort, reserveDeltaTokens); err != nil {
			return err
		}
	}
	if err := m.checkReserveBound(isLong); err != nil {
		return err
	}
	m.Version++
	return nil
}

// ReduceOpenInterest releases open interest and reservation on decrease.
// Clamps at zero so rounding drift in the last close cannot strand dust.
func (m *Market) ReduceOpenInterest(isLong bool, sizeDeltaUsd, reserveDeltaTokens int64) {
	if isLong {
		m.OpenInterestLongUsd = clampSub(m.OpenInterestLongUsd, sizeDeltaUsd)
		m.ReservedLong = clampSub(m.ReservedLong, reserveDeltaTokens)
	} else {
		m.OpenInterestShortUsd = clampSub(m.OpenInterestShortUsd, sizeDeltaUsd)
		m.ReservedShort = clampSub(m.ReservedShort, reserveDeltaTokens)
	}
	m.Version++
}

func clampSub(value, delta int64) int64 {
	if delta >= value {
		return 0
	}
	return value - delta
}
