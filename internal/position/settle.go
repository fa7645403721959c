package position

import (
	"fmt"

	"PerpPools/internal/market"
	fpmath "PerpPools/internal/math"
	"PerpPools/internal/oracle"
)

// FeeSettlement is the outcome of charging the accrued funding and borrowing
// spread against a position's collateral. Amounts are in the collateral
// token. CollectedAmount is negative when net funding flows to the position.
// UncollectedAmount is the portion the collateral could not cover; the pool
// absorbs it and the caller emits a notification.
type FeeSettlement struct {
	FundingUsd        int64
	BorrowingUsd      int64
	CollectedAmount   int64
	UncollectedAmount int64
}

// IncreaseResult reports an executed size/collateral increase. The caller
// routes custody from it: CollateralDelta from escrow to the trader's
// collateral account, fee collections to the pool.
type IncreaseResult struct {
	SizeDeltaUsd    int64
	SizeDeltaTokens int64
	CollateralDelta int64
	ExecutionPrice  int64
	ReserveDelta    int64
	Fees            FeeSettlement
}

// DecreaseResult reports an executed size decrease. PnlAmount is signed in
// the collateral token: positive is paid to the owner out of the pool,
// negative is taken from collateral into the pool. PayoutAmount is the total
// collateral-token amount owed to the owner (withdrawal plus profit).
type DecreaseResult struct {
	SizeDeltaUsd     int64
	SizeDeltaTokens  int64
	ExecutionPrice   int64
	RealizedPnlUsd   int64
	PnlAmount        int64
	PayoutAmount     int64
	ReservedReleased int64
	Closed           bool
	Fees             FeeSettlement
}

// settleFees charges the accumulator spread since the last touch and rolls
// the snapshots forward. Mutates collateral in place; pool custody follows
// via the returned settlement.
func settleFees(p *Position, m *market.Market, prices *oracle.Snapshot) (FeeSettlement, error) {
	var fs FeeSettlement
	if p.SizeInUsd == 0 {
		p.CumFundingSnapshot = m.CumFunding(p.IsLong)
		p.CumBorrowingSnapshot = m.CumBorrowing(p.IsLong)
		return fs, nil
	}

	var err error
	fs.FundingUsd, err = fpmath.ComputeAccruedFee(m.CumFunding(p.IsLong), p.CumFundingSnapshot, p.SizeInUsd)
	if err != nil {
		return fs, err
	}
	fs.BorrowingUsd, err = fpmath.ComputeAccruedFee(m.CumBorrowing(p.IsLong), p.CumBorrowingSnapshot, p.SizeInUsd)
	if err != nil {
		return fs, err
	}
	totalUsd, err := fpmath.AddChecked(fs.FundingUsd, fs.BorrowingUsd)
	if err != nil {
		return fs, err
	}
	p.CumFundingSnapshot = m.CumFunding(p.IsLong)
	p.CumBorrowingSnapshot = m.CumBorrowing(p.IsLong)
	if totalUsd == 0 {
		return fs, nil
	}

	collateralPrice, err := prices.Price(p.CollateralToken)
	if err != nil {
		return fs, err
	}
	if totalUsd < 0 {
		rebate, err := fpmath.UsdToAmount(-totalUsd, collateralPrice)
		if err != nil {
			return fs, err
		}
		if p.CollateralAmount, err = fpmath.AddChecked(p.CollateralAmount, rebate); err != nil {
			return fs, err
		}
		fs.CollectedAmount = -rebate
		return fs, nil
	}

	owed, err := fpmath.UsdToAmount(totalUsd, collateralPrice)
	if err != nil {
		return fs, err
	}
	if owed > p.CollateralAmount {
		fs.CollectedAmount = p.CollateralAmount
		fs.UncollectedAmount = owed - p.CollateralAmount
		p.CollateralAmount = 0
	} else {
		fs.CollectedAmount = owed
		p.CollateralAmount -= owed
	}
	return fs, nil
}

// executionPrice adjusts the index price for the open-interest imbalance
// shift the trade causes. The model prices the shift in USD; folding it into
// the price keeps size-token accounting consistent: a penalty makes a long
// increase buy above index and a long decrease sell below it, mirrored for
// shorts.
func executionPrice(m *market.Market, model fpmath.ImpactModel, indexPrice, sizeDeltaUsd int64, isLong, isIncrease bool) (int64, error) {
	delta := sizeDeltaUsd
	if !isIncrease {
		delta = -sizeDeltaUsd
	}
	longOI, shortOI := m.OpenInterestLongUsd, m.OpenInterestShortUsd
	var err error
	if isLong {
		longOI, err = fpmath.AddChecked(longOI, delta)
	} else {
		shortOI, err = fpmath.AddChecked(shortOI, delta)
	}
	if err != nil {
		return 0, err
	}
	impactUsd, err := model.ImpactUsd(
		fpmath.AbsImbalance(m.OpenInterestLongUsd, m.OpenInterestShortUsd),
		fpmath.AbsImbalance(longOI, shortOI),
		m.Config.ImpactFactorPositive, m.Config.ImpactFactorNegative,
	)
	if err != nil {
		return 0, err
	}

	denom := sizeDeltaUsd
	if isLong == isIncrease {
		denom, err = fpmath.AddChecked(denom, impactUsd)
	} else {
		denom, err = fpmath.AddChecked(denom, -impactUsd)
	}
	if err != nil {
		return 0, err
	}
	if denom <= 0 {
		return 0, fmt.Errorf("price impact %d swallows size delta %d usd", impactUsd, sizeDeltaUsd)
	}
	return fpmath.MulDiv(indexPrice, sizeDeltaUsd, denom)
}

// Increase grows a position's size and/or collateral. Accrued fees settle
// first so the new size never pays for time it was not open. The market's
// open interest and reservation grow with the size delta; the reserve-bound
// check inside AddOpenInterest rejects increases the pool cannot back.
func Increase(p *Position, m *market.Market, prices *oracle.Snapshot, model fpmath.ImpactModel, sizeDeltaUsd, collateralDelta, now int64) (*IncreaseResult, error) {
	if sizeDeltaUsd < 0 || collateralDelta < 0 || (sizeDeltaUsd == 0 && collateralDelta == 0) {
		return nil, fmt.Errorf("increase deltas invalid: size=%d collateral=%d", sizeDeltaUsd, collateralDelta)
	}

	fees, err := settleFees(p, m, prices)
	if err != nil {
		return nil, err
	}
	if p.CollateralAmount, err = fpmath.AddChecked(p.CollateralAmount, collateralDelta); err != nil {
		return nil, err
	}

	indexPrice, err := prices.Price(m.IndexToken)
	if err != nil {
		return nil, err
	}
	res := &IncreaseResult{
		SizeDeltaUsd:    sizeDeltaUsd,
		CollateralDelta: collateralDelta,
		ExecutionPrice:  indexPrice,
		Fees:            fees,
	}

	if sizeDeltaUsd > 0 {
		res.ExecutionPrice, err = executionPrice(m, model, indexPrice, sizeDeltaUsd, p.IsLong, true)
		if err != nil {
			return nil, err
		}
		res.SizeDeltaTokens, err = fpmath.UsdToAmount(sizeDeltaUsd, res.ExecutionPrice)
		if err != nil {
			return nil, err
		}
		if res.SizeDeltaTokens <= 0 {
			return nil, fmt.Errorf("size delta rounds to zero tokens: %d usd", sizeDeltaUsd)
		}
		if p.IsLong {
			res.ReserveDelta = res.SizeDeltaTokens
		} else {
			shortPrice, err := prices.Price(m.ShortToken)
			if err != nil {
				return nil, err
			}
			if res.ReserveDelta, err = fpmath.UsdToAmount(sizeDeltaUsd, shortPrice); err != nil {
				return nil, err
			}
		}
		if err := m.AddOpenInterest(p.IsLong, sizeDeltaUsd, res.ReserveDelta); err != nil {
			return nil, err
		}
		if p.SizeInUsd, err = fpmath.AddChecked(p.SizeInUsd, sizeDeltaUsd); err != nil {
			return nil, err
		}
		if p.SizeInTokens, err = fpmath.AddChecked(p.SizeInTokens, res.SizeDeltaTokens); err != nil {
			return nil, err
		}
		if p.ReservedAmount, err = fpmath.AddChecked(p.ReservedAmount, res.ReserveDelta); err != nil {
			return nil, err
		}
	}

	if p.SizeInUsd > 0 && p.CollateralAmount <= 0 {
		return nil, fmt.Errorf("%w: %s has no collateral after fees", ErrInsufficientCollateral, p.Key)
	}
	p.IncreasedAt = now
	p.Version++
	return res, nil
}

// Decrease shrinks a position, realizing PnL on the closed portion at the
// impact-adjusted index price. Losses come out of collateral into the pool;
// profit is paid from the pool in the collateral token. A full close also
// returns all remaining collateral and marks the position for deletion.
func Decrease(p *Position, m *market.Market, prices *oracle.Snapshot, model fpmath.ImpactModel, sizeDeltaUsd, collateralWithdrawal, now int64) (*DecreaseResult, error) {
	if sizeDeltaUsd <= 0 || sizeDeltaUsd > p.SizeInUsd {
		return nil, fmt.Errorf("decrease size invalid: %d of %d", sizeDeltaUsd, p.SizeInUsd)
	}
	if collateralWithdrawal < 0 {
		return nil, fmt.Errorf("collateral withdrawal must be >= 0: %d", collateralWithdrawal)
	}

	fees, err := settleFees(p, m, prices)
	if err != nil {
		return nil, err
	}

	indexPrice, err := prices.Price(m.IndexToken)
	if err != nil {
		return nil, err
	}
	execPrice, err := executionPrice(m, model, indexPrice, sizeDeltaUsd, p.IsLong, false)
	if err != nil {
		return nil, err
	}
	closing := sizeDeltaUsd == p.SizeInUsd

	res := &DecreaseResult{
		SizeDeltaUsd:   sizeDeltaUsd,
		ExecutionPrice: execPrice,
		Closed:         closing,
		Fees:           fees,
	}
	if closing {
		res.SizeDeltaTokens = p.SizeInTokens
		res.ReservedReleased = p.ReservedAmount
	} else {
		if res.SizeDeltaTokens, err = fpmath.ProportionalShare(p.SizeInTokens, sizeDeltaUsd, p.SizeInUsd); err != nil {
			return nil, err
		}
		if res.ReservedReleased, err = fpmath.ProportionalShare(p.ReservedAmount, sizeDeltaUsd, p.SizeInUsd); err != nil {
			return nil, err
		}
	}

	res.RealizedPnlUsd, err = fpmath.ComputePositionPnl(p.IsLong, sizeDeltaUsd, res.SizeDeltaTokens, execPrice)
	if err != nil {
		return nil, err
	}
	collateralPrice, err := prices.Price(p.CollateralToken)
	if err != nil {
		return nil, err
	}
	if res.RealizedPnlUsd >= 0 {
		if res.PnlAmount, err = fpmath.UsdToAmount(res.RealizedPnlUsd, collateralPrice); err != nil {
			return nil, err
		}
	} else {
		loss, err := fpmath.UsdToAmount(-res.RealizedPnlUsd, collateralPrice)
		if err != nil {
			return nil, err
		}
		if loss > p.CollateralAmount {
			return nil, fmt.Errorf("%w: loss %d exceeds collateral %d on %s",
				ErrInsufficientCollateral, loss, p.CollateralAmount, p.Key)
		}
		p.CollateralAmount -= loss
		res.PnlAmount = -loss
	}

	if closing {
		collateralWithdrawal = p.CollateralAmount
	} else if collateralWithdrawal > p.CollateralAmount {
		return nil, fmt.Errorf("%w: withdrawal %d exceeds collateral %d on %s",
			ErrInsufficientCollateral, collateralWithdrawal, p.CollateralAmount, p.Key)
	}
	p.CollateralAmount -= collateralWithdrawal

	res.PayoutAmount = collateralWithdrawal
	if res.PnlAmount > 0 {
		if res.PayoutAmount, err = fpmath.AddChecked(res.PayoutAmount, res.PnlAmount); err != nil {
			return nil, err
		}
	}

	m.ReduceOpenInterest(p.IsLong, sizeDeltaUsd, res.ReservedReleased)
	p.SizeInUsd -= sizeDeltaUsd
	p.SizeInTokens -= res.SizeDeltaTokens
	p.ReservedAmount -= res.ReservedReleased
	if closing {
		p.SizeInTokens = 0
		p.ReservedAmount = 0
	} else if p.SizeInUsd > 0 && p.CollateralAmount <= 0 {
		return nil, fmt.Errorf("%w: %s left without collateral", ErrInsufficientCollateral, p.Key)
	}
	p.DecreasedAt = now
	p.Version++
	return res, nil
}
