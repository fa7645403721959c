package market

import (
	fpmath "PerpPools/internal/math"
	"PerpPools/internal/oracle"
)

// Accrue advances the funding and borrowing accumulators to now. Lazy: called
// at the top of every operation that touches positions or open interest, so
// the accumulators are exact at each settlement point without a timer.
//
// Funding flows from the heavier open-interest side to the lighter one; the
// receiving side's accumulator decreases scaled by the OI ratio so the flow
// is zero-sum. When one side is empty the payer stream accrues to the pool
// (the accumulator still advances, nothing offsets it).
func (m *Market) Accrue(now int64, prices *oracle.Snapshot) error {
	if m.LastAccrualAt == 0 {
		m.LastAccrualAt = now
		return nil
	}
	elapsed := now - m.LastAccrualAt
	if elapsed <= 0 {
		return nil
	}
	m.LastAccrualAt = now

	if err := m.accrueFunding(elapsed); err != nil {
		return err
	}
	return m.accrueBorrowing(elapsed, prices)
}

func (m *Market) accrueFunding(elapsed int64) error {
	longOi, shortOi := m.OpenInterestLongUsd, m.OpenInterestShortUsd
	if longOi == shortOi {
		return nil
	}
	rate, err := fpmath.ComputeFundingRatePerSecond(m.Config.FundingFactor, longOi, shortOi)
	if err != nil {
		return err
	}
	payDelta, err := fpmath.AccruePerSize(0, rate, elapsed)
	if err != nil {
		return err
	}
	if longOi > shortOi {
		if m.CumFundingLong, err = fpmath.AddChecked(m.CumFundingLong, payDelta); err != nil {
			return err
		}
		if shortOi > 0 {
			recvDelta, err := fpmath.MulDiv(payDelta, longOi, shortOi)
			if err != nil {
				return err
			}
			if m.CumFundingShort, err = fpmath.AddChecked(m.CumFundingShort, -recvDelta); err != nil {
				return err
			}
		}
	} else {
		if m.CumFundingShort, err = fpmath.AddChecked(m.CumFundingShort, payDelta); err != nil {
			return err
		}
		if longOi > 0 {
			recvDelta, err := fpmath.MulDiv(payDelta, shortOi, longOi)
			if err != nil {
				return err
			}
			if m.CumFundingLong, err = fpmath.AddChecked(m.CumFundingLong, -recvDelta); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Market) accrueBorrowing(elapsed int64, prices *oracle.Snapshot) error {
	for _, isLong := range []bool{true, false} {
		reservedUsd, err := m.reservedValueUsd(isLong, prices)
		if err != nil {
			return err
		}
		poolUsd, err := m.sideValueUsd(isLong, prices)
		if err != nil {
			return err
		}
		rate, err := fpmath.ComputeBorrowingRatePerSecond(m.Config.BorrowingFactor, reservedUsd, poolUsd)
		if err != nil {
			return err
		}
		delta, err := fpmath.AccruePerSize(0, rate, elapsed)
		if err != nil {
			return err
		}
		if isLong {
			m.CumBorrowingLong, err = fpmath.AddChecked(m.CumBorrowingLong, delta)
		} else {
			m.CumBorrowingShort, err = fpmath.AddChecked(m.CumBorrowingShort, delta)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *Market) reservedValueUsd(isLong bool, prices *oracle.Snapshot) (int64, error) {
	token := m.ShortToken
	if isLong {
		token = m.LongToken
	}
	price, err := prices.Price(token)
	if err != nil {
		return 0, err
	}
	return fpmath.AmountToUsd(m.reserved(isLong), price)
}

// CumFunding returns the funding accumulator for one side.
func (m *Market) CumFunding(isLong bool) int64 {
	if isLong {
		return m.CumFundingLong
	}
	return m.CumFundingShort
}

// CumBorrowing returns the borrowing accumulator for one side.
func (m *Market) CumBorrowing(isLong bool) int64 {
	if isLong {
		return m.CumBorrowingLong
	}
	return m.CumBorrowingShort
}
