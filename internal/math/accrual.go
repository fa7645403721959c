package math

import "math/big"

// ComputeFundingRatePerSecond derives the per-second funding rate (rate
// scale) from open-interest skew: rate = fundingFactor * |longOi - shortOi|
// / totalOi, paid by the heavier side to the lighter one.
func ComputeFundingRatePerSecond(fundingFactor, longOiUsd, shortOiUsd int64) (int64, error) {
	totalOi := longOiUsd + shortOiUsd
	if totalOi == 0 {
		return 0, nil
	}

	skew := AbsImbalance(longOiUsd, shortOiUsd)

	// rate = fundingFactor * skew * RateScale / (totalOi * FactorScale)
	temp := MultiplyInt128(fundingFactor, skew)
	temp.Mul(temp, big.NewInt(RateConfig.Scale))
	denom := getInt128()
	denom.Mul(big.NewInt(totalOi), big.NewInt(FactorConfig.Scale))

	quotient := getInt128()
	quotient.Quo(temp, denom)

	var err error
	var rate int64
	if !quotient.IsInt64() {
		err = ErrArithmeticOverflow
	} else {
		rate = quotient.Int64()
	}

	putInt128(temp)
	putInt128(denom)
	putInt128(quotient)

	return rate, err
}

// ComputeBorrowingRatePerSecond derives the per-second borrowing rate (rate
// scale) from pool utilization: rate = borrowingFactor * reserved / pool.
func ComputeBorrowingRatePerSecond(borrowingFactor, reservedUsd, poolUsd int64) (int64, error) {
	if poolUsd == 0 || reservedUsd == 0 {
		return 0, nil
	}

	temp := MultiplyInt128(borrowingFactor, reservedUsd)
	temp.Mul(temp, big.NewInt(RateConfig.Scale))
	denom := getInt128()
	denom.Mul(big.NewInt(poolUsd), big.NewInt(FactorConfig.Scale))

	quotient := getInt128()
	quotient.Quo(temp, denom)

	var err error
	var rate int64
	if !quotient.IsInt64() {
		err = ErrArithmeticOverflow
	} else {
		rate = quotient.Int64()
	}

	putInt128(temp)
	putInt128(denom)
	putInt128(quotient)

	return rate, err
}

// AccruePerSize advances a cumulative per-size accumulator (rate scale) by
// rate * elapsedSeconds.
func AccruePerSize(cumulative, ratePerSecond, elapsedSeconds int64) (int64, error) {
	delta, err := MulDiv(ratePerSecond, elapsedSeconds, 1)
	if err != nil {
		return 0, err
	}
	return AddChecked(cumulative, delta)
}

// ComputeAccruedFee turns the growth of a per-size accumulator into a USD
// fee for a position of sizeInUsd.
func ComputeAccruedFee(cumulativeNow, cumulativeSnapshot, sizeInUsd int64) (int64, error) {
	growth := cumulativeNow - cumulativeSnapshot
	if growth == 0 || sizeInUsd == 0 {
		return 0, nil
	}
	return MulDiv(sizeInUsd, growth, RateConfig.Scale)
}
