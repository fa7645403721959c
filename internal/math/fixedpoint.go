package math

import (
	"errors"
	"math/big"
	"sync"
)

// ErrArithmeticOverflow is returned when a fixed-point result does not fit
// in int64. Callers must treat it as fatal for the whole settlement call —
// it is never clamped.
var ErrArithmeticOverflow = errors.New("arithmetic overflow")

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	// Standard configs
	AmountConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}     // token amounts
	UsdConfig    = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}     // USD values
	PriceConfig  = DecimalConfig{DecimalPrecision: 8, Scale: 100_000_000}   // USD per token
	FactorConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}     // fee/impact/reserve factors (ppm)
	RateConfig   = DecimalConfig{DecimalPrecision: 8, Scale: 100_000_000}   // per-second accrual rates
)

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// MultiplyInt128 performs a * b using int128 to prevent overflow
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding (default)
	RoundDown
	RoundUp
)

// DivideInt128 performs numerator / denominator with rounding. The result
// must fit in int64; ErrArithmeticOverflow otherwise.
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) (int64, error) {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()

	quotient.QuoRem(numerator, denom, remainder)

	if !quotient.IsInt64() {
		putInt128(quotient)
		putInt128(remainder)
		return 0, ErrArithmeticOverflow
	}

	result := quotient.Int64()
	remAbs := remainder.Int64()
	if remAbs < 0 {
		remAbs = -remAbs
	}
	denomAbs := denominator
	if denomAbs < 0 {
		denomAbs = -denomAbs
	}

	switch roundingMode {
	case RoundHalfEven:
		half := denomAbs / 2
		if remAbs > half {
			result = roundAway(result, numerator, denominator)
		} else if remAbs == half && denomAbs%2 == 0 && result%2 != 0 {
			result = roundAway(result, numerator, denominator)
		}
	case RoundUp:
		if remAbs != 0 {
			result = roundAway(result, numerator, denominator)
		}
	case RoundDown:
		// Quo already truncates toward zero
	}

	putInt128(quotient)
	putInt128(remainder)

	return result, nil
}

// roundAway moves the truncated quotient one unit away from zero, in the
// direction of the exact quotient's sign.
func roundAway(truncated int64, numerator *big.Int, denominator int64) int64 {
	negative := (numerator.Sign() < 0) != (denominator < 0)
	if negative {
		return truncated - 1
	}
	return truncated + 1
}

// MulDiv computes a * b / denominator with an int128 intermediate.
func MulDiv(a, b, denominator int64) (int64, error) {
	temp := MultiplyInt128(a, b)
	result, err := DivideInt128(temp, denominator, RoundHalfEven)
	putInt128(temp)
	return result, err
}

// MulDivRound is MulDiv with an explicit rounding mode.
func MulDivRound(a, b, denominator int64, mode RoundingMode) (int64, error) {
	temp := MultiplyInt128(a, b)
	result, err := DivideInt128(temp, denominator, mode)
	putInt128(temp)
	return result, err
}

// AddChecked computes a + b, detecting int64 overflow.
func AddChecked(a, b int64) (int64, error) {
	sum := a + b
	if (a > 0 && b > 0 && sum < 0) || (a < 0 && b < 0 && sum > 0) {
		return 0, ErrArithmeticOverflow
	}
	return sum, nil
}

// AmountToUsd converts a token amount (amount scale) at a price (price
// scale) into a USD value (USD scale).
func AmountToUsd(amount, price int64) (int64, error) {
	return MulDiv(amount, price, PriceConfig.Scale)
}

// UsdToAmount converts a USD value back into a token amount at a price.
func UsdToAmount(usd, price int64) (int64, error) {
	if price == 0 {
		return 0, ErrArithmeticOverflow
	}
	return MulDiv(usd, PriceConfig.Scale, price)
}

// ApplyFactor scales a value by a parts-per-million factor.
func ApplyFactor(value, factor int64) (int64, error) {
	return MulDiv(value, factor, FactorConfig.Scale)
}

// ComputeAvgEntryPrice calculates the size-weighted average entry price of a
// position after an increase, from USD-size and token-size before/after.
func ComputeAvgEntryPrice(sizeInUsd, sizeInTokens int64) (int64, error) {
	if sizeInTokens == 0 {
		return 0, nil
	}
	return MulDiv(sizeInUsd, PriceConfig.Scale, sizeInTokens)
}

// ComputePositionPnl calculates the total unrealized PnL of a position in
// USD. Long profit when value exceeds sizeInUsd; short profit the inverse.
func ComputePositionPnl(isLong bool, sizeInUsd, sizeInTokens, price int64) (int64, error) {
	value, err := AmountToUsd(sizeInTokens, price)
	if err != nil {
		return 0, err
	}
	if isLong {
		return value - sizeInUsd, nil
	}
	return sizeInUsd - value, nil
}

// ProportionalShare computes total * part / whole, the realized slice of a
// position-wide quantity for a partial decrease.
func ProportionalShare(total, part, whole int64) (int64, error) {
	if whole == 0 {
		return 0, nil
	}
	return MulDiv(total, part, whole)
}
