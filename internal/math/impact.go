package math

import "math/big"

// ImpactModel prices the execution adjustment caused by a trade shifting a
// pool's long/short imbalance. The functional form is configuration-driven,
// so it is an injectable strategy rather than a fixed formula.
type ImpactModel interface {
	// ImpactUsd returns the signed USD adjustment for a trade that moves the
	// absolute pool imbalance from initialImbalanceUsd to nextImbalanceUsd.
	// Positive = rebate (trade improves balance), negative = penalty.
	ImpactUsd(initialImbalanceUsd, nextImbalanceUsd, positiveFactor, negativeFactor int64) (int64, error)
}

// SquaredImbalanceModel charges proportionally to the change of the squared
// imbalance: impact = factor * (init² - next²) / (scale * scale). The factor
// is asymmetric: the worsening direction uses negativeFactor, the improving
// direction positiveFactor, so crossing the balance point nets the two.
type SquaredImbalanceModel struct{}

func (SquaredImbalanceModel) ImpactUsd(initialImbalanceUsd, nextImbalanceUsd, positiveFactor, negativeFactor int64) (int64, error) {
	if initialImbalanceUsd == nextImbalanceUsd {
		return 0, nil
	}

	factor := positiveFactor
	if nextImbalanceUsd > initialImbalanceUsd {
		factor = negativeFactor
	}

	// delta = init² - next² (int128; squares of USD values overflow int64)
	initSq := MultiplyInt128(initialImbalanceUsd, initialImbalanceUsd)
	nextSq := MultiplyInt128(nextImbalanceUsd, nextImbalanceUsd)
	delta := getInt128()
	delta.Sub(initSq, nextSq)

	// impact = delta * factor / (UsdScale * FactorScale)
	delta.Mul(delta, big.NewInt(factor))
	denominator := UsdConfig.Scale * FactorConfig.Scale

	impact, err := DivideInt128(delta, denominator, RoundHalfEven)

	putInt128(initSq)
	putInt128(nextSq)
	putInt128(delta)

	if err != nil {
		return 0, err
	}
	return impact, nil
}

// AbsImbalance returns |longUsd - shortUsd|.
func AbsImbalance(longUsd, shortUsd int64) int64 {
	d := longUsd - shortUsd
	if d < 0 {
		return -d
	}
	return d
}
