// Package indicators provides the volatility computations used to size the grid.
package indicators

import (
	"fmt"

	apperrors "grid-trader/internal/errors"
	"grid-trader/internal/models"
)

// ATR calculates the Average True Range.
type ATR struct {
	period int
}

// NewATR creates a new ATR indicator.
func NewATR(period int) *ATR {
	return &ATR{period: period}
}

func (a *ATR) Name() string {
	return fmt.Sprintf("ATR_%d", a.period)
}

func (a *ATR) Period() int {
	return a.period
}

// Calculate returns the ATR series for the candles. Values before index
// period-1 are zero.
func (a *ATR) Calculate(candles []models.Candle) ([]float64, error) {
	if a.period <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(candles) < a.period+1 {
		return nil, apperrors.ErrInsufficientData
	}

	n := len(candles)
	result := make([]float64, n)
	tr := make([]float64, n)

	// First TR is just high - low
	tr[0] = candles[0].High - candles[0].Low

	// Calculate True Range for remaining candles
	for i := 1; i < n; i++ {
		tr[i] = trueRange(candles[i], candles[i-1])
	}

	// First ATR is SMA of TR
	result[a.period-1] = mean(tr[:a.period])

	// Subsequent ATR using Wilder smoothing
	for i := a.period; i < n; i++ {
		result[i] = (result[i-1]*float64(a.period-1) + tr[i]) / float64(a.period)
	}

	return result, nil
}

// VolatilityEstimate is the output of the volatility estimator: the latest
// smoothed true-range magnitude and the close it was observed at.
type VolatilityEstimate struct {
	ATR       float64
	LastClose float64
}

// Estimate computes the current volatility estimate from recent candles.
// Requires at least window+1 candles; fails with ErrInsufficientData
// otherwise so the grid planner never proceeds on a degenerate estimate.
func Estimate(candles []models.Candle, window int) (VolatilityEstimate, error) {
	atr := NewATR(window)
	values, err := atr.Calculate(candles)
	if err != nil {
		return VolatilityEstimate{}, err
	}
	return VolatilityEstimate{
		ATR:       values[len(values)-1],
		LastClose: candles[len(candles)-1].Close,
	}, nil
}
