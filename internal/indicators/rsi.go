package indicators

import (
	"errors"
	"math"
)

// DefaultRSIPeriod is the conventional 14-bar lookback.
const DefaultRSIPeriod = 14

var ErrInsufficientData = errors.New("insufficient data for indicator calculation")

// RSI computes the Relative Strength Index over the last period bars of
// the close series. Returns 100 when there were no losses in the window.
func RSI(prices []float64, period int) (float64, error) {
	if len(prices) < period+1 {
		return 0, ErrInsufficientData
	}

	changes := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		changes[i-1] = prices[i] - prices[i-1]
	}

	gains := make([]float64, len(changes))
	losses := make([]float64, len(changes))
	for i, change := range changes {
		if change > 0 {
			gains[i] = change
		} else {
			losses[i] = math.Abs(change)
		}
	}

	avgGain := mean(gains[len(gains)-period:])
	avgLoss := mean(losses[len(losses)-period:])

	if avgLoss == 0 {
		return 100, nil
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs)), nil
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
