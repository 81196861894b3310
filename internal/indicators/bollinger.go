package indicators

import "math"

// Default Bollinger parameters.
const (
	DefaultBollingerPeriod = 20
	DefaultBollingerStdDev = 2.0
)

// BollingerBands returns the lower and upper bands over the last period
// closes.
func BollingerBands(prices []float64, period int, stdDev float64) (lower, upper float64, err error) {
	if len(prices) < period || period <= 0 {
		return 0, 0, ErrInsufficientData
	}

	window := prices[len(prices)-period:]
	avg := mean(window)

	variance := 0.0
	for _, p := range window {
		d := p - avg
		variance += d * d
	}
	sd := math.Sqrt(variance / float64(period))

	return avg - stdDev*sd, avg + stdDev*sd, nil
}

// BandPosition maps a price into its band range: 0 at the lower band, 1 at
// the upper. Values outside [0, 1] mean the price has pierced a band.
func BandPosition(price, lower, upper float64) float64 {
	if upper <= lower {
		return 0.5
	}
	return (price - lower) / (upper - lower)
}
