package indicators

// SMA returns the simple moving average of the last period values, or an
// error when the series is too short.
func SMA(prices []float64, period int) (float64, error) {
	if len(prices) < period || period <= 0 {
		return 0, ErrInsufficientData
	}
	return mean(prices[len(prices)-period:]), nil
}
