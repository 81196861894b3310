package indicators

// EMA returns the exponential moving average series for the given period.
// Early entries are seeded from the running simple average, matching the
// usual charting convention.
func EMA(prices []float64, period int) []float64 {
	if len(prices) == 0 || period <= 0 {
		return nil
	}

	out := make([]float64, len(prices))
	multiplier := 2.0 / float64(period+1)

	seed := period
	if seed > len(prices) {
		seed = len(prices)
	}
	out[0] = prices[0]
	for i := 1; i < seed; i++ {
		out[i] = mean(prices[:i+1])
	}
	for i := seed; i < len(prices); i++ {
		out[i] = (prices[i]-out[i-1])*multiplier + out[i-1]
	}
	return out
}
