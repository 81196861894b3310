package indicators

// Default MACD periods.
const (
	DefaultMACDFast   = 12
	DefaultMACDSlow   = 26
	DefaultMACDSignal = 9
)

// MACD computes the MACD line and its signal line over the close series.
// The signal line is the EMA of the full MACD history, not a one-point
// approximation.
func MACD(prices []float64, fast, slow, signal int) (macdLine, signalLine float64, err error) {
	if len(prices) < slow+signal {
		return 0, 0, ErrInsufficientData
	}

	fastEMA := EMA(prices, fast)
	slowEMA := EMA(prices, slow)

	history := make([]float64, len(prices))
	for i := range prices {
		history[i] = fastEMA[i] - slowEMA[i]
	}

	macdLine = history[len(history)-1]
	signalSeries := EMA(history, signal)
	signalLine = signalSeries[len(signalSeries)-1]
	return macdLine, signalLine, nil
}
