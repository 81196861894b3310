package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// series builds n bars from a generator.
func series(n int, gen func(i int) float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = gen(i)
	}
	return out
}

func flatVolumes(n int, last float64) []float64 {
	v := series(n, func(int) float64 { return 1000 })
	v[n-1] = last
	return v
}

func TestNormalizeShortHistoryScoresZero(t *testing.T) {
	var n Normalizer
	sub, reasons := n.Normalize(series(10, func(i int) float64 { return 100 }), flatVolumes(10, 2000))
	assert.Equal(t, SubScores{}, sub)
	assert.NotEmpty(t, reasons)
}

func TestNormalizeVolumeFloorDisqualifies(t *testing.T) {
	var n Normalizer
	prices := series(60, func(i int) float64 { return 100 })
	// Last bar at exactly the average: below the 1.5x floor.
	sub, reasons := n.Normalize(prices, flatVolumes(60, 1000))
	assert.Equal(t, SubScores{}, sub)
	assert.Contains(t, reasons[0], "volume")
}

func TestNormalizeOversoldDip(t *testing.T) {
	var n Normalizer
	// Long slide gives deeply oversold RSI and a price at the lower band.
	prices := series(60, func(i int) float64 { return 200 - float64(i) })
	volumes := flatVolumes(60, 4000) // 4x surge

	sub, reasons := n.Normalize(prices, volumes)

	assert.Equal(t, 100.0, sub.RSI)
	assert.GreaterOrEqual(t, sub.Bollinger, 50.0)
	assert.Equal(t, 100.0, sub.Volume)
	assert.Zero(t, sub.MACD)  // falling market has no bullish cross
	assert.Zero(t, sub.Trend) // averages aligned downward
	assert.NotEmpty(t, reasons)
}

func TestNormalizeUptrend(t *testing.T) {
	var n Normalizer
	prices := series(60, func(i int) float64 { return 100 + float64(i)*0.8 })
	volumes := flatVolumes(60, 2200) // 2.2x

	sub, _ := n.Normalize(prices, volumes)

	assert.Zero(t, sub.RSI)                  // steadily rising market is not oversold
	assert.GreaterOrEqual(t, sub.MACD, 80.0) // bullish cross above zero
	assert.Equal(t, 100.0, sub.Trend)
	assert.Equal(t, 60.0, sub.Volume)
}
