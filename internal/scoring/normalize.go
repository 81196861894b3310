package scoring

import (
	"fmt"

	"github.com/minwoocho/stock-auto-trader/internal/indicators"
)

// minBars is the shortest close series the normalizer will score. Shorter
// histories zero out rather than producing noise from thin data.
const minBars = 50

// volumeFloor is the minimum current-to-average volume ratio required
// before any entry signal is considered at all.
const volumeFloor = 1.5

// Normalizer maps raw price and volume series to 0-100 sub-scores, one
// independent ladder per indicator. The engine never sees raw indicator
// values, only these.
type Normalizer struct{}

// Normalize computes the sub-scores for one security. The returned reasons
// name each signal that contributed, for the decision audit log. A series
// too short to score, or one failing the volume floor, comes back all
// zeros with the disqualifying reason.
func (Normalizer) Normalize(prices, volumes []float64) (SubScores, []string) {
	if len(prices) < minBars {
		return SubScores{}, []string{fmt.Sprintf("only %d bars of history, need %d", len(prices), minBars)}
	}

	if len(volumes) >= 20 {
		avg, err := indicators.SMA(volumes, 20)
		if err == nil && avg > 0 && volumes[len(volumes)-1] < avg*volumeFloor {
			ratio := volumes[len(volumes)-1] / avg
			return SubScores{}, []string{fmt.Sprintf("volume %.1fx below %.1fx floor", ratio, volumeFloor)}
		}
	}

	var sub SubScores
	var reasons []string

	sub.RSI, reasons = rsiSubScore(prices, reasons)
	sub.MACD, reasons = macdSubScore(prices, reasons)
	sub.Bollinger, reasons = bollingerSubScore(prices, reasons)
	sub.Volume, reasons = volumeSubScore(volumes, reasons)
	sub.Trend, reasons = trendSubScore(prices, reasons)

	return sub, reasons
}

// rsiSubScore grades oversold depth. Neutral or overbought RSI scores
// zero; there is no short side on the entry path.
func rsiSubScore(prices []float64, reasons []string) (float64, []string) {
	rsi, err := indicators.RSI(prices, indicators.DefaultRSIPeriod)
	if err != nil {
		return 0, reasons
	}
	switch {
	case rsi < 20:
		return 100, append(reasons, fmt.Sprintf("RSI deeply oversold (%.1f)", rsi))
	case rsi < 25:
		return 80, append(reasons, fmt.Sprintf("RSI strongly oversold (%.1f)", rsi))
	case rsi < 30:
		return 60, append(reasons, fmt.Sprintf("RSI oversold (%.1f)", rsi))
	case rsi < 35:
		return 30, append(reasons, fmt.Sprintf("RSI mildly oversold (%.1f)", rsi))
	default:
		return 0, reasons
	}
}

// macdSubScore grades bullish crossover strength.
func macdSubScore(prices []float64, reasons []string) (float64, []string) {
	macdLine, signalLine, err := indicators.MACD(prices,
		indicators.DefaultMACDFast, indicators.DefaultMACDSlow, indicators.DefaultMACDSignal)
	if err != nil || macdLine <= signalLine {
		return 0, reasons
	}
	diff := macdLine - signalLine
	switch {
	case macdLine > 0 && diff > 0.5:
		return 100, append(reasons, "MACD strong golden cross")
	case macdLine > 0:
		return 80, append(reasons, "MACD golden cross")
	case diff > 0.2:
		return 60, append(reasons, "MACD turning up")
	default:
		return 40, append(reasons, "MACD weakly bullish")
	}
}

// bollingerSubScore grades proximity to the lower band.
func bollingerSubScore(prices []float64, reasons []string) (float64, []string) {
	lower, upper, err := indicators.BollingerBands(prices,
		indicators.DefaultBollingerPeriod, indicators.DefaultBollingerStdDev)
	if err != nil {
		return 0, reasons
	}
	pos := indicators.BandPosition(prices[len(prices)-1], lower, upper)
	switch {
	case pos <= 0.05:
		return 100, append(reasons, "price at lower Bollinger band")
	case pos <= 0.1:
		return 80, append(reasons, "price touching lower Bollinger band")
	case pos <= 0.2:
		return 50, append(reasons, "price near lower Bollinger band")
	default:
		return 0, reasons
	}
}

// volumeSubScore grades the surge of the latest bar over the 20-bar mean.
func volumeSubScore(volumes []float64, reasons []string) (float64, []string) {
	if len(volumes) < 20 {
		return 0, reasons
	}
	avg, err := indicators.SMA(volumes, 20)
	if err != nil || avg <= 0 {
		return 0, reasons
	}
	ratio := volumes[len(volumes)-1] / avg
	switch {
	case ratio > 3.0:
		return 100, append(reasons, fmt.Sprintf("volume explosion (%.1fx)", ratio))
	case ratio > 2.5:
		return 80, append(reasons, fmt.Sprintf("volume surge (%.1fx)", ratio))
	case ratio > 2.0:
		return 60, append(reasons, fmt.Sprintf("volume elevated (%.1fx)", ratio))
	case ratio >= volumeFloor:
		return 40, append(reasons, fmt.Sprintf("volume healthy (%.1fx)", ratio))
	default:
		return 0, reasons
	}
}

// trendSubScore grades moving-average alignment.
func trendSubScore(prices []float64, reasons []string) (float64, []string) {
	if len(prices) < 20 {
		return 0, reasons
	}
	ma5, _ := indicators.SMA(prices, 5)
	ma10, _ := indicators.SMA(prices, 10)
	ma20, _ := indicators.SMA(prices, 20)
	last := prices[len(prices)-1]

	switch {
	case last > ma5 && ma5 > ma10 && ma10 > ma20:
		return 100, append(reasons, "strong uptrend")
	case last > ma5 && ma5 > ma20:
		return 70, append(reasons, "uptrend")
	case ma5 > ma20:
		return 40, append(reasons, "weak uptrend")
	default:
		return 0, reasons
	}
}
