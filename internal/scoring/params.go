package scoring

import "github.com/minwoocho/stock-auto-trader/internal/config"

// Weights holds the per-indicator contribution to the composite score.
// They are expected to sum to 100; the engine divides by the actual sum,
// so a drifted total skews nothing.
type Weights struct {
	RSI       float64
	MACD      float64
	Bollinger float64
	Volume    float64
	Trend     float64
}

// Sum returns the total weight mass.
func (w Weights) Sum() float64 {
	return w.RSI + w.MACD + w.Bollinger + w.Volume + w.Trend
}

// Params is one immutable tuning snapshot: weights plus the entry
// threshold. Operators retune live by publishing a whole new Params value;
// fields are never mutated in place.
type Params struct {
	Weights   Weights
	Threshold float64
}

// ParamsFromConfig builds the initial tuning snapshot.
func ParamsFromConfig(cfg config.ScoringConfig) Params {
	return Params{
		Weights: Weights{
			RSI:       cfg.WeightRSI,
			MACD:      cfg.WeightMACD,
			Bollinger: cfg.WeightBollinger,
			Volume:    cfg.WeightVolume,
			Trend:     cfg.WeightTrend,
		},
		Threshold: cfg.EntryThreshold,
	}
}

// SubScores carries the normalized 0-100 score per indicator, produced by
// the Normalizer and consumed by the engine.
type SubScores struct {
	RSI       float64
	MACD      float64
	Bollinger float64
	Volume    float64
	Trend     float64
}
