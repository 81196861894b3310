package scoring

import (
	"math"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Decision is the outcome of comparing a composite score to the entry
// threshold.
type Decision int

const (
	NoBuy Decision = iota
	Buy
)

func (d Decision) String() string {
	if d == Buy {
		return "buy"
	}
	return "no-buy"
}

// Engine aggregates normalized sub-scores into one composite score and
// gates it on the entry threshold. Tuning is published atomically: every
// scoring call reads exactly one Params snapshot, never a mix of old and
// new values.
type Engine struct {
	params atomic.Pointer[Params]
	log    zerolog.Logger
}

func NewEngine(initial Params, log zerolog.Logger) *Engine {
	e := &Engine{log: log.With().Str("component", "scoring").Logger()}
	e.params.Store(&initial)

	if sum := initial.Weights.Sum(); math.Abs(sum-100) > 1e-9 {
		e.log.Warn().Float64("weight_sum", sum).Msg("scoring weights do not sum to 100")
	}
	return e
}

// UpdateParams publishes a new tuning snapshot for subsequent evaluations.
// In-flight evaluations keep the snapshot they started with.
func (e *Engine) UpdateParams(p Params) {
	e.params.Store(&p)
	e.log.Info().
		Float64("threshold", p.Threshold).
		Float64("weight_sum", p.Weights.Sum()).
		Msg("scoring parameters updated")
}

// Params returns the current tuning snapshot.
func (e *Engine) Params() Params {
	return *e.params.Load()
}

// Score computes the weighted composite of the sub-scores, rounded to one
// decimal. A zero weight sum scores zero rather than dividing by zero.
func (e *Engine) Score(sub SubScores) float64 {
	p := e.params.Load()
	return compositeScore(sub, p.Weights)
}

// Evaluate scores and decides in one call so both use the same Params
// snapshot. The boundary is inclusive: a score exactly at the threshold
// buys.
func (e *Engine) Evaluate(securityID string, sub SubScores) (float64, Decision) {
	p := e.params.Load()
	score := compositeScore(sub, p.Weights)

	decision := NoBuy
	if score >= p.Threshold {
		decision = Buy
	}

	e.log.Info().
		Str("security", securityID).
		Float64("score", score).
		Float64("threshold", p.Threshold).
		Str("decision", decision.String()).
		Float64("rsi", sub.RSI).
		Float64("macd", sub.MACD).
		Float64("bollinger", sub.Bollinger).
		Float64("volume", sub.Volume).
		Float64("trend", sub.Trend).
		Msg("scoring decision")

	return score, decision
}

func compositeScore(sub SubScores, w Weights) float64 {
	sum := w.Sum()
	if sum <= 0 {
		return 0
	}
	weighted := sub.RSI*w.RSI +
		sub.MACD*w.MACD +
		sub.Bollinger*w.Bollinger +
		sub.Volume*w.Volume +
		sub.Trend*w.Trend
	return math.Round(weighted/sum*10) / 10
}
