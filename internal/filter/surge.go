package filter

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/minwoocho/stock-auto-trader/internal/config"
	"github.com/minwoocho/stock-auto-trader/pkg/types"
)

// SurgeFilter rejects securities showing abnormal short-term price or
// volume surges, so the entry pipeline never buys into a spike top. It is
// a pure predicate over the snapshot; missing data rejects, never allows.
type SurgeFilter struct {
	cfg        config.SurgeConfig
	staleBound time.Duration
	log        zerolog.Logger
}

func NewSurgeFilter(cfg config.SurgeConfig, staleBound time.Duration, log zerolog.Logger) *SurgeFilter {
	return &SurgeFilter{
		cfg:        cfg,
		staleBound: staleBound,
		log:        log.With().Str("component", "surge_filter").Logger(),
	}
}

// Evaluate screens one snapshot. Disabled filter always allows.
func (f *SurgeFilter) Evaluate(snap *types.MarketSnapshot, now time.Time) Result {
	if !f.cfg.Enabled {
		return allow()
	}
	if !usable(snap, f.staleBound, now) {
		return reject("snapshot unusable: missing or stale data")
	}

	if math.Abs(snap.DailyChangePct) > f.cfg.MaxDailyChange {
		return reject(fmt.Sprintf("daily change %.2f%% exceeds bound %.2f%%",
			snap.DailyChangePct, f.cfg.MaxDailyChange))
	}
	if snap.VolumeRatio > f.cfg.MaxVolumeRatio {
		return reject(fmt.Sprintf("volume ratio %.1fx exceeds bound %.1fx",
			snap.VolumeRatio, f.cfg.MaxVolumeRatio))
	}

	score := SurgeScore(snap.DailyChangePct, snap.VolumeRatio, snap.Volatility)
	f.log.Debug().
		Str("security", snap.SecurityID).
		Float64("change_pct", snap.DailyChangePct).
		Float64("volume_ratio", snap.VolumeRatio).
		Float64("surge_score", score).
		Msg("surge analysis")

	if score > f.cfg.MaxSurgeScore {
		return reject(fmt.Sprintf("surge score %.1f exceeds bound %.1f", score, f.cfg.MaxSurgeScore))
	}
	return allow()
}

// SurgeScore rates surge risk on a 0-100 scale, higher is riskier.
// Daily change contributes up to 40 points, volume up to 35, intraday
// volatility up to 25.
func SurgeScore(dailyChangePct, volumeRatio, volatility float64) float64 {
	changeScore := math.Min(math.Abs(dailyChangePct)*2, 40)
	volumeScore := math.Min(math.Max(volumeRatio-1, 0)*7, 35)
	volatilityScore := math.Min(volatility*0.8, 25)
	return math.Min(changeScore+volumeScore+volatilityScore, 100)
}
