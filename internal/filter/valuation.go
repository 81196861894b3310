package filter

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/minwoocho/stock-auto-trader/internal/config"
	"github.com/minwoocho/stock-auto-trader/pkg/types"
)

// ValuationFilter screens securities by fundamental ratios. Each enabled
// metric is checked independently when present; the data-completeness
// policy decides how missing metrics are handled.
//
// PBR and PSR are low-is-better, ROE is high-is-better, PER wants a
// moderate band.
type ValuationFilter struct {
	cfg        config.ValuationConfig
	staleBound time.Duration
	log        zerolog.Logger
}

func NewValuationFilter(cfg config.ValuationConfig, staleBound time.Duration, log zerolog.Logger) *ValuationFilter {
	return &ValuationFilter{
		cfg:        cfg,
		staleBound: staleBound,
		log:        log.With().Str("component", "valuation_filter").Logger(),
	}
}

// Evaluate applies the enabled metric checks to one snapshot.
//
// Strict mode (RequireAllData): any enabled metric without data rejects.
// Permissive mode: absent metrics are skipped and the verdict rests on the
// metrics actually present. When no enabled metric has data at all the
// verdict is Indeterminate and Resolve maps it through the fallback
// policy, once per evaluation.
func (f *ValuationFilter) Evaluate(snap *types.MarketSnapshot, now time.Time) Result {
	if !f.cfg.Enabled {
		return allow()
	}
	if !usable(snap, f.staleBound, now) {
		return indeterminate("snapshot unusable: missing or stale data")
	}

	v := snap.Valuation
	checked := 0

	type metricCheck struct {
		name    string
		enabled bool
		value   *float64
		pass    func(float64) bool
		detail  func(float64) string
	}

	checks := []metricCheck{
		{
			name: "PBR", enabled: f.cfg.CheckPBR, value: v.PBR,
			pass: func(x float64) bool { return x >= f.cfg.MinPBR && x <= f.cfg.MaxPBR },
			detail: func(x float64) string {
				return fmt.Sprintf("PBR %.2f outside [%.2f, %.2f]", x, f.cfg.MinPBR, f.cfg.MaxPBR)
			},
		},
		{
			name: "PER", enabled: f.cfg.CheckPER, value: v.PER,
			pass: func(x float64) bool { return x >= f.cfg.MinPER && x <= f.cfg.MaxPER },
			detail: func(x float64) string {
				return fmt.Sprintf("PER %.2f outside [%.2f, %.2f]", x, f.cfg.MinPER, f.cfg.MaxPER)
			},
		},
		{
			name: "ROE", enabled: f.cfg.CheckROE, value: v.ROE,
			pass:   func(x float64) bool { return x >= f.cfg.MinROE },
			detail: func(x float64) string { return fmt.Sprintf("ROE %.2f%% below %.2f%%", x, f.cfg.MinROE) },
		},
		{
			name: "PSR", enabled: f.cfg.CheckPSR, value: v.PSR,
			pass:   func(x float64) bool { return x <= f.cfg.MaxPSR },
			detail: func(x float64) string { return fmt.Sprintf("PSR %.2f above %.2f", x, f.cfg.MaxPSR) },
		},
	}

	for _, c := range checks {
		if !c.enabled {
			continue
		}
		if c.value == nil {
			if f.cfg.RequireAllData {
				return reject(fmt.Sprintf("%s data absent (strict mode)", c.name))
			}
			continue
		}
		checked++
		if !c.pass(*c.value) {
			return reject(c.detail(*c.value))
		}
	}

	if checked == 0 {
		return indeterminate("no enabled valuation metric has data")
	}
	return allow()
}

// Resolve maps an Indeterminate verdict through the fallback policy.
// Allow and Reject pass through unchanged.
func (f *ValuationFilter) Resolve(r Result) Result {
	if r.Verdict != Indeterminate {
		return r
	}
	if f.cfg.FallbackOnDataFail {
		f.log.Warn().Str("reason", r.Reason).Msg("valuation indeterminate, permissive fallback allows")
		return Result{Verdict: Allow, Reason: r.Reason + " (permissive fallback)"}
	}
	return Result{Verdict: Reject, Reason: r.Reason + " (safe fallback)"}
}

// Score rates a snapshot's valuation 0-100 for candidate ranking. It never
// gates: the pipeline uses it only to order securities that already passed
// Evaluate. Metrics without data simply drop out of the weighting.
func (f *ValuationFilter) Score(snap *types.MarketSnapshot) float64 {
	v := snap.Valuation
	var score, weight float64

	if v.PBR != nil {
		score += pbrScore(*v.PBR) * 1.0
		weight += 1.0
	}
	if v.PER != nil {
		score += perScore(*v.PER) * 0.8
		weight += 0.8
	}
	if v.ROE != nil {
		score += roeScore(*v.ROE) * 0.6
		weight += 0.6
	}
	if v.PSR != nil {
		score += psrScore(*v.PSR) * 0.4
		weight += 0.4
	}

	if weight == 0 {
		return 0
	}
	return score / weight
}

// pbrScore favors the 0.5-1.0 band; extremes on either side score low.
func pbrScore(pbr float64) float64 {
	switch {
	case pbr <= 0:
		return 0
	case pbr >= 0.5 && pbr <= 1.0:
		return 100
	case pbr > 1.0 && pbr <= 1.5:
		return 90 - (pbr-1.0)*20
	case pbr >= 0.3 && pbr < 0.5:
		return 80 + (pbr-0.3)*100
	case pbr > 1.5 && pbr <= 2.0:
		return 80 - (pbr-1.5)*80
	case pbr > 2.0 && pbr <= 3.0:
		return 40 - (pbr-2.0)*30
	default:
		return 10
	}
}

// perScore favors the 8-12 band. A very low PER reads as suspect earnings
// rather than a bargain.
func perScore(per float64) float64 {
	switch {
	case per <= 0:
		return 0
	case per >= 8 && per <= 12:
		return 100
	case per > 12 && per <= 15:
		return 90 - (per-12)*10
	case per >= 5 && per < 8:
		return 70 + (per-5)*10
	case per > 15 && per <= 20:
		return 60 - (per-15)*8
	case per >= 3 && per < 5:
		return 50 + (per-3)*10
	case per > 20 && per <= 30:
		return 20 - (per-20)*1.5
	case per < 3:
		return 30
	default:
		return 5
	}
}

func roeScore(roe float64) float64 {
	switch {
	case roe < 0:
		return 0
	case roe >= 20:
		return 100
	case roe >= 15:
		return 90 + (roe-15)*2
	case roe >= 12:
		return 80 + (roe-12)*3.33
	case roe >= 10:
		return 70 + (roe-10)*5
	case roe >= 8:
		return 60 + (roe-8)*5
	case roe >= 5:
		return 40 + (roe-5)*6.67
	case roe >= 3:
		return 20 + (roe-3)*10
	case roe >= 1:
		return 10 + (roe-1)*5
	default:
		return 5
	}
}

func psrScore(psr float64) float64 {
	switch {
	case psr <= 0:
		return 0
	case psr <= 0.5:
		return 100
	case psr <= 1.0:
		return 90 + (1.0-psr)*20
	case psr <= 1.5:
		return 80 + (1.5-psr)*20
	case psr <= 2.0:
		return 70 + (2.0-psr)*20
	case psr <= 3.0:
		return 50 + (3.0-psr)*20
	case psr <= 4.0:
		return 30 + (4.0-psr)*20
	case psr <= 5.0:
		return 10 + (5.0-psr)*20
	case psr <= 10.0:
		return 10 - (psr-5.0)*1.6
	default:
		return 2
	}
}
