package filter

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/minwoocho/stock-auto-trader/internal/config"
	"github.com/minwoocho/stock-auto-trader/pkg/types"
)

func valuationConfig() config.ValuationConfig {
	return config.ValuationConfig{
		Enabled:  true,
		CheckPBR: true, MinPBR: 0.1, MaxPBR: 2.0,
		CheckPER: true, MinPER: 3.0, MaxPER: 20.0,
		CheckROE: true, MinROE: 5.0,
		CheckPSR: true, MaxPSR: 3.0,
	}
}

func valuationSnapshot(v types.Valuation) *types.MarketSnapshot {
	return &types.MarketSnapshot{
		SecurityID: "000660",
		Price:      120000,
		Valuation:  v,
		Timestamp:  time.Now(),
	}
}

func TestValuationFilter_AllMetricsPresent(t *testing.T) {
	f := NewValuationFilter(valuationConfig(), 30*time.Second, zerolog.Nop())

	tests := []struct {
		name string
		v    types.Valuation
		want Verdict
	}{
		{
			"all within bounds",
			types.Valuation{
				PBR: types.Float64Ptr(1.2), PER: types.Float64Ptr(10),
				ROE: types.Float64Ptr(12), PSR: types.Float64Ptr(1.5),
			},
			Allow,
		},
		{
			"pbr too high",
			types.Valuation{
				PBR: types.Float64Ptr(2.5), PER: types.Float64Ptr(10),
				ROE: types.Float64Ptr(12), PSR: types.Float64Ptr(1.5),
			},
			Reject,
		},
		{
			"per too low",
			types.Valuation{
				PBR: types.Float64Ptr(1.0), PER: types.Float64Ptr(2.0),
				ROE: types.Float64Ptr(12), PSR: types.Float64Ptr(1.5),
			},
			Reject,
		},
		{
			"roe below minimum",
			types.Valuation{
				PBR: types.Float64Ptr(1.0), PER: types.Float64Ptr(10),
				ROE: types.Float64Ptr(4.9), PSR: types.Float64Ptr(1.5),
			},
			Reject,
		},
		{
			"psr above maximum",
			types.Valuation{
				PBR: types.Float64Ptr(1.0), PER: types.Float64Ptr(10),
				ROE: types.Float64Ptr(12), PSR: types.Float64Ptr(3.1),
			},
			Reject,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.Evaluate(valuationSnapshot(tt.v), time.Now())
			assert.Equal(t, tt.want, res.Verdict)
		})
	}
}

func TestValuationFilter_StrictModeRejectsMissingData(t *testing.T) {
	cfg := valuationConfig()
	cfg.RequireAllData = true
	f := NewValuationFilter(cfg, 30*time.Second, zerolog.Nop())

	// PER missing while enabled: strict mode rejects even though every
	// present metric passes.
	res := f.Evaluate(valuationSnapshot(types.Valuation{
		PBR: types.Float64Ptr(1.0),
		ROE: types.Float64Ptr(12),
		PSR: types.Float64Ptr(1.0),
	}), time.Now())

	assert.Equal(t, Reject, res.Verdict)
	assert.Contains(t, res.Reason, "strict mode")
}

func TestValuationFilter_PermissiveModeJudgesPresentMetrics(t *testing.T) {
	f := NewValuationFilter(valuationConfig(), 30*time.Second, zerolog.Nop())

	t.Run("only roe present and passing", func(t *testing.T) {
		res := f.Evaluate(valuationSnapshot(types.Valuation{
			ROE: types.Float64Ptr(10),
		}), time.Now())
		assert.Equal(t, Allow, res.Verdict)
	})

	t.Run("only roe present and failing", func(t *testing.T) {
		res := f.Evaluate(valuationSnapshot(types.Valuation{
			ROE: types.Float64Ptr(1.0),
		}), time.Now())
		assert.Equal(t, Reject, res.Verdict)
	})
}

func TestValuationFilter_NoDataIsIndeterminate(t *testing.T) {
	f := NewValuationFilter(valuationConfig(), 30*time.Second, zerolog.Nop())

	res := f.Evaluate(valuationSnapshot(types.Valuation{}), time.Now())
	assert.Equal(t, Indeterminate, res.Verdict)
}

func TestValuationFilter_ResolveFallbackPolicy(t *testing.T) {
	t.Run("safe fallback rejects", func(t *testing.T) {
		f := NewValuationFilter(valuationConfig(), 30*time.Second, zerolog.Nop())
		res := f.Resolve(Result{Verdict: Indeterminate, Reason: "no data"})
		assert.Equal(t, Reject, res.Verdict)
	})

	t.Run("permissive fallback allows", func(t *testing.T) {
		cfg := valuationConfig()
		cfg.FallbackOnDataFail = true
		f := NewValuationFilter(cfg, 30*time.Second, zerolog.Nop())
		res := f.Resolve(Result{Verdict: Indeterminate, Reason: "no data"})
		assert.Equal(t, Allow, res.Verdict)
	})

	t.Run("allow and reject pass through", func(t *testing.T) {
		f := NewValuationFilter(valuationConfig(), 30*time.Second, zerolog.Nop())
		assert.Equal(t, Allow, f.Resolve(Result{Verdict: Allow}).Verdict)
		assert.Equal(t, Reject, f.Resolve(Result{Verdict: Reject}).Verdict)
	})
}

func TestValuationFilter_DisabledAlwaysAllows(t *testing.T) {
	cfg := valuationConfig()
	cfg.Enabled = false
	f := NewValuationFilter(cfg, 30*time.Second, zerolog.Nop())

	res := f.Evaluate(valuationSnapshot(types.Valuation{
		PBR: types.Float64Ptr(9.9),
	}), time.Now())
	assert.Equal(t, Allow, res.Verdict)
}

func TestValuationScore(t *testing.T) {
	f := NewValuationFilter(valuationConfig(), 30*time.Second, zerolog.Nop())

	t.Run("ideal metrics score high", func(t *testing.T) {
		score := f.Score(valuationSnapshot(types.Valuation{
			PBR: types.Float64Ptr(0.8), // 100
			PER: types.Float64Ptr(10),  // 100
			ROE: types.Float64Ptr(25),  // 100
			PSR: types.Float64Ptr(0.4), // 100
		}))
		assert.InDelta(t, 100.0, score, 0.001)
	})

	t.Run("no data scores zero", func(t *testing.T) {
		score := f.Score(valuationSnapshot(types.Valuation{}))
		assert.Zero(t, score)
	})

	t.Run("partial data weights only present metrics", func(t *testing.T) {
		score := f.Score(valuationSnapshot(types.Valuation{
			ROE: types.Float64Ptr(25), // 100 with weight 0.6
		}))
		assert.InDelta(t, 100.0, score, 0.001)
	})

	t.Run("overvalued metrics score low", func(t *testing.T) {
		score := f.Score(valuationSnapshot(types.Valuation{
			PBR: types.Float64Ptr(5.0),
			PER: types.Float64Ptr(40),
			PSR: types.Float64Ptr(12),
		}))
		assert.Less(t, score, 20.0)
	})
}
