package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.InDelta(t, 100.0, cfg.Scoring.WeightSum(), 0.001)
}

func TestValidateFailsClosed(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative scoring weight", func(c *Config) { c.Scoring.WeightRSI = -1 }},
		{"threshold above 100", func(c *Config) { c.Scoring.EntryThreshold = 101 }},
		{"zero stop loss", func(c *Config) { c.StopLoss.StopLossPct = 0 }},
		{"stop loss at 100", func(c *Config) { c.StopLoss.StopLossPct = 100 }},
		{"zero retry budget", func(c *Config) { c.StopLoss.MaxAttempts = 0 }},
		{"zero monitor interval", func(c *Config) { c.StopLoss.MonitorIntervalSec = 0 }},
		{"inverted pbr range", func(c *Config) { c.Valuation.MinPBR = 3.0 }},
		{"inverted per range", func(c *Config) { c.Valuation.MinPER = 25 }},
		{"negative surge change bound", func(c *Config) { c.Surge.MaxDailyChange = -1 }},
		{"inverted volatility bands", func(c *Config) { c.Timing.HighVolatility = 40 }},
		{"zero staleness bound", func(c *Config) { c.Scan.SnapshotStaleSec = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestWeightSumMismatchIsNotAnError(t *testing.T) {
	cfg := Default()
	cfg.Scoring.WeightRSI = 50 // sum now 120
	assert.NoError(t, cfg.Validate())
	assert.InDelta(t, 120.0, cfg.Scoring.WeightSum(), 0.001)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	data := `{
		"environment": "production",
		"scoring": {"weight_rsi": 35, "weight_macd": 25, "weight_bollinger": 20, "weight_volume": 10, "weight_trend": 10, "entry_threshold": 85},
		"stop_loss": {"stop_loss_pct": 2.0, "take_profit_pct": 4.0, "trailing_stop_pct": 1.0, "monitor_interval_seconds": 3, "max_attempts": 5, "retry_delay_ms": 250, "call_timeout_seconds": 5, "force_execution": true}
	}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, 85.0, cfg.Scoring.EntryThreshold)
	assert.Equal(t, 2.0, cfg.StopLoss.StopLossPct)
	assert.Equal(t, 5, cfg.StopLoss.MaxAttempts)
	assert.Equal(t, 3*time.Second, cfg.StopLoss.MonitorInterval())
	assert.Equal(t, 250*time.Millisecond, cfg.StopLoss.RetryDelay())

	// Sections the file omits keep their defaults.
	assert.Equal(t, 10.0, cfg.Surge.MaxDailyChange)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load("/nonexistent/config.json")
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ENTRY_THRESHOLD", "90")
	t.Setenv("STOP_LOSS_PCT", "2.5")
	t.Setenv("KIS_APP_KEY", "test-key")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 90.0, cfg.Scoring.EntryThreshold)
	assert.Equal(t, 2.5, cfg.StopLoss.StopLossPct)
	assert.Equal(t, "test-key", cfg.Broker.AppKey)
}
