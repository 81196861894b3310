package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/minwoocho/stock-auto-trader/internal/broker"
)

// Config is the complete configuration surface for a trading session.
// Loaded once at startup; only the scoring weights and entry threshold are
// hot-reloadable afterwards (published through the scoring engine, never
// mutated in place here).
type Config struct {
	Environment string `json:"environment"`
	LogLevel    string `json:"log_level"`

	Broker    broker.KISConfig `json:"broker"`
	Scan      ScanConfig       `json:"scan"`
	Surge     SurgeConfig      `json:"surge_filter"`
	Valuation ValuationConfig  `json:"valuation_filter"`
	Scoring   ScoringConfig    `json:"scoring"`
	Timing    TimingConfig     `json:"smart_timing"`
	StopLoss  StopLossConfig   `json:"stop_loss"`

	Monitoring    MonitoringConfig   `json:"monitoring"`
	Notifications NotificationConfig `json:"notifications"`
	Recorder      RecorderConfig     `json:"recorder"`
}

// ScanConfig controls the entry-decision pipeline schedule.
type ScanConfig struct {
	Universe         []string `json:"universe"` // candidate security IDs
	CronSpec         string   `json:"cron_spec"`
	SnapshotStaleSec int      `json:"snapshot_stale_seconds"`
	MaxPositions     int      `json:"max_positions"`
	OrderBudgetKRW   float64  `json:"order_budget_krw"`
}

// SurgeConfig holds the surge filter thresholds.
type SurgeConfig struct {
	Enabled        bool    `json:"enabled"`
	MaxDailyChange float64 `json:"max_daily_change"` // percent
	MaxVolumeRatio float64 `json:"max_volume_ratio"` // multiple of baseline
	MaxSurgeScore  float64 `json:"max_surge_score"`  // 0-100
}

// ValuationConfig holds the valuation filter thresholds and its
// data-completeness policy.
type ValuationConfig struct {
	Enabled bool `json:"enabled"`

	CheckPBR bool    `json:"check_pbr"`
	MinPBR   float64 `json:"min_pbr"`
	MaxPBR   float64 `json:"max_pbr"`

	CheckPER bool    `json:"check_per"`
	MinPER   float64 `json:"min_per"`
	MaxPER   float64 `json:"max_per"`

	CheckROE bool    `json:"check_roe"`
	MinROE   float64 `json:"min_roe"`

	CheckPSR bool    `json:"check_psr"`
	MaxPSR   float64 `json:"max_psr"`

	RequireAllData     bool `json:"require_all_data"`
	FallbackOnDataFail bool `json:"fallback_on_data_fail"` // Indeterminate -> Allow when true
}

// ScoringConfig seeds the scoring engine. Weights are expected to sum to
// 100; a different sum is a warning, not an error, because the engine
// normalizes by the weight sum.
type ScoringConfig struct {
	WeightRSI       float64 `json:"weight_rsi"`
	WeightMACD      float64 `json:"weight_macd"`
	WeightBollinger float64 `json:"weight_bollinger"`
	WeightVolume    float64 `json:"weight_volume"`
	WeightTrend     float64 `json:"weight_trend"`
	EntryThreshold  float64 `json:"entry_threshold"`
}

// TimingConfig holds the smart timing manager settings.
type TimingConfig struct {
	MorningWaitMinutes    int     `json:"morning_wait_minutes"`
	HighVolatility        float64 `json:"high_volatility_threshold"`
	ExtremeVolatility     float64 `json:"extreme_volatility_threshold"`
	BearishThreshold      float64 `json:"bearish_threshold"`
	CrashThreshold        float64 `json:"crash_threshold"`
	VolumeSpikeThreshold  float64 `json:"volume_spike_threshold"`
	VolumeCooldownMinutes int     `json:"volume_cooldown_minutes"`
}

// StopLossConfig holds the enhanced stop-loss manager settings.
type StopLossConfig struct {
	StopLossPct        float64 `json:"stop_loss_pct"`
	TakeProfitPct      float64 `json:"take_profit_pct"`
	TrailingStopPct    float64 `json:"trailing_stop_pct"`
	MonitorIntervalSec int     `json:"monitor_interval_seconds"`
	MaxAttempts        int     `json:"max_attempts"`
	RetryDelayMs       int     `json:"retry_delay_ms"`
	CallTimeoutSec     int     `json:"call_timeout_seconds"`
	ForceExecution     bool    `json:"force_execution"`
}

type MonitoringConfig struct {
	PrometheusPort int `json:"prometheus_port"`
	HealthPort     int `json:"health_port"`
}

type NotificationConfig struct {
	TelegramToken  string `json:"telegram_token"`
	TelegramChatID string `json:"telegram_chat_id"`
}

type RecorderConfig struct {
	Enabled   bool   `json:"enabled"`
	DBPath    string `json:"db_path"`
	ReportDir string `json:"report_dir"`
}

// Default returns the configuration the bot ships with.
func Default() *Config {
	return &Config{
		Environment: "development",
		LogLevel:    "info",
		Scan: ScanConfig{
			CronSpec:         "0 */3 9-15 * * 1-5",
			SnapshotStaleSec: 30,
			MaxPositions:     5,
			OrderBudgetKRW:   500000,
		},
		Surge: SurgeConfig{
			Enabled:        true,
			MaxDailyChange: 10.0,
			MaxVolumeRatio: 5.0,
			MaxSurgeScore:  70.0,
		},
		Valuation: ValuationConfig{
			Enabled:  true,
			CheckPBR: true, MinPBR: 0.1, MaxPBR: 2.0,
			CheckPER: true, MinPER: 3.0, MaxPER: 20.0,
			CheckROE: true, MinROE: 5.0,
			CheckPSR: true, MaxPSR: 3.0,
			RequireAllData:     false,
			FallbackOnDataFail: false,
		},
		Scoring: ScoringConfig{
			WeightRSI:       30,
			WeightMACD:      25,
			WeightBollinger: 20,
			WeightVolume:    15,
			WeightTrend:     10,
			EntryThreshold:  80,
		},
		Timing: TimingConfig{
			MorningWaitMinutes:    45,
			HighVolatility:        20.0,
			ExtremeVolatility:     30.0,
			BearishThreshold:      -1.5,
			CrashThreshold:        -2.5,
			VolumeSpikeThreshold:  3.5,
			VolumeCooldownMinutes: 10,
		},
		StopLoss: StopLossConfig{
			StopLossPct:        1.5,
			TakeProfitPct:      3.0,
			TrailingStopPct:    1.0,
			MonitorIntervalSec: 5,
			MaxAttempts:        3,
			RetryDelayMs:       500,
			CallTimeoutSec:     5,
			ForceExecution:     true,
		},
		Monitoring: MonitoringConfig{
			PrometheusPort: 8080,
			HealthPort:     8081,
		},
		Recorder: RecorderConfig{
			Enabled:   true,
			DBPath:    "data/trades.db",
			ReportDir: "reports",
		},
	}
}

// Load reads the JSON config file (optional), then applies environment
// overrides on top of it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Environment = getEnv("ENV", c.Environment)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.Broker.AppKey = getEnv("KIS_APP_KEY", c.Broker.AppKey)
	c.Broker.AppSecret = getEnv("KIS_APP_SECRET", c.Broker.AppSecret)
	c.Broker.AccountNo = getEnv("KIS_ACCOUNT_NO", c.Broker.AccountNo)
	c.Broker.Sandbox = getEnvBool("KIS_SANDBOX", c.Broker.Sandbox)

	c.Notifications.TelegramToken = getEnv("TELEGRAM_TOKEN", c.Notifications.TelegramToken)
	c.Notifications.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", c.Notifications.TelegramChatID)

	c.Scoring.EntryThreshold = getEnvFloat("ENTRY_THRESHOLD", c.Scoring.EntryThreshold)
	c.StopLoss.StopLossPct = getEnvFloat("STOP_LOSS_PCT", c.StopLoss.StopLossPct)
}

// Validate rejects any configuration that would make the risk controls
// unsound. The process refuses to trade on a validation failure; there is
// no permissive fallback here.
func (c *Config) Validate() error {
	if c.Surge.Enabled {
		if c.Surge.MaxDailyChange <= 0 {
			return fmt.Errorf("surge filter: max daily change must be positive, got %.2f", c.Surge.MaxDailyChange)
		}
		if c.Surge.MaxVolumeRatio <= 0 {
			return fmt.Errorf("surge filter: max volume ratio must be positive, got %.2f", c.Surge.MaxVolumeRatio)
		}
	}

	if c.Valuation.Enabled {
		if c.Valuation.CheckPBR && c.Valuation.MinPBR >= c.Valuation.MaxPBR {
			return fmt.Errorf("valuation filter: PBR range invalid (%.2f >= %.2f)", c.Valuation.MinPBR, c.Valuation.MaxPBR)
		}
		if c.Valuation.CheckPER && c.Valuation.MinPER >= c.Valuation.MaxPER {
			return fmt.Errorf("valuation filter: PER range invalid (%.2f >= %.2f)", c.Valuation.MinPER, c.Valuation.MaxPER)
		}
	}

	for name, w := range map[string]float64{
		"rsi":       c.Scoring.WeightRSI,
		"macd":      c.Scoring.WeightMACD,
		"bollinger": c.Scoring.WeightBollinger,
		"volume":    c.Scoring.WeightVolume,
		"trend":     c.Scoring.WeightTrend,
	} {
		if w < 0 {
			return fmt.Errorf("scoring: weight %s must be non-negative, got %.2f", name, w)
		}
	}
	if c.Scoring.EntryThreshold < 0 || c.Scoring.EntryThreshold > 100 {
		return fmt.Errorf("scoring: entry threshold must be within [0, 100], got %.2f", c.Scoring.EntryThreshold)
	}

	if c.StopLoss.StopLossPct <= 0 || c.StopLoss.StopLossPct >= 100 {
		return fmt.Errorf("stop loss: percentage must be within (0, 100), got %.2f", c.StopLoss.StopLossPct)
	}
	if c.StopLoss.MaxAttempts < 1 {
		return fmt.Errorf("stop loss: retry budget must be at least 1, got %d", c.StopLoss.MaxAttempts)
	}
	if c.StopLoss.MonitorIntervalSec <= 0 {
		return fmt.Errorf("stop loss: monitor interval must be positive, got %d", c.StopLoss.MonitorIntervalSec)
	}

	if c.Timing.MorningWaitMinutes < 0 {
		return fmt.Errorf("smart timing: morning wait must be non-negative, got %d", c.Timing.MorningWaitMinutes)
	}
	if c.Timing.HighVolatility > c.Timing.ExtremeVolatility {
		return fmt.Errorf("smart timing: high volatility band (%.1f) above extreme band (%.1f)", c.Timing.HighVolatility, c.Timing.ExtremeVolatility)
	}

	if c.Scan.SnapshotStaleSec <= 0 {
		return fmt.Errorf("scan: snapshot staleness bound must be positive, got %d", c.Scan.SnapshotStaleSec)
	}

	return nil
}

// WeightSum returns the sum of the configured scoring weights. Callers log
// a warning when it is not 100; it is never a hard failure.
func (c *ScoringConfig) WeightSum() float64 {
	return c.WeightRSI + c.WeightMACD + c.WeightBollinger + c.WeightVolume + c.WeightTrend
}

// MonitorInterval returns the stop-loss monitoring cadence.
func (c *StopLossConfig) MonitorInterval() time.Duration {
	return time.Duration(c.MonitorIntervalSec) * time.Second
}

// RetryDelay returns the pause between stop-loss exit attempts.
func (c *StopLossConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// CallTimeout bounds a single price fetch or order submission.
func (c *StopLossConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSec) * time.Second
}

// SnapshotStaleBound returns the staleness bound for market snapshots.
func (c *ScanConfig) SnapshotStaleBound() time.Duration {
	return time.Duration(c.SnapshotStaleSec) * time.Second
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
