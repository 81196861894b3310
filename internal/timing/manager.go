package timing

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/minwoocho/stock-auto-trader/internal/config"
	"github.com/minwoocho/stock-auto-trader/pkg/types"
)

// Advice is the timing manager's recommendation for an entry. It is
// consulted only on the entry path; the stop-loss manager never reads it.
type Advice int

const (
	// Proceed means now is an acceptable moment to enter.
	Proceed Advice = iota
	// Wait blocks the entry for this cycle.
	Wait
	// Caution lets the entry through but tells the caller to tighten its
	// risk parameters.
	Caution
)

func (a Advice) String() string {
	switch a {
	case Proceed:
		return "proceed"
	case Wait:
		return "wait"
	case Caution:
		return "caution"
	default:
		return "unknown"
	}
}

// Recommendation pairs an advice with its reason.
type Recommendation struct {
	Advice Advice
	Reason string
}

// MarketContext is the short-horizon view of the whole market used for
// timing, as opposed to the per-security snapshot.
type MarketContext struct {
	Volatility      float64 // short-horizon volatility measure
	KOSPIChangePct  float64
	KOSDAQChangePct float64
}

// indexChange averages the two index moves.
func (m MarketContext) indexChange() float64 {
	return (m.KOSPIChangePct + m.KOSDAQChangePct) / 2
}

// KRX session bounds.
var (
	sessionOpen  = 9 * time.Hour
	sessionClose = 15*time.Hour + 30*time.Minute
)

// Manager advises whether now is a good moment to enter. It tracks
// per-security volume spikes so a spike keeps the security on cooldown for
// a configured number of minutes.
type Manager struct {
	cfg config.TimingConfig
	log zerolog.Logger
	now func() time.Time

	mu     sync.Mutex
	spikes map[string]time.Time // securityID -> last volume spike
}

func NewManager(cfg config.TimingConfig, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		log:    log.With().Str("component", "smart_timing").Logger(),
		now:    time.Now,
		spikes: make(map[string]time.Time),
	}
}

// WithClock replaces the time source. Used by tests to pin the session
// clock.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Recommend evaluates the current moment for entering the given security.
// Checks run from hard blocks to soft warnings: session hours, opening
// window, extreme volatility and market crashes Wait; elevated volatility,
// weak breadth and rising volume only Caution.
func (m *Manager) Recommend(market MarketContext, snap *types.MarketSnapshot) Recommendation {
	now := m.now()

	if !inSession(now) {
		return rec(Wait, "outside trading session")
	}

	if r := m.checkOpeningWindow(now); r.Advice == Wait {
		return r
	}

	if market.Volatility >= m.cfg.ExtremeVolatility {
		return rec(Wait, fmt.Sprintf("extreme market volatility (%.1f >= %.1f)",
			market.Volatility, m.cfg.ExtremeVolatility))
	}

	change := market.indexChange()
	if change <= m.cfg.CrashThreshold {
		return rec(Wait, fmt.Sprintf("market crash (%.2f%% <= %.2f%%)", change, m.cfg.CrashThreshold))
	}

	if snap != nil {
		if r := m.checkVolumeSpike(snap, now); r.Advice != Proceed {
			return r
		}
	}

	if market.Volatility >= m.cfg.HighVolatility {
		return rec(Caution, fmt.Sprintf("elevated market volatility (%.1f >= %.1f)",
			market.Volatility, m.cfg.HighVolatility))
	}
	if change <= m.cfg.BearishThreshold {
		return rec(Caution, fmt.Sprintf("bearish market (%.2f%% <= %.2f%%)", change, m.cfg.BearishThreshold))
	}

	return rec(Proceed, "acceptable entry timing")
}

func (m *Manager) checkOpeningWindow(now time.Time) Recommendation {
	sinceMidnight := time.Duration(now.Hour())*time.Hour +
		time.Duration(now.Minute())*time.Minute +
		time.Duration(now.Second())*time.Second

	waitUntil := sessionOpen + time.Duration(m.cfg.MorningWaitMinutes)*time.Minute
	if sinceMidnight < waitUntil {
		remaining := (waitUntil - sinceMidnight).Round(time.Minute)
		return rec(Wait, fmt.Sprintf("opening settle-down window, %s remaining", remaining))
	}
	return rec(Proceed, "")
}

// checkVolumeSpike blocks entries into a security whose volume just
// spiked, and keeps it blocked for the cooldown period after the spike.
func (m *Manager) checkVolumeSpike(snap *types.MarketSnapshot, now time.Time) Recommendation {
	m.mu.Lock()
	defer m.mu.Unlock()

	cooldown := time.Duration(m.cfg.VolumeCooldownMinutes) * time.Minute
	if last, ok := m.spikes[snap.SecurityID]; ok {
		if since := now.Sub(last); since < cooldown {
			return rec(Wait, fmt.Sprintf("volume spike cooldown, %s remaining", (cooldown-since).Round(time.Minute)))
		}
		delete(m.spikes, snap.SecurityID)
	}

	if snap.VolumeRatio >= m.cfg.VolumeSpikeThreshold {
		m.spikes[snap.SecurityID] = now
		m.log.Warn().
			Str("security", snap.SecurityID).
			Float64("volume_ratio", snap.VolumeRatio).
			Msg("volume spike, entry on cooldown")
		return rec(Wait, fmt.Sprintf("volume spike %.1fx, cooling down %d minutes",
			snap.VolumeRatio, m.cfg.VolumeCooldownMinutes))
	}

	if snap.VolumeRatio >= 2.5 {
		return rec(Caution, fmt.Sprintf("volume rising (%.1fx)", snap.VolumeRatio))
	}
	return rec(Proceed, "")
}

// Score rates the current moment 0-100, higher is better. It is advisory
// ranking input, not a gate.
func (m *Manager) Score(market MarketContext, snap *types.MarketSnapshot) float64 {
	score := 100.0
	now := m.now()

	sinceMidnight := time.Duration(now.Hour())*time.Hour + time.Duration(now.Minute())*time.Minute
	switch {
	case sinceMidnight >= sessionOpen && sinceMidnight <= sessionOpen+30*time.Minute:
		score -= 20
	case sinceMidnight >= 14*time.Hour+30*time.Minute && sinceMidnight <= sessionClose:
		score -= 10
	}

	switch {
	case market.Volatility > m.cfg.ExtremeVolatility:
		score -= 40
	case market.Volatility > m.cfg.HighVolatility:
		score -= 20
	}

	change := market.indexChange()
	switch {
	case change < m.cfg.CrashThreshold:
		score -= 30
	case change < m.cfg.BearishThreshold:
		score -= 15
	case change > 1.0:
		score += 10
	}

	if snap != nil {
		if v := abs(snap.DailyChangePct); v > 10 {
			score -= 10
		}
		switch {
		case snap.VolumeRatio > m.cfg.VolumeSpikeThreshold:
			score -= 15
		case snap.VolumeRatio > 3:
			score -= 5
		}
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func inSession(now time.Time) bool {
	sinceMidnight := time.Duration(now.Hour())*time.Hour +
		time.Duration(now.Minute())*time.Minute +
		time.Duration(now.Second())*time.Second
	return sinceMidnight >= sessionOpen && sinceMidnight <= sessionClose
}

func rec(a Advice, reason string) Recommendation {
	return Recommendation{Advice: a, Reason: reason}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
