package stoploss

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/minwoocho/stock-auto-trader/internal/broker"
	"github.com/minwoocho/stock-auto-trader/internal/config"
	"github.com/minwoocho/stock-auto-trader/internal/monitoring"
	"github.com/minwoocho/stock-auto-trader/internal/notifications"
)

// trailingArmGainPct is the unrealized gain required before the trailing
// stop arms.
const trailingArmGainPct = 2.0

// Manager guarantees that every tracked position exits at or before its
// loss threshold, regardless of upstream latency. It runs its own
// monitoring loop, entirely independent of the entry pipeline and of any
// timing advisory: an exit is never delayed by a "wait" recommendation.
//
// Concurrency model: the position map is guarded by mu; each position
// additionally carries an exiting flag so at most one exit attempt is in
// flight per position. Checks for distinct positions run in parallel.
type Manager struct {
	cfg      config.StopLossConfig
	broker   broker.Broker
	notifier notifications.Notifier
	health   *monitoring.HealthChecker
	log      zerolog.Logger

	mu        sync.RWMutex
	positions map[string]*trackedPosition

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopped  chan struct{}

	// onClosed, when set, is called after a position leaves the active
	// set with its terminal event. Used by the bot for recording.
	onClosed func(Position, Event)
}

type trackedPosition struct {
	mu      sync.Mutex
	pos     Position
	event   *Event
	exiting bool
}

func NewManager(cfg config.StopLossConfig, b broker.Broker, n notifications.Notifier,
	h *monitoring.HealthChecker, log zerolog.Logger) *Manager {
	if n == nil {
		n = notifications.Noop{}
	}
	return &Manager{
		cfg:       cfg,
		broker:    b,
		notifier:  n,
		health:    h,
		log:       log.With().Str("component", "stop_loss").Logger(),
		positions: make(map[string]*trackedPosition),
		stopped:   make(chan struct{}),
	}
}

// SetOnClosed registers a callback invoked after a position reaches a
// terminal state. Must be called before Run.
func (m *Manager) SetOnClosed(fn func(Position, Event)) {
	m.onClosed = fn
}

// Track registers a filled entry for protection. The stop-loss and
// take-profit prices are fixed from the entry price at registration.
func (m *Manager) Track(securityID, name string, entryPrice float64, quantity int64) error {
	if entryPrice <= 0 || quantity <= 0 {
		return fmt.Errorf("invalid position %s: price %.2f qty %d", securityID, entryPrice, quantity)
	}

	pos := Position{
		SecurityID:      securityID,
		Name:            name,
		EntryPrice:      entryPrice,
		Quantity:        quantity,
		EntryTime:       time.Now(),
		StopLossPrice:   entryPrice * (1 - m.cfg.StopLossPct/100),
		TakeProfitPrice: entryPrice * (1 + m.cfg.TakeProfitPct/100),
		MaxPriceSeen:    entryPrice,
		CurrentPrice:    entryPrice,
		Status:          Open,
	}

	m.mu.Lock()
	if existing, ok := m.positions[securityID]; ok {
		m.mu.Unlock()
		existing.mu.Lock()
		status := existing.pos.Status
		existing.mu.Unlock()
		return fmt.Errorf("position %s already tracked (status %s)", securityID, status)
	}
	m.positions[securityID] = &trackedPosition{pos: pos}
	count := len(m.positions)
	m.mu.Unlock()

	monitoring.SetOpenPositions(count)
	m.log.Info().
		Str("security", securityID).
		Float64("entry", entryPrice).
		Int64("qty", quantity).
		Float64("stop_loss", pos.StopLossPrice).
		Float64("take_profit", pos.TakeProfitPrice).
		Msg("position under protection")
	return nil
}

// Run executes monitoring cycles until ctx is cancelled, then drains
// in-flight exits before returning. An exit that already started its
// retries always reaches a terminal state.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.MonitorInterval())
	defer ticker.Stop()

	m.log.Info().
		Dur("interval", m.cfg.MonitorInterval()).
		Float64("stop_loss_pct", m.cfg.StopLossPct).
		Bool("force_execution", m.cfg.ForceExecution).
		Msg("stop-loss monitor running")

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return
		case <-ticker.C:
			m.cycle()
		}
	}
}

func (m *Manager) shutdown() {
	m.stopOnce.Do(func() { close(m.stopped) })
	m.wg.Wait()
	m.log.Info().Msg("stop-loss monitor drained")
}

// cycle checks every open position concurrently. Distinct positions are
// independent; the per-position exiting flag serializes work on any one
// of them.
func (m *Manager) cycle() {
	m.mu.RLock()
	open := make([]*trackedPosition, 0, len(m.positions))
	for _, tp := range m.positions {
		open = append(open, tp)
	}
	total := len(m.positions)
	m.mu.RUnlock()

	if m.health != nil {
		m.health.RecordMonitorTick(total)
	}

	for _, tp := range open {
		tp.mu.Lock()
		skip := tp.exiting || tp.pos.Status != Open
		securityID := tp.pos.SecurityID
		tp.mu.Unlock()
		if skip {
			continue
		}

		m.wg.Add(1)
		go func(id string, tp *trackedPosition) {
			defer m.wg.Done()
			m.check(id, tp)
		}(securityID, tp)
	}
}

// check fetches the freshest obtainable price and tests the breach
// conditions. Force execution means no cached price path: every check
// hits the broker, and a fetch failure simply leaves the position for the
// next cycle rather than reusing a stale value.
func (m *Manager) check(securityID string, tp *trackedPosition) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CallTimeout())
	snap, err := m.broker.GetSnapshot(ctx, securityID)
	cancel()
	if err != nil {
		monitoring.RecordError("price_fetch")
		m.log.Warn().Err(err).Str("security", securityID).Msg("price fetch failed, rechecking next cycle")
		return
	}

	price := snap.Price
	monitoring.UpdatePrice(securityID, price)

	tp.mu.Lock()
	if tp.exiting || tp.pos.Status != Open {
		tp.mu.Unlock()
		return
	}

	tp.pos.CurrentPrice = price
	if price > tp.pos.MaxPriceSeen {
		tp.pos.MaxPriceSeen = price
		if price > tp.pos.EntryPrice*(1+trailingArmGainPct/100) {
			tp.pos.TrailingStopPrice = price * (1 - m.cfg.TrailingStopPct/100)
		}
	}

	trigger, hit := breachTrigger(&tp.pos, price)
	if !hit {
		tp.mu.Unlock()
		return
	}

	// Claim the exit while still holding the lock so concurrent breach
	// detections can never double-submit.
	tp.exiting = true
	tp.pos.Status = ClosingRequested
	tp.event = newEvent(securityID, trigger, price, time.Now())
	event := tp.event
	pos := tp.pos
	tp.mu.Unlock()

	monitoring.RecordBreach(string(trigger))
	m.log.Warn().
		Str("security", securityID).
		Str("trigger", string(trigger)).
		Float64("price", price).
		Float64("entry", pos.EntryPrice).
		Float64("pnl_pct", pos.ProfitLossPct()).
		Msg("breach detected, forcing exit")

	// Out of band: the exit order goes out now, not on the next tick.
	m.executeExit(tp, pos, event)
}

// breachTrigger tests the exit conditions in priority order. The
// stop-loss boundary is inclusive: price exactly at the trigger breaches.
func breachTrigger(pos *Position, price float64) (Trigger, bool) {
	switch {
	case price <= pos.StopLossPrice:
		return TriggerStopLoss, true
	case pos.TrailingStopPrice > 0 && price <= pos.TrailingStopPrice:
		return TriggerTrailingStop, true
	case price >= pos.TakeProfitPrice:
		return TriggerTakeProfit, true
	default:
		return "", false
	}
}

// executeExit submits the market exit order with a bounded retry budget.
// Each attempt carries its own timeout; a timeout counts as a failed
// attempt, never as "unknown". The context is deliberately detached from
// the process context so shutdown cannot cancel a partially retried exit.
func (m *Manager) executeExit(tp *trackedPosition, pos Position, event *Event) {
	var lastErr error

	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		tp.mu.Lock()
		tp.event.AttemptCount = attempt
		tp.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CallTimeout())
		fill, err := m.broker.SubmitExitOrder(ctx, pos.SecurityID, pos.Quantity)
		cancel()

		if err == nil {
			monitoring.RecordExitAttempt("success")
			monitoring.RecordOrder(pos.SecurityID, "sell")
			m.finishExit(tp, fill.Price, event, Executed)
			return
		}

		lastErr = err
		monitoring.RecordExitAttempt("failure")
		m.log.Error().Err(err).
			Str("security", pos.SecurityID).
			Int("attempt", attempt).
			Int("budget", m.cfg.MaxAttempts).
			Msg("exit order attempt failed")

		if attempt < m.cfg.MaxAttempts {
			time.Sleep(m.cfg.RetryDelay())
		}
	}

	m.finishExit(tp, 0, event, Failed)

	monitoring.RecordCloseFailure()
	if m.health != nil {
		m.health.RecordCloseFailed()
	}
	// Exactly one alert per failed close. The position stays tracked in
	// CloseFailed until an operator intervenes.
	msg := fmt.Sprintf("STOP-LOSS EXIT FAILED: %s (%s)\nTrigger: %s @ %.0f\nAttempts: %d\nLast error: %v\nManual intervention required.",
		pos.Name, pos.SecurityID, event.Trigger, event.TriggerPrice, m.cfg.MaxAttempts, lastErr)
	if err := m.notifier.SendAlert(notifications.LevelError, msg); err != nil {
		m.log.Error().Err(err).Str("security", pos.SecurityID).Msg("close-failure alert delivery failed")
	}
}

func (m *Manager) finishExit(tp *trackedPosition, fillPrice float64, event *Event, outcome EventOutcome) {
	tp.mu.Lock()
	tp.event.Outcome = outcome
	tp.exiting = false
	if outcome == Executed {
		tp.pos.Status = Closed
		if fillPrice > 0 {
			tp.pos.CurrentPrice = fillPrice
		}
	} else {
		tp.pos.Status = CloseFailed
	}
	pos := tp.pos
	ev := *tp.event
	tp.mu.Unlock()

	if outcome == Executed {
		m.mu.Lock()
		delete(m.positions, pos.SecurityID)
		count := len(m.positions)
		m.mu.Unlock()
		monitoring.SetOpenPositions(count)

		m.log.Info().
			Str("security", pos.SecurityID).
			Str("trigger", string(ev.Trigger)).
			Int("attempts", ev.AttemptCount).
			Float64("pnl_pct", pos.ProfitLossPct()).
			Msg("position closed")

		msg := fmt.Sprintf("Position closed: %s (%s)\nTrigger: %s\nPnL: %+.2f%%",
			pos.Name, pos.SecurityID, ev.Trigger, pos.ProfitLossPct())
		if err := m.notifier.SendAlert(notifications.LevelSuccess, msg); err != nil {
			m.log.Warn().Err(err).Msg("close notification delivery failed")
		}
	}

	if m.onClosed != nil {
		m.onClosed(pos, ev)
	}
}

// ClearFailed removes a CloseFailed position from tracking after manual
// resolution.
func (m *Manager) ClearFailed(securityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tp, ok := m.positions[securityID]
	if !ok {
		return fmt.Errorf("position %s not tracked", securityID)
	}
	tp.mu.Lock()
	status := tp.pos.Status
	tp.mu.Unlock()
	if status != CloseFailed {
		return fmt.Errorf("position %s is %s, not close_failed", securityID, status)
	}
	delete(m.positions, securityID)
	monitoring.SetOpenPositions(len(m.positions))
	return nil
}

// Positions returns a snapshot of every tracked position.
func (m *Manager) Positions() []Position {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Position, 0, len(m.positions))
	for _, tp := range m.positions {
		tp.mu.Lock()
		out = append(out, tp.pos)
		tp.mu.Unlock()
	}
	return out
}

// Tracked reports whether the security currently has a position under
// management, in any status.
func (m *Manager) Tracked(securityID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.positions[securityID]
	return ok
}

// OpenCount returns the number of positions not yet in a terminal state.
func (m *Manager) OpenCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, tp := range m.positions {
		tp.mu.Lock()
		if tp.pos.Status == Open || tp.pos.Status == ClosingRequested {
			n++
		}
		tp.mu.Unlock()
	}
	return n
}

// CheckNow runs one monitoring pass synchronously. Intended for tests and
// for forcing a recheck right after registration.
func (m *Manager) CheckNow() {
	m.cycle()
	m.wg.Wait()
}
