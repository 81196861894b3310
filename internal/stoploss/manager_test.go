package stoploss

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minwoocho/stock-auto-trader/internal/config"
	"github.com/minwoocho/stock-auto-trader/internal/notifications"
	"github.com/minwoocho/stock-auto-trader/internal/timing"
	"github.com/minwoocho/stock-auto-trader/pkg/types"
)

// fakeBroker serves a settable price and fails exit orders on demand.
type fakeBroker struct {
	mu        sync.Mutex
	price     float64
	exitErr   error
	exitCalls int
	inFlight  int
	maxClient int // high-water mark of concurrent exit calls
	exitDelay time.Duration
}

func (f *fakeBroker) setPrice(p float64) {
	f.mu.Lock()
	f.price = p
	f.mu.Unlock()
}

func (f *fakeBroker) GetSnapshot(ctx context.Context, securityID string) (*types.MarketSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &types.MarketSnapshot{
		SecurityID: securityID,
		Price:      f.price,
		Timestamp:  time.Now(),
	}, nil
}

func (f *fakeBroker) SubmitEntryOrder(ctx context.Context, securityID string, qty int64) (*types.Fill, error) {
	return &types.Fill{SecurityID: securityID, Quantity: qty, Timestamp: time.Now()}, nil
}

func (f *fakeBroker) SubmitExitOrder(ctx context.Context, securityID string, qty int64) (*types.Fill, error) {
	f.mu.Lock()
	f.exitCalls++
	f.inFlight++
	if f.inFlight > f.maxClient {
		f.maxClient = f.inFlight
	}
	err := f.exitErr
	price := f.price
	delay := f.exitDelay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return &types.Fill{SecurityID: securityID, Quantity: qty, Price: price, Timestamp: time.Now()}, nil
}

func (f *fakeBroker) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exitCalls
}

// countingNotifier counts alerts per level.
type countingNotifier struct {
	mu     sync.Mutex
	errors int
	others int
}

func (n *countingNotifier) SendAlert(level notifications.Level, msg string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if level == notifications.LevelError {
		n.errors++
	} else {
		n.others++
	}
	return nil
}

func (n *countingNotifier) errorAlerts() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.errors
}

func stopLossConfig() config.StopLossConfig {
	return config.StopLossConfig{
		StopLossPct:        1.5,
		TakeProfitPct:      3.0,
		TrailingStopPct:    1.0,
		MonitorIntervalSec: 1,
		MaxAttempts:        3,
		RetryDelayMs:       1,
		CallTimeoutSec:     1,
		ForceExecution:     true,
	}
}

func newTestManager(b *fakeBroker, n notifications.Notifier) *Manager {
	return NewManager(stopLossConfig(), b, n, nil, zerolog.Nop())
}

func TestBreachBoundaryInclusive(t *testing.T) {
	b := &fakeBroker{price: 10000}
	m := newTestManager(b, nil)
	require.NoError(t, m.Track("005930", "Samsung Electronics", 10000, 10))

	// 9851 is one tick above the trigger: no breach.
	b.setPrice(9851)
	m.CheckNow()
	assert.Zero(t, b.calls())
	assert.Equal(t, 1, m.OpenCount())

	// 9850 is exactly entry*(1-1.5/100): breach, inclusive boundary.
	b.setPrice(9850)
	m.CheckNow()
	assert.Equal(t, 1, b.calls())
	assert.Zero(t, m.OpenCount())
	assert.Empty(t, m.Positions(), "closed position leaves the active set")
}

func TestTakeProfitTrigger(t *testing.T) {
	b := &fakeBroker{price: 10000}
	m := newTestManager(b, nil)
	require.NoError(t, m.Track("005930", "Samsung Electronics", 10000, 10))

	b.setPrice(10300) // +3.0%
	m.CheckNow()
	assert.Equal(t, 1, b.calls())
	assert.Empty(t, m.Positions())
}

func TestTrailingStopArmsAfterGain(t *testing.T) {
	b := &fakeBroker{price: 10000}
	m := newTestManager(b, nil)
	require.NoError(t, m.Track("005930", "Samsung Electronics", 10000, 10))

	// +1% gain: trailing not armed yet, a pullback to entry is no breach.
	b.setPrice(10100)
	m.CheckNow()
	b.setPrice(10000)
	m.CheckNow()
	assert.Zero(t, b.calls())

	// +2.5% arms the trailing stop at 10250*(1-1%)=10147.5.
	b.setPrice(10250)
	m.CheckNow()
	assert.Zero(t, b.calls())

	b.setPrice(10147)
	m.CheckNow()
	assert.Equal(t, 1, b.calls())
}

func TestRetryExhaustionReachesCloseFailed(t *testing.T) {
	b := &fakeBroker{price: 10000, exitErr: errors.New("order rejected")}
	n := &countingNotifier{}
	m := newTestManager(b, n)

	var closedEvents []Event
	var mu sync.Mutex
	m.SetOnClosed(func(p Position, e Event) {
		mu.Lock()
		closedEvents = append(closedEvents, e)
		mu.Unlock()
	})

	require.NoError(t, m.Track("005930", "Samsung Electronics", 10000, 10))

	b.setPrice(9800)
	m.CheckNow()

	// Exactly the retry budget, never more.
	assert.Equal(t, 3, b.calls())
	// Exactly one operator alert.
	assert.Equal(t, 1, n.errorAlerts())

	// Terminal CloseFailed, still tracked for manual intervention.
	positions := m.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, CloseFailed, positions[0].Status)

	mu.Lock()
	require.Len(t, closedEvents, 1)
	assert.Equal(t, Failed, closedEvents[0].Outcome)
	assert.Equal(t, 3, closedEvents[0].AttemptCount)
	mu.Unlock()

	// A CloseFailed position is not silently re-queued into monitoring.
	m.CheckNow()
	assert.Equal(t, 3, b.calls())

	// Operator clears it explicitly.
	require.NoError(t, m.ClearFailed("005930"))
	assert.Empty(t, m.Positions())
}

func TestTransientFailureThenSuccess(t *testing.T) {
	b := &fakeBroker{price: 10000, exitErr: errors.New("timeout")}
	n := &countingNotifier{}
	cfg := stopLossConfig()
	cfg.RetryDelayMs = 100 // room to flip the fault before the retry
	m := NewManager(cfg, b, n, nil, zerolog.Nop())
	require.NoError(t, m.Track("005930", "Samsung Electronics", 10000, 10))

	// Fail the first attempt only: clear the error from another
	// goroutine once the first call has been made.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for b.calls() == 0 {
			time.Sleep(time.Millisecond)
		}
		b.mu.Lock()
		b.exitErr = nil
		b.mu.Unlock()
	}()

	b.setPrice(9700)
	m.CheckNow()
	<-done

	assert.Equal(t, 2, b.calls())
	assert.Zero(t, n.errorAlerts())
	assert.Empty(t, m.Positions())
}

func TestNoDuplicateConcurrentExits(t *testing.T) {
	b := &fakeBroker{price: 9000, exitDelay: 20 * time.Millisecond}
	m := newTestManager(b, nil)
	require.NoError(t, m.Track("005930", "Samsung Electronics", 10000, 10))

	// Several monitoring cycles race while the first exit is still in
	// flight. Only one order may ever be submitted.
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.cycle()
		}()
	}
	wg.Wait()
	m.wg.Wait()

	assert.Equal(t, 1, b.calls())
	b.mu.Lock()
	assert.Equal(t, 1, b.maxClient, "no overlapping exit submissions")
	b.mu.Unlock()
}

func TestDistinctPositionsMonitoredIndependently(t *testing.T) {
	b := &fakeBroker{price: 9000}
	m := newTestManager(b, nil)
	require.NoError(t, m.Track("005930", "Samsung Electronics", 10000, 10))
	require.NoError(t, m.Track("000660", "SK hynix", 10000, 5))

	m.CheckNow()
	assert.Equal(t, 2, b.calls())
	assert.Empty(t, m.Positions())
}

func TestTrackRejectsDuplicatesAndBadInput(t *testing.T) {
	b := &fakeBroker{price: 10000}
	m := newTestManager(b, nil)

	require.NoError(t, m.Track("005930", "Samsung Electronics", 10000, 10))
	assert.Error(t, m.Track("005930", "Samsung Electronics", 10000, 10))
	assert.Error(t, m.Track("000660", "SK hynix", 0, 10))
	assert.Error(t, m.Track("000660", "SK hynix", 10000, 0))
}

// A Wait advisory from the timing manager must never delay an exit: the
// manager does not consult timing at all, shown here with a breach during
// the opening settle-down window.
func TestExitIgnoresTimingWait(t *testing.T) {
	tm := timing.NewManager(config.Default().Timing, zerolog.Nop())
	// Extreme volatility forces Wait whatever the session clock says.
	rec := tm.Recommend(timing.MarketContext{Volatility: 100}, nil)
	require.Equal(t, timing.Wait, rec.Advice)

	b := &fakeBroker{price: 9800}
	m := newTestManager(b, nil)
	require.NoError(t, m.Track("005930", "Samsung Electronics", 10000, 10))

	start := time.Now()
	m.CheckNow()
	assert.Equal(t, 1, b.calls(), "exit submitted despite Wait advisory")
	assert.Less(t, time.Since(start), time.Second, "exit not delayed")
}

func TestRunDrainsInFlightExitsOnShutdown(t *testing.T) {
	b := &fakeBroker{price: 9000, exitDelay: 30 * time.Millisecond}
	m := newTestManager(b, nil)
	require.NoError(t, m.Track("005930", "Samsung Electronics", 10000, 10))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	// Let one cycle fire, then shut down mid-exit.
	time.Sleep(1100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not drain and return")
	}

	// The in-flight exit reached a terminal state, not an ambiguous one.
	assert.Equal(t, 1, b.calls())
	assert.Empty(t, m.Positions())
}
