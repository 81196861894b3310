package recorder

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestRecorder(t *testing.T) *SQLiteRecorder {
	t.Helper()
	r, err := NewSQLiteRecorder(filepath.Join(t.TempDir(), "trades.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRecordAndQueryTrades(t *testing.T) {
	r := openTestRecorder(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, r.RecordTrade(ctx, TradeRecord{
		SecurityID: "005930",
		Name:       "Samsung Electronics",
		Side:       "buy",
		Quantity:   10,
		Price:      71000,
		ExecutedAt: now,
	}))
	require.NoError(t, r.RecordTrade(ctx, TradeRecord{
		SecurityID: "005930",
		Name:       "Samsung Electronics",
		Side:       "sell",
		Quantity:   10,
		Price:      69900,
		Trigger:    "stop_loss",
		PnLPct:     -1.55,
		ExecutedAt: now.Add(time.Hour),
	}))

	trades, err := r.TradesBetween(ctx, now.Add(-time.Minute), now.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, trades, 2)

	assert.Equal(t, "buy", trades[0].Side)
	assert.Equal(t, "sell", trades[1].Side)
	assert.Equal(t, "stop_loss", trades[1].Trigger)
	assert.InDelta(t, -1.55, trades[1].PnLPct, 0.001)
	assert.NotEmpty(t, trades[0].ID, "id assigned when absent")
}

func TestTradesBetweenWindowing(t *testing.T) {
	r := openTestRecorder(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, r.RecordTrade(ctx, TradeRecord{
			SecurityID: "000660",
			Side:       "buy",
			Quantity:   1,
			Price:      100,
			ExecutedAt: base.Add(time.Duration(i) * 24 * time.Hour),
		}))
	}

	trades, err := r.TradesBetween(ctx, base, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, trades, 1, "upper bound exclusive")
}

func TestRecordDecision(t *testing.T) {
	r := openTestRecorder(t)
	require.NoError(t, r.RecordDecision(context.Background(), DecisionRecord{
		SecurityID: "005930",
		Score:      83.5,
		Threshold:  80,
		Decision:   "buy",
		Reasons:    "RSI oversold (28.3), MACD golden cross",
	}))
}
