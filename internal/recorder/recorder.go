package recorder

import (
	"context"
	"time"
)

// TradeRecord is one executed order, persisted for the daily report.
type TradeRecord struct {
	ID         string
	SecurityID string
	Name       string
	Side       string // buy or sell
	Quantity   int64
	Price      float64
	Trigger    string // empty for entries; stop_loss / trailing_stop / take_profit for exits
	PnLPct     float64
	ExecutedAt time.Time
}

// DecisionRecord is one scoring decision, kept for tuning analysis.
type DecisionRecord struct {
	SecurityID string
	Score      float64
	Threshold  float64
	Decision   string
	Reasons    string
	DecidedAt  time.Time
}

// Recorder persists trades and decisions. Implementations must tolerate
// concurrent writers; the entry pipeline and the stop-loss manager both
// record.
type Recorder interface {
	RecordTrade(ctx context.Context, t TradeRecord) error
	RecordDecision(ctx context.Context, d DecisionRecord) error
	TradesBetween(ctx context.Context, from, to time.Time) ([]TradeRecord, error)
	Close() error
}

// Noop discards everything. Used when recording is disabled.
type Noop struct{}

func (Noop) RecordTrade(context.Context, TradeRecord) error       { return nil }
func (Noop) RecordDecision(context.Context, DecisionRecord) error { return nil }
func (Noop) TradesBetween(context.Context, time.Time, time.Time) ([]TradeRecord, error) {
	return nil, nil
}
func (Noop) Close() error { return nil }
