package broker

import (
	"context"

	"github.com/minwoocho/stock-auto-trader/pkg/types"
)

// Broker is the market/order collaborator. Implementations may be slow or
// fail transiently; callers must bound every call with a context deadline
// and never assume synchronous completion.
type Broker interface {
	// GetSnapshot returns a fresh market snapshot for the security.
	GetSnapshot(ctx context.Context, securityID string) (*types.MarketSnapshot, error)

	// SubmitEntryOrder places a market buy order and returns the fill.
	SubmitEntryOrder(ctx context.Context, securityID string, quantity int64) (*types.Fill, error)

	// SubmitExitOrder places a market sell order and returns the fill.
	SubmitExitOrder(ctx context.Context, securityID string, quantity int64) (*types.Fill, error)
}

// HistorySource supplies daily candle series for indicator computation.
type HistorySource interface {
	// GetDailyCandles returns up to count daily bars, oldest first.
	GetDailyCandles(ctx context.Context, securityID string, count int) ([]types.OHLCV, error)
}

// IndexSource supplies market index moves for timing decisions.
type IndexSource interface {
	// GetIndexChangePct returns today's percent change of the index.
	GetIndexChangePct(ctx context.Context, indexCode string) (float64, error)
}

// Market index codes on the KIS API.
const (
	IndexKOSPI  = "0001"
	IndexKOSDAQ = "1001"
)
