package types

import "time"

// MarketSnapshot is a point-in-time view of a single security. It is
// immutable once captured; every evaluation cycle fetches a fresh one.
type MarketSnapshot struct {
	SecurityID     string
	Name           string
	Price          float64
	DailyChangePct float64
	VolumeRatio    float64
	Volatility     float64 // blend of daily change and intraday high-low range, percent
	Valuation      Valuation
	Timestamp      time.Time
}

// Valuation carries fundamental metrics. Each metric is present-or-absent;
// a nil pointer means the upstream data source had no value.
type Valuation struct {
	PBR *float64
	PER *float64
	ROE *float64
	PSR *float64
}

// StaleBy reports whether the snapshot is older than the given bound.
// A stale snapshot is treated the same as absent data by the filters.
func (s *MarketSnapshot) StaleBy(bound time.Duration, now time.Time) bool {
	if s.Timestamp.IsZero() {
		return true
	}
	return now.Sub(s.Timestamp) > bound
}

// Fill is a confirmed order execution from the brokerage.
type Fill struct {
	OrderID    string
	SecurityID string
	Quantity   int64
	Price      float64
	Timestamp  time.Time
}

type OHLCV struct {
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Timestamp time.Time
}

// Float64Ptr returns a pointer to v. Convenience for building Valuation
// literals in config defaults and tests.
func Float64Ptr(v float64) *float64 { return &v }
