package filter

import (
	"time"

	"github.com/minwoocho/stock-auto-trader/pkg/types"
)

// Verdict is the outcome of a pre-trade filter evaluation.
type Verdict int

const (
	// Allow lets the security continue down the entry pipeline.
	Allow Verdict = iota
	// Reject removes the security from this scan cycle.
	Reject
	// Indeterminate means no enabled metric had data. Only the valuation
	// filter produces it; the caller resolves it via the fallback policy.
	Indeterminate
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case Reject:
		return "reject"
	case Indeterminate:
		return "indeterminate"
	default:
		return "unknown"
	}
}

// Result pairs a verdict with a human-readable reason for the audit log.
type Result struct {
	Verdict Verdict
	Reason  string
}

func allow() Result                 { return Result{Verdict: Allow} }
func reject(reason string) Result   { return Result{Verdict: Reject, Reason: reason} }
func indeterminate(r string) Result { return Result{Verdict: Indeterminate, Reason: r} }

// usable reports whether the snapshot can be evaluated at all. A stale or
// zero-priced snapshot is treated the same as absent data.
func usable(snap *types.MarketSnapshot, staleBound time.Duration, now time.Time) bool {
	if snap == nil || snap.Price <= 0 {
		return false
	}
	if staleBound > 0 && snap.StaleBy(staleBound, now) {
		return false
	}
	return true
}
