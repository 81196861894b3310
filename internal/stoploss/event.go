package stoploss

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a tracked position.
type Status int

const (
	// Open is being monitored every cycle.
	Open Status = iota
	// ClosingRequested means a breach was detected and an exit order is
	// in flight.
	ClosingRequested
	// Closed means the exit order filled; the position leaves the
	// active set.
	Closed
	// CloseFailed means the retry budget is exhausted. Terminal: the
	// position stays flagged for operator intervention, never dropped.
	CloseFailed
)

func (s Status) String() string {
	switch s {
	case Open:
		return "open"
	case ClosingRequested:
		return "closing_requested"
	case Closed:
		return "closed"
	case CloseFailed:
		return "close_failed"
	default:
		return "unknown"
	}
}

// Trigger names the condition that forced the exit.
type Trigger string

const (
	TriggerStopLoss     Trigger = "stop_loss"
	TriggerTrailingStop Trigger = "trailing_stop"
	TriggerTakeProfit   Trigger = "take_profit"
)

// Position is one holding under stop-loss protection. Owned exclusively
// by the Manager once registered; external readers get copies.
type Position struct {
	SecurityID string
	Name       string
	EntryPrice float64
	Quantity   int64
	EntryTime  time.Time

	StopLossPrice   float64
	TakeProfitPrice float64
	// TrailingStopPrice is zero until the position gains enough to arm
	// the trailing stop.
	TrailingStopPrice float64
	MaxPriceSeen      float64

	CurrentPrice float64
	Status       Status
}

// ProfitLossPct returns the unrealized move in percent.
func (p *Position) ProfitLossPct() float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return (p.CurrentPrice - p.EntryPrice) / p.EntryPrice * 100
}

// EventOutcome is the terminal state of one exit event.
type EventOutcome int

const (
	Pending EventOutcome = iota
	Executed
	Failed
)

func (o EventOutcome) String() string {
	switch o {
	case Pending:
		return "pending"
	case Executed:
		return "executed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event records one breach and the exit attempts it caused. A position
// has at most one active event at a time.
type Event struct {
	ID           string
	SecurityID   string
	Trigger      Trigger
	TriggerPrice float64
	TriggerTime  time.Time
	AttemptCount int
	Outcome      EventOutcome
}

func newEvent(securityID string, trigger Trigger, price float64, at time.Time) *Event {
	return &Event{
		ID:           uuid.NewString(),
		SecurityID:   securityID,
		Trigger:      trigger,
		TriggerPrice: price,
		TriggerTime:  at,
		Outcome:      Pending,
	}
}
