package domain

import "time"

// EventKind names an observable position-store transition.
type EventKind string

const (
	EventOpened    EventKind = "opened"
	EventExited    EventKind = "exited"
	EventRejected  EventKind = "rejected"
	EventFinalized EventKind = "finalized"
)

// Rejection is the payload of a rejected event.
type Rejection struct {
	Signal Signal       `json:"signal"`
	Reason RejectReason `json:"reason"`
	Detail string       `json:"detail,omitempty"`
}

// Event is one entry of the position store's event stream. Exactly one of
// the payload pointers is set, matching Kind. Seq increases by one per event
// in the order the store applied the transitions.
type Event struct {
	Seq       uint64           `json:"seq"`
	Kind      EventKind        `json:"kind"`
	At        time.Time        `json:"at"`
	Opened    *Position        `json:"opened,omitempty"`
	Exited    *ExitEvent       `json:"exited,omitempty"`
	Rejected  *Rejection       `json:"rejected,omitempty"`
	Finalized *AggregateReport `json:"finalized,omitempty"`
}

// Symbol returns the symbol the event concerns, or "" for finalized events.
func (e Event) Symbol() string {
	switch {
	case e.Opened != nil:
		return e.Opened.Symbol
	case e.Exited != nil:
		return e.Exited.Symbol
	case e.Rejected != nil:
		return e.Rejected.Signal.Symbol
	}
	return ""
}

// EventObserver receives store events. Observe is called while the store
// holds its lock and must not block.
type EventObserver interface {
	Observe(evt Event)
}

// RunStatus is a summary of the simulator's current state.
type RunStatus struct {
	RunID           string    `json:"run_id"`
	RunName         string    `json:"run_name"`
	Mode            string    `json:"mode"`
	Strategies      []string  `json:"strategies"`
	FeedType        string    `json:"feed_type"`
	TicksProcessed  int64     `json:"ticks_processed"`
	OpenPositions   int       `json:"open_positions"`
	ClosedPositions int       `json:"closed_positions"`
	RealizedPnL     float64   `json:"realized_pnl"`
	Finalized       bool      `json:"finalized"`
	StartedAt       time.Time `json:"started_at"`
	UptimeSeconds   int64     `json:"uptime_seconds"`
}
