package domain

import "time"

// PositionID identifies a position within one store. IDs are assigned in
// open order starting at 1.
type PositionID uint64

// PositionStatus is OPEN until the position reaches exactly one terminal state.
type PositionStatus string

const (
	PositionStatusOpen         PositionStatus = "OPEN"
	PositionStatusClosedTarget PositionStatus = "CLOSED_TARGET"
	PositionStatusClosedStop   PositionStatus = "CLOSED_STOP"
	PositionStatusClosedEOD    PositionStatus = "CLOSED_EOD"
)

// Closed reports whether s is a terminal status.
func (s PositionStatus) Closed() bool {
	switch s {
	case PositionStatusClosedTarget, PositionStatusClosedStop, PositionStatusClosedEOD:
		return true
	}
	return false
}

// Position is one tracked trade from open to terminal close.
type Position struct {
	ID         PositionID     `json:"id"`
	Symbol     string         `json:"symbol"`
	Direction  Direction      `json:"direction"`
	EntryPrice float64        `json:"entry_price"`
	Target     float64        `json:"target"`
	StopLoss   float64        `json:"stop_loss"`
	Size       float64        `json:"size"`
	Strategy   string         `json:"strategy,omitempty"`
	Status     PositionStatus `json:"status"`
	ExitPrice  *float64       `json:"exit_price,omitempty"`
	PnL        *float64       `json:"pnl,omitempty"`
	OpenedAt   time.Time      `json:"opened_at"`
	ClosedAt   *time.Time     `json:"closed_at,omitempty"`
}

// Clone returns a copy that shares no pointers with p.
func (p Position) Clone() Position {
	out := p
	if p.ExitPrice != nil {
		v := *p.ExitPrice
		out.ExitPrice = &v
	}
	if p.PnL != nil {
		v := *p.PnL
		out.PnL = &v
	}
	if p.ClosedAt != nil {
		v := *p.ClosedAt
		out.ClosedAt = &v
	}
	return out
}

// ExitEvent describes one position closing.
type ExitEvent struct {
	PositionID PositionID     `json:"position_id"`
	Symbol     string         `json:"symbol"`
	Direction  Direction      `json:"direction"`
	Status     PositionStatus `json:"status"`
	EntryPrice float64        `json:"entry_price"`
	ExitPrice  float64        `json:"exit_price"`
	PnL        float64        `json:"pnl"`
	At         time.Time      `json:"at"`
}

// AggregateReport is the final state of a store after end-of-data.
type AggregateReport struct {
	TotalPnL    float64    `json:"total_pnl"`
	Trades      int        `json:"trades"`
	Wins        int        `json:"wins"`
	Losses      int        `json:"losses"`
	Positions   []Position `json:"positions"`
	FinalizedAt time.Time  `json:"finalized_at"`
}

// Clone deep-copies the report.
func (r AggregateReport) Clone() AggregateReport {
	out := r
	out.Positions = make([]Position, len(r.Positions))
	for i, p := range r.Positions {
		out.Positions[i] = p.Clone()
	}
	return out
}
