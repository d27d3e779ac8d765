package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Direction is the side of a position.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// ParseDirection accepts LONG/SHORT as well as the BUY/SELL vocabulary
// strategies tend to use.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LONG", "BUY":
		return DirectionLong, nil
	case "SHORT", "SELL":
		return DirectionShort, nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

// Signal is a strategy's instruction to open a trade.
type Signal struct {
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	EntryPrice float64   `json:"entry_price"`
	Target     float64   `json:"target"`
	StopLoss   float64   `json:"stop_loss"`
	Size       float64   `json:"size,omitempty"` // 0 means one unit
	Source     string    `json:"source,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Units returns the position size, defaulting to one unit.
func (s Signal) Units() float64 {
	if s.Size == 0 {
		return 1
	}
	return s.Size
}

// Validate reports a malformed signal. LONG requires
// target > entry > stop and SHORT requires target < entry < stop.
func (s Signal) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrMalformedSignal)
	}
	prices := []struct {
		name string
		v    float64
	}{
		{"entry_price", s.EntryPrice},
		{"target", s.Target},
		{"stop_loss", s.StopLoss},
	}
	for _, p := range prices {
		if math.IsNaN(p.v) || math.IsInf(p.v, 0) || p.v <= 0 {
			return fmt.Errorf("%w: %s must be a positive finite price, got %v", ErrMalformedSignal, p.name, p.v)
		}
	}
	if math.IsNaN(s.Size) || math.IsInf(s.Size, 0) || s.Size < 0 {
		return fmt.Errorf("%w: size must be non-negative, got %v", ErrMalformedSignal, s.Size)
	}

	switch s.Direction {
	case DirectionLong:
		if !(s.Target > s.EntryPrice && s.EntryPrice > s.StopLoss) {
			return fmt.Errorf("%w: LONG needs target > entry > stop (target=%v entry=%v stop=%v)",
				ErrMalformedSignal, s.Target, s.EntryPrice, s.StopLoss)
		}
	case DirectionShort:
		if !(s.Target < s.EntryPrice && s.EntryPrice < s.StopLoss) {
			return fmt.Errorf("%w: SHORT needs target < entry < stop (target=%v entry=%v stop=%v)",
				ErrMalformedSignal, s.Target, s.EntryPrice, s.StopLoss)
		}
	default:
		return fmt.Errorf("%w: unknown direction %q", ErrMalformedSignal, s.Direction)
	}
	return nil
}
