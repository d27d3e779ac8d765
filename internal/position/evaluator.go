package position

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tickbot/internal/domain"
)

// Exit is the outcome of a position crossing one of its thresholds.
type Exit struct {
	Status domain.PositionStatus
	Price  float64
}

// Evaluate decides whether pos closes on tick. Exits fill at the threshold
// that was crossed, not at the tick price. The stop is checked before the
// target, so a tick that satisfies both closes the position as CLOSED_STOP.
func Evaluate(pos domain.Position, tick domain.Tick) (Exit, bool) {
	if pos.Status != domain.PositionStatusOpen || tick.Symbol != pos.Symbol {
		return Exit{}, false
	}

	switch pos.Direction {
	case domain.DirectionLong:
		if tick.Price <= pos.StopLoss {
			return Exit{Status: domain.PositionStatusClosedStop, Price: pos.StopLoss}, true
		}
		if tick.Price >= pos.Target {
			return Exit{Status: domain.PositionStatusClosedTarget, Price: pos.Target}, true
		}
	case domain.DirectionShort:
		if tick.Price >= pos.StopLoss {
			return Exit{Status: domain.PositionStatusClosedStop, Price: pos.StopLoss}, true
		}
		if tick.Price <= pos.Target {
			return Exit{Status: domain.PositionStatusClosedTarget, Price: pos.Target}, true
		}
	}
	return Exit{}, false
}

// PnL returns the realized profit of closing pos at exitPrice, in price
// points multiplied by the position size.
func PnL(pos domain.Position, exitPrice float64) decimal.Decimal {
	size := pos.Size
	if size == 0 {
		size = 1
	}
	entry := decimal.NewFromFloat(pos.EntryPrice)
	exit := decimal.NewFromFloat(exitPrice)

	var points decimal.Decimal
	switch pos.Direction {
	case domain.DirectionLong:
		points = exit.Sub(entry)
	case domain.DirectionShort:
		points = entry.Sub(exit)
	}
	return points.Mul(decimal.NewFromFloat(size))
}
