// Package feed delivers ticks to the simulator: sources that decode a
// replayed stream, the Driver that pumps them through the position store and
// the strategy engine, and the replay server that produces the stream.
package feed

import (
	"context"
	"errors"

	"github.com/alanyoungcy/tickbot/internal/domain"
)

// EODMarker terminates a replayed stream.
const EODMarker = "EOD"

var (
	// ErrEndOfData is returned by Source.Next once the stream has ended.
	ErrEndOfData = errors.New("feed: end of data")
	// ErrBadRecord wraps records that could not be decoded into a tick. The
	// stream itself is still usable.
	ErrBadRecord = errors.New("feed: bad record")
)

// Source produces ticks in delivery order.
type Source interface {
	Next(ctx context.Context) (domain.Tick, error)
	Close() error
}

// SliceSource replays a fixed list of ticks.
type SliceSource struct {
	ticks []domain.Tick
	pos   int
}

// NewSliceSource returns a Source over ticks.
func NewSliceSource(ticks []domain.Tick) *SliceSource {
	return &SliceSource{ticks: ticks}
}

// Next returns the next tick or ErrEndOfData.
func (s *SliceSource) Next(ctx context.Context) (domain.Tick, error) {
	if err := ctx.Err(); err != nil {
		return domain.Tick{}, err
	}
	if s.pos >= len(s.ticks) {
		return domain.Tick{}, ErrEndOfData
	}
	t := s.ticks[s.pos]
	s.pos++
	return t, nil
}

// Len returns the number of ticks in the source.
func (s *SliceSource) Len() int { return len(s.ticks) }

// Close is a no-op.
func (s *SliceSource) Close() error { return nil }
