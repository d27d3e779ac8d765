package feed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/tickbot/internal/domain"
)

// StreamSource reads ticks from a durable bus stream, starting at the
// beginning, until it reads the EOD marker.
type StreamSource struct {
	bus    domain.SignalBus
	stream string
	codec  Codec
	logger *slog.Logger
	batch  int

	lastID  string
	pending []domain.StreamMessage
	done    bool
}

// NewStreamSource returns a source over stream.
func NewStreamSource(bus domain.SignalBus, stream string, codec Codec, logger *slog.Logger) *StreamSource {
	return &StreamSource{
		bus:    bus,
		stream: stream,
		codec:  codec,
		logger: logger.With(slog.String("component", "stream_feed"), slog.String("stream", stream)),
		batch:  256,
		lastID: "0",
	}
}

// Next returns the next decoded tick, blocking until one is appended.
func (s *StreamSource) Next(ctx context.Context) (domain.Tick, error) {
	if s.done {
		return domain.Tick{}, ErrEndOfData
	}
	for len(s.pending) == 0 {
		if err := ctx.Err(); err != nil {
			return domain.Tick{}, err
		}
		msgs, err := s.bus.StreamRead(ctx, s.stream, s.lastID, s.batch)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return domain.Tick{}, ctxErr
			}
			return domain.Tick{}, fmt.Errorf("feed: stream read: %w", err)
		}
		s.pending = msgs
	}

	msg := s.pending[0]
	s.pending = s.pending[1:]
	s.lastID = msg.ID

	if strings.TrimSpace(string(msg.Payload)) == EODMarker {
		s.done = true
		s.logger.Info("received EOD marker")
		return domain.Tick{}, ErrEndOfData
	}
	return s.codec.DecodeLine(msg.Payload)
}

// Close is a no-op; the bus is owned by the caller.
func (s *StreamSource) Close() error { return nil }
