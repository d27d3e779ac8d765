package feed

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/alanyoungcy/tickbot/internal/domain"
)

const maxLineBytes = 1 << 20

// DialOptions controls how a source retries its initial connection. The
// replay server may still be starting when the simulator comes up.
type DialOptions struct {
	Attempts int
	Backoff  time.Duration
}

func (o DialOptions) withDefaults() DialOptions {
	if o.Attempts <= 0 {
		o.Attempts = 1
	}
	if o.Backoff <= 0 {
		o.Backoff = time.Second
	}
	return o
}

// dialWithRetry calls dial until it succeeds, the attempts run out or ctx ends.
func dialWithRetry[T any](ctx context.Context, opts DialOptions, logger *slog.Logger, dial func(context.Context) (T, error)) (T, error) {
	opts = opts.withDefaults()
	var (
		zero    T
		lastErr error
	)
	delay := opts.Backoff
	for attempt := 1; attempt <= opts.Attempts; attempt++ {
		conn, err := dial(ctx)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if attempt == opts.Attempts {
			break
		}
		logger.Warn("feed connect failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
		if delay < 30*time.Second {
			delay *= 2
		}
	}
	return zero, lastErr
}

// TCPSource reads newline-delimited JSON records from a TCP stream ended by
// the EOD marker.
type TCPSource struct {
	conn    net.Conn
	scanner *bufio.Scanner
	codec   Codec
	logger  *slog.Logger
	done    bool
}

// DialTCP connects to a replay server at addr.
func DialTCP(ctx context.Context, addr string, opts DialOptions, codec Codec, logger *slog.Logger) (*TCPSource, error) {
	logger = logger.With(slog.String("component", "tcp_feed"), slog.String("addr", addr))
	var d net.Dialer
	conn, err := dialWithRetry(ctx, opts, logger, func(ctx context.Context) (net.Conn, error) {
		return d.DialContext(ctx, "tcp", addr)
	})
	if err != nil {
		return nil, fmt.Errorf("feed: dial tcp %s: %w", addr, err)
	}
	logger.Info("connected to feed")
	return NewTCPSource(conn, codec, logger), nil
}

// NewTCPSource wraps an established connection.
func NewTCPSource(conn net.Conn, codec Codec, logger *slog.Logger) *TCPSource {
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &TCPSource{conn: conn, scanner: sc, codec: codec, logger: logger}
}

// Next returns the next decoded tick. A connection closed without the EOD
// marker is treated as end of data.
func (s *TCPSource) Next(ctx context.Context) (domain.Tick, error) {
	if s.done {
		return domain.Tick{}, ErrEndOfData
	}
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if string(line) == EODMarker {
			s.done = true
			s.logger.Info("received EOD marker")
			return domain.Tick{}, ErrEndOfData
		}
		return s.codec.DecodeLine(line)
	}

	if err := ctx.Err(); err != nil {
		return domain.Tick{}, err
	}
	s.done = true
	if err := s.scanner.Err(); err != nil {
		return domain.Tick{}, fmt.Errorf("feed: tcp read: %w", err)
	}
	s.logger.Warn("feed closed without EOD marker, treating as end of data")
	return domain.Tick{}, ErrEndOfData
}

// Close closes the connection.
func (s *TCPSource) Close() error {
	return s.conn.Close()
}
