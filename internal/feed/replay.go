package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/tickbot/internal/domain"
)

const (
	replayWriteWait = 10 * time.Second
	restampLayout   = "2006-01-02 15:04:05"
)

// ReplayOptions controls how a table is streamed.
type ReplayOptions struct {
	// Symbol overrides the symbol column of every row.
	Symbol string
	// Restamp replaces the date column with the send time.
	Restamp bool
	// Interval paces rows; zero streams as fast as the client reads.
	Interval time.Duration
	// Once stops the TCP listener after the first client is served.
	Once bool
}

// ReplayServer streams a CSV table as JSON lines followed by the EOD marker.
// Every client gets the whole table from the first row.
type ReplayServer struct {
	table    *Table
	opts     ReplayOptions
	logger   *slog.Logger
	upgrader websocket.Upgrader
	now      func() time.Time
	served   atomic.Int64
}

// NewReplayServer creates a ReplayServer for table.
func NewReplayServer(table *Table, opts ReplayOptions, logger *slog.Logger) *ReplayServer {
	return &ReplayServer{
		table:  table,
		opts:   opts,
		logger: logger.With(slog.String("component", "replay_server")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		now: time.Now,
	}
}

// Served returns the number of clients that received a full stream.
func (s *ReplayServer) Served() int64 { return s.served.Load() }

// encodeRow renders row i as one JSON object keyed by the original headers.
func (s *ReplayServer) encodeRow(i int) ([]byte, error) {
	row := s.table.Rows[i]
	obj := make(map[string]string, len(s.table.Header))
	for j, h := range s.table.Header {
		if j < len(row) {
			obj[h] = row[j]
		}
	}
	if s.opts.Symbol != "" {
		col := s.table.SymbolColumn()
		if col == "" {
			col = "SYMBOL"
		}
		obj[col] = s.opts.Symbol
	}
	if s.opts.Restamp {
		col := s.table.TimeColumn()
		if col == "" {
			col = "DATE"
		}
		obj[col] = s.now().Format(restampLayout)
	}
	return json.Marshal(obj)
}

// stream sends every row through send, then the EOD marker.
func (s *ReplayServer) stream(ctx context.Context, send func([]byte) error) error {
	var limiter *rate.Limiter
	if s.opts.Interval > 0 {
		limiter = rate.NewLimiter(rate.Every(s.opts.Interval), 1)
	}
	for i := range s.table.Rows {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}
		line, err := s.encodeRow(i)
		if err != nil {
			s.logger.Warn("replay: encode row failed", slog.Int("row", i+1), slog.String("error", err.Error()))
			continue
		}
		if err := send(line); err != nil {
			return fmt.Errorf("replay: send row %d: %w", i+1, err)
		}
		s.logger.Debug("replay: row sent", slog.Int("row", i+1))
	}
	if err := send([]byte(EODMarker)); err != nil {
		return fmt.Errorf("replay: send EOD: %w", err)
	}
	s.served.Add(1)
	return nil
}

// ServeTCP accepts clients on ln until ctx is cancelled, streaming the table
// to each one concurrently.
func (s *ReplayServer) ServeTCP(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		_ = ln.Close()
		return nil
	})
	g.Go(func() error {
		s.logger.Info("replay: listening", slog.String("addr", ln.Addr().String()), slog.Int("rows", len(s.table.Rows)))
		for {
			conn, err := ln.Accept()
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("replay: accept: %w", err)
			}
			if s.opts.Once {
				s.handleTCP(gctx, conn)
				cancel()
				return nil
			}
			g.Go(func() error {
				s.handleTCP(gctx, conn)
				return nil
			})
		}
	})
	return g.Wait()
}

func (s *ReplayServer) handleTCP(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	s.logger.Info("replay: client connected", slog.String("remote", remote))

	w := bufio.NewWriter(conn)
	err := s.stream(ctx, func(line []byte) error {
		_ = conn.SetWriteDeadline(time.Now().Add(replayWriteWait))
		if _, err := w.Write(line); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
		return w.Flush()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("replay: client stream ended early", slog.String("remote", remote), slog.String("error", err.Error()))
		return
	}
	s.logger.Info("replay: end of data sent", slog.String("remote", remote))
}

// ServeHTTP upgrades the request to a WebSocket and streams the table, one
// record per text message.
func (s *ReplayServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("replay: websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	s.logger.Info("replay: websocket client connected", slog.String("remote", remote))

	err = s.stream(r.Context(), func(line []byte) error {
		_ = conn.SetWriteDeadline(time.Now().Add(replayWriteWait))
		return conn.WriteMessage(websocket.TextMessage, line)
	})
	if err != nil {
		s.logger.Warn("replay: websocket stream ended early", slog.String("remote", remote), slog.String("error", err.Error()))
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "EOD"),
		time.Now().Add(time.Second))
}

// PublishStream appends the table to a durable bus stream.
func (s *ReplayServer) PublishStream(ctx context.Context, bus domain.SignalBus, stream string) error {
	s.logger.Info("replay: publishing to stream", slog.String("stream", stream), slog.Int("rows", len(s.table.Rows)))
	return s.stream(ctx, func(line []byte) error {
		return bus.StreamAppend(ctx, stream, line)
	})
}
