package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/tickbot/internal/domain"
)

// WSSource reads JSON records from a WebSocket, one record per text message,
// ended by an EOD message.
type WSSource struct {
	conn   *websocket.Conn
	codec  Codec
	logger *slog.Logger
	done   bool
}

// DialWS connects to a replay server WebSocket endpoint.
func DialWS(ctx context.Context, url string, opts DialOptions, codec Codec, logger *slog.Logger) (*WSSource, error) {
	logger = logger.With(slog.String("component", "ws_feed"), slog.String("url", url))
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, err := dialWithRetry(ctx, opts, logger, func(ctx context.Context) (*websocket.Conn, error) {
		c, _, err := dialer.DialContext(ctx, url, nil)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("feed: dial ws %s: %w", url, err)
	}
	conn.SetReadLimit(maxLineBytes)
	logger.Info("connected to feed")
	return &WSSource{conn: conn, codec: codec, logger: logger}, nil
}

// Next returns the next decoded tick.
func (s *WSSource) Next(ctx context.Context) (domain.Tick, error) {
	if s.done {
		return domain.Tick{}, ErrEndOfData
	}
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return domain.Tick{}, ctxErr
			}
			s.done = true
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				s.logger.Warn("feed closed without EOD marker, treating as end of data")
				return domain.Tick{}, ErrEndOfData
			}
			return domain.Tick{}, fmt.Errorf("feed: ws read: %w: %v", domain.ErrWSDisconnect, err)
		}
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			continue
		}
		if msg == EODMarker {
			s.done = true
			s.logger.Info("received EOD marker")
			return domain.Tick{}, ErrEndOfData
		}
		return s.codec.DecodeLine([]byte(msg))
	}
}

// Close sends a close frame and closes the connection.
func (s *WSSource) Close() error {
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return s.conn.Close()
}
