package feed

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tickbot/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const priceCSV = "SYMBOL ,DATE ,CLOSE PRICE \n" +
	"X,2025-07-04,111\n" +
	"X,2025-07-01,100\n" +
	"X,2025-07-03,108\n" +
	"X,2025-07-02,103\n"

func newReplay(t *testing.T, opts ReplayOptions) *ReplayServer {
	t.Helper()
	table, err := ReadTable(strings.NewReader(priceCSV), Codec{})
	require.NoError(t, err)
	return NewReplayServer(table, opts, discardLogger())
}

func drain(t *testing.T, src Source) []domain.Tick {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var out []domain.Tick
	for {
		tick, err := src.Next(ctx)
		if err == ErrEndOfData {
			return out
		}
		require.NoError(t, err)
		out = append(out, tick)
	}
}

func prices(ticks []domain.Tick) []float64 {
	out := make([]float64, len(ticks))
	for i, tk := range ticks {
		out[i] = tk.Price
	}
	return out
}

func TestReplayEncodeRowOverridesAndRestamps(t *testing.T) {
	t.Parallel()

	s := newReplay(t, ReplayOptions{Symbol: "NIFTY_CE", Restamp: true})
	s.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	line, err := s.encodeRow(0)
	require.NoError(t, err)

	var obj map[string]string
	require.NoError(t, json.Unmarshal(line, &obj))
	assert.Equal(t, "NIFTY_CE", obj["SYMBOL "])
	assert.Equal(t, "2026-01-02 03:04:05", obj["DATE "])
	assert.Equal(t, "100", obj["CLOSE PRICE "])
}

func TestReplayOverTCP(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := newReplay(t, ReplayOptions{Once: true})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, s.ServeTCP(ctx, ln))
	}()

	src, err := DialTCP(ctx, ln.Addr().String(), DialOptions{Attempts: 3, Backoff: 10 * time.Millisecond}, Codec{}, discardLogger())
	require.NoError(t, err)
	defer src.Close()

	ticks := drain(t, src)
	assert.Equal(t, []float64{100, 103, 108, 111}, prices(ticks))
	assert.Equal(t, "X", ticks[0].Symbol)

	wg.Wait()
	assert.Equal(t, int64(1), s.Served())

	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, ErrEndOfData)
}

func TestReplayPacing(t *testing.T) {
	t.Parallel()

	s := newReplay(t, ReplayOptions{Interval: 20 * time.Millisecond})
	start := time.Now()
	var lines int
	require.NoError(t, s.stream(context.Background(), func([]byte) error {
		lines++
		return nil
	}))
	assert.Equal(t, 5, lines)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestReplayOverWebSocket(t *testing.T) {
	t.Parallel()

	s := newReplay(t, ReplayOptions{})
	srv := httptest.NewServer(s)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	src, err := DialWS(context.Background(), url, DialOptions{}, Codec{}, discardLogger())
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, []float64{100, 103, 108, 111}, prices(drain(t, src)))
}

func TestTCPSourceWithoutEODMarker(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		_, _ = conn.Write([]byte("{\"symbol\":\"X\",\"price\":5,\"time\":\"2025-01-01\"}\n\ngarbage\n"))
		_ = conn.Close()
	}()

	src, err := DialTCP(context.Background(), ln.Addr().String(), DialOptions{}, Codec{}, discardLogger())
	require.NoError(t, err)
	defer src.Close()

	ctx := context.Background()
	tick, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5.0, tick.Price)

	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, ErrBadRecord)

	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, ErrEndOfData)
}

func TestTCPSourceCancel(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(2 * time.Second)
	}()

	src, err := DialTCP(context.Background(), ln.Addr().String(), DialOptions{}, Codec{}, discardLogger())
	require.NoError(t, err)
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type memBus struct {
	mu     sync.Mutex
	stream []domain.StreamMessage
}

func (b *memBus) Publish(context.Context, string, []byte) error { return nil }


func (b *memBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := time.Duration(len(b.stream) + 1).String()
	b.stream = append(b.stream, domain.StreamMessage{ID: id, Payload: append([]byte(nil), payload...)})
	return nil
}

func (b *memBus) StreamRead(_ context.Context, _ string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	start := 0
	for i, m := range b.stream {
		if m.ID == lastID {
			start = i + 1
		}
	}
	end := start + count
	if end > len(b.stream) {
		end = len(b.stream)
	}
	return append([]domain.StreamMessage(nil), b.stream[start:end]...), nil
}

func TestReplayThroughStream(t *testing.T) {
	t.Parallel()

	bus := &memBus{}
	s := newReplay(t, ReplayOptions{Symbol: "Y"})
	require.NoError(t, s.PublishStream(context.Background(), bus, "ticks:test"))

	src := NewStreamSource(bus, "ticks:test", Codec{}, discardLogger())
	src.batch = 2
	ticks := drain(t, src)
	assert.Equal(t, []float64{100, 103, 108, 111}, prices(ticks))
	assert.Equal(t, "Y", ticks[3].Symbol)
}
