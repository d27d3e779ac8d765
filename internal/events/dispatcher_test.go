package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tickbot/internal/domain"
	"github.com/alanyoungcy/tickbot/internal/position"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordSink struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
	block  chan struct{}
}

func (r *recordSink) Name() string { return "record" }

func (r *recordSink) Handle(_ context.Context, evt domain.Event) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return r.err
}

func (r *recordSink) seqs() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint64, len(r.events))
	for i, e := range r.events {
		out[i] = e.Seq
	}
	return out
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	t.Parallel()

	sink := &recordSink{}
	d := NewDispatcher(discardLogger(), sink)
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(context.Background()) }()

	for i := uint64(1); i <= 100; i++ {
		d.Observe(domain.Event{Seq: i, Kind: domain.EventOpened})
	}
	d.Close()
	require.NoError(t, <-errCh)

	want := make([]uint64, 100)
	for i := range want {
		want[i] = uint64(i + 1)
	}
	assert.Equal(t, want, sink.seqs())
	assert.Equal(t, int64(100), d.Delivered())
}

func TestDispatcherObserveNeverBlocks(t *testing.T) {
	t.Parallel()

	sink := &recordSink{block: make(chan struct{})}
	d := NewDispatcher(discardLogger(), sink)
	go func() { _ = d.Run(context.Background()) }()

	done := make(chan struct{})
	go func() {
		for i := uint64(1); i <= 1000; i++ {
			d.Observe(domain.Event{Seq: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Observe blocked on a stalled sink")
	}
	close(sink.block)
	d.Close()
	<-d.Done()
	assert.Len(t, sink.seqs(), 1000)
}

func TestDispatcherDropsAfterClose(t *testing.T) {
	t.Parallel()

	sink := &recordSink{}
	d := NewDispatcher(discardLogger(), sink)
	d.Observe(domain.Event{Seq: 1})
	d.Close()
	d.Observe(domain.Event{Seq: 2})
	require.NoError(t, d.Run(context.Background()))
	assert.Equal(t, []uint64{1}, sink.seqs())
}

func TestDispatcherSinkErrorDoesNotStopDelivery(t *testing.T) {
	t.Parallel()

	failing := &recordSink{err: errors.New("down")}
	ok := &recordSink{}
	d := NewDispatcher(discardLogger(), failing, ok)
	d.Observe(domain.Event{Seq: 1})
	d.Observe(domain.Event{Seq: 2})
	d.Close()
	require.NoError(t, d.Run(context.Background()))

	assert.Equal(t, []uint64{1, 2}, ok.seqs())
	assert.Equal(t, int64(2), d.Failed())
}

func TestDispatcherDrainsOnCancel(t *testing.T) {
	t.Parallel()

	sink := &recordSink{}
	d := NewDispatcher(discardLogger(), sink)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Observe(domain.Event{Seq: 1})

	err := d.Run(ctx)
	// the queued event is delivered either before or after noticing the cancel
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, []uint64{1}, sink.seqs())
}

func TestDispatcherWithStore(t *testing.T) {
	t.Parallel()

	sink := &recordSink{}
	d := NewDispatcher(discardLogger(), sink)
	store := position.NewStore(d)
	go func() { _ = d.Run(context.Background()) }()

	at := time.Date(2025, 7, 1, 9, 15, 0, 0, time.UTC)
	_, err := store.Open(domain.Signal{Symbol: "X", Direction: domain.DirectionLong, EntryPrice: 100, Target: 110, StopLoss: 95}, at)
	require.NoError(t, err)
	_, err = store.Open(domain.Signal{Symbol: "X", Direction: domain.DirectionLong, EntryPrice: 100, Target: 110, StopLoss: 95}, at)
	require.Error(t, err)
	store.OnTick(domain.Tick{Symbol: "X", Price: 111, Time: at.Add(time.Minute)})
	store.Finalize(at.Add(time.Hour))
	d.Close()
	<-d.Done()

	require.Len(t, sink.events, 4)
	kinds := []domain.EventKind{sink.events[0].Kind, sink.events[1].Kind, sink.events[2].Kind, sink.events[3].Kind}
	assert.Equal(t, []domain.EventKind{domain.EventOpened, domain.EventRejected, domain.EventExited, domain.EventFinalized}, kinds)
	assert.Equal(t, []uint64{1, 2, 3, 4}, sink.seqs())
}

func TestLogSinkFinalizedWritesTradeLines(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))
	exit, pnl := 110.0, 10.0
	rep := &domain.AggregateReport{
		TotalPnL: 10, Trades: 1, Wins: 1,
		Positions: []domain.Position{{ID: 1, Symbol: "X", Status: domain.PositionStatusClosedTarget, EntryPrice: 100, ExitPrice: &exit, PnL: &pnl}},
	}
	require.NoError(t, sink.Handle(context.Background(), domain.Event{Seq: 3, Kind: domain.EventFinalized, Finalized: rep}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	var trade map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &trade))
	assert.Equal(t, "trade", trade["msg"])
	assert.Equal(t, "trade_log", trade["component"])
	assert.Equal(t, 10.0, trade["pnl"])
	assert.Contains(t, lines[1], `"total_pnl":10`)
}

func TestFormatEvent(t *testing.T) {
	t.Parallel()

	title, msg := FormatEvent(domain.Event{Kind: domain.EventExited, Exited: &domain.ExitEvent{
		PositionID: 7, Symbol: "X", Direction: domain.DirectionShort, Status: domain.PositionStatusClosedStop,
		EntryPrice: 100, ExitPrice: 105, PnL: -5,
	}})
	assert.Equal(t, "Position closed", title)
	assert.Equal(t, "X SHORT #7 CLOSED_STOP entry=100 exit=105 pnl=-5", msg)

	title, _ = FormatEvent(domain.Event{Kind: "unknown"})
	assert.Empty(t, title)
}
