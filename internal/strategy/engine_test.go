package strategy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tickbot/internal/domain"
)

// scripted emits a LONG signal whenever it sees a tick at trigger.
type scripted struct {
	name    string
	trigger float64
	fail    float64
	delay   time.Duration
	inited  bool
	closed  bool
	mu      sync.Mutex
	seen    []float64
}

func (s *scripted) Name() string { return s.name }

func (s *scripted) Init(context.Context) error {
	s.inited = true
	return nil
}

func (s *scripted) OnTick(_ context.Context, tick domain.Tick) (*domain.Signal, error) {
	s.mu.Lock()
	s.seen = append(s.seen, tick.Price)
	s.mu.Unlock()
	time.Sleep(s.delay)
	if tick.Price == s.fail {
		return nil, errors.New("boom")
	}
	if tick.Price != s.trigger {
		return nil, nil
	}
	return &domain.Signal{
		Symbol:     tick.Symbol,
		Direction:  domain.DirectionLong,
		EntryPrice: tick.Price,
		Target:     tick.Price + 10,
		StopLoss:   tick.Price - 5,
	}, nil
}

func (s *scripted) Close() error {
	s.closed = true
	return nil
}

type sinkRecorder struct {
	mu      sync.Mutex
	signals []domain.Signal
	reject  bool
}

func (r *sinkRecorder) Open(sig domain.Signal, _ time.Time) (domain.PositionID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reject {
		return 0, &domain.RejectError{Reason: domain.RejectSymbolAlreadyOpen, Symbol: sig.Symbol}
	}
	r.signals = append(r.signals, sig)
	return domain.PositionID(len(r.signals)), nil
}

func ticks(prices ...float64) []domain.Tick {
	ts := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.Tick, len(prices))
	for i, p := range prices {
		out[i] = domain.Tick{Symbol: "X", Price: p, Time: ts.Add(time.Duration(i) * time.Minute)}
	}
	return out
}

func newTestEngine(t *testing.T, sink SignalSink, strats ...*scripted) *Engine {
	t.Helper()
	reg := NewRegistry()
	names := make([]string, 0, len(strats))
	for _, s := range strats {
		require.NoError(t, reg.Register(s))
		names = append(names, s.name)
	}
	e := NewEngine(reg, sink, discardLogger())
	require.NoError(t, e.SetActiveNames(names))
	return e
}

func TestEngineSequential(t *testing.T) {
	t.Parallel()

	sink := &sinkRecorder{}
	a := &scripted{name: "a", trigger: 100, fail: 103}
	e := newTestEngine(t, sink, a)

	require.NoError(t, e.Start(context.Background(), false))
	assert.True(t, a.inited)
	for _, tk := range ticks(100, 103, 108) {
		require.NoError(t, e.HandleTick(context.Background(), tk))
	}
	require.NoError(t, e.Stop())
	assert.True(t, a.closed)

	require.Len(t, sink.signals, 1)
	assert.Equal(t, "a", sink.signals[0].Source)
	assert.Equal(t, ticks(100)[0].Time, sink.signals[0].CreatedAt)

	info := e.Info()
	require.Len(t, info, 1)
	assert.Equal(t, int64(3), info[0].TicksSeen)
	assert.Equal(t, int64(1), info[0].SignalsSent)
	assert.Equal(t, int64(1), info[0].ErrorCount)
	assert.Equal(t, "stopped", info[0].Status)

	recent := e.RecentSignals(10)
	require.Len(t, recent, 1)
	assert.Equal(t, 100.0, recent[0].EntryPrice)
}

func TestEngineConcurrentDeliversEveryTick(t *testing.T) {
	t.Parallel()

	sink := &sinkRecorder{}
	a := &scripted{name: "a", trigger: 42}
	b := &scripted{name: "b", trigger: 43}
	e := newTestEngine(t, sink, a, b)

	require.NoError(t, e.Start(context.Background(), true))
	prices := make([]float64, 0, 500)
	for i := 0; i < 500; i++ {
		prices = append(prices, float64(i))
	}
	for _, tk := range ticks(prices...) {
		require.NoError(t, e.HandleTick(context.Background(), tk))
	}
	require.NoError(t, e.Stop())

	assert.Equal(t, prices, a.seen)
	assert.Equal(t, prices, b.seen)
	assert.Len(t, sink.signals, 2)
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestEngineConcurrentWaitsForSlowStrategy(t *testing.T) {
	t.Parallel()

	sink := &sinkRecorder{}
	slow := &scripted{name: "slow", trigger: 100, delay: 20 * time.Millisecond}
	fast := &scripted{name: "fast", trigger: -1}
	e := newTestEngine(t, sink, slow, fast)
	require.NoError(t, e.Start(context.Background(), true))
	t.Cleanup(func() { _ = e.Stop() })

	require.NoError(t, e.HandleTick(context.Background(), ticks(100)[0]))
	sink.mu.Lock()
	opened := len(sink.signals)
	sink.mu.Unlock()
	assert.Equal(t, 1, opened, "signal submitted before HandleTick returned")
}

func TestEngineConcurrentHonoursCancel(t *testing.T) {
	t.Parallel()

	slow := &scripted{name: "slow", delay: 200 * time.Millisecond}
	e := newTestEngine(t, &sinkRecorder{}, slow)
	require.NoError(t, e.Start(context.Background(), true))
	t.Cleanup(func() { _ = e.Stop() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, e.HandleTick(ctx, ticks(1)[0]), context.DeadlineExceeded)
}

func TestEngineCountsRejections(t *testing.T) {
	t.Parallel()

	sink := &sinkRecorder{reject: true}
	a := &scripted{name: "a", trigger: 1}
	e := newTestEngine(t, sink, a)
	require.NoError(t, e.Start(context.Background(), false))
	require.NoError(t, e.HandleTick(context.Background(), ticks(1)[0]))
	require.NoError(t, e.Stop())

	assert.Equal(t, int64(1), e.Info()[0].Rejected)
}

func TestEngineRequiresStart(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, &sinkRecorder{}, &scripted{name: "a"})
	assert.Error(t, e.HandleTick(context.Background(), ticks(1)[0]))
	assert.NoError(t, e.Stop())
}

func TestEngineUnknownStrategy(t *testing.T) {
	t.Parallel()

	e := NewEngine(NewRegistry(), &sinkRecorder{}, discardLogger())
	assert.Error(t, e.SetActiveNames([]string{"missing"}))
	assert.Error(t, e.SetActiveNames(nil))
}

func TestRegistryRejectsDuplicateName(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.NoError(t, reg.Register(&scripted{name: "a"}))
	assert.Error(t, reg.Register(&scripted{name: "a"}))
	assert.Panics(t, func() { reg.MustRegister(&scripted{name: "a"}) })

	_, err := reg.Get("b")
	assert.ErrorIs(t, err, ErrUnknownStrategy)
	assert.Equal(t, []string{"a"}, reg.List())
}
