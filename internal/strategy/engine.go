package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tickbot/internal/domain"
)

// SignalSink receives the signals emitted by strategies. The position store
// satisfies it.
type SignalSink interface {
	Open(sig domain.Signal, at time.Time) (domain.PositionID, error)
}

// Engine drives the active strategies with ticks and forwards their signals
// to the sink. In both modes every strategy has processed a tick, and any
// signal it produced has reached the sink, before HandleTick returns. In
// concurrent mode the strategies of one tick run in parallel, one worker
// goroutine each.
type Engine struct {
	registry *Registry
	sink     SignalSink
	logger   *slog.Logger

	mu          sync.Mutex
	activeNames []string
	active      []Strategy
	concurrent  bool
	jobs        map[string]chan tickJob
	group       *errgroup.Group
	running     bool
	info        map[string]*StrategyInfo

	recentSignals []domain.Signal
	recentLimit   int
}

// tickJob hands one tick to a worker. The worker sends on done once the
// tick's signal, if any, has been submitted.
type tickJob struct {
	tick domain.Tick
	done chan<- struct{}
}

// NewEngine creates an Engine forwarding signals to sink.
func NewEngine(registry *Registry, sink SignalSink, logger *slog.Logger) *Engine {
	return &Engine{
		registry:    registry,
		sink:        sink,
		logger:      logger.With(slog.String("component", "strategy_engine")),
		info:        make(map[string]*StrategyInfo),
		recentLimit: 500,
	}
}

// SetActiveNames selects the strategies that receive ticks. Names must be
// registered and the engine must not be running.
func (e *Engine) SetActiveNames(names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("active names cannot be empty")
	}
	active := make([]Strategy, 0, len(names))
	for _, name := range names {
		s, err := e.registry.Get(name)
		if err != nil {
			return fmt.Errorf("set active strategies: %w", err)
		}
		active = append(active, s)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return fmt.Errorf("set active strategies: engine is running")
	}
	e.activeNames = append([]string(nil), names...)
	e.active = active
	e.info = make(map[string]*StrategyInfo, len(names))
	for _, name := range names {
		e.info[name] = &StrategyInfo{Name: name, Status: "pending"}
	}
	e.logger.Info("active strategies set", slog.Any("strategies", names))
	return nil
}

// ActiveNames returns the selected strategy names.
func (e *Engine) ActiveNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.activeNames...)
}

// ListNames returns the names of all registered strategies in sorted order.
func (e *Engine) ListNames() []string {
	return e.registry.List()
}

// Start initialises every active strategy and, when concurrent is set, starts
// one worker goroutine per strategy.
func (e *Engine) Start(ctx context.Context, concurrent bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return fmt.Errorf("strategy engine already running")
	}
	if len(e.active) == 0 {
		return fmt.Errorf("no active strategies set")
	}
	for _, s := range e.active {
		if err := s.Init(ctx); err != nil {
			e.info[s.Name()].Status = "error"
			return fmt.Errorf("strategy %s init: %w", s.Name(), err)
		}
		e.info[s.Name()].Status = "running"
	}

	e.concurrent = concurrent
	e.running = true
	if !concurrent {
		e.logger.Info("strategy engine started", slog.Bool("concurrent", false))
		return nil
	}

	e.jobs = make(map[string]chan tickJob, len(e.active))
	var g errgroup.Group
	for i, s := range e.active {
		name := e.activeNames[i]
		ch := make(chan tickJob, 1)
		e.jobs[name] = ch
		g.Go(func() error {
			return e.runStrategy(ctx, name, s, ch)
		})
	}
	e.group = &g
	e.logger.Info("strategy engine started",
		slog.Bool("concurrent", true),
		slog.Any("strategies", e.activeNames),
	)
	return nil
}

// HandleTick feeds tick to every active strategy and returns once all of
// them are done with it, so positions they open see the next tick.
func (e *Engine) HandleTick(ctx context.Context, tick domain.Tick) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return fmt.Errorf("strategy engine not running")
	}
	concurrent := e.concurrent
	names := e.activeNames
	active := e.active
	jobs := e.jobs
	e.mu.Unlock()

	if !concurrent {
		for i, s := range active {
			e.process(ctx, names[i], s, tick)
		}
		return nil
	}

	done := make(chan struct{}, len(names))
	for _, name := range names {
		select {
		case jobs[name] <- tickJob{tick: tick, done: done}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for range names {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Stop closes the worker channels, waits for the workers to exit and closes
// every strategy.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	for _, ch := range e.jobs {
		close(ch)
	}
	e.jobs = nil
	group := e.group
	e.group = nil
	active := e.active
	e.mu.Unlock()

	var errs []error
	if group != nil {
		if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
	}
	for _, s := range active {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("strategy %s close: %w", s.Name(), err))
		}
	}

	e.mu.Lock()
	for _, info := range e.info {
		if info.Status == "running" {
			info.Status = "stopped"
		}
	}
	e.mu.Unlock()
	e.logger.Info("strategy engine stopped")
	return errors.Join(errs...)
}

// Info returns runtime counters for the active strategies.
func (e *Engine) Info() []StrategyInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]StrategyInfo, 0, len(e.activeNames))
	for _, name := range e.activeNames {
		info := *e.info[name]
		if info.LastSignal != nil {
			ts := *info.LastSignal
			info.LastSignal = &ts
		}
		out = append(out, info)
	}
	return out
}

// RecentSignals returns up to limit most recent emitted signals in reverse
// chronological order (newest first).
func (e *Engine) RecentSignals(limit int) []domain.Signal {
	if limit <= 0 {
		limit = 20
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.recentSignals)
	if limit > n {
		limit = n
	}
	out := make([]domain.Signal, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, e.recentSignals[i])
	}
	return out
}

// runStrategy consumes ticks for one strategy until its channel is closed.
func (e *Engine) runStrategy(ctx context.Context, name string, s Strategy, jobs <-chan tickJob) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job, ok := <-jobs:
			if !ok {
				return nil
			}
			e.process(ctx, name, s, job.tick)
			job.done <- struct{}{}
		}
	}
}

// process runs one strategy on one tick and forwards the signal, if any.
func (e *Engine) process(ctx context.Context, name string, s Strategy, tick domain.Tick) {
	e.bump(name, func(info *StrategyInfo) { info.TicksSeen++ })

	sig, err := s.OnTick(ctx, tick)
	if err != nil {
		e.bump(name, func(info *StrategyInfo) { info.ErrorCount++ })
		e.logger.Warn("strategy OnTick error",
			slog.String("strategy", name),
			slog.String("symbol", tick.Symbol),
			slog.String("error", err.Error()),
		)
		return
	}
	if sig == nil {
		return
	}
	if sig.Source == "" {
		sig.Source = name
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = tick.Time
	}
	e.rememberSignal(name, *sig)

	id, err := e.sink.Open(*sig, tick.Time)
	if err != nil {
		e.bump(name, func(info *StrategyInfo) { info.Rejected++ })
		e.logger.Debug("signal not opened",
			slog.String("strategy", name),
			slog.String("symbol", sig.Symbol),
			slog.String("error", err.Error()),
		)
		return
	}
	e.logger.Debug("signal opened",
		slog.String("strategy", name),
		slog.String("symbol", sig.Symbol),
		slog.Uint64("position_id", uint64(id)),
	)
}

func (e *Engine) bump(name string, fn func(*StrategyInfo)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if info, ok := e.info[name]; ok {
		fn(info)
	}
}

func (e *Engine) rememberSignal(name string, sig domain.Signal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recentSignals = append(e.recentSignals, sig)
	if overflow := len(e.recentSignals) - e.recentLimit; overflow > 0 {
		e.recentSignals = append([]domain.Signal(nil), e.recentSignals[overflow:]...)
	}
	if info, ok := e.info[name]; ok {
		info.SignalsSent++
		ts := sig.CreatedAt
		info.LastSignal = &ts
	}
}
