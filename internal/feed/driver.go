package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/tickbot/internal/domain"
)

// PositionBook evaluates exits on every tick and closes out at end of data.
type PositionBook interface {
	OnTick(tick domain.Tick) []domain.ExitEvent
	Finalize(at time.Time) domain.AggregateReport
}

// TickHandler runs strategies over ticks. HandleTick returns once every
// signal for the tick has reached the book.
type TickHandler interface {
	HandleTick(ctx context.Context, tick domain.Tick) error
	Stop() error
}

// Driver pumps ticks from a Source. Each tick first goes to the position
// book, so exits are evaluated before strategies can open on the same tick,
// and then to the strategy engine. At end of data, on a transport failure
// or on cancellation the engine is drained and the book finalized, so a
// report is always produced.
type Driver struct {
	src    Source
	book   PositionBook
	engine TickHandler
	prices domain.PriceCache
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	lastSeen map[string]time.Time
	lastTick time.Time

	ticks   atomic.Int64
	skipped atomic.Int64
	stale   atomic.Int64
	exits   atomic.Int64
}

// NewDriver creates a Driver.
func NewDriver(src Source, book PositionBook, engine TickHandler, logger *slog.Logger) *Driver {
	return &Driver{
		src:      src,
		book:     book,
		engine:   engine,
		logger:   logger.With(slog.String("component", "feed_driver")),
		now:      func() time.Time { return time.Now().UTC() },
		lastSeen: make(map[string]time.Time),
	}
}

// SetPriceCache mirrors every delivered price into cache.
func (d *Driver) SetPriceCache(cache domain.PriceCache) {
	d.prices = cache
}

// Run consumes the source until end of data and returns the final report.
// The error is nil at a clean end of data.
func (d *Driver) Run(ctx context.Context) (domain.AggregateReport, error) {
	d.logger.Info("feed driver started")
	runErr := d.pump(ctx)

	if err := d.engine.Stop(); err != nil {
		d.logger.Warn("strategy engine stop failed", slog.String("error", err.Error()))
	}

	d.mu.Lock()
	at := d.lastTick
	d.mu.Unlock()
	if at.IsZero() {
		at = d.now()
	}
	report := d.book.Finalize(at)

	d.logger.Info("feed driver finished",
		slog.Int64("ticks", d.ticks.Load()),
		slog.Int64("skipped", d.skipped.Load()),
		slog.Int64("stale", d.stale.Load()),
		slog.Int64("exits", d.exits.Load()),
		slog.Float64("total_pnl", report.TotalPnL),
	)
	return report, runErr
}

func (d *Driver) pump(ctx context.Context) error {
	for {
		tick, err := d.src.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrEndOfData):
			return nil
		case errors.Is(err, ErrBadRecord):
			d.skipped.Add(1)
			d.logger.Warn("undecodable feed record skipped", slog.String("error", err.Error()))
			continue
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			return fmt.Errorf("feed: driver: %w", err)
		}

		if !d.accept(tick) {
			continue
		}

		exits := d.book.OnTick(tick)
		d.exits.Add(int64(len(exits)))

		if d.prices != nil {
			if err := d.prices.SetPrice(ctx, tick.Symbol, tick.Price, tick.Time); err != nil {
				d.logger.Warn("price cache update failed",
					slog.String("symbol", tick.Symbol),
					slog.String("error", err.Error()),
				)
			}
		}

		if err := d.engine.HandleTick(ctx, tick); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("feed: driver: handle tick: %w", err)
		}
		d.ticks.Add(1)
	}
}

// accept enforces non-decreasing timestamps per symbol.
func (d *Driver) accept(tick domain.Tick) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if last, ok := d.lastSeen[tick.Symbol]; ok && tick.Time.Before(last) {
		d.stale.Add(1)
		d.logger.Warn("out-of-order tick dropped",
			slog.String("symbol", tick.Symbol),
			slog.Time("tick_time", tick.Time),
			slog.Time("last_time", last),
		)
		return false
	}
	d.lastSeen[tick.Symbol] = tick.Time
	if tick.Time.After(d.lastTick) {
		d.lastTick = tick.Time
	}
	return true
}

// Ticks returns how many ticks were delivered to the strategies.
func (d *Driver) Ticks() int64 { return d.ticks.Load() }

// Skipped returns how many records were dropped as undecodable or stale.
func (d *Driver) Skipped() int64 { return d.skipped.Load() + d.stale.Load() }
