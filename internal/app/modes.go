package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tickbot/internal/domain"
	"github.com/alanyoungcy/tickbot/internal/events"
	"github.com/alanyoungcy/tickbot/internal/feed"
	"github.com/alanyoungcy/tickbot/internal/position"
	"github.com/alanyoungcy/tickbot/internal/server"
	"github.com/alanyoungcy/tickbot/internal/server/handler"
	"github.com/alanyoungcy/tickbot/internal/server/ws"
	"github.com/alanyoungcy/tickbot/internal/strategy"
)

const (
	persistTimeout  = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

// SimulateMode replays the feed to end of data, reports and returns.
func (a *App) SimulateMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting simulate mode")
	return a.simulate(ctx, deps, false)
}

// MonitorMode replays the feed like SimulateMode, then keeps the reporting
// API up with the final state until ctx is cancelled.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	return a.simulate(ctx, deps, true)
}

func (a *App) simulate(ctx context.Context, deps *Dependencies, serveAfterEOD bool) error {
	if deps.LockManager != nil {
		unlock, err := deps.LockManager.Acquire(ctx, "run:"+a.cfg.RunName, a.cfg.Redis.LockTTL.Duration)
		if err != nil {
			return fmt.Errorf("app: run lock %q: %w", a.cfg.RunName, err)
		}
		defer unlock()
	}

	run := domain.Run{
		ID:         uuid.NewString(),
		Name:       a.cfg.RunName,
		Mode:       a.cfg.Mode,
		FeedType:   a.cfg.Feed.Type,
		Strategies: a.cfg.Strategy.Active,
		State:      domain.RunStateRunning,
		StartedAt:  time.Now().UTC(),
	}
	logger := a.base.With(slog.String("run_id", run.ID))
	journaled := false
	if deps.RunStore != nil {
		if err := deps.RunStore.Create(ctx, run); err != nil {
			logger.WarnContext(ctx, "run journal unavailable", slog.String("error", err.Error()))
		} else {
			journaled = true
		}
	}
	// Set once the feed has run; persist journals the outcome from there.
	settled := false
	defer func() {
		if journaled && !settled {
			a.abandon(ctx, deps, logger, run.ID)
		}
	}()

	// Filled in below; the hub only reads it once clients connect.
	status := &runStatus{run: run}
	var hub *ws.Hub
	if a.cfg.Server.Enabled {
		hub = ws.NewHub(status, logger)
	}
	dispatcher := events.NewDispatcher(logger, a.sinks(deps, run, hub)...)
	store := position.NewStore(dispatcher)
	store.SetLogger(logger)
	engine := strategy.NewEngine(a.newRegistry(store), store, logger)
	if err := engine.SetActiveNames(a.cfg.Strategy.Active); err != nil {
		return fmt.Errorf("app: strategies: %w", err)
	}

	src, err := a.newSource(ctx, deps)
	if err != nil {
		return fmt.Errorf("app: feed: %w", err)
	}
	defer func() { _ = src.Close() }()

	driver := feed.NewDriver(src, store, engine, logger)
	if deps.PriceCache != nil {
		driver.SetPriceCache(deps.PriceCache)
	}
	status.store, status.engine, status.driver = store, engine, driver

	if err := engine.Start(ctx, a.cfg.Strategy.Concurrent); err != nil {
		return fmt.Errorf("app: start strategies: %w", err)
	}

	// The dispatcher outlives ctx so the finalized event is always delivered.
	go func() { _ = dispatcher.Run(context.WithoutCancel(ctx)) }()

	srvCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	g, gctx := errgroup.WithContext(srvCtx)
	if hub != nil {
		a.startServer(gctx, g, deps, store, engine, status, hub)
	}

	report, runErr := driver.Run(ctx)
	settled = true
	a.persist(ctx, deps, logger, run, report, runErr)

	dispatcher.Close()
	<-dispatcher.Done()

	if serveAfterEOD && a.cfg.Server.Enabled && ctx.Err() == nil {
		logger.InfoContext(ctx, "feed finished, serving final state until interrupted",
			slog.Int("port", a.cfg.Server.Port),
		)
		<-ctx.Done()
	}
	stopServer()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.ErrorContext(ctx, "server stopped with error", slog.String("error", err.Error()))
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// sinks builds the event sinks for the configured backends. The log sink is
// always first.
func (a *App) sinks(deps *Dependencies, run domain.Run, hub *ws.Hub) []events.Sink {
	sinks := []events.Sink{events.NewLogSink(a.base)}
	if deps.SignalBus != nil {
		sinks = append(sinks, events.NewBusSink(deps.SignalBus, a.cfg.Redis.EventsChannel, a.cfg.Redis.EventsStream))
	}
	if deps.Notifier != nil {
		sinks = append(sinks, events.NewNotifySink(deps.Notifier, run.Name))
	}
	if deps.AuditStore != nil {
		sinks = append(sinks, events.NewAuditSink(deps.AuditStore, run.ID))
	}
	if hub != nil {
		sinks = append(sinks, events.NewHubSink(hub))
	}
	return sinks
}

// abandon marks a journaled run failed when setup gave up before the feed
// ran, so its header does not stay running.
func (a *App) abandon(ctx context.Context, deps *Dependencies, logger *slog.Logger, runID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := deps.RunStore.Finish(ctx, runID, domain.RunStateFailed, domain.AggregateReport{}); err != nil {
		logger.ErrorContext(ctx, "journal failed setup", slog.String("error", err.Error()))
	}
}

// persist journals and archives the final report. Failures are logged; the
// report has already been produced and logged by then.
func (a *App) persist(ctx context.Context, deps *Dependencies, logger *slog.Logger, run domain.Run, report domain.AggregateReport, runErr error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	state := domain.RunStateFinished
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		state = domain.RunStateFailed
		logger.ErrorContext(ctx, "feed failed, report covers ticks seen so far",
			slog.String("error", runErr.Error()),
		)
		if deps.Notifier != nil {
			msg := fmt.Sprintf("feed error: %v\nfinal pnl=%g over %d trades", runErr, report.TotalPnL, report.Trades)
			if err := deps.Notifier.NotifyAll(ctx, "["+run.Name+"] run failed", msg); err != nil {
				logger.WarnContext(ctx, "failure notification not sent", slog.String("error", err.Error()))
			}
		}
	}

	if deps.RunStore != nil {
		if err := deps.RunStore.Finish(ctx, run.ID, state, report); err != nil {
			logger.ErrorContext(ctx, "journal run finish failed", slog.String("error", err.Error()))
		}
	}
	if deps.PositionStore != nil && len(report.Positions) > 0 {
		if err := deps.PositionStore.InsertBatch(ctx, run.ID, report.Positions); err != nil {
			logger.ErrorContext(ctx, "journal positions failed", slog.String("error", err.Error()))
		}
	}
	if deps.Archiver != nil {
		run.State = state
		prefix, err := deps.Archiver.ArchiveReport(ctx, run, report)
		if err != nil {
			logger.ErrorContext(ctx, "report archive failed", slog.String("error", err.Error()))
		} else {
			logger.InfoContext(ctx, "report archived", slog.String("prefix", prefix))
		}
	}
}

// startServer runs the reporting API in g until gctx is cancelled.
func (a *App) startServer(gctx context.Context, g *errgroup.Group, deps *Dependencies, store *position.Store, engine *strategy.Engine, status *runStatus, hub *ws.Hub) {
	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.Pingers, a.base),
		Status:    handler.NewStatusHandler(status),
		Positions: handler.NewPositionHandler(store, a.base),
		Strategy:  handler.NewStrategyHandler(engine),
	}
	if deps.RunStore != nil && deps.PositionStore != nil {
		handlers.Runs = handler.NewRunHandler(deps.RunStore, deps.PositionStore, a.base)
	}

	var limiter domain.RateLimiter
	if a.cfg.Server.RateLimit > 0 {
		limiter = deps.RateLimiter
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, limiter, a.base)

	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(ctx)
	})
}
