// Package app wires the simulator together: backends from config, the feed
// source, strategies, the position store with its event sinks, and the
// optional reporting server. It then runs the configured mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/tickbot/internal/config"
)

// App holds the configuration and whatever Close has to release.
type App struct {
	cfg *config.Config
	// base is handed to subsystems, which tag their own component.
	base    *slog.Logger
	logger  *slog.Logger
	closers []func()
}

// New creates an App.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		base:   logger,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires the dependencies and runs the configured mode until the feed
// ends (simulate) or ctx is cancelled (monitor).
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "tickbot starting",
		slog.String("mode", a.cfg.Mode),
		slog.String("run_name", a.cfg.RunName),
		slog.String("feed", a.cfg.Feed.Type),
		slog.Any("config", config.RedactedConfig(a.cfg)),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.base)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	run, ok := a.modes()[strings.ToLower(a.cfg.Mode)]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
	return run(ctx, deps)
}

func (a *App) modes() map[string]func(context.Context, *Dependencies) error {
	return map[string]func(context.Context, *Dependencies) error{
		"simulate": a.SimulateMode,
		"monitor":  a.MonitorMode,
	}
}

// Close releases every backend. Calling it twice is a no-op.
func (a *App) Close() {
	a.logger.Info("releasing backends", slog.Int("count", len(a.closers)))
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
