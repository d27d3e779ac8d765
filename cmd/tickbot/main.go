// Command tickbot replays a tick feed through the configured strategies,
// tracks the resulting positions to their exits and reports realized PnL.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/alanyoungcy/tickbot/internal/app"
	"github.com/alanyoungcy/tickbot/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tickbot: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "config.toml", "path to configuration file (empty for defaults)")
		mode       = flag.String("mode", "", "override the configured mode (simulate, monitor)")
		logLevel   = flag.String("log-level", "", "override the configured log level")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", *configPath, err)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level(cfg.LogLevel)}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := app.New(cfg, logger)
	err = a.Run(ctx)
	a.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("run failed", slog.String("error", err.Error()))
		return err
	}
	logger.Info("tickbot stopped")
	return nil
}

// level maps debug, info, warn and error; anything else is info.
func level(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
