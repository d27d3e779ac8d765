package strategy

import (
	"context"

	"github.com/alanyoungcy/tickbot/internal/domain"
)

// Strategy consumes ticks and emits at most one signal per tick. An instance
// is driven by one goroutine at a time.
type Strategy interface {
	Name() string
	Init(ctx context.Context) error
	OnTick(ctx context.Context, tick domain.Tick) (*domain.Signal, error)
	Close() error
}

// PositionView lets a strategy check for an open position before emitting.
type PositionView interface {
	HasOpen(symbol string) bool
}

// Config holds strategy configuration.
type Config struct {
	Name   string
	Size   float64
	Params map[string]any
}

func (c Config) floatParam(key string, def float64) float64 {
	switch v := c.Params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

func (c Config) intParam(key string, def int) int {
	switch v := c.Params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func (c Config) stringParam(key string, def string) string {
	if v, ok := c.Params[key].(string); ok && v != "" {
		return v
	}
	return def
}
