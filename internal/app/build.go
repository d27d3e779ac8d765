package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/tickbot/internal/feed"
	"github.com/alanyoungcy/tickbot/internal/strategy"
)

// newSource opens the tick source selected by feed.type.
func (a *App) newSource(ctx context.Context, deps *Dependencies) (feed.Source, error) {
	fc := a.cfg.Feed
	loc := time.UTC
	if fc.Timezone != "" {
		l, err := time.LoadLocation(fc.Timezone)
		if err != nil {
			return nil, fmt.Errorf("app: feed timezone: %w", err)
		}
		loc = l
	}
	codec := feed.Codec{Symbol: fc.Symbol, Location: loc}
	dial := feed.DialOptions{Attempts: fc.DialAttempts, Backoff: fc.DialBackoff.Duration}

	switch strings.ToLower(fc.Type) {
	case "tcp":
		return feed.DialTCP(ctx, fc.Addr, dial, codec, a.base)
	case "ws":
		return feed.DialWS(ctx, fc.URL, dial, codec, a.base)
	case "csv":
		return feed.OpenCSVFile(fc.Path, codec)
	case "s3":
		if deps.BlobReader == nil {
			return nil, errors.New("app: feed type s3 needs s3.enabled")
		}
		return feed.OpenCSVBlob(ctx, deps.BlobReader, fc.S3Key, codec, a.base)
	case "redis":
		if deps.SignalBus == nil {
			return nil, errors.New("app: feed type redis needs redis.enabled")
		}
		return feed.NewStreamSource(deps.SignalBus, fc.Stream, codec, a.base), nil
	}
	return nil, fmt.Errorf("app: unknown feed type %q", fc.Type)
}

// newRegistry registers every known strategy with its configured params.
// Strategies consult view before emitting so they do not stack signals on
// a symbol that already has an open position.
func (a *App) newRegistry(view strategy.PositionView) *strategy.Registry {
	sc := a.cfg.Strategy
	reg := strategy.NewRegistry()

	boll := strategy.NewBollingerMeanReversion(strategy.Config{
		Name:   "bollinger_mean_reversion",
		Size:   sc.Size,
		Params: sc.Bollinger.Params(),
	}, view, a.base)
	reg.MustRegister(boll)

	fade := strategy.NewVolumeFade(strategy.Config{
		Name:   "volume_fade",
		Size:   sc.Size,
		Params: sc.VolumeFade.Params(),
	}, view, a.base)
	reg.MustRegister(fade)

	return reg
}
