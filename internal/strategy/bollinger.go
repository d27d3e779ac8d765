package strategy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/markcheno/go-talib"

	"github.com/alanyoungcy/tickbot/internal/domain"
)

const (
	defaultBollingerWindow = 20
	defaultBollingerStdDev = 2.0
)

// BollingerMeanReversion fades closes that leave the Bollinger bands. A close
// above the upper band opens a short aiming back at the mean with a stop one
// standard deviation beyond the band; a close below the lower band mirrors it.
type BollingerMeanReversion struct {
	cfg     Config
	window  int
	numStd  float64
	tracker *Tracker
	view    PositionView
	logger  *slog.Logger
}

// NewBollingerMeanReversion creates the strategy. The following keys are read
// from cfg.Params:
//
//   - "window" (int): number of closes in the band. Defaults to 20.
//   - "num_std_dev" (float64): band width in standard deviations. Defaults to 2.
//
// view may be nil.
func NewBollingerMeanReversion(cfg Config, view PositionView, logger *slog.Logger) *BollingerMeanReversion {
	window := cfg.intParam("window", defaultBollingerWindow)
	if window < 2 {
		window = defaultBollingerWindow
	}
	return &BollingerMeanReversion{
		cfg:     cfg,
		window:  window,
		numStd:  cfg.floatParam("num_std_dev", defaultBollingerStdDev),
		tracker: NewTracker(window),
		view:    view,
		logger:  logger.With(slog.String("strategy", "bollinger_mean_reversion")),
	}
}

// Name returns the strategy identifier.
func (b *BollingerMeanReversion) Name() string { return "bollinger_mean_reversion" }

// Init performs one-time setup. It is a no-op.
func (b *BollingerMeanReversion) Init(_ context.Context) error { return nil }

// OnTick records the close and emits a signal when it lies outside the bands.
func (b *BollingerMeanReversion) OnTick(_ context.Context, tick domain.Tick) (*domain.Signal, error) {
	b.tracker.Track(tick.Symbol, tick.Price, tick.Time)
	if !b.tracker.Full(tick.Symbol) {
		return nil, nil
	}

	closes := b.tracker.Values(tick.Symbol)
	upper, middle, lower := talib.BBands(closes, b.window, b.numStd, b.numStd, talib.SMA)
	last := len(closes) - 1
	up, mean, low := upper[last], middle[last], lower[last]
	sigma := 0.0
	if b.numStd != 0 {
		sigma = (up - mean) / b.numStd
	}

	price := tick.Price
	var sig *domain.Signal
	switch {
	case price > up:
		sig = &domain.Signal{
			Direction: domain.DirectionShort,
			Target:    mean,
			StopLoss:  up + sigma,
			Reason:    fmt.Sprintf("close %.4f above upper band %.4f", price, up),
		}
	case price < low:
		sig = &domain.Signal{
			Direction: domain.DirectionLong,
			Target:    mean,
			StopLoss:  low - sigma,
			Reason:    fmt.Sprintf("close %.4f below lower band %.4f", price, low),
		}
	default:
		return nil, nil
	}

	if b.view != nil && b.view.HasOpen(tick.Symbol) {
		b.logger.Debug("band break ignored, position already open",
			slog.String("symbol", tick.Symbol),
			slog.Float64("price", price),
		)
		return nil, nil
	}

	sig.Symbol = tick.Symbol
	sig.EntryPrice = price
	sig.Size = b.cfg.Size
	sig.Source = b.Name()
	sig.CreatedAt = tick.Time

	b.logger.Info("bollinger signal",
		slog.String("symbol", tick.Symbol),
		slog.String("direction", string(sig.Direction)),
		slog.Float64("price", price),
		slog.Float64("mean", mean),
		slog.Float64("upper", up),
		slog.Float64("lower", low),
	)
	return sig, nil
}

// Close releases resources. There is nothing to release.
func (b *BollingerMeanReversion) Close() error { return nil }
