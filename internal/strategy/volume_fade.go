package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/tickbot/internal/domain"
)

const (
	defaultVolumeWindow  = 10
	defaultMinGapPercent = 0.05
	defaultMinBodyRatio  = 0.10
	defaultMaxVolumeZ    = -1.5
	defaultMinRewardRisk = 1.5
	defaultOptionType    = "CE"
)

type candle struct {
	open, close float64
}

func (c candle) green() bool { return c.close > c.open }

// VolumeFade shorts call options that gap up into a large green candle on
// thin volume without fresh open interest, targeting a return to the prior
// close. Each tick is treated as one daily candle.
type VolumeFade struct {
	cfg           Config
	minGapPercent float64
	minBodyRatio  float64
	maxVolumeZ    float64
	minRewardRisk float64
	optionType    string

	volumes *Tracker
	prev    map[string]candle
	view    PositionView
	logger  *slog.Logger
}

// NewVolumeFade creates the strategy. Keys read from cfg.Params:
// "volume_window" (int, 10), "min_gap_percent" (float64, 0.05),
// "min_body_ratio" (float64, 0.10), "max_volume_z" (float64, -1.5),
// "min_reward_risk" (float64, 1.5) and "option_type" (string, "CE").
func NewVolumeFade(cfg Config, view PositionView, logger *slog.Logger) *VolumeFade {
	window := cfg.intParam("volume_window", defaultVolumeWindow)
	if window < 2 {
		window = defaultVolumeWindow
	}
	return &VolumeFade{
		cfg:           cfg,
		minGapPercent: cfg.floatParam("min_gap_percent", defaultMinGapPercent),
		minBodyRatio:  cfg.floatParam("min_body_ratio", defaultMinBodyRatio),
		maxVolumeZ:    cfg.floatParam("max_volume_z", defaultMaxVolumeZ),
		minRewardRisk: cfg.floatParam("min_reward_risk", defaultMinRewardRisk),
		optionType:    strings.ToUpper(cfg.stringParam("option_type", defaultOptionType)),
		volumes:       NewTracker(window),
		prev:          make(map[string]candle),
		view:          view,
		logger:        logger.With(slog.String("strategy", "volume_fade")),
	}
}

// Name returns the strategy identifier.
func (v *VolumeFade) Name() string { return "volume_fade" }

// Init performs one-time setup. It is a no-op.
func (v *VolumeFade) Init(_ context.Context) error { return nil }

// OnTick evaluates the fade setup on the candle carried by tick.
func (v *VolumeFade) OnTick(_ context.Context, tick domain.Tick) (*domain.Signal, error) {
	cur := candle{open: tick.Open, close: tick.Price}
	v.volumes.Track(tick.Symbol, tick.Volume, tick.Time)

	prev, seen := v.prev[tick.Symbol]
	v.prev[tick.Symbol] = cur
	if !seen || !v.volumes.Full(tick.Symbol) || cur.open <= 0 {
		return nil, nil
	}

	volZ := v.volumes.ZScore(tick.Symbol)
	gapUp := cur.open > prev.close*(1+v.minGapPercent)
	body := cur.close - cur.open

	if !cur.green() ||
		body/cur.open <= v.minBodyRatio ||
		volZ >= v.maxVolumeZ ||
		tick.ChangeInOI > 0 ||
		strings.ToUpper(tick.OptionType) != v.optionType ||
		!prev.green() ||
		!gapUp {
		return nil, nil
	}

	target := prev.close
	stop := cur.close + body
	reward := cur.close - target
	risk := stop - cur.close
	if risk <= 0 || reward/risk <= v.minRewardRisk {
		return nil, nil
	}

	if v.view != nil && v.view.HasOpen(tick.Symbol) {
		v.logger.Debug("fade setup ignored, position already open", slog.String("symbol", tick.Symbol))
		return nil, nil
	}

	v.logger.Info("volume fade signal",
		slog.String("symbol", tick.Symbol),
		slog.Float64("close", cur.close),
		slog.Float64("volume_z", volZ),
		slog.Float64("reward_risk", reward/risk),
	)
	return &domain.Signal{
		Symbol:     tick.Symbol,
		Direction:  domain.DirectionShort,
		EntryPrice: cur.close,
		Target:     target,
		StopLoss:   stop,
		Size:       v.cfg.Size,
		Source:     v.Name(),
		Reason:     fmt.Sprintf("gap-up fade: vol_z=%.2f rr=%.2f", volZ, reward/risk),
		CreatedAt:  tick.Time,
	}, nil
}

// Close releases resources. There is nothing to release.
func (v *VolumeFade) Close() error { return nil }
