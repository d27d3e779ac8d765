package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/alanyoungcy/tickbot/internal/domain"
)

// Default bus names for published events.
const (
	DefaultChannel = "positions"
	DefaultStream  = "events"
)

// LogSink writes one structured log line per event, and one line per
// position when the run is finalized.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With(slog.String("component", "trade_log"))}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Handle(ctx context.Context, evt domain.Event) error {
	switch evt.Kind {
	case domain.EventOpened:
		p := evt.Opened
		s.logger.InfoContext(ctx, "position opened",
			slog.Uint64("seq", evt.Seq),
			slog.Uint64("id", uint64(p.ID)),
			slog.String("symbol", p.Symbol),
			slog.String("direction", string(p.Direction)),
			slog.Float64("entry", p.EntryPrice),
			slog.Float64("target", p.Target),
			slog.Float64("stop_loss", p.StopLoss),
			slog.String("strategy", p.Strategy),
		)
	case domain.EventExited:
		x := evt.Exited
		s.logger.InfoContext(ctx, "position closed",
			slog.Uint64("seq", evt.Seq),
			slog.Uint64("id", uint64(x.PositionID)),
			slog.String("symbol", x.Symbol),
			slog.String("status", string(x.Status)),
			slog.Float64("entry", x.EntryPrice),
			slog.Float64("exit", x.ExitPrice),
			slog.Float64("pnl", x.PnL),
		)
	case domain.EventRejected:
		r := evt.Rejected
		s.logger.WarnContext(ctx, "signal rejected",
			slog.Uint64("seq", evt.Seq),
			slog.String("symbol", r.Signal.Symbol),
			slog.String("source", r.Signal.Source),
			slog.String("reason", string(r.Reason)),
			slog.String("detail", r.Detail),
		)
	case domain.EventFinalized:
		rep := evt.Finalized
		for _, p := range rep.Positions {
			attrs := []any{
				slog.Uint64("id", uint64(p.ID)),
				slog.String("symbol", p.Symbol),
				slog.String("direction", string(p.Direction)),
				slog.String("status", string(p.Status)),
				slog.Float64("entry", p.EntryPrice),
			}
			if p.ExitPrice != nil && p.PnL != nil {
				attrs = append(attrs, slog.Float64("exit", *p.ExitPrice), slog.Float64("pnl", *p.PnL))
			}
			s.logger.InfoContext(ctx, "trade", attrs...)
		}
		s.logger.InfoContext(ctx, "run finalized",
			slog.Uint64("seq", evt.Seq),
			slog.Int("trades", rep.Trades),
			slog.Int("wins", rep.Wins),
			slog.Int("losses", rep.Losses),
			slog.Float64("total_pnl", rep.TotalPnL),
		)
	}
	return nil
}

// BusSink publishes every event as JSON to a Pub/Sub channel for live
// consumers and appends it to a stream for replay.
type BusSink struct {
	bus     domain.SignalBus
	channel string
	stream  string
}

// NewBusSink creates a BusSink. Empty names fall back to the defaults.
func NewBusSink(bus domain.SignalBus, channel, stream string) *BusSink {
	if channel == "" {
		channel = DefaultChannel
	}
	if stream == "" {
		stream = DefaultStream
	}
	return &BusSink{bus: bus, channel: channel, stream: stream}
}

func (s *BusSink) Name() string { return "bus" }

func (s *BusSink) Handle(ctx context.Context, evt domain.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("events: marshal event %d: %w", evt.Seq, err)
	}
	if err := s.bus.Publish(ctx, s.channel, payload); err != nil {
		return fmt.Errorf("events: bus sink: %w", err)
	}
	if err := s.bus.StreamAppend(ctx, s.stream, payload); err != nil {
		return fmt.Errorf("events: bus sink: %w", err)
	}
	return nil
}

// Notifier is the subset of notify.Notifier the notify sink uses.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// NotifySink turns events into human-readable notifications. The event
// type passed to the notifier is the event kind, so notifier filters such
// as ["exited","finalized"] apply directly.
type NotifySink struct {
	notifier Notifier
	runName  string
}

// NewNotifySink creates a NotifySink.
func NewNotifySink(n Notifier, runName string) *NotifySink {
	return &NotifySink{notifier: n, runName: runName}
}

func (s *NotifySink) Name() string { return "notify" }

func (s *NotifySink) Handle(ctx context.Context, evt domain.Event) error {
	title, msg := FormatEvent(evt)
	if title == "" {
		return nil
	}
	if s.runName != "" {
		title = "[" + s.runName + "] " + title
	}
	return s.notifier.Notify(ctx, string(evt.Kind), title, msg)
}

// FormatEvent renders a short title and body for evt.
func FormatEvent(evt domain.Event) (string, string) {
	switch evt.Kind {
	case domain.EventOpened:
		p := evt.Opened
		return "Position opened",
			fmt.Sprintf("%s %s #%d entry=%s target=%s stop=%s (%s)",
				p.Symbol, p.Direction, p.ID, num(p.EntryPrice), num(p.Target), num(p.StopLoss), p.Strategy)
	case domain.EventExited:
		x := evt.Exited
		return "Position closed",
			fmt.Sprintf("%s %s #%d %s entry=%s exit=%s pnl=%s",
				x.Symbol, x.Direction, x.PositionID, x.Status, num(x.EntryPrice), num(x.ExitPrice), num(x.PnL))
	case domain.EventRejected:
		r := evt.Rejected
		return "Signal rejected",
			fmt.Sprintf("%s from %s: %s %s", r.Signal.Symbol, r.Signal.Source, r.Reason, r.Detail)
	case domain.EventFinalized:
		rep := evt.Finalized
		return "Run finished",
			fmt.Sprintf("trades=%d wins=%d losses=%d total_pnl=%s",
				rep.Trades, rep.Wins, rep.Losses, num(rep.TotalPnL))
	}
	return "", ""
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// AuditSink journals every event for a run.
type AuditSink struct {
	store domain.AuditStore
	runID string
}

// NewAuditSink creates an AuditSink for runID.
func NewAuditSink(store domain.AuditStore, runID string) *AuditSink {
	return &AuditSink{store: store, runID: runID}
}

func (s *AuditSink) Name() string { return "audit" }

func (s *AuditSink) Handle(ctx context.Context, evt domain.Event) error {
	detail := map[string]any{"seq": evt.Seq, "at": evt.At}
	switch {
	case evt.Opened != nil:
		detail["position"] = evt.Opened
	case evt.Exited != nil:
		detail["exit"] = evt.Exited
	case evt.Rejected != nil:
		detail["rejection"] = evt.Rejected
	case evt.Finalized != nil:
		rep := evt.Finalized
		detail["total_pnl"] = rep.TotalPnL
		detail["trades"] = rep.Trades
	}
	if err := s.store.Log(ctx, s.runID, string(evt.Kind), detail); err != nil {
		return fmt.Errorf("events: audit sink: %w", err)
	}
	return nil
}

// Broadcaster delivers a payload to live clients subscribed to channel.
type Broadcaster interface {
	Broadcast(channel string, data []byte)
}

// HubSink pushes events to WebSocket clients, routed by event kind.
type HubSink struct {
	hub Broadcaster
}

// NewHubSink creates a HubSink.
func NewHubSink(hub Broadcaster) *HubSink {
	return &HubSink{hub: hub}
}

func (s *HubSink) Name() string { return "hub" }

func (s *HubSink) Handle(_ context.Context, evt domain.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("events: marshal event %d: %w", evt.Seq, err)
	}
	s.hub.Broadcast(string(evt.Kind), payload)
	return nil
}
