// Package events fans the position store's event stream out to sinks
// (structured log, Redis bus, notifiers, audit journal, WebSocket hub)
// without ever blocking the store.
package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/tickbot/internal/domain"
)

// drainTimeout bounds delivery of queued events once the run context is gone.
const drainTimeout = 10 * time.Second

// Sink consumes delivered events. Handle is called from a single goroutine
// in event order.
type Sink interface {
	Name() string
	Handle(ctx context.Context, evt domain.Event) error
}

// Dispatcher implements domain.EventObserver. Observe only appends to an
// in-memory queue; Run delivers the queue to every sink.
type Dispatcher struct {
	sinks  []Sink
	logger *slog.Logger

	mu     sync.Mutex
	queue  []domain.Event
	closed bool
	wake   chan struct{}
	done   chan struct{}

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewDispatcher creates a Dispatcher delivering to sinks in the given order.
func NewDispatcher(logger *slog.Logger, sinks ...Sink) *Dispatcher {
	return &Dispatcher{
		sinks:  sinks,
		logger: logger.With(slog.String("component", "event_dispatcher")),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Observe queues evt. It never blocks on a sink.
func (d *Dispatcher) Observe(evt domain.Event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.dropped.Add(1)
		return
	}
	d.queue = append(d.queue, evt)
	d.mu.Unlock()
	d.signal()
}

// Close stops accepting events. Run returns once the queue is empty.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.signal()
}

// Done is closed when Run has returned.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

// Run delivers queued events until Close has been called and the queue is
// drained. When ctx is cancelled first, the remaining queue is still
// delivered under a bounded timeout before Run returns ctx.Err().
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.done)
	for {
		batch, closed := d.take()
		if len(batch) > 0 {
			d.deliver(ctx, batch)
			continue
		}
		if closed {
			d.logger.Info("event dispatcher drained",
				slog.Int64("delivered", d.delivered.Load()),
				slog.Int64("failed", d.failed.Load()),
				slog.Int64("dropped", d.dropped.Load()),
			)
			return nil
		}

		select {
		case <-d.wake:
		case <-ctx.Done():
			d.Close()
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
			for {
				batch, _ := d.take()
				if len(batch) == 0 {
					break
				}
				d.deliver(drainCtx, batch)
			}
			cancel()
			return ctx.Err()
		}
	}
}

// Delivered returns how many events every sink has been offered.
func (d *Dispatcher) Delivered() int64 { return d.delivered.Load() }

// Failed returns how many sink deliveries returned an error.
func (d *Dispatcher) Failed() int64 { return d.failed.Load() }

func (d *Dispatcher) take() ([]domain.Event, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	batch := d.queue
	d.queue = nil
	return batch, d.closed
}

func (d *Dispatcher) deliver(ctx context.Context, batch []domain.Event) {
	for _, evt := range batch {
		for _, s := range d.sinks {
			if err := s.Handle(ctx, evt); err != nil {
				d.failed.Add(1)
				d.logger.Warn("event sink failed",
					slog.String("sink", s.Name()),
					slog.Uint64("seq", evt.Seq),
					slog.String("kind", string(evt.Kind)),
					slog.String("error", err.Error()),
				)
			}
		}
		d.delivered.Add(1)
	}
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

var _ domain.EventObserver = (*Dispatcher)(nil)
