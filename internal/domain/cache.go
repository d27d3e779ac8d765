package domain

import (
	"context"
	"time"
)

// PriceCache mirrors the last tick seen per symbol so other processes can
// read marks while a run is in flight. Unknown symbols are ErrNotFound.
type PriceCache interface {
	SetPrice(ctx context.Context, symbol string, price float64, at time.Time) error
	GetPrice(ctx context.Context, symbol string) (float64, time.Time, error)
	GetPrices(ctx context.Context, symbols []string) (map[string]float64, error)
}

// RateLimiter reports whether key still has budget in the current window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager hands out leases. Acquire fails with ErrLockHeld while another
// holder's lease is live.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// StreamMessage is one entry read back from a stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus publishes run events and carries tick streams between the
// feed server and the simulator.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	// StreamRead returns entries after lastID; "0" starts from the head.
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
