package strategy

import (
	"math"
	"sync"
	"time"
)

// PricePoint records a single observation at a point in time.
type PricePoint struct {
	Value float64
	Time  time.Time
}

// Tracker keeps the last size observations per symbol and exposes the
// statistics the strategies rely on. Windows are count based, not time based.
type Tracker struct {
	size    int
	history map[string][]PricePoint
	mu      sync.RWMutex
}

// NewTracker creates a Tracker holding at most size points per symbol.
func NewTracker(size int) *Tracker {
	if size < 1 {
		size = 1
	}
	return &Tracker{
		size:    size,
		history: make(map[string][]PricePoint),
	}
}

// Track records a new observation and drops the oldest once the window is full.
func (t *Tracker) Track(symbol string, v float64, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pts := append(t.history[symbol], PricePoint{Value: v, Time: ts})
	if over := len(pts) - t.size; over > 0 {
		pts = append(pts[:0:0], pts[over:]...)
	}
	t.history[symbol] = pts
}

// Full reports whether the window for symbol holds size points.
func (t *Tracker) Full(symbol string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.history[symbol]) >= t.size
}

// Values returns a copy of the tracked values for symbol, oldest first.
func (t *Tracker) Values(symbol string) []float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	pts := t.history[symbol]
	out := make([]float64, len(pts))
	for i, p := range pts {
		out[i] = p.Value
	}
	return out
}

// GetAverage returns the arithmetic mean of the window. If there are no
// recorded points, it returns 0.
func (t *Tracker) GetAverage(symbol string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	pts := t.history[symbol]
	if len(pts) == 0 {
		return 0
	}
	var sum float64
	for _, p := range pts {
		sum += p.Value
	}
	return sum / float64(len(pts))
}

// GetVolatility returns the population standard deviation of the window.
// If there are fewer than two points, it returns 0.
func (t *Tracker) GetVolatility(symbol string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	pts := t.history[symbol]
	if len(pts) < 2 {
		return 0
	}

	var sum float64
	for _, p := range pts {
		sum += p.Value
	}
	mean := sum / float64(len(pts))

	var variance float64
	for _, p := range pts {
		d := p.Value - mean
		variance += d * d
	}
	variance /= float64(len(pts))
	return math.Sqrt(variance)
}

// ZScore returns how many standard deviations the latest value sits from the
// window mean, or 0 when the window has no spread.
func (t *Tracker) ZScore(symbol string) float64 {
	vol := t.GetVolatility(symbol)
	if vol == 0 {
		return 0
	}
	vals := t.Values(symbol)
	if len(vals) == 0 {
		return 0
	}
	return (vals[len(vals)-1] - t.GetAverage(symbol)) / vol
}
