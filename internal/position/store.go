// Package position owns the lifecycle of simulated positions: opening them
// from strategy signals, closing them when a tick crosses the target or the
// stop, and accounting realized PnL.
package position

import (
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tickbot/internal/domain"
)

// Store is the single owner of all position state. Every mutation happens
// under one mutex, so calls touching the same symbol are applied in the
// order they acquire the lock. Callers only ever receive copies.
type Store struct {
	mu sync.Mutex

	observer domain.EventObserver
	logger   *slog.Logger

	nextID    domain.PositionID
	seq       uint64
	open      map[string]*domain.Position
	closed    []domain.Position
	lastPrice map[string]float64
	realized  decimal.Decimal

	finalized bool
	report    domain.AggregateReport
}

// NewStore creates an empty Store. observer may be nil; when set it receives
// every event while the store lock is held and must not block.
func NewStore(observer domain.EventObserver) *Store {
	return &Store{
		observer:  observer,
		logger:    slog.Default().With(slog.String("component", "position_store")),
		open:      make(map[string]*domain.Position),
		lastPrice: make(map[string]float64),
	}
}

// SetLogger replaces the default logger. Call it before the store is shared.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger.With(slog.String("component", "position_store"))
}

// Open creates an OPEN position from sig. It fails with a *domain.RejectError
// when the signal is malformed, when the symbol already has an open position,
// or after Finalize; a rejection changes no position state.
func (s *Store) Open(sig domain.Signal, at time.Time) (domain.PositionID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return 0, s.rejectLocked(sig, domain.RejectStoreFinalized, "", at)
	}
	if err := sig.Validate(); err != nil {
		detail := strings.TrimPrefix(err.Error(), domain.ErrMalformedSignal.Error()+": ")
		return 0, s.rejectLocked(sig, domain.RejectMalformedSignal, detail, at)
	}
	if cur, ok := s.open[sig.Symbol]; ok {
		return 0, s.rejectLocked(sig, domain.RejectSymbolAlreadyOpen, "position "+formatID(cur.ID)+" is open", at)
	}

	s.nextID++
	pos := &domain.Position{
		ID:         s.nextID,
		Symbol:     sig.Symbol,
		Direction:  sig.Direction,
		EntryPrice: sig.EntryPrice,
		Target:     sig.Target,
		StopLoss:   sig.StopLoss,
		Size:       sig.Units(),
		Strategy:   sig.Source,
		Status:     domain.PositionStatusOpen,
		OpenedAt:   at,
	}
	s.open[sig.Symbol] = pos

	opened := pos.Clone()
	s.emitLocked(domain.Event{Kind: domain.EventOpened, At: at, Opened: &opened})
	return pos.ID, nil
}

// OnTick records the tick's price and closes the open position for its
// symbol when a threshold is crossed. Ticks for symbols without an open
// position only update the last known price. After Finalize it does nothing.
//
// Prices must be finite and positive. Any other tick is dropped with a
// warning and touches no state.
func (s *Store) OnTick(tick domain.Tick) []domain.ExitEvent {
	if math.IsNaN(tick.Price) || math.IsInf(tick.Price, 0) || tick.Price <= 0 {
		s.logger.Warn("tick with invalid price dropped",
			slog.String("symbol", tick.Symbol),
			slog.String("price", strconv.FormatFloat(tick.Price, 'g', -1, 64)),
			slog.Time("at", tick.Time),
		)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return nil
	}
	s.lastPrice[tick.Symbol] = tick.Price

	pos, ok := s.open[tick.Symbol]
	if !ok {
		return nil
	}
	exit, hit := Evaluate(*pos, tick)
	if !hit {
		return nil
	}
	return []domain.ExitEvent{s.closeLocked(pos, exit.Status, exit.Price, tick.Time)}
}

// Finalize closes every remaining open position as CLOSED_EOD at the last
// known price for its symbol, or at its entry price when no price was ever
// seen, and returns the report. Later calls return the same report and emit
// nothing.
func (s *Store) Finalize(at time.Time) domain.AggregateReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return s.report.Clone()
	}

	for _, pos := range s.sortedOpenLocked() {
		price, ok := s.lastPrice[pos.Symbol]
		if !ok {
			price = pos.EntryPrice
		}
		s.closeLocked(pos, domain.PositionStatusClosedEOD, price, at)
	}

	positions := s.sortedClosedLocked()
	report := domain.AggregateReport{
		TotalPnL:    s.realized.InexactFloat64(),
		Trades:      len(positions),
		Positions:   positions,
		FinalizedAt: at,
	}
	for _, p := range positions {
		switch {
		case *p.PnL > 0:
			report.Wins++
		case *p.PnL < 0:
			report.Losses++
		}
	}

	s.finalized = true
	s.report = report

	final := report.Clone()
	s.emitLocked(domain.Event{Kind: domain.EventFinalized, At: at, Finalized: &final})
	return report.Clone()
}

// ListOpen returns a snapshot of the open positions ordered by ID.
func (s *Store) ListOpen() []domain.Position {
	s.mu.Lock()
	defer s.mu.Unlock()

	open := s.sortedOpenLocked()
	out := make([]domain.Position, len(open))
	for i, p := range open {
		out[i] = p.Clone()
	}
	return out
}

// ListClosed returns a snapshot of the closed positions ordered by ID.
func (s *Store) ListClosed() []domain.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedClosedLocked()
}

// HasOpen reports whether symbol currently has an open position.
func (s *Store) HasOpen(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.open[symbol]
	return ok
}

// RealizedPnL returns the sum of PnL over all closed positions.
func (s *Store) RealizedPnL() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.realized.InexactFloat64()
}

// Report returns the final report once Finalize has run.
func (s *Store) Report() (domain.AggregateReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finalized {
		return domain.AggregateReport{}, false
	}
	return s.report.Clone(), true
}

// closeLocked moves pos to a terminal status. The caller must hold s.mu.
func (s *Store) closeLocked(pos *domain.Position, status domain.PositionStatus, exitPrice float64, at time.Time) domain.ExitEvent {
	pnl := PnL(*pos, exitPrice)
	s.realized = s.realized.Add(pnl)

	pnlF := pnl.InexactFloat64()
	closedAt := at
	pos.Status = status
	pos.ExitPrice = &exitPrice
	pos.PnL = &pnlF
	pos.ClosedAt = &closedAt

	delete(s.open, pos.Symbol)
	s.closed = append(s.closed, pos.Clone())

	ev := domain.ExitEvent{
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Direction:  pos.Direction,
		Status:     status,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		PnL:        pnlF,
		At:         at,
	}
	payload := ev
	s.emitLocked(domain.Event{Kind: domain.EventExited, At: at, Exited: &payload})
	return ev
}

func (s *Store) rejectLocked(sig domain.Signal, reason domain.RejectReason, detail string, at time.Time) error {
	s.emitLocked(domain.Event{
		Kind:     domain.EventRejected,
		At:       at,
		Rejected: &domain.Rejection{Signal: sig, Reason: reason, Detail: detail},
	})
	return &domain.RejectError{Reason: reason, Symbol: sig.Symbol, Detail: detail}
}

func (s *Store) emitLocked(evt domain.Event) {
	s.seq++
	evt.Seq = s.seq
	if s.observer != nil {
		s.observer.Observe(evt)
	}
}

func (s *Store) sortedOpenLocked() []*domain.Position {
	out := make([]*domain.Position, 0, len(s.open))
	for _, p := range s.open {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) sortedClosedLocked() []domain.Position {
	out := make([]domain.Position, len(s.closed))
	for i, p := range s.closed {
		out[i] = p.Clone()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func formatID(id domain.PositionID) string {
	return strconv.FormatUint(uint64(id), 10)
}
