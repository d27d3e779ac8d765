package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/tickbot/internal/domain"
)

// PositionReader is the read side of the position store.
type PositionReader interface {
	ListOpen() []domain.Position
	ListClosed() []domain.Position
	Report() (domain.AggregateReport, bool)
}

// PositionHandler serves the position and report endpoints.
type PositionHandler struct {
	positions PositionReader
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(positions PositionReader, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{positions: positions, logger: logger}
}

type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
	Count     int               `json:"count"`
}

// ListOpen returns open positions, optionally for one ?symbol=.
// GET /api/positions/open
func (h *PositionHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	writePositions(w, filterSymbol(h.positions.ListOpen(), r.URL.Query().Get("symbol")))
}

// ListClosed returns closed positions in close order, optionally filtered by
// ?symbol= and ?status=.
// GET /api/positions/closed
func (h *PositionHandler) ListClosed(w http.ResponseWriter, r *http.Request) {
	closed := filterSymbol(h.positions.ListClosed(), r.URL.Query().Get("symbol"))
	if status := strings.ToUpper(r.URL.Query().Get("status")); status != "" {
		out := closed[:0]
		for _, p := range closed {
			if string(p.Status) == status {
				out = append(out, p)
			}
		}
		closed = out
	}
	writePositions(w, closed)
}

// GetReport returns the aggregate report once the run is finalized.
// GET /api/report
func (h *PositionHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	report, ok := h.positions.Report()
	if !ok {
		writeError(w, http.StatusNotFound, "run not finalized yet")
		return
	}
	if report.Positions == nil {
		report.Positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, report)
}

func filterSymbol(positions []domain.Position, symbol string) []domain.Position {
	if symbol == "" {
		return positions
	}
	out := make([]domain.Position, 0, len(positions))
	for _, p := range positions {
		if strings.EqualFold(p.Symbol, symbol) {
			out = append(out, p)
		}
	}
	return out
}

func writePositions(w http.ResponseWriter, positions []domain.Position) {
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions, Count: len(positions)})
}
