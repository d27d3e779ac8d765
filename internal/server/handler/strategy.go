package handler

import (
	"net/http"

	"github.com/alanyoungcy/tickbot/internal/domain"
	"github.com/alanyoungcy/tickbot/internal/strategy"
)

// StrategyReader exposes the strategy engine's counters and recent signals.
type StrategyReader interface {
	ActiveNames() []string
	ListNames() []string
	Info() []strategy.StrategyInfo
	RecentSignals(limit int) []domain.Signal
}

// StrategyHandler serves the strategy endpoints.
type StrategyHandler struct {
	engine StrategyReader
}

// NewStrategyHandler creates a StrategyHandler.
func NewStrategyHandler(engine StrategyReader) *StrategyHandler {
	return &StrategyHandler{engine: engine}
}

// List returns registered and active strategies with their counters.
// GET /api/strategies
func (h *StrategyHandler) List(w http.ResponseWriter, _ *http.Request) {
	info := h.engine.Info()
	if info == nil {
		info = []strategy.StrategyInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"registered": nonNil(h.engine.ListNames()),
		"active":     nonNil(h.engine.ActiveNames()),
		"strategies": info,
	})
}

// RecentSignals returns the newest signals first, ?limit= (default 50, max 500).
// GET /api/signals/recent
func (h *StrategyHandler) RecentSignals(w http.ResponseWriter, r *http.Request) {
	signals := h.engine.RecentSignals(queryInt(r, "limit", 50, 500))
	if signals == nil {
		signals = []domain.Signal{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"signals": signals})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
