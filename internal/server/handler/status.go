package handler

import (
	"net/http"

	"github.com/alanyoungcy/tickbot/internal/domain"
)

// StatusProvider reports the live run summary.
type StatusProvider interface {
	Status() domain.RunStatus
}

// StatusHandler serves GET /api/status.
type StatusHandler struct {
	provider StatusProvider
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(provider StatusProvider) *StatusHandler {
	return &StatusHandler{provider: provider}
}

// GetStatus writes the current run summary.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.provider.Status())
}
