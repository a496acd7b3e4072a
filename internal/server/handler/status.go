package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/everest/internal/domain"
)

// StatusHandler serves the process mode and the engine's settlement date.
type StatusHandler struct {
	Mode     string
	Currency string
	today    func() time.Time
}

// NewStatusHandler creates a StatusHandler. today reports the engine's
// current settlement date.
func NewStatusHandler(mode, currency string, today func() time.Time) *StatusHandler {
	return &StatusHandler{Mode: mode, Currency: currency, today: today}
}

// GetStatus responds with the run mode, display currency and today's date.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":     h.Mode,
		"currency": h.Currency,
		"today":    h.today().Format(domain.DateLayout),
	})
}
