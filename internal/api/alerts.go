package api

import (
	"net/http"

	"github.com/thaian1234/sync-service/internal/alert"
)

type AlertHandler struct {
	dispatcher *alert.Dispatcher
}

func NewAlertHandler(d *alert.Dispatcher) *AlertHandler {
	return &AlertHandler{dispatcher: d}
}

// Check runs the threshold evaluation on demand, outside the scheduler's
// cadence. The per-kind rate limit still applies.
func (h *AlertHandler) Check(w http.ResponseWriter, r *http.Request) {
	if err := h.dispatcher.CheckAndAlert(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, "alert check failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "checked"})
}

// Test fires an INFO alert through every configured channel.
func (h *AlertHandler) Test(w http.ResponseWriter, r *http.Request) {
	h.dispatcher.SendTest(r.Context())
	respondJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}
