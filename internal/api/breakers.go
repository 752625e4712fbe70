package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/thaian1234/sync-service/internal/engine"
)

type BreakerHandler struct {
	registry *engine.BreakerRegistry
}

func NewBreakerHandler(reg *engine.BreakerRegistry) *BreakerHandler {
	return &BreakerHandler{registry: reg}
}

func (h *BreakerHandler) List(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"breakers": h.registry.Stats()})
}

func (h *BreakerHandler) Reset(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if !h.registry.Reset(name) {
		respondError(w, http.StatusNotFound, "circuit breaker not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "reset", "name": name})
}
