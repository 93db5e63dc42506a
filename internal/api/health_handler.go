package api

import (
	"net/http"

	"github.com/openzim/zimit-broker/internal/api/shared"
)

// HealthHandler handles GET /health.
type HealthHandler struct {
	trackedClients   func() int
	blacklistEntries func() int
}

// NewHealthHandler creates a HealthHandler reporting the given gauges.
// Nil functions report zero.
func NewHealthHandler(trackedClients, blacklistEntries func() int) *HealthHandler {
	zero := func() int { return 0 }
	if trackedClients == nil {
		trackedClients = zero
	}
	if blacklistEntries == nil {
		blacklistEntries = zero
	}
	return &HealthHandler{trackedClients: trackedClients, blacklistEntries: blacklistEntries}
}

// Health reports liveness.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, HealthResponse{
		Status:           "ok",
		TrackedClients:   h.trackedClients(),
		BlacklistEntries: h.blacklistEntries(),
	})
}
