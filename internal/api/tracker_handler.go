package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/openzim/zimit-broker/internal/api/shared"
	"github.com/openzim/zimit-broker/internal/platform/logger"
	"github.com/openzim/zimit-broker/internal/tracker"
)

// AdmissionChecker answers dry-run admission requests.
type AdmissionChecker interface {
	TrackerStatus(ctx context.Context, ip, identity string) (tracker.Decision, error)
}

// TrackerHandler handles POST /tracker_status.
type TrackerHandler struct {
	checker AdmissionChecker
	logger  *slog.Logger
}

// NewTrackerHandler creates a new TrackerHandler
func NewTrackerHandler(checker AdmissionChecker, logger *slog.Logger) *TrackerHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for TrackerHandler")
	}
	return &TrackerHandler{
		checker: checker,
		logger:  logger.With(slog.String("component", "tracker_handler")),
	}
}

// Status tells the caller whether it may request a new task. Refusals are
// regular 200 responses, the status field carries the decision.
func (h *TrackerHandler) Status(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	var req TrackerStatusRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	decision, err := h.checker.TrackerStatus(r.Context(), clientIP(r), req.UniqueID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	log.Debug("tracker status", slog.String("status", decision.Status.String()))
	shared.RespondWithJSON(w, r, http.StatusOK, TrackerStatusResponse{
		Status:       decision.Status.String(),
		OngoingTasks: decision.OngoingTasks,
	})
}
