package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openzim/zimit-broker/internal/api/shared"
	"github.com/openzim/zimit-broker/internal/platform/logger"
	"github.com/openzim/zimit-broker/internal/service"
)

// CaptureRequests is the subset of service.RequestService used by RequestHandler.
type CaptureRequests interface {
	CreateTask(ctx context.Context, ip string, req service.CreateTaskRequest) (*service.CreateTaskResult, error)
	TaskInfo(ctx context.Context, taskID string) (*service.TaskInfo, error)
	CancelTask(ctx context.Context, identity, taskID string) error
}

// RequestHandler handles the /requests endpoints.
type RequestHandler struct {
	requests CaptureRequests
	logger   *slog.Logger
}

// NewRequestHandler creates a new RequestHandler
func NewRequestHandler(requests CaptureRequests, logger *slog.Logger) *RequestHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for RequestHandler")
	}
	return &RequestHandler{
		requests: requests,
		logger:   logger.With(slog.String("component", "request_handler")),
	}
}

// CreateRequest handles POST /requests
func (h *RequestHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	var req CreateRequestRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}
	lang := req.Lang
	if lang == "" {
		lang = "en"
	}

	result, err := h.requests.CreateTask(r.Context(), clientIP(r), service.CreateTaskRequest{
		URL:      req.URL,
		Lang:     lang,
		Email:    req.Email,
		Flags:    req.Flags,
		Identity: req.UniqueID,
	})
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	response := CreateRequestResponse{ID: result.TaskID}
	if result.NewIdentity != "" {
		response.NewUniqueID = &result.NewIdentity
	}
	log.Info("request created", slog.String("task_id", result.TaskID))
	shared.RespondWithJSON(w, r, http.StatusCreated, response)
}

// GetRequest handles GET /requests/{id}
func (h *RequestHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	if taskID == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task id")
		return
	}

	info, err := h.requests.TaskInfo(r.Context(), taskID)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, taskInfoToResponse(info))
}

// CancelRequest handles DELETE /requests/{id}
func (h *RequestHandler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	taskID := chi.URLParam(r, "id")
	if taskID == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task id")
		return
	}
	var req CancelRequestRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	if err := h.requests.CancelTask(r.Context(), req.UniqueID, taskID); err != nil {
		h.respondWithError(w, r, err)
		return
	}
	log.Info("request canceled", slog.String("task_id", taskID))
	w.WriteHeader(http.StatusNoContent)
}

func (h *RequestHandler) respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status := MapErrorToStatusCode(err)
	message := GetSafeErrorMessage(err)

	var blacklisted *service.BlacklistedError
	if errors.As(err, &blacklisted) {
		shared.RespondWithErrorAndLog(w, r, status, message, err, shared.WithReason(blacklisted.Reason))
		return
	}
	if errors.Is(err, service.ErrNotOwner) {
		shared.RespondWithErrorAndLog(w, r, status, message, err, shared.WithElevatedLogLevel())
		return
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err)
}

func taskInfoToResponse(info *service.TaskInfo) TaskInfoResponse {
	response := TaskInfoResponse{
		ID:                        info.ID,
		HasEmail:                  info.HasEmail,
		PartialZim:                info.PartialZim,
		Status:                    info.Status,
		Flags:                     make([]TaskInfoFlag, 0, len(info.Flags)),
		Progress:                  info.Progress,
		Rank:                      info.Rank,
		OfflinerDefinitionVersion: info.OfflinerVersion,
	}
	if info.DownloadLink != "" {
		link := info.DownloadLink
		response.DownloadLink = &link
	}
	for _, flag := range info.Flags {
		response.Flags = append(response.Flags, TaskInfoFlag{Name: flag.Name, Value: flag.Value})
	}
	return response
}
