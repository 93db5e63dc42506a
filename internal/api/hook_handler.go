package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/openzim/zimit-broker/internal/api/shared"
	"github.com/openzim/zimit-broker/internal/notify"
	"github.com/openzim/zimit-broker/internal/platform/logger"
	"github.com/openzim/zimit-broker/internal/platform/zimfarm"
	"github.com/openzim/zimit-broker/internal/redact"
)

// HookProcessor turns a webhook call into an optional mail.
type HookProcessor interface {
	Process(ctx context.Context, token, target, lang string, task *zimfarm.Task) notify.HookResult
}

// MailDeliverer schedules mail delivery.
type MailDeliverer interface {
	Deliver(ctx context.Context, msg notify.Message) error
}

// HookHandler handles POST /hook, called by the farm on task events.
type HookHandler struct {
	processor HookProcessor
	deliverer MailDeliverer
	logger    *slog.Logger
}

// NewHookHandler creates a new HookHandler
func NewHookHandler(processor HookProcessor, deliverer MailDeliverer, logger *slog.Logger) *HookHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for HookHandler")
	}
	return &HookHandler{
		processor: processor,
		deliverer: deliverer,
		logger:    logger.With(slog.String("component", "hook_handler")),
	}
}

// Hook always answers 200; the status field tells the farm whether the call
// was accepted. Mails are sent asynchronously.
func (h *HookHandler) Hook(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	query := r.URL.Query()
	lang := query.Get("lang")
	if lang == "" {
		lang = "en"
	}

	var task *zimfarm.Task
	if err := shared.DecodeJSON(w, r, &task); err != nil {
		log.Warn("invalid hook payload", slog.String("error", redact.Error(err)))
		shared.RespondWithJSON(w, r, http.StatusOK, HookResponse{Status: notify.HookFailed})
		return
	}

	result := h.processor.Process(r.Context(), query.Get("token"), query.Get("target"), lang, task)
	if result.Message != nil {
		if err := h.deliverer.Deliver(r.Context(), *result.Message); err != nil {
			log.Error("failed to schedule notification", slog.String("error", redact.Error(err)))
		}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, HookResponse{Status: result.Status})
}
