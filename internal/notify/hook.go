package notify

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"

	"github.com/openzim/zimit-broker/internal/platform/logger"
	"github.com/openzim/zimit-broker/internal/platform/zimfarm"
	"github.com/openzim/zimit-broker/internal/redact"
)

// Hook response statuses returned to the farm.
const (
	HookSuccess = "success"
	HookFailed  = "failed"
)

// notifiedStatuses are the task statuses a mail is sent for.
var notifiedStatuses = map[string]bool{
	"requested": true,
	"succeeded": true,
	"failed":    true,
	"canceled":  true,
}

// HookConfig holds the values embedded in notification mails.
type HookConfig struct {
	Token          string
	PublicURL      string
	ZimDownloadURL string
	ContactUsURL   string
	SizeLimit      int64
	TimeLimit      int64
}

// HookResult is the outcome of a webhook call. Message is set only when a
// mail must be sent.
type HookResult struct {
	Status  string
	Message *Message
}

// HookProcessor turns farm webhook calls into notification mails.
type HookProcessor struct {
	cfg          HookConfig
	translations *Translations
	renderer     *Renderer
	logger       *slog.Logger
}

// NewHookProcessor creates a HookProcessor.
func NewHookProcessor(
	cfg HookConfig,
	translations *Translations,
	renderer *Renderer,
	log *slog.Logger,
) (*HookProcessor, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("hook token cannot be empty")
	}
	if translations == nil || renderer == nil {
		return nil, fmt.Errorf("translations and renderer are required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &HookProcessor{
		cfg:          cfg,
		translations: translations,
		renderer:     renderer,
		logger:       log.With("component", "hook_processor"),
	}, nil
}

// Process validates a webhook call for task and renders the mail for target
// in language lang. Calls for statuses that are not notified succeed without
// a message.
func (p *HookProcessor) Process(
	ctx context.Context,
	token, target, lang string,
	task *zimfarm.Task,
) HookResult {
	log := logger.FromContextOrDefault(ctx, p.logger)

	if subtle.ConstantTimeCompare([]byte(token), []byte(p.cfg.Token)) != 1 {
		log.Error("incorrect token received on hook", "token", redact.String("token="+token))
		return HookResult{Status: HookFailed}
	}
	if target == "" {
		log.Error("no target received on hook")
		return HookResult{Status: HookFailed}
	}
	if task == nil {
		log.Error("no task received on hook")
		return HookResult{Status: HookFailed}
	}
	if !notifiedStatuses[task.Status] {
		log.Debug("hook ignored", "task_id", task.ID, "task_status", task.Status)
		return HookResult{Status: HookSuccess}
	}

	status := task.Status
	// an ended task without files did not produce anything usable
	if status != "requested" && len(task.Files) == 0 {
		status = "failed"
	}

	loc := p.translations.Localizer(lang)
	data := emailData{
		Lang:         loc.Tag.String(),
		RTL:          loc.RTL,
		Status:       status,
		TaskID:       task.ID,
		URL:          seedURL(task),
		StatusURL:    p.cfg.PublicURL + "/request/" + task.ID,
		ContactUsURL: p.cfg.ContactUsURL,
		SizeLimit:    p.cfg.SizeLimit,
		TimeLimit:    p.cfg.TimeLimit,
		Files:        taskFiles(task, p.cfg.ZimDownloadURL),
	}
	subject, body, err := p.renderer.render(loc, data)
	if err != nil {
		log.Error("failed to render notification", "task_id", task.ID, "error", redact.Error(err))
		return HookResult{Status: HookFailed}
	}

	log.Info("notification rendered",
		"task_id", task.ID,
		"task_status", status,
		"lang", data.Lang)
	return HookResult{
		Status:  HookSuccess,
		Message: &Message{To: target, Subject: subject, HTMLBody: body},
	}
}

// seedURL returns the URL the task captures.
func seedURL(task *zimfarm.Task) string {
	if seeds, ok := task.Config.Offliner["seeds"].(string); ok {
		return seeds
	}
	return ""
}
