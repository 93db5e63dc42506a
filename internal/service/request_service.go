package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/openzim/zimit-broker/internal/platform/logger"
	"github.com/openzim/zimit-broker/internal/platform/zimfarm"
	"github.com/openzim/zimit-broker/internal/redact"
	"github.com/openzim/zimit-broker/internal/tracker"
)

// Farm is the subset of the farm API used by RequestService.
type Farm interface {
	CreateSchedule(ctx context.Context, schedule zimfarm.Schedule) error
	DeleteSchedule(ctx context.Context, name string) error
	RequestTasks(ctx context.Context, scheduleNames []string, worker string) ([]string, error)
	GetTask(ctx context.Context, id string) (*zimfarm.Task, error)
	GetRequestedTask(ctx context.Context, id string) (*zimfarm.Task, error)
	CancelRequestedTask(ctx context.Context, id string) error
	CancelTask(ctx context.Context, id string) error
}

// Admission enforces per-caller quotas. It is implemented by tracker.Tracker.
type Admission interface {
	AddTask(ctx context.Context, ip, identity, taskRef string) (tracker.Decision, error)
	Owns(identity, taskRef string) (bool, error)
	ReleaseTask(identity, taskRef string) (bool, error)
}

// URLBlacklist reports why a URL must not be captured.
type URLBlacklist interface {
	Reason(url string) (string, bool)
}

// RequestConfig holds the limits and resources applied to capture tasks.
type RequestConfig struct {
	Image      string
	SizeLimit  int64
	TimeLimit  int64
	TaskCPU    int
	TaskMemory int64
	TaskDisk   int64
	// Worker pins requested tasks to a farm worker when set.
	Worker string

	HookToken       string
	CallbackBaseURL string
	ZimDownloadURL  string
}

// CreateTaskRequest is a capture request.
type CreateTaskRequest struct {
	URL      string
	Lang     string
	Email    string
	Flags    map[string]any
	Identity string
}

// CreateTaskResult identifies the requested task. NewIdentity is set when the
// caller supplied no identity and one was minted.
type CreateTaskResult struct {
	TaskID      string
	NewIdentity string
}

// RequestService implements capture requests on top of the farm.
type RequestService struct {
	farm      Farm
	admission Admission
	blacklist URLBlacklist
	cfg       RequestConfig
	logger    *slog.Logger
	newID     func() string
}

// NewRequestService creates a RequestService. A nil blacklist disables URL
// filtering.
func NewRequestService(
	farm Farm,
	admission Admission,
	blacklist URLBlacklist,
	cfg RequestConfig,
	log *slog.Logger,
) (*RequestService, error) {
	if farm == nil {
		return nil, fmt.Errorf("farm cannot be nil")
	}
	if admission == nil {
		return nil, fmt.Errorf("admission cannot be nil")
	}
	if _, _, ok := splitImage(cfg.Image); !ok {
		return nil, fmt.Errorf("invalid image %q, expected name:tag", cfg.Image)
	}
	if log == nil {
		log = slog.Default()
	}
	return &RequestService{
		farm:      farm,
		admission: admission,
		blacklist: blacklist,
		cfg:       cfg,
		logger:    log.With("component", "request_service"),
		newID:     uuid.NewString,
	}, nil
}

// TrackerStatus tells the caller whether it may request a task.
func (s *RequestService) TrackerStatus(ctx context.Context, ip, identity string) (tracker.Decision, error) {
	return s.admission.AddTask(ctx, ip, identity, "")
}

// CreateTask checks the URL and the caller's quota, requests a capture task on
// the farm and registers it for the caller.
func (s *RequestService) CreateTask(ctx context.Context, ip string, req CreateTaskRequest) (*CreateTaskResult, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	target, err := parseCaptureURL(req.URL)
	if err != nil {
		return nil, err
	}

	if s.blacklist != nil {
		if reason, found := s.blacklist.Reason(req.URL); found {
			log.Info("blacklisted url refused", "host", target.Hostname(), "reason", reason)
			return nil, &BlacklistedError{URL: req.URL, Reason: reason}
		}
	}

	decision, err := s.admission.AddTask(ctx, ip, req.Identity, "")
	if err != nil {
		return nil, err
	}
	if decision.Status != tracker.StatusCanAddTask {
		return nil, &AdmissionError{Decision: decision}
	}

	schedule, err := s.buildSchedule(target, req)
	if err != nil {
		return nil, err
	}
	if err := s.farm.CreateSchedule(ctx, schedule); err != nil {
		return nil, fmt.Errorf("failed to create schedule %s: %w", schedule.Name, err)
	}

	taskID, err := s.requestTask(ctx, schedule.Name)
	// the schedule is only a vehicle for the task request
	if delErr := s.farm.DeleteSchedule(ctx, schedule.Name); delErr != nil {
		log.Error("failed to delete schedule",
			"schedule", schedule.Name,
			"error", redact.Error(delErr))
	}
	if err != nil {
		return nil, err
	}

	decision, err = s.admission.AddTask(ctx, ip, req.Identity, taskID)
	if err != nil || decision.Status != tracker.StatusTaskAdded {
		// a concurrent request took the slot since the dry-run
		s.cancelOrphan(ctx, taskID)
		if err != nil {
			return nil, err
		}
		return nil, &AdmissionError{Decision: decision}
	}

	log.Info("capture task requested",
		"task_id", taskID,
		"schedule", schedule.Name,
		"host", target.Hostname(),
		"with_email", req.Email != "")
	return &CreateTaskResult{TaskID: taskID, NewIdentity: decision.NewIdentity}, nil
}

func (s *RequestService) requestTask(ctx context.Context, scheduleName string) (string, error) {
	ids, err := s.farm.RequestTasks(ctx, []string{scheduleName}, s.cfg.Worker)
	if err != nil {
		return "", fmt.Errorf("failed to request task for %s: %w", scheduleName, err)
	}
	if len(ids) == 0 || ids[len(ids)-1] == "" {
		return "", ErrMissingTaskID
	}
	return ids[len(ids)-1], nil
}

func (s *RequestService) cancelOrphan(ctx context.Context, taskID string) {
	if err := s.farm.CancelRequestedTask(ctx, taskID); err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to cancel refused task",
			"task_id", taskID,
			"error", redact.Error(err))
	}
}

// CancelTask cancels a task owned by the caller and releases its quota slot.
func (s *RequestService) CancelTask(ctx context.Context, identity, taskID string) error {
	owns, err := s.admission.Owns(identity, taskID)
	if err != nil {
		return err
	}
	if !owns {
		return ErrNotOwner
	}

	err = s.farm.CancelRequestedTask(ctx, taskID)
	if errors.Is(err, zimfarm.ErrNotFound) {
		// no longer queued, it may be running
		err = s.farm.CancelTask(ctx, taskID)
	}
	if err != nil && !errors.Is(err, zimfarm.ErrNotFound) {
		return fmt.Errorf("failed to cancel task %s: %w", taskID, err)
	}

	if _, err := s.admission.ReleaseTask(identity, taskID); err != nil {
		return err
	}
	logger.FromContextOrDefault(ctx, s.logger).Info("capture task canceled", "task_id", taskID)
	return nil
}

// TaskInfo returns the public view of a task, whether it is still requested
// or already running.
func (s *RequestService) TaskInfo(ctx context.Context, taskID string) (*TaskInfo, error) {
	task, err := s.farm.GetTask(ctx, taskID)
	if errors.Is(err, zimfarm.ErrNotFound) {
		task, err = s.farm.GetRequestedTask(ctx, taskID)
	}
	if errors.Is(err, zimfarm.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", taskID, err)
	}
	return newTaskInfo(task, s.cfg.ZimDownloadURL), nil
}

// parseCaptureURL accepts absolute http and https URLs only.
func parseCaptureURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return u, nil
}
