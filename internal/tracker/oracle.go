package tracker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/openzim/zimit-broker/internal/platform/logger"
	"github.com/openzim/zimit-broker/internal/redact"
)

// TaskState is the normalized state of a task on the farm.
type TaskState string

// Active states. Every other state, including ones this package does not know,
// is terminal.
const (
	StateQueued          TaskState = "queued"
	StateReserved        TaskState = "reserved"
	StateRunning         TaskState = "running"
	StateCancelRequested TaskState = "cancel_requested"
)

// Terminal states.
const (
	StateSucceeded TaskState = "succeeded"
	StateFailed    TaskState = "failed"
	StateCanceled  TaskState = "canceled"
)

// Terminal reports whether the task will not make further progress.
func (s TaskState) Terminal() bool {
	switch s {
	case StateQueued, StateReserved, StateRunning, StateCancelRequested:
		return false
	default:
		return true
	}
}

// StatusLookup fetches the current state of a task.
// It returns ErrTaskNotFound when every known location was searched without success.
type StatusLookup interface {
	LookupTaskState(ctx context.Context, taskRef string) (TaskState, error)
}

// CompletionOracle reports whether a task reached a terminal state.
type CompletionOracle interface {
	HasCompleted(ctx context.Context, taskRef string) bool
}

// FailurePolicy decides the answer of a StatusOracle when the lookup fails.
type FailurePolicy int

const (
	// FailOpen treats a failed lookup as a completed task. An unreachable farm
	// then never locks a caller out of their quota.
	FailOpen FailurePolicy = iota
	// FailClosed treats a failed lookup as a still active task.
	FailClosed
)

func (p FailurePolicy) String() string {
	if p == FailClosed {
		return "fail_closed"
	}
	return "fail_open"
}

// DefaultLookupTimeout bounds a single status lookup.
const DefaultLookupTimeout = 10 * time.Second

// StatusOracle implements CompletionOracle over a StatusLookup.
type StatusOracle struct {
	lookup  StatusLookup
	policy  FailurePolicy
	timeout time.Duration
	logger  *slog.Logger
	metrics *Metrics
}

// OracleOption customizes a StatusOracle.
type OracleOption func(*StatusOracle)

// WithFailurePolicy sets the answer given when a lookup fails. Defaults to FailOpen.
func WithFailurePolicy(policy FailurePolicy) OracleOption {
	return func(o *StatusOracle) {
		o.policy = policy
	}
}

// WithLookupTimeout bounds every lookup. Non-positive values keep the default.
func WithLookupTimeout(timeout time.Duration) OracleOption {
	return func(o *StatusOracle) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// WithOracleMetrics records lookup outcomes.
func WithOracleMetrics(m *Metrics) OracleOption {
	return func(o *StatusOracle) {
		o.metrics = m
	}
}

// NewStatusOracle creates a StatusOracle. logger may be nil.
func NewStatusOracle(lookup StatusLookup, log *slog.Logger, opts ...OracleOption) *StatusOracle {
	if log == nil {
		log = slog.Default()
	}
	o := &StatusOracle{
		lookup:  lookup,
		policy:  FailOpen,
		timeout: DefaultLookupTimeout,
		logger:  log.With("component", "completion_oracle"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Policy returns the configured failure policy.
func (o *StatusOracle) Policy() FailurePolicy {
	return o.policy
}

// HasCompleted reports whether taskRef reached a terminal state. A task unknown
// to the farm is completed. Lookup errors, timeouts included, are answered
// according to the failure policy.
func (o *StatusOracle) HasCompleted(ctx context.Context, taskRef string) bool {
	completed, err := o.Completed(ctx, taskRef)
	if err != nil {
		logger.FromContextOrDefault(ctx, o.logger).Warn("unable to find ongoing task status",
			"task_id", taskRef,
			"error", redact.Error(err),
			"policy", o.policy.String())
		return o.policy == FailOpen
	}
	return completed
}

// Completed is HasCompleted without the failure policy: lookup errors are
// returned to the caller.
func (o *StatusOracle) Completed(ctx context.Context, taskRef string) (bool, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	state, err := o.lookup.LookupTaskState(lookupCtx, taskRef)
	switch {
	case err == nil:
		o.metrics.observeLookup(lookupOutcome(state))
		return state.Terminal(), nil
	case errors.Is(err, ErrTaskNotFound):
		o.metrics.observeLookup("not_found")
		return true, nil
	default:
		o.metrics.observeLookup("error")
		return false, err
	}
}

func lookupOutcome(state TaskState) string {
	if state.Terminal() {
		return "terminal"
	}
	return "active"
}
