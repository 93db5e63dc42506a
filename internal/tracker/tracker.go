package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/openzim/zimit-broker/internal/platform/logger"
)

// DefaultCapacity is the number of outstanding tasks a caller may hold.
const DefaultCapacity = 1

// Tracker decides whether a caller may start a new task and keeps track of the
// tasks each caller has outstanding.
//
// Every exported method is safe for concurrent use. AddTask runs as a single
// critical section: reconciliation, quota evaluation and registration of one
// request can't interleave with another request. Completion lookups inside
// AddTask are limited to the records matching the caller, so the lock is held
// for at most a few bounded oracle calls.
type Tracker struct {
	codec    *IdentityCodec
	oracle   CompletionOracle
	logger   *slog.Logger
	metrics  *Metrics
	capacity int

	mu       sync.Mutex
	registry *registry
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithCapacity sets the number of outstanding tasks a caller may hold.
func WithCapacity(capacity int) Option {
	return func(t *Tracker) {
		t.capacity = capacity
	}
}

// WithMetrics records decisions and registry size.
func WithMetrics(m *Metrics) Option {
	return func(t *Tracker) {
		t.metrics = m
	}
}

// New creates a Tracker with an empty registry.
func New(codec *IdentityCodec, oracle CompletionOracle, log *slog.Logger, opts ...Option) (*Tracker, error) {
	if codec == nil {
		return nil, errors.New("identity codec cannot be nil")
	}
	if oracle == nil {
		return nil, errors.New("completion oracle cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}

	t := &Tracker{
		codec:    codec,
		oracle:   oracle,
		logger:   log.With("component", "tracker"),
		capacity: DefaultCapacity,
		registry: newRegistry(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.capacity < 1 {
		return nil, fmt.Errorf("capacity must be at least 1, got %d", t.capacity)
	}
	return t, nil
}

// AddTask evaluates the caller's quota and, when taskRef is not empty,
// registers taskRef for the caller.
//
// An empty identity means the caller presented none; an empty taskRef asks
// whether a task may be added without registering anything. When the caller
// presented no identity and the task is registered, a new identity is minted
// and returned in the Decision.
//
// The only error returned is a *ConsistencyError, which means the registry is
// corrupted. Refusals are reported through the Decision.
func (t *Tracker) AddTask(ctx context.Context, ip, identity, taskRef string) (Decision, error) {
	log := logger.FromContextOrDefault(ctx, t.logger)

	if identity != "" && !t.codec.Validate(identity) {
		log.Debug("invalid identity presented", "ip", ip)
		t.metrics.observeDecision(StatusInvalidIdentity)
		return Decision{Status: StatusInvalidIdentity}, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	decision, err := t.addTaskLocked(ctx, ip, identity, taskRef)
	t.metrics.setRecords(t.registry.len())
	if err != nil {
		t.metrics.observeConsistencyError()
		log.Error("tracker registry is inconsistent",
			"ip", ip,
			"identity", shortIdentity(identity),
			"task_id", taskRef,
			"error", err)
		return Decision{}, err
	}

	t.metrics.observeDecision(decision.Status)
	log.Debug("admission decision",
		"ip", ip,
		"identity", shortIdentity(identity),
		"task_id", taskRef,
		"status", decision.Status.String())
	return decision, nil
}

func (t *Tracker) addTaskLocked(ctx context.Context, ip, identity, taskRef string) (Decision, error) {
	t.reconcile(ctx, ip, identity)

	var record *ClientRecord
	if identity != "" {
		rec, err := t.registry.findByIdentity(identity)
		if err != nil {
			return Decision{}, err
		}
		if rec != nil && t.atCapacity(rec) {
			return Decision{
				Status:       StatusTooManyTasksForIdentity,
				OngoingTasks: slices.Clone(rec.OngoingTasks),
			}, nil
		}
		record = rec
	} else {
		neighbours, err := t.registry.findByIP(ip)
		if err != nil {
			return Decision{}, err
		}
		for _, rec := range neighbours {
			// A single anonymous record holds the whole anonymous quota of its address.
			if rec.Anonymous || t.atCapacity(rec) {
				return Decision{Status: StatusTooManyTasksForIP}, nil
			}
		}
	}

	if taskRef == "" {
		return Decision{Status: StatusCanAddTask}, nil
	}

	switch {
	case identity == "":
		minted, err := t.codec.Generate()
		if err != nil {
			return Decision{}, fmt.Errorf("failed to mint identity: %w", err)
		}
		rec := &ClientRecord{
			IPAddress:    ip,
			Identity:     minted,
			OngoingTasks: []string{taskRef},
			Anonymous:    true,
		}
		if err := t.registry.upsert(rec); err != nil {
			return Decision{}, err
		}
		return Decision{Status: StatusTaskAdded, NewIdentity: minted}, nil

	case record != nil:
		if err := t.registry.addTask(record, taskRef); err != nil {
			return Decision{}, err
		}
		if record.IPAddress != ip {
			// The record no longer holds the anonymous quota of the address it was minted at.
			record.IPAddress = ip
			record.Anonymous = false
		}
		return Decision{Status: StatusTaskAdded}, nil

	default:
		rec := &ClientRecord{
			IPAddress:    ip,
			Identity:     identity,
			OngoingTasks: []string{taskRef},
		}
		if err := t.registry.upsert(rec); err != nil {
			return Decision{}, err
		}
		return Decision{Status: StatusTaskAdded}, nil
	}
}

// reconcile drops completed tasks of every record seen at ip or holding identity.
func (t *Tracker) reconcile(ctx context.Context, ip, identity string) {
	for _, rec := range t.registry.matching(ip, identity) {
		for _, taskRef := range slices.Clone(rec.OngoingTasks) {
			if t.oracle.HasCompleted(ctx, taskRef) {
				t.registry.removeTask(rec, taskRef)
			}
		}
	}
}

func (t *Tracker) atCapacity(rec *ClientRecord) bool {
	return len(rec.OngoingTasks) >= t.capacity
}

// Owns reports whether the caller holding identity has taskRef outstanding.
// An invalid identity owns nothing.
func (t *Tracker) Owns(identity, taskRef string) (bool, error) {
	if identity == "" || taskRef == "" || !t.codec.Validate(identity) {
		return false, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.registry.findByIdentity(identity)
	if err != nil {
		t.metrics.observeConsistencyError()
		return false, err
	}
	return rec != nil && rec.hasTask(taskRef), nil
}

// ReleaseTask removes taskRef from the caller holding identity, typically after
// the caller cancelled it. It reports whether the task was tracked.
func (t *Tracker) ReleaseTask(identity, taskRef string) (bool, error) {
	if identity == "" || !t.codec.Validate(identity) {
		return false, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.registry.findByIdentity(identity)
	if err != nil {
		t.metrics.observeConsistencyError()
		return false, err
	}
	if rec == nil {
		return false, nil
	}
	released := t.registry.removeTask(rec, taskRef)
	t.metrics.setRecords(t.registry.len())
	return released, nil
}

// SweepResult summarizes a Sweep run.
type SweepResult struct {
	Checked int
	Removed int
	// Failed counts lookups that returned an error; their tasks are kept.
	Failed int
}

// strictOracle is implemented by oracles that can report lookup failures
// instead of answering them with a policy.
type strictOracle interface {
	Completed(ctx context.Context, taskRef string) (bool, error)
}

// Sweep reconciles every record against the oracle and drops completed tasks,
// so callers that never come back don't accumulate.
//
// When the oracle is a strictOracle, a failed lookup keeps the task whatever
// the failure policy: a farm outage must not empty the registry in one run.
// Lookups run without holding the lock. Removal of a completed task is safe to
// apply later: a task never becomes active again.
func (t *Tracker) Sweep(ctx context.Context) (SweepResult, error) {
	type ownedTask struct {
		identity string
		taskRef  string
	}

	t.mu.Lock()
	var pending []ownedTask
	for _, rec := range t.registry.all() {
		for _, taskRef := range rec.OngoingTasks {
			pending = append(pending, ownedTask{identity: rec.Identity, taskRef: taskRef})
		}
	}
	t.mu.Unlock()

	var (
		result    SweepResult
		completed []ownedTask
	)
	for _, task := range pending {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Checked++
		done, err := t.sweepLookup(ctx, task.taskRef)
		if err != nil {
			result.Failed++
			continue
		}
		if done {
			completed = append(completed, task)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, task := range completed {
		rec, err := t.registry.findByIdentity(task.identity)
		if err != nil {
			t.metrics.observeConsistencyError()
			return result, err
		}
		if rec != nil && t.registry.removeTask(rec, task.taskRef) {
			result.Removed++
		}
	}
	t.metrics.setRecords(t.registry.len())

	log := logger.FromContextOrDefault(ctx, t.logger)
	if result.Failed > 0 {
		log.Warn("tracker sweep kept tasks with unknown status", "failed", result.Failed)
	}
	log.Info("tracker sweep done",
		"checked", result.Checked,
		"removed", result.Removed,
		"failed", result.Failed,
		"records", t.registry.len())
	return result, nil
}

func (t *Tracker) sweepLookup(ctx context.Context, taskRef string) (bool, error) {
	if strict, ok := t.oracle.(strictOracle); ok {
		return strict.Completed(ctx, taskRef)
	}
	return t.oracle.HasCompleted(ctx, taskRef), nil
}

// Snapshot returns a deep copy of the registry, in insertion order.
func (t *Tracker) Snapshot() []ClientRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.registry.snapshot()
}

// Len returns the number of tracked callers.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.registry.len()
}
