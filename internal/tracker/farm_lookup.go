package tracker

import (
	"context"
	"errors"
	"fmt"

	"github.com/openzim/zimit-broker/internal/platform/zimfarm"
)

// FarmTaskGetter is the part of the farm client FarmLookup needs.
type FarmTaskGetter interface {
	GetRequestedTask(ctx context.Context, id string) (*zimfarm.Task, error)
	GetTask(ctx context.Context, id string) (*zimfarm.Task, error)
}

// FarmLookup implements StatusLookup over the farm API. A task is first
// searched among requested tasks, then among tasks picked up by a worker.
type FarmLookup struct {
	farm FarmTaskGetter
}

// NewFarmLookup creates a FarmLookup.
func NewFarmLookup(farm FarmTaskGetter) *FarmLookup {
	return &FarmLookup{farm: farm}
}

// LookupTaskState implements StatusLookup.
func (l *FarmLookup) LookupTaskState(ctx context.Context, taskRef string) (TaskState, error) {
	task, err := l.farm.GetRequestedTask(ctx, taskRef)
	if errors.Is(err, zimfarm.ErrNotFound) {
		task, err = l.farm.GetTask(ctx, taskRef)
	}
	if errors.Is(err, zimfarm.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", ErrTaskNotFound, taskRef)
	}
	if err != nil {
		return "", err
	}
	return farmTaskState(task.Status), nil
}

// farmTaskState maps farm statuses to TaskState. Statuses this package does not
// know are passed through and count as terminal.
func farmTaskState(status string) TaskState {
	switch status {
	case "requested":
		return StateQueued
	case "reserved":
		return StateReserved
	case "started", "scraper_started", "scraper_running":
		return StateRunning
	case "cancel_requested":
		return StateCancelRequested
	case "succeeded":
		return StateSucceeded
	case "failed":
		return StateFailed
	case "canceled":
		return StateCanceled
	default:
		return TaskState(status)
	}
}
