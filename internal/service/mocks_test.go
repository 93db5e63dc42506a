package service

import (
	"context"
	"io"
	"log/slog"

	"github.com/openzim/zimit-broker/internal/platform/zimfarm"
	"github.com/openzim/zimit-broker/internal/tracker"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockFarm struct {
	CreateScheduleFn      func(ctx context.Context, schedule zimfarm.Schedule) error
	DeleteScheduleFn      func(ctx context.Context, name string) error
	RequestTasksFn        func(ctx context.Context, names []string, worker string) ([]string, error)
	GetTaskFn             func(ctx context.Context, id string) (*zimfarm.Task, error)
	GetRequestedTaskFn    func(ctx context.Context, id string) (*zimfarm.Task, error)
	CancelRequestedTaskFn func(ctx context.Context, id string) error
	CancelTaskFn          func(ctx context.Context, id string) error

	calls []string
}

func (m *mockFarm) CreateSchedule(ctx context.Context, schedule zimfarm.Schedule) error {
	m.calls = append(m.calls, "CreateSchedule")
	if m.CreateScheduleFn != nil {
		return m.CreateScheduleFn(ctx, schedule)
	}
	return nil
}

func (m *mockFarm) DeleteSchedule(ctx context.Context, name string) error {
	m.calls = append(m.calls, "DeleteSchedule")
	if m.DeleteScheduleFn != nil {
		return m.DeleteScheduleFn(ctx, name)
	}
	return nil
}

func (m *mockFarm) RequestTasks(ctx context.Context, names []string, worker string) ([]string, error) {
	m.calls = append(m.calls, "RequestTasks")
	if m.RequestTasksFn != nil {
		return m.RequestTasksFn(ctx, names, worker)
	}
	return []string{"task-1"}, nil
}

func (m *mockFarm) GetTask(ctx context.Context, id string) (*zimfarm.Task, error) {
	m.calls = append(m.calls, "GetTask")
	if m.GetTaskFn != nil {
		return m.GetTaskFn(ctx, id)
	}
	return nil, zimfarm.ErrNotFound
}

func (m *mockFarm) GetRequestedTask(ctx context.Context, id string) (*zimfarm.Task, error) {
	m.calls = append(m.calls, "GetRequestedTask")
	if m.GetRequestedTaskFn != nil {
		return m.GetRequestedTaskFn(ctx, id)
	}
	return nil, zimfarm.ErrNotFound
}

func (m *mockFarm) CancelRequestedTask(ctx context.Context, id string) error {
	m.calls = append(m.calls, "CancelRequestedTask")
	if m.CancelRequestedTaskFn != nil {
		return m.CancelRequestedTaskFn(ctx, id)
	}
	return nil
}

func (m *mockFarm) CancelTask(ctx context.Context, id string) error {
	m.calls = append(m.calls, "CancelTask")
	if m.CancelTaskFn != nil {
		return m.CancelTaskFn(ctx, id)
	}
	return nil
}

type addTaskCall struct {
	IP, Identity, TaskRef string
}

type mockAdmission struct {
	AddTaskFn     func(ctx context.Context, ip, identity, taskRef string) (tracker.Decision, error)
	OwnsFn        func(identity, taskRef string) (bool, error)
	ReleaseTaskFn func(identity, taskRef string) (bool, error)

	addCalls []addTaskCall
	released []string
}

func (m *mockAdmission) AddTask(ctx context.Context, ip, identity, taskRef string) (tracker.Decision, error) {
	m.addCalls = append(m.addCalls, addTaskCall{IP: ip, Identity: identity, TaskRef: taskRef})
	if m.AddTaskFn != nil {
		return m.AddTaskFn(ctx, ip, identity, taskRef)
	}
	if taskRef == "" {
		return tracker.Decision{Status: tracker.StatusCanAddTask}, nil
	}
	return tracker.Decision{Status: tracker.StatusTaskAdded}, nil
}

func (m *mockAdmission) Owns(identity, taskRef string) (bool, error) {
	if m.OwnsFn != nil {
		return m.OwnsFn(identity, taskRef)
	}
	return true, nil
}

func (m *mockAdmission) ReleaseTask(identity, taskRef string) (bool, error) {
	m.released = append(m.released, taskRef)
	if m.ReleaseTaskFn != nil {
		return m.ReleaseTaskFn(identity, taskRef)
	}
	return true, nil
}

type mockBlacklist struct {
	ReasonFn func(url string) (string, bool)
}

func (m *mockBlacklist) Reason(url string) (string, bool) {
	return m.ReasonFn(url)
}
