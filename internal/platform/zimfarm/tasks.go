package zimfarm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// GetRequestedTask returns a task still waiting for a worker.
func (c *Client) GetRequestedTask(ctx context.Context, id string) (*Task, error) {
	var task Task
	if err := c.do(ctx, http.MethodGet, "/requested-tasks/"+url.PathEscape(id), nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// GetTask returns a task that was picked up by a worker. Secrets are hidden.
func (c *Client) GetTask(ctx context.Context, id string) (*Task, error) {
	var task Task
	if err := c.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(id)+"?hide_secrets=", nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// CreateSchedule registers a schedule. The farm answers ErrBadRequest when the
// schedule, usually its flags, is invalid.
func (c *Client) CreateSchedule(ctx context.Context, schedule Schedule) error {
	return c.do(ctx, http.MethodPost, "/schedules/", schedule, nil)
}

// DeleteSchedule removes a schedule. Tasks already requested from it are kept.
func (c *Client) DeleteSchedule(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/schedules/"+url.PathEscape(name), nil, nil)
}

// RequestTasks requests a task for each schedule and returns the ids of the
// requested tasks. An empty worker lets the farm pick one.
func (c *Client) RequestTasks(ctx context.Context, scheduleNames []string, worker string) ([]string, error) {
	var resp requestTasksResponse
	payload := requestTasksPayload{ScheduleNames: scheduleNames, Worker: worker}
	if err := c.do(ctx, http.MethodPost, "/requested-tasks/", payload, &resp); err != nil {
		return nil, err
	}
	if len(resp.Requested) == 0 {
		return nil, fmt.Errorf("%w: no task was requested", ErrMalformedResponse)
	}
	return resp.Requested, nil
}

// CancelRequestedTask deletes a task no worker picked up yet.
func (c *Client) CancelRequestedTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/requested-tasks/"+url.PathEscape(id), nil, nil)
}

// CancelTask asks the worker running a task to stop it.
func (c *Client) CancelTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/tasks/"+url.PathEscape(id)+"/cancel", nil, nil)
}

// Ping checks that the farm is reachable and the credentials are accepted.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/auth/test", nil, nil)
}
