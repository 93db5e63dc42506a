package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openzim/zimit-broker/internal/notify"
	"github.com/openzim/zimit-broker/internal/platform/zimfarm"
	"github.com/openzim/zimit-broker/internal/service"
	"github.com/openzim/zimit-broker/internal/tracker"
)

// mockAdmissionChecker is a mock implementation of AdmissionChecker
type mockAdmissionChecker struct {
	trackerStatusFn func(ctx context.Context, ip, identity string) (tracker.Decision, error)
}

func (m *mockAdmissionChecker) TrackerStatus(ctx context.Context, ip, identity string) (tracker.Decision, error) {
	return m.trackerStatusFn(ctx, ip, identity)
}

// mockCaptureRequests is a mock implementation of CaptureRequests
type mockCaptureRequests struct {
	createTaskFn func(ctx context.Context, ip string, req service.CreateTaskRequest) (*service.CreateTaskResult, error)
	taskInfoFn   func(ctx context.Context, taskID string) (*service.TaskInfo, error)
	cancelTaskFn func(ctx context.Context, identity, taskID string) error
}

func (m *mockCaptureRequests) CreateTask(
	ctx context.Context,
	ip string,
	req service.CreateTaskRequest,
) (*service.CreateTaskResult, error) {
	return m.createTaskFn(ctx, ip, req)
}

func (m *mockCaptureRequests) TaskInfo(ctx context.Context, taskID string) (*service.TaskInfo, error) {
	return m.taskInfoFn(ctx, taskID)
}

func (m *mockCaptureRequests) CancelTask(ctx context.Context, identity, taskID string) error {
	return m.cancelTaskFn(ctx, identity, taskID)
}

// mockHookProcessor is a mock implementation of HookProcessor
type mockHookProcessor struct {
	processFn func(ctx context.Context, token, target, lang string, task *zimfarm.Task) notify.HookResult
}

func (m *mockHookProcessor) Process(
	ctx context.Context,
	token, target, lang string,
	task *zimfarm.Task,
) notify.HookResult {
	return m.processFn(ctx, token, target, lang, task)
}

// mockMailDeliverer records delivered messages
type mockMailDeliverer struct {
	delivered []notify.Message
	err       error
}

func (m *mockMailDeliverer) Deliver(_ context.Context, msg notify.Message) error {
	if m.err != nil {
		return m.err
	}
	m.delivered = append(m.delivered, msg)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// jsonBody marshals v into a request body.
func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	if s, ok := v.(string); ok {
		return bytes.NewBufferString(s)
	}
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

// serve runs the request through a router built from the given handlers so
// that chi URL parameters are populated.
func serve(t *testing.T, cfg RouterConfig, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = discardLogger()
	}
	if cfg.Health == nil {
		cfg.Health = NewHealthHandler(nil, nil)
	}
	req := httptest.NewRequest(method, target, body)
	req.RemoteAddr = "172.16.1.1:52000"
	rec := httptest.NewRecorder()
	NewRouter(cfg).ServeHTTP(rec, req)
	return rec
}

func newRequest(t *testing.T, method, target, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.RemoteAddr = "172.16.1.1:52000"
	return req
}

func record(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func requireStatus(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	require.Equal(t, status, rec.Code, "body: %s", rec.Body.String())
}
