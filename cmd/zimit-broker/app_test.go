package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	smtpmock "github.com/mocktools/go-smtp-mock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openzim/zimit-broker/internal/config"
)

const (
	testDigestKey = "723a207d91341918"
	testHookToken = "0123456789abcdef0123"
)

// fakeFarm serves the Zimfarm endpoints used by the broker and keeps the
// requested tasks in memory.
type fakeFarm struct {
	server *httptest.Server

	mu        sync.Mutex
	schedules map[string]json.RawMessage
	tasks     map[string]string
	nextID    int
}

func newFakeFarm(t *testing.T) *fakeFarm {
	t.Helper()
	f := &fakeFarm{schedules: map[string]json.RawMessage{}, tasks: map[string]string{}}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/authorize", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"access_token":"farm-token","refresh_token":"refresh"}`)
	})
	mux.HandleFunc("GET /auth/test", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /schedules/", func(w http.ResponseWriter, r *http.Request) {
		var schedule struct {
			Name string `json:"name"`
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &schedule); err != nil || schedule.Name == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.schedules[schedule.Name] = body
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("DELETE /schedules/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		delete(f.schedules, r.PathValue("name"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /requested-tasks/", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		f.nextID++
		id := fmt.Sprintf("task-%d", f.nextID)
		f.tasks[id] = "requested"
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string][]string{"requested": {id}})
	})
	mux.HandleFunc("GET /requested-tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		status, ok := f.tasks[r.PathValue("id")]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     r.PathValue("id"),
			"status": status,
			"config": map[string]any{
				"warehouse_path": "/other",
				"offliner":       map[string]any{"seeds": "https://example.com/"},
			},
		})
	})
	mux.HandleFunc("DELETE /requested-tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		delete(f.tasks, r.PathValue("id"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /tasks/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeFarm) scheduleCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.schedules)
}

func testConfig(farmURL string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:           8000,
			LogLevel:       "debug",
			AllowedOrigins: []string{"http://localhost"},
			RequestTimeout: 5 * time.Second,
		},
		Farm: config.FarmConfig{
			APIURL:          farmURL,
			Username:        "user",
			Password:        "secret",
			RequestsTimeout: 2 * time.Second,
		},
		Tracker: config.TrackerConfig{
			DigestKey:         testDigestKey,
			MaxTasksPerClient: 1,
			OracleTimeout:     time.Second,
			SweepSchedule:     "@every 10m",
			FailOpen:          true,
		},
		Zimit: config.ZimitConfig{
			Image:      "openzim/zimit:1.2.0",
			SizeLimit:  4 << 30,
			TimeLimit:  7200,
			TaskCPU:    3,
			TaskMemory: "1GiB",
			TaskDisk:   "1GiB",
		},
		Mail: config.MailConfig{Workers: 1, Queue: 10},
		Hook: config.HookConfig{
			Token:           testHookToken,
			CallbackBaseURL: "https://zimit.example.org/api/v1/hook",
		},
		Public: config.PublicConfig{
			URL:            "https://zimit.example.org",
			ZimDownloadURL: "https://download.example.org/zim",
			ContactUsURL:   "https://www.example.org/contact/",
		},
		Blacklist: config.BlacklistConfig{RefreshSchedule: "@every 1h"},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startTestApp builds and starts the application and serves its router.
func startTestApp(t *testing.T, cfg *config.Config) (*application, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	app, err := newApplication(ctx, cfg, discardLogger())
	require.NoError(t, err)
	app.start(ctx)
	t.Cleanup(app.cleanup)

	server := httptest.NewServer(app.setupRouter())
	t.Cleanup(server.Close)
	return app, server
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestNewApplication_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(cfg *config.Config)
	}{
		{"bad digest key", func(cfg *config.Config) { cfg.Tracker.DigestKey = "not-hex" }},
		{"bad capacity", func(cfg *config.Config) { cfg.Tracker.MaxTasksPerClient = 0 }},
		{"bad image", func(cfg *config.Config) { cfg.Zimit.Image = "zimit" }},
		{"bad memory", func(cfg *config.Config) { cfg.Zimit.TaskMemory = "lots" }},
		{"missing farm credentials", func(cfg *config.Config) { cfg.Farm.Password = "" }},
		{"bad sweep schedule", func(cfg *config.Config) { cfg.Tracker.SweepSchedule = "every now and then" }},
		{"mail enabled without host", func(cfg *config.Config) { cfg.Mail.Enabled = true }},
		{"bad trusted proxy", func(cfg *config.Config) { cfg.Server.TrustedProxies = []string{"proxy.local"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig("http://127.0.0.1:1")
			tt.modify(cfg)
			_, err := newApplication(context.Background(), cfg, discardLogger())
			assert.Error(t, err)
		})
	}
}

func TestApplication_RequestLifecycle(t *testing.T) {
	farm := newFakeFarm(t)
	_, server := startTestApp(t, testConfig(farm.server.URL))
	api := server.URL + "/api/v1"

	// A new caller may request a task
	resp := postJSON(t, api+"/tracker_status", map[string]string{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status map[string]any
	decodeBody(t, resp, &status)
	assert.Equal(t, "can_add_task", status["status"])

	// The first request mints an identity
	resp = postJSON(t, api+"/requests", map[string]any{"url": "https://example.com/", "email": "someone@example.com"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		ID          string  `json:"id"`
		NewUniqueID *string `json:"newUniqueId"`
	}
	decodeBody(t, resp, &created)
	assert.Equal(t, "task-1", created.ID)
	require.NotNil(t, created.NewUniqueID)
	identity := *created.NewUniqueID
	assert.Equal(t, 0, farm.scheduleCount(), "schedule is deleted once the task is requested")

	// The caller is at capacity while the task is requested
	resp = postJSON(t, api+"/requests", map[string]any{"url": "https://example.com/", "uniqueId": identity})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	var refused map[string]any
	decodeBody(t, resp, &refused)
	assert.Equal(t, "too_many_tasks_for_unique_id", refused["error"])

	// Anonymous requests from the same address are refused too
	resp = postJSON(t, api+"/tracker_status", map[string]string{})
	decodeBody(t, resp, &status)
	assert.Equal(t, "too_many_tasks_for_ip_address", status["status"])

	// A forged forwarding header does not move the caller to another address
	req, err := http.NewRequest(http.MethodPost, api+"/tracker_status", strings.NewReader("{}"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	spoofed, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer spoofed.Body.Close()
	status = map[string]any{}
	decodeBody(t, spoofed, &status)
	assert.Equal(t, "too_many_tasks_for_ip_address", status["status"])

	// Task info
	infoResp, err := http.Get(api + "/requests/task-1")
	require.NoError(t, err)
	defer infoResp.Body.Close()
	require.Equal(t, http.StatusOK, infoResp.StatusCode)
	var info map[string]any
	decodeBody(t, infoResp, &info)
	assert.Equal(t, "requested", info["status"])

	// Someone else cannot cancel the task
	req, err = http.NewRequest(http.MethodDelete, api+"/requests/task-1", strings.NewReader(`{"uniqueId":"other|sig"}`))
	require.NoError(t, err)
	cancelResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = cancelResp.Body.Close()
	assert.Equal(t, http.StatusForbidden, cancelResp.StatusCode)

	// The owner cancels it and gets the quota back
	req, err = http.NewRequest(http.MethodDelete, api+"/requests/task-1",
		strings.NewReader(fmt.Sprintf(`{"uniqueId":%q}`, identity)))
	require.NoError(t, err)
	cancelResp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = cancelResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, cancelResp.StatusCode)

	resp = postJSON(t, api+"/tracker_status", map[string]string{"uniqueId": identity})
	decodeBody(t, resp, &status)
	assert.Equal(t, "can_add_task", status["status"])

	// Unknown task
	missing, err := http.Get(api + "/requests/task-1")
	require.NoError(t, err)
	_ = missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestApplication_HealthAndMetrics(t *testing.T) {
	farm := newFakeFarm(t)
	_, server := startTestApp(t, testConfig(farm.server.URL))

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]any
	decodeBody(t, resp, &health)
	assert.Equal(t, "ok", health["status"])

	metrics, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	body, err := io.ReadAll(metrics.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "zimit_tracker_client_records")
	assert.Contains(t, string(body), "zimit_api_requests_processed_total")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestApplication_HookSendsMail(t *testing.T) {
	smtpServer := smtpmock.New(smtpmock.ConfigurationAttr{HostAddress: "127.0.0.1"})
	require.NoError(t, smtpServer.Start())
	t.Cleanup(func() { _ = smtpServer.Stop() })

	farm := newFakeFarm(t)
	cfg := testConfig(farm.server.URL)
	cfg.Mail = config.MailConfig{
		Enabled: true,
		Host:    "127.0.0.1",
		Port:    smtpServer.PortNumber(),
		From:    "Zimit <info@zimit.example.org>",
		Hello:   "localhost",
		Workers: 1,
		Queue:   10,
	}
	_, server := startTestApp(t, cfg)

	task := map[string]any{
		"id":     "6f1c2a4e-0000-0000-0000-000000000000",
		"status": "requested",
		"config": map[string]any{
			"warehouse_path": "/other",
			"offliner":       map[string]any{"seeds": "https://example.com/"},
		},
	}
	url := fmt.Sprintf("%s/api/v1/hook?token=%s&target=%s&lang=en",
		server.URL, testHookToken, "someone%40example.com")
	resp := postJSON(t, url, task)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var hook map[string]string
	decodeBody(t, resp, &hook)
	assert.Equal(t, "success", hook["status"])

	require.Eventually(t, func() bool { return len(smtpServer.Messages()) == 1 }, 5*time.Second, 20*time.Millisecond)
	msg := smtpServer.Messages()[0]
	assert.Contains(t, msg.RcpttoRequestResponse()[0][0], "<someone@example.com>")
	assert.Contains(t, msg.MsgRequest(), "Subject: Your ZIM request for https://example.com/ has been received")
}

func TestApplication_HookRejectsBadToken(t *testing.T) {
	farm := newFakeFarm(t)
	_, server := startTestApp(t, testConfig(farm.server.URL))

	resp := postJSON(t, server.URL+"/api/v1/hook?token=wrong&target=someone%40example.com", map[string]any{
		"id": "task-1", "status": "succeeded",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var hook map[string]string
	decodeBody(t, resp, &hook)
	assert.Equal(t, "failed", hook["status"])
}

func TestApplication_RunStopsWithContext(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	farm := newFakeFarm(t)
	cfg := testConfig(farm.server.URL)
	cfg.Server.Port = port

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	app, err := newApplication(ctx, cfg, discardLogger())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(healthURL)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
