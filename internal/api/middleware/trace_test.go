package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"

	"github.com/openzim/zimit-broker/internal/api/shared"
	"github.com/openzim/zimit-broker/internal/platform/logger"
)

func TestTraceMiddleware(t *testing.T) {
	var logBuf strings.Builder
	log := slog.New(slog.NewTextHandler(&logBuf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	var traceID string
	handler := chimw.RequestID(NewTraceMiddleware(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = shared.GetTraceID(r.Context())
		logger.FromContext(r.Context()).Info("inside handler")
	})))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/requests/abc", nil))

	assert.Len(t, traceID, 32)
	logs := logBuf.String()
	assert.Contains(t, logs, "request started")
	assert.Contains(t, logs, "msg=\"inside handler\" trace_id="+traceID)
	assert.Contains(t, logs, "request_id=")
}

func TestTraceMiddlewareNilLogger(t *testing.T) {
	called := false
	handler := NewTraceMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.NotEmpty(t, shared.GetTraceID(r.Context()))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
}
