package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealth(t *testing.T) {
	handler := NewHealthHandler(func() int { return 4 }, func() int { return 12 })

	for _, path := range []string{"/health", "/api/v1/health"} {
		t.Run(path, func(t *testing.T) {
			rec := serve(t, RouterConfig{Health: handler}, http.MethodGet, path, nil)
			requireStatus(t, rec, http.StatusOK)

			var resp HealthResponse
			decodeResponse(t, rec, &resp)
			assert.Equal(t, HealthResponse{Status: "ok", TrackedClients: 4, BlacklistEntries: 12}, resp)
		})
	}
}

func TestHealth_NilGauges(t *testing.T) {
	rec := serve(t, RouterConfig{}, http.MethodGet, "/health", nil)
	requireStatus(t, rec, http.StatusOK)

	var resp HealthResponse
	decodeResponse(t, rec, &resp)
	assert.Equal(t, "ok", resp.Status)
	assert.Zero(t, resp.TrackedClients)
	assert.Zero(t, resp.BlacklistEntries)
}
