package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openzim/zimit-broker/internal/api"
)

// setupRouter creates the HTTP handlers from the application dependencies.
func (app *application) setupRouter() http.Handler {
	return api.NewRouter(api.RouterConfig{
		Tracker:        api.NewTrackerHandler(app.requests, app.logger),
		Requests:       api.NewRequestHandler(app.requests, app.logger),
		Hook:           api.NewHookHandler(app.hooks, app.dispatcher, app.logger),
		Health:         api.NewHealthHandler(app.tracker.Len, app.blacklist.Len),
		Metrics:        promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}),
		HTTPMetrics:    app.httpMetrics,
		AllowedOrigins: app.config.Server.AllowedOrigins,
		TrustedProxies: app.trustedProxies,
		RequestTimeout: app.config.Server.RequestTimeout,
		Logger:         app.logger,
	})
}
