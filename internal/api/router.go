package api

import (
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	apiMiddleware "github.com/openzim/zimit-broker/internal/api/middleware"
)

// RouterConfig holds the handlers and settings of the HTTP router.
type RouterConfig struct {
	Tracker  *TrackerHandler
	Requests *RequestHandler
	Hook     *HookHandler
	Health   *HealthHandler

	// Metrics serves the Prometheus registry; nil disables /metrics.
	Metrics     http.Handler
	HTTPMetrics *apiMiddleware.HTTPMetrics

	AllowedOrigins []string
	// TrustedProxies may set the client address through forwarding headers.
	TrustedProxies []netip.Prefix
	// RequestTimeout cancels request contexts after the given duration when set.
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// NewRouter creates the application router. Every endpoint lives under
// /api/v1; /health and /metrics are also served at the root for probes.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(apiMiddleware.NewRealIPMiddleware(cfg.TrustedProxies))
	r.Use(chimw.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(chimw.Timeout(cfg.RequestTimeout))
	}
	r.Use(apiMiddleware.NewTraceMiddleware(cfg.Logger))
	if cfg.HTTPMetrics != nil {
		r.Use(cfg.HTTPMetrics.Handler)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", cfg.Health.Health)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", cfg.Health.Health)
		r.Post("/tracker_status", cfg.Tracker.Status)

		r.Post("/requests", cfg.Requests.CreateRequest)
		r.Get("/requests/{id}", cfg.Requests.GetRequest)
		r.Delete("/requests/{id}", cfg.Requests.CancelRequest)

		r.Post("/hook", cfg.Hook.Hook)
	})

	return r
}
