// Package http assembles the engine's HTTP surface: platform middleware,
// health and metrics endpoints, and the per-feature route registrations.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	platformmetrics "dhfcore/internal/platform/metrics"
	"dhfcore/internal/platform/middleware"
)

// Registrar is implemented by every feature handler.
type Registrar interface {
	Register(r chi.Router)
}

const requestTimeout = 30 * time.Second

// NewRouter builds the full router. Everything under the API group requires
// a valid bearer token; health and metrics stay open for probes and
// scrapers.
func NewRouter(logger *slog.Logger, m *platformmetrics.Metrics, validator middleware.TokenValidator, handlers ...Registrar) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))
	if m != nil {
		r.Use(m.Middleware)
	}
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(api chi.Router) {
		api.Use(middleware.ContentTypeJSON)
		api.Use(middleware.RequireAuth(validator, logger))
		for _, h := range handlers {
			h.Register(api)
		}
	})

	return r
}
