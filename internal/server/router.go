// internal/server/router.go
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"libranexus/internal/catalog"
	"libranexus/internal/circulation"
	"libranexus/internal/httpx"
)

type Config struct {
	Catalog catalog.Service
	Orders  circulation.Service
	Logger  *zap.Logger
	// Limiter guards the API routes. Nil disables rate limiting.
	Limiter *rate.Limiter
	// Health reports whether the storage backend is reachable. Nil means
	// always healthy.
	Health func(ctx context.Context) error
}

// NewRouter mounts the item and order API next to the health and metrics
// endpoints.
func NewRouter(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpx.Instrument(cfg.Logger))

	r.Get("/healthz", healthz(cfg.Health))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if cfg.Limiter != nil {
			r.Use(httpx.RateLimit(cfg.Limiter))
		}
		r.Use(middleware.Timeout(30 * time.Second))
		catalog.NewHandler(cfg.Catalog).Register(r)
		circulation.NewHandler(cfg.Orders).Register(r)
	})

	return r
}

func healthz(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
