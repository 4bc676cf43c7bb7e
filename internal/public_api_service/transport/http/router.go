package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouteRegistrar is implemented by every handler that mounts its own routes.
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

// RouterConfig collects the handlers served by the pipeline process.
// Nil entries are skipped.
type RouterConfig struct {
	Webhook    RouteRegistrar // /webhooks/...
	Messages   RouteRegistrar // /api/v1/...
	Deliveries RouteRegistrar // /api/v1/...
	Ops        RouteRegistrar // /ops/...
	Websocket  http.Handler   // /ws
	// HealthCheck reports readiness; nil means always healthy.
	HealthCheck    func(r *http.Request) error
	RequestTimeout time.Duration
}

func NewRouter(cfg RouterConfig) chi.Router {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(chi_middleware.RequestID)
	r.Use(chi_middleware.RealIP)
	r.Use(chi_middleware.Recoverer)
	r.Use(PrometheusMetricsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if cfg.HealthCheck != nil {
			if err := cfg.HealthCheck(req); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	if cfg.Websocket != nil {
		r.Handle("/ws", cfg.Websocket)
	}

	// Everything below answers within the request timeout; /ws is long-lived.
	r.Group(func(r chi.Router) {
		r.Use(chi_middleware.Timeout(cfg.RequestTimeout))
		if cfg.Webhook != nil {
			cfg.Webhook.RegisterRoutes(r)
		}
		r.Route("/api/v1", func(r chi.Router) {
			if cfg.Messages != nil {
				cfg.Messages.RegisterRoutes(r)
			}
			if cfg.Deliveries != nil {
				cfg.Deliveries.RegisterRoutes(r)
			}
		})
		if cfg.Ops != nil {
			r.Route("/ops", cfg.Ops.RegisterRoutes)
		}
	})
	return r
}
