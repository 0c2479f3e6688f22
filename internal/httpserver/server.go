// Package httpserver exposes the facilitator's HTTP surface: the x402
// payment endpoints, health and metrics, and a small admin group.
package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/x402svm/facilitator/internal/accountcache"
	"github.com/x402svm/facilitator/internal/circuitbreaker"
	"github.com/x402svm/facilitator/internal/config"
	"github.com/x402svm/facilitator/internal/dedup"
	"github.com/x402svm/facilitator/internal/logger"
	"github.com/x402svm/facilitator/internal/metrics"
	"github.com/x402svm/facilitator/internal/pipeline"
	"github.com/x402svm/facilitator/internal/ratelimit"
	"github.com/x402svm/facilitator/pkg/x402/svm"
)

var serverStartTime = time.Now()

// Deps collects everything the handlers reach for. Chain, dedup store,
// cache, and breaker feed the admin endpoints; the pipeline service carries
// the payment flows.
type Deps struct {
	Config  *config.Config
	Service *pipeline.Service
	Chain   svm.ChainClient
	Dedup   *dedup.Store
	Cache   *accountcache.Cache
	Breaker *circuitbreaker.Manager
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg     *config.Config
	service *pipeline.Service
	chain   svm.ChainClient
	dedup   *dedup.Store
	cache   *accountcache.Cache
	breaker *circuitbreaker.Manager
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New builds the HTTP server with a configured router.
func New(deps Deps) *Server {
	router := chi.NewRouter()
	ConfigureRouter(router, deps)

	cfg := deps.Config
	return &Server{
		handlers: newHandlers(deps),
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}
}

func newHandlers(deps Deps) handlers {
	return handlers{
		cfg:     deps.Config,
		service: deps.Service,
		chain:   deps.Chain,
		dedup:   deps.Dedup,
		cache:   deps.Cache,
		breaker: deps.Breaker,
		metrics: deps.Metrics,
		logger:  deps.Logger,
	}
}

// ConfigureRouter attaches the facilitator routes to an existing router.
func ConfigureRouter(router chi.Router, deps Deps) {
	if router == nil {
		return
	}
	cfg := deps.Config
	handler := newHandlers(deps)

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(securityHeadersMiddleware)
	router.Use(logger.Middleware(deps.Logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(metricsMiddleware(deps.Metrics))

	// Lightweight endpoints: short timeout, no rate limiting so probes and
	// scrapes keep working when the payment path is saturated.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get("/health", handler.health)
		r.Handle("/metrics", promhttp.Handler())
		r.Get("/admin/health", handler.adminHealth)
		r.Get("/admin/stats", handler.adminStats)
		r.Get("/admin/config", handler.adminConfig)
	})

	// Payment endpoints: rate limited, with a timeout wide enough for
	// settlement confirmation on a slow chain.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(ratelimit.Middleware(cfg.RateLimit, deps.Metrics))
		r.Post("/verify", handler.verify)
		r.Post("/verify/batch", handler.verifyBatch)
		r.Post("/settle", handler.settle)
		r.Get("/supported", handler.supported)
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
