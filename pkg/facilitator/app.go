// Package facilitator wires the x402 payment facilitator components for
// standalone serving or embedding into a larger router.
package facilitator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/x402svm/facilitator/internal/accountcache"
	"github.com/x402svm/facilitator/internal/audit"
	"github.com/x402svm/facilitator/internal/circuitbreaker"
	"github.com/x402svm/facilitator/internal/config"
	"github.com/x402svm/facilitator/internal/dbpool"
	"github.com/x402svm/facilitator/internal/dedup"
	"github.com/x402svm/facilitator/internal/httpserver"
	"github.com/x402svm/facilitator/internal/lifecycle"
	"github.com/x402svm/facilitator/internal/logger"
	"github.com/x402svm/facilitator/internal/metrics"
	"github.com/x402svm/facilitator/internal/pipeline"
	"github.com/x402svm/facilitator/internal/versioning"
	"github.com/x402svm/facilitator/internal/webhooks"
	"github.com/x402svm/facilitator/pkg/x402/svm"
)

// App assembles the facilitator: chain client, verification pipeline,
// audit, webhooks, and the HTTP surface.
type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Service  *pipeline.Service
	Chain    svm.ChainClient
	Audit    *audit.Logger
	Webhooks webhooks.Dispatcher
	Metrics  *metrics.Metrics

	router          chi.Router
	resourceManager *lifecycle.Manager
}

// Option configures App construction.
type Option func(*options)

type options struct {
	chain      svm.ChainClient
	router     chi.Router
	registerer prometheus.Registerer
	clock      func() time.Time
}

// WithChainClient injects a custom chain client, bypassing the RPC client
// built from configuration. Used by tests and embedders with their own
// connection management.
func WithChainClient(chain svm.ChainClient) Option {
	return func(o *options) { o.chain = chain }
}

// WithRouter registers the facilitator routes onto an existing chi.Router.
func WithRouter(router chi.Router) Option {
	return func(o *options) { o.router = router }
}

// WithRegisterer sets the Prometheus registerer for the metrics collector.
// Defaults to prometheus.DefaultRegisterer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithClock overrides the time source used for payment expiry checks.
// Tests use it to pin verification to a fixed instant.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// New assembles the facilitator from configuration.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("facilitator: config required")
	}

	optState := options{}
	for _, opt := range opts {
		opt(&optState)
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     versioning.Service,
		Version:     versioning.Version,
		Environment: cfg.Logging.Environment,
	})

	app := &App{
		Config:          cfg,
		Logger:          appLogger,
		resourceManager: lifecycle.NewManager(),
	}

	registerer := optState.registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	app.Metrics = metrics.New(registerer)

	breaker := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker)

	if optState.chain != nil {
		app.Chain = optState.chain
	} else {
		app.Chain = svm.NewRPCClient(cfg.Chain.RPCURL, breaker, app.Metrics)
	}

	feePayer, err := svm.LoadFeePayer(cfg.Chain.FeePayerKey)
	if err != nil {
		return nil, fmt.Errorf("facilitator: load fee payer key: %w", err)
	}
	appLogger.Info().
		Str("fee_payer", logger.TruncateAddress(feePayer.PublicKey().String())).
		Str("network", cfg.Chain.Network).
		Msg("app.fee_payer_loaded")

	cache := accountcache.New(cfg.Verification.CacheSize, cfg.Verification.CacheTTL.Duration)
	app.resourceManager.RegisterFunc("account_cache", func() error {
		cache.Stop()
		return nil
	})

	store := dedup.New(cfg.Verification.DedupMaxEntries, cfg.Verification.DedupWindow.Duration)
	app.resourceManager.RegisterFunc("dedup_store", func() error {
		store.Stop()
		return nil
	})

	journal, err := buildJournal(cfg, app.Metrics, appLogger, app.resourceManager)
	if err != nil {
		app.resourceManager.Close()
		return nil, err
	}
	app.Audit = audit.NewLogger(journal, cfg.Audit.QueueSize, app.Metrics, appLogger)
	app.resourceManager.RegisterFunc("audit_logger", app.Audit.Close)

	app.Webhooks = webhooks.New(cfg.Webhook, breaker, app.Metrics, appLogger)
	app.resourceManager.RegisterFunc("webhook_dispatcher", func() error {
		app.Webhooks.Close()
		return nil
	})

	verifier := svm.NewVerifier(app.Chain, cache, app.Metrics)
	submitter := svm.NewSubmitter(app.Chain, appLogger)
	app.Service = pipeline.New(pipeline.Config{
		FeePayer:          feePayer,
		PaymentExpiry:     cfg.Verification.PaymentExpiry.Duration,
		SubmitMaxAttempts: cfg.Chain.SubmitMaxAttempts,
		SubmitTimeout:     cfg.Chain.SubmitTimeout.Duration,
		Clock:             optState.clock,
	}, verifier, submitter, store, app.Audit, app.Webhooks, app.Metrics, appLogger)

	router := optState.router
	if router == nil {
		router = chi.NewRouter()
	}
	httpserver.ConfigureRouter(router, httpserver.Deps{
		Config:  cfg,
		Service: app.Service,
		Chain:   app.Chain,
		Dedup:   store,
		Cache:   cache,
		Breaker: breaker,
		Metrics: app.Metrics,
		Logger:  appLogger,
	})
	app.router = router

	return app, nil
}

// buildJournal selects the audit backend from configuration. Unknown
// backends fall back to the structured log with a warning, so a typo in
// deployment config degrades durability instead of refusing to start.
func buildJournal(cfg *config.Config, m *metrics.Metrics, log zerolog.Logger, resources *lifecycle.Manager) (audit.Journal, error) {
	ctx := context.Background()

	switch cfg.Audit.Backend {
	case "postgres":
		pool, err := dbpool.NewSharedPool(cfg.Audit.PostgresDSN, cfg.Audit.Pool)
		if err != nil {
			return nil, fmt.Errorf("facilitator: audit postgres pool: %w", err)
		}
		resources.Register("audit_db_pool", pool)
		journal, err := audit.NewPostgresJournal(ctx, pool.DB(), m)
		if err != nil {
			return nil, fmt.Errorf("facilitator: audit postgres journal: %w", err)
		}
		return journal, nil
	case "mongodb":
		journal, err := audit.NewMongoJournal(ctx, cfg.Audit.MongoDBURI, cfg.Audit.MongoDBDatabase, m)
		if err != nil {
			return nil, fmt.Errorf("facilitator: audit mongodb journal: %w", err)
		}
		return journal, nil
	case "", "log":
		return audit.NewLogJournal(log), nil
	default:
		log.Warn().
			Str("backend", cfg.Audit.Backend).
			Msg("app.unknown_audit_backend_using_log")
		return audit.NewLogJournal(log), nil
	}
}

// Router returns the router carrying the facilitator routes.
func (a *App) Router() chi.Router {
	return a.router
}

// Handler returns the root HTTP handler for serving.
func (a *App) Handler() chi.Router {
	return a.router
}

// Close releases background resources in reverse registration order.
func (a *App) Close() error {
	return a.resourceManager.Close()
}
