// The facilitator server: verifies and settles x402 payments on Solana.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/x402svm/facilitator/internal/audit"
	"github.com/x402svm/facilitator/internal/config"
	"github.com/x402svm/facilitator/internal/versioning"
	"github.com/x402svm/facilitator/pkg/facilitator"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config yaml (optional; env vars always apply)")
	flag.Parse()

	// Missing .env is fine: production deployments configure through the
	// environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("main.config_load_failed")
	}

	app, err := facilitator.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("main.bootstrap_failed")
	}
	defer app.Close()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  cfg.Server.IdleTimeout.Duration,
		Handler:      app.Handler(),
	}

	startEvent := audit.NewEvent(audit.EventServerStarted)
	startEvent.Network = cfg.Chain.Network
	startEvent.Metadata = map[string]string{"version": versioning.Version}
	app.Audit.Emit(startEvent)

	errCh := make(chan error, 1)
	go func() {
		app.Logger.Info().
			Str("addr", server.Addr).
			Str("version", versioning.Version).
			Msg("main.listening")
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		app.Logger.Info().Str("signal", sig.String()).Msg("main.shutting_down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.Logger.Error().Err(err).Msg("main.server_failed")
		}
	}

	stopEvent := audit.NewEvent(audit.EventServerStopped)
	stopEvent.Network = cfg.Chain.Network
	app.Audit.Emit(stopEvent)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		app.Logger.Error().Err(err).Msg("main.shutdown_failed")
	}
}
