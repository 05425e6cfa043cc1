// Command executor is the process entry point: environment parsing,
// logging setup, and server wiring. None of this is part of the execution
// core (spec.md §1) — it is the process startup glue the core is handed
// to, constructed once and passed down explicitly.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ayunis-core/execution-worker/internal/config"
	"github.com/ayunis-core/execution-worker/internal/engine"
	"github.com/ayunis-core/execution-worker/internal/execsvc"
	"github.com/ayunis-core/execution-worker/internal/httpapi"
	"github.com/ayunis-core/execution-worker/internal/provisioner"
	"github.com/ayunis-core/execution-worker/internal/sandbox"
)

const serviceName = "execution-worker"

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	log.Info().Str("service", serviceName).Msg("starting")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	dockerEngine, err := engine.NewDockerEngine()
	if err != nil {
		log.Fatal().Err(err).Msg("could not create docker client")
	}
	defer dockerEngine.Close()

	prov := provisioner.New(dockerEngine, cfg.SandboxImageTag)
	if !prov.Ready() {
		log.Warn().Str("tag", cfg.SandboxImageTag).Msg("sandbox image unavailable, service will fail every request until repaired")
	}

	runner := sandbox.New(dockerEngine, cfg)
	svc := execsvc.New(runner, prov)

	srv := httpapi.NewHTTPServer(cfg.Host+":"+cfg.Port, httpapi.NewServer(svc, prov), cfg.ExecutionTimeout)

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}

	log.Info().Msg("shutdown complete")
}
