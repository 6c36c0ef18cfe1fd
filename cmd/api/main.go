package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"storybook/internal/bootstrap"
	httpapi "storybook/internal/http/httpapi"
	"storybook/internal/infra"
)

// jobs are not cancelled on shutdown; give a running one time to finish
const jobDrainTimeout = 2 * time.Minute

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	svc, err := bootstrap.Build(cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build illustration pipeline")
	}

	router := httpapi.NewRouter(svc.App(), cfg, logger)
	server := infra.NewHTTPServer(cfg, router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("addr", server.Addr()).
		Str("env", cfg.AppEnv).
		Bool("async", cfg.AsyncIllustrations).
		Msg("API listening")
	if err := server.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("http server failed")
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), jobDrainTimeout)
	defer cancel()
	if err := svc.Shutdown(drainCtx); err != nil {
		logger.Warn().Err(err).Msg("job worker still busy at shutdown")
	}
	logger.Info().Msg("server stopped")
}
