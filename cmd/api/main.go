// cmd/api/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/repoexplorer/internal/config"
	"github.com/briangreenhill/repoexplorer/internal/http/routes"
	"github.com/briangreenhill/repoexplorer/internal/store"
)

func main() {
	boot := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		boot.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.Validate(); err != nil {
		boot.Fatal().Err(err).Msg("invalid config")
	}

	// Logger
	logger := cfg.Logger(os.Stdout)
	logger.Info().Str("port", cfg.Port).Str("backend", cfg.Cache.Backend).Msg("starting api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Cache
	h, err := store.Open(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("open cache store")
	}
	defer func() {
		if err := h.Close(); err != nil {
			logger.Error().Err(err).Msg("close cache store")
		}
	}()
	svc := store.NewService(cfg, h, logger)

	// Warm queue
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := client.Close(); err != nil {
			logger.Error().Err(err).Msg("close asynq client")
		}
	}()

	// Router / server
	s := routes.New(routes.ServerOptions{
		Repos:      svc,
		Enqueuer:   client,
		Orgs:       cfg.Orgs,
		AdminToken: cfg.AdminToken,
		Logger:     logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown")
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("listen")
	}
	logger.Info().Msg("api stopped")
}
