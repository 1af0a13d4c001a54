package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/repoexplorer/internal/config"
	"github.com/briangreenhill/repoexplorer/internal/jobs"
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
	logger := cfg.Logger(os.Stdout)

	h, err := store.Open(context.Background(), cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("open cache store")
	}
	defer func() {
		if err := h.Close(); err != nil {
			logger.Error().Err(err).Msg("close cache store")
		}
	}()
	svc := store.NewService(cfg, h, logger)

	redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:    4,
		StrictPriority: false,
		Queues: map[string]int{
			jobs.QueueWarm: 10, // higher priority
			"default":      5,  // default priority
		},
		RetryDelayFunc: jobs.RetryDelay(time.Now),
		Logger:         asynqLogger{logger.With().Str("component", "asynq").Logger()},
	})
	mux := asynq.NewServeMux()
	jobs.NewHandler(svc, logger.With().Str("component", "jobs").Logger()).Register(mux)

	if cfg.WarmInterval > 0 && len(cfg.Orgs) > 0 {
		scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
			Logger: asynqLogger{logger.With().Str("component", "scheduler").Logger()},
		})
		if err := jobs.ScheduleWarmups(scheduler, cfg.Orgs, cfg.WarmInterval); err != nil {
			logger.Fatal().Err(err).Msg("schedule warmups")
		}
		if err := scheduler.Start(); err != nil {
			logger.Fatal().Err(err).Msg("start scheduler")
		}
		defer scheduler.Shutdown()
		logger.Info().Strs("orgs", cfg.Orgs).Dur("every", cfg.WarmInterval).Msg("periodic warm scheduled")
	}

	logger.Info().Msg("worker running")
	if err := srv.Run(mux); err != nil {
		logger.Fatal().Err(err).Msg("worker stopped")
	}
}

// asynqLogger adapts zerolog to asynq.Logger
type asynqLogger struct {
	l zerolog.Logger
}

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...interface{}) { a.l.Fatal().Msg(fmt.Sprint(args...)) }
