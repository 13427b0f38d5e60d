package main

import (
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/bukudoa/internal/config"
	"github.com/briangreenhill/bukudoa/internal/jobs"
)

// The worker only schedules; gateways pick the version check tasks up.
func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("component", "scheduler").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	if !cfg.HasRedis() {
		logger.Fatal().Msg("REDIS_ADDR is required")
	}

	scheduler := asynq.NewScheduler(asynq.RedisClientOpt{Addr: cfg.RedisAddr}, &asynq.SchedulerOpts{
		Location: time.UTC,
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			if err != nil {
				logger.Error().Err(err).Msg("enqueue version check")
				return
			}
			logger.Debug().Str("task", info.ID).Str("queue", info.Queue).Msg("version check enqueued")
		},
	})

	id, err := jobs.RegisterSchedule(scheduler, cfg.Update.Interval, cfg.Update.Timeout)
	if err != nil {
		logger.Fatal().Err(err).Msg("register version check")
	}
	logger.Info().
		Str("entry", id).
		Dur("interval", cfg.Update.Interval).
		Msg("scheduler running")

	if err := scheduler.Run(); err != nil {
		logger.Fatal().Err(err).Msg("scheduler stopped")
	}
}
