// Package jobs schedules the periodic version check, either through asynq
// when Redis is available or with an in-process ticker.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// Checker runs version checks. *offline.Manager satisfies it.
type Checker interface {
	CheckForUpdate(ctx context.Context) (bool, error)
	CheckIfDue(ctx context.Context) (bool, error)
}

// NewMux routes version check tasks to c. Check failures are logged and the
// task is dropped; malformed payloads are skipped without retry.
func NewMux(c Checker, log zerolog.Logger) *asynq.ServeMux {
	log = log.With().Str("component", "jobs").Logger()

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskCheckVersion, func(ctx context.Context, t *asynq.Task) error {
		var p CheckVersionPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			log.Error().Err(err).Msg("bad check_version payload")
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}

		start := time.Now()
		changed, err := run(ctx, c, p.Reason)
		lvl := zerolog.InfoLevel
		if err != nil {
			lvl = zerolog.WarnLevel
		}
		log.WithLevel(lvl).Err(err).
			Str("reason", p.Reason).
			Bool("changed", changed).
			Dur("duration", time.Since(start)).
			Msg("version check")
		return nil
	})
	return mux
}

func run(ctx context.Context, c Checker, reason string) (bool, error) {
	if reason == ReasonManual {
		return c.CheckForUpdate(ctx)
	}
	return c.CheckIfDue(ctx)
}

// RegisterSchedule adds the periodic version check to s
func RegisterSchedule(s *asynq.Scheduler, interval, timeout time.Duration) (string, error) {
	if interval <= 0 {
		return "", fmt.Errorf("jobs: interval must be positive, got %s", interval)
	}
	task, err := NewCheckVersionTask(ReasonSchedule, timeout, time.Now())
	if err != nil {
		return "", err
	}
	return s.Register("@every "+interval.String(), task)
}

// Ticker runs scheduled checks in process when no Redis is configured
type Ticker struct {
	Interval time.Duration
	Checker  Checker
	Log      zerolog.Logger
}

// Run checks once per interval until ctx is cancelled
func (t Ticker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			changed, err := t.Checker.CheckIfDue(ctx)
			if err != nil {
				t.Log.Debug().Err(err).Msg("scheduled version check failed")
				continue
			}
			if changed {
				t.Log.Info().Msg("scheduled version check found a new deployment")
			}
		}
	}
}
