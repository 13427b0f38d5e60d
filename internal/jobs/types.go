package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const TaskCheckVersion = "sw:check_version"

// QueueVersion carries version checks only
const QueueVersion = "version"

// Trigger reasons
const (
	ReasonSchedule = "schedule"
	ReasonManual   = "manual"
)

type CheckVersionPayload struct {
	Reason     string `json:"reason"`
	QueuedUnix int64  `json:"queued_unix,omitempty"`
}

// NewCheckVersionTask builds a version check task. Checks are never retried;
// the next scheduled check is the retry. timeout bounds a single run.
func NewCheckVersionTask(reason string, timeout time.Duration, now time.Time) (*asynq.Task, error) {
	payload, err := json.Marshal(CheckVersionPayload{Reason: reason, QueuedUnix: now.Unix()})
	if err != nil {
		return nil, err
	}
	opts := []asynq.Option{asynq.Queue(QueueVersion), asynq.MaxRetry(0)}
	if timeout > 0 {
		opts = append(opts, asynq.Timeout(timeout))
	}
	return asynq.NewTask(TaskCheckVersion, payload, opts...), nil
}
