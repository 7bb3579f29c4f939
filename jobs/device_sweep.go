package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"
)

// Sweeper performs one liveness pass.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// DeviceSweepJob runs the liveness sweep as a scheduled task.
type DeviceSweepJob struct {
	Sweeper Sweeper
	Logger  *slog.Logger
}

// NewDeviceSweepJob initialises the sweep handler.
func NewDeviceSweepJob(sweeper Sweeper, logger *slog.Logger) *DeviceSweepJob {
	return &DeviceSweepJob{Sweeper: sweeper, Logger: logger}
}

// Handle executes one sweep. Failures go back to asynq; the next tick tries again.
func (j *DeviceSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Sweeper == nil {
		return errors.New("device sweep: handler not configured")
	}
	var payload DeviceSweepPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	n, err := j.Sweeper.Sweep(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		j.logger().Info("device sweep task", slog.Int64("offline", n), slog.String("reason", payload.Reason))
	}
	return nil
}

func (j *DeviceSweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
