package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskDeviceSweep marks devices with lapsed heartbeats offline.
	TaskDeviceSweep = "doorlock:devices:sweep"
	// DeviceSweepSpec is the cron spec matching the in-process monitor interval.
	DeviceSweepSpec = "@every 15s"
	// SweepUniqueTTL keeps at most one queued sweep per interval.
	SweepUniqueTTL = 15 * time.Second
)

// DeviceSweepPayload is carried by TaskDeviceSweep. Reason is informational.
type DeviceSweepPayload struct {
	Reason string `json:"reason,omitempty"`
}

// NewDeviceSweepTask constructs a sweep task.
func NewDeviceSweepTask(reason string) (*asynq.Task, error) {
	data, err := json.Marshal(DeviceSweepPayload{Reason: reason})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDeviceSweep, data), nil
}
