// Package liveness marks door controllers offline once their heartbeat lapses.
package liveness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	jobmetrics "github.com/campusgate/doorlock/internal/jobs"
	"github.com/campusgate/doorlock/internal/shared"
)

const (
	// FlagName gates the monitor. It is evaluated once at startup.
	FlagName = "doorlock:monitor"
	// DefaultInterval is the fixed pause between sweeps.
	DefaultInterval = 15 * time.Second

	flagDescription = "Periodically mark devices offline when their heartbeat expires"
	jobName         = "doorlock:device_sweep"
)

// RepositoryPort marks expired devices offline in one statement.
type RepositoryPort interface {
	MarkStaleOffline(ctx context.Context, now time.Time) ([]int64, error)
}

// Monitor sweeps devices whose lastSeenAt + ttl is in the past. It only ever
// performs online -> offline; devices come back through heartbeats.
type Monitor struct {
	repo     RepositoryPort
	interval time.Duration
	logger   *slog.Logger
	metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

// NewMonitor builds a Monitor. A non-positive interval falls back to DefaultInterval.
func NewMonitor(repo RepositoryPort, interval time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		repo:     repo,
		interval: interval,
		logger:   logger.With(slog.String("job", jobName)),
		metrics:  metrics,
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// Sweep runs one pass and returns how many devices went offline.
func (m *Monitor) Sweep(ctx context.Context) (n int64, err error) {
	if m == nil || m.repo == nil {
		return 0, errors.New("liveness: monitor not configured")
	}
	tracker := m.metrics.Track(jobName)
	defer func() { err = tracker.End(err) }()

	now := m.clock()
	ids, err := m.repo.MarkStaleOffline(ctx, now)
	if err != nil {
		m.logger.Error("device sweep failed", slog.Any("error", err))
		return 0, fmt.Errorf("liveness: sweep: %w: %w", shared.ErrStore, err)
	}
	if len(ids) > 0 {
		m.logger.Info("devices marked offline", slog.Any("device_ids", ids), slog.Time("at", now))
	}
	return int64(len(ids)), nil
}

// Run sweeps every interval until ctx is cancelled. The first sweep failure
// stops the loop and is returned so the process supervisor can restart it.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.logger.Info("device monitor started", slog.Duration("interval", m.interval))
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("device monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil {
				return err
			}
		}
	}
}
