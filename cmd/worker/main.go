// Command worker runs the device liveness sweep as an asynq cron task, for
// deployments where doorlockd runs with the in-process monitor flagged off.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/campusgate/doorlock/internal/app"
	"github.com/campusgate/doorlock/internal/doorlock"
	jobmetrics "github.com/campusgate/doorlock/internal/jobs"
	"github.com/campusgate/doorlock/internal/liveness"
	"github.com/campusgate/doorlock/internal/platform/db"
	"github.com/campusgate/doorlock/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := jobmetrics.NewMetrics(prometheus.DefaultRegisterer)
	monitor := liveness.NewMonitor(doorlock.NewRepository(pool), cfg.MonitorInterval, logger, metrics)
	sweepJob := jobs.NewDeviceSweepJob(monitor, logger)

	sweepTask, err := jobs.NewDeviceSweepTask("cron")
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskDeviceSweep, Handler: sweepJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: jobs.DeviceSweepSpec, Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(0), asynq.Unique(jobs.SweepUniqueTTL)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
