// Command doorlockd serves the device channel and admin API, consumes the
// MQTT device topics and runs the liveness monitor.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/campusgate/doorlock/internal/app"
	"github.com/campusgate/doorlock/internal/doorlock"
	"github.com/campusgate/doorlock/internal/flags"
	"github.com/campusgate/doorlock/internal/gateway"
	jobmetrics "github.com/campusgate/doorlock/internal/jobs"
	"github.com/campusgate/doorlock/internal/liveness"
	"github.com/campusgate/doorlock/internal/observability"
	"github.com/campusgate/doorlock/internal/platform/cache"
	"github.com/campusgate/doorlock/internal/platform/db"
	"github.com/campusgate/doorlock/internal/protocol"
	"github.com/campusgate/doorlock/internal/rbac"
	"github.com/campusgate/doorlock/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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
	slog.SetDefault(logger)

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("doorlockd stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, flag invalidation stays process-local", slog.Any("error", err))
	}
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	flagRepo := flags.NewRepository(pool)
	flagStore := flags.NewStore(flagRepo, cfg.FlagCacheTTL, logger)
	var invalidator *flags.RedisInvalidator
	if redisClient != nil {
		invalidator = flags.NewRedisInvalidator(redisClient, logger)
		flagStore.SetBroadcaster(invalidator)
	}

	rbacService := rbac.NewService(rbac.NewRepository(pool), logger, cfg.AdminRole)
	rbacMiddleware := rbac.Middleware{Service: rbacService, Logger: logger}

	directoryRepo := doorlock.NewRepository(pool)
	directory := doorlock.NewService(directoryRepo, logger)

	hub := gateway.NewHub()
	defer hub.Close()
	channels := gateway.New(directory, hub, logger, gateway.Options{
		RateLimit: cfg.ChannelRateLimit,
		Metrics:   gateway.NewMetrics(metrics.Registerer()),
	})
	directory.SetSyncer(channels)

	transport := protocol.NewMQTTTransport(protocol.MQTTConfig{
		BrokerURL: cfg.MQTTBrokerURL,
		ClientID:  cfg.MQTTClientID,
		Username:  cfg.MQTTUsername,
		Password:  cfg.MQTTPassword,
		Namespace: cfg.MQTTNamespace,
	}, logger)
	handler := protocol.NewHandler(directory, transport, cfg.MQTTNamespace, logger, protocol.NewMetrics(metrics.Registerer()))
	dispatcher := protocol.NewDispatcher(handler, 8, 64, logger)
	transport.SetSink(dispatcher.Submit)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		Verifier:       app.NewPrincipalVerifier(cfg.JWTSecret),
		Metrics:        metrics,
		CardHandler:    doorlock.NewHandler(logger, directory, rbacMiddleware),
		FlagHandler:    flags.NewHandler(flagStore, flagRepo, rbacMiddleware, logger),
		DeviceHandler:  gateway.NewAdminHandler(channels, hub, rbacMiddleware, logger),
		ChannelGateway: channels,
		JobHandler:     jobs.NewHandler(newInspector(cfg, redisClient != nil), logger),
	})

	g, gctx := errgroup.WithContext(ctx)
	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadHeaderTimeout: cfg.AppReadTimeout,
		BaseContext:       func(net.Listener) context.Context { return gctx },
	}

	if invalidator != nil {
		if err := invalidator.Listen(gctx, flagStore); err != nil {
			logger.Warn("flag invalidation listener", slog.Any("error", err))
		}
	}

	dispatcher.Start(gctx)
	g.Go(func() error {
		if err := transport.Connect(gctx); err != nil {
			return err
		}
		logger.Info("mqtt connected", slog.String("broker", cfg.MQTTBrokerURL))
		<-gctx.Done()
		transport.Close()
		dispatcher.Close()
		return nil
	})

	if liveness.Gate(gctx, flagStore, logger) {
		monitor := liveness.NewMonitor(directoryRepo, cfg.MonitorInterval, logger, jobMetrics)
		g.Go(func() error { return monitor.Run(gctx) })
	} else {
		logger.Info("device monitor disabled by flag", slog.String("flag", liveness.FlagName))
	}

	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown", slog.Any("error", err))
		}
		hub.Close()
		return nil
	})

	return g.Wait()
}

func newInspector(cfg *app.Config, redisAvailable bool) *asynq.Inspector {
	if !redisAvailable {
		return nil
	}
	return asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
}
