package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/vialibre/vialibre/internal/app"
	"github.com/vialibre/vialibre/internal/enforcement"
	"github.com/vialibre/vialibre/internal/notifications"
	"github.com/vialibre/vialibre/internal/parking"
	"github.com/vialibre/vialibre/internal/platform/db"
	"github.com/vialibre/vialibre/internal/registry"
	"github.com/vialibre/vialibre/internal/shared"
	"github.com/vialibre/vialibre/internal/tariff"
	"github.com/vialibre/vialibre/jobs"
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

	auditLogger := shared.NewAuditLogger(pool)

	registryRepo := registry.NewRepository(pool)
	registryService := registry.NewService(registryRepo)
	feeCalculator := tariff.NewCalculator(registryService, logger)

	notificationsRepo := notifications.NewRepository(pool)
	// The worker delivers inline; queueing from here would loop.
	notificationsService := notifications.NewService(notificationsRepo, nil, logger)

	parkingRepo := parking.NewRepository(pool)
	parkingService := parking.NewService(parkingRepo, registryService, feeCalculator, auditLogger, notificationsService, logger)

	enforcementRepo := enforcement.NewRepository(pool)
	enforcementService := enforcement.NewService(enforcementRepo, registryService, parkingService, auditLogger, notificationsService, logger)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeNotify, Handler: jobs.NewNotifyHandler(notificationsService)},
			{Type: jobs.TaskTypeInfractionReview, Handler: jobs.NewInfractionReviewHandler(enforcementService, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.InfractionReviewCron, Task: jobs.NewInfractionReviewTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
