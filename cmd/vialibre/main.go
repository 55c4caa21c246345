package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/vialibre/vialibre/internal/accounts"
	"github.com/vialibre/vialibre/internal/app"
	"github.com/vialibre/vialibre/internal/authz"
	"github.com/vialibre/vialibre/internal/enforcement"
	"github.com/vialibre/vialibre/internal/notifications"
	"github.com/vialibre/vialibre/internal/observability"
	"github.com/vialibre/vialibre/internal/parking"
	"github.com/vialibre/vialibre/internal/platform/cache"
	"github.com/vialibre/vialibre/internal/platform/db"
	"github.com/vialibre/vialibre/internal/registry"
	"github.com/vialibre/vialibre/internal/shared"
	"github.com/vialibre/vialibre/internal/tariff"
	"github.com/vialibre/vialibre/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "vialibre_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	accountsRepo := accounts.NewRepository(pool)
	accountsService := accounts.NewService(accountsRepo, auditLogger)
	gate := authz.Middleware{Resolver: accountsService, Logger: logger}

	registryRepo := registry.NewRepository(pool)
	registryService := registry.NewService(registryRepo)

	feeCalculator := tariff.NewCalculator(registryService, logger)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	notificationsRepo := notifications.NewRepository(pool)
	notificationsService := notifications.NewService(notificationsRepo, jobClient, logger)

	parkingRepo := parking.NewRepository(pool)
	parkingService := parking.NewService(parkingRepo, registryService, feeCalculator, auditLogger, notificationsService, logger).
		WithMetrics(metrics)

	enforcementRepo := enforcement.NewRepository(pool)
	enforcementService := enforcement.NewService(enforcementRepo, registryService, parkingService, auditLogger, notificationsService, logger).
		WithMetrics(metrics)

	accountsHandler := accounts.NewHandler(logger, accountsService, sessionManager, csrfManager, gate, idempotencyStore)
	parkingHandler := parking.NewHandler(logger, parkingService, gate, idempotencyStore)
	enforcementHandler := enforcement.NewHandler(logger, enforcementService, gate)
	registryHandler := registry.NewHandler(logger, registryService, gate)
	notificationsHandler := notifications.NewHandler(logger, notificationsService, gate)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:               logger,
		Config:               cfg,
		SessionManager:       sessionManager,
		CSRFManager:          csrfManager,
		AccountsHandler:      accountsHandler,
		ParkingHandler:       parkingHandler,
		EnforcementHandler:   enforcementHandler,
		RegistryHandler:      registryHandler,
		NotificationsHandler: notificationsHandler,
		JobHandler:           jobHandler,
		Metrics:              metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
