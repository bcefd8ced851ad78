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

	"github.com/medimart-erp/medimart-erp/internal/app"
	"github.com/medimart-erp/medimart-erp/internal/masterdata/principals"
	"github.com/medimart-erp/medimart-erp/internal/notify"
	"github.com/medimart-erp/medimart-erp/internal/observability"
	"github.com/medimart-erp/medimart-erp/internal/platform/cache"
	"github.com/medimart-erp/medimart-erp/internal/platform/db"
	"github.com/medimart-erp/medimart-erp/internal/purchaseorder"
	"github.com/medimart-erp/medimart-erp/internal/workflow"
	"github.com/medimart-erp/medimart-erp/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis connect", slog.Any("error", err))
	}
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	stageRepo := workflow.NewRepository(dbpool)
	stageRegistry := workflow.NewRegistry(stageRepo)
	if err := stageRegistry.Seed(ctx); err != nil {
		logger.Error("seed workflow stages", slog.Any("error", err))
		os.Exit(1)
	}
	if err := stageRegistry.ValidateTransitions(ctx); err != nil {
		logger.Error("validate workflow transitions", slog.Any("error", err))
		os.Exit(1)
	}

	principalRepo := principals.NewRepository(dbpool)
	principalService := principals.NewService(principalRepo)

	poRepo := purchaseorder.NewRepository(dbpool)
	var sequence purchaseorder.SequencePort
	if redisClient != nil {
		sequence = purchaseorder.NewRedisSequence(redisClient)
	}
	numbers := purchaseorder.NewNumberGenerator(cfg.OrgPrefix, sequence, poRepo)

	asynqClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	notifier := notify.NewEmailNotifier(asynqClient, principalService, cfg.ProcurementMailbox, logger)

	poService := purchaseorder.NewService(poRepo, stageRegistry, principalService, numbers, notifier, logger)

	metrics := observability.NewMetrics()

	poHandler := purchaseorder.NewHandler(logger, poService, metrics)
	principalsHandler := principals.NewHandler(logger, principalService)
	workflowHandler := workflow.NewHandler(logger, stageRegistry)

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
		PurchaseOrderHandler: poHandler,
		PrincipalsHandler:    principalsHandler,
		WorkflowHandler:      workflowHandler,
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
