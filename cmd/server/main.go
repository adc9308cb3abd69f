package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	_ "github.com/vipm/backend/docs"
	"github.com/vipm/backend/internal/bootstrap"
	"github.com/vipm/backend/internal/infrastructure/config"
	"github.com/vipm/backend/internal/infrastructure/logger"
	"github.com/vipm/backend/internal/infrastructure/scheduler"
	"github.com/vipm/backend/internal/interfaces/http/handler"
	"github.com/vipm/backend/internal/interfaces/http/middleware"
	"github.com/vipm/backend/internal/interfaces/http/router"
)

//	@title			VIPM Fulfillment API
//	@version		1.0
//	@description	Fulfills marketplace orders at the software vendor and migrates legacy memberships.

//	@host		localhost:8080
//	@BasePath	/api/v1

//	@securityDefinitions.apikey	WebhookJWT
//	@in							header
//	@name						Authorization
//	@description				HS256 token signed with the shared webhook secret. Format: "Bearer {token}"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	baseLog, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	log := baseLog.With(zap.String("service", cfg.App.Name))
	defer func() {
		_ = logger.Sync(log)
	}()

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()

	tel, err := bootstrap.SetupTelemetry(ctx, cfg.Telemetry, log)
	if err != nil {
		log.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			log.Error("Error shutting down telemetry", zap.Error(err))
		}
	}()
	log = tel.Bridge(log)

	log.Info("Starting VIPM fulfillment service",
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.Strings("product_ids", cfg.Fulfillment.ProductIDs),
	)

	engine, err := bootstrap.Build(ctx, cfg, tel.ServiceMeter(), log)
	if err != nil {
		log.Fatal("Failed to build fulfillment engine", zap.Error(err))
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.Error("Error closing fulfillment engine", zap.Error(err))
		}
	}()

	deliveries, err := engine.Cache.IdempotencyStore(ctx)
	if err != nil {
		log.Fatal("Failed to create webhook idempotency store", zap.Error(err))
	}

	// Fulfillment worker pool
	schedulerConfig := scheduler.FulfillmentSchedulerConfig{
		Workers:        cfg.Fulfillment.Workers,
		QueueSize:      cfg.Fulfillment.QueueSize,
		JobTimeout:     cfg.Fulfillment.JobTimeout,
		PollInterval:   cfg.Fulfillment.PollInterval,
		PollBackoffMax: cfg.Fulfillment.PollBackoffMax,
		RetryAttempts:  scheduler.DefaultFulfillmentSchedulerConfig().RetryAttempts,
		HistorySize:    scheduler.DefaultFulfillmentSchedulerConfig().HistorySize,
	}
	jobs, err := scheduler.NewFulfillmentScheduler(schedulerConfig, engine.Dispatcher, log)
	if err != nil {
		log.Fatal("Failed to create fulfillment scheduler", zap.Error(err))
	}
	if err := jobs.Start(ctx); err != nil {
		log.Fatal("Failed to start fulfillment scheduler", zap.Error(err))
	}

	// Legacy membership migration
	var trigger *scheduler.ReconcileTrigger
	if len(cfg.Fulfillment.ProductIDs) > 0 {
		trigger, err = scheduler.NewReconcileTrigger(scheduler.ReconcileTriggerConfig{
			Interval:   cfg.Fulfillment.ReconcileInterval,
			ProductIDs: cfg.Fulfillment.ProductIDs,
			RunOnStart: cfg.Fulfillment.ReconcileOnStartup,
		}, engine.Reconciler, log)
		if err != nil {
			log.Fatal("Failed to create reconcile trigger", zap.Error(err))
		}
		if err := trigger.Start(ctx); err != nil {
			log.Fatal("Failed to start reconcile trigger", zap.Error(err))
		}
	} else {
		log.Warn("No product ids configured, transfer reconciliation disabled")
	}

	health := handler.NewHealthHandler(2*time.Second).
		AddCheck("database", engine.DB.Ping)

	httpEngine, err := router.NewEngine(router.EngineConfig{
		Logger:         log,
		Meter:          tel.ServiceMeter(),
		TrustedProxies: cfg.HTTP.TrustedProxies,
		MaxBodySize:    cfg.HTTP.MaxBodySize,
		ServiceName:    cfg.Telemetry.ServiceName,
		Tracing:        cfg.Telemetry.Enabled,
		Profiling:      cfg.Telemetry.ProfilingEnabled,
		Swagger:        cfg.HTTP.Swagger && cfg.App.Env != "production",
		WebhookAuth: middleware.WebhookAuthConfig{
			Secret: []byte(cfg.Webhook.Secret),
			Issuer: cfg.Webhook.Issuer,
			Logger: log,
		},
	}, router.Handlers{
		Webhook:     handler.NewWebhookHandler(jobs, deliveries, cfg.Webhook.IdempotencyTTL),
		Fulfillment: handler.NewFulfillmentHandler(engine.Dispatcher, jobs),
		Transfer:    handler.NewTransferHandler(engine.Transfers),
		Health:      health,
	})
	if err != nil {
		log.Fatal("Failed to build HTTP engine", zap.Error(err))
	}

	// Create HTTP server with config
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        httpEngine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if trigger != nil {
		if err := trigger.Stop(shutdownCtx); err != nil {
			log.Error("Error stopping reconcile trigger", zap.Error(err))
		}
	}
	if err := jobs.Stop(shutdownCtx); err != nil {
		log.Error("Error stopping fulfillment scheduler", zap.Error(err))
	}
	if err := deliveries.Close(); err != nil {
		log.Error("Error closing idempotency store", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}
