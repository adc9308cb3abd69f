// Package bootstrap assembles the fulfillment engine from configuration.
// The API server and the operator CLI share it.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	app "github.com/vipm/backend/internal/application/fulfillment"
	"github.com/vipm/backend/internal/infrastructure/audit"
	"github.com/vipm/backend/internal/infrastructure/cache"
	"github.com/vipm/backend/internal/infrastructure/config"
	"github.com/vipm/backend/internal/infrastructure/events"
	"github.com/vipm/backend/internal/infrastructure/logger"
	"github.com/vipm/backend/internal/infrastructure/persistence"
	"github.com/vipm/backend/internal/infrastructure/platform"
	"github.com/vipm/backend/internal/infrastructure/telemetry"
	"github.com/vipm/backend/internal/infrastructure/vendorapi"
)

// Engine is the wired fulfillment engine
type Engine struct {
	DB         *persistence.Database
	Cache      *cache.Factory
	Transfers  *persistence.GormTransferRepository
	Dispatcher *app.Dispatcher
	Reconciler *app.MigrationReconciler
	Metrics    *telemetry.FulfillmentMetrics
	Publisher  events.Publisher

	logger *zap.Logger
}

// Build connects the database, the caches, the vendor and the platform and
// assembles the flows around them. A nil meter leaves the engine without
// metrics.
func Build(ctx context.Context, cfg *config.Config, meter metric.Meter, log *zap.Logger) (*Engine, error) {
	e := &Engine{logger: log}

	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	e.DB = db
	log.Info("Database connected", zap.String("driver", cfg.Database.Driver))

	dbName := cfg.Database.DBName
	if cfg.Database.Driver == "sqlite" {
		dbName = cfg.Database.SQLitePath
	}
	if err := telemetry.TraceDatabase(db.DB, telemetry.DBTracingConfig{
		Enabled: cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		DBName:  dbName,
	}, log); err != nil {
		e.Close()
		return nil, fmt.Errorf("register database tracing: %w", err)
	}

	e.Cache = cache.NewFactory(cfg.Redis,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(cfg.App.Env != "production"),
	)
	tokens, err := e.Cache.TokenCache(ctx)
	if err != nil {
		e.Close()
		return nil, err
	}

	if meter != nil {
		e.Metrics, err = telemetry.NewFulfillmentMetrics(meter, log)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("register fulfillment metrics: %w", err)
		}
	}

	directory, err := vendorapi.LoadDirectory(cfg.Vendor.AuthorizationsFile)
	if err != nil {
		e.Close()
		return nil, err
	}
	tokenProvider := vendorapi.NewTokenProvider(cfg.Vendor.AuthEndpoint, splitScopes(cfg.Vendor.Scopes),
		cfg.Vendor.TokenExpiryMargin, tokens, vendorapi.WithTokenLogger(log))
	vendorOpts := []vendorapi.ClientOption{vendorapi.WithLogger(log)}
	if e.Metrics != nil {
		vendorOpts = append(vendorOpts, vendorapi.WithRequestObserver(e.Metrics))
	}
	vendor := vendorapi.NewClient(cfg.Vendor.APIBaseURL, directory, tokenProvider, cfg.Vendor.Timeout, vendorOpts...)
	shop := platform.NewClient(cfg.Platform.BaseURL, cfg.Platform.Token, cfg.Platform.Timeout, platform.WithLogger(log))

	archivers, err := e.archivers(ctx, cfg.Audit)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.Publisher = events.New(cfg.Events, log)

	e.Transfers = persistence.NewGormTransferRepository(db.DB)
	attempts := persistence.NewGormPollAttemptRepository(db.DB)

	finalizer := app.NewFinalizer(vendor, shop, log)
	correlator := app.NewCorrelator(vendor,
		app.WithSearchPageSize(cfg.Fulfillment.SearchPageSize),
		app.WithCorrelatorLogger(log),
	)
	orderFlow := app.NewOrderFlow(vendor, shop, correlator, attempts,
		app.WithOrderMaxPollAttempts(cfg.Fulfillment.MaxPollAttempts),
		app.WithOrderFlowLogger(log),
	)
	transferFlow := app.NewTransferFlow(vendor, shop, attempts, finalizer,
		app.WithTransferMaxPollAttempts(cfg.Fulfillment.MaxPollAttempts),
		app.WithTransferFlowLogger(log),
	)

	dispatcherOpts := []app.DispatcherOption{
		app.WithObserver(e.Publisher),
		app.WithDispatcherArchiver(archivers),
		app.WithDispatcherLogger(log),
	}
	if e.Metrics != nil {
		dispatcherOpts = append(dispatcherOpts, app.WithObserver(e.Metrics))
	}
	e.Dispatcher = app.NewDispatcher(shop, e.Transfers, transferFlow, orderFlow, finalizer, dispatcherOpts...)

	e.Reconciler = app.NewMigrationReconciler(vendor, shop, e.Transfers, finalizer,
		app.WithMaxRetries(cfg.Fulfillment.MigrationRetries),
		app.WithConcurrency(cfg.Fulfillment.ReconcileWorkers),
		app.WithReconcilerArchiver(archivers),
		app.WithReconcilerLogger(log),
	)
	return e, nil
}

func (e *Engine) archivers(ctx context.Context, cfg config.AuditConfig) (app.Archivers, error) {
	var archivers app.Archivers
	if e.Metrics != nil {
		archivers = append(archivers, e.Metrics)
	}
	if !cfg.Enabled {
		return archivers, nil
	}
	archive, err := audit.NewS3ArchiveFromConfig(ctx, cfg, audit.WithLogger(e.logger))
	if err != nil {
		return nil, fmt.Errorf("audit archive: %w", err)
	}
	e.logger.Info("Transfer audit archive enabled",
		zap.String("bucket", cfg.Bucket),
		zap.String("prefix", cfg.Prefix),
	)
	return append(archivers, archive), nil
}

// Close releases the connections held by the engine
func (e *Engine) Close() error {
	var errs []error
	if e.Publisher != nil {
		errs = append(errs, e.Publisher.Close())
	}
	if e.Cache != nil {
		errs = append(errs, e.Cache.Close())
	}
	if e.DB != nil {
		errs = append(errs, e.DB.Close())
	}
	return errors.Join(errs...)
}

func splitScopes(scopes string) []string {
	var out []string
	for _, s := range strings.Split(scopes, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
