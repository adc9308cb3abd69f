package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultSlowQuery = 200 * time.Millisecond

// DBTracingConfig selects span export for GORM statements
type DBTracingConfig struct {
	Enabled bool
	// DBName is reported as db.name on every statement span
	DBName string
	// QueryVariables keeps bound values in db.statement
	QueryVariables bool
	// SlowQuery defaults to 200ms
	SlowQuery time.Duration
	// TracerProvider defaults to the global provider
	TracerProvider trace.TracerProvider
}

// TraceDatabase installs otelgorm on db plus a watch that annotates each
// statement span with its table and row count and flags slow statements.
// Slow statements are logged even when the caller is not traced.
func TraceDatabase(db *gorm.DB, cfg DBTracingConfig, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		logger.Debug("Database tracing disabled")
		return nil
	}

	opts := []otelgorm.Option{otelgorm.WithDBName(cfg.DBName)}
	if !cfg.QueryVariables {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if cfg.TracerProvider != nil {
		opts = append(opts, otelgorm.WithTracerProvider(cfg.TracerProvider))
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}

	watch := newQueryWatch(cfg.SlowQuery, logger)
	if err := watch.register(db); err != nil {
		return err
	}
	logger.Info("Database tracing enabled",
		zap.String("db_name", cfg.DBName),
		zap.Bool("query_variables", cfg.QueryVariables),
		zap.Duration("slow_query", watch.threshold),
	)
	return nil
}

type queryStartKey struct{}

// queryWatch times every GORM statement
type queryWatch struct {
	threshold time.Duration
	logger    *zap.Logger
}

func newQueryWatch(threshold time.Duration, logger *zap.Logger) *queryWatch {
	if threshold <= 0 {
		threshold = defaultSlowQuery
	}
	return &queryWatch{threshold: threshold, logger: logger}
}

func (w *queryWatch) register(db *gorm.DB) error {
	cb := db.Callback()
	return errors.Join(
		cb.Create().Before("gorm:create").Register("query_watch:start_create", w.start),
		cb.Create().After("gorm:create").Register("query_watch:end_create", w.end),
		cb.Query().Before("gorm:query").Register("query_watch:start_query", w.start),
		cb.Query().After("gorm:query").Register("query_watch:end_query", w.end),
		cb.Update().Before("gorm:update").Register("query_watch:start_update", w.start),
		cb.Update().After("gorm:update").Register("query_watch:end_update", w.end),
		cb.Delete().Before("gorm:delete").Register("query_watch:start_delete", w.start),
		cb.Delete().After("gorm:delete").Register("query_watch:end_delete", w.end),
		cb.Row().Before("gorm:row").Register("query_watch:start_row", w.start),
		cb.Row().After("gorm:row").Register("query_watch:end_row", w.end),
		cb.Raw().Before("gorm:raw").Register("query_watch:start_raw", w.start),
		cb.Raw().After("gorm:raw").Register("query_watch:end_raw", w.end),
	)
}

func (w *queryWatch) start(db *gorm.DB) {
	if db.Statement.Context != nil {
		db.Statement.Context = context.WithValue(db.Statement.Context, queryStartKey{}, time.Now())
	}
}

func (w *queryWatch) end(db *gorm.DB) {
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}
	stmt := db.Statement

	var elapsed time.Duration
	if began, ok := ctx.Value(queryStartKey{}).(time.Time); ok {
		elapsed = time.Since(began)
	}
	slow := elapsed > w.threshold
	if slow {
		w.logger.Warn("Slow query",
			zap.String("table", stmt.Table),
			zap.Duration("elapsed", elapsed),
			zap.Int64("rows_affected", stmt.RowsAffected),
		)
	}

	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	attrs := []attribute.KeyValue{attribute.Int64("db.rows_affected", stmt.RowsAffected)}
	if stmt.Table != "" {
		attrs = append(attrs, attribute.String("db.sql.table", stmt.Table))
	}
	if slow {
		attrs = append(attrs,
			attribute.Bool("db.slow_query", true),
			attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
		)
		span.AddEvent("slow_query", trace.WithAttributes(
			attribute.Int64("threshold_ms", w.threshold.Milliseconds()),
		))
	}
	span.SetAttributes(attrs...)

	if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
		span.RecordError(db.Error)
		span.SetStatus(codes.Error, db.Error.Error())
	}
}
