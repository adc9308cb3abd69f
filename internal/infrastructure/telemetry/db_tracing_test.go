package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type tracedRow struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"size:100"`
}

func setupTracingDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&tracedRow{}))
	return db
}

func setupSpanRecorder(t *testing.T) (*sdktrace.TracerProvider, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, recorder
}

func attrValue(attrs []attribute.KeyValue, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range attrs {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestNewQueryWatch_DefaultThreshold(t *testing.T) {
	assert.Equal(t, 200*time.Millisecond, newQueryWatch(0, zap.NewNop()).threshold)
	assert.Equal(t, time.Second, newQueryWatch(time.Second, zap.NewNop()).threshold)
}

func TestTraceDatabase_Disabled(t *testing.T) {
	db := setupTracingDB(t)

	require.NoError(t, TraceDatabase(db, DBTracingConfig{DBName: "vipm"}, nil))
	assert.Nil(t, db.Callback().Query().Get("query_watch:end_query"))
}

func TestTraceDatabase_EmitsSpans(t *testing.T) {
	db := setupTracingDB(t)
	tp, recorder := setupSpanRecorder(t)

	require.NoError(t, TraceDatabase(db, DBTracingConfig{
		Enabled:        true,
		DBName:         "vipm",
		TracerProvider: tp,
	}, zap.NewNop()))
	assert.NotNil(t, db.Callback().Query().Get("query_watch:end_query"))

	ctx, span := tp.Tracer("test").Start(context.Background(), "fulfill")
	require.NoError(t, db.WithContext(ctx).Create(&tracedRow{Name: "t-1"}).Error)
	var found tracedRow
	require.NoError(t, db.WithContext(ctx).First(&found, "name = ?", "t-1").Error)
	span.End()

	assert.Greater(t, len(recorder.Ended()), 1)
}

func TestQueryWatch(t *testing.T) {
	tests := []struct {
		name       string
		threshold  time.Duration
		query      func(db *gorm.DB) error
		wantSlow   bool
		wantStatus codes.Code
	}{
		{
			name:      "fast query is annotated",
			threshold: time.Hour,
			query: func(db *gorm.DB) error {
				return db.Create(&tracedRow{Name: "fast"}).Error
			},
			wantStatus: codes.Unset,
		},
		{
			name:      "slow query is flagged",
			threshold: time.Nanosecond,
			query: func(db *gorm.DB) error {
				return db.Create(&tracedRow{Name: "slow"}).Error
			},
			wantSlow:   true,
			wantStatus: codes.Unset,
		},
		{
			name:      "record not found is not an error",
			threshold: time.Hour,
			query: func(db *gorm.DB) error {
				var row tracedRow
				_ = db.First(&row, "name = ?", "missing").Error
				return nil
			},
			wantStatus: codes.Unset,
		},
		{
			name:      "failing query marks the span",
			threshold: time.Hour,
			query: func(db *gorm.DB) error {
				_ = db.Exec("INSERT INTO missing_table VALUES (1)").Error
				return nil
			},
			wantStatus: codes.Error,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := setupTracingDB(t)
			tp, recorder := setupSpanRecorder(t)
			core, logs := observer.New(zapcore.WarnLevel)

			require.NoError(t, newQueryWatch(tt.threshold, zap.New(core)).register(db))

			ctx, span := tp.Tracer("test").Start(context.Background(), "query")
			require.NoError(t, tt.query(db.WithContext(ctx)))
			span.End()

			ended := recorder.Ended()
			require.Len(t, ended, 1)
			attrs := ended[0].Attributes()

			_, hasTable := attrValue(attrs, "db.sql.table")
			assert.True(t, hasTable || tt.wantStatus == codes.Error)

			slow, _ := attrValue(attrs, "db.slow_query")
			assert.Equal(t, tt.wantSlow, slow.AsBool())
			assert.Equal(t, tt.wantStatus, ended[0].Status().Code)

			if tt.wantSlow {
				assert.Equal(t, 1, logs.FilterMessage("Slow query").Len())
			} else {
				assert.Zero(t, logs.Len())
			}
		})
	}
}

func TestQueryWatch_WithoutSpan(t *testing.T) {
	db := setupTracingDB(t)
	core, logs := observer.New(zapcore.WarnLevel)

	require.NoError(t, newQueryWatch(time.Nanosecond, zap.New(core)).register(db))

	require.NoError(t, db.Create(&tracedRow{Name: "untraced"}).Error)
	assert.Equal(t, 1, logs.FilterMessage("Slow query").Len())
}
