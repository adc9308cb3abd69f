package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogsConfig selects log record export
type LogsConfig struct {
	Collector
	Enabled bool
}

// LoggerProvider batches zap entries to the collector as OTLP log records
type LoggerProvider struct {
	pipeline
	sdk         *sdklog.LoggerProvider
	serviceName string
}

// NewLoggerProvider installs a batching OTLP logger provider as the global.
func NewLoggerProvider(ctx context.Context, cfg LogsConfig, logger *zap.Logger) (*LoggerProvider, error) {
	lp := &LoggerProvider{pipeline: newPipeline("logs", logger), serviceName: cfg.ServiceName}
	if !cfg.Enabled {
		lp.logger.Info("Log export disabled")
		return lp, nil
	}

	opts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlploggrpc.WithInsecure())
	}
	exporter, err := otlploggrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("log exporter: %w", err)
	}
	res, err := cfg.resource()
	if err != nil {
		return nil, err
	}

	lp.sdk = sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)
	lp.pipeline.sdk = lp.sdk

	global.SetLoggerProvider(lp.sdk)
	lp.started(cfg.Collector)
	return lp, nil
}

// Bridge returns a copy of base that also exports every entry base would
// write. With export off, base is returned unchanged.
func Bridge(base *zap.Logger, lp *LoggerProvider) *zap.Logger {
	if lp == nil || lp.sdk == nil {
		return base
	}
	exported := otelzap.NewCore(lp.serviceName, otelzap.WithLoggerProvider(lp.sdk))
	minLevel := base.Level()
	return base.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, atLeast{Core: exported, min: minLevel})
	}))
}

// atLeast drops entries below min before they reach the exporter
type atLeast struct {
	zapcore.Core
	min zapcore.Level
}

func (c atLeast) Enabled(lvl zapcore.Level) bool {
	return lvl >= c.min && c.Core.Enabled(lvl)
}

func (c atLeast) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if entry.Level < c.min {
		return ce
	}
	return c.Core.Check(entry, ce)
}

func (c atLeast) With(fields []zapcore.Field) zapcore.Core {
	return atLeast{Core: c.Core.With(fields), min: c.min}
}
