package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/vipm/backend/internal/infrastructure/config"
	"github.com/vipm/backend/internal/infrastructure/telemetry"
)

// MeterName scopes every instrument the service registers
const MeterName = "github.com/vipm/backend"

// Telemetry holds the OpenTelemetry providers and the profiler
type Telemetry struct {
	Tracer   *telemetry.TracerProvider
	Meter    *telemetry.MeterProvider
	Logs     *telemetry.LoggerProvider
	Profiler *telemetry.Profiler
}

// SetupTelemetry starts tracing, metrics, log export and profiling as
// configured. Disabled signals fall back to no-op providers.
func SetupTelemetry(ctx context.Context, cfg config.TelemetryConfig, log *zap.Logger) (*Telemetry, error) {
	t := &Telemetry{}
	collector := telemetry.Collector{
		Endpoint:    cfg.CollectorEndpoint,
		ServiceName: cfg.ServiceName,
		Insecure:    cfg.Insecure,
	}
	var err error

	t.Tracer, err = telemetry.NewTracerProvider(ctx, telemetry.TracingConfig{
		Collector:     collector,
		Enabled:       cfg.Enabled,
		SamplingRatio: cfg.SamplingRatio,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("tracer provider: %w", err)
	}

	t.Meter, err = telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Collector:      collector,
		Enabled:        cfg.Enabled,
		ExportInterval: cfg.MetricsInterval,
	}, log)
	if err != nil {
		_ = t.Shutdown(ctx)
		return nil, fmt.Errorf("meter provider: %w", err)
	}

	t.Logs, err = telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Collector: collector,
		Enabled:   cfg.Enabled,
	}, log)
	if err != nil {
		_ = t.Shutdown(ctx)
		return nil, fmt.Errorf("logger provider: %w", err)
	}

	t.Profiler, err = telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:         cfg.ProfilingEnabled,
		ServerAddress:   cfg.ProfilingEndpoint,
		ApplicationName: cfg.ServiceName,
	}, log)
	if err != nil {
		_ = t.Shutdown(ctx)
		return nil, fmt.Errorf("profiler: %w", err)
	}
	if t.Profiler.IsEnabled() {
		if err := t.Tracer.EnableSpanProfiles(); err != nil {
			log.Warn("Failed to enable span profiles", zap.Error(err))
		}
	}
	return t, nil
}

// ServiceMeter returns the meter the service instruments are registered on
func (t *Telemetry) ServiceMeter() metric.Meter {
	return t.Meter.Meter(MeterName)
}

// Bridge tees log onto the OTLP log exporter
func (t *Telemetry) Bridge(log *zap.Logger) *zap.Logger {
	return telemetry.Bridge(log, t.Logs)
}

// Shutdown flushes and stops every provider
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.Profiler != nil {
		errs = append(errs, t.Profiler.Stop())
	}
	if t.Logs != nil {
		errs = append(errs, t.Logs.Shutdown(ctx))
	}
	if t.Meter != nil {
		errs = append(errs, t.Meter.Shutdown(ctx))
	}
	if t.Tracer != nil {
		errs = append(errs, t.Tracer.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
