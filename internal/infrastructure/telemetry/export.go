// Package telemetry wires OpenTelemetry tracing, metrics and log export
// plus continuous profiling for the fulfillment engine.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.uber.org/zap"
)

// ServiceVersion is reported as service.version on every exported signal
var ServiceVersion = "dev"

const shutdownTimeout = 10 * time.Second

// Collector addresses the OTLP gRPC endpoint the signals are pushed to
type Collector struct {
	Endpoint    string
	ServiceName string
	Insecure    bool
}

func (c Collector) resource() (*resource.Resource, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(c.ServiceName),
			semconv.ServiceVersion(ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}
	return res, nil
}

// sdkProvider is the lifecycle the trace, metric and log SDKs share
type sdkProvider interface {
	ForceFlush(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// pipeline owns one exported signal. While sdk is nil the signal is off
// and the global no-op provider stays installed.
type pipeline struct {
	signal string
	sdk    sdkProvider
	logger *zap.Logger
}

func newPipeline(signal string, logger *zap.Logger) pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return pipeline{signal: signal, logger: logger.With(zap.String("signal", signal))}
}

func (p *pipeline) started(c Collector, fields ...zap.Field) {
	p.logger.Info("Telemetry export started", append([]zap.Field{
		zap.String("collector_endpoint", c.Endpoint),
		zap.String("service_name", c.ServiceName),
	}, fields...)...)
}

// IsEnabled reports whether the signal is exported
func (p *pipeline) IsEnabled() bool {
	return p.sdk != nil
}

// ForceFlush exports everything buffered so far
func (p *pipeline) ForceFlush(ctx context.Context) error {
	if p.sdk == nil {
		return nil
	}
	return p.sdk.ForceFlush(ctx)
}

// Shutdown drains the exporter, giving up after ten seconds
func (p *pipeline) Shutdown(ctx context.Context) error {
	if p.sdk == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := p.sdk.Shutdown(ctx); err != nil {
		p.logger.Error("Telemetry export shutdown failed", zap.Error(err))
		return fmt.Errorf("shutdown %s export: %w", p.signal, err)
	}
	p.logger.Info("Telemetry export stopped")
	return nil
}
