package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/vipm/backend/internal/infrastructure/telemetry"
)

// HTTPMetrics records request count, latency and in-flight requests per
// route pattern. Requests matching no route are reported as "unknown". A
// nil meter, or one that refuses the instruments, disables the middleware.
func HTTPMetrics(meter metric.Meter, logger *zap.Logger) gin.HandlerFunc {
	passthrough := func(c *gin.Context) { c.Next() }
	if meter == nil {
		return passthrough
	}

	in := telemetry.NewInstruments(meter)
	requests := in.Counter("http_server_request_total", "HTTP requests served", "{request}")
	latency := in.Latency("http_server_request_duration_seconds", "HTTP request latency", telemetry.HTTPDurationBuckets)
	inFlight := in.Gauge("http_server_active_requests", "HTTP requests in progress", "{request}")
	if err := in.Err(); err != nil {
		if logger != nil {
			logger.Warn("HTTP metrics disabled", zap.Error(err))
		}
		return passthrough
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		began := time.Now()
		inFlight.Add(ctx, 1)
		defer inFlight.Add(ctx, -1)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		method := telemetry.AttrHTTPMethod.String(c.Request.Method)
		path := telemetry.AttrHTTPRoute.String(route)
		requests.Add(ctx, 1, metric.WithAttributes(method, path, telemetry.AttrHTTPStatusCode.Int(c.Writer.Status())))
		latency.Record(ctx, time.Since(began).Seconds(), metric.WithAttributes(method, path))
	}
}
