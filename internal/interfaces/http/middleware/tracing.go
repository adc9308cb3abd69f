// Package middleware provides HTTP middleware for the fulfillment service.
package middleware

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MaxOrderIDLength bounds the order id copied from the route into spans
const MaxOrderIDLength = 64

// Tracing starts an otelgin server span named "METHOD route" for every
// request outside skipPaths. Disabled, it passes requests through.
func Tracing(service string, enabled bool, skipPaths ...string) gin.HandlerFunc {
	if !enabled {
		return func(c *gin.Context) { c.Next() }
	}
	return otelgin.Middleware(service,
		otelgin.WithFilter(func(r *http.Request) bool {
			return !slices.Contains(skipPaths, r.URL.Path)
		}),
	)
}

// TagSpan adds the request id, the webhook subject and the route's order id
// to the request span. It belongs after RequestID and WebhookAuth.
func TagSpan() gin.HandlerFunc {
	return func(c *gin.Context) {
		span := trace.SpanFromContext(c.Request.Context())
		if !span.IsRecording() {
			c.Next()
			return
		}

		var attrs []attribute.KeyValue
		if id := GetRequestID(c); id != "" {
			attrs = append(attrs, attribute.String("request_id", id))
		}
		if claims := GetWebhookClaims(c); claims != nil && claims.Subject != "" {
			attrs = append(attrs, attribute.String("webhook.subject", claims.Subject))
		}
		if id := c.Param("id"); id != "" && len(id) <= MaxOrderIDLength {
			attrs = append(attrs, attribute.String("order_id", id))
		}
		span.SetAttributes(attrs...)
		c.Next()
	}
}

// SpanErrorMarker sets an error status on the request span for 4xx and 5xx
// responses. It belongs after Tracing.
func SpanErrorMarker() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		status := c.Writer.Status()
		span := trace.SpanFromContext(c.Request.Context())
		if status < http.StatusBadRequest || !span.IsRecording() {
			return
		}
		span.SetStatus(codes.Error, http.StatusText(status))
		span.SetAttributes(attribute.Int("http.status_code", status))
	}
}
