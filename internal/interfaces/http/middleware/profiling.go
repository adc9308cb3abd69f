package middleware

import (
	"context"
	"slices"

	"github.com/gin-gonic/gin"

	"github.com/vipm/backend/internal/infrastructure/telemetry"
)

// Profiling tags the CPU samples of each request with its method and route
// pattern so synchronous fulfill calls and webhook intake show up apart in
// Pyroscope. Requests for skipPaths run untagged. When enabled is false the
// middleware only calls the next handler.
func Profiling(enabled bool, skipPaths ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled || slices.Contains(skipPaths, c.Request.URL.Path) {
			c.Next()
			return
		}
		labels := telemetry.ProfileLabels{
			telemetry.ProfilingLabelMethod: c.Request.Method,
			telemetry.ProfilingLabelRoute:  c.FullPath(),
		}
		telemetry.WithProfilingLabels(c.Request.Context(), labels, func(ctx context.Context) {
			c.Request = c.Request.WithContext(ctx)
			c.Next()
		})
	}
}
