package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"runtime/pprof"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/vipm/backend/internal/interfaces/http/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestProfiling(t *testing.T) {
	tests := []struct {
		name       string
		enabled    bool
		route      string
		path       string
		wantRoute  string
		wantMethod string
	}{
		{
			name:       "labels the route pattern",
			enabled:    true,
			route:      "/api/v1/orders/:id/fulfill",
			path:       "/api/v1/orders/PR-42/fulfill",
			wantRoute:  "/api/v1/orders/:id/fulfill",
			wantMethod: http.MethodGet,
		},
		{
			name:       "unmatched routes keep the method only",
			enabled:    true,
			route:      "/api/v1/transfers",
			path:       "/api/v1/missing",
			wantMethod: http.MethodGet,
		},
		{name: "skips health", enabled: true, route: "/health", path: "/health"},
		{name: "disabled", route: "/api/v1/transfers", path: "/api/v1/transfers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotRoute, gotMethod string

			r := gin.New()
			r.Use(middleware.Profiling(tt.enabled, "/health"))
			label := func(c *gin.Context) {
				gotRoute, _ = pprof.Label(c.Request.Context(), "route")
				gotMethod, _ = pprof.Label(c.Request.Context(), "method")
			}
			r.GET(tt.route, func(c *gin.Context) {
				label(c)
				c.Status(http.StatusOK)
			})
			r.NoRoute(func(c *gin.Context) {
				label(c)
				c.Status(http.StatusNotFound)
			})

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.wantRoute, gotRoute)
			assert.Equal(t, tt.wantMethod, gotMethod)
		})
	}
}
