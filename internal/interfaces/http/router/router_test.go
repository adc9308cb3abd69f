package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(engine *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestMount(t *testing.T) {
	engine := gin.New()
	guard := func(c *gin.Context) {
		c.Header("X-Guarded", "yes")
		c.Next()
	}

	Mount(engine,
		Group{
			Prefix:     "/webhooks",
			Middleware: []gin.HandlerFunc{guard},
			Routes: []Route{
				{http.MethodPost, "/orders", func(c *gin.Context) { c.Status(http.StatusAccepted) }},
			},
		},
		Group{
			Prefix: "/orders",
			Routes: []Route{
				{http.MethodPost, "/:id/fulfill", func(c *gin.Context) { c.String(http.StatusOK, c.Param("id")) }},
			},
		},
		Group{
			Prefix: "/transfers",
			Routes: []Route{
				{http.MethodGet, "", func(c *gin.Context) { c.String(http.StatusOK, "list") }},
			},
		},
	)

	tests := []struct {
		method      string
		path        string
		wantCode    int
		wantBody    string
		wantGuarded bool
	}{
		{method: http.MethodPost, path: "/api/v1/webhooks/orders", wantCode: http.StatusAccepted, wantGuarded: true},
		{method: http.MethodPost, path: "/api/v1/orders/ORD-1/fulfill", wantCode: http.StatusOK, wantBody: "ORD-1"},
		{method: http.MethodGet, path: "/api/v1/transfers", wantCode: http.StatusOK, wantBody: "list"},
		{method: http.MethodGet, path: "/api/v1/orders/ORD-1/fulfill", wantCode: http.StatusNotFound},
		{method: http.MethodGet, path: "/api/v2/transfers", wantCode: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := serve(engine, tt.method, tt.path)
			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, w.Body.String())
			}
			assert.Equal(t, tt.wantGuarded, w.Header().Get("X-Guarded") == "yes")
		})
	}
}
