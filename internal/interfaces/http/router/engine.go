package router

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/vipm/backend/internal/infrastructure/logger"
	"github.com/vipm/backend/internal/interfaces/http/handler"
	"github.com/vipm/backend/internal/interfaces/http/middleware"
)

// HealthPath is served outside the versioned API and skipped by request
// logging, tracing and profiling
const HealthPath = "/health"

// SwaggerPath serves the generated API docs when enabled
const SwaggerPath = "/swagger/*any"

// Handlers are the HTTP handlers served by the engine
type Handlers struct {
	Webhook     *handler.WebhookHandler
	Fulfillment *handler.FulfillmentHandler
	Transfer    *handler.TransferHandler
	Health      *handler.HealthHandler
}

// EngineConfig holds the middleware settings of the engine
type EngineConfig struct {
	Logger         *zap.Logger
	Meter          metric.Meter // nil disables HTTP metrics
	TrustedProxies []string
	MaxBodySize    int64
	ServiceName    string
	Tracing        bool
	Profiling      bool
	WebhookAuth    middleware.WebhookAuthConfig
	Swagger        bool
}

// NewEngine builds the gin engine with the middleware chain and every route
// of the service
func NewEngine(cfg EngineConfig, h Handlers) (*gin.Engine, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.WebhookAuth.Logger == nil {
		cfg.WebhookAuth.Logger = cfg.Logger
	}
	webhookAuth, err := middleware.WebhookAuth(cfg.WebhookAuth)
	if err != nil {
		return nil, err
	}
	middleware.SetupValidator()

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("set trusted proxies: %w", err)
	}

	engine.Use(
		middleware.RequestID(),
		logger.Recovery(cfg.Logger),
		middleware.Tracing(cfg.ServiceName, cfg.Tracing, HealthPath),
		middleware.SpanErrorMarker(),
		logger.AccessLog(cfg.Logger, HealthPath),
		middleware.Secure(),
		middleware.BodyLimit(cfg.MaxBodySize),
		middleware.HTTPMetrics(cfg.Meter, cfg.Logger),
		middleware.Profiling(cfg.Profiling, HealthPath),
	)

	if h.Health != nil {
		engine.GET(HealthPath, h.Health.Health)
	}
	if cfg.Swagger {
		engine.GET(SwaggerPath, ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	tagged := []gin.HandlerFunc{middleware.TagSpan()}
	var groups []Group
	if h.Webhook != nil {
		groups = append(groups, Group{
			Prefix:     "/webhooks",
			Middleware: []gin.HandlerFunc{webhookAuth, middleware.TagSpan()},
			Routes:     []Route{{http.MethodPost, "/orders", h.Webhook.ReceiveOrder}},
		})
	}
	if h.Fulfillment != nil {
		groups = append(groups, Group{
			Prefix:     "/orders",
			Middleware: tagged,
			Routes:     []Route{{http.MethodPost, "/:id/fulfill", h.Fulfillment.Fulfill}},
		})
	}
	if h.Transfer != nil {
		groups = append(groups, Group{
			Prefix:     "/transfers",
			Middleware: tagged,
			Routes: []Route{
				{http.MethodGet, "", h.Transfer.List},
				{http.MethodGet, "/:id", h.Transfer.Get},
			},
		})
	}
	Mount(engine, groups...)

	return engine, nil
}
