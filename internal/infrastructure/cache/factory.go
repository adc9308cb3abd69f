package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vipm/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// Factory builds the caches from configuration. With redis configured and
// reachable both caches share one client; otherwise in-memory caches are
// used when fallback is allowed.
type Factory struct {
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
	pingTimeout           time.Duration

	client redis.UniversalClient
}

// FactoryOption configures a Factory
type FactoryOption func(*Factory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) FactoryOption {
	return func(f *Factory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether an unreachable redis is an error
func WithInMemoryFallback(allow bool) FactoryOption {
	return func(f *Factory) {
		f.allowInMemoryFallback = allow
	}
}

// WithRedisClient injects an existing client instead of dialing one
func WithRedisClient(client redis.UniversalClient) FactoryOption {
	return func(f *Factory) {
		f.client = client
	}
}

// NewFactory creates a new factory
func NewFactory(cfg config.RedisConfig, opts ...FactoryOption) *Factory {
	f := &Factory{
		redisConfig:           cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
		pingTimeout:           5 * time.Second,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// redisClient returns a pinged client, or nil when redis is not configured
func (f *Factory) redisClient(ctx context.Context) (redis.UniversalClient, error) {
	if f.client == nil {
		addr := f.redisConfig.Addr()
		if addr == "" {
			return nil, nil
		}
		f.client = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: f.redisConfig.Password,
			DB:       f.redisConfig.DB,
		})
	}

	pingCtx, cancel := context.WithTimeout(ctx, f.pingTimeout)
	defer cancel()
	if err := f.client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return f.client, nil
}

func (f *Factory) resolve(ctx context.Context, what string) (redis.UniversalClient, error) {
	client, err := f.redisClient(ctx)
	switch {
	case err != nil && !f.allowInMemoryFallback:
		return nil, fmt.Errorf("redis required for %s but unavailable: %w", what, err)
	case err != nil:
		f.logger.Warn("Redis unavailable, falling back to in-memory "+what,
			zap.Error(err))
		return nil, nil
	case client == nil:
		f.logger.Info("Redis not configured, using in-memory " + what)
	default:
		f.logger.Info("Using Redis " + what)
	}
	return client, nil
}

// TokenCache returns the vendor token cache
func (f *Factory) TokenCache(ctx context.Context) (TokenCache, error) {
	client, err := f.resolve(ctx, "token cache")
	if err != nil {
		return nil, err
	}
	if client == nil {
		return NewInMemoryTokenCache(), nil
	}
	return NewRedisTokenCache(client, ""), nil
}

// IdempotencyStore returns the webhook de-duplication store
func (f *Factory) IdempotencyStore(ctx context.Context) (IdempotencyStore, error) {
	client, err := f.resolve(ctx, "idempotency store")
	if err != nil {
		return nil, err
	}
	if client == nil {
		return NewInMemoryIdempotencyStore(), nil
	}
	return NewRedisIdempotencyStore(client, ""), nil
}

// Close releases the shared redis client
func (f *Factory) Close() error {
	if f.client == nil {
		return nil
	}
	return f.client.Close()
}
