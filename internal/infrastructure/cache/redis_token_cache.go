package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTokenPrefix = "vipm:token:"

// RedisTokenCache shares vendor tokens between worker instances. The key
// TTL matches the token's ExpiresAt.
type RedisTokenCache struct {
	client    redis.UniversalClient
	keyPrefix string
	now       func() time.Time
}

// NewRedisTokenCache creates a token cache on an existing client
func NewRedisTokenCache(client redis.UniversalClient, keyPrefix string) *RedisTokenCache {
	if keyPrefix == "" {
		keyPrefix = defaultTokenPrefix
	}
	return &RedisTokenCache{client: client, keyPrefix: keyPrefix, now: time.Now}
}

// Get implements TokenCache
func (c *RedisTokenCache) Get(ctx context.Context, key string) (Token, bool, error) {
	raw, err := c.client.Get(ctx, c.keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Token{}, false, nil
	}
	if err != nil {
		return Token{}, false, fmt.Errorf("failed to read token: %w", err)
	}

	var token Token
	if err := json.Unmarshal(raw, &token); err != nil {
		return Token{}, false, fmt.Errorf("failed to decode token: %w", err)
	}
	if !token.Valid(c.now()) {
		return Token{}, false, nil
	}
	return token, true, nil
}

// Set implements TokenCache
func (c *RedisTokenCache) Set(ctx context.Context, key string, token Token) error {
	ttl := token.ExpiresAt.Sub(c.now())
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	raw, err := json.Marshal(token)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.keyPrefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	return nil
}

// Delete implements TokenCache
func (c *RedisTokenCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.keyPrefix+key).Err()
}

var _ TokenCache = (*RedisTokenCache)(nil)
