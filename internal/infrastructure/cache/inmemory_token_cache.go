package cache

import (
	"context"
	"time"
)

// InMemoryTokenCache keeps tokens in process memory. Each worker process
// refreshes its own tokens.
type InMemoryTokenCache struct {
	m *expiringMap[Token]
}

// NewInMemoryTokenCache creates an in-memory token cache
func NewInMemoryTokenCache() *InMemoryTokenCache {
	return &InMemoryTokenCache{m: newExpiringMap[Token](time.Minute)}
}

// Get implements TokenCache
func (c *InMemoryTokenCache) Get(_ context.Context, key string) (Token, bool, error) {
	token, ok := c.m.get(key)
	return token, ok, nil
}

// Set implements TokenCache
func (c *InMemoryTokenCache) Set(_ context.Context, key string, token Token) error {
	if !token.ExpiresAt.After(c.m.now()) {
		return ErrInvalidTTL
	}
	c.m.set(key, token, token.ExpiresAt)
	return nil
}

// Delete implements TokenCache
func (c *InMemoryTokenCache) Delete(_ context.Context, key string) error {
	c.m.delete(key)
	return nil
}

// Close stops the sweep loop. Safe to call multiple times.
func (c *InMemoryTokenCache) Close() error {
	c.m.close()
	return nil
}

var _ TokenCache = (*InMemoryTokenCache)(nil)
