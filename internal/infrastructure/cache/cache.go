// Package cache holds the short-lived state shared by the fulfillment
// workers: vendor access tokens and webhook delivery ids. Both have a Redis
// implementation for multi-instance deployments and an in-memory one for
// single-instance runs and tests.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidTTL is returned when a value would be stored already expired.
var ErrInvalidTTL = errors.New("cache: ttl must be positive")

// Token is a vendor access token together with the time it stops being
// usable. ExpiresAt already accounts for the refresh margin.
type Token struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Valid reports whether the token can still be sent at now.
func (t Token) Valid(now time.Time) bool {
	return t.AccessToken != "" && now.Before(t.ExpiresAt)
}

// TokenCache stores one token per credential key.
type TokenCache interface {
	// Get returns the token for key; ok is false on a miss or when the
	// stored token has expired.
	Get(ctx context.Context, key string) (token Token, ok bool, err error)
	Set(ctx context.Context, key string, token Token) error
	Delete(ctx context.Context, key string) error
}

// IdempotencyStore remembers delivery ids for a bounded time.
type IdempotencyStore interface {
	// MarkProcessed records id; it returns false when id was already
	// recorded and has not expired.
	MarkProcessed(ctx context.Context, id string, ttl time.Duration) (bool, error)
	IsProcessed(ctx context.Context, id string) (bool, error)
	Close() error
}
