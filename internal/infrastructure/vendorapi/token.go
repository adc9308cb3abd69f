package vendorapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/vipm/backend/internal/domain/fulfillment"
	"github.com/vipm/backend/internal/infrastructure/cache"
)

// TokenProvider issues client-credential access tokens per authorization.
// Tokens are cached until expires_in minus the margin; concurrent misses for
// the same client share one refresh.
type TokenProvider struct {
	endpoint   string
	scopes     []string
	margin     time.Duration
	cache      cache.TokenCache
	httpClient *http.Client
	logger     *zap.Logger
	group      singleflight.Group
	now        func() time.Time
}

// TokenProviderOption configures a TokenProvider
type TokenProviderOption func(*TokenProvider)

// WithTokenHTTPClient sets the HTTP client used against the auth endpoint
func WithTokenHTTPClient(c *http.Client) TokenProviderOption {
	return func(p *TokenProvider) {
		p.httpClient = c
	}
}

// WithTokenLogger sets the logger
func WithTokenLogger(l *zap.Logger) TokenProviderOption {
	return func(p *TokenProvider) {
		p.logger = l
	}
}

// WithTokenClock overrides the clock, for tests
func WithTokenClock(now func() time.Time) TokenProviderOption {
	return func(p *TokenProvider) {
		p.now = now
	}
}

// NewTokenProvider creates a token provider
func NewTokenProvider(endpoint string, scopes []string, margin time.Duration, tokens cache.TokenCache, opts ...TokenProviderOption) *TokenProvider {
	p := &TokenProvider{
		endpoint:   endpoint,
		scopes:     scopes,
		margin:     margin,
		cache:      tokens,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Token returns a usable access token for auth
func (p *TokenProvider) Token(ctx context.Context, auth *Authorization) (string, error) {
	key := auth.ClientID
	if tok, ok, err := p.cache.Get(ctx, key); err != nil {
		p.logger.Warn("token cache read failed", zap.String("authorization_id", auth.ID), zap.Error(err))
	} else if ok && tok.Valid(p.now()) {
		return tok.AccessToken, nil
	}

	v, err, _ := p.group.Do(key, func() (any, error) {
		tok, err := p.refresh(ctx, auth)
		if err != nil {
			return "", err
		}
		if err := p.cache.Set(ctx, key, tok); err != nil {
			p.logger.Warn("token cache write failed", zap.String("authorization_id", auth.ID), zap.Error(err))
		}
		return tok.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token of auth
func (p *TokenProvider) Invalidate(ctx context.Context, auth *Authorization) {
	if err := p.cache.Delete(ctx, auth.ClientID); err != nil {
		p.logger.Warn("token cache delete failed", zap.String("authorization_id", auth.ID), zap.Error(err))
	}
}

func (p *TokenProvider) refresh(ctx context.Context, auth *Authorization) (cache.Token, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", auth.ClientID)
	form.Set("client_secret", auth.ClientSecret)
	form.Set("scope", strings.Join(p.scopes, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return cache.Token{}, fmt.Errorf("vendorapi: failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return cache.Token{}, fmt.Errorf("%w: %v", fulfillment.ErrVendorUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return cache.Token{}, fmt.Errorf("vendorapi: failed to read token response: %w", err)
	}
	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return cache.Token{}, fmt.Errorf("%w: token endpoint HTTP %d", fulfillment.ErrVendorUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return cache.Token{}, fmt.Errorf("%w: HTTP %d for %s", fulfillment.ErrVendorAuthFailed, resp.StatusCode, auth.ID)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil || tr.AccessToken == "" {
		return cache.Token{}, fmt.Errorf("%w: malformed token response", fulfillment.ErrVendorAuthFailed)
	}

	p.logger.Debug("vendor token refreshed",
		zap.String("authorization_id", auth.ID),
		zap.Int64("expires_in", tr.ExpiresIn),
	)
	return cache.Token{
		AccessToken: tr.AccessToken,
		ExpiresAt:   p.now().Add(time.Duration(tr.ExpiresIn)*time.Second - p.margin),
	}, nil
}
