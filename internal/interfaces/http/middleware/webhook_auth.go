package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/vipm/backend/internal/interfaces/http/dto"
)

// Webhook context keys
const (
	WebhookClaimsKey = "webhook_claims"
	AuthHeaderKey    = "Authorization"
	BearerPrefix     = "Bearer "
)

// ErrWebhookSecretRequired is returned when the middleware is built
// without a signing secret
var ErrWebhookSecretRequired = errors.New("webhook: signing secret is required")

// WebhookClaims are the claims the platform signs each delivery with
type WebhookClaims struct {
	jwt.RegisteredClaims
}

// WebhookAuthConfig holds configuration for the webhook middleware
type WebhookAuthConfig struct {
	// Secret is the HS256 key shared with the platform
	Secret []byte
	// Issuer is the expected iss claim; empty skips the check
	Issuer string
	// Leeway tolerates clock skew on exp, nbf and iat
	Leeway time.Duration
	Logger *zap.Logger
}

// WebhookAuth verifies the bearer token of platform webhook deliveries
func WebhookAuth(cfg WebhookAuthConfig) (gin.HandlerFunc, error) {
	if len(cfg.Secret) == 0 {
		return nil, ErrWebhookSecretRequired
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(cfg.Leeway))
	}
	parser := jwt.NewParser(opts...)
	keyFunc := func(*jwt.Token) (any, error) {
		return cfg.Secret, nil
	}

	return func(c *gin.Context) {
		authHeader := c.GetHeader(AuthHeaderKey)
		if !strings.HasPrefix(authHeader, BearerPrefix) {
			abortUnauthorized(c, cfg.Logger, dto.ErrCodeUnauthorized, "Missing bearer token", nil)
			return
		}
		tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, BearerPrefix))
		if tokenString == "" {
			abortUnauthorized(c, cfg.Logger, dto.ErrCodeUnauthorized, "Missing bearer token", nil)
			return
		}

		claims := &WebhookClaims{}
		if _, err := parser.ParseWithClaims(tokenString, claims, keyFunc); err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				abortUnauthorized(c, cfg.Logger, dto.ErrCodeTokenExpired, "Token has expired", err)
				return
			}
			abortUnauthorized(c, cfg.Logger, dto.ErrCodeTokenInvalid, "Invalid token", err)
			return
		}

		c.Set(WebhookClaimsKey, claims)
		c.Next()
	}, nil
}

func abortUnauthorized(c *gin.Context, logger *zap.Logger, code, message string, err error) {
	logger.Warn("Webhook authentication failed",
		zap.String("code", code),
		zap.String("path", c.Request.URL.Path),
		zap.String("request_id", GetRequestID(c)),
		zap.Error(err),
	)
	c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewErrorResponseWithRequestID(code, message, GetRequestID(c)))
}

// GetWebhookClaims retrieves the verified claims from gin.Context
func GetWebhookClaims(c *gin.Context) *WebhookClaims {
	if claims, exists := c.Get(WebhookClaimsKey); exists {
		if wc, ok := claims.(*WebhookClaims); ok {
			return wc
		}
	}
	return nil
}
