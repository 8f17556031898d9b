package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type contextKey string

const apiKeyKey contextKey = "providerAPIKey"

// EnvironmentProduction is the execution mode in which callers must supply
// their own provider credential.
const EnvironmentProduction = "PRODUCTION"

// APIKey retrieves the provider credential from context.
func APIKey(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if value, ok := ctx.Value(apiKeyKey).(string); ok && value != "" {
		return value, true
	}
	return "", false
}

// KeyMiddleware resolves the provider API key for a request. In production
// mode the Authorization header must carry the caller's key and requests
// without one are rejected before any processing begins; otherwise the
// configured default key is used and the header, when present, overrides it.
func KeyMiddleware(environment, defaultKey string) gin.HandlerFunc {
	production := strings.EqualFold(strings.TrimSpace(environment), EnvironmentProduction)

	return func(c *gin.Context) {
		key, err := extractBearerKey(c.GetHeader("Authorization"))
		if err != nil {
			if production {
				unauthorized(c, "API key not found in headers. Please provide the key in Authorization header.")
				return
			}
			key = defaultKey
		}

		ctx := context.WithValue(c.Request.Context(), apiKeyKey, key)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

func extractBearerKey(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header required")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header")
	}
	key := strings.TrimSpace(parts[1])
	if key == "" {
		return "", errors.New("key missing")
	}
	return key, nil
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": message})
}
