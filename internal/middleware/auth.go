// Package middleware provides Gin HTTP middleware for authentication, authorization,
// rate limiting, security headers and request logging.
//
// Middleware ordering is enforced in internal/api/router.go:
//
//	Recovery → RequestID → Metrics → Logger → CORS → Security → Auth → RateLimit → Policy → Handler
//
// The API limiter runs after Auth so it can key on the user id. The public auth routes
// have no Auth step and are limited per client IP.
//
// Auth turns the bearer token into a user id and then reloads the user row, so the
// policy.Context seen by handlers always reflects the current team and roles rather
// than whatever was true when the token was issued.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/fieldops/fieldops/internal/apperr"
	"github.com/fieldops/fieldops/internal/db/models"
	"github.com/fieldops/fieldops/internal/policy"
)

// Context keys set by AuthMiddleware
const (
	UserKey          = "user"
	UserIDKey        = "user_id"
	PolicyContextKey = "policy_context"
)

// TokenVerifier resolves a bearer token to the id of the user it was issued for
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// ContextResolver loads the authorization context of a user id
type ContextResolver interface {
	ResolveContext(ctx context.Context, userID string) (*policy.Context, *models.User, error)
}

// AuthMiddleware requires a valid bearer token and stores the caller's user and
// policy.Context in the gin context.
func AuthMiddleware(verifier TokenVerifier, resolver ContextResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, msg := bearerToken(c.GetHeader("Authorization"))
		if msg != "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}

		userID, err := verifier.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		pc, user, err := resolver.ResolveContext(c.Request.Context(), userID)
		if err != nil {
			if errors.Is(err, apperr.ErrUnauthenticated) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "User not found"})
				return
			}
			slog.ErrorContext(c.Request.Context(), "failed to load user", "user_id", userID, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to load user"})
			return
		}

		c.Set(UserKey, user)
		c.Set(UserIDKey, user.ID)
		c.Set(PolicyContextKey, pc)
		c.Next()
	}
}

func bearerToken(header string) (string, string) {
	if header == "" {
		return "", "Missing authorization header"
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", "Authorization header must start with 'Bearer '"
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", "Authorization token is empty"
	}
	return token, ""
}

// PolicyContext returns the caller's authorization context, nil on unauthenticated routes
func PolicyContext(c *gin.Context) *policy.Context {
	v, ok := c.Get(PolicyContextKey)
	if !ok {
		return nil
	}
	pc, _ := v.(*policy.Context)
	return pc
}

// CurrentUser returns the authenticated user, nil on unauthenticated routes
func CurrentUser(c *gin.Context) *models.User {
	v, ok := c.Get(UserKey)
	if !ok {
		return nil
	}
	u, _ := v.(*models.User)
	return u
}
