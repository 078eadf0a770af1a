// Package middleware provides Gin HTTP middleware for authentication, authorization,
// rate limiting, fraud interception, security headers and request metrics.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Security → RateLimit → Auth → RequireAdmin | Fraud → Handler
//
// Security headers run first so they appear on all responses including errors.
// Rate limiting runs before auth to block brute-force attacks before any DB work.
// Auth populates the user identity; admin checks and the fraud interceptor read it.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gigmarket/marketplace/internal/auth"
	"github.com/gigmarket/marketplace/internal/db/models"
	"github.com/gin-gonic/gin"
)

// Context keys set by AuthMiddleware.
const (
	ContextUserKey       = "user"
	ContextUserIDKey     = "user_id"
	ContextUserEmailKey  = "user_email"
	ContextUserRoleKey   = "user_role"
	ContextIsAdminKey    = "is_admin"
	ContextAuthMethodKey = "auth_method"
	ContextSessionKey    = "session_id"
)

// UserLoader loads the account behind a validated token.
type UserLoader interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
}

// AuthMiddleware requires a valid bearer JWT whose subject still exists.
func AuthMiddleware(users UserLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, msg := bearerToken(c.GetHeader("Authorization"))
		if msg != "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}

		claims, err := auth.ValidateJWT(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}

		user, err := users.GetUserByID(c.Request.Context(), claims.UserID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to load user"})
			return
		}
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "User not found"})
			return
		}

		setUser(c, user)
		c.Set(ContextSessionKey, claims.ID)
		c.Next()
	}
}

// OptionalAuthMiddleware sets the user when a valid token is present and never aborts.
// Public routes like login use it so the fraud interceptor can still see who is calling.
func OptionalAuthMiddleware(users UserLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, msg := bearerToken(c.GetHeader("Authorization"))
		if msg != "" {
			c.Next()
			return
		}
		if claims, err := auth.ValidateJWT(token); err == nil {
			if user, err := users.GetUserByID(c.Request.Context(), claims.UserID); err == nil && user != nil {
				setUser(c, user)
				c.Set(ContextSessionKey, claims.ID)
			}
		}
		c.Next()
	}
}

// CurrentUser returns the authenticated user, or nil.
func CurrentUser(c *gin.Context) *models.User {
	v, ok := c.Get(ContextUserKey)
	if !ok {
		return nil
	}
	u, _ := v.(*models.User)
	return u
}

func setUser(c *gin.Context, user *models.User) {
	c.Set(ContextUserKey, user)
	c.Set(ContextUserIDKey, user.ID)
	c.Set(ContextUserEmailKey, user.Email)
	c.Set(ContextUserRoleKey, user.Role)
	c.Set(ContextIsAdminKey, user.IsAdmin())
	c.Set(ContextAuthMethodKey, "jwt")
}

// bearerToken extracts the token; a non-empty second value is the rejection message.
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
