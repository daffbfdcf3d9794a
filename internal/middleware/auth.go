package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"fieldsales-server/internal/config"
	"fieldsales-server/internal/utils"
)

// Context keys set by AuthMiddleware.
const (
	ctxUserID   = "userID"
	ctxUserRole = "userRole"
	ctxClaims   = "claims"
)

// AuthMiddleware creates a middleware for JWT authentication.
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			utils.Unauthorized(c, "Authorization header required")
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			utils.Unauthorized(c, "Invalid authorization header format")
			c.Abort()
			return
		}

		claims, err := utils.ValidateToken(parts[1], cfg.JWTSecret)
		if err != nil {
			utils.Unauthorized(c, "Invalid or expired token")
			c.Abort()
			return
		}

		// Set user information in context for downstream handlers
		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxUserRole, claims.Role)
		c.Set(ctxClaims, claims)
		WithLogField(c, "user_id", claims.UserID)

		c.Next()
	}
}

// RequirePermission allows the request only when the token carries every
// listed permission. It must run after AuthMiddleware.
func RequirePermission(perms ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetUserIDFromContext(c); !ok {
			utils.Unauthorized(c, "Authentication required")
			c.Abort()
			return
		}
		for _, p := range perms {
			if !HasPermission(c, p) {
				utils.Forbidden(c, "You do not have permission to access this resource.")
				c.Abort()
				return
			}
		}
		c.Next()
	}
}

// HasPermission reports whether the authenticated caller holds perm.
func HasPermission(c *gin.Context, perm string) bool {
	v, exists := c.Get(ctxClaims)
	if !exists {
		return false
	}
	claims, ok := v.(*utils.Claims)
	return ok && claims.HasPermission(perm)
}

// Helper function to get user ID from context
func GetUserIDFromContext(c *gin.Context) (string, bool) {
	userID, exists := c.Get(ctxUserID)
	if !exists {
		return "", false
	}
	idStr, ok := userID.(string)
	return idStr, ok && idStr != ""
}
