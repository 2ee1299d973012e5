package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/troikatech/pbx-voice-bridge/pkg/auth"
	"github.com/troikatech/pbx-voice-bridge/pkg/errors"
)

// Context keys set by AuthMiddleware.
const (
	ContextOperator = "operator"
	ContextRole     = "operator_role"
)

func AuthMiddleware(jwtSecret, issuer, audience string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			errors.Unauthorized(c, "authorization header required")
			return
		}

		bearerToken := strings.Split(authHeader, " ")
		if len(bearerToken) != 2 || strings.ToLower(bearerToken[0]) != "bearer" {
			errors.Unauthorized(c, "invalid authorization format")
			return
		}

		claims, err := auth.ParseToken(bearerToken[1], jwtSecret, issuer, audience)
		if err != nil {
			errors.Unauthorized(c, "invalid or expired token")
			return
		}

		c.Set(ContextOperator, claims.Subject)
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}

func RoleMiddleware(allowedRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(ContextRole)
		if role == "" {
			errors.Forbidden(c, "role not found in token")
			return
		}

		for _, allowed := range allowedRoles {
			if role == allowed {
				c.Next()
				return
			}
		}

		errors.Forbidden(c, "insufficient permissions")
	}
}
