package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ContextKeyOperator is set to true on authenticated requests.
const ContextKeyOperator = "operator"

// tokenFromRequest reads Authorization, then X-API-Key. Browsers cannot set
// headers on websocket upgrades, so those may carry ?token= instead.
func tokenFromRequest(c *gin.Context) string {
	if t := c.GetHeader("Authorization"); t != "" {
		return t
	}
	if t := c.GetHeader("X-API-Key"); t != "" {
		return t
	}
	if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
		return c.Query("token")
	}
	return ""
}

// Middleware marks requests carrying a valid operator token.
func Middleware(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := tokenFromRequest(c); raw != "" && m.Validate(raw) == nil {
			c.Set(ContextKeyOperator, true)
		}
		c.Next()
	}
}

// RequireAuth rejects requests that Middleware did not mark.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsOperator(c) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Operator token required. Include 'Authorization: Bearer <token>' header.",
			})
			return
		}
		c.Next()
	}
}

// IsOperator reports whether the request authenticated.
func IsOperator(c *gin.Context) bool {
	return c.GetBool(ContextKeyOperator)
}
