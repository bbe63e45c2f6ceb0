package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ohboy/herosync/internal/tokens"
)

// RequireToken enforces a shared-secret bearer token on the sync API.
// With an empty secret the middleware is a no-op, leaving the API open;
// this is the acknowledged auth hook, not a full identity layer.
//
// Websocket clients can't set headers from browsers, so the token is also
// accepted as a `token` query parameter on upgrade requests.
func RequireToken(secret string) gin.HandlerFunc {
	if secret == "" {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		raw := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if raw == "" || raw == c.GetHeader("Authorization") {
			raw = c.Query("token")
		}
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := tokens.Verify(secret, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("claims", map[string]interface{}(claims))
		c.Next()
	}
}
