package identity

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Gin context keys populated by AuthMiddleware.
const (
	ContextFID    = "fid"
	ContextHandle = "handle"
)

// AuthMiddleware validates the bearer identity token and injects the
// authenticated fid into the request context.
func AuthMiddleware(verifier *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing token"})
			c.Abort()
			return
		}

		parts := strings.Split(auth, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header"})
			c.Abort()
			return
		}

		claims, err := verifier.Verify(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}

		c.Set(ContextFID, claims.FID)
		c.Set(ContextHandle, claims.Handle)
		c.Next()
	}
}

// FIDFromContext returns the authenticated fid, or 0 when the request
// did not pass through AuthMiddleware.
func FIDFromContext(c *gin.Context) int64 {
	return c.GetInt64(ContextFID)
}
