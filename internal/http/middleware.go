package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/area-platform/areaengine/internal/security"
)

// APIKeyAuthMiddleware authenticates ops requests against the configured key
// hashes. With no hashes configured the ops surface is open, which is only
// sensible for local development.
func APIKeyAuthMiddleware(keyHashes []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(keyHashes) == 0 {
			c.Next()
			return
		}

		key := presentedKey(c.Request)
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing API key"})
			return
		}
		for _, hash := range keyHashes {
			if security.CheckAPIKey(hash, key) {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
	}
}

func presentedKey(r *http.Request) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return strings.TrimSpace(r.Header.Get("X-Api-Key"))
}
