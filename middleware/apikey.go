package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIKeyHeader carries the shared client key.
const APIKeyHeader = "x-api-key"

// APIKey rejects requests whose x-api-key header does not match key. The
// websocket endpoint may pass it as the apiKey query parameter instead,
// since browsers cannot set headers on an upgrade.
func APIKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(APIKeyHeader)
		if got == "" {
			got = c.Query("apiKey")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHORIZED",
				"status":  http.StatusUnauthorized,
				"message": "invalid or missing API key",
			})
			return
		}
		c.Next()
	}
}
