package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ManagementAuth guards admin routes with the configured management
// key, accepted as a bearer token or x-api-key header. A nil validator
// disables the guard.
func ManagementAuth(validate func(string) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if validate == nil {
			c.Next()
			return
		}

		candidate := ""
		auth := strings.TrimSpace(c.GetHeader("Authorization"))
		if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			candidate = strings.TrimSpace(auth[7:])
		}
		if candidate == "" {
			candidate = strings.TrimSpace(c.GetHeader("x-api-key"))
		}

		if candidate == "" {
			unauthorized(c, "Management key not provided")
			return
		}
		if !validate(candidate) {
			unauthorized(c, "Invalid management key")
			return
		}
		c.Next()
	}
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": gin.H{
			"message": message,
			"type":    "invalid_request_error",
			"code":    "invalid_management_key",
		},
	})
}
