package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/appforge/backend/pkg/constants"
)

// Cors allows browser clients on other origins to call the API. The
// origin is echoed back rather than wildcarded so credentialed
// requests keep working.
func Cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			origin = "*"
		}
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers",
			constants.HeaderAuthorization+", Content-Type, "+constants.HeaderOrganization+", "+HeaderOperatorToken)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
