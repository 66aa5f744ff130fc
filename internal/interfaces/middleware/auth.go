package middleware

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/appforge/backend/pkg/auth"
	"github.com/appforge/backend/pkg/constants"
)

// HeaderOperatorToken authenticates schema administration endpoints
const HeaderOperatorToken = "X-Operator-Token"

// ResolveCaller is a middleware that turns the request's credentials
// into a caller context. A missing Authorization header yields an
// anonymous caller; whether that caller may do anything is decided per
// table downstream. A malformed or invalid token is always rejected.
func ResolveCaller() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(constants.HeaderAuthorization)
		if authHeader == "" {
			c.Set(constants.ContextKeyCaller, auth.Anonymous())
			c.Next()
			return
		}

		// Extract token (format: "Bearer <token>")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "Unauthorized",
				"message": "Invalid authorization header format",
				"code":    "UNAUTHORIZED",
			})
			c.Abort()
			return
		}

		claims, err := auth.ValidateToken(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "Unauthorized",
				"message": "Invalid or expired token",
				"code":    "UNAUTHORIZED",
			})
			c.Abort()
			return
		}

		caller := &claims.Caller
		if org := c.GetHeader(constants.HeaderOrganization); org != "" {
			caller = caller.BindOrganization(org)
		} else if caller.CurrentOrganizationID != "" && !caller.MemberOf(caller.CurrentOrganizationID) {
			caller = caller.BindOrganization(caller.CurrentOrganizationID)
		}

		c.Set(constants.ContextKeyCaller, caller)
		c.Next()
	}
}

// RequireOperator guards schema administration endpoints with a shared
// operator token, verified against the bcrypt hash in
// OPERATOR_TOKEN_HASH. With no hash configured the endpoints are
// disabled outright.
func RequireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		hash := os.Getenv("OPERATOR_TOKEN_HASH")
		if hash == "" {
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "Forbidden",
				"message": "Schema administration is not enabled",
				"code":    "FORBIDDEN",
			})
			c.Abort()
			return
		}
		token := c.GetHeader(HeaderOperatorToken)
		if token == "" || !auth.VerifyOperatorToken(token, hash) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "Unauthorized",
				"message": "Invalid operator token",
				"code":    "UNAUTHORIZED",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
