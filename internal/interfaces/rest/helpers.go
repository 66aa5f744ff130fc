package rest

import (
	"log"

	"github.com/gin-gonic/gin"

	"github.com/appforge/backend/pkg/auth"
	"github.com/appforge/backend/pkg/constants"
	"github.com/appforge/backend/pkg/errors"
)

// CallerFromContext extracts the resolved caller from gin.Context.
// Requests that skipped the middleware count as anonymous.
func CallerFromContext(c *gin.Context) *auth.CallerContext {
	value, exists := c.Get(constants.ContextKeyCaller)
	if !exists {
		return auth.Anonymous()
	}
	caller, ok := value.(*auth.CallerContext)
	if !ok {
		return auth.Anonymous()
	}
	return caller
}

// RespondAppError sends a standardised JSON error response using pkg/errors
func RespondAppError(c *gin.Context, err error) {
	code := errors.GetHTTPStatus(err)

	if code >= 500 {
		log.Printf("❌ ERROR [%d] %s %s: %s", code, c.Request.Method, c.Request.URL.Path, err.Error())
	}

	c.JSON(code, errors.ToResponse(err))
}

// BindJSON binds JSON and returns true if successful. If failed, it sends bad request error.
func BindJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		RespondAppError(c, errors.NewValidationError("body", err.Error()))
		return false
	}
	return true
}
