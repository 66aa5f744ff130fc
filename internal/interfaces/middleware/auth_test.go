package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appforge/backend/pkg/auth"
	"github.com/appforge/backend/pkg/constants"
)

func callerRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ResolveCaller())
	router.GET("/check", func(c *gin.Context) {
		value, _ := c.Get(constants.ContextKeyCaller)
		caller := value.(*auth.CallerContext)
		c.JSON(http.StatusOK, gin.H{
			"authenticated": caller.Authenticated,
			"user_id":       caller.UserID,
			"org":           caller.CurrentOrganizationID,
		})
	})
	return router
}

func issueToken(t *testing.T) string {
	t.Helper()
	token, err := auth.GenerateToken(auth.CallerContext{
		UserID: "user-1",
		Role:   "member",
		Organizations: []auth.OrganizationMembership{
			{OrganizationID: "org-1", Role: "admin"},
		},
		CurrentOrganizationID: "org-1",
	})
	require.NoError(t, err)
	return token
}

func TestResolveCaller_NoHeaderIsAnonymous(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/check", nil)
	callerRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"authenticated":false`)
}

func TestResolveCaller_MalformedHeader(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/check", nil)
	req.Header.Set(constants.HeaderAuthorization, "Basic abc123")
	callerRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestResolveCaller_InvalidToken(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/check", nil)
	req.Header.Set(constants.HeaderAuthorization, "Bearer garbage")
	callerRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestResolveCaller_ValidToken(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/check", nil)
	req.Header.Set(constants.HeaderAuthorization, "Bearer "+issueToken(t))
	callerRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"authenticated":true`)
	assert.Contains(t, w.Body.String(), `"user_id":"user-1"`)
	assert.Contains(t, w.Body.String(), `"org":"org-1"`)
}

func TestResolveCaller_NonMemberOrganizationIsCleared(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/check", nil)
	req.Header.Set(constants.HeaderAuthorization, "Bearer "+issueToken(t))
	req.Header.Set(constants.HeaderOrganization, "org-evil")
	callerRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"org":""`,
		"binding a foreign organization clears the binding instead of erroring")
}

func operatorRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequireOperator())
	router.POST("/check", func(c *gin.Context) { c.Status(http.StatusOK) })
	return router
}

func TestRequireOperator_DisabledWithoutHash(t *testing.T) {
	t.Setenv("OPERATOR_TOKEN_HASH", "")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/check", nil)
	operatorRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequireOperator_TokenVerification(t *testing.T) {
	hash, err := auth.HashOperatorToken("swordfish")
	require.NoError(t, err)
	t.Setenv("OPERATOR_TOKEN_HASH", hash)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/check", nil)
	req.Header.Set(HeaderOperatorToken, "swordfish")
	operatorRouter().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/check", nil)
	req.Header.Set(HeaderOperatorToken, "wrong")
	operatorRouter().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
