package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCaller() CallerContext {
	return CallerContext{
		UserID: "user-1",
		Role:   "member",
		Organizations: []OrganizationMembership{
			{OrganizationID: "org-1", Role: "admin"},
			{OrganizationID: "org-2", Role: "member"},
		},
		CurrentOrganizationID: "org-1",
	}
}

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenerateToken(testCaller())
	require.NoError(t, err)

	claims, err := ValidateToken(token)
	require.NoError(t, err)
	assert.True(t, claims.Caller.Authenticated, "validated callers are authenticated")
	assert.Equal(t, "user-1", claims.Caller.UserID)
	assert.Equal(t, "org-1", claims.Caller.CurrentOrganizationID)
	assert.Len(t, claims.Caller.Organizations, 2)
}

func TestValidateToken_Garbage(t *testing.T) {
	_, err := ValidateToken("not.a.token")
	assert.Error(t, err)
}

func TestEffectiveRole(t *testing.T) {
	caller := testCaller()
	assert.Equal(t, "admin", caller.EffectiveRole(), "membership role wins inside the bound organization")

	caller.CurrentOrganizationID = "org-2"
	assert.Equal(t, "member", caller.EffectiveRole())

	caller.CurrentOrganizationID = ""
	assert.Equal(t, "member", caller.EffectiveRole(), "global role is the fallback")
}

func TestBindOrganization(t *testing.T) {
	caller := testCaller()

	bound := caller.BindOrganization("org-2")
	assert.Equal(t, "org-2", bound.CurrentOrganizationID)
	assert.Equal(t, "org-1", caller.CurrentOrganizationID, "binding returns a copy")

	// A non-member binding is cleared: scoped rows stay hidden instead
	// of leaking another organization's data.
	stranger := caller.BindOrganization("org-evil")
	assert.Empty(t, stranger.CurrentOrganizationID)
}

func TestAnonymous(t *testing.T) {
	caller := Anonymous()
	assert.False(t, caller.Authenticated)
	assert.False(t, caller.MemberOf("org-1"))
	assert.Empty(t, caller.EffectiveRole())
}

func TestOperatorTokenHashing(t *testing.T) {
	hash, err := HashOperatorToken("hunter2")
	require.NoError(t, err)

	assert.True(t, VerifyOperatorToken("hunter2", hash))
	assert.False(t, VerifyOperatorToken("wrong", hash))
	assert.False(t, VerifyOperatorToken("hunter2", "not-a-hash"))
}
