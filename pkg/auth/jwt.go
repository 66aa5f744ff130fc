package auth

import (
	"errors"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/appforge/backend/pkg/utils"
)

// OrganizationMembership is one organization a caller belongs to, with the
// role the caller holds inside that organization.
type OrganizationMembership struct {
	OrganizationID string `json:"organization_id"`
	Role           string `json:"role"`
}

// CallerContext is the resolved identity consumed by the authorization
// engine. It is issued by the external authentication subsystem; this
// package only parses and validates the claims.
type CallerContext struct {
	Authenticated         bool                     `json:"-"`
	UserID                string                   `json:"user_id"`
	Role                  string                   `json:"role"`
	Organizations         []OrganizationMembership `json:"organizations,omitempty"`
	CurrentOrganizationID string                   `json:"current_organization_id,omitempty"`
}

// Anonymous returns the caller context for an unauthenticated request
func Anonymous() *CallerContext {
	return &CallerContext{Authenticated: false}
}

// MemberOf reports whether the caller belongs to the given organization
func (c *CallerContext) MemberOf(organizationID string) bool {
	for _, m := range c.Organizations {
		if m.OrganizationID == organizationID {
			return true
		}
	}
	return false
}

// EffectiveRole returns the caller's role inside the currently bound
// organization when a membership exists, falling back to the global role.
func (c *CallerContext) EffectiveRole() string {
	for _, m := range c.Organizations {
		if m.OrganizationID == c.CurrentOrganizationID && m.Role != "" {
			return m.Role
		}
	}
	return c.Role
}

// BindOrganization returns a copy of the caller with the current
// organization switched. Binding an organization the caller is not a
// member of clears the binding: org-scoped rows then simply stay hidden.
func (c *CallerContext) BindOrganization(organizationID string) *CallerContext {
	bound := *c
	if organizationID == "" {
		return &bound
	}
	if c.MemberOf(organizationID) {
		bound.CurrentOrganizationID = organizationID
	} else {
		bound.CurrentOrganizationID = ""
	}
	return &bound
}

// Claims represents JWT claims
type Claims struct {
	Caller CallerContext `json:"caller"`
	jwt.RegisteredClaims
}

var jwtSecret = []byte(getJWTSecret())

func getJWTSecret() string {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "default-secret-change-in-production"
	}
	return secret
}

// GenerateToken creates a JWT token for a caller context.
// Token issuance normally belongs to the authentication subsystem; this
// helper exists for tests and local tooling.
func GenerateToken(caller CallerContext) (string, error) {
	expirationTime := time.Now().Add(24 * time.Hour)
	jti := utils.GenerateID()

	claims := &Claims{
		Caller: caller,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ID:        jti,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

// ValidateToken validates and parses a JWT token
func ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return jwtSecret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		claims.Caller.Authenticated = true
		return claims, nil
	}

	return nil, errors.New("invalid token")
}
