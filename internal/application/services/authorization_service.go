package services

import (
	"log"

	"github.com/appforge/backend/internal/domain/schema"
	"github.com/appforge/backend/pkg/auth"
	"github.com/appforge/backend/pkg/constants"
	"github.com/appforge/backend/pkg/errors"
)

// AuthorizationService enforces table-level and field-level access on
// top of the database's row-level policies. Row visibility is decided
// by the database; this layer decides whether a caller may run a
// command at all and which fields they may see or write.
//
// Ordering matters for id-addressed operations: the role check runs
// after the isolation-scoped fetch, so a caller probing another
// organization's ids always gets a not-found, never a permission error
// that would confirm the row exists.
type AuthorizationService struct{}

// NewAuthorizationService creates a new AuthorizationService
func NewAuthorizationService() *AuthorizationService {
	return &AuthorizationService{}
}

// ==================== Table-Level Checks ====================

// RequireAuthenticated rejects anonymous callers on protected tables
func (as *AuthorizationService) RequireAuthenticated(caller *auth.CallerContext, table *schema.CompiledTable) error {
	if !table.Definition.Protected() {
		return nil
	}
	if caller == nil || !caller.Authenticated {
		return errors.NewUnauthorizedError("authentication required")
	}
	return nil
}

// CheckCommand verifies the caller's role may run a command against a
// table. A permission block without a role list for the command leaves
// it open to any authenticated caller.
func (as *AuthorizationService) CheckCommand(caller *auth.CallerContext, table *schema.CompiledTable, command string) error {
	if !table.Definition.Protected() {
		return nil
	}
	if caller == nil || !caller.Authenticated {
		return errors.NewUnauthorizedError("authentication required")
	}
	perms := table.Definition.Permissions
	if perms == nil {
		return nil
	}
	roles := perms.RolesFor(command)
	if len(roles) == 0 {
		return nil
	}
	role := caller.EffectiveRole()
	for _, allowed := range roles {
		if allowed == role {
			return nil
		}
	}
	log.Printf("🛡️ Denied %s on %s for role '%s'", command, table.Definition.Name, role)
	return errors.NewPermissionError(command, table.Definition.Name)
}

// ==================== Field-Level Checks ====================

// canAccessField reports whether a role appears in an allow list. A nil
// or empty list leaves the field open.
func canAccessField(roles []string, role string) bool {
	if len(roles) == 0 {
		return true
	}
	for _, allowed := range roles {
		if allowed == role {
			return true
		}
	}
	return false
}

// FilterWriteFields drops fields the caller may not write. Dropping is
// silent: the rest of the write proceeds and the dropped field keeps
// its stored value.
func (as *AuthorizationService) FilterWriteFields(caller *auth.CallerContext, table *schema.CompiledTable, record map[string]interface{}) map[string]interface{} {
	role := ""
	if caller != nil {
		role = caller.EffectiveRole()
	}
	filtered := make(map[string]interface{}, len(record))
	for name, value := range record {
		field := table.Definition.Field(name)
		if field != nil && field.Permissions != nil && !canAccessField(field.Permissions.Write, role) {
			log.Printf("🛡️ Dropped write to %s.%s for role '%s'", table.Definition.Name, name, role)
			continue
		}
		filtered[name] = value
	}
	return filtered
}

// MaskReadFields removes fields the caller may not read. Masked fields
// are omitted entirely rather than nulled, so their absence is not
// mistaken for an empty value.
func (as *AuthorizationService) MaskReadFields(caller *auth.CallerContext, table *schema.CompiledTable, record map[string]interface{}) map[string]interface{} {
	role := ""
	if caller != nil {
		role = caller.EffectiveRole()
	}
	masked := make(map[string]interface{}, len(record))
	for name, value := range record {
		field := table.Definition.Field(name)
		if field != nil && field.Permissions != nil && !canAccessField(field.Permissions.Read, role) {
			continue
		}
		masked[name] = value
	}
	return masked
}

// ==================== Session Binding ====================

// SessionSettings returns the GUC key/value pairs that bind a caller to
// a database transaction. All three are always set, so a stale value
// from a pooled connection can never leak across requests.
func (as *AuthorizationService) SessionSettings(caller *auth.CallerContext) [][2]string {
	org, role, uid := "", "", ""
	if caller != nil {
		org = caller.CurrentOrganizationID
		role = caller.EffectiveRole()
		uid = caller.UserID
	}
	return [][2]string{
		{constants.GUCCurrentOrg, org},
		{constants.GUCCallerRole, role},
		{constants.GUCUserID, uid},
	}
}
