package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appforge/backend/internal/domain/schema"
	"github.com/appforge/backend/pkg/constants"
)

func scopedTable() *schema.TableDefinition {
	return &schema.TableDefinition{
		ID:   "tbl_projects",
		Name: "projects",
		Fields: []schema.FieldDefinition{
			{ID: "f1", Name: "id", Type: "text", Required: true},
			{ID: "f2", Name: "organization_id", Type: "text", Required: true},
		},
		Permissions: &schema.PermissionPolicy{
			OrganizationScoped: true,
			Read:               []string{"admin", "member"},
			Create:             []string{"admin"},
			Update:             []string{"admin"},
			Delete:             []string{"admin"},
		},
	}
}

func policyByCommand(policies []schema.CompiledPolicy, command string) *schema.CompiledPolicy {
	for i := range policies {
		if policies[i].Command == command {
			return &policies[i]
		}
	}
	return nil
}

func TestGenerate_UnprotectedTableGetsNoPolicies(t *testing.T) {
	table := scopedTable()
	table.Permissions = nil
	assert.Empty(t, NewPolicyGenerator().Generate(table))
}

func TestGenerate_SelectPolicyCarriesOnlyOrgClause(t *testing.T) {
	policies := NewPolicyGenerator().Generate(scopedTable())

	sel := policyByCommand(policies, constants.PolicySelect)
	require.NotNil(t, sel)
	assert.Equal(t, "pol_projects_select", sel.Name)
	assert.Contains(t, sel.Using, `"organization_id" = current_setting('app.current_org', true)`)
	// Read roles are enforced after the fetch, never in the policy, so
	// an out-of-role caller cannot distinguish foreign rows from denial.
	assert.NotContains(t, sel.Using, "app.caller_role")
	assert.Empty(t, sel.WithCheck)
}

func TestGenerate_WritePoliciesCarryOrgAndRole(t *testing.T) {
	policies := NewPolicyGenerator().Generate(scopedTable())

	ins := policyByCommand(policies, constants.PolicyInsert)
	require.NotNil(t, ins)
	assert.Empty(t, ins.Using)
	assert.Contains(t, ins.WithCheck, "app.current_org")
	assert.Contains(t, ins.WithCheck, `current_setting('app.caller_role', true) = ANY (ARRAY['admin'])`)

	upd := policyByCommand(policies, constants.PolicyUpdate)
	require.NotNil(t, upd)
	assert.Contains(t, upd.Using, "app.caller_role")
	assert.Contains(t, upd.WithCheck, "app.current_org")
	assert.NotContains(t, upd.WithCheck, "app.caller_role")

	del := policyByCommand(policies, constants.PolicyDelete)
	require.NotNil(t, del)
	assert.Contains(t, del.Using, "app.current_org")
	assert.Contains(t, del.Using, "app.caller_role")
}

func TestGenerate_UnscopedRoleOnlyPolicies(t *testing.T) {
	table := scopedTable()
	table.Permissions.OrganizationScoped = false

	policies := NewPolicyGenerator().Generate(table)

	// Row security is forced on protected tables, so SELECT still needs
	// a policy. Without org scoping it is permissive and the read-role
	// check stays in the service layer.
	sel := policyByCommand(policies, constants.PolicySelect)
	require.NotNil(t, sel)
	assert.Equal(t, "true", sel.Using)

	del := policyByCommand(policies, constants.PolicyDelete)
	require.NotNil(t, del)
	assert.Equal(t, `current_setting('app.caller_role', true) = ANY (ARRAY['admin'])`, del.Using)
}

func TestGenerate_EveryCommandCoveredUnderForcedRowSecurity(t *testing.T) {
	// A protected table with only read roles and no org scoping would
	// default-deny everything under forced row security if any command
	// lacked a policy.
	table := scopedTable()
	table.Permissions = &schema.PermissionPolicy{Read: []string{"admin", "member"}}

	policies := NewPolicyGenerator().Generate(table)
	require.Len(t, policies, 4)
	for _, command := range []string{constants.PolicySelect, constants.PolicyUpdate, constants.PolicyDelete} {
		p := policyByCommand(policies, command)
		require.NotNil(t, p, command)
		assert.Equal(t, "true", p.Using, command)
	}
	ins := policyByCommand(policies, constants.PolicyInsert)
	require.NotNil(t, ins)
	assert.Equal(t, "true", ins.WithCheck)
}

func TestGenerate_ExplicitPolicyReplacesGenerated(t *testing.T) {
	table := scopedTable()
	table.Policies = []schema.ExplicitPolicy{
		{Name: "custom_select", Command: "SELECT", Using: `"organization_id" = current_setting('app.current_org', true) AND NOT hidden`},
	}

	policies := NewPolicyGenerator().Generate(table)
	sel := policyByCommand(policies, constants.PolicySelect)
	require.NotNil(t, sel)
	assert.True(t, sel.Explicit)
	assert.Equal(t, "custom_select", sel.Name)
	assert.Contains(t, sel.Using, "NOT hidden")
}

func TestBuildPolicySQL(t *testing.T) {
	policy := schema.CompiledPolicy{
		Name:      "pol_projects_update",
		Command:   constants.PolicyUpdate,
		Using:     "a = b",
		WithCheck: "c = d",
	}
	stmts := NewPolicyGenerator().BuildPolicySQL("projects", policy)
	require.Len(t, stmts, 2)
	assert.Equal(t, `DROP POLICY IF EXISTS "pol_projects_update" ON "projects"`, stmts[0])
	assert.Equal(t, `CREATE POLICY "pol_projects_update" ON "projects" FOR UPDATE USING (a = b) WITH CHECK (c = d)`, stmts[1])
}
