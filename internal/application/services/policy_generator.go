package services

import (
	"fmt"
	"strings"

	"github.com/appforge/backend/internal/domain/schema"
	"github.com/appforge/backend/pkg/constants"
)

// PolicyGenerator derives row-level security policies from a table's
// permission block. Every protected table gets at most one policy per
// command; explicit policies declared in the schema replace the
// generated policy for the same command.
//
// SELECT policies carry only the organization clause. Role checks for
// reads happen in the service layer after the isolation-scoped fetch,
// so a caller can never use a permission error to learn that a row
// exists in another organization.
type PolicyGenerator struct{}

// NewPolicyGenerator creates a new PolicyGenerator
func NewPolicyGenerator() *PolicyGenerator {
	return &PolicyGenerator{}
}

// orgClause matches rows bound to the caller's current organization.
// The second argument to current_setting suppresses the error when the
// setting is absent, so a connection without the GUC sees no rows.
func orgClause() string {
	return fmt.Sprintf("%s = current_setting('%s', true)",
		QuoteIdentifier(constants.FieldOrganizationID), constants.GUCCurrentOrg)
}

// roleClause matches sessions whose caller role is one of the allowed
// roles for a command.
func roleClause(roles []string) string {
	literals := make([]string, len(roles))
	for i, role := range roles {
		literals[i] = QuoteLiteral(role)
	}
	return fmt.Sprintf("current_setting('%s', true) = ANY (ARRAY[%s])",
		constants.GUCCallerRole, strings.Join(literals, ", "))
}

// andClauses joins non-empty predicate fragments with AND
func andClauses(clauses ...string) string {
	var parts []string
	for _, c := range clauses {
		if c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, " AND ")
}

// Generate builds the full policy set for one table. Unprotected
// tables get no policies and row-level security stays disabled.
func (g *PolicyGenerator) Generate(table *schema.TableDefinition) []schema.CompiledPolicy {
	if !table.Protected() {
		return nil
	}

	orgScoped := table.OrganizationScoped()
	byCommand := make(map[string]schema.CompiledPolicy)

	org := ""
	if orgScoped {
		org = orgClause()
	}

	// Row security is forced on every protected table, and a forced
	// table with no policy for a command default-denies it for every
	// session. Each command therefore always gets a policy; commands
	// with nothing to restrict at the row level get a permissive one.
	selectPredicate := org
	if selectPredicate == "" {
		selectPredicate = "true"
	}
	byCommand[constants.PolicySelect] = schema.CompiledPolicy{
		Name:    policyName(table.Name, constants.PolicySelect),
		Command: constants.PolicySelect,
		Using:   selectPredicate,
	}

	writeCommands := []struct {
		command string
		roles   []string
	}{
		{constants.PolicyInsert, nil},
		{constants.PolicyUpdate, nil},
		{constants.PolicyDelete, nil},
	}
	if table.Permissions != nil {
		writeCommands[0].roles = table.Permissions.Create
		writeCommands[1].roles = table.Permissions.Update
		writeCommands[2].roles = table.Permissions.Delete
	}
	for _, wc := range writeCommands {
		role := ""
		if len(wc.roles) > 0 {
			role = roleClause(wc.roles)
		}
		predicate := andClauses(org, role)
		if predicate == "" {
			predicate = "true"
		}
		policy := schema.CompiledPolicy{
			Name:    policyName(table.Name, wc.command),
			Command: wc.command,
		}
		switch wc.command {
		case constants.PolicyInsert:
			policy.WithCheck = predicate
		case constants.PolicyUpdate:
			policy.Using = predicate
			policy.WithCheck = selectPredicate
		default:
			policy.Using = predicate
		}
		byCommand[wc.command] = policy
	}

	// Explicit policies win over generated ones for the same command
	for _, explicit := range table.Policies {
		name := explicit.Name
		if name == "" {
			name = policyName(table.Name, explicit.Command)
		}
		byCommand[explicit.Command] = schema.CompiledPolicy{
			Name:      name,
			Command:   explicit.Command,
			Using:     explicit.Using,
			WithCheck: explicit.WithCheck,
			Explicit:  true,
		}
	}

	ordered := []string{constants.PolicySelect, constants.PolicyInsert, constants.PolicyUpdate, constants.PolicyDelete, constants.PolicyAll}
	var policies []schema.CompiledPolicy
	for _, cmd := range ordered {
		if p, ok := byCommand[cmd]; ok {
			policies = append(policies, p)
		}
	}
	return policies
}

// BuildPolicySQL renders the drop-then-create statement pair for one
// policy. Dropping first makes redefinition idempotent without
// depending on CREATE OR REPLACE support.
func (g *PolicyGenerator) BuildPolicySQL(tableName string, policy schema.CompiledPolicy) []string {
	stmts := []string{
		fmt.Sprintf("DROP POLICY IF EXISTS %s ON %s",
			QuoteIdentifier(policy.Name), QuoteIdentifier(tableName)),
	}

	create := fmt.Sprintf("CREATE POLICY %s ON %s FOR %s",
		QuoteIdentifier(policy.Name), QuoteIdentifier(tableName), policy.Command)
	if policy.Using != "" {
		create += fmt.Sprintf(" USING (%s)", policy.Using)
	}
	if policy.WithCheck != "" {
		create += fmt.Sprintf(" WITH CHECK (%s)", policy.WithCheck)
	}
	return append(stmts, create)
}

func policyName(tableName, command string) string {
	return fmt.Sprintf("pol_%s_%s", tableName, strings.ToLower(command))
}
