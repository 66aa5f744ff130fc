package services

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/appforge/backend/internal/domain/schema"
	"github.com/appforge/backend/pkg/constants"
	"github.com/appforge/backend/pkg/errors"
	"github.com/appforge/backend/pkg/fieldtypes"
)

// Invariant identifiers attached to violations so operators can group
// and count failures per rule.
const (
	InvariantUniqueTableID     = "unique_table_id"
	InvariantUniqueTableName   = "unique_table_name"
	InvariantUniqueFieldID     = "unique_field_id"
	InvariantUniqueFieldName   = "unique_field_name"
	InvariantNaming            = "naming"
	InvariantKnownType         = "known_type"
	InvariantVariantConfig     = "variant_config"
	InvariantOrganizationScope = "organization_scope"
	InvariantCountRelationship = "count_relationship"
	InvariantButtonAction      = "button_action"
	InvariantPolicyPredicate   = "policy_predicate"
	InvariantPrimaryKey        = "primary_key"
)

var snakeCaseName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// SchemaValidator statically checks a whole candidate schema for
// internal consistency before anything is compiled. Validation is
// all-or-nothing: every distinct problem is reported, and no partial
// schema is ever compiled.
type SchemaValidator struct{}

// NewSchemaValidator creates a new SchemaValidator
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{}
}

// Validate checks the document and returns a normalized copy, or a
// SchemaValidationError carrying one entry per violated invariant.
func (sv *SchemaValidator) Validate(doc *schema.Document) (*schema.Document, error) {
	var violations []errors.SchemaViolation

	add := func(table, field, invariant, message string) {
		violations = append(violations, errors.SchemaViolation{
			Table:     table,
			Field:     field,
			Invariant: invariant,
			Message:   message,
		})
	}

	normalized := cloneDocument(doc)

	// Cross-table uniqueness
	tableIDs := make(map[string]string)   // id -> first table name
	tableNames := make(map[string]bool)

	for ti := range normalized.Tables {
		table := &normalized.Tables[ti]

		if table.ID == "" {
			add(table.Name, "", InvariantUniqueTableID,
				fmt.Sprintf("table '%s': an id is required", table.Name))
		} else if first, seen := tableIDs[table.ID]; seen {
			add(table.Name, "", InvariantUniqueTableID,
				fmt.Sprintf("duplicate table id '%s' (used by '%s' and '%s'): table ids must be unique across the application", table.ID, first, table.Name))
		} else {
			tableIDs[table.ID] = table.Name
		}

		if !snakeCaseName.MatchString(table.Name) {
			add(table.Name, "", InvariantNaming,
				fmt.Sprintf("table name '%s' must be snake_case (lowercase, alphanumeric, underscores)", table.Name))
		}
		if tableNames[table.Name] {
			add(table.Name, "", InvariantUniqueTableName,
				fmt.Sprintf("duplicate table name '%s': table names must be unique", table.Name))
		}
		tableNames[table.Name] = true

		sv.validateTable(normalized, table, add)
	}

	if len(violations) > 0 {
		return nil, &errors.SchemaValidationError{Violations: violations}
	}
	return normalized, nil
}

// validateTable checks one table's fields, scoping, policies and primary key
func (sv *SchemaValidator) validateTable(doc *schema.Document, table *schema.TableDefinition, add func(table, field, invariant, message string)) {
	fieldIDs := make(map[string]bool)
	fieldNames := make(map[string]bool)

	for fi := range table.Fields {
		field := &table.Fields[fi]

		if field.ID == "" {
			add(table.Name, field.Name, InvariantUniqueFieldID,
				fmt.Sprintf("field '%s' in table '%s': an id is required", field.Name, table.Name))
		} else if fieldIDs[field.ID] {
			add(table.Name, field.Name, InvariantUniqueFieldID,
				fmt.Sprintf("duplicate field id '%s' in table '%s': field ids must be unique within a table", field.ID, table.Name))
		}
		fieldIDs[field.ID] = true

		if !snakeCaseName.MatchString(field.Name) {
			add(table.Name, field.Name, InvariantNaming,
				fmt.Sprintf("field name '%s' must be snake_case (lowercase, alphanumeric, underscores)", field.Name))
		}
		if fieldNames[field.Name] {
			add(table.Name, field.Name, InvariantUniqueFieldName,
				fmt.Sprintf("duplicate field name '%s' in table '%s': field names must be unique within a table", field.Name, table.Name))
		}
		fieldNames[field.Name] = true

		sv.validateField(doc, table, field, add)
	}

	// Organization scoping requires exactly one text-compatible organization_id field
	if table.OrganizationScoped() {
		orgField := table.Field(constants.FieldOrganizationID)
		if orgField == nil {
			add(table.Name, "", InvariantOrganizationScope,
				fmt.Sprintf("table '%s' is organization scoped: a field named 'organization_id' is required", table.Name))
		} else if !fieldtypes.IsTextCompatible(orgField.Type) {
			add(table.Name, constants.FieldOrganizationID, InvariantOrganizationScope,
				fmt.Sprintf("table '%s': the 'organization_id' field must be a text type, got '%s'", table.Name, orgField.Type))
		}
	}

	// Explicit policies
	policyCommands := make(map[string]bool)
	for pi := range table.Policies {
		policy := &table.Policies[pi]
		policy.Command = strings.ToUpper(policy.Command)

		switch policy.Command {
		case constants.PolicySelect, constants.PolicyInsert, constants.PolicyUpdate, constants.PolicyDelete, constants.PolicyAll:
		default:
			add(table.Name, "", InvariantPolicyPredicate,
				fmt.Sprintf("policy '%s' on table '%s': unknown command '%s'", policy.Name, table.Name, policy.Command))
			continue
		}
		if policyCommands[policy.Command] {
			add(table.Name, "", InvariantPolicyPredicate,
				fmt.Sprintf("duplicate policy for command %s on table '%s': at most one policy per command", policy.Command, table.Name))
		}
		policyCommands[policy.Command] = true

		if policy.Using == "" && policy.WithCheck == "" {
			add(table.Name, "", InvariantPolicyPredicate,
				fmt.Sprintf("policy '%s' on table '%s': a 'using' or 'with_check' predicate is required", policy.Name, table.Name))
		}
		if table.OrganizationScoped() {
			predicate := policy.Using + " " + policy.WithCheck
			if !strings.Contains(predicate, constants.FieldOrganizationID) {
				add(table.Name, "", InvariantPolicyPredicate,
					fmt.Sprintf("policy '%s' on table '%s' must reference 'organization_id': the table is organization scoped", policy.Name, table.Name))
			}
		}
	}

	// Primary key fields must exist and be physical
	for _, pk := range table.PrimaryKey {
		pkField := table.Field(pk)
		if pkField == nil {
			add(table.Name, pk, InvariantPrimaryKey,
				fmt.Sprintf("primary key field '%s' does not exist on table '%s'", pk, table.Name))
		} else if isVirtualField(pkField) {
			add(table.Name, pk, InvariantPrimaryKey,
				fmt.Sprintf("primary key field '%s' on table '%s' has no physical column", pk, table.Name))
		}
	}

	// Without a declared primary key the table falls back to "id", so
	// the field has to exist and carry a column.
	if len(table.PrimaryKey) == 0 {
		idField := table.Field(constants.FieldID)
		if idField == nil || isVirtualField(idField) {
			add(table.Name, constants.FieldID, InvariantPrimaryKey,
				fmt.Sprintf("an '%s' field with a physical column is required on table '%s' when no primaryKey is declared", constants.FieldID, table.Name))
		}
	}
}

// validateField exhaustively checks the variant configuration of one field
func (sv *SchemaValidator) validateField(doc *schema.Document, table *schema.TableDefinition, field *schema.FieldDefinition, add func(table, field, invariant, message string)) {
	if !fieldtypes.IsKnown(field.Type) {
		add(table.Name, field.Name, InvariantKnownType,
			fmt.Sprintf("field '%s' in table '%s' has unknown type '%s'", field.Name, table.Name, field.Type))
		return
	}

	// Variant configuration must match the declared type
	if field.Relationship != nil && field.Type != "relationship" {
		add(table.Name, field.Name, InvariantVariantConfig,
			fmt.Sprintf("field '%s': relationship configuration is only valid on relationship fields", field.Name))
	}
	if field.Count != nil && field.Type != "count" {
		add(table.Name, field.Name, InvariantVariantConfig,
			fmt.Sprintf("field '%s': count configuration is only valid on count fields", field.Name))
	}
	if field.Button != nil && field.Type != "button" {
		add(table.Name, field.Name, InvariantVariantConfig,
			fmt.Sprintf("field '%s': button configuration is only valid on button fields", field.Name))
	}
	if len(field.Options) > 0 && field.Type != "single-select" && field.Type != "multi-select" {
		add(table.Name, field.Name, InvariantVariantConfig,
			fmt.Sprintf("field '%s': options are only valid on select fields", field.Name))
	}

	// Virtual fields carry no column, so storage modifiers make no sense
	if isVirtualField(field) && (field.Required || field.Unique || field.Indexed || field.Default != "") {
		add(table.Name, field.Name, InvariantVariantConfig,
			fmt.Sprintf("field '%s' of type '%s' has no physical column and cannot be required, unique, indexed, or defaulted", field.Name, field.Type))
	}

	switch field.Type {
	case "single-select", "multi-select":
		if len(field.Options) == 0 {
			add(table.Name, field.Name, InvariantVariantConfig,
				fmt.Sprintf("field '%s': at least one option is required for %s fields", field.Name, field.Type))
		}

	case "relationship":
		if field.Relationship == nil {
			add(table.Name, field.Name, InvariantVariantConfig,
				fmt.Sprintf("field '%s': relationship configuration is required", field.Name))
			return
		}
		rel := field.Relationship
		if rel.RelatedTable == "" {
			add(table.Name, field.Name, InvariantVariantConfig,
				fmt.Sprintf("field '%s': a related_table is required", field.Name))
		} else if findTable(doc, rel.RelatedTable) == nil {
			add(table.Name, field.Name, InvariantVariantConfig,
				fmt.Sprintf("field '%s' references unknown table '%s'", field.Name, rel.RelatedTable))
		}
		switch rel.RelationType {
		case constants.RelationManyToOne:
			// FK column lives on this table, named after the field by default
			if rel.ForeignKey == "" {
				rel.ForeignKey = field.Name
			}
		case constants.RelationOneToMany:
			if rel.ForeignKey == "" {
				add(table.Name, field.Name, InvariantVariantConfig,
					fmt.Sprintf("field '%s': a foreign_key column on '%s' is required for one-to-many relationships", field.Name, rel.RelatedTable))
			} else if related := findTable(doc, rel.RelatedTable); related != nil {
				if fk := related.Field(rel.ForeignKey); fk == nil {
					add(table.Name, field.Name, InvariantVariantConfig,
						fmt.Sprintf("field '%s': foreign_key '%s' does not exist on table '%s'", field.Name, rel.ForeignKey, rel.RelatedTable))
				}
			}
		default:
			add(table.Name, field.Name, InvariantVariantConfig,
				fmt.Sprintf("field '%s': relation_type must be '%s' or '%s', got '%s'", field.Name, constants.RelationManyToOne, constants.RelationOneToMany, rel.RelationType))
		}

	case "count":
		if field.Count == nil {
			add(table.Name, field.Name, InvariantCountRelationship,
				fmt.Sprintf("field '%s': a relationshipField is required for count fields", field.Name))
			return
		}
		cfg := field.Count
		if cfg.RelationshipField == "" {
			add(table.Name, field.Name, InvariantCountRelationship,
				fmt.Sprintf("field '%s': a relationshipField is required for count fields", field.Name))
			return
		}
		relField := table.Field(cfg.RelationshipField)
		if relField == nil || relField.Type != "relationship" {
			add(table.Name, field.Name, InvariantCountRelationship,
				fmt.Sprintf("field '%s': relationshipField '%s' must name a relationship field in table '%s'", field.Name, cfg.RelationshipField, table.Name))
			return
		}
		if relField.Relationship != nil && relField.Relationship.RelationType != constants.RelationOneToMany {
			add(table.Name, field.Name, InvariantCountRelationship,
				fmt.Sprintf("field '%s': relationshipField '%s' must be a one-to-many relationship to count related rows", field.Name, cfg.RelationshipField))
		}
		for ci := range cfg.Conditions {
			cond := &cfg.Conditions[ci]
			if cond.Operator == "" {
				cond.Operator = "eq"
			}
			if !isSupportedCountOperator(cond.Operator) {
				add(table.Name, field.Name, InvariantCountRelationship,
					fmt.Sprintf("field '%s': unsupported condition operator '%s'", field.Name, cond.Operator))
			}
			if relField.Relationship != nil {
				if related := findTable(doc, relField.Relationship.RelatedTable); related != nil {
					if related.Field(cond.Field) == nil {
						add(table.Name, field.Name, InvariantCountRelationship,
							fmt.Sprintf("field '%s': condition field '%s' does not exist on table '%s'", field.Name, cond.Field, related.Name))
					}
				}
			}
		}
		// The same conditions drive the post-write expression programs,
		// so a document that cannot compile is rejected here instead of
		// failing on the first affected write.
		if len(cfg.Conditions) > 0 {
			source := conditionExpression(cfg.Conditions)
			if _, err := expr.Compile(source, expr.AllowUndefinedVariables(), expr.AsBool()); err != nil {
				add(table.Name, field.Name, InvariantCountRelationship,
					fmt.Sprintf("field '%s': conditions do not compile to a boolean expression: %v", field.Name, err))
			}
		}

	case "button":
		if field.Button == nil {
			add(table.Name, field.Name, InvariantButtonAction,
				fmt.Sprintf("field '%s': an action is required for button fields", field.Name))
			return
		}
		btn := field.Button
		switch btn.Action {
		case constants.ButtonActionCustom:
		case constants.ButtonActionURL:
			if btn.URL == "" {
				add(table.Name, field.Name, InvariantButtonAction,
					fmt.Sprintf("field '%s': a 'url' is required when the button action is 'url'", field.Name))
			}
		case constants.ButtonActionAutomation:
			if btn.Automation == "" {
				add(table.Name, field.Name, InvariantButtonAction,
					fmt.Sprintf("field '%s': an 'automation' is required when the button action is 'automation'", field.Name))
			}
		default:
			add(table.Name, field.Name, InvariantButtonAction,
				fmt.Sprintf("field '%s': unknown button action '%s'", field.Name, btn.Action))
		}
	}
}

// isVirtualField reports whether the field produces no physical column.
// One-to-many relationships are virtual too: their foreign key lives on
// the related table.
func isVirtualField(field *schema.FieldDefinition) bool {
	if fieldtypes.IsVirtual(field.Type) {
		return true
	}
	if field.Type == "relationship" && field.Relationship != nil &&
		field.Relationship.RelationType == constants.RelationOneToMany {
		return true
	}
	return false
}

// isSupportedCountOperator reports whether a count condition operator is
// implemented. Equality is the baseline; neq is the one extension.
func isSupportedCountOperator(op string) bool {
	return op == "eq" || op == "neq"
}

// findTable returns the table with the given name from the document, or nil
func findTable(doc *schema.Document, name string) *schema.TableDefinition {
	for i := range doc.Tables {
		if doc.Tables[i].Name == name {
			return &doc.Tables[i]
		}
	}
	return nil
}

// cloneDocument deep-copies a schema document so normalization never
// mutates the caller's value.
func cloneDocument(doc *schema.Document) *schema.Document {
	out := &schema.Document{Tables: make([]schema.TableDefinition, len(doc.Tables))}
	for i, table := range doc.Tables {
		copied := table
		copied.Fields = make([]schema.FieldDefinition, len(table.Fields))
		for fi, field := range table.Fields {
			cf := field
			if field.Options != nil {
				cf.Options = append([]string(nil), field.Options...)
			}
			if field.Relationship != nil {
				rel := *field.Relationship
				cf.Relationship = &rel
			}
			if field.Count != nil {
				cnt := *field.Count
				cnt.Conditions = append([]schema.CountCondition(nil), field.Count.Conditions...)
				cf.Count = &cnt
			}
			if field.Button != nil {
				btn := *field.Button
				cf.Button = &btn
			}
			if field.Permissions != nil {
				perms := *field.Permissions
				perms.Read = append([]string(nil), field.Permissions.Read...)
				perms.Write = append([]string(nil), field.Permissions.Write...)
				cf.Permissions = &perms
			}
			copied.Fields[fi] = cf
		}
		if table.PrimaryKey != nil {
			copied.PrimaryKey = append([]string(nil), table.PrimaryKey...)
		}
		if table.Permissions != nil {
			perms := *table.Permissions
			copied.Permissions = &perms
		}
		if table.Policies != nil {
			copied.Policies = append([]schema.ExplicitPolicy(nil), table.Policies...)
		}
		out.Tables[i] = copied
	}
	return out
}
