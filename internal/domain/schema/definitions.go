package schema

// Document is the full user-authored schema: every table in the
// application. A document is validated and compiled as a whole and
// replaced wholesale on recompilation, never mutated field-by-field.
type Document struct {
	Tables []TableDefinition `json:"tables" yaml:"tables"`
}

// TableDefinition represents a complete user-authored table
type TableDefinition struct {
	ID          string            `json:"id" yaml:"id"`
	Name        string            `json:"name" yaml:"name"`
	Fields      []FieldDefinition `json:"fields" yaml:"fields"`
	PrimaryKey  []string          `json:"primary_key,omitempty" yaml:"primary_key,omitempty"`
	Permissions *PermissionPolicy `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	Policies    []ExplicitPolicy  `json:"policies,omitempty" yaml:"policies,omitempty"`
}

// Field returns the field with the given name, or nil
func (t *TableDefinition) Field(name string) *FieldDefinition {
	for i := range t.Fields {
		if t.Fields[i].Name == name {
			return &t.Fields[i]
		}
	}
	return nil
}

// Protected reports whether the table declares any access restriction.
// Unprotected tables are readable and writable anonymously.
func (t *TableDefinition) Protected() bool {
	return t.Permissions != nil || len(t.Policies) > 0
}

// OrganizationScoped reports whether rows are isolated per organization
func (t *TableDefinition) OrganizationScoped() bool {
	return t.Permissions != nil && t.Permissions.OrganizationScoped
}

// FieldDefinition represents a single field. The type-specific
// configuration lives in exactly one of the variant structs below;
// the validator checks the variant matching the declared type
// exhaustively and rejects configuration on the wrong variant.
type FieldDefinition struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type" yaml:"type"`
	Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Default  string `json:"default,omitempty" yaml:"default,omitempty"`
	Indexed  bool   `json:"indexed,omitempty" yaml:"indexed,omitempty"`
	Unique   bool   `json:"unique,omitempty" yaml:"unique,omitempty"`

	// Selection types
	Options []string `json:"options,omitempty" yaml:"options,omitempty"`

	// Variant configuration
	Relationship *RelationshipConfig `json:"relationship,omitempty" yaml:"relationship,omitempty"`
	Count        *CountConfig        `json:"count,omitempty" yaml:"count,omitempty"`
	Button       *ButtonConfig       `json:"button,omitempty" yaml:"button,omitempty"`

	// Field-level read/write role restrictions
	Permissions *FieldPermissions `json:"permissions,omitempty" yaml:"permissions,omitempty"`
}

// RelationshipConfig configures a relationship field.
// many-to-one stores a foreign key column on this table; one-to-many is
// virtual and names the foreign key column on the related table.
type RelationshipConfig struct {
	RelatedTable string `json:"related_table" yaml:"related_table"`
	RelationType string `json:"relation_type" yaml:"relation_type"`
	ForeignKey   string `json:"foreign_key,omitempty" yaml:"foreign_key,omitempty"`
}

// CountConfig configures a count field: the number of rows in the
// related table whose foreign key points at the current row, optionally
// narrowed by conditions.
type CountConfig struct {
	RelationshipField string           `json:"relationship_field" yaml:"relationship_field"`
	Conditions        []CountCondition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// CountCondition is one predicate narrowing what a count field counts.
// Equality is the baseline; the operator set is an extension point.
type CountCondition struct {
	Field    string      `json:"field" yaml:"field"`
	Operator string      `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value    interface{} `json:"value" yaml:"value"`
}

// ButtonConfig configures a UI-only button field. Buttons create no
// column; they are dispatch metadata for the rendering layer.
type ButtonConfig struct {
	Action     string `json:"action" yaml:"action"`
	URL        string `json:"url,omitempty" yaml:"url,omitempty"`
	Automation string `json:"automation,omitempty" yaml:"automation,omitempty"`
}

// FieldPermissions restricts which roles may read or write a field.
// An empty list means unrestricted for that direction.
type FieldPermissions struct {
	Read  []string `json:"read,omitempty" yaml:"read,omitempty"`
	Write []string `json:"write,omitempty" yaml:"write,omitempty"`
}

// PermissionPolicy is the table-level permission block. Role lists are
// per command; an absent list leaves that command open to any
// authenticated caller.
type PermissionPolicy struct {
	OrganizationScoped bool     `json:"organization_scoped,omitempty" yaml:"organization_scoped,omitempty"`
	Read               []string `json:"read,omitempty" yaml:"read,omitempty"`
	Create             []string `json:"create,omitempty" yaml:"create,omitempty"`
	Update             []string `json:"update,omitempty" yaml:"update,omitempty"`
	Delete             []string `json:"delete,omitempty" yaml:"delete,omitempty"`
}

// RolesFor returns the role restriction list for a command
// ("read", "create", "update", "delete"). Nil means unrestricted.
func (p *PermissionPolicy) RolesFor(command string) []string {
	if p == nil {
		return nil
	}
	switch command {
	case "read":
		return p.Read
	case "create":
		return p.Create
	case "update":
		return p.Update
	case "delete":
		return p.Delete
	}
	return nil
}

// ExplicitPolicy is a hand-written row policy applied verbatim instead
// of a generated one for the matching command.
type ExplicitPolicy struct {
	Name      string `json:"name" yaml:"name"`
	Command   string `json:"command" yaml:"command"`
	Using     string `json:"using,omitempty" yaml:"using,omitempty"`
	WithCheck string `json:"with_check,omitempty" yaml:"with_check,omitempty"`
}
