package schema

// CompiledColumn is one physical column of a compiled table
type CompiledColumn struct {
	Name    string `json:"name"`
	SQLType string `json:"sql_type"`
	NotNull bool   `json:"not_null"`
	Default string `json:"default,omitempty"`
}

// CompiledPolicy is one row-level security policy attached to a table,
// either generated from the permission block or declared explicitly.
type CompiledPolicy struct {
	Name      string `json:"name"`
	Command   string `json:"command"` // SELECT, INSERT, UPDATE, DELETE
	Using     string `json:"using,omitempty"`
	WithCheck string `json:"with_check,omitempty"`
	Explicit  bool   `json:"explicit"`
}

// CompiledCount is the read-time maintenance hook for one count field:
// a correlated aggregate expression selected alongside physical columns.
type CompiledCount struct {
	FieldName    string
	RelatedTable string
	ForeignKey   string
	Conditions   []CountCondition
	// SelectExpr is the full COALESCE'd subquery, aliased to the field name
	SelectExpr string
}

// CompiledTable is the physical realization of one TableDefinition
type CompiledTable struct {
	Definition TableDefinition
	Columns    []CompiledColumn
	// CreateSQL is the idempotent CREATE TABLE statement
	CreateSQL string
	// Indexes are idempotent CREATE INDEX statements, one per entry
	Indexes  []string
	Policies []CompiledPolicy
	Counts   []CompiledCount
}

// Column returns the compiled column with the given name, or nil
func (t *CompiledTable) Column(name string) *CompiledColumn {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// CountFor returns the compiled count hook for a field name, or nil
func (t *CompiledTable) CountFor(fieldName string) *CompiledCount {
	for i := range t.Counts {
		if t.Counts[i].FieldName == fieldName {
			return &t.Counts[i]
		}
	}
	return nil
}

// CompiledSchema is the single authoritative snapshot consumed by the
// runtime authorization filter. Snapshots are immutable: a new
// compilation produces a new value and the registry swaps the pointer.
type CompiledSchema struct {
	Generation int64
	Tables     map[string]*CompiledTable
}

// Table returns the compiled table by name, or nil
func (s *CompiledSchema) Table(name string) *CompiledTable {
	if s == nil {
		return nil
	}
	return s.Tables[name]
}

// FieldMetadata is the read-only view of one field exposed to the
// rendering layer: enough to build editing surfaces, nothing about
// policies.
type FieldMetadata struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Required bool     `json:"required,omitempty"`
	UIOnly   bool     `json:"ui_only,omitempty"`
	Computed bool     `json:"computed,omitempty"`
	Options  []string `json:"options,omitempty"`
}

// TableMetadata is the read-only view of one compiled table
type TableMetadata struct {
	Name   string          `json:"name"`
	Fields []FieldMetadata `json:"fields"`
}
