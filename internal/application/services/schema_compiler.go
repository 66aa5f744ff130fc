package services

import (
	"github.com/appforge/backend/internal/domain/schema"
	"github.com/appforge/backend/pkg/constants"
)

// SchemaCompiler turns a validated schema document into a compiled
// snapshot: physical columns, idempotent DDL, row-level policies and
// count hooks per table. Compilation is pure; nothing touches the
// database until the registry applies the result.
type SchemaCompiler struct {
	validator *SchemaValidator
	ddl       *DDLBuilder
	policies  *PolicyGenerator
	counts    *CountMaintainer
}

// NewSchemaCompiler creates a new SchemaCompiler
func NewSchemaCompiler(counts *CountMaintainer) *SchemaCompiler {
	return &SchemaCompiler{
		validator: NewSchemaValidator(),
		ddl:       NewDDLBuilder(),
		policies:  NewPolicyGenerator(),
		counts:    counts,
	}
}

// Compile validates the document and builds a snapshot. Validation is
// all-or-nothing: any violation fails the whole compilation and the
// previous snapshot stays in effect.
func (sc *SchemaCompiler) Compile(doc *schema.Document) (*schema.CompiledSchema, error) {
	normalized, err := sc.validator.Validate(doc)
	if err != nil {
		return nil, err
	}

	snapshot := &schema.CompiledSchema{
		Tables: make(map[string]*schema.CompiledTable, len(normalized.Tables)),
	}
	for i := range normalized.Tables {
		table := &normalized.Tables[i]
		columns := sc.ddl.CompileColumns(table)
		compiled := &schema.CompiledTable{
			Definition: *table,
			Columns:    columns,
			CreateSQL:  sc.ddl.BuildCreateTable(table, columns),
			Indexes:    sc.ddl.BuildIndexes(table),
			Policies:   sc.policies.Generate(table),
			Counts:     sc.counts.Compile(normalized, table),
		}
		snapshot.Tables[table.Name] = compiled
	}
	return snapshot, nil
}

// CreationOrder returns table names ordered so that a table comes after
// every table it references through a many-to-one relationship.
// Self-references are fine inline; a genuine cross-table cycle falls
// back to definition order and surfaces as a DDL error on apply.
func CreationOrder(snapshot *schema.CompiledSchema, doc []string) []string {
	deps := make(map[string][]string, len(snapshot.Tables))
	for name, table := range snapshot.Tables {
		var refs []string
		for i := range table.Definition.Fields {
			field := &table.Definition.Fields[i]
			if field.Type == "relationship" && field.Relationship != nil &&
				field.Relationship.RelationType == constants.RelationManyToOne &&
				field.Relationship.RelatedTable != name {
				refs = append(refs, field.Relationship.RelatedTable)
			}
		}
		deps[name] = refs
	}

	var order []string
	visited := make(map[string]bool)
	var visit func(name string)
	visit = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true
		for _, ref := range deps[name] {
			if _, ok := snapshot.Tables[ref]; ok {
				visit(ref)
			}
		}
		order = append(order, name)
	}
	for _, name := range doc {
		if _, ok := snapshot.Tables[name]; ok {
			visit(name)
		}
	}
	return order
}
