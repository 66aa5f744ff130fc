package services

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/appforge/backend/internal/domain/schema"
	"github.com/appforge/backend/pkg/constants"
	"github.com/appforge/backend/pkg/fieldtypes"
)

// ==================== Identifier and Literal Quoting ====================

// QuoteIdentifier wraps a schema identifier in double quotes. Names are
// already validated as snake_case, so the only escaping needed is the
// standard doubling rule.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral renders a value as a SQL literal. Condition values come
// from administrator-authored schema documents, not end-user input, but
// they are still escaped so a stray quote cannot break the statement.
func QuoteLiteral(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return "NULL"
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	default:
		return "'" + strings.ReplaceAll(fmt.Sprintf("%v", v), "'", "''") + "'"
	}
}

// ==================== DDL Builder ====================

// DDLBuilder turns validated table definitions into idempotent Postgres
// DDL. Every statement it emits can be replayed against a database that
// already has the objects without failing.
type DDLBuilder struct{}

// NewDDLBuilder creates a new DDLBuilder
func NewDDLBuilder() *DDLBuilder {
	return &DDLBuilder{}
}

// CompileColumns derives the physical column list for a table. Virtual
// fields (count, button, one-to-many relationships) produce no column.
func (b *DDLBuilder) CompileColumns(table *schema.TableDefinition) []schema.CompiledColumn {
	var columns []schema.CompiledColumn
	for i := range table.Fields {
		field := &table.Fields[i]
		if isVirtualField(field) {
			continue
		}
		sqlType := fieldtypes.GetSQLType(field.Type)
		if sqlType == "" {
			continue
		}
		col := schema.CompiledColumn{
			Name:    columnName(field),
			SQLType: sqlType,
			NotNull: field.Required,
		}
		if field.Default != "" {
			col.Default = defaultLiteral(field)
		}
		columns = append(columns, col)
	}
	return columns
}

// BuildCreateTable renders the CREATE TABLE statement for a table from
// its compiled columns.
func (b *DDLBuilder) BuildCreateTable(table *schema.TableDefinition, columns []schema.CompiledColumn) string {
	var defs []string
	for _, col := range columns {
		defs = append(defs, b.columnDef(table, col))
	}

	pk := table.PrimaryKey
	if len(pk) == 0 {
		pk = []string{constants.FieldID}
	}
	quoted := make([]string, len(pk))
	for i, name := range pk {
		quoted[i] = QuoteIdentifier(name)
	}
	defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(quoted, ", ")))

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)",
		QuoteIdentifier(table.Name), strings.Join(defs, ",\n  "))
}

// BuildAddColumn renders the statement that adds one missing column to
// a table that already exists. Reloads of a grown schema go through
// here instead of CREATE TABLE, which is a no-op on an existing table.
func (b *DDLBuilder) BuildAddColumn(table *schema.TableDefinition, col schema.CompiledColumn) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s",
		QuoteIdentifier(table.Name), b.columnDef(table, col))
}

// columnDef renders the full definition of one column: type, modifiers,
// check constraint for select options, and the foreign key reference
// for many-to-one relationships.
func (b *DDLBuilder) columnDef(table *schema.TableDefinition, col schema.CompiledColumn) string {
	def := QuoteIdentifier(col.Name) + " " + col.SQLType
	field := fieldForColumn(table, col.Name)

	if col.NotNull {
		def += " NOT NULL"
	}
	if col.Default != "" {
		def += " DEFAULT " + col.Default
	}
	if field != nil && field.Unique && !isPrimaryKeyColumn(table, col.Name) {
		def += " UNIQUE"
	}
	if field != nil && field.Type == "single-select" && len(field.Options) > 0 {
		def += " " + checkConstraint(table.Name, field)
	}
	if field != nil && field.Type == "relationship" && field.Relationship != nil &&
		field.Relationship.RelationType == constants.RelationManyToOne {
		def += fmt.Sprintf(" REFERENCES %s(%s)",
			QuoteIdentifier(field.Relationship.RelatedTable), QuoteIdentifier(constants.FieldID))
	}
	return def
}

// BuildIndexes renders one CREATE INDEX statement per indexed field.
// Array columns get a GIN index so membership queries can use it.
func (b *DDLBuilder) BuildIndexes(table *schema.TableDefinition) []string {
	var stmts []string
	for i := range table.Fields {
		field := &table.Fields[i]
		if !field.Indexed || isVirtualField(field) {
			continue
		}
		indexName := fmt.Sprintf("idx_%s_%s", table.Name, columnName(field))
		if fieldtypes.IsArray(field.Type) {
			stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING GIN (%s)",
				QuoteIdentifier(indexName), QuoteIdentifier(table.Name), QuoteIdentifier(columnName(field))))
		} else {
			stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
				QuoteIdentifier(indexName), QuoteIdentifier(table.Name), QuoteIdentifier(columnName(field))))
		}
	}
	return stmts
}

// BuildEnableRLS renders the statements that turn row-level security on
// for a protected table. FORCE makes the policies apply to the table
// owner too, which is the role the connection pool uses.
func (b *DDLBuilder) BuildEnableRLS(tableName string) []string {
	return []string{
		fmt.Sprintf("ALTER TABLE %s ENABLE ROW LEVEL SECURITY", QuoteIdentifier(tableName)),
		fmt.Sprintf("ALTER TABLE %s FORCE ROW LEVEL SECURITY", QuoteIdentifier(tableName)),
	}
}

// columnName returns the physical column name for a field. Many-to-one
// relationship fields store their foreign key under the configured
// column name.
func columnName(field *schema.FieldDefinition) string {
	if field.Type == "relationship" && field.Relationship != nil &&
		field.Relationship.RelationType == constants.RelationManyToOne &&
		field.Relationship.ForeignKey != "" {
		return field.Relationship.ForeignKey
	}
	return field.Name
}

// fieldForColumn finds the field definition that produced a column
func fieldForColumn(table *schema.TableDefinition, column string) *schema.FieldDefinition {
	for i := range table.Fields {
		if columnName(&table.Fields[i]) == column && !isVirtualField(&table.Fields[i]) {
			return &table.Fields[i]
		}
	}
	return nil
}

// defaultLiteral renders a field's declared default as a SQL literal
// appropriate for its type.
func defaultLiteral(field *schema.FieldDefinition) string {
	switch field.Type {
	case "integer", "decimal":
		if _, err := strconv.ParseFloat(field.Default, 64); err == nil {
			return field.Default
		}
	case "checkbox":
		if field.Default == "true" || field.Default == "false" {
			return strings.ToUpper(field.Default)
		}
	}
	return QuoteLiteral(field.Default)
}

// checkConstraint renders the CHECK constraint restricting a
// single-select column to its declared options.
func checkConstraint(tableName string, field *schema.FieldDefinition) string {
	literals := make([]string, len(field.Options))
	for i, opt := range field.Options {
		literals[i] = QuoteLiteral(opt)
	}
	return fmt.Sprintf("CONSTRAINT %s CHECK (%s IN (%s))",
		QuoteIdentifier(fmt.Sprintf("chk_%s_%s", tableName, field.Name)),
		QuoteIdentifier(field.Name), strings.Join(literals, ", "))
}

// isPrimaryKeyColumn reports whether a column participates in the
// table's primary key.
func isPrimaryKeyColumn(table *schema.TableDefinition, name string) bool {
	pk := table.PrimaryKey
	if len(pk) == 0 {
		pk = []string{constants.FieldID}
	}
	for _, p := range pk {
		if p == name {
			return true
		}
	}
	return false
}
