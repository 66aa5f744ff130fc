package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appforge/backend/internal/domain/schema"
)

func compiledProjects(t *testing.T) (*schema.Document, *schema.TableDefinition) {
	t.Helper()
	normalized, err := NewSchemaValidator().Validate(validDocument())
	require.NoError(t, err)
	return normalized, &normalized.Tables[0]
}

func TestCompileColumns_SkipsVirtualFields(t *testing.T) {
	_, projects := compiledProjects(t)
	columns := NewDDLBuilder().CompileColumns(projects)

	names := make([]string, len(columns))
	for i, col := range columns {
		names[i] = col.Name
	}
	assert.Equal(t, []string{"id", "organization_id", "name", "status"}, names)
}

func TestBuildCreateTable_Shape(t *testing.T) {
	_, projects := compiledProjects(t)
	builder := NewDDLBuilder()
	sql := builder.BuildCreateTable(projects, builder.CompileColumns(projects))

	assert.Contains(t, sql, `CREATE TABLE IF NOT EXISTS "projects"`)
	assert.Contains(t, sql, `"id" TEXT NOT NULL`)
	assert.Contains(t, sql, `"organization_id" TEXT NOT NULL`)
	assert.Contains(t, sql, `PRIMARY KEY ("id")`)
	assert.Contains(t, sql, `CHECK ("status" IN ('active', 'done'))`)
	assert.NotContains(t, sql, "open_tasks", "count fields must not become columns")
	assert.NotContains(t, sql, `"tasks"`, "one-to-many relationships must not become columns")
}

func TestBuildCreateTable_ManyToOneReferences(t *testing.T) {
	normalized, _ := compiledProjects(t)
	tasks := &normalized.Tables[1]
	builder := NewDDLBuilder()
	sql := builder.BuildCreateTable(tasks, builder.CompileColumns(tasks))

	assert.Contains(t, sql, `"project_id" TEXT REFERENCES "projects"("id")`)
}

func TestBuildCreateTable_Defaults(t *testing.T) {
	table := &schema.TableDefinition{
		ID:   "tbl_x",
		Name: "x",
		Fields: []schema.FieldDefinition{
			{ID: "f1", Name: "id", Type: "text", Required: true},
			{ID: "f2", Name: "retries", Type: "integer", Default: "3"},
			{ID: "f3", Name: "active", Type: "checkbox", Default: "true"},
			{ID: "f4", Name: "note", Type: "text", Default: "it's new"},
		},
	}
	builder := NewDDLBuilder()
	sql := builder.BuildCreateTable(table, builder.CompileColumns(table))

	assert.Contains(t, sql, `"retries" BIGINT DEFAULT 3`)
	assert.Contains(t, sql, `"active" BOOLEAN DEFAULT TRUE`)
	assert.Contains(t, sql, `"note" TEXT DEFAULT 'it''s new'`)
}

func TestBuildIndexes(t *testing.T) {
	table := &schema.TableDefinition{
		ID:   "tbl_x",
		Name: "x",
		Fields: []schema.FieldDefinition{
			{ID: "f1", Name: "id", Type: "text", Required: true},
			{ID: "f2", Name: "email", Type: "email", Indexed: true},
			{ID: "f3", Name: "tags", Type: "multi-select", Indexed: true, Options: []string{"a", "b"}},
		},
	}
	stmts := NewDDLBuilder().BuildIndexes(table)
	require.Len(t, stmts, 2)
	assert.Equal(t, `CREATE INDEX IF NOT EXISTS "idx_x_email" ON "x" ("email")`, stmts[0])
	assert.Equal(t, `CREATE INDEX IF NOT EXISTS "idx_x_tags" ON "x" USING GIN ("tags")`, stmts[1])
}

func TestBuildEnableRLS(t *testing.T) {
	stmts := NewDDLBuilder().BuildEnableRLS("projects")
	require.Len(t, stmts, 2)
	assert.Equal(t, `ALTER TABLE "projects" ENABLE ROW LEVEL SECURITY`, stmts[0])
	assert.Equal(t, `ALTER TABLE "projects" FORCE ROW LEVEL SECURITY`, stmts[1])
}

func TestQuoteLiteral(t *testing.T) {
	assert.Equal(t, "'o''brien'", QuoteLiteral("o'brien"))
	assert.Equal(t, "42", QuoteLiteral(42))
	assert.Equal(t, "TRUE", QuoteLiteral(true))
	assert.Equal(t, "NULL", QuoteLiteral(nil))
	assert.Equal(t, "3.5", QuoteLiteral(3.5))
}

func TestBuildAddColumn_CarriesFullColumnDefinition(t *testing.T) {
	_, projects := compiledProjects(t)
	builder := NewDDLBuilder()

	for _, col := range builder.CompileColumns(projects) {
		if col.Name != "status" {
			continue
		}
		sql := builder.BuildAddColumn(projects, col)
		assert.Equal(t, `ALTER TABLE "projects" ADD COLUMN IF NOT EXISTS `+
			`"status" TEXT CONSTRAINT "chk_projects_status" CHECK ("status" IN ('active', 'done'))`, sql)
		return
	}
	t.Fatal("status column not compiled")
}

func TestBuildAddColumn_ManyToOneReference(t *testing.T) {
	normalized, _ := compiledProjects(t)
	tasks := &normalized.Tables[1]
	builder := NewDDLBuilder()

	for _, col := range builder.CompileColumns(tasks) {
		if col.Name != "project_id" {
			continue
		}
		sql := builder.BuildAddColumn(tasks, col)
		assert.Equal(t, `ALTER TABLE "tasks" ADD COLUMN IF NOT EXISTS "project_id" TEXT REFERENCES "projects"("id")`, sql)
		return
	}
	t.Fatal("project_id column not compiled")
}
