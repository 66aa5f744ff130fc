package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appforge/backend/internal/domain/schema"
)

func compileCountSnapshot(t *testing.T) *schema.CompiledSchema {
	t.Helper()
	counts := NewCountMaintainer()
	snapshot, err := NewSchemaCompiler(counts).Compile(validDocument())
	require.NoError(t, err)
	return snapshot
}

func TestCompile_CountSelectExpr(t *testing.T) {
	snapshot := compileCountSnapshot(t)
	projects := snapshot.Table("projects")
	require.NotNil(t, projects)
	require.Len(t, projects.Counts, 1)

	count := projects.Counts[0]
	assert.Equal(t, "open_tasks", count.FieldName)
	assert.Equal(t, "tasks", count.RelatedTable)
	assert.Equal(t, "project_id", count.ForeignKey)
	assert.Equal(t,
		`COALESCE((SELECT COUNT(*) FROM "tasks" WHERE "tasks"."project_id" = "projects"."id" AND "tasks"."status" <> 'done'), 0) AS "open_tasks"`,
		count.SelectExpr)
}

func TestCompile_CountNeverBecomesColumn(t *testing.T) {
	snapshot := compileCountSnapshot(t)
	projects := snapshot.Table("projects")
	assert.Nil(t, projects.Column("open_tasks"))
}

func TestAffectedCounts_MatchingChild(t *testing.T) {
	snapshot := compileCountSnapshot(t)
	cm := NewCountMaintainer()

	affected := cm.AffectedCounts(snapshot, "tasks", map[string]interface{}{
		"id":         "task-1",
		"project_id": "proj-1",
		"status":     "todo",
	})
	require.Len(t, affected, 1)
	assert.Equal(t, AffectedCount{ParentTable: "projects", FieldName: "open_tasks", ParentID: "proj-1"}, affected[0])
}

func TestAffectedCounts_ConditionExcludesChild(t *testing.T) {
	snapshot := compileCountSnapshot(t)
	cm := NewCountMaintainer()

	// status == done fails the neq condition, so no parent count covers it
	affected := cm.AffectedCounts(snapshot, "tasks", map[string]interface{}{
		"id":         "task-1",
		"project_id": "proj-1",
		"status":     "done",
	})
	assert.Empty(t, affected)
}

func TestAffectedCounts_IgnoresUnrelatedTables(t *testing.T) {
	snapshot := compileCountSnapshot(t)
	cm := NewCountMaintainer()

	assert.Empty(t, cm.AffectedCounts(snapshot, "projects", map[string]interface{}{
		"id": "proj-1",
	}))
}

func TestAffectedCounts_MissingForeignKey(t *testing.T) {
	snapshot := compileCountSnapshot(t)
	cm := NewCountMaintainer()

	assert.Empty(t, cm.AffectedCounts(snapshot, "tasks", map[string]interface{}{
		"id":     "task-1",
		"status": "todo",
	}))
}

func TestConditionSQL_NullHandling(t *testing.T) {
	assert.Equal(t, `"tasks"."owner" IS NULL`,
		conditionSQL(`"tasks"`, schema.CountCondition{Field: "owner", Operator: "eq", Value: nil}))
	assert.Equal(t, `"tasks"."owner" IS NOT NULL`,
		conditionSQL(`"tasks"`, schema.CountCondition{Field: "owner", Operator: "neq", Value: nil}))
}
