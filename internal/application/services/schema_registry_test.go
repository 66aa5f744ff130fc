package services

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appforge/backend/internal/infrastructure/database"
	"github.com/appforge/backend/pkg/errors"
)

func newRegistryTest(t *testing.T) (*SchemaRegistry, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	conn := database.Wrap(db)
	registry := NewSchemaRegistry(conn, NewSchemaCompiler(NewCountMaintainer()))
	return registry, mock
}

// expectTableApply sets the ordered expectations one protected
// org-scoped table produces when it does not exist yet: catalog lookup,
// create, enable row security, and one drop/create pair per policy.
func expectTableApply(mock sqlmock.Sqlmock, tableName string, policies int) {
	mock.ExpectQuery(`SELECT column_name FROM information_schema\.columns`).
		WithArgs(tableName).
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "` + tableName + `"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`ALTER TABLE "` + tableName + `" ENABLE ROW LEVEL SECURITY`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`ALTER TABLE "` + tableName + `" FORCE ROW LEVEL SECURITY`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	for i := 0; i < policies; i++ {
		mock.ExpectExec(`DROP POLICY IF EXISTS`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`CREATE POLICY`).WillReturnResult(sqlmock.NewResult(0, 0))
	}
}

func TestApply_RunsAllDDLInOneTransaction(t *testing.T) {
	registry, mock := newRegistryTest(t)

	mock.ExpectBegin()
	// projects is created before tasks: tasks references it
	expectTableApply(mock, "projects", 4)
	expectTableApply(mock, "tasks", 4)
	mock.ExpectCommit()

	snapshot, err := registry.Apply(context.Background(), validDocument())
	require.NoError(t, err)
	assert.Equal(t, int64(1), snapshot.Generation)
	assert.Same(t, snapshot, registry.Current())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApply_GenerationIncrements(t *testing.T) {
	registry, mock := newRegistryTest(t)

	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		expectTableApply(mock, "projects", 4)
		expectTableApply(mock, "tasks", 4)
		mock.ExpectCommit()
	}

	_, err := registry.Apply(context.Background(), validDocument())
	require.NoError(t, err)
	snapshot, err := registry.Apply(context.Background(), validDocument())
	require.NoError(t, err)
	assert.Equal(t, int64(2), snapshot.Generation)
}

func TestApply_InvalidDocumentTouchesNothing(t *testing.T) {
	registry, mock := newRegistryTest(t)

	doc := validDocument()
	doc.Tables[0].Fields[3].Options = nil

	_, err := registry.Apply(context.Background(), doc)
	require.Error(t, err)
	assert.True(t, errors.IsSchemaValidation(err))
	assert.Nil(t, registry.Current(), "no snapshot may be published on failure")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApply_FailedDDLKeepsPreviousSnapshot(t *testing.T) {
	registry, mock := newRegistryTest(t)

	mock.ExpectBegin()
	expectTableApply(mock, "projects", 4)
	expectTableApply(mock, "tasks", 4)
	mock.ExpectCommit()
	_, err := registry.Apply(context.Background(), validDocument())
	require.NoError(t, err)
	previous := registry.Current()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT column_name FROM information_schema\.columns`).
		WithArgs("projects").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "projects"`).
		WillReturnError(&pgconn.PgError{Code: "42601", Message: "syntax error"})
	mock.ExpectRollback()

	_, err = registry.Apply(context.Background(), validDocument())
	require.Error(t, err)
	assert.Same(t, previous, registry.Current(), "previous generation keeps serving")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApply_AddsMissingColumnsToExistingTable(t *testing.T) {
	registry, mock := newRegistryTest(t)

	mock.ExpectBegin()
	// projects exists without "status": reload alters, never recreates
	mock.ExpectQuery(`SELECT column_name FROM information_schema\.columns`).
		WithArgs("projects").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}).
			AddRow("id").AddRow("organization_id").AddRow("name"))
	mock.ExpectExec(`ALTER TABLE "projects" ADD COLUMN IF NOT EXISTS "status" TEXT`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`ALTER TABLE "projects" ENABLE ROW LEVEL SECURITY`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`ALTER TABLE "projects" FORCE ROW LEVEL SECURITY`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	for i := 0; i < 4; i++ {
		mock.ExpectExec(`DROP POLICY IF EXISTS`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`CREATE POLICY`).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	// tasks already matches the document: no DDL beyond RLS and policies
	mock.ExpectQuery(`SELECT column_name FROM information_schema\.columns`).
		WithArgs("tasks").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}).
			AddRow("id").AddRow("organization_id").AddRow("status").AddRow("project_id"))
	mock.ExpectExec(`ALTER TABLE "tasks" ENABLE ROW LEVEL SECURITY`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`ALTER TABLE "tasks" FORCE ROW LEVEL SECURITY`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	for i := 0; i < 4; i++ {
		mock.ExpectExec(`DROP POLICY IF EXISTS`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`CREATE POLICY`).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectCommit()

	_, err := registry.Apply(context.Background(), validDocument())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApply_StatementErrorAbortsInsteadOfBeingSwallowed(t *testing.T) {
	registry, mock := newRegistryTest(t)

	// A failed statement aborts the whole Postgres transaction, so no
	// error class is tolerated mid-apply, duplicate objects included.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT column_name FROM information_schema\.columns`).
		WithArgs("projects").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "projects"`).
		WillReturnError(&pgconn.PgError{Code: "42P07", Message: "relation already exists"})
	mock.ExpectRollback()

	_, err := registry.Apply(context.Background(), validDocument())
	require.Error(t, err)
	assert.Nil(t, registry.Current())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreationOrder_ReferencedTablesFirst(t *testing.T) {
	counts := NewCountMaintainer()
	snapshot, err := NewSchemaCompiler(counts).Compile(validDocument())
	require.NoError(t, err)

	order := CreationOrder(snapshot, []string{"tasks", "projects"})
	require.Equal(t, []string{"projects", "tasks"}, order,
		"tasks carries a foreign key to projects and must come second")
}
