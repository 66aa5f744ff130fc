package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/appforge/backend/internal/domain/schema"
	"github.com/appforge/backend/internal/infrastructure/database"
	apperrors "github.com/appforge/backend/pkg/errors"
)

// SchemaRegistry owns the authoritative compiled snapshot. Apply runs
// the whole compilation pipeline inside one transaction: if any DDL or
// policy statement fails, the database is rolled back and the previous
// snapshot keeps serving requests. The snapshot pointer is swapped only
// after commit, so readers never observe a half-applied schema.
type SchemaRegistry struct {
	db       *database.PostgresConnection
	compiler *SchemaCompiler
	current  atomic.Pointer[schema.CompiledSchema]

	// mu serializes Apply; reads go through the atomic pointer
	mu sync.Mutex
}

// NewSchemaRegistry creates a new SchemaRegistry
func NewSchemaRegistry(db *database.PostgresConnection, compiler *SchemaCompiler) *SchemaRegistry {
	return &SchemaRegistry{db: db, compiler: compiler}
}

// Current returns the live snapshot, or nil before the first Apply
func (r *SchemaRegistry) Current() *schema.CompiledSchema {
	return r.current.Load()
}

// Apply validates, compiles and applies a schema document. On success
// the new snapshot becomes current and its generation is returned.
func (r *SchemaRegistry) Apply(ctx context.Context, doc *schema.Document) (*schema.CompiledSchema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot, err := r.compiler.Compile(doc)
	if err != nil {
		log.Printf("❌ Schema compilation rejected: %v", err)
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to begin schema transaction", err)
	}
	defer tx.Rollback()

	names := make([]string, len(doc.Tables))
	for i := range doc.Tables {
		names[i] = doc.Tables[i].Name
	}

	for _, name := range CreationOrder(snapshot, names) {
		table := snapshot.Tables[name]
		if err := r.applyTable(ctx, tx, table); err != nil {
			log.Printf("❌ Schema apply failed on table %s: %v", name, err)
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.NewInternalError("failed to commit schema transaction", err)
	}

	previous := r.current.Load()
	if previous != nil {
		snapshot.Generation = previous.Generation + 1
	} else {
		snapshot.Generation = 1
	}
	r.current.Store(snapshot)

	log.Printf("✅ Schema generation %d applied: %d tables", snapshot.Generation, len(snapshot.Tables))
	return snapshot, nil
}

// applyTable runs the DDL, index, and policy statements for one table.
// A table that already exists is altered column by column instead of
// recreated, so an explicit reload of a grown schema reaches the live
// table. Removed or retyped columns are never touched destructively
// here; the drift audit reports them.
func (r *SchemaRegistry) applyTable(ctx context.Context, tx *sql.Tx, table *schema.CompiledTable) error {
	existing, err := existingColumns(ctx, tx, table.Definition.Name)
	if err != nil {
		return fmt.Errorf("inspect table %s: %w", table.Definition.Name, err)
	}

	ddl := NewDDLBuilder()
	if existing == nil {
		if err := execDDL(ctx, tx, table.CreateSQL); err != nil {
			return fmt.Errorf("create table %s: %w", table.Definition.Name, err)
		}
	} else {
		for _, col := range table.Columns {
			if existing[col.Name] {
				continue
			}
			stmt := ddl.BuildAddColumn(&table.Definition, col)
			if err := execDDL(ctx, tx, stmt); err != nil {
				return fmt.Errorf("add column %s to %s: %w", col.Name, table.Definition.Name, err)
			}
			log.Printf("📐 Added column %s.%s", table.Definition.Name, col.Name)
		}
	}
	for _, stmt := range table.Indexes {
		if err := execDDL(ctx, tx, stmt); err != nil {
			return fmt.Errorf("create index on %s: %w", table.Definition.Name, err)
		}
	}

	if !table.Definition.Protected() {
		return nil
	}

	for _, stmt := range ddl.BuildEnableRLS(table.Definition.Name) {
		if err := execDDL(ctx, tx, stmt); err != nil {
			return fmt.Errorf("enable row security on %s: %w", table.Definition.Name, err)
		}
	}
	gen := NewPolicyGenerator()
	for _, policy := range table.Policies {
		for _, stmt := range gen.BuildPolicySQL(table.Definition.Name, policy) {
			if err := execDDL(ctx, tx, stmt); err != nil {
				return fmt.Errorf("policy %s on %s: %w", policy.Name, table.Definition.Name, err)
			}
		}
	}
	return nil
}

// existingColumns reads the live column set of a table from the
// catalog. A nil map means the table does not exist yet.
func existingColumns(ctx context.Context, tx *sql.Tx, tableName string) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT column_name FROM information_schema.columns WHERE table_schema = 'public' AND table_name = $1",
		tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns map[string]bool
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if columns == nil {
			columns = make(map[string]bool)
		}
		columns[name] = true
	}
	return columns, rows.Err()
}

// execDDL runs one statement inside the apply transaction. Errors are
// never swallowed here: Postgres aborts the whole transaction on the
// first failed statement, so every emitted statement is idempotent
// (IF NOT EXISTS, DROP POLICY IF EXISTS) instead of error-tolerated.
func execDDL(ctx context.Context, tx *sql.Tx, stmt string) error {
	_, err := tx.ExecContext(ctx, stmt)
	return err
}
