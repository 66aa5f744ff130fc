package services

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/appforge/backend/internal/domain/schema"
	"github.com/appforge/backend/internal/infrastructure/database"
)

// SchemaAudit periodically compares the live snapshot against the
// database catalog and reports drift: tables or columns that were
// dropped or retyped behind the compiler's back, and policies that no
// longer exist on protected tables. The audit only reports; it never
// mutates the database.
type SchemaAudit struct {
	db       *database.PostgresConnection
	registry *SchemaRegistry
	cron     *cron.Cron
	last     atomic.Pointer[AuditReport]
}

// AuditFinding is one divergence between the snapshot and the catalog
type AuditFinding struct {
	Table  string `json:"table"`
	Column string `json:"column,omitempty"`
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// AuditReport is the result of one audit pass
type AuditReport struct {
	Generation int64          `json:"generation"`
	CheckedAt  time.Time      `json:"checked_at"`
	Findings   []AuditFinding `json:"findings"`
}

// NewSchemaAudit creates a new SchemaAudit
func NewSchemaAudit(db *database.PostgresConnection, registry *SchemaRegistry) *SchemaAudit {
	return &SchemaAudit{db: db, registry: registry}
}

// LastReport returns the most recent audit report, or nil before the
// first pass.
func (sa *SchemaAudit) LastReport() *AuditReport {
	return sa.last.Load()
}

// Start schedules periodic audits. The schedule comes from
// SCHEMA_AUDIT_SCHEDULE and defaults to hourly.
func (sa *SchemaAudit) Start() error {
	schedule := os.Getenv("SCHEMA_AUDIT_SCHEDULE")
	if schedule == "" {
		schedule = "@hourly"
	}
	sa.cron = cron.New()
	_, err := sa.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if _, err := sa.Run(ctx); err != nil {
			log.Printf("❌ Schema audit failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid audit schedule %q: %w", schedule, err)
	}
	sa.cron.Start()
	log.Printf("✅ Schema audit scheduled: %s", schedule)
	return nil
}

// Stop halts the scheduler and waits for a running audit to finish
func (sa *SchemaAudit) Stop() {
	if sa.cron != nil {
		<-sa.cron.Stop().Done()
	}
}

// Run performs one audit pass against the current snapshot
func (sa *SchemaAudit) Run(ctx context.Context) (*AuditReport, error) {
	snapshot := sa.registry.Current()
	if snapshot == nil {
		return nil, fmt.Errorf("no schema has been applied")
	}

	report := &AuditReport{
		Generation: snapshot.Generation,
		CheckedAt:  time.Now().UTC(),
		Findings:   []AuditFinding{},
	}
	for _, table := range snapshot.Tables {
		findings, err := sa.auditTable(ctx, table)
		if err != nil {
			return nil, err
		}
		report.Findings = append(report.Findings, findings...)
	}

	sa.last.Store(report)
	if len(report.Findings) == 0 {
		log.Printf("✅ Schema audit clean: generation %d, %d tables", report.Generation, len(snapshot.Tables))
	} else {
		log.Printf("⚠️ Schema audit found %d divergences at generation %d", len(report.Findings), report.Generation)
	}
	return report, nil
}

// auditTable checks one table's columns and policies against the catalog
func (sa *SchemaAudit) auditTable(ctx context.Context, table *schema.CompiledTable) ([]AuditFinding, error) {
	name := table.Definition.Name

	rows, err := sa.db.QueryContext(ctx,
		"SELECT column_name, udt_name FROM information_schema.columns WHERE table_schema = 'public' AND table_name = $1",
		name)
	if err != nil {
		return nil, fmt.Errorf("read columns of %s: %w", name, err)
	}
	defer rows.Close()

	actual := make(map[string]string)
	for rows.Next() {
		var column, udtName string
		if err := rows.Scan(&column, &udtName); err != nil {
			return nil, err
		}
		actual[column] = udtName
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(actual) == 0 {
		return []AuditFinding{{Table: name, Kind: "missing_table", Detail: "table does not exist in the database"}}, nil
	}

	var findings []AuditFinding
	for _, col := range table.Columns {
		udtName, exists := actual[col.Name]
		if !exists {
			findings = append(findings, AuditFinding{
				Table: name, Column: col.Name, Kind: "missing_column",
				Detail: "column does not exist in the database",
			})
			continue
		}
		expected := expectedUDTName(col.SQLType)
		if expected != "" && udtName != expected {
			findings = append(findings, AuditFinding{
				Table: name, Column: col.Name, Kind: "type_mismatch",
				Detail: fmt.Sprintf("expected %s, database has %s", expected, udtName),
			})
		}
	}

	if table.Definition.Protected() {
		policyFindings, err := sa.auditPolicies(ctx, table)
		if err != nil {
			return nil, err
		}
		findings = append(findings, policyFindings...)
	}
	return findings, nil
}

// auditPolicies verifies every compiled policy still exists
func (sa *SchemaAudit) auditPolicies(ctx context.Context, table *schema.CompiledTable) ([]AuditFinding, error) {
	name := table.Definition.Name

	rows, err := sa.db.QueryContext(ctx,
		"SELECT policyname FROM pg_policies WHERE schemaname = 'public' AND tablename = $1",
		name)
	if err != nil {
		return nil, fmt.Errorf("read policies of %s: %w", name, err)
	}
	defer rows.Close()

	actual := make(map[string]bool)
	for rows.Next() {
		var policyName string
		if err := rows.Scan(&policyName); err != nil {
			return nil, err
		}
		actual[policyName] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var findings []AuditFinding
	for _, policy := range table.Policies {
		if !actual[policy.Name] {
			findings = append(findings, AuditFinding{
				Table: name, Kind: "missing_policy",
				Detail: fmt.Sprintf("policy %s for %s is not present", policy.Name, policy.Command),
			})
		}
	}
	return findings, nil
}

// expectedUDTName maps a compiled SQL type to the udt_name the catalog
// reports for it.
func expectedUDTName(sqlType string) string {
	switch {
	case sqlType == "TEXT":
		return "text"
	case sqlType == "TEXT[]":
		return "_text"
	case sqlType == "BIGINT":
		return "int8"
	case sqlType == "BOOLEAN":
		return "bool"
	case strings.HasPrefix(sqlType, "NUMERIC"):
		return "numeric"
	}
	return ""
}
