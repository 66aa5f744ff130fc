package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/appforge/backend/internal/domain/schema"
	"github.com/appforge/backend/internal/infrastructure/database"
	"github.com/appforge/backend/pkg/auth"
	"github.com/appforge/backend/pkg/constants"
	apperrors "github.com/appforge/backend/pkg/errors"
	"github.com/appforge/backend/pkg/utils"
)

// RecordService executes data operations against compiled tables.
// Every operation runs inside a transaction with the caller's identity
// bound as session settings, so the database's row policies see the
// same caller the service layer does.
//
// For id-addressed operations the row is fetched before the role check.
// A row hidden by organization isolation therefore reports not-found,
// and a permission error is only possible for rows the caller can see.
type RecordService struct {
	db       *database.PostgresConnection
	registry *SchemaRegistry
	authz    *AuthorizationService
	counts   *CountMaintainer
}

// NewRecordService creates a new RecordService
func NewRecordService(db *database.PostgresConnection, registry *SchemaRegistry, authz *AuthorizationService, counts *CountMaintainer) *RecordService {
	return &RecordService{db: db, registry: registry, authz: authz, counts: counts}
}

// ==================== Session Binding ====================

// resolveTable looks a table up in the live snapshot
func (rs *RecordService) resolveTable(tableName string) (*schema.CompiledSchema, *schema.CompiledTable, error) {
	snapshot := rs.registry.Current()
	if snapshot == nil {
		return nil, nil, apperrors.NewInternalError("no schema has been applied", nil)
	}
	table := snapshot.Table(tableName)
	if table == nil {
		return nil, nil, apperrors.NewNotFoundError("table", tableName)
	}
	return snapshot, table, nil
}

// beginSession opens a transaction and binds the caller's identity to
// it. set_config with is_local=true scopes the values to the
// transaction, so pooled connections never leak a previous caller.
func (rs *RecordService) beginSession(ctx context.Context, caller *auth.CallerContext) (*sql.Tx, error) {
	tx, err := rs.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to begin transaction", err)
	}
	settings := rs.authz.SessionSettings(caller)
	args := make([]interface{}, 0, len(settings)*2)
	calls := make([]string, 0, len(settings))
	for i, kv := range settings {
		calls = append(calls, fmt.Sprintf("set_config($%d, $%d, true)", i*2+1, i*2+2))
		args = append(args, kv[0], kv[1])
	}
	query := "SELECT " + strings.Join(calls, ", ")
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		tx.Rollback()
		return nil, apperrors.NewInternalError("failed to bind session settings", err)
	}
	return tx, nil
}

// fetchByID reads one row through the session's row policies. A row in
// another organization is simply invisible here.
func (rs *RecordService) fetchByID(ctx context.Context, tx *sql.Tx, table *schema.CompiledTable, id string) (map[string]interface{}, error) {
	names, exprs := selectColumnList(table)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s.%s = $1",
		strings.Join(exprs, ", "), QuoteIdentifier(table.Definition.Name),
		QuoteIdentifier(table.Definition.Name), QuoteIdentifier(constants.FieldID))
	row := tx.QueryRowContext(ctx, query, id)
	record, err := scanRecord(table, names, row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError(table.Definition.Name, id)
		}
		return nil, translateDatabaseError(err, table.Definition.Name, constants.CommandRead)
	}
	return record, nil
}

// ==================== Read Operations ====================

// GetRecord returns one record by id, masked to the caller's role
func (rs *RecordService) GetRecord(ctx context.Context, caller *auth.CallerContext, tableName, id string) (map[string]interface{}, error) {
	_, table, err := rs.resolveTable(tableName)
	if err != nil {
		return nil, err
	}
	if err := rs.authz.RequireAuthenticated(caller, table); err != nil {
		return nil, err
	}

	tx, err := rs.beginSession(ctx, caller)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	record, err := rs.fetchByID(ctx, tx, table, id)
	if err != nil {
		return nil, err
	}
	// Role check runs after the fetch: invisible rows already reported
	// not-found, so a denial here never confirms foreign data exists.
	if err := rs.authz.CheckCommand(caller, table, constants.CommandRead); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, apperrors.NewInternalError("failed to commit transaction", err)
	}
	return rs.authz.MaskReadFields(caller, table, record), nil
}

// ListRecords returns every record visible to the caller, optionally
// narrowed by equality filters on physical columns.
func (rs *RecordService) ListRecords(ctx context.Context, caller *auth.CallerContext, tableName string, filters map[string]string) ([]map[string]interface{}, error) {
	_, table, err := rs.resolveTable(tableName)
	if err != nil {
		return nil, err
	}
	if err := rs.authz.RequireAuthenticated(caller, table); err != nil {
		return nil, err
	}
	if err := rs.authz.CheckCommand(caller, table, constants.CommandRead); err != nil {
		return nil, err
	}
	conditions, args, err := buildListFilters(table, filters)
	if err != nil {
		return nil, err
	}

	tx, err := rs.beginSession(ctx, caller)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	names, exprs := selectColumnList(table)
	query := fmt.Sprintf("SELECT %s FROM %s",
		strings.Join(exprs, ", "), QuoteIdentifier(table.Definition.Name))
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY %s.%s",
		QuoteIdentifier(table.Definition.Name), QuoteIdentifier(constants.FieldID))
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translateDatabaseError(err, tableName, constants.CommandRead)
	}
	defer rows.Close()

	records := []map[string]interface{}{}
	for rows.Next() {
		record, err := scanRecord(table, names, rows)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to scan record", err)
		}
		records = append(records, rs.authz.MaskReadFields(caller, table, record))
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to read records", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, apperrors.NewInternalError("failed to commit transaction", err)
	}
	return records, nil
}

// ==================== Write Operations ====================

// CreateRecord inserts a new record and returns it with computed
// fields populated. Organization-scoped tables get the caller's bound
// organization regardless of what the payload says.
func (rs *RecordService) CreateRecord(ctx context.Context, caller *auth.CallerContext, tableName string, payload map[string]interface{}) (map[string]interface{}, []CountRefresh, error) {
	snapshot, table, err := rs.resolveTable(tableName)
	if err != nil {
		return nil, nil, err
	}
	if err := rs.authz.RequireAuthenticated(caller, table); err != nil {
		return nil, nil, err
	}
	if err := rs.authz.CheckCommand(caller, table, constants.CommandCreate); err != nil {
		return nil, nil, err
	}
	if err := validatePayload(table, payload, true); err != nil {
		return nil, nil, err
	}

	payload = rs.authz.FilterWriteFields(caller, table, payload)

	id, _ := payload[constants.FieldID].(string)
	if id == "" {
		id = utils.GenerateID()
	} else if !utils.IsValidUUID(id) {
		return nil, nil, apperrors.NewValidationError(constants.FieldID, "id must be a valid UUID")
	}

	values := map[string]interface{}{constants.FieldID: id}
	for name, raw := range payload {
		if name == constants.FieldID || name == constants.FieldOrganizationID {
			continue
		}
		field := table.Definition.Field(name)
		converted, err := convertValue(field, raw)
		if err != nil {
			return nil, nil, err
		}
		values[columnName(field)] = converted
	}

	if table.Definition.OrganizationScoped() {
		if caller == nil || caller.CurrentOrganizationID == "" {
			return nil, nil, apperrors.NewPermissionError(constants.CommandCreate, tableName)
		}
		values[constants.FieldOrganizationID] = caller.CurrentOrganizationID
	}

	if err := checkRequiredFields(table, values); err != nil {
		return nil, nil, err
	}

	tx, err := rs.beginSession(ctx, caller)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	var columns, placeholders []string
	var args []interface{}
	for _, col := range table.Columns {
		value, present := values[col.Name]
		if !present {
			continue
		}
		columns = append(columns, QuoteIdentifier(col.Name))
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)+1))
		args = append(args, value)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		QuoteIdentifier(tableName), strings.Join(columns, ", "), strings.Join(placeholders, ", "))
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, nil, translateDatabaseError(err, tableName, constants.CommandCreate)
	}

	record, err := rs.fetchByID(ctx, tx, table, id)
	if err != nil {
		return nil, nil, err
	}
	refreshed, err := rs.refreshAffectedCounts(ctx, tx, snapshot, tableName, record)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, apperrors.NewInternalError("failed to commit transaction", err)
	}

	log.Printf("✅ Created %s record %s", tableName, id)
	return rs.authz.MaskReadFields(caller, table, record), refreshed, nil
}

// UpdateRecord applies a partial update to one record
func (rs *RecordService) UpdateRecord(ctx context.Context, caller *auth.CallerContext, tableName, id string, payload map[string]interface{}) (map[string]interface{}, []CountRefresh, error) {
	snapshot, table, err := rs.resolveTable(tableName)
	if err != nil {
		return nil, nil, err
	}
	if err := rs.authz.RequireAuthenticated(caller, table); err != nil {
		return nil, nil, err
	}

	tx, err := rs.beginSession(ctx, caller)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	existing, err := rs.fetchByID(ctx, tx, table, id)
	if err != nil {
		return nil, nil, err
	}
	if err := rs.authz.CheckCommand(caller, table, constants.CommandUpdate); err != nil {
		return nil, nil, err
	}
	if err := validatePayload(table, payload, false); err != nil {
		return nil, nil, err
	}

	payload = rs.authz.FilterWriteFields(caller, table, payload)
	if len(payload) == 0 {
		if err := tx.Commit(); err != nil {
			return nil, nil, apperrors.NewInternalError("failed to commit transaction", err)
		}
		return rs.authz.MaskReadFields(caller, table, existing), nil, nil
	}

	var sets []string
	var args []interface{}
	for name, raw := range payload {
		field := table.Definition.Field(name)
		converted, err := convertValue(field, raw)
		if err != nil {
			return nil, nil, err
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", QuoteIdentifier(columnName(field)), len(args)+1))
		args = append(args, converted)
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d",
		QuoteIdentifier(tableName), strings.Join(sets, ", "),
		QuoteIdentifier(constants.FieldID), len(args))

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, nil, translateDatabaseError(err, tableName, constants.CommandUpdate)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		// The row was visible to the fetch but the update policy
		// filtered it, so this is a denial, not a missing row.
		return nil, nil, apperrors.NewPermissionError(constants.CommandUpdate, tableName)
	}

	record, err := rs.fetchByID(ctx, tx, table, id)
	if err != nil {
		return nil, nil, err
	}
	refreshed, err := rs.refreshAffectedCounts(ctx, tx, snapshot, tableName, existing, record)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, apperrors.NewInternalError("failed to commit transaction", err)
	}

	return rs.authz.MaskReadFields(caller, table, record), refreshed, nil
}

// DeleteRecord removes one record
func (rs *RecordService) DeleteRecord(ctx context.Context, caller *auth.CallerContext, tableName, id string) ([]CountRefresh, error) {
	snapshot, table, err := rs.resolveTable(tableName)
	if err != nil {
		return nil, err
	}
	if err := rs.authz.RequireAuthenticated(caller, table); err != nil {
		return nil, err
	}

	tx, err := rs.beginSession(ctx, caller)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	existing, err := rs.fetchByID(ctx, tx, table, id)
	if err != nil {
		return nil, err
	}
	if err := rs.authz.CheckCommand(caller, table, constants.CommandDelete); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1",
		QuoteIdentifier(tableName), QuoteIdentifier(constants.FieldID))
	result, err := tx.ExecContext(ctx, query, id)
	if err != nil {
		return nil, translateDatabaseError(err, tableName, constants.CommandDelete)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return nil, apperrors.NewPermissionError(constants.CommandDelete, tableName)
	}
	refreshed, err := rs.refreshAffectedCounts(ctx, tx, snapshot, tableName, existing)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, apperrors.NewInternalError("failed to commit transaction", err)
	}

	log.Printf("✅ Deleted %s record %s", tableName, id)
	return refreshed, nil
}

// CountRefresh is one parent count revalued on the writing transaction,
// so write responses carry the value the write produced rather than a
// stale read.
type CountRefresh struct {
	Table string `json:"table"`
	ID    string `json:"id"`
	Field string `json:"field"`
	Value int64  `json:"value"`
}

// refreshAffectedCounts re-reads every parent count whose displayed
// value covers one of the given child rows. Duplicate parents across
// the before/after images of an update collapse to one entry.
func (rs *RecordService) refreshAffectedCounts(ctx context.Context, tx *sql.Tx, snapshot *schema.CompiledSchema, tableName string, records ...map[string]interface{}) ([]CountRefresh, error) {
	seen := make(map[string]bool)
	var refreshed []CountRefresh
	for _, record := range records {
		for _, affected := range rs.counts.AffectedCounts(snapshot, tableName, record) {
			key := affected.ParentTable + "/" + affected.FieldName + "/" + affected.ParentID
			if seen[key] {
				continue
			}
			seen[key] = true

			parent := snapshot.Table(affected.ParentTable)
			if parent == nil {
				continue
			}
			selectExpr := ""
			for i := range parent.Counts {
				if parent.Counts[i].FieldName == affected.FieldName {
					selectExpr = parent.Counts[i].SelectExpr
				}
			}
			if selectExpr == "" {
				continue
			}

			query := fmt.Sprintf("SELECT %s FROM %s WHERE %s.%s = $1",
				selectExpr, QuoteIdentifier(affected.ParentTable),
				QuoteIdentifier(affected.ParentTable), QuoteIdentifier(constants.FieldID))
			var value int64
			if err := tx.QueryRowContext(ctx, query, affected.ParentID).Scan(&value); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					// Parent is gone or invisible to this session
					continue
				}
				return nil, apperrors.NewInternalError("failed to refresh count", err)
			}
			log.Printf("🔄 Count %s.%s for record %s is now %d",
				affected.ParentTable, affected.FieldName, affected.ParentID, value)
			refreshed = append(refreshed, CountRefresh{
				Table: affected.ParentTable,
				ID:    affected.ParentID,
				Field: affected.FieldName,
				Value: value,
			})
		}
	}
	return refreshed, nil
}
