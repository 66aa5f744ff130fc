package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/appforge/backend/internal/domain/schema"
	"github.com/appforge/backend/pkg/constants"
	apperrors "github.com/appforge/backend/pkg/errors"
	"github.com/appforge/backend/pkg/fieldtypes"
	"github.com/appforge/backend/pkg/utils"
)

// ==================== Payload Validation ====================

// validatePayload rejects keys that can never be written: unknown
// fields, computed fields, UI-only fields, and on update the immutable
// identity columns.
func validatePayload(table *schema.CompiledTable, payload map[string]interface{}, isCreate bool) error {
	for name := range payload {
		field := table.Definition.Field(name)
		if field == nil {
			return apperrors.NewValidationError(name, fmt.Sprintf("unknown field '%s'", name))
		}
		if field.Type == "count" {
			return apperrors.NewValidationError(name, fmt.Sprintf("field '%s' is computed and cannot be written", name))
		}
		if fieldtypes.IsUIOnly(field.Type) {
			return apperrors.NewValidationError(name, fmt.Sprintf("field '%s' is a UI-only field and has no stored value", name))
		}
		if isVirtualField(field) {
			return apperrors.NewValidationError(name, fmt.Sprintf("field '%s' has no column on this table", name))
		}
		if !isCreate {
			if name == constants.FieldID {
				return apperrors.NewValidationError(name, "id cannot be modified")
			}
			if name == constants.FieldOrganizationID {
				return apperrors.NewValidationError(name, "organization_id cannot be modified")
			}
		}
	}
	return nil
}

// checkRequiredFields verifies that every required column has a value
// on create. Columns with database defaults and the identity columns
// are exempt; everything else missing is a validation error.
func checkRequiredFields(table *schema.CompiledTable, record map[string]interface{}) error {
	for i := range table.Definition.Fields {
		field := &table.Definition.Fields[i]
		if !field.Required || isVirtualField(field) || field.Default != "" {
			continue
		}
		col := columnName(field)
		if col == constants.FieldID || col == constants.FieldOrganizationID {
			continue
		}
		value, present := record[col]
		if !present || value == nil || value == "" {
			return apperrors.NewValidationError(field.Name, fmt.Sprintf("field '%s' is required", field.Name))
		}
	}
	return nil
}

// convertValue coerces a payload value into the representation the
// driver expects for the field's column, validating it on the way.
func convertValue(field *schema.FieldDefinition, value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}

	switch field.Type {
	case "checkbox":
		return utils.ToBool(value), nil

	case "integer":
		switch v := value.(type) {
		case float64:
			return int64(v), nil
		case int:
			return int64(v), nil
		case int64:
			return v, nil
		case json.Number:
			return v.Int64()
		case string:
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, apperrors.NewValidationError(field.Name, fmt.Sprintf("field '%s' must be an integer", field.Name))
			}
			return n, nil
		}
		return nil, apperrors.NewValidationError(field.Name, fmt.Sprintf("field '%s' must be an integer", field.Name))

	case "decimal":
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case json.Number:
			return v.Float64()
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, apperrors.NewValidationError(field.Name, fmt.Sprintf("field '%s' must be a number", field.Name))
			}
			return f, nil
		}
		return nil, apperrors.NewValidationError(field.Name, fmt.Sprintf("field '%s' must be a number", field.Name))

	case "single-select":
		s, ok := value.(string)
		if !ok {
			return nil, apperrors.NewValidationError(field.Name, fmt.Sprintf("field '%s' must be a string", field.Name))
		}
		for _, opt := range field.Options {
			if opt == s {
				return s, nil
			}
		}
		return nil, apperrors.NewValidationError(field.Name, fmt.Sprintf("'%s' is not an allowed option for field '%s'", s, field.Name))

	case "multi-select":
		values := utils.ToStringSlice(value)
		if values == nil {
			return nil, apperrors.NewValidationError(field.Name, fmt.Sprintf("field '%s' must be a list of strings", field.Name))
		}
		for _, v := range values {
			allowed := false
			for _, opt := range field.Options {
				if opt == v {
					allowed = true
					break
				}
			}
			if !allowed {
				return nil, apperrors.NewValidationError(field.Name, fmt.Sprintf("'%s' is not an allowed option for field '%s'", v, field.Name))
			}
		}
		return utils.FormatTextArray(values), nil

	case "email":
		s, ok := value.(string)
		if !ok {
			return nil, apperrors.NewValidationError(field.Name, fmt.Sprintf("field '%s' must be a string", field.Name))
		}
		pattern, message := fieldtypes.GetValidationPattern(field.Type)
		if pattern != "" {
			if matched, _ := regexp.MatchString(pattern, s); !matched {
				return nil, apperrors.NewValidationError(field.Name, message)
			}
		}
		return s, nil

	default:
		// text, long-text, relationship foreign keys
		s, ok := value.(string)
		if !ok {
			return nil, apperrors.NewValidationError(field.Name, fmt.Sprintf("field '%s' must be a string", field.Name))
		}
		return s, nil
	}
}

// ==================== List Filters ====================

// buildListFilters turns query-string equality filters into WHERE
// conditions. Keys must name a physical column; values are converted
// with the field's own type rules so a filter cannot bypass them.
func buildListFilters(table *schema.CompiledTable, filters map[string]string) ([]string, []interface{}, error) {
	if len(filters) == 0 {
		return nil, nil, nil
	}
	keys := make([]string, 0, len(filters))
	for key := range filters {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	qualified := QuoteIdentifier(table.Definition.Name)
	conditions := make([]string, 0, len(keys))
	args := make([]interface{}, 0, len(keys))
	for _, key := range keys {
		field := fieldForColumn(&table.Definition, key)
		if field == nil {
			return nil, nil, apperrors.NewValidationError(key, fmt.Sprintf("field '%s' cannot be used as a filter", key))
		}
		if fieldtypes.IsArray(field.Type) {
			return nil, nil, apperrors.NewValidationError(key, fmt.Sprintf("field '%s' cannot be used as a filter", key))
		}
		value, err := convertValue(field, filters[key])
		if err != nil {
			return nil, nil, err
		}
		conditions = append(conditions, fmt.Sprintf("%s.%s = $%d", qualified, QuoteIdentifier(key), len(args)+1))
		args = append(args, value)
	}
	return conditions, args, nil
}

// ==================== Row Scanning ====================

// selectColumnList returns the output names and SQL select expressions
// for a table: every physical column plus every count subquery, in
// schema order.
func selectColumnList(table *schema.CompiledTable) (names []string, exprs []string) {
	qualified := QuoteIdentifier(table.Definition.Name)
	for _, col := range table.Columns {
		names = append(names, col.Name)
		exprs = append(exprs, fmt.Sprintf("%s.%s", qualified, QuoteIdentifier(col.Name)))
	}
	for i := range table.Counts {
		names = append(names, table.Counts[i].FieldName)
		exprs = append(exprs, table.Counts[i].SelectExpr)
	}
	return names, exprs
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord scans one result row into a field-name keyed map,
// converting driver representations back into API values.
func scanRecord(table *schema.CompiledTable, names []string, scanner rowScanner) (map[string]interface{}, error) {
	dests := make([]interface{}, len(names))
	raw := make([]interface{}, len(names))
	for i := range raw {
		dests[i] = &raw[i]
	}
	if err := scanner.Scan(dests...); err != nil {
		return nil, err
	}

	record := make(map[string]interface{}, len(names))
	for i, name := range names {
		record[name] = decodeValue(table, name, raw[i])
	}
	return record, nil
}

// decodeValue converts one scanned column value into its API shape
func decodeValue(table *schema.CompiledTable, name string, value interface{}) interface{} {
	if value == nil {
		return nil
	}
	field := fieldForColumn(&table.Definition, name)

	if b, ok := value.([]byte); ok {
		value = string(b)
	}
	if field != nil && fieldtypes.IsArray(field.Type) {
		if s, ok := value.(string); ok {
			return utils.ParseTextArray(s)
		}
	}
	return value
}

// ==================== Database Error Translation ====================

// translateDatabaseError maps driver errors to the API error taxonomy.
// Permission failures raised by row policies are reported with the
// same message as app-level denials, so the enforcement layer is not
// observable from outside.
func translateDatabaseError(err error, tableName, command string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NewNotFoundError(tableName, "")
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return apperrors.NewConstraintViolationError(pgErr.ConstraintName,
				fmt.Sprintf("a record with this value already exists (unique constraint %s)", pgErr.ConstraintName))
		case "23502":
			return apperrors.NewConstraintViolationError(pgErr.ConstraintName,
				fmt.Sprintf("column '%s' is required and cannot be null", pgErr.ColumnName))
		case "23503":
			return apperrors.NewConstraintViolationError(pgErr.ConstraintName,
				"the referenced record does not exist")
		case "23514":
			return apperrors.NewConstraintViolationError(pgErr.ConstraintName,
				fmt.Sprintf("value rejected by constraint %s", pgErr.ConstraintName))
		case "42501":
			return apperrors.NewPermissionError(command, tableName)
		}
	}
	return apperrors.NewInternalError("database operation failed", err)
}
