package services

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/appforge/backend/internal/domain/schema"
	"github.com/appforge/backend/pkg/constants"
)

// CountMaintainer realizes count fields. A count field never becomes a
// physical column: it compiles to a correlated COUNT subquery selected
// alongside the real columns, so the value is always consistent with
// the rows visible at read time.
//
// The same conditions also compile to expression programs used after a
// write to report which parent records had a displayed count change.
type CountMaintainer struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program
}

// AffectedCount identifies one parent record whose count field covers a
// just-written child row.
type AffectedCount struct {
	ParentTable string
	FieldName   string
	ParentID    string
}

// NewCountMaintainer creates a new CountMaintainer
func NewCountMaintainer() *CountMaintainer {
	return &CountMaintainer{programs: make(map[string]*vm.Program)}
}

// ==================== Compilation ====================

// Compile derives the count hooks for one table. The schema has already
// been validated, so relationship fields and related tables resolve.
func (cm *CountMaintainer) Compile(doc *schema.Document, table *schema.TableDefinition) []schema.CompiledCount {
	var counts []schema.CompiledCount
	for i := range table.Fields {
		field := &table.Fields[i]
		if field.Type != "count" || field.Count == nil {
			continue
		}
		relField := table.Field(field.Count.RelationshipField)
		if relField == nil || relField.Relationship == nil {
			continue
		}
		count := schema.CompiledCount{
			FieldName:    field.Name,
			RelatedTable: relField.Relationship.RelatedTable,
			ForeignKey:   relField.Relationship.ForeignKey,
			Conditions:   field.Count.Conditions,
		}
		count.SelectExpr = cm.buildSelectExpr(table.Name, &count)
		counts = append(counts, count)
	}
	return counts
}

// buildSelectExpr renders the correlated subquery for a count field.
// COALESCE keeps the value a plain 0 instead of NULL when no related
// rows exist.
func (cm *CountMaintainer) buildSelectExpr(parentTable string, count *schema.CompiledCount) string {
	child := QuoteIdentifier(count.RelatedTable)
	conditions := []string{
		fmt.Sprintf("%s.%s = %s.%s",
			child, QuoteIdentifier(count.ForeignKey),
			QuoteIdentifier(parentTable), QuoteIdentifier(constants.FieldID)),
	}
	for _, cond := range count.Conditions {
		conditions = append(conditions, conditionSQL(child, cond))
	}
	return fmt.Sprintf("COALESCE((SELECT COUNT(*) FROM %s WHERE %s), 0) AS %s",
		child, strings.Join(conditions, " AND "), QuoteIdentifier(count.FieldName))
}

// conditionSQL renders one count condition as a SQL predicate
func conditionSQL(child string, cond schema.CountCondition) string {
	column := fmt.Sprintf("%s.%s", child, QuoteIdentifier(cond.Field))
	switch cond.Operator {
	case "neq":
		if cond.Value == nil {
			return column + " IS NOT NULL"
		}
		return fmt.Sprintf("%s <> %s", column, QuoteLiteral(cond.Value))
	default: // eq
		if cond.Value == nil {
			return column + " IS NULL"
		}
		return fmt.Sprintf("%s = %s", column, QuoteLiteral(cond.Value))
	}
}

// ==================== Affected Record Detection ====================

// AffectedCounts reports which parent records have a count field whose
// displayed value covers the given child record. Called after writes so
// the change can be logged and surfaced to callers holding stale reads.
func (cm *CountMaintainer) AffectedCounts(snapshot *schema.CompiledSchema, childTable string, record map[string]interface{}) []AffectedCount {
	if snapshot == nil || record == nil {
		return nil
	}
	var affected []AffectedCount
	for _, parent := range snapshot.Tables {
		for i := range parent.Counts {
			count := &parent.Counts[i]
			if count.RelatedTable != childTable {
				continue
			}
			parentID, _ := record[count.ForeignKey].(string)
			if parentID == "" {
				continue
			}
			matches, err := cm.matches(count, record)
			if err != nil {
				log.Printf("⚠️ Count condition evaluation failed for %s.%s: %v",
					parent.Definition.Name, count.FieldName, err)
				continue
			}
			if matches {
				affected = append(affected, AffectedCount{
					ParentTable: parent.Definition.Name,
					FieldName:   count.FieldName,
					ParentID:    parentID,
				})
			}
		}
	}
	return affected
}

// matches evaluates the count conditions against a child record using a
// compiled expression program, cached by source text.
func (cm *CountMaintainer) matches(count *schema.CompiledCount, record map[string]interface{}) (bool, error) {
	if len(count.Conditions) == 0 {
		return true, nil
	}

	source := conditionExpression(count.Conditions)

	cm.mu.RLock()
	program, ok := cm.programs[source]
	cm.mu.RUnlock()

	if !ok {
		compiled, err := expr.Compile(source, expr.AllowUndefinedVariables(), expr.AsBool())
		if err != nil {
			return false, fmt.Errorf("compile condition %q: %w", source, err)
		}
		cm.mu.Lock()
		cm.programs[source] = compiled
		cm.mu.Unlock()
		program = compiled
	}

	result, err := vm.Run(program, record)
	if err != nil {
		return false, fmt.Errorf("evaluate condition %q: %w", source, err)
	}
	matched, _ := result.(bool)
	return matched, nil
}

// conditionExpression renders count conditions as one boolean expression
func conditionExpression(conditions []schema.CountCondition) string {
	parts := make([]string, len(conditions))
	for i, cond := range conditions {
		op := "=="
		if cond.Operator == "neq" {
			op = "!="
		}
		parts[i] = fmt.Sprintf("%s %s %s", cond.Field, op, exprLiteral(cond.Value))
	}
	return strings.Join(parts, " && ")
}

// exprLiteral renders a condition value as an expression literal
func exprLiteral(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return "nil"
	case bool:
		return fmt.Sprintf("%t", v)
	case int, int64, float64:
		return fmt.Sprintf("%v", v)
	case string:
		return fmt.Sprintf("%q", v)
	default:
		return fmt.Sprintf("%q", fmt.Sprintf("%v", v))
	}
}
