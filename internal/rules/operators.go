// internal/rules/operators.go
package rules

import (
	"strings"

	"github.com/practicehq/engage/internal/types"
)

/*
 * Operator comparison logic.
 *
 * Implements the 15 comparison operators with type-aware comparison rules.
 * Operands reach compare() already validated against the field catalog, so
 * each helper only handles the operand shapes its operators permit.
 *
 * Operators:
 *   - EQUALS/NOT_EQUALS: equality with numeric tolerance for mixed int/float
 *   - GREATER_THAN/.../LESS_OR_EQUAL: numeric three-way comparison
 *   - BETWEEN: inclusive on both bounds
 *   - CONTAINS/NOT_CONTAINS: substring on text, membership on lists
 *   - IN/NOT_IN: membership with equality semantics
 *   - STARTS_WITH/ENDS_WITH: string prefix/suffix
 *   - IS_NULL/IS_NOT_NULL: handled in evaluate.go before operands exist
 *
 * Why function-based: a switch over 15 operators is cleaner than 15
 * interface implementations with minimal behavior variation.
 */

// compare applies a non-null-check operator to a present field value.
func compare(op types.Operator, fieldType FieldType, value any, rule types.Rule) bool {
	switch op {
	case types.OpEquals:
		return compareEqual(value, rule.Value)
	case types.OpNotEquals:
		return !compareEqual(value, rule.Value)
	case types.OpGreaterThan:
		return compareNumeric(value, rule.Value) > 0
	case types.OpGreaterOrEqual:
		return compareNumeric(value, rule.Value) >= 0
	case types.OpLessThan:
		return compareNumeric(value, rule.Value) < 0
	case types.OpLessOrEqual:
		return compareNumeric(value, rule.Value) <= 0
	case types.OpBetween:
		return compareBetween(value, rule.Values)
	case types.OpContains:
		return compareContains(fieldType, value, rule.Value)
	case types.OpNotContains:
		return !compareContains(fieldType, value, rule.Value)
	case types.OpIn:
		return compareIn(value, rule.Values)
	case types.OpNotIn:
		return !compareIn(value, rule.Values)
	case types.OpStartsWith:
		return comparePrefix(value, rule.Value)
	case types.OpEndsWith:
		return compareSuffix(value, rule.Value)
	default:
		return false
	}
}

// compareEqual performs equality comparison with numeric type coercion.
// Handles float64/int/int64 mixing for JSON compatibility.
func compareEqual(a, b any) bool {
	if na, nb, ok := asNumbers(a, b); ok {
		return na == nb
	}
	return a == b
}

// compareNumeric performs three-way numeric comparison (-1/0/1).
// Returns 0 for incomparable types; callers with strict inequality
// operators then report no match.
func compareNumeric(a, b any) int {
	na, nb, ok := asNumbers(a, b)
	if !ok {
		return 0
	}
	switch {
	case na < nb:
		return -1
	case na > nb:
		return 1
	default:
		return 0
	}
}

// compareBetween checks low <= value <= high, inclusive on both ends.
// Bounds shape is validated before evaluation; a short list means no match.
func compareBetween(value any, bounds []any) bool {
	if len(bounds) != 2 {
		return false
	}
	v, okV := toFloat64(value)
	low, okL := toFloat64(bounds[0])
	high, okH := toFloat64(bounds[1])
	if !okV || !okL || !okH {
		return false
	}
	return v >= low && v <= high
}

// compareContains is substring match on text fields and membership on lists.
func compareContains(fieldType FieldType, value, target any) bool {
	switch fieldType {
	case FieldText:
		vs, ok1 := value.(string)
		ts, ok2 := target.(string)
		if !ok1 || !ok2 {
			return false
		}
		return strings.Contains(vs, ts)
	case FieldList:
		items, ok := value.([]string)
		if !ok {
			return false
		}
		ts, ok := target.(string)
		if !ok {
			return false
		}
		for _, item := range items {
			if item == ts {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// compareIn checks if value exists in the rule's value list using equality
// semantics.
func compareIn(value any, values []any) bool {
	for _, elem := range values {
		if compareEqual(value, elem) {
			return true
		}
	}
	return false
}

// comparePrefix checks if value starts with prefix (both must be strings).
func comparePrefix(value, prefix any) bool {
	vs, ok1 := value.(string)
	ps, ok2 := prefix.(string)
	if !ok1 || !ok2 {
		return false
	}
	return strings.HasPrefix(vs, ps)
}

// compareSuffix checks if value ends with suffix (both must be strings).
func compareSuffix(value, suffix any) bool {
	vs, ok1 := value.(string)
	ss, ok2 := suffix.(string)
	if !ok1 || !ok2 {
		return false
	}
	return strings.HasSuffix(vs, ss)
}

// asNumbers attempts to convert both values to float64 for numeric comparison.
func asNumbers(a, b any) (float64, float64, bool) {
	na, oka := toFloat64(a)
	nb, okb := toFloat64(b)
	return na, nb, oka && okb
}
