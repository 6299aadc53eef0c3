// internal/rules/evaluate.go
package rules

import (
	"fmt"

	"github.com/practicehq/engage/internal/types"
)

/*
 * Single-condition validation and evaluation.
 *
 * Validate enforces the rule shape contract at authoring/dispatch time:
 *   - field must exist in the closed catalog (ErrUnknownField)
 *   - operator must be compatible with the field's type (ErrTypeMismatch)
 *   - BETWEEN requires two ordered numeric bounds (ErrMalformedRule)
 *   - IN/NOT_IN require a non-empty list within MaxInValues (ErrMalformedRule)
 *   - null-check operators ignore value/values
 *
 * Evaluate is a pure function over (rule, snapshot): no side effects, no
 * hidden clock, suitable for table-driven unit tests. It re-validates before
 * comparing, so a malformed rule stored before validation tightened still
 * surfaces as an error rather than a silent non-match.
 *
 * Missing attributes: IS_NULL matches, IS_NOT_NULL does not, every other
 * operator reports no match without error. Absence is a data condition,
 * not an evaluation failure.
 */

// operatorsByType is the compatibility table between field types and operators.
var operatorsByType = map[FieldType]map[types.Operator]bool{
	FieldNumeric: {
		types.OpEquals: true, types.OpNotEquals: true,
		types.OpGreaterThan: true, types.OpGreaterOrEqual: true,
		types.OpLessThan: true, types.OpLessOrEqual: true,
		types.OpBetween: true, types.OpIn: true, types.OpNotIn: true,
		types.OpIsNull: true, types.OpIsNotNull: true,
	},
	FieldText: {
		types.OpEquals: true, types.OpNotEquals: true,
		types.OpContains: true, types.OpNotContains: true,
		types.OpIn: true, types.OpNotIn: true,
		types.OpStartsWith: true, types.OpEndsWith: true,
		types.OpIsNull: true, types.OpIsNotNull: true,
	},
	FieldBoolean: {
		types.OpEquals: true, types.OpNotEquals: true,
		types.OpIsNull: true, types.OpIsNotNull: true,
	},
	FieldList: {
		types.OpContains: true, types.OpNotContains: true,
		types.OpIsNull: true, types.OpIsNotNull: true,
	},
}

// Validate checks a rule against the field catalog and shape constraints.
func Validate(rule types.Rule) error {
	spec, ok := fieldCatalog[rule.Field]
	if !ok {
		return fmt.Errorf("%w: %q", types.ErrUnknownField, rule.Field)
	}

	allowed := operatorsByType[spec.Type]
	if !allowed[rule.Operator] {
		return fmt.Errorf("%w: %s on %s field %q", types.ErrTypeMismatch, rule.Operator, typeName(spec.Type), rule.Field)
	}

	switch rule.Operator {
	case types.OpIsNull, types.OpIsNotNull:
		// Null checks ignore value/values entirely.
		return nil

	case types.OpBetween:
		if len(rule.Values) != 2 {
			return fmt.Errorf("%w: BETWEEN requires exactly two bounds, got %d", types.ErrMalformedRule, len(rule.Values))
		}
		low, okL := toFloat64(rule.Values[0])
		high, okH := toFloat64(rule.Values[1])
		if !okL || !okH {
			return fmt.Errorf("%w: BETWEEN bounds must be numeric", types.ErrMalformedRule)
		}
		if low > high {
			return fmt.Errorf("%w: BETWEEN bounds must be ordered low..high", types.ErrMalformedRule)
		}
		return nil

	case types.OpIn, types.OpNotIn:
		if len(rule.Values) == 0 {
			return fmt.Errorf("%w: %s requires a value list", types.ErrMalformedRule, rule.Operator)
		}
		if len(rule.Values) > types.MaxInValues {
			return fmt.Errorf("%w: got %d values", types.ErrTooManyInValues, len(rule.Values))
		}
		return nil

	default:
		if rule.Value == nil {
			return fmt.Errorf("%w: %s requires a value", types.ErrMalformedRule, rule.Operator)
		}
		if spec.Type == FieldNumeric {
			if _, ok := toFloat64(rule.Value); !ok {
				return fmt.Errorf("%w: %s on numeric field requires a numeric value", types.ErrMalformedRule, rule.Operator)
			}
		}
		return nil
	}
}

// Evaluate checks a single rule against a patient snapshot.
// Returns ErrMalformedRule/ErrTypeMismatch (via Validate) for contract
// violations; otherwise a pure boolean match with no error.
func Evaluate(rule types.Rule, snapshot *Snapshot) (bool, error) {
	if err := Validate(rule); err != nil {
		return false, err
	}

	spec := fieldCatalog[rule.Field]
	value, present := spec.Get(snapshot)

	switch rule.Operator {
	case types.OpIsNull:
		return !present, nil
	case types.OpIsNotNull:
		return present, nil
	}

	if !present {
		return false, nil
	}

	return compare(rule.Operator, spec.Type, value, rule), nil
}

// typeName renders a FieldType for error messages.
func typeName(t FieldType) string {
	switch t {
	case FieldNumeric:
		return "numeric"
	case FieldText:
		return "text"
	case FieldBoolean:
		return "boolean"
	case FieldList:
		return "list"
	default:
		return "unknown"
	}
}
