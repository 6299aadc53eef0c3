package types

/*
 * Domain types for rule evaluation.
 *
 * Provides Rule, RuleGroup, Field, and Operator used by internal/rules for
 * single-condition evaluation and by internal/segments for recursive group
 * evaluation. These types are wire-format agnostic; JSON/storage decoding
 * happens at the store boundary.
 *
 * Key types:
 *   - Field: closed catalog of patient/trigger attribute keys
 *   - Operator: comparator applied to one field
 *   - Rule: single condition {field, operator, value}
 *   - RuleGroup: AND/OR combinator over rules and subgroups
 */

// Field is an enumerated attribute key. The catalog is closed: internal/rules
// maps every Field to a typed accessor at compile time, so an unknown field is
// an evaluation error, never a silent non-match.
type Field string

// Patient attributes supplied by the snapshot provider.
const (
	FieldAge                 Field = "AGE"
	FieldGender              Field = "GENDER"
	FieldCity                Field = "CITY"
	FieldVisitCount          Field = "VISIT_COUNT"
	FieldLastVisitDays       Field = "LAST_VISIT_DAYS"
	FieldNextAppointmentDays Field = "NEXT_APPOINTMENT_DAYS"
	FieldTotalSpent          Field = "TOTAL_SPENT"
	FieldOutstandingBalance  Field = "OUTSTANDING_BALANCE"
	FieldLoyaltyPoints       Field = "LOYALTY_POINTS"
	FieldLoyaltyTier         Field = "LOYALTY_TIER"
	FieldEmailOptIn          Field = "EMAIL_OPT_IN"
	FieldSMSOptIn            Field = "SMS_OPT_IN"
	FieldTreatments          Field = "TREATMENTS"
	FieldTags                Field = "TAGS"
	FieldSegments            Field = "SEGMENTS"
)

// Trigger payload attributes, present only when the owning trigger supplies them.
const (
	FieldInvoiceAmount   Field = "INVOICE_AMOUNT"
	FieldAppointmentType Field = "APPOINTMENT_TYPE"
	FieldTreatmentCode   Field = "TREATMENT_CODE"
)

// Operator is an enumerated comparator.
type Operator string

const (
	OpEquals         Operator = "EQUALS"
	OpNotEquals      Operator = "NOT_EQUALS"
	OpContains       Operator = "CONTAINS"
	OpNotContains    Operator = "NOT_CONTAINS"
	OpGreaterThan    Operator = "GREATER_THAN"
	OpGreaterOrEqual Operator = "GREATER_OR_EQUAL"
	OpLessThan       Operator = "LESS_THAN"
	OpLessOrEqual    Operator = "LESS_OR_EQUAL"
	OpIn             Operator = "IN"
	OpNotIn          Operator = "NOT_IN"
	OpBetween        Operator = "BETWEEN"
	OpIsNull         Operator = "IS_NULL"
	OpIsNotNull      Operator = "IS_NOT_NULL"
	OpStartsWith     Operator = "STARTS_WITH"
	OpEndsWith       Operator = "ENDS_WITH"
)

// Rule represents a single condition.
// Value carries the scalar comparison value. Values carries the list for
// IN/NOT_IN and the two ordered bounds for BETWEEN. Null-check operators
// ignore both.
type Rule struct {
	Field    Field    `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value,omitempty"`
	Values   []any    `json:"values,omitempty"`
}

// GroupOperator combines the members of a RuleGroup.
type GroupOperator string

const (
	GroupAnd GroupOperator = "AND"
	GroupOr  GroupOperator = "OR"
)

// RuleGroup combines rules and nested subgroups under one boolean operator.
// A group with no rules and no subgroups evaluates to true (no filter).
// Nesting is bounded by MaxGroupDepth.
type RuleGroup struct {
	Operator GroupOperator `json:"operator"`
	Rules    []Rule        `json:"rules,omitempty"`
	Groups   []RuleGroup   `json:"groups,omitempty"`
}
