package rules

import (
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/practicehq/engage/internal/types"
)

func ptr[T any](v T) *T { return &v }

func fullSnapshot() *Snapshot {
	return &Snapshot{
		PatientID:           "patient-1",
		TenantID:            "tenant-1",
		Age:                 ptr(34.0),
		Gender:              ptr("F"),
		City:                ptr("Rotterdam"),
		VisitCount:          ptr(12.0),
		LastVisitDays:       ptr(45.0),
		NextAppointmentDays: ptr(14.0),
		TotalSpent:          ptr(2350.50),
		OutstandingBalance:  ptr(0.0),
		LoyaltyPoints:       ptr(820.0),
		LoyaltyTier:         ptr("SILVER"),
		EmailOptIn:          ptr(true),
		SMSOptIn:            ptr(false),
		Treatments:          []string{"CLEANING", "WHITENING"},
		Tags:                []string{"vip"},
		Segments:            []string{"seg-recall"},
	}
}

// Test normal evaluation cases across operator/type combinations
func TestEvaluate_Normal(t *testing.T) {
	tests := []struct {
		name string
		rule types.Rule
		want bool
	}{
		{
			name: "numeric equals",
			rule: types.Rule{Field: types.FieldAge, Operator: types.OpEquals, Value: 34},
			want: true,
		},
		{
			name: "numeric equals int float mixing",
			rule: types.Rule{Field: types.FieldVisitCount, Operator: types.OpEquals, Value: 12.0},
			want: true,
		},
		{
			name: "numeric greater than",
			rule: types.Rule{Field: types.FieldTotalSpent, Operator: types.OpGreaterThan, Value: 2000},
			want: true,
		},
		{
			name: "numeric greater than strict",
			rule: types.Rule{Field: types.FieldAge, Operator: types.OpGreaterThan, Value: 34},
			want: false,
		},
		{
			name: "numeric greater or equal boundary",
			rule: types.Rule{Field: types.FieldAge, Operator: types.OpGreaterOrEqual, Value: 34},
			want: true,
		},
		{
			name: "numeric less than zero balance",
			rule: types.Rule{Field: types.FieldOutstandingBalance, Operator: types.OpLessThan, Value: 1},
			want: true,
		},
		{
			name: "between inclusive low bound",
			rule: types.Rule{Field: types.FieldAge, Operator: types.OpBetween, Values: []any{34, 50}},
			want: true,
		},
		{
			name: "between inclusive high bound",
			rule: types.Rule{Field: types.FieldAge, Operator: types.OpBetween, Values: []any{18, 34}},
			want: true,
		},
		{
			name: "between outside",
			rule: types.Rule{Field: types.FieldAge, Operator: types.OpBetween, Values: []any{40, 50}},
			want: false,
		},
		{
			name: "numeric in list",
			rule: types.Rule{Field: types.FieldVisitCount, Operator: types.OpIn, Values: []any{10, 11, 12}},
			want: true,
		},
		{
			name: "numeric not in list",
			rule: types.Rule{Field: types.FieldVisitCount, Operator: types.OpNotIn, Values: []any{1, 2, 3}},
			want: true,
		},
		{
			name: "text equals",
			rule: types.Rule{Field: types.FieldLoyaltyTier, Operator: types.OpEquals, Value: "SILVER"},
			want: true,
		},
		{
			name: "text contains substring",
			rule: types.Rule{Field: types.FieldCity, Operator: types.OpContains, Value: "otter"},
			want: true,
		},
		{
			name: "text starts with",
			rule: types.Rule{Field: types.FieldCity, Operator: types.OpStartsWith, Value: "Rot"},
			want: true,
		},
		{
			name: "text ends with",
			rule: types.Rule{Field: types.FieldCity, Operator: types.OpEndsWith, Value: "dam"},
			want: true,
		},
		{
			name: "boolean equals true",
			rule: types.Rule{Field: types.FieldEmailOptIn, Operator: types.OpEquals, Value: true},
			want: true,
		},
		{
			name: "boolean not equals",
			rule: types.Rule{Field: types.FieldSMSOptIn, Operator: types.OpNotEquals, Value: true},
			want: true,
		},
		{
			name: "list contains membership",
			rule: types.Rule{Field: types.FieldTreatments, Operator: types.OpContains, Value: "WHITENING"},
			want: true,
		},
		{
			name: "list contains is not substring",
			rule: types.Rule{Field: types.FieldTreatments, Operator: types.OpContains, Value: "WHITE"},
			want: false,
		},
		{
			name: "list not contains",
			rule: types.Rule{Field: types.FieldTags, Operator: types.OpNotContains, Value: "lapsed"},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(tt.rule, fullSnapshot())
			if err != nil {
				t.Fatalf("Evaluate() error = %v, want nil", err)
			}
			if got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

// Test missing-attribute semantics: only null checks match absence
func TestEvaluate_MissingAttributes(t *testing.T) {
	empty := &Snapshot{PatientID: "patient-1", TenantID: "tenant-1"}

	tests := []struct {
		name string
		rule types.Rule
		want bool
	}{
		{
			name: "is null matches missing scalar",
			rule: types.Rule{Field: types.FieldAge, Operator: types.OpIsNull},
			want: true,
		},
		{
			name: "is not null rejects missing scalar",
			rule: types.Rule{Field: types.FieldAge, Operator: types.OpIsNotNull},
			want: false,
		},
		{
			name: "comparison on missing scalar is no match",
			rule: types.Rule{Field: types.FieldAge, Operator: types.OpGreaterThan, Value: 0},
			want: false,
		},
		{
			name: "contains on missing list is no match",
			rule: types.Rule{Field: types.FieldTreatments, Operator: types.OpContains, Value: "CLEANING"},
			want: false,
		},
		{
			name: "is null matches missing payload key",
			rule: types.Rule{Field: types.FieldInvoiceAmount, Operator: types.OpIsNull},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(tt.rule, empty)
			if err != nil {
				t.Fatalf("Evaluate() error = %v, want nil", err)
			}
			if got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

// Test payload-backed fields and numeric-string coercion
func TestEvaluate_PayloadFields(t *testing.T) {
	snapshot := fullSnapshot().WithPayload(map[string]any{
		"INVOICE_AMOUNT":   "150.00", // producers also send numeric strings
		"APPOINTMENT_TYPE": "HYGIENE",
	})

	tests := []struct {
		name string
		rule types.Rule
		want bool
	}{
		{
			name: "numeric string payload compares numerically",
			rule: types.Rule{Field: types.FieldInvoiceAmount, Operator: types.OpGreaterThan, Value: 100},
			want: true,
		},
		{
			name: "payload text equals",
			rule: types.Rule{Field: types.FieldAppointmentType, Operator: types.OpEquals, Value: "HYGIENE"},
			want: true,
		},
		{
			name: "absent payload key is no match",
			rule: types.Rule{Field: types.FieldTreatmentCode, Operator: types.OpEquals, Value: "D1110"},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(tt.rule, &snapshot)
			if err != nil {
				t.Fatalf("Evaluate() error = %v, want nil", err)
			}
			if got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

// Test validation errors
func TestValidate_Errors(t *testing.T) {
	tooMany := make([]any, types.MaxInValues+1)
	for i := range tooMany {
		tooMany[i] = i
	}

	tests := []struct {
		name    string
		rule    types.Rule
		wantErr error
	}{
		{
			name:    "unknown field",
			rule:    types.Rule{Field: "SHOE_SIZE", Operator: types.OpEquals, Value: 42},
			wantErr: types.ErrUnknownField,
		},
		{
			name:    "unknown field is malformed rule",
			rule:    types.Rule{Field: "SHOE_SIZE", Operator: types.OpEquals, Value: 42},
			wantErr: types.ErrMalformedRule,
		},
		{
			name:    "contains on numeric field",
			rule:    types.Rule{Field: types.FieldAge, Operator: types.OpContains, Value: "3"},
			wantErr: types.ErrTypeMismatch,
		},
		{
			name:    "greater than on text field",
			rule:    types.Rule{Field: types.FieldCity, Operator: types.OpGreaterThan, Value: 1},
			wantErr: types.ErrTypeMismatch,
		},
		{
			name:    "between on list field",
			rule:    types.Rule{Field: types.FieldTags, Operator: types.OpBetween, Values: []any{1, 2}},
			wantErr: types.ErrTypeMismatch,
		},
		{
			name:    "between with one bound",
			rule:    types.Rule{Field: types.FieldAge, Operator: types.OpBetween, Values: []any{18}},
			wantErr: types.ErrMalformedRule,
		},
		{
			name:    "between with inverted bounds",
			rule:    types.Rule{Field: types.FieldAge, Operator: types.OpBetween, Values: []any{50, 18}},
			wantErr: types.ErrMalformedRule,
		},
		{
			name:    "between with non-numeric bound",
			rule:    types.Rule{Field: types.FieldAge, Operator: types.OpBetween, Values: []any{18, "old"}},
			wantErr: types.ErrMalformedRule,
		},
		{
			name:    "in with empty list",
			rule:    types.Rule{Field: types.FieldAge, Operator: types.OpIn, Values: []any{}},
			wantErr: types.ErrMalformedRule,
		},
		{
			name:    "in exceeding value limit",
			rule:    types.Rule{Field: types.FieldAge, Operator: types.OpIn, Values: tooMany},
			wantErr: types.ErrTooManyInValues,
		},
		{
			name:    "scalar operator without value",
			rule:    types.Rule{Field: types.FieldAge, Operator: types.OpEquals},
			wantErr: types.ErrMalformedRule,
		},
		{
			name:    "non-numeric value on numeric field",
			rule:    types.Rule{Field: types.FieldAge, Operator: types.OpEquals, Value: "young"},
			wantErr: types.ErrMalformedRule,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.rule)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			// Evaluate surfaces the same error instead of guessing.
			if _, err := Evaluate(tt.rule, fullSnapshot()); !errors.Is(err, tt.wantErr) {
				t.Errorf("Evaluate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_NullChecksIgnoreValues(t *testing.T) {
	rule := types.Rule{Field: types.FieldAge, Operator: types.OpIsNotNull, Value: "ignored"}
	if err := Validate(rule); err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}
	got, err := Evaluate(rule, fullSnapshot())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !got {
		t.Error("Evaluate() = false, want true for present attribute")
	}
}

// Property-based test: evaluation is deterministic and never panics for
// arbitrary numeric comparisons.
func TestEvaluate_PropertyNumericComparisons(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	comparisons := []types.Operator{
		types.OpEquals, types.OpNotEquals,
		types.OpGreaterThan, types.OpGreaterOrEqual,
		types.OpLessThan, types.OpLessOrEqual,
	}

	properties.Property("comparisons agree with float ordering", prop.ForAll(
		func(age float64, bound float64, opIndex int) bool {
			op := comparisons[opIndex%len(comparisons)]
			snapshot := &Snapshot{Age: &age}
			rule := types.Rule{Field: types.FieldAge, Operator: op, Value: bound}

			got, err := Evaluate(rule, snapshot)
			if err != nil {
				return false
			}

			var want bool
			switch op {
			case types.OpEquals:
				want = age == bound
			case types.OpNotEquals:
				want = age != bound
			case types.OpGreaterThan:
				want = age > bound
			case types.OpGreaterOrEqual:
				want = age >= bound
			case types.OpLessThan:
				want = age < bound
			case types.OpLessOrEqual:
				want = age <= bound
			}
			return got == want
		},
		gen.Float64Range(-1e6, 1e6),
		gen.Float64Range(-1e6, 1e6),
		gen.IntRange(0, len(comparisons)-1),
	))

	properties.TestingRun(t)
}

// Property-based test: BETWEEN agrees with its two inequalities.
func TestEvaluate_PropertyBetween(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("BETWEEN is the conjunction of >= low and <= high", prop.ForAll(
		func(value, a, b float64) bool {
			low, high := a, b
			if low > high {
				low, high = high, low
			}
			snapshot := &Snapshot{Age: &value}
			rule := types.Rule{Field: types.FieldAge, Operator: types.OpBetween, Values: []any{low, high}}

			got, err := Evaluate(rule, snapshot)
			if err != nil {
				return false
			}
			return got == (value >= low && value <= high)
		},
		gen.Float64Range(-1e6, 1e6),
		gen.Float64Range(-1e6, 1e6),
		gen.Float64Range(-1e6, 1e6),
	))

	properties.TestingRun(t)
}
