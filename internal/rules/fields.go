// internal/rules/fields.go
package rules

import (
	"strconv"
	"strings"

	"github.com/practicehq/engage/internal/types"
)

/*
 * Closed field catalog.
 *
 * Maps every types.Field to a typed accessor and a field type. Rules can
 * only reference catalog fields; an unknown field is ErrUnknownField at
 * validation time, never a silent non-match at evaluation time.
 *
 * Accessors return (value, present). A nil scalar pointer or an absent
 * payload key reports present=false, which only the null-check operators
 * treat as a match.
 *
 * Payload-backed fields (invoice amount, appointment type) coerce their raw
 * JSON value on access: numbers arrive as float64, but producers also send
 * numeric strings, so NUMERIC payload fields accept both.
 */

// FieldType classifies catalog fields for operator compatibility checks.
type FieldType int

const (
	FieldNumeric FieldType = iota
	FieldText
	FieldBoolean
	FieldList
)

// fieldSpec binds one catalog field to its type and accessor.
type fieldSpec struct {
	Type FieldType
	Get  func(s *Snapshot) (any, bool)
}

// fieldCatalog is the closed dispatch table from field key to typed accessor.
var fieldCatalog = map[types.Field]fieldSpec{
	types.FieldAge:                 {FieldNumeric, func(s *Snapshot) (any, bool) { return numeric(s.Age) }},
	types.FieldVisitCount:          {FieldNumeric, func(s *Snapshot) (any, bool) { return numeric(s.VisitCount) }},
	types.FieldLastVisitDays:       {FieldNumeric, func(s *Snapshot) (any, bool) { return numeric(s.LastVisitDays) }},
	types.FieldNextAppointmentDays: {FieldNumeric, func(s *Snapshot) (any, bool) { return numeric(s.NextAppointmentDays) }},
	types.FieldTotalSpent:          {FieldNumeric, func(s *Snapshot) (any, bool) { return numeric(s.TotalSpent) }},
	types.FieldOutstandingBalance:  {FieldNumeric, func(s *Snapshot) (any, bool) { return numeric(s.OutstandingBalance) }},
	types.FieldLoyaltyPoints:       {FieldNumeric, func(s *Snapshot) (any, bool) { return numeric(s.LoyaltyPoints) }},

	types.FieldGender:      {FieldText, func(s *Snapshot) (any, bool) { return text(s.Gender) }},
	types.FieldCity:        {FieldText, func(s *Snapshot) (any, bool) { return text(s.City) }},
	types.FieldLoyaltyTier: {FieldText, func(s *Snapshot) (any, bool) { return text(s.LoyaltyTier) }},

	types.FieldEmailOptIn: {FieldBoolean, func(s *Snapshot) (any, bool) { return boolean(s.EmailOptIn) }},
	types.FieldSMSOptIn:   {FieldBoolean, func(s *Snapshot) (any, bool) { return boolean(s.SMSOptIn) }},

	types.FieldTreatments: {FieldList, func(s *Snapshot) (any, bool) { return list(s.Treatments) }},
	types.FieldTags:       {FieldList, func(s *Snapshot) (any, bool) { return list(s.Tags) }},
	types.FieldSegments:   {FieldList, func(s *Snapshot) (any, bool) { return list(s.Segments) }},

	types.FieldInvoiceAmount:   {FieldNumeric, payloadNumeric(string(types.FieldInvoiceAmount))},
	types.FieldAppointmentType: {FieldText, payloadText(string(types.FieldAppointmentType))},
	types.FieldTreatmentCode:   {FieldText, payloadText(string(types.FieldTreatmentCode))},
}

// FieldTypeOf returns the catalog type for a field.
func FieldTypeOf(f types.Field) (FieldType, bool) {
	spec, ok := fieldCatalog[f]
	return spec.Type, ok
}

func numeric(p *float64) (any, bool) {
	if p == nil {
		return nil, false
	}
	return *p, true
}

func text(p *string) (any, bool) {
	if p == nil {
		return nil, false
	}
	return *p, true
}

func boolean(p *bool) (any, bool) {
	if p == nil {
		return nil, false
	}
	return *p, true
}

func list(v []string) (any, bool) {
	if v == nil {
		return nil, false
	}
	return v, true
}

// payloadNumeric builds an accessor for a numeric trigger payload key.
func payloadNumeric(key string) func(*Snapshot) (any, bool) {
	return func(s *Snapshot) (any, bool) {
		raw, ok := s.Payload[key]
		if !ok || raw == nil {
			return nil, false
		}
		f, ok := toFloat64(raw)
		if !ok {
			return nil, false
		}
		return f, true
	}
}

// payloadText builds an accessor for a text trigger payload key.
func payloadText(key string) func(*Snapshot) (any, bool) {
	return func(s *Snapshot) (any, bool) {
		raw, ok := s.Payload[key]
		if !ok || raw == nil {
			return nil, false
		}
		str, ok := raw.(string)
		if !ok {
			return nil, false
		}
		return str, true
	}
}

// toFloat64 converts a value to float64 if it is numeric.
// Handles float64, int, int64 from JSON unmarshaling plus numeric strings
// (whitespace-trimmed; whitespace-only strings are not valid numbers).
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		trimmed := strings.TrimSpace(n)
		if trimmed == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
