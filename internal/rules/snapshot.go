// internal/rules/snapshot.go
package rules

import "github.com/practicehq/engage/internal/types"

/*
 * Patient attribute snapshot.
 *
 * Snapshot is the read-only view of one patient that rules evaluate against.
 * Scalar attributes are pointers so "unknown" is distinguishable from zero:
 * a patient with no recorded visits has VisitCount nil, not 0.
 *
 * Trigger payload attributes live in Payload and are only present for the
 * duration of one automation dispatch; segment evaluation uses snapshots
 * without payload data.
 */

// Snapshot is one patient's attribute view at evaluation time.
// Supplied by the patient/billing/scheduling domains via AttributeSource.
type Snapshot struct {
	PatientID types.PatientID
	TenantID  types.TenantID

	Age                 *float64
	Gender              *string
	City                *string
	VisitCount          *float64
	LastVisitDays       *float64
	NextAppointmentDays *float64
	TotalSpent          *float64
	OutstandingBalance  *float64
	LoyaltyPoints       *float64
	LoyaltyTier         *string
	EmailOptIn          *bool
	SMSOptIn            *bool

	Treatments []string
	Tags       []string
	Segments   []string // segment IDs the patient currently belongs to

	// Payload carries trigger event attributes (e.g. invoice amount) during
	// automation condition evaluation. Nil for segment evaluation.
	Payload map[string]any
}

// WithPayload returns a copy of the snapshot carrying trigger payload data.
func (s Snapshot) WithPayload(payload map[string]any) Snapshot {
	s.Payload = payload
	return s
}
