package types

import (
	"time"

	"github.com/google/uuid"
)

// NewPatientID generates a UUIDv7 patient identifier.
// Time-ordered IDs ensure sequential inserts cluster in B-tree pages.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewPatientID() PatientID {
	return PatientID(uuid.Must(uuid.NewV7()).String())
}

// NewSegmentID generates a UUIDv7 segment identifier.
func NewSegmentID() SegmentID {
	return SegmentID(uuid.Must(uuid.NewV7()).String())
}

// NewRuleID generates a UUIDv7 automation rule identifier.
func NewRuleID() RuleID {
	return RuleID(uuid.Must(uuid.NewV7()).String())
}

// NewExecutionID generates a UUIDv7 execution identifier.
func NewExecutionID() ExecutionID {
	return ExecutionID(uuid.Must(uuid.NewV7()).String())
}

// NewAccountID generates a UUIDv7 loyalty account identifier.
func NewAccountID() AccountID {
	return AccountID(uuid.Must(uuid.NewV7()).String())
}

// NewTransactionID generates a UUIDv7 loyalty transaction identifier.
func NewTransactionID() TransactionID {
	return TransactionID(uuid.Must(uuid.NewV7()).String())
}

// ParseEventID validates and converts a string to EventID.
// Rejects malformed UUIDs to prevent invalid IDs from entering the system.
func ParseEventID(s string) (EventID, error) {
	_, err := uuid.Parse(s)
	if err != nil {
		return "", err
	}
	return EventID(s), nil
}

// ParsePatientID validates and converts a string to PatientID.
func ParsePatientID(s string) (PatientID, error) {
	_, err := uuid.Parse(s)
	if err != nil {
		return "", err
	}
	return PatientID(s), nil
}

// TransactionIDTime extracts the timestamp embedded in a UUIDv7 ID.
// Used as the creation-order tiebreak when two accruals share an expiry date.
// Returns zero time for invalid UUIDs; caller should check IsZero().
func TransactionIDTime(id TransactionID) time.Time {
	u, err := uuid.Parse(string(id))
	if err != nil {
		return time.Time{}
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec)
}
