// Package types provides domain models shared across Engage components.
//
// Zero-dependency design: types.go and errors.go use only the standard
// library so the rule evaluator and ledger can be embedded without pulling
// in storage or transport dependencies. ID utilities in ids.go import uuid
// but are isolated for selective inclusion.
package types

// TenantID identifies one practice organization. All persisted records are
// scoped to a tenant; cross-tenant reads are a programming error.
type TenantID string

// PatientID represents a UUIDv7 patient identifier.
// String alias enables type safety while maintaining JSON string serialization.
type PatientID string

// SegmentID represents a UUIDv7 segment identifier.
type SegmentID string

// RuleID represents a UUIDv7 automation rule identifier.
type RuleID string

// ActionID identifies one action within an automation rule.
type ActionID string

// ExecutionID represents a UUIDv7 automation execution identifier.
// UUIDv7 time-ordering ensures sequential IDs cluster in B-tree indexes.
type ExecutionID string

// AccountID represents a UUIDv7 loyalty account identifier.
type AccountID string

// TransactionID represents a UUIDv7 loyalty transaction identifier.
// Time-ordered IDs double as the creation-order tiebreak for FIFO expiry.
type TransactionID string

// EventID identifies one trigger event. Assigned by the producing bounded
// context and stable across redeliveries; the engine uses it for dedup.
type EventID string

// DeliveryID is the provider-assigned identifier of one dispatched message.
type DeliveryID string

// Resource limits enforced at rule compile/validation time to keep
// evaluation costs bounded in production.
const (
	// MaxGroupDepth bounds rule group nesting (group -> subgroup -> subgroup).
	// Three levels cover every observed segment definition; deeper trees are
	// almost always authoring mistakes.
	MaxGroupDepth = 3

	// MaxInValues limits IN/NOT_IN operator list size to prevent quadratic
	// comparison cost.
	MaxInValues = 64

	// MaxConditionsPerRule limits the implicit-AND condition list on an
	// automation rule.
	MaxConditionsPerRule = 32

	// MaxActionsPerRule bounds the action pipeline length.
	MaxActionsPerRule = 16

	// MaxRetryAttempts caps per-action retry configuration regardless of
	// what the rule author requested.
	MaxRetryAttempts = 10

	// MaxPayloadKeys limits trigger payload size to bound memory per event.
	MaxPayloadKeys = 64
)
