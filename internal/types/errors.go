package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for Engage operations. Callers match with errors.Is;
// wrapping adds context with %w without losing the class.
var (
	// ErrMalformedRule indicates a rule violates shape constraints
	// (e.g. BETWEEN without two ordered bounds, IN without a list).
	ErrMalformedRule = errors.New("malformed rule")

	// ErrTypeMismatch indicates an operator incompatible with the
	// attribute's type (e.g. CONTAINS on a numeric field).
	ErrTypeMismatch = errors.New("operator incompatible with field type")

	// ErrUnknownField indicates a rule references a field outside the
	// closed attribute catalog. Matches ErrMalformedRule under errors.Is.
	ErrUnknownField = fmt.Errorf("%w: unknown rule field", ErrMalformedRule)

	// ErrGroupTooDeep indicates rule group nesting exceeds MaxGroupDepth.
	// Matches ErrMalformedRule under errors.Is.
	ErrGroupTooDeep = fmt.Errorf("%w: group nesting exceeds maximum depth", ErrMalformedRule)

	// ErrTooManyInValues indicates an IN/NOT_IN operator exceeds MaxInValues.
	// Matches ErrMalformedRule under errors.Is.
	ErrTooManyInValues = fmt.Errorf("%w: IN operator has too many values", ErrMalformedRule)

	// ErrInsufficientBalance indicates a redemption larger than the
	// account's current point balance.
	ErrInsufficientBalance = errors.New("insufficient point balance")

	// ErrAccountSuspended indicates a ledger mutation against a suspended account.
	ErrAccountSuspended = errors.New("loyalty account suspended")

	// ErrAccountInactive indicates a ledger mutation against a closed account.
	ErrAccountInactive = errors.New("loyalty account inactive")

	// ErrActionTimeout indicates an action exceeded its configured deadline.
	// Treated as failed-and-retryable, never as a crash.
	ErrActionTimeout = errors.New("action timed out")

	// ErrActionFailed indicates an action attempt failed.
	ErrActionFailed = errors.New("action failed")

	// ErrDedupConflict indicates a duplicate delivery of a trigger event
	// already claimed by an earlier execution.
	ErrDedupConflict = errors.New("execution already exists for trigger event")

	// ErrNotFound indicates an absent record.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a concurrent-update conflict (optimistic retry).
	ErrConflict = errors.New("concurrent update conflict")
)
