// internal/automation/store.go
package automation

import (
	"context"

	"github.com/practicehq/engage/internal/types"
)

// RuleStore provides tenant-scoped automation rule persistence.
// Rules referenced by execution history are deactivated, never deleted.
type RuleStore interface {
	// Put inserts or replaces a rule definition.
	Put(ctx context.Context, rule *types.AutomationRule) error
	// Get returns one rule.
	Get(ctx context.Context, tenant types.TenantID, id types.RuleID) (*types.AutomationRule, error)
	// ByTrigger returns all rules registered for a trigger type, active or
	// not; the engine decides what a paused rule does with an event.
	ByTrigger(ctx context.Context, tenant types.TenantID, trigger types.TriggerType) ([]*types.AutomationRule, error)
	// SetState flips the active/paused flags.
	SetState(ctx context.Context, tenant types.TenantID, id types.RuleID, active, paused bool) error
}

// ExecutionStore provides the execution audit log and the per-patient daily
// counters behind rule caps.
type ExecutionStore interface {
	// Insert persists a new execution record. Returns types.ErrDedupConflict
	// when an execution already exists for the same
	// (rule, event, patient, retryAttempt), which is how duplicate trigger
	// deliveries are collapsed.
	Insert(ctx context.Context, exec *types.AutomationExecution) error
	// Update rewrites the mutable fields of an execution
	// (status, results, completion).
	Update(ctx context.Context, exec *types.AutomationExecution) error
	// Get returns one execution.
	Get(ctx context.Context, id types.ExecutionID) (*types.AutomationExecution, error)
	// ByRule returns a rule's executions in start order.
	ByRule(ctx context.Context, tenant types.TenantID, rule types.RuleID) ([]*types.AutomationExecution, error)

	// IncrementDailyCount atomically increments and returns the rule's
	// per-patient counter for a calendar day (formatted 2006-01-02).
	// Atomic increment-and-read is what keeps two concurrent dispatches
	// from both passing a cap of one.
	IncrementDailyCount(ctx context.Context, tenant types.TenantID, rule types.RuleID, patient types.PatientID, day string) (int, error)
	// DailyCount reads the counter without incrementing.
	DailyCount(ctx context.Context, rule types.RuleID, patient types.PatientID, day string) (int, error)
}
