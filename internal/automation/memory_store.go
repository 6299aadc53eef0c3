// internal/automation/memory_store.go
package automation

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/practicehq/engage/internal/types"
)

type ruleKey struct {
	tenant types.TenantID
	id     types.RuleID
}

// MemoryRuleStore is an in-memory RuleStore for tests and single-process use.
type MemoryRuleStore struct {
	mu    sync.RWMutex
	rules map[ruleKey]types.AutomationRule
}

// NewMemoryRuleStore creates an empty in-memory rule store.
func NewMemoryRuleStore() *MemoryRuleStore {
	return &MemoryRuleStore{rules: make(map[ruleKey]types.AutomationRule)}
}

func (s *MemoryRuleStore) Put(_ context.Context, rule *types.AutomationRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[ruleKey{rule.TenantID, rule.ID}] = cloneRule(rule)
	return nil
}

func (s *MemoryRuleStore) Get(_ context.Context, tenant types.TenantID, id types.RuleID) (*types.AutomationRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.rules[ruleKey{tenant, id}]
	if !ok {
		return nil, fmt.Errorf("%w: rule %s", types.ErrNotFound, id)
	}
	out := cloneRule(&rule)
	return &out, nil
}

func (s *MemoryRuleStore) ByTrigger(_ context.Context, tenant types.TenantID, trigger types.TriggerType) ([]*types.AutomationRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.AutomationRule
	for key, rule := range s.rules {
		if key.tenant == tenant && rule.TriggerType == trigger {
			clone := cloneRule(&rule)
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryRuleStore) SetState(_ context.Context, tenant types.TenantID, id types.RuleID, active, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ruleKey{tenant, id}
	rule, ok := s.rules[key]
	if !ok {
		return fmt.Errorf("%w: rule %s", types.ErrNotFound, id)
	}
	rule.IsActive = active
	rule.IsPaused = paused
	s.rules[key] = rule
	return nil
}

func cloneRule(rule *types.AutomationRule) types.AutomationRule {
	out := *rule
	out.Conditions = append([]types.Rule(nil), rule.Conditions...)
	out.Actions = append([]types.ActionSpec(nil), rule.Actions...)
	return out
}

type dedupKey struct {
	rule    types.RuleID
	event   types.EventID
	patient types.PatientID
	attempt int
}

type counterKey struct {
	rule    types.RuleID
	patient types.PatientID
	day     string
}

// MemoryExecutionStore is an in-memory ExecutionStore. Its dedup index and
// counter map mirror the unique constraints the SQL schema enforces.
type MemoryExecutionStore struct {
	mu       sync.Mutex
	execs    map[types.ExecutionID]types.AutomationExecution
	order    []types.ExecutionID
	dedup    map[dedupKey]types.ExecutionID
	counters map[counterKey]int
}

// NewMemoryExecutionStore creates an empty in-memory execution store.
func NewMemoryExecutionStore() *MemoryExecutionStore {
	return &MemoryExecutionStore{
		execs:    make(map[types.ExecutionID]types.AutomationExecution),
		dedup:    make(map[dedupKey]types.ExecutionID),
		counters: make(map[counterKey]int),
	}
}

func (s *MemoryExecutionStore) Insert(_ context.Context, exec *types.AutomationExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := dedupKey{exec.RuleID, exec.EventID, exec.PatientID, exec.RetryAttempt}
	if _, exists := s.dedup[key]; exists {
		return fmt.Errorf("%w: rule %s event %s", types.ErrDedupConflict, exec.RuleID, exec.EventID)
	}
	s.dedup[key] = exec.ID
	s.execs[exec.ID] = cloneExecution(exec)
	s.order = append(s.order, exec.ID)
	return nil
}

func (s *MemoryExecutionStore) Update(_ context.Context, exec *types.AutomationExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.execs[exec.ID]; !ok {
		return fmt.Errorf("%w: execution %s", types.ErrNotFound, exec.ID)
	}
	s.execs[exec.ID] = cloneExecution(exec)
	return nil
}

func (s *MemoryExecutionStore) Get(_ context.Context, id types.ExecutionID) (*types.AutomationExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exec, ok := s.execs[id]
	if !ok {
		return nil, fmt.Errorf("%w: execution %s", types.ErrNotFound, id)
	}
	out := cloneExecution(&exec)
	return &out, nil
}

func (s *MemoryExecutionStore) ByRule(_ context.Context, tenant types.TenantID, rule types.RuleID) ([]*types.AutomationExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*types.AutomationExecution
	for _, id := range s.order {
		exec := s.execs[id]
		if exec.TenantID == tenant && exec.RuleID == rule {
			clone := cloneExecution(&exec)
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *MemoryExecutionStore) IncrementDailyCount(_ context.Context, _ types.TenantID, rule types.RuleID, patient types.PatientID, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := counterKey{rule, patient, day}
	s.counters[key]++
	return s.counters[key], nil
}

func (s *MemoryExecutionStore) DailyCount(_ context.Context, rule types.RuleID, patient types.PatientID, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[counterKey{rule, patient, day}], nil
}

func cloneExecution(exec *types.AutomationExecution) types.AutomationExecution {
	out := *exec
	out.ActionResults = append([]types.ActionResult(nil), exec.ActionResults...)
	if exec.ParentExecutionID != nil {
		parent := *exec.ParentExecutionID
		out.ParentExecutionID = &parent
	}
	if exec.CompletedAt != nil {
		completed := *exec.CompletedAt
		out.CompletedAt = &completed
	}
	return out
}
