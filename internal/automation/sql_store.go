// internal/automation/sql_store.go
package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/practicehq/engage/internal/core/db"
	"github.com/practicehq/engage/internal/types"
)

// SQLRuleStore is a RuleStore backed by SQLite or PostgreSQL. Conditions
// and actions are stored as JSON columns; the ActionSpec codec restores
// the typed params union on read.
type SQLRuleStore struct {
	queries *db.Queries
}

// NewSQLRuleStore creates a SQL-backed rule store.
func NewSQLRuleStore(queries *db.Queries) *SQLRuleStore {
	return &SQLRuleStore{queries: queries}
}

type ruleRow struct {
	ID                    string    `db:"id"`
	TenantID              string    `db:"tenant_id"`
	Name                  string    `db:"name"`
	TriggerType           string    `db:"trigger_type"`
	Conditions            string    `db:"conditions"`
	Actions               string    `db:"actions"`
	IsActive              bool      `db:"is_active"`
	IsPaused              bool      `db:"is_paused"`
	MaxExecsPerPatientDay int       `db:"max_execs_per_patient_per_day"`
	ExecutionDelaySeconds int       `db:"execution_delay_seconds"`
	CreatedAt             time.Time `db:"created_at"`
	UpdatedAt             time.Time `db:"updated_at"`
}

func (r ruleRow) toRule() (*types.AutomationRule, error) {
	rule := &types.AutomationRule{
		ID:                            types.RuleID(r.ID),
		TenantID:                      types.TenantID(r.TenantID),
		Name:                          r.Name,
		TriggerType:                   types.TriggerType(r.TriggerType),
		IsActive:                      r.IsActive,
		IsPaused:                      r.IsPaused,
		MaxExecutionsPerPatientPerDay: r.MaxExecsPerPatientDay,
		ExecutionDelay:                time.Duration(r.ExecutionDelaySeconds) * time.Second,
		CreatedAt:                     r.CreatedAt,
		UpdatedAt:                     r.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(r.Conditions), &rule.Conditions); err != nil {
		return nil, fmt.Errorf("decoding conditions for rule %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.Actions), &rule.Actions); err != nil {
		return nil, fmt.Errorf("decoding actions for rule %s: %w", r.ID, err)
	}
	return rule, nil
}

func (s *SQLRuleStore) Put(ctx context.Context, rule *types.AutomationRule) error {
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("encoding conditions: %w", err)
	}
	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return fmt.Errorf("encoding actions: %w", err)
	}

	_, err = s.queries.Exec(ctx, "automation-rule-upsert",
		rule.ID, rule.TenantID, rule.Name, rule.TriggerType,
		string(conditions), string(actions),
		rule.IsActive, rule.IsPaused,
		rule.MaxExecutionsPerPatientPerDay,
		int(rule.ExecutionDelay/time.Second),
		rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting rule: %w", err)
	}
	return nil
}

func (s *SQLRuleStore) Get(ctx context.Context, tenant types.TenantID, id types.RuleID) (*types.AutomationRule, error) {
	var row ruleRow
	err := s.queries.Get(ctx, "automation-rule-get", &row, tenant, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: rule %s", types.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying rule: %w", err)
	}
	return row.toRule()
}

func (s *SQLRuleStore) ByTrigger(ctx context.Context, tenant types.TenantID, trigger types.TriggerType) ([]*types.AutomationRule, error) {
	var rows []ruleRow
	if err := s.queries.Select(ctx, "automation-rules-by-trigger", &rows, tenant, trigger); err != nil {
		return nil, fmt.Errorf("querying rules: %w", err)
	}
	out := make([]*types.AutomationRule, 0, len(rows))
	for _, row := range rows {
		rule, err := row.toRule()
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, nil
}

func (s *SQLRuleStore) SetState(ctx context.Context, tenant types.TenantID, id types.RuleID, active, paused bool) error {
	result, err := s.queries.Exec(ctx, "automation-rule-set-state",
		active, paused, time.Now().UTC(), tenant, id)
	if err != nil {
		return fmt.Errorf("updating rule state: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: rule %s", types.ErrNotFound, id)
	}
	return nil
}

// SQLExecutionStore is an ExecutionStore backed by SQLite or PostgreSQL.
// Dedup rides the unique index on (rule, event, patient, retry_attempt);
// the daily counter rides an atomic upsert.
type SQLExecutionStore struct {
	queries *db.Queries
}

// NewSQLExecutionStore creates a SQL-backed execution store.
func NewSQLExecutionStore(queries *db.Queries) *SQLExecutionStore {
	return &SQLExecutionStore{queries: queries}
}

type executionRow struct {
	ID                string         `db:"id"`
	TenantID          string         `db:"tenant_id"`
	RuleID            string         `db:"rule_id"`
	EventID           string         `db:"event_id"`
	PatientID         string         `db:"patient_id"`
	Status            string         `db:"status"`
	SkipReason        string         `db:"skip_reason"`
	ConditionsMet     bool           `db:"conditions_met"`
	ConditionError    string         `db:"condition_error"`
	ActionResults     string         `db:"action_results"`
	RetryAttempt      int            `db:"retry_attempt"`
	ParentExecutionID sql.NullString `db:"parent_execution_id"`
	StartedAt         time.Time      `db:"started_at"`
	CompletedAt       sql.NullTime   `db:"completed_at"`
}

func (r executionRow) toExecution() (*types.AutomationExecution, error) {
	exec := &types.AutomationExecution{
		ID:             types.ExecutionID(r.ID),
		TenantID:       types.TenantID(r.TenantID),
		RuleID:         types.RuleID(r.RuleID),
		EventID:        types.EventID(r.EventID),
		PatientID:      types.PatientID(r.PatientID),
		Status:         types.ExecutionStatus(r.Status),
		SkipReason:     types.SkipReason(r.SkipReason),
		ConditionsMet:  r.ConditionsMet,
		ConditionError: r.ConditionError,
		RetryAttempt:   r.RetryAttempt,
		StartedAt:      r.StartedAt,
	}
	if err := json.Unmarshal([]byte(r.ActionResults), &exec.ActionResults); err != nil {
		return nil, fmt.Errorf("decoding action results for execution %s: %w", r.ID, err)
	}
	if r.ParentExecutionID.Valid {
		parent := types.ExecutionID(r.ParentExecutionID.String)
		exec.ParentExecutionID = &parent
	}
	if r.CompletedAt.Valid {
		completed := r.CompletedAt.Time
		exec.CompletedAt = &completed
	}
	return exec, nil
}

func (s *SQLExecutionStore) Insert(ctx context.Context, exec *types.AutomationExecution) error {
	results, err := json.Marshal(nonNilResults(exec.ActionResults))
	if err != nil {
		return fmt.Errorf("encoding action results: %w", err)
	}

	var parent sql.NullString
	if exec.ParentExecutionID != nil {
		parent = sql.NullString{String: string(*exec.ParentExecutionID), Valid: true}
	}
	var completed sql.NullTime
	if exec.CompletedAt != nil {
		completed = sql.NullTime{Time: *exec.CompletedAt, Valid: true}
	}

	result, err := s.queries.Exec(ctx, "execution-insert",
		exec.ID, exec.TenantID, exec.RuleID, exec.EventID, exec.PatientID,
		exec.Status, exec.SkipReason, exec.ConditionsMet, exec.ConditionError,
		string(results), exec.RetryAttempt, parent, exec.StartedAt, completed)
	if err != nil {
		return fmt.Errorf("inserting execution: %w", err)
	}
	// ON CONFLICT DO NOTHING reports zero rows for a duplicate delivery.
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: rule %s event %s", types.ErrDedupConflict, exec.RuleID, exec.EventID)
	}
	return nil
}

func (s *SQLExecutionStore) Update(ctx context.Context, exec *types.AutomationExecution) error {
	results, err := json.Marshal(nonNilResults(exec.ActionResults))
	if err != nil {
		return fmt.Errorf("encoding action results: %w", err)
	}
	var completed sql.NullTime
	if exec.CompletedAt != nil {
		completed = sql.NullTime{Time: *exec.CompletedAt, Valid: true}
	}

	result, err := s.queries.Exec(ctx, "execution-update",
		exec.Status, exec.SkipReason, exec.ConditionsMet, exec.ConditionError,
		string(results), completed, exec.ID)
	if err != nil {
		return fmt.Errorf("updating execution: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: execution %s", types.ErrNotFound, exec.ID)
	}
	return nil
}

func (s *SQLExecutionStore) Get(ctx context.Context, id types.ExecutionID) (*types.AutomationExecution, error) {
	var row executionRow
	err := s.queries.Get(ctx, "execution-get", &row, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: execution %s", types.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying execution: %w", err)
	}
	return row.toExecution()
}

func (s *SQLExecutionStore) ByRule(ctx context.Context, tenant types.TenantID, rule types.RuleID) ([]*types.AutomationExecution, error) {
	var rows []executionRow
	if err := s.queries.Select(ctx, "executions-by-rule", &rows, tenant, rule); err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	out := make([]*types.AutomationExecution, 0, len(rows))
	for _, row := range rows {
		exec, err := row.toExecution()
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	return out, nil
}

func (s *SQLExecutionStore) IncrementDailyCount(ctx context.Context, tenant types.TenantID, rule types.RuleID, patient types.PatientID, day string) (int, error) {
	var count int
	if err := s.queries.Get(ctx, "counter-increment", &count, tenant, rule, patient, day); err != nil {
		return 0, fmt.Errorf("incrementing counter: %w", err)
	}
	return count, nil
}

func (s *SQLExecutionStore) DailyCount(ctx context.Context, rule types.RuleID, patient types.PatientID, day string) (int, error) {
	var count int
	err := s.queries.Get(ctx, "counter-get", &count, rule, patient, day)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("querying counter: %w", err)
	}
	return count, nil
}

// nonNilResults keeps the JSON column a [] instead of null for executions
// that never ran actions.
func nonNilResults(results []types.ActionResult) []types.ActionResult {
	if results == nil {
		return []types.ActionResult{}
	}
	return results
}
