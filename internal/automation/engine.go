// internal/automation/engine.go
package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/practicehq/engage/internal/clock"
	"github.com/practicehq/engage/internal/rules"
	"github.com/practicehq/engage/internal/segments"
	"github.com/practicehq/engage/internal/types"
)

/*
 * Trigger dispatch.
 *
 * HandleTrigger fans one event out to every rule registered for its trigger
 * type, each rule's execution on its own goroutine: one rule sleeping in an
 * execution delay or WAIT action never holds up the others. Per rule the
 * dispatch sequence is:
 *
 *   1. dedup     — insert the pending execution; a conflict on
 *                  (rule, event, patient, retryAttempt) means a duplicate
 *                  delivery and the event is dropped for this rule
 *   2. daily cap — atomic increment-and-read of the per-patient counter;
 *                  over the cap records a terminal skipped execution
 *   3. delay     — optional fixed wait before evaluation
 *   4. conditions— implicit AND over the rule's conditions, evaluated
 *                  against the patient snapshot enriched with the event
 *                  payload; unmet conditions end the execution successfully
 *                  with zero actions
 *   5. actions   — the ordered pipeline; its outcome is the execution's
 *                  terminal status
 *
 * Pause is a dispatch-time gate: a paused rule records skipped executions
 * for new events, but executions already past the gate (including ones
 * sitting in a WAIT action) run to completion.
 *
 * Action failures are terminal audit records, not errors: HandleTrigger
 * only returns an error for infrastructure faults (store unavailable), so
 * the transport can redeliver without double-running actions.
 */

// Engine dispatches trigger events to automation rules.
type Engine struct {
	rules    RuleStore
	execs    ExecutionStore
	attrs    segments.AttributeSource
	pipeline *Pipeline
	clock    clock.Clock
	logger   *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine creates an automation engine.
func NewEngine(ruleStore RuleStore, execStore ExecutionStore, attrs segments.AttributeSource, pipeline *Pipeline, clk clock.Clock, logger *slog.Logger) *Engine {
	return &Engine{
		rules:    ruleStore,
		execs:    execStore,
		attrs:    attrs,
		pipeline: pipeline,
		clock:    clk,
		logger:   logger.With("component", "engine"),
		sleep:    wait,
	}
}

// HandleTrigger dispatches one event to all rules registered for its
// trigger type. Safe to call with duplicate deliveries of the same event.
func (e *Engine) HandleTrigger(ctx context.Context, event types.TriggerEvent) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid trigger event: %w", err)
	}

	matched, err := e.rules.ByTrigger(ctx, event.TenantID, event.Type)
	if err != nil {
		return fmt.Errorf("loading rules for %s: %w", event.Type, err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, rule := range matched {
		if !rule.IsActive {
			continue
		}
		rule := rule
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.dispatch(ctx, event, rule); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("rule %s: %w", rule.ID, err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (e *Engine) dispatch(ctx context.Context, event types.TriggerEvent, rule *types.AutomationRule) error {
	exec := &types.AutomationExecution{
		ID:        types.NewExecutionID(),
		TenantID:  event.TenantID,
		RuleID:    rule.ID,
		EventID:   event.ID,
		PatientID: event.PatientID,
		Status:    types.ExecPending,
		StartedAt: e.clock.Now(),
	}

	if rule.IsPaused {
		exec.Status = types.ExecSkipped
		exec.SkipReason = types.SkipRulePaused
		now := e.clock.Now()
		exec.CompletedAt = &now
		if err := e.execs.Insert(ctx, exec); err != nil {
			if errors.Is(err, types.ErrDedupConflict) {
				return nil
			}
			return fmt.Errorf("recording skipped execution: %w", err)
		}
		e.logger.Info("execution skipped, rule paused",
			"rule_id", rule.ID, "event_id", event.ID, "patient_id", event.PatientID)
		return nil
	}

	if err := e.execs.Insert(ctx, exec); err != nil {
		if errors.Is(err, types.ErrDedupConflict) {
			e.logger.Debug("duplicate trigger delivery dropped",
				"rule_id", rule.ID, "event_id", event.ID, "patient_id", event.PatientID)
			return nil
		}
		return fmt.Errorf("inserting execution: %w", err)
	}

	if rule.MaxExecutionsPerPatientPerDay > 0 {
		day := e.clock.Now().Format("2006-01-02")
		count, err := e.execs.IncrementDailyCount(ctx, event.TenantID, rule.ID, event.PatientID, day)
		if err != nil {
			return fmt.Errorf("incrementing daily counter: %w", err)
		}
		if count > rule.MaxExecutionsPerPatientPerDay {
			e.logger.Info("execution skipped, daily cap reached",
				"rule_id", rule.ID, "patient_id", event.PatientID,
				"count", count, "cap", rule.MaxExecutionsPerPatientPerDay)
			return e.finishSkipped(ctx, exec, types.SkipDailyCap)
		}
	}

	if rule.ExecutionDelay > 0 {
		if err := e.sleep(ctx, rule.ExecutionDelay); err != nil {
			return fmt.Errorf("execution delay interrupted: %w", err)
		}
	}

	return e.run(ctx, event, rule, exec)
}

func (e *Engine) run(ctx context.Context, event types.TriggerEvent, rule *types.AutomationRule, exec *types.AutomationExecution) error {
	met, condErr := e.conditionsMet(ctx, event, rule)
	if condErr != nil {
		// A condition that cannot evaluate (malformed rule, attribute
		// source down) fails the execution; it never silently passes.
		exec.Status = types.ExecFailed
		exec.ConditionError = condErr.Error()
		e.logger.Error("condition evaluation failed",
			"rule_id", rule.ID, "event_id", event.ID, "error", condErr)
		return e.finish(ctx, exec)
	}
	exec.ConditionsMet = met
	if !met {
		// Unmet conditions are a normal outcome: the event simply did not
		// qualify. No actions run.
		exec.Status = types.ExecSuccess
		return e.finish(ctx, exec)
	}

	exec.Status = types.ExecRunning
	if err := e.execs.Update(ctx, exec); err != nil {
		return fmt.Errorf("marking execution running: %w", err)
	}

	results, status := e.pipeline.Run(ctx, event, rule.Actions)
	exec.ActionResults = results
	exec.Status = status

	e.logger.Info("execution completed",
		"rule_id", rule.ID, "event_id", event.ID, "patient_id", event.PatientID,
		"status", status, "actions", len(results))
	return e.finish(ctx, exec)
}

func (e *Engine) conditionsMet(ctx context.Context, event types.TriggerEvent, rule *types.AutomationRule) (bool, error) {
	if len(rule.Conditions) == 0 {
		return true, nil
	}

	snapshot, err := e.attrs.AttributesOf(ctx, event.TenantID, event.PatientID)
	if err != nil {
		return false, fmt.Errorf("loading patient attributes: %w", err)
	}
	enriched := snapshot.WithPayload(event.Payload)

	for _, condition := range rule.Conditions {
		matched, err := rules.Evaluate(condition, &enriched)
		if err != nil {
			return false, err
		}
		if !matched {
			return false, nil
		}
	}
	return true, nil
}

func (e *Engine) finishSkipped(ctx context.Context, exec *types.AutomationExecution, reason types.SkipReason) error {
	exec.Status = types.ExecSkipped
	exec.SkipReason = reason
	return e.finish(ctx, exec)
}

func (e *Engine) finish(ctx context.Context, exec *types.AutomationExecution) error {
	now := e.clock.Now()
	exec.CompletedAt = &now
	if err := e.execs.Update(ctx, exec); err != nil {
		return fmt.Errorf("finalizing execution: %w", err)
	}
	return nil
}

// Retry re-runs a failed or partial execution as a new audit record linked
// to the original; the original is never rewritten. The caller supplies the
// original trigger event (the audit log stores its identity, not its
// payload).
func (e *Engine) Retry(ctx context.Context, executionID types.ExecutionID, event types.TriggerEvent) (*types.AutomationExecution, error) {
	parent, err := e.execs.Get(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("loading execution: %w", err)
	}
	if parent.Status != types.ExecFailed && parent.Status != types.ExecPartial {
		return nil, fmt.Errorf("execution %s is %s, only failed or partial executions can be retried",
			executionID, parent.Status)
	}
	if parent.RetryAttempt+1 >= types.MaxRetryAttempts {
		return nil, fmt.Errorf("execution %s exhausted its %d retry attempts",
			executionID, types.MaxRetryAttempts)
	}
	if event.ID != parent.EventID || event.PatientID != parent.PatientID {
		return nil, fmt.Errorf("event %s does not match execution %s", event.ID, executionID)
	}

	rule, err := e.rules.Get(ctx, parent.TenantID, parent.RuleID)
	if err != nil {
		return nil, fmt.Errorf("loading rule: %w", err)
	}
	if !rule.Runnable() {
		return nil, fmt.Errorf("rule %s is not runnable", rule.ID)
	}

	parentID := parent.ID
	exec := &types.AutomationExecution{
		ID:                types.NewExecutionID(),
		TenantID:          parent.TenantID,
		RuleID:            parent.RuleID,
		EventID:           parent.EventID,
		PatientID:         parent.PatientID,
		Status:            types.ExecPending,
		RetryAttempt:      parent.RetryAttempt + 1,
		ParentExecutionID: &parentID,
		StartedAt:         e.clock.Now(),
	}
	if err := e.execs.Insert(ctx, exec); err != nil {
		if errors.Is(err, types.ErrDedupConflict) {
			return nil, fmt.Errorf("retry attempt %d already exists for execution %s",
				exec.RetryAttempt, executionID)
		}
		return nil, fmt.Errorf("inserting retry execution: %w", err)
	}

	if err := e.run(ctx, event, rule, exec); err != nil {
		return nil, err
	}
	return e.execs.Get(ctx, exec.ID)
}
