// internal/automation/pipeline.go
package automation

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/practicehq/engage/internal/types"
)

/*
 * Action pipeline.
 *
 * Actions run strictly in ascending Order. Each action gets its own
 * attempt loop: a failed attempt is retried up to the action's RetryAttempts
 * (capped by types.MaxRetryAttempts total attempts) with a fixed RetryDelay
 * between attempts. Every attempt of an external-I/O action runs under the
 * per-action timeout; a deadline during an attempt is recorded as
 * ErrActionTimeout and retried like any other failure. WAIT is the
 * pipeline's own delay, not external I/O, so it is exempt from the action
 * timeout and bounded only by its configured duration (and the execution's
 * context).
 *
 * A handler returning ErrSkipAction is recorded as skipped with no retries;
 * skips never count against the outcome. When an action exhausts its
 * attempts:
 *   - StopOnFailure: the remaining actions are recorded as skipped and the
 *     execution is failed
 *   - otherwise the pipeline continues; the execution ends partial if any
 *     action succeeded, failed if none did
 * An execution whose actions all succeeded or all skipped is a success.
 */

// ActionRunner executes one action attempt. Satisfied by *Executor.
type ActionRunner interface {
	Execute(ctx context.Context, event types.TriggerEvent, spec types.ActionSpec) error
}

// Pipeline runs a rule's ordered actions for one trigger event.
type Pipeline struct {
	runner        ActionRunner
	actionTimeout time.Duration
	logger        *slog.Logger

	// Injectable for tests; defaults to a ctx-aware timer wait.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPipeline creates a pipeline with a per-attempt action timeout.
func NewPipeline(runner ActionRunner, actionTimeout time.Duration, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		runner:        runner,
		actionTimeout: actionTimeout,
		logger:        logger.With("component", "pipeline"),
		sleep:         wait,
	}
}

// Run executes the actions and returns their results with the terminal
// execution status.
func (p *Pipeline) Run(ctx context.Context, event types.TriggerEvent, actions []types.ActionSpec) ([]types.ActionResult, types.ExecutionStatus) {
	ordered := make([]types.ActionSpec, len(actions))
	copy(ordered, actions)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	results := make([]types.ActionResult, 0, len(ordered))
	var successes, failures int
	stopped := false

	for i, spec := range ordered {
		if stopped {
			results = append(results, types.ActionResult{
				ActionID: spec.ID, Kind: spec.Kind, Status: types.ActionSkippedSt,
			})
			continue
		}

		result := p.runAction(ctx, event, spec)
		results = append(results, result)

		switch result.Status {
		case types.ActionOK:
			successes++
		case types.ActionFailedStat:
			failures++
			if spec.StopOnFailure {
				p.logger.Warn("action failed, stopping pipeline",
					"event_id", event.ID, "action_id", spec.ID,
					"kind", spec.Kind, "remaining", len(ordered)-i-1)
				stopped = true
			}
		}
	}

	switch {
	case stopped:
		return results, types.ExecFailed
	case failures == 0:
		return results, types.ExecSuccess
	case successes > 0:
		return results, types.ExecPartial
	default:
		return results, types.ExecFailed
	}
}

func (p *Pipeline) runAction(ctx context.Context, event types.TriggerEvent, spec types.ActionSpec) types.ActionResult {
	result := types.ActionResult{ActionID: spec.ID, Kind: spec.Kind}

	maxAttempts := spec.RetryAttempts + 1
	if maxAttempts > types.MaxRetryAttempts {
		maxAttempts = types.MaxRetryAttempts
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt

		err := p.attempt(ctx, event, spec)
		if err == nil {
			result.Status = types.ActionOK
			return result
		}
		if errors.Is(err, ErrSkipAction) {
			result.Status = types.ActionSkippedSt
			result.Error = err.Error()
			return result
		}
		lastErr = err

		p.logger.Warn("action attempt failed",
			"event_id", event.ID, "action_id", spec.ID, "kind", spec.Kind,
			"attempt", attempt, "error", err)

		if attempt < maxAttempts && spec.RetryDelay > 0 {
			if serr := p.sleep(ctx, spec.RetryDelay); serr != nil {
				break
			}
		}
	}

	result.Status = types.ActionFailedStat
	if lastErr != nil {
		result.Error = lastErr.Error()
	}
	return result
}

// attempt runs one try under the per-action deadline, normalizing a
// deadline hit into ErrActionTimeout. WAIT actions run without the deadline;
// their duration legitimately exceeds any sane I/O timeout.
func (p *Pipeline) attempt(ctx context.Context, event types.TriggerEvent, spec types.ActionSpec) error {
	attemptCtx := ctx
	if p.actionTimeout > 0 && spec.Kind != types.ActionWait {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, p.actionTimeout)
		defer cancel()
	}

	err := p.runner.Execute(attemptCtx, event, spec)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return types.ErrActionTimeout
	}
	return err
}
