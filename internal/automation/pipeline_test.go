package automation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/practicehq/engage/internal/types"
)

// scriptedRunner returns the scripted outcomes for each action in sequence,
// one entry per attempt; a nil entry is a success. Actions with no script
// always succeed.
type scriptedRunner struct {
	mu       sync.Mutex
	script   map[types.ActionID][]error
	attempts map[types.ActionID]int
	executed []types.ActionID
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{
		script:   make(map[types.ActionID][]error),
		attempts: make(map[types.ActionID]int),
	}
}

func (r *scriptedRunner) Execute(_ context.Context, _ types.TriggerEvent, spec types.ActionSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.executed = append(r.executed, spec.ID)
	attempt := r.attempts[spec.ID]
	r.attempts[spec.ID] = attempt + 1

	outcomes := r.script[spec.ID]
	if attempt < len(outcomes) {
		return outcomes[attempt]
	}
	return nil
}

func testPipeline(runner ActionRunner) *Pipeline {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewPipeline(runner, time.Second, logger)
	p.sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

func testEvent() types.TriggerEvent {
	return types.TriggerEvent{
		ID:         "event-1",
		TenantID:   "tenant-1",
		Type:       types.TriggerInvoicePaid,
		PatientID:  "patient-1",
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestPipeline_RunsActionsInOrder(t *testing.T) {
	runner := newScriptedRunner()
	pipeline := testPipeline(runner)

	// Declared out of order; the pipeline must sort by Order.
	actions := []types.ActionSpec{
		{ID: "third", Kind: types.ActionSendMessage, Order: 3},
		{ID: "first", Kind: types.ActionSendMessage, Order: 1},
		{ID: "second", Kind: types.ActionSendMessage, Order: 2},
	}

	results, status := pipeline.Run(context.Background(), testEvent(), actions)
	if status != types.ExecSuccess {
		t.Fatalf("Run() status = %s, want success", status)
	}
	want := []types.ActionID{"first", "second", "third"}
	for i, id := range want {
		if runner.executed[i] != id {
			t.Errorf("executed[%d] = %s, want %s", i, runner.executed[i], id)
		}
		if results[i].ActionID != id {
			t.Errorf("results[%d].ActionID = %s, want %s", i, results[i].ActionID, id)
		}
	}
}

func TestPipeline_StopOnFailureSkipsRemainder(t *testing.T) {
	runner := newScriptedRunner()
	runner.script["second"] = []error{fmt.Errorf("delivery refused")}
	pipeline := testPipeline(runner)

	actions := []types.ActionSpec{
		{ID: "first", Kind: types.ActionSendMessage, Order: 1},
		{ID: "second", Kind: types.ActionSendMessage, Order: 2, StopOnFailure: true},
		{ID: "third", Kind: types.ActionSendMessage, Order: 3},
	}

	results, status := pipeline.Run(context.Background(), testEvent(), actions)
	if status != types.ExecFailed {
		t.Fatalf("Run() status = %s, want failed", status)
	}
	if results[0].Status != types.ActionOK {
		t.Errorf("results[0].Status = %s, want success", results[0].Status)
	}
	if results[1].Status != types.ActionFailedStat {
		t.Errorf("results[1].Status = %s, want failed", results[1].Status)
	}
	if results[2].Status != types.ActionSkippedSt {
		t.Errorf("results[2].Status = %s, want skipped", results[2].Status)
	}
	if runner.attempts["third"] != 0 {
		t.Errorf("skipped action executed %d times, want 0", runner.attempts["third"])
	}
}

func TestPipeline_FailureWithoutStopContinuesAsPartial(t *testing.T) {
	runner := newScriptedRunner()
	runner.script["first"] = []error{fmt.Errorf("delivery refused")}
	pipeline := testPipeline(runner)

	actions := []types.ActionSpec{
		{ID: "first", Kind: types.ActionSendMessage, Order: 1},
		{ID: "second", Kind: types.ActionSendMessage, Order: 2},
	}

	results, status := pipeline.Run(context.Background(), testEvent(), actions)
	if status != types.ExecPartial {
		t.Fatalf("Run() status = %s, want partial", status)
	}
	if results[1].Status != types.ActionOK {
		t.Errorf("results[1].Status = %s, want success", results[1].Status)
	}
}

func TestPipeline_AllFailedReportsFailed(t *testing.T) {
	runner := newScriptedRunner()
	runner.script["only"] = []error{fmt.Errorf("boom")}
	pipeline := testPipeline(runner)

	_, status := pipeline.Run(context.Background(), testEvent(), []types.ActionSpec{
		{ID: "only", Kind: types.ActionSendMessage, Order: 1},
	})
	if status != types.ExecFailed {
		t.Fatalf("Run() status = %s, want failed", status)
	}
}

// Actions that all decline to run (opt-outs) are a successful execution:
// nothing went wrong, there was just nothing to do.
func TestPipeline_AllSkippedReportsSuccess(t *testing.T) {
	runner := newScriptedRunner()
	runner.script["first"] = []error{fmt.Errorf("%w: email opt-out", ErrSkipAction)}
	runner.script["second"] = []error{fmt.Errorf("%w: sms opt-out", ErrSkipAction)}
	pipeline := testPipeline(runner)

	actions := []types.ActionSpec{
		{ID: "first", Kind: types.ActionSendMessage, Order: 1, RetryAttempts: 3},
		{ID: "second", Kind: types.ActionSendMessage, Order: 2},
	}

	results, status := pipeline.Run(context.Background(), testEvent(), actions)
	if status != types.ExecSuccess {
		t.Fatalf("Run() status = %s, want success", status)
	}
	for i, result := range results {
		if result.Status != types.ActionSkippedSt {
			t.Errorf("results[%d].Status = %s, want skipped", i, result.Status)
		}
	}
	// Skips are deliberate no-ops; they must not burn retry attempts.
	if runner.attempts["first"] != 1 {
		t.Errorf("skipped action attempted %d times, want 1", runner.attempts["first"])
	}
}

func TestPipeline_RetriesWithFixedDelay(t *testing.T) {
	runner := newScriptedRunner()
	runner.script["flaky"] = []error{
		fmt.Errorf("attempt 1"), fmt.Errorf("attempt 2"), nil,
	}

	var delays []time.Duration
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pipeline := NewPipeline(runner, time.Second, logger)
	pipeline.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	results, status := pipeline.Run(context.Background(), testEvent(), []types.ActionSpec{
		{ID: "flaky", Kind: types.ActionSendWebhook, Order: 1, RetryAttempts: 3, RetryDelay: 100 * time.Millisecond},
	})
	if status != types.ExecSuccess {
		t.Fatalf("Run() status = %s, want success", status)
	}
	if results[0].Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", results[0].Attempts)
	}
	// Fixed delay between attempts, not a growing schedule.
	want := []time.Duration{100 * time.Millisecond, 100 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("sleep calls = %d, want %d", len(delays), len(want))
	}
	for i, d := range want {
		if delays[i] != d {
			t.Errorf("delays[%d] = %s, want %s", i, delays[i], d)
		}
	}
}

func TestPipeline_ExhaustedRetriesRecordLastError(t *testing.T) {
	runner := newScriptedRunner()
	runner.script["flaky"] = []error{
		fmt.Errorf("first error"), fmt.Errorf("last error"),
	}
	pipeline := testPipeline(runner)

	results, status := pipeline.Run(context.Background(), testEvent(), []types.ActionSpec{
		{ID: "flaky", Kind: types.ActionSendWebhook, Order: 1, RetryAttempts: 1},
	})
	if status != types.ExecFailed {
		t.Fatalf("Run() status = %s, want failed", status)
	}
	if results[0].Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", results[0].Attempts)
	}
	if results[0].Error != "last error" {
		t.Errorf("Error = %q, want %q", results[0].Error, "last error")
	}
}

func TestPipeline_RetryAttemptsCapped(t *testing.T) {
	runner := newScriptedRunner()
	failures := make([]error, 50)
	for i := range failures {
		failures[i] = fmt.Errorf("failure %d", i)
	}
	runner.script["stubborn"] = failures
	pipeline := testPipeline(runner)

	results, _ := pipeline.Run(context.Background(), testEvent(), []types.ActionSpec{
		{ID: "stubborn", Kind: types.ActionSendWebhook, Order: 1, RetryAttempts: 50},
	})
	if results[0].Attempts != types.MaxRetryAttempts {
		t.Errorf("Attempts = %d, want capped at %d", results[0].Attempts, types.MaxRetryAttempts)
	}
}

// timedRunner honors WAIT durations and blocks forever on anything else,
// both respecting the attempt context.
type timedRunner struct{}

func (timedRunner) Execute(ctx context.Context, _ types.TriggerEvent, spec types.ActionSpec) error {
	d := time.Hour
	if params, ok := spec.Params.(types.WaitParams); ok {
		d = time.Duration(params.Duration)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// A WAIT is the pipeline delaying itself, so it may run far longer than the
// per-action I/O timeout.
func TestPipeline_WaitOutlastsActionTimeout(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pipeline := NewPipeline(timedRunner{}, 10*time.Millisecond, logger)

	results, status := pipeline.Run(context.Background(), testEvent(), []types.ActionSpec{
		{ID: "pause", Kind: types.ActionWait, Order: 1,
			Params: types.WaitParams{Duration: types.Duration(80 * time.Millisecond)}},
	})
	if status != types.ExecSuccess {
		t.Fatalf("Run() status = %s, want success (result: %+v)", status, results[0])
	}
	if results[0].Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", results[0].Attempts)
	}

	// The exemption is WAIT-only: a hung I/O action under the same pipeline
	// still hits the deadline.
	results, status = pipeline.Run(context.Background(), testEvent(), []types.ActionSpec{
		{ID: "hung", Kind: types.ActionSendWebhook, Order: 1},
	})
	if status != types.ExecFailed {
		t.Fatalf("Run() status = %s, want failed", status)
	}
	if results[0].Error != types.ErrActionTimeout.Error() {
		t.Errorf("Error = %q, want %q", results[0].Error, types.ErrActionTimeout.Error())
	}
}

// A cancelled execution context still ends an in-flight WAIT.
func TestPipeline_WaitHonorsExecutionContext(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pipeline := NewPipeline(timedRunner{}, 10*time.Millisecond, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, status := pipeline.Run(ctx, testEvent(), []types.ActionSpec{
		{ID: "pause", Kind: types.ActionWait, Order: 1,
			Params: types.WaitParams{Duration: types.Duration(time.Minute)}},
	})
	if status != types.ExecFailed {
		t.Fatalf("Run() status = %s, want failed", status)
	}
}

// blockingRunner blocks until its context ends, like a hung delivery.
type blockingRunner struct{}

func (blockingRunner) Execute(ctx context.Context, _ types.TriggerEvent, _ types.ActionSpec) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestPipeline_TimeoutIsRetryableFailure(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pipeline := NewPipeline(blockingRunner{}, 5*time.Millisecond, logger)
	pipeline.sleep = func(context.Context, time.Duration) error { return nil }

	results, status := pipeline.Run(context.Background(), testEvent(), []types.ActionSpec{
		{ID: "hung", Kind: types.ActionSendWebhook, Order: 1, RetryAttempts: 1},
	})
	if status != types.ExecFailed {
		t.Fatalf("Run() status = %s, want failed", status)
	}
	if results[0].Attempts != 2 {
		t.Errorf("Attempts = %d, want 2 (timeout retried)", results[0].Attempts)
	}
	if results[0].Error != types.ErrActionTimeout.Error() {
		t.Errorf("Error = %q, want %q", results[0].Error, types.ErrActionTimeout.Error())
	}
}
