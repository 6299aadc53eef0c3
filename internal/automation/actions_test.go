package automation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/practicehq/engage/internal/clock"
	"github.com/practicehq/engage/internal/loyalty"
	"github.com/practicehq/engage/internal/types"
)

func testExecutor(t *testing.T, ledger *loyalty.Ledger) *Executor {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewExecutor(&fakeDelivery{}, ledger, nil, nil, logger)
}

func TestExecutor_Webhook(t *testing.T) {
	var gotMethod, gotHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeader = r.Header.Get("X-Practice")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	executor := testExecutor(t, nil)
	spec := types.ActionSpec{
		ID: "hook", Kind: types.ActionSendWebhook,
		Params: types.WebhookParams{
			URL:     server.URL,
			Method:  http.MethodPut,
			Headers: map[string]string{"X-Practice": "downtown"},
			Body:    `{"ping":true}`,
		},
	}
	if err := executor.Execute(context.Background(), testEvent(), spec); err != nil {
		t.Fatalf("Execute() error = %v, want nil", err)
	}
	if gotMethod != http.MethodPut {
		t.Errorf("method = %s, want PUT", gotMethod)
	}
	if gotHeader != "downtown" {
		t.Errorf("X-Practice header = %q, want %q", gotHeader, "downtown")
	}
}

func TestExecutor_WebhookNon2xxFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	executor := testExecutor(t, nil)
	spec := types.ActionSpec{
		ID: "hook", Kind: types.ActionSendWebhook,
		Params: types.WebhookParams{URL: server.URL},
	}
	err := executor.Execute(context.Background(), testEvent(), spec)
	if !errors.Is(err, types.ErrActionFailed) {
		t.Fatalf("Execute() error = %v, want ErrActionFailed", err)
	}
}

func TestExecutor_AccrueSkipsSuspendedAccount(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := &clock.Fixed{Time: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	ledger := loyalty.NewLedger(loyalty.NewMemoryStore(), types.AccrualRule{}, clk, logger)

	account, err := ledger.OpenAccount(context.Background(), "tenant-1", "patient-1")
	if err != nil {
		t.Fatalf("OpenAccount() error = %v", err)
	}
	if err := ledger.Suspend(context.Background(), account.ID, true); err != nil {
		t.Fatalf("Suspend() error = %v", err)
	}

	executor := testExecutor(t, ledger)
	spec := types.ActionSpec{
		ID: "accrue", Kind: types.ActionAccruePoints,
		Params: types.AccruePointsParams{Points: 100, Source: "INVOICE"},
	}
	err = executor.Execute(context.Background(), testEvent(), spec)
	if !errors.Is(err, ErrSkipAction) {
		t.Fatalf("Execute() error = %v, want ErrSkipAction for suspended account", err)
	}
}

func TestExecutor_WaitHonorsContext(t *testing.T) {
	executor := testExecutor(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	spec := types.ActionSpec{
		ID: "wait", Kind: types.ActionWait,
		Params: types.WaitParams{Duration: types.Duration(time.Minute)},
	}
	start := time.Now()
	err := executor.Execute(ctx, testEvent(), spec)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Execute() error = %v, want DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("wait blocked %s past its deadline", elapsed)
	}
}
