// internal/automation/actions.go
package automation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/practicehq/engage/internal/types"
)

// ErrSkipAction signals a deliberate no-op: the action does not apply to
// this patient (e.g. channel opt-out) and should be recorded as skipped,
// not failed. Handlers return it wrapped; the pipeline matches with
// errors.Is.
var ErrSkipAction = errors.New("action skipped")

// Delivery sends patient-facing messages. Implemented by the messaging
// domain; returns ErrSkipAction (wrapped) for opted-out channels.
type Delivery interface {
	SendCampaign(ctx context.Context, tenant types.TenantID, patient types.PatientID, params types.CampaignParams) error
	SendMessage(ctx context.Context, tenant types.TenantID, patient types.PatientID, params types.MessageParams) error
	SendNotification(ctx context.Context, tenant types.TenantID, patient types.PatientID, params types.NotificationParams) error
}

// LoyaltyService is the ledger surface the ACCRUE_LOYALTY_POINTS action
// needs. Satisfied by *loyalty.Ledger.
type LoyaltyService interface {
	OpenAccount(ctx context.Context, tenant types.TenantID, patient types.PatientID) (*types.LoyaltyAccount, error)
	Accrue(ctx context.Context, account types.AccountID, amount int64, source string, expiryMonths int, idempotencyKey string) (*types.LoyaltyTransaction, error)
}

// SegmentMembership is the segment surface the ADD/REMOVE_FROM_SEGMENT
// actions need. Satisfied by segments.Store.
type SegmentMembership interface {
	AddMember(ctx context.Context, tenant types.TenantID, id types.SegmentID, patient types.PatientID) error
	RemoveMember(ctx context.Context, tenant types.TenantID, id types.SegmentID, patient types.PatientID) error
}

// Executor dispatches one action spec to its kind handler.
type Executor struct {
	delivery Delivery
	loyalty  LoyaltyService
	segments SegmentMembership
	client   *http.Client
	logger   *slog.Logger
}

// NewExecutor creates an action executor. client is used for webhook
// actions; pass nil for a default client (per-action timeouts come from the
// pipeline's context, not the client).
func NewExecutor(delivery Delivery, loyalty LoyaltyService, segments SegmentMembership, client *http.Client, logger *slog.Logger) *Executor {
	if client == nil {
		client = &http.Client{}
	}
	return &Executor{
		delivery: delivery,
		loyalty:  loyalty,
		segments: segments,
		client:   client,
		logger:   logger.With("component", "actions"),
	}
}

// Execute runs one action attempt for the triggering patient. The ctx
// carries the per-attempt deadline.
func (x *Executor) Execute(ctx context.Context, event types.TriggerEvent, spec types.ActionSpec) error {
	switch params := spec.Params.(type) {
	case types.CampaignParams:
		return x.delivery.SendCampaign(ctx, event.TenantID, event.PatientID, params)
	case types.MessageParams:
		return x.delivery.SendMessage(ctx, event.TenantID, event.PatientID, params)
	case types.NotificationParams:
		return x.delivery.SendNotification(ctx, event.TenantID, event.PatientID, params)
	case types.WebhookParams:
		return x.sendWebhook(ctx, params)
	case types.AccruePointsParams:
		return x.accruePoints(ctx, event, spec, params)
	case types.SegmentMemberParams:
		return x.segments.AddMember(ctx, event.TenantID, params.SegmentID, event.PatientID)
	case types.RemoveSegmentMemberParams:
		return x.segments.RemoveMember(ctx, event.TenantID, params.SegmentID, event.PatientID)
	case types.WaitParams:
		return wait(ctx, time.Duration(params.Duration))
	default:
		return fmt.Errorf("unknown action kind %q", spec.Kind)
	}
}

func (x *Executor) accruePoints(ctx context.Context, event types.TriggerEvent, spec types.ActionSpec, params types.AccruePointsParams) error {
	account, err := x.loyalty.OpenAccount(ctx, event.TenantID, event.PatientID)
	if err != nil {
		return fmt.Errorf("opening loyalty account: %w", err)
	}

	// A stable key per (event, action) makes retried attempts return the
	// original ledger transaction instead of double-crediting.
	key := params.IdempotencyKey
	if key == "" {
		key = fmt.Sprintf("%s:%s", event.ID, spec.ID)
	}
	if _, err := x.loyalty.Accrue(ctx, account.ID, params.Points, params.Source, params.ExpiryMonths, key); err != nil {
		if errors.Is(err, types.ErrAccountSuspended) || errors.Is(err, types.ErrAccountInactive) {
			return fmt.Errorf("%w: %v", ErrSkipAction, err)
		}
		return err
	}
	return nil
}

func (x *Executor) sendWebhook(ctx context.Context, params types.WebhookParams) error {
	method := params.Method
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, params.URL, strings.NewReader(params.Body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	if params.Body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range params.Headers {
		req.Header.Set(key, value)
	}

	resp, err := x.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: webhook returned %d", types.ErrActionFailed, resp.StatusCode)
	}
	return nil
}

// wait blocks for the duration or until the ctx deadline, whichever comes
// first. A deadline during the wait surfaces as the usual timeout failure.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
