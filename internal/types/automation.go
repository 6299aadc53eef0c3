package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// TriggerType identifies the domain occurrence that activates rules.
type TriggerType string

const (
	TriggerAppointmentCompleted TriggerType = "APPOINTMENT_COMPLETED"
	TriggerAppointmentScheduled TriggerType = "APPOINTMENT_SCHEDULED"
	TriggerAppointmentCancelled TriggerType = "APPOINTMENT_CANCELLED"
	TriggerAppointmentNoShow    TriggerType = "APPOINTMENT_NO_SHOW"
	TriggerInvoicePaid          TriggerType = "INVOICE_PAID"
	TriggerInvoiceOverdue       TriggerType = "INVOICE_OVERDUE"
	TriggerPatientCreated       TriggerType = "PATIENT_CREATED"
	TriggerPatientBirthday      TriggerType = "PATIENT_BIRTHDAY"
	TriggerTreatmentCompleted   TriggerType = "TREATMENT_COMPLETED"
	TriggerRecallDue            TriggerType = "RECALL_DUE"
	TriggerTierChanged          TriggerType = "LOYALTY_TIER_CHANGED"
)

// ActionKind enumerates the automation action catalog.
type ActionKind string

const (
	ActionSendCampaign      ActionKind = "SEND_CAMPAIGN"
	ActionSendMessage       ActionKind = "SEND_MESSAGE"
	ActionSendNotification  ActionKind = "SEND_NOTIFICATION"
	ActionSendWebhook       ActionKind = "SEND_WEBHOOK"
	ActionAccruePoints      ActionKind = "ACCRUE_LOYALTY_POINTS"
	ActionAddToSegment      ActionKind = "ADD_TO_SEGMENT"
	ActionRemoveFromSegment ActionKind = "REMOVE_FROM_SEGMENT"
	ActionWait              ActionKind = "WAIT"
)

// ActionParams is the kind-specific payload of one action. The concrete
// types below form a closed tagged union keyed by ActionKind; decoding and
// handler dispatch switch exhaustively over the kind, so an unhandled kind
// is a decode error rather than an unsafe cast at execution time.
type ActionParams interface {
	ActionKind() ActionKind
}

// CampaignParams selects a pre-built campaign for delivery.
type CampaignParams struct {
	CampaignID string `json:"campaignId"`
	Channel    string `json:"channel"`
}

func (CampaignParams) ActionKind() ActionKind { return ActionSendCampaign }

// MessageParams describes one direct message send.
type MessageParams struct {
	Channel    string `json:"channel"` // EMAIL, SMS, PUSH, WHATSAPP
	TemplateID string `json:"templateId,omitempty"`
	Content    string `json:"content,omitempty"`
}

func (MessageParams) ActionKind() ActionKind { return ActionSendMessage }

// NotificationParams describes one in-app/push notification.
type NotificationParams struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (NotificationParams) ActionKind() ActionKind { return ActionSendNotification }

// WebhookParams describes one outbound HTTP call.
type WebhookParams struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

func (WebhookParams) ActionKind() ActionKind { return ActionSendWebhook }

// AccruePointsParams accrues loyalty points for the triggering patient.
// IdempotencyKey makes retries safe: a repeated attempt with the same key
// returns the original ledger transaction instead of double-crediting.
type AccruePointsParams struct {
	Points         int64  `json:"points"`
	Source         string `json:"source"`
	ExpiryMonths   int    `json:"expiryMonths,omitempty"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

func (AccruePointsParams) ActionKind() ActionKind { return ActionAccruePoints }

// SegmentMemberParams adds or removes the patient from a static segment.
type SegmentMemberParams struct {
	SegmentID SegmentID `json:"segmentId"`
}

func (SegmentMemberParams) ActionKind() ActionKind { return ActionAddToSegment }

// RemoveSegmentMemberParams removes the patient from a static segment.
type RemoveSegmentMemberParams struct {
	SegmentID SegmentID `json:"segmentId"`
}

func (RemoveSegmentMemberParams) ActionKind() ActionKind { return ActionRemoveFromSegment }

// WaitParams delays the remainder of the pipeline.
type WaitParams struct {
	Duration Duration `json:"duration"`
}

func (WaitParams) ActionKind() ActionKind { return ActionWait }

// Duration is a time.Duration that serializes as a duration string ("5m").
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler, accepting "5m" strings and
// integer nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return perr
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*d = Duration(n)
	return nil
}

// DecodeActionParams decodes a raw params payload for the given kind.
// Exhaustive over the ActionKind catalog; unknown kinds are an error.
func DecodeActionParams(kind ActionKind, raw json.RawMessage) (ActionParams, error) {
	decode := func(dst any) error {
		if len(raw) == 0 {
			raw = json.RawMessage("{}")
		}
		return json.Unmarshal(raw, dst)
	}

	switch kind {
	case ActionSendCampaign:
		var p CampaignParams
		return p, decode(&p)
	case ActionSendMessage:
		var p MessageParams
		return p, decode(&p)
	case ActionSendNotification:
		var p NotificationParams
		return p, decode(&p)
	case ActionSendWebhook:
		var p WebhookParams
		return p, decode(&p)
	case ActionAccruePoints:
		var p AccruePointsParams
		return p, decode(&p)
	case ActionAddToSegment:
		var p SegmentMemberParams
		return p, decode(&p)
	case ActionRemoveFromSegment:
		var p RemoveSegmentMemberParams
		return p, decode(&p)
	case ActionWait:
		var p WaitParams
		return p, decode(&p)
	default:
		return nil, fmt.Errorf("unknown action kind %q", kind)
	}
}

// EncodeActionParams serializes params for storage.
func EncodeActionParams(p ActionParams) (json.RawMessage, error) {
	return json.Marshal(p)
}

// ActionSpec is one step of an automation pipeline. Ordering is significant:
// actions execute strictly in ascending Order. RetryDelay is the fixed wait
// between attempts (linear backoff).
type ActionSpec struct {
	ID            ActionID
	Kind          ActionKind
	Order         int
	StopOnFailure bool
	RetryAttempts int
	RetryDelay    time.Duration
	Params        ActionParams
}

// actionSpecJSON is the storage shape of ActionSpec; Params round-trips
// through the kind-keyed union codec.
type actionSpecJSON struct {
	ID            ActionID        `json:"id"`
	Kind          ActionKind      `json:"kind"`
	Order         int             `json:"order"`
	StopOnFailure bool            `json:"stopOnFailure,omitempty"`
	RetryAttempts int             `json:"retryAttempts,omitempty"`
	RetryDelay    Duration        `json:"retryDelay,omitempty"`
	Params        json.RawMessage `json:"params,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (s ActionSpec) MarshalJSON() ([]byte, error) {
	out := actionSpecJSON{
		ID:            s.ID,
		Kind:          s.Kind,
		Order:         s.Order,
		StopOnFailure: s.StopOnFailure,
		RetryAttempts: s.RetryAttempts,
		RetryDelay:    Duration(s.RetryDelay),
	}
	if s.Params != nil {
		raw, err := EncodeActionParams(s.Params)
		if err != nil {
			return nil, err
		}
		out.Params = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *ActionSpec) UnmarshalJSON(data []byte) error {
	var in actionSpecJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	params, err := DecodeActionParams(in.Kind, in.Params)
	if err != nil {
		return err
	}
	*s = ActionSpec{
		ID:            in.ID,
		Kind:          in.Kind,
		Order:         in.Order,
		StopOnFailure: in.StopOnFailure,
		RetryAttempts: in.RetryAttempts,
		RetryDelay:    time.Duration(in.RetryDelay),
		Params:        params,
	}
	return nil
}

// AutomationRule reacts to one trigger type with an ordered action pipeline.
// Conditions are an implicit AND. Rules referenced by execution history are
// soft-disabled, never deleted.
type AutomationRule struct {
	ID                            RuleID
	TenantID                      TenantID
	Name                          string
	TriggerType                   TriggerType
	Conditions                    []Rule
	Actions                       []ActionSpec
	IsActive                      bool
	IsPaused                      bool
	MaxExecutionsPerPatientPerDay int // 0 = uncapped
	ExecutionDelay                time.Duration
	CreatedAt                     time.Time
	UpdatedAt                     time.Time
}

// Runnable reports whether the rule should receive trigger events.
func (r *AutomationRule) Runnable() bool {
	return r.IsActive && !r.IsPaused
}

// ExecutionStatus is the automation execution state machine:
// pending -> running -> {success, failed, partial}. Skipped executions are
// recorded terminally without entering running.
type ExecutionStatus string

const (
	ExecPending ExecutionStatus = "pending"
	ExecRunning ExecutionStatus = "running"
	ExecSuccess ExecutionStatus = "success"
	ExecFailed  ExecutionStatus = "failed"
	ExecPartial ExecutionStatus = "partial"
	ExecSkipped ExecutionStatus = "skipped"
)

// SkipReason explains a skipped execution.
type SkipReason string

const (
	SkipDailyCap   SkipReason = "DAILY_CAP"
	SkipRulePaused SkipReason = "RULE_PAUSED"
)

// ActionStatus is the per-action outcome within an execution.
type ActionStatus string

const (
	ActionOK         ActionStatus = "success"
	ActionFailedStat ActionStatus = "failed"
	ActionSkippedSt  ActionStatus = "skipped"
)

// ActionResult records one action's outcome, including the attempt count
// after retries.
type ActionResult struct {
	ActionID ActionID     `json:"actionId"`
	Kind     ActionKind   `json:"kind"`
	Status   ActionStatus `json:"status"`
	Attempts int          `json:"attempts"`
	Error    string       `json:"error,omitempty"`
}

// AutomationExecution is the audit record for one (rule, event, patient)
// dispatch. A retried execution is a new record linked via ParentExecutionID;
// the original is never overwritten.
type AutomationExecution struct {
	ID                ExecutionID
	TenantID          TenantID
	RuleID            RuleID
	EventID           EventID
	PatientID         PatientID
	Status            ExecutionStatus
	SkipReason        SkipReason
	ConditionsMet     bool
	ConditionError    string
	ActionResults     []ActionResult
	RetryAttempt      int
	ParentExecutionID *ExecutionID
	StartedAt         time.Time
	CompletedAt       *time.Time
}

// Terminal reports whether the execution reached a final state.
func (e *AutomationExecution) Terminal() bool {
	switch e.Status {
	case ExecSuccess, ExecFailed, ExecPartial, ExecSkipped:
		return true
	default:
		return false
	}
}
