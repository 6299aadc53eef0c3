package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TriggerEvent is one normalized domain occurrence consumed by the
// automation engine. ID is assigned by the producing context and stable
// across redeliveries; the engine keys dedup on (rule, event, patient).
type TriggerEvent struct {
	ID         EventID        `json:"id"`
	TenantID   TenantID       `json:"tenantId"`
	Type       TriggerType    `json:"type"`
	PatientID  PatientID      `json:"patientId"`
	OccurredAt time.Time      `json:"occurredAt"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// DecodeTriggerEvent decodes and validates one trigger event payload.
func DecodeTriggerEvent(raw []byte) (TriggerEvent, error) {
	var event TriggerEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return TriggerEvent{}, fmt.Errorf("decode trigger event: %w", err)
	}
	if err := event.Validate(); err != nil {
		return TriggerEvent{}, err
	}
	return event, nil
}

// Validate validates one trigger event against the ingestion contract.
func (e TriggerEvent) Validate() error {
	if strings.TrimSpace(string(e.ID)) == "" {
		return errors.New("event id is required")
	}
	if strings.TrimSpace(string(e.TenantID)) == "" {
		return errors.New("tenant id is required")
	}
	if strings.TrimSpace(string(e.Type)) == "" {
		return errors.New("trigger type is required")
	}
	if strings.TrimSpace(string(e.PatientID)) == "" {
		return errors.New("patient id is required")
	}
	if e.OccurredAt.IsZero() {
		return errors.New("occurredAt is required")
	}
	if len(e.Payload) > MaxPayloadKeys {
		return fmt.Errorf("payload has %d keys, maximum %d", len(e.Payload), MaxPayloadKeys)
	}
	return nil
}
