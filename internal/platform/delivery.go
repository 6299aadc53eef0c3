package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/practicehq/engage/internal/types"
)

/*
 * Outbound delivery.
 *
 * Each send publishes one envelope to the messaging service's JetStream
 * subjects. Publish returns once the stream has persisted the message, so
 * a successful send means handed off, not delivered: rendering, channel
 * opt-out checks and provider dispatch happen downstream.
 */

// outboundEnvelope is the wire contract with the messaging service.
type outboundEnvelope struct {
	TenantID  types.TenantID  `json:"tenantId"`
	PatientID types.PatientID `json:"patientId"`
	Kind      string          `json:"kind"`
	Params    any             `json:"params"`
}

// SendCampaign hands one campaign send to the messaging service.
func (c *Client) SendCampaign(ctx context.Context, tenant types.TenantID, patient types.PatientID, params types.CampaignParams) error {
	subject := c.cfg.OutboundPrefix + ".campaign." + channelToken(params.Channel)
	return c.publish(ctx, subject, outboundEnvelope{
		TenantID: tenant, PatientID: patient, Kind: "campaign", Params: params,
	})
}

// SendMessage hands one direct message to the messaging service.
func (c *Client) SendMessage(ctx context.Context, tenant types.TenantID, patient types.PatientID, params types.MessageParams) error {
	subject := c.cfg.OutboundPrefix + ".message." + channelToken(params.Channel)
	return c.publish(ctx, subject, outboundEnvelope{
		TenantID: tenant, PatientID: patient, Kind: "message", Params: params,
	})
}

// SendNotification hands one in-app notification to the messaging service.
func (c *Client) SendNotification(ctx context.Context, tenant types.TenantID, patient types.PatientID, params types.NotificationParams) error {
	subject := c.cfg.OutboundPrefix + ".notification"
	return c.publish(ctx, subject, outboundEnvelope{
		TenantID: tenant, PatientID: patient, Kind: "notification", Params: params,
	})
}

func (c *Client) publish(ctx context.Context, subject string, envelope outboundEnvelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode outbound envelope: %w", err)
	}
	if _, err := c.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	c.logger.Debug("outbound message published",
		"subject", subject, "tenant_id", envelope.TenantID, "patient_id", envelope.PatientID)
	return nil
}

// channelToken normalizes a channel name into a subject token.
func channelToken(channel string) string {
	token := strings.ToLower(strings.TrimSpace(channel))
	if token == "" {
		return "default"
	}
	return token
}
