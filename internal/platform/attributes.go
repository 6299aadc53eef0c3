package platform

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/practicehq/engage/internal/rules"
	"github.com/practicehq/engage/internal/types"
)

/*
 * Patient attribute lookups.
 *
 * The patient domain service answers request-reply on two subjects:
 *
 *   <prefix>.list      {"tenantId"} -> {"patientIds": [...]}
 *   <prefix>.snapshot  {"tenantId","patientId"} -> snapshot fields
 *
 * Replies carry an "error" field instead of the payload when the service
 * rejects the request. Absent attributes are null in the reply and stay
 * nil in the snapshot, which is how rules distinguish unknown from zero.
 */

type attributeRequest struct {
	TenantID  types.TenantID  `json:"tenantId"`
	PatientID types.PatientID `json:"patientId,omitempty"`
}

type patientListReply struct {
	PatientIDs []types.PatientID `json:"patientIds"`
	Error      string            `json:"error,omitempty"`
}

type snapshotReply struct {
	Age                 *float64 `json:"age"`
	Gender              *string  `json:"gender"`
	City                *string  `json:"city"`
	VisitCount          *float64 `json:"visitCount"`
	LastVisitDays       *float64 `json:"lastVisitDays"`
	NextAppointmentDays *float64 `json:"nextAppointmentDays"`
	TotalSpent          *float64 `json:"totalSpent"`
	OutstandingBalance  *float64 `json:"outstandingBalance"`
	LoyaltyPoints       *float64 `json:"loyaltyPoints"`
	LoyaltyTier         *string  `json:"loyaltyTier"`
	EmailOptIn          *bool    `json:"emailOptIn"`
	SMSOptIn            *bool    `json:"smsOptIn"`
	Treatments          []string `json:"treatments"`
	Tags                []string `json:"tags"`
	Segments            []string `json:"segments"`
	Error               string   `json:"error,omitempty"`
}

// Patients lists the eligible patient population for a tenant.
func (c *Client) Patients(ctx context.Context, tenant types.TenantID) ([]types.PatientID, error) {
	var reply patientListReply
	err := c.request(ctx, c.cfg.AttributePrefix+".list", attributeRequest{TenantID: tenant}, &reply)
	if err != nil {
		return nil, err
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("patient list for %s: %s", tenant, reply.Error)
	}
	return reply.PatientIDs, nil
}

// AttributesOf returns one patient's attribute snapshot.
func (c *Client) AttributesOf(ctx context.Context, tenant types.TenantID, patient types.PatientID) (rules.Snapshot, error) {
	var reply snapshotReply
	err := c.request(ctx, c.cfg.AttributePrefix+".snapshot",
		attributeRequest{TenantID: tenant, PatientID: patient}, &reply)
	if err != nil {
		return rules.Snapshot{}, err
	}
	if reply.Error != "" {
		return rules.Snapshot{}, fmt.Errorf("snapshot for %s/%s: %s", tenant, patient, reply.Error)
	}

	return rules.Snapshot{
		PatientID:           patient,
		TenantID:            tenant,
		Age:                 reply.Age,
		Gender:              reply.Gender,
		City:                reply.City,
		VisitCount:          reply.VisitCount,
		LastVisitDays:       reply.LastVisitDays,
		NextAppointmentDays: reply.NextAppointmentDays,
		TotalSpent:          reply.TotalSpent,
		OutstandingBalance:  reply.OutstandingBalance,
		LoyaltyPoints:       reply.LoyaltyPoints,
		LoyaltyTier:         reply.LoyaltyTier,
		EmailOptIn:          reply.EmailOptIn,
		SMSOptIn:            reply.SMSOptIn,
		Treatments:          reply.Treatments,
		Tags:                reply.Tags,
		Segments:            reply.Segments,
	}, nil
}

func (c *Client) request(ctx context.Context, subject string, request any, reply any) error {
	data, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}
	msg, err := c.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return fmt.Errorf("request %s: %w", subject, err)
	}

	if err := json.Unmarshal(msg.Data, reply); err != nil {
		return fmt.Errorf("decode %s reply: %w", subject, err)
	}
	return nil
}
