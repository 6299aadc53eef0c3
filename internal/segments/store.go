// internal/segments/store.go
package segments

import (
	"context"
	"time"

	"github.com/practicehq/engage/internal/types"
)

// Store provides tenant-scoped segment persistence.
// Segments referenced by rules or campaigns are archived, never hard-deleted.
type Store interface {
	// Get returns one segment, including static members for STATIC segments.
	Get(ctx context.Context, tenant types.TenantID, id types.SegmentID) (*types.Segment, error)
	// Put inserts or replaces a segment definition.
	Put(ctx context.Context, segment *types.Segment) error
	// List returns all non-archived segments for a tenant.
	List(ctx context.Context, tenant types.TenantID) ([]*types.Segment, error)
	// Archive soft-deletes a segment.
	Archive(ctx context.Context, tenant types.TenantID, id types.SegmentID) error
	// Refreshable returns all non-archived dynamic segments with a refresh
	// interval configured, across tenants. Due-ness is the caller's call.
	Refreshable(ctx context.Context) ([]*types.Segment, error)

	// Members returns the materialized member list.
	Members(ctx context.Context, tenant types.TenantID, id types.SegmentID) ([]types.PatientID, error)
	// ReplaceMembers swaps the materialized membership of a dynamic segment.
	ReplaceMembers(ctx context.Context, tenant types.TenantID, id types.SegmentID, members []types.PatientID) error
	// AddMember adds one patient to a static segment (idempotent).
	AddMember(ctx context.Context, tenant types.TenantID, id types.SegmentID, patient types.PatientID) error
	// RemoveMember removes one patient from a static segment (idempotent).
	RemoveMember(ctx context.Context, tenant types.TenantID, id types.SegmentID, patient types.PatientID) error

	// UpdateRefresh writes the cache fields after a refresh.
	UpdateRefresh(ctx context.Context, tenant types.TenantID, id types.SegmentID, count int, at time.Time) error
}
