package types

import "time"

// SegmentKind selects how segment membership is determined.
type SegmentKind string

const (
	// SegmentDynamic membership is recomputed from rule groups.
	SegmentDynamic SegmentKind = "DYNAMIC"
	// SegmentStatic membership is an explicit patient list.
	SegmentStatic SegmentKind = "STATIC"
)

// Segment is a named set of patients.
// DYNAMIC segments carry rule groups and never a static member list as
// source of truth; STATIC segments carry the member list and never
// re-evaluate rules. Segments referenced by rules or campaigns are archived,
// not deleted.
type Segment struct {
	ID              SegmentID
	TenantID        TenantID
	Name            string
	Kind            SegmentKind
	RuleGroups      []RuleGroup // DYNAMIC only
	StaticMemberIDs []PatientID // STATIC only
	CachedCount     int
	LastRefreshedAt *time.Time
	RefreshInterval time.Duration
	IsArchived      bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Due reports whether a scheduled refresh is overdue at the given instant.
// Segments without a refresh interval are refreshed on demand only.
func (s *Segment) Due(now time.Time) bool {
	if s.Kind != SegmentDynamic || s.RefreshInterval <= 0 {
		return false
	}
	if s.LastRefreshedAt == nil {
		return true
	}
	return now.Sub(*s.LastRefreshedAt) >= s.RefreshInterval
}
