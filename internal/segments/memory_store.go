// internal/segments/memory_store.go
package segments

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/practicehq/engage/internal/types"
)

// MemoryStore is an in-memory Store for unit tests and single-node
// development. Safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	segments map[segmentKey]*types.Segment
	members  map[segmentKey]map[types.PatientID]struct{}
}

type segmentKey struct {
	tenant types.TenantID
	id     types.SegmentID
}

// NewMemoryStore creates an empty in-memory segment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		segments: make(map[segmentKey]*types.Segment),
		members:  make(map[segmentKey]map[types.PatientID]struct{}),
	}
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, tenant types.TenantID, id types.SegmentID) (*types.Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	segment, ok := s.segments[segmentKey{tenant, id}]
	if !ok {
		return nil, fmt.Errorf("segment %s: %w", id, types.ErrNotFound)
	}
	out := cloneSegment(segment)
	if segment.Kind == types.SegmentStatic {
		out.StaticMemberIDs = s.memberList(segmentKey{tenant, id})
	}
	return out, nil
}

// Put implements Store.
func (s *MemoryStore) Put(ctx context.Context, segment *types.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := segmentKey{segment.TenantID, segment.ID}
	s.segments[key] = cloneSegment(segment)
	if segment.Kind == types.SegmentStatic {
		set := make(map[types.PatientID]struct{}, len(segment.StaticMemberIDs))
		for _, id := range segment.StaticMemberIDs {
			set[id] = struct{}{}
		}
		s.members[key] = set
	}
	return nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context, tenant types.TenantID) ([]*types.Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Segment
	for key, segment := range s.segments {
		if key.tenant != tenant || segment.IsArchived {
			continue
		}
		out = append(out, cloneSegment(segment))
	}
	return out, nil
}

// Refreshable implements Store.
func (s *MemoryStore) Refreshable(ctx context.Context) ([]*types.Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Segment
	for _, segment := range s.segments {
		if segment.IsArchived || segment.Kind != types.SegmentDynamic || segment.RefreshInterval <= 0 {
			continue
		}
		out = append(out, cloneSegment(segment))
	}
	return out, nil
}

// Archive implements Store.
func (s *MemoryStore) Archive(ctx context.Context, tenant types.TenantID, id types.SegmentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	segment, ok := s.segments[segmentKey{tenant, id}]
	if !ok {
		return fmt.Errorf("segment %s: %w", id, types.ErrNotFound)
	}
	segment.IsArchived = true
	return nil
}

// Members implements Store.
func (s *MemoryStore) Members(ctx context.Context, tenant types.TenantID, id types.SegmentID) ([]types.PatientID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.segments[segmentKey{tenant, id}]; !ok {
		return nil, fmt.Errorf("segment %s: %w", id, types.ErrNotFound)
	}
	return s.memberList(segmentKey{tenant, id}), nil
}

// ReplaceMembers implements Store.
func (s *MemoryStore) ReplaceMembers(ctx context.Context, tenant types.TenantID, id types.SegmentID, members []types.PatientID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := make(map[types.PatientID]struct{}, len(members))
	for _, member := range members {
		set[member] = struct{}{}
	}
	s.members[segmentKey{tenant, id}] = set
	return nil
}

// AddMember implements Store.
func (s *MemoryStore) AddMember(ctx context.Context, tenant types.TenantID, id types.SegmentID, patient types.PatientID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := segmentKey{tenant, id}
	if _, ok := s.segments[key]; !ok {
		return fmt.Errorf("segment %s: %w", id, types.ErrNotFound)
	}
	if s.members[key] == nil {
		s.members[key] = make(map[types.PatientID]struct{})
	}
	s.members[key][patient] = struct{}{}
	return nil
}

// RemoveMember implements Store.
func (s *MemoryStore) RemoveMember(ctx context.Context, tenant types.TenantID, id types.SegmentID, patient types.PatientID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := segmentKey{tenant, id}
	if _, ok := s.segments[key]; !ok {
		return fmt.Errorf("segment %s: %w", id, types.ErrNotFound)
	}
	delete(s.members[key], patient)
	return nil
}

// UpdateRefresh implements Store.
func (s *MemoryStore) UpdateRefresh(ctx context.Context, tenant types.TenantID, id types.SegmentID, count int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	segment, ok := s.segments[segmentKey{tenant, id}]
	if !ok {
		return fmt.Errorf("segment %s: %w", id, types.ErrNotFound)
	}
	segment.CachedCount = count
	refreshedAt := at
	segment.LastRefreshedAt = &refreshedAt
	return nil
}

func (s *MemoryStore) memberList(key segmentKey) []types.PatientID {
	set := s.members[key]
	out := make([]types.PatientID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

func cloneSegment(in *types.Segment) *types.Segment {
	out := *in
	out.RuleGroups = append([]types.RuleGroup(nil), in.RuleGroups...)
	out.StaticMemberIDs = append([]types.PatientID(nil), in.StaticMemberIDs...)
	if in.LastRefreshedAt != nil {
		at := *in.LastRefreshedAt
		out.LastRefreshedAt = &at
	}
	return &out
}
