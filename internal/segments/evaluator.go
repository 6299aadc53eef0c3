// internal/segments/evaluator.go
package segments

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/practicehq/engage/internal/clock"
	"github.com/practicehq/engage/internal/rules"
	"github.com/practicehq/engage/internal/types"
)

/*
 * Segment evaluation.
 *
 * EvaluateGroup walks a nested AND/OR rule tree against one snapshot:
 *   - AND short-circuits on the first false rule or subgroup
 *   - OR short-circuits on the first true rule or subgroup
 *   - an empty group (no rules, no subgroups) is vacuously true
 *   - nesting beyond types.MaxGroupDepth is ErrGroupTooDeep
 *
 * Rules evaluate before subgroups within a group; both orders follow the
 * stored declaration order so short-circuit behavior is deterministic.
 *
 * MembersOf re-evaluates DYNAMIC segments against the full eligible patient
 * population from the attribute source; STATIC segments return the stored
 * member list unchanged. Refresh materializes dynamic membership and updates
 * the segment's cache fields (cachedCount, lastRefreshedAt) — callers own
 * the refresh cadence. Readers of membership tolerate eventual consistency
 * with a refresh in progress.
 */

// AttributeSource supplies read-only patient snapshots, implemented by the
// patient/billing/scheduling domains.
type AttributeSource interface {
	// Patients lists the eligible patient population for a tenant.
	Patients(ctx context.Context, tenant types.TenantID) ([]types.PatientID, error)
	// AttributesOf returns one patient's attribute snapshot.
	AttributesOf(ctx context.Context, tenant types.TenantID, patient types.PatientID) (rules.Snapshot, error)
}

// MemberSet is a set of patient identifiers.
type MemberSet map[types.PatientID]struct{}

// Difference returns the members of a not present in b. Campaign exclusion
// lists (excludeSegmentIds) are applied by callers as this set-difference.
func Difference(a, b MemberSet) MemberSet {
	out := make(MemberSet, len(a))
	for id := range a {
		if _, excluded := b[id]; !excluded {
			out[id] = struct{}{}
		}
	}
	return out
}

// EvaluateGroup recursively evaluates one rule group against a snapshot.
func EvaluateGroup(group types.RuleGroup, snapshot *rules.Snapshot) (bool, error) {
	return evaluateGroup(group, snapshot, 1)
}

func evaluateGroup(group types.RuleGroup, snapshot *rules.Snapshot, depth int) (bool, error) {
	if depth > types.MaxGroupDepth {
		return false, fmt.Errorf("%w: depth %d", types.ErrGroupTooDeep, depth)
	}
	if len(group.Rules) == 0 && len(group.Groups) == 0 {
		// No filter: vacuously true for both AND and OR.
		return true, nil
	}

	isAnd := group.Operator != types.GroupOr

	for _, rule := range group.Rules {
		matched, err := rules.Evaluate(rule, snapshot)
		if err != nil {
			return false, err
		}
		if isAnd && !matched {
			return false, nil
		}
		if !isAnd && matched {
			return true, nil
		}
	}

	for _, sub := range group.Groups {
		matched, err := evaluateGroup(sub, snapshot, depth+1)
		if err != nil {
			return false, err
		}
		if isAnd && !matched {
			return false, nil
		}
		if !isAnd && matched {
			return true, nil
		}
	}

	// AND exhausted without a false member; OR exhausted without a true one.
	return isAnd, nil
}

// Matches reports whether a snapshot satisfies all of a segment's rule
// groups (groups combine as AND, matching stored definitions).
func Matches(segment *types.Segment, snapshot *rules.Snapshot) (bool, error) {
	for _, group := range segment.RuleGroups {
		ok, err := EvaluateGroup(group, snapshot)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Evaluator computes segment membership against the attribute source and
// maintains segment cache fields through the store.
type Evaluator struct {
	store  Store
	attrs  AttributeSource
	clock  clock.Clock
	logger *slog.Logger
}

// NewEvaluator creates a segment evaluator.
func NewEvaluator(store Store, attrs AttributeSource, clk clock.Clock, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{store: store, attrs: attrs, clock: clk, logger: logger}
}

// MembersOf returns the current member set of a segment.
// DYNAMIC segments are re-evaluated against the full eligible population;
// STATIC segments return the stored set unchanged.
func (e *Evaluator) MembersOf(ctx context.Context, segment *types.Segment) (MemberSet, error) {
	if segment.Kind == types.SegmentStatic {
		out := make(MemberSet, len(segment.StaticMemberIDs))
		for _, id := range segment.StaticMemberIDs {
			out[id] = struct{}{}
		}
		return out, nil
	}

	patients, err := e.attrs.Patients(ctx, segment.TenantID)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}

	members := make(MemberSet)
	for _, patient := range patients {
		snapshot, err := e.attrs.AttributesOf(ctx, segment.TenantID, patient)
		if err != nil {
			return nil, fmt.Errorf("attributes of %s: %w", patient, err)
		}
		ok, err := Matches(segment, &snapshot)
		if err != nil {
			return nil, err
		}
		if ok {
			members[patient] = struct{}{}
		}
	}
	return members, nil
}

// Refresh recomputes a dynamic segment's membership, materializes it in the
// store, and updates cachedCount/lastRefreshedAt. STATIC segments only get
// their cache fields synchronized with the stored member list.
func (e *Evaluator) Refresh(ctx context.Context, segment *types.Segment) error {
	members, err := e.MembersOf(ctx, segment)
	if err != nil {
		return err
	}

	now := e.clock.Now()
	if segment.Kind == types.SegmentDynamic {
		ids := make([]types.PatientID, 0, len(members))
		for id := range members {
			ids = append(ids, id)
		}
		if err := e.store.ReplaceMembers(ctx, segment.TenantID, segment.ID, ids); err != nil {
			return fmt.Errorf("replace members: %w", err)
		}
	}

	segment.CachedCount = len(members)
	segment.LastRefreshedAt = &now
	if err := e.store.UpdateRefresh(ctx, segment.TenantID, segment.ID, len(members), now); err != nil {
		return fmt.Errorf("update refresh: %w", err)
	}

	e.logger.Info("segment refreshed",
		"segment", segment.ID, "tenant", segment.TenantID,
		"kind", segment.Kind, "members", len(members))
	return nil
}
