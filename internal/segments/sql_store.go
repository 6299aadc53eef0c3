// internal/segments/sql_store.go
package segments

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/practicehq/engage/internal/core/db"
	"github.com/practicehq/engage/internal/types"
)

// SQLStore is a Store backed by SQLite or PostgreSQL. Rule groups are a
// JSON column; membership lives in its own table so ReplaceMembers can swap
// a dynamic segment's materialization atomically.
type SQLStore struct {
	queries *db.Queries
}

// NewSQLStore creates a SQL-backed segment store.
func NewSQLStore(queries *db.Queries) *SQLStore {
	return &SQLStore{queries: queries}
}

type segmentRow struct {
	ID                     string       `db:"id"`
	TenantID               string       `db:"tenant_id"`
	Name                   string       `db:"name"`
	Kind                   string       `db:"kind"`
	RuleGroups             string       `db:"rule_groups"`
	CachedCount            int          `db:"cached_count"`
	LastRefreshedAt        sql.NullTime `db:"last_refreshed_at"`
	RefreshIntervalSeconds int          `db:"refresh_interval_seconds"`
	IsArchived             bool         `db:"is_archived"`
	CreatedAt              time.Time    `db:"created_at"`
	UpdatedAt              time.Time    `db:"updated_at"`
}

func (r segmentRow) toSegment() (*types.Segment, error) {
	segment := &types.Segment{
		ID:              types.SegmentID(r.ID),
		TenantID:        types.TenantID(r.TenantID),
		Name:            r.Name,
		Kind:            types.SegmentKind(r.Kind),
		CachedCount:     r.CachedCount,
		RefreshInterval: time.Duration(r.RefreshIntervalSeconds) * time.Second,
		IsArchived:      r.IsArchived,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(r.RuleGroups), &segment.RuleGroups); err != nil {
		return nil, fmt.Errorf("decoding rule groups for segment %s: %w", r.ID, err)
	}
	if r.LastRefreshedAt.Valid {
		at := r.LastRefreshedAt.Time
		segment.LastRefreshedAt = &at
	}
	return segment, nil
}

func (s *SQLStore) Get(ctx context.Context, tenant types.TenantID, id types.SegmentID) (*types.Segment, error) {
	var row segmentRow
	err := s.queries.Get(ctx, "segment-get", &row, tenant, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("segment %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying segment: %w", err)
	}
	segment, err := row.toSegment()
	if err != nil {
		return nil, err
	}
	if segment.Kind == types.SegmentStatic {
		members, err := s.Members(ctx, tenant, id)
		if err != nil {
			return nil, err
		}
		segment.StaticMemberIDs = members
	}
	return segment, nil
}

func (s *SQLStore) Put(ctx context.Context, segment *types.Segment) error {
	groups, err := json.Marshal(segment.RuleGroups)
	if err != nil {
		return fmt.Errorf("encoding rule groups: %w", err)
	}
	var refreshedAt sql.NullTime
	if segment.LastRefreshedAt != nil {
		refreshedAt = sql.NullTime{Time: *segment.LastRefreshedAt, Valid: true}
	}

	_, err = s.queries.Exec(ctx, "segment-upsert",
		segment.ID, segment.TenantID, segment.Name, segment.Kind,
		string(groups), segment.CachedCount, refreshedAt,
		int(segment.RefreshInterval/time.Second), segment.IsArchived,
		segment.CreatedAt, segment.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting segment: %w", err)
	}

	if segment.Kind == types.SegmentStatic {
		return s.ReplaceMembers(ctx, segment.TenantID, segment.ID, segment.StaticMemberIDs)
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context, tenant types.TenantID) ([]*types.Segment, error) {
	var rows []segmentRow
	if err := s.queries.Select(ctx, "segment-list", &rows, tenant, false); err != nil {
		return nil, fmt.Errorf("querying segments: %w", err)
	}
	out := make([]*types.Segment, 0, len(rows))
	for _, row := range rows {
		segment, err := row.toSegment()
		if err != nil {
			return nil, err
		}
		out = append(out, segment)
	}
	return out, nil
}

func (s *SQLStore) Refreshable(ctx context.Context) ([]*types.Segment, error) {
	var rows []segmentRow
	if err := s.queries.Select(ctx, "segment-refreshable", &rows); err != nil {
		return nil, fmt.Errorf("querying refreshable segments: %w", err)
	}
	out := make([]*types.Segment, 0, len(rows))
	for _, row := range rows {
		segment, err := row.toSegment()
		if err != nil {
			return nil, err
		}
		out = append(out, segment)
	}
	return out, nil
}

func (s *SQLStore) Archive(ctx context.Context, tenant types.TenantID, id types.SegmentID) error {
	result, err := s.queries.Exec(ctx, "segment-archive", true, time.Now().UTC(), tenant, id)
	if err != nil {
		return fmt.Errorf("archiving segment: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("segment %s: %w", id, types.ErrNotFound)
	}
	return nil
}

func (s *SQLStore) Members(ctx context.Context, tenant types.TenantID, id types.SegmentID) ([]types.PatientID, error) {
	var raw []string
	if err := s.queries.Select(ctx, "segment-members", &raw, tenant, id); err != nil {
		return nil, fmt.Errorf("querying members: %w", err)
	}
	members := make([]types.PatientID, 0, len(raw))
	for _, patient := range raw {
		members = append(members, types.PatientID(patient))
	}
	return members, nil
}

func (s *SQLStore) ReplaceMembers(ctx context.Context, tenant types.TenantID, id types.SegmentID, members []types.PatientID) error {
	clear, err := s.queries.Raw("segment-members-clear")
	if err != nil {
		return err
	}
	insert, err := s.queries.Raw("segment-member-insert")
	if err != nil {
		return err
	}

	// Clear-and-reinsert inside one transaction: readers see either the old
	// or the new materialization, never a half-swapped one.
	return s.queries.Tx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, clear, tenant, id); err != nil {
			return fmt.Errorf("clearing members: %w", err)
		}
		for _, patient := range members {
			if _, err := tx.ExecContext(ctx, insert, tenant, id, patient); err != nil {
				return fmt.Errorf("inserting member %s: %w", patient, err)
			}
		}
		return nil
	})
}

func (s *SQLStore) AddMember(ctx context.Context, tenant types.TenantID, id types.SegmentID, patient types.PatientID) error {
	if _, err := s.queries.Exec(ctx, "segment-member-insert", tenant, id, patient); err != nil {
		return fmt.Errorf("adding member: %w", err)
	}
	return nil
}

func (s *SQLStore) RemoveMember(ctx context.Context, tenant types.TenantID, id types.SegmentID, patient types.PatientID) error {
	if _, err := s.queries.Exec(ctx, "segment-member-delete", tenant, id, patient); err != nil {
		return fmt.Errorf("removing member: %w", err)
	}
	return nil
}

func (s *SQLStore) UpdateRefresh(ctx context.Context, tenant types.TenantID, id types.SegmentID, count int, at time.Time) error {
	result, err := s.queries.Exec(ctx, "segment-update-refresh", count, at, at, tenant, id)
	if err != nil {
		return fmt.Errorf("updating refresh: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("segment %s: %w", id, types.ErrNotFound)
	}
	return nil
}
