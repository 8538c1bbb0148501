// internal/store/sqlstore.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cultivar-crm/cultivar/internal/core/db"
	"github.com/cultivar-crm/cultivar/internal/types"
)

/*
 * SQL-backed store.
 *
 * Definitions (filter sets, condition groups, policies) persist as JSON
 * documents inside relational rows, so a stored segment or rule
 * deserializes to exactly what was authored. Membership and execution
 * history are plain relational tables.
 *
 * Timestamps are stored as RFC3339 UTC strings in both drivers; one scan
 * path serves sqlite and postgres.
 */

const listDefaultLimit = 1000

// SQL implements Store and types.SnapshotSource on top of the named query
// set in internal/core/db.
type SQL struct {
	q    *db.Queries
	conn *sqlx.DB
}

// NewSQL wraps an open connection. Callers run migrations first.
func NewSQL(conn *sqlx.DB) (*SQL, error) {
	q, err := db.LoadQueries(conn)
	if err != nil {
		return nil, err
	}
	return &SQL{q: q, conn: conn}, nil
}

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

func fmtTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: fmtTime(*t), Valid: true}
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// segmentRow mirrors the segments table.
type segmentRow struct {
	ID            string         `db:"segment_id"`
	Name          string         `db:"name"`
	Category      string         `db:"category"`
	Processing    string         `db:"processing"`
	State         string         `db:"state"`
	InclusionJSON string         `db:"inclusion_json"`
	RemovalJSON   string         `db:"removal_json"`
	RemovalAction string         `db:"removal_action"`
	InactiveAsOf  sql.NullString `db:"inactive_as_of"`
	CreatedAt     string         `db:"created_at"`
	UpdatedAt     string         `db:"updated_at"`
}

func segmentToRow(seg *types.Segment) (segmentRow, error) {
	inclusion, err := json.Marshal(seg.Inclusion)
	if err != nil {
		return segmentRow{}, fmt.Errorf("marshaling inclusion filters: %w", err)
	}
	removal, err := json.Marshal(seg.Removal)
	if err != nil {
		return segmentRow{}, fmt.Errorf("marshaling removal filters: %w", err)
	}
	return segmentRow{
		ID:            string(seg.ID),
		Name:          seg.Name,
		Category:      seg.Category,
		Processing:    string(seg.Processing),
		State:         string(seg.State),
		InclusionJSON: string(inclusion),
		RemovalJSON:   string(removal),
		RemovalAction: string(seg.RemovalAction),
		InactiveAsOf:  fmtTimePtr(seg.InactiveAsOf),
		CreatedAt:     fmtTime(seg.CreatedAt),
		UpdatedAt:     fmtTime(seg.UpdatedAt),
	}, nil
}

func rowToSegment(row segmentRow) (*types.Segment, error) {
	seg := &types.Segment{
		ID:            types.SegmentID(row.ID),
		Name:          row.Name,
		Category:      row.Category,
		Processing:    types.ProcessingType(row.Processing),
		State:         types.SegmentState(row.State),
		RemovalAction: types.RemovalAction(row.RemovalAction),
	}
	if err := json.Unmarshal([]byte(row.InclusionJSON), &seg.Inclusion); err != nil {
		return nil, fmt.Errorf("unmarshaling inclusion filters for %s: %w", row.ID, err)
	}
	if err := json.Unmarshal([]byte(row.RemovalJSON), &seg.Removal); err != nil {
		return nil, fmt.Errorf("unmarshaling removal filters for %s: %w", row.ID, err)
	}
	var err error
	if seg.InactiveAsOf, err = parseTimePtr(row.InactiveAsOf); err != nil {
		return nil, fmt.Errorf("parsing inactive_as_of for %s: %w", row.ID, err)
	}
	if seg.CreatedAt, err = parseTime(row.CreatedAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for %s: %w", row.ID, err)
	}
	if seg.UpdatedAt, err = parseTime(row.UpdatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at for %s: %w", row.ID, err)
	}
	return seg, nil
}

// CreateSegment stores a new segment definition. Missing timestamps are
// filled in; the caller's struct is updated to match what was stored.
func (s *SQL) CreateSegment(ctx context.Context, seg *types.Segment) error {
	now := time.Now().UTC()
	if seg.CreatedAt.IsZero() {
		seg.CreatedAt = now
	}
	seg.UpdatedAt = now

	row, err := segmentToRow(seg)
	if err != nil {
		return err
	}
	_, err = s.q.Exec(ctx, "create-segment",
		row.ID, row.Name, row.Category, row.Processing, row.State,
		row.InclusionJSON, row.RemovalJSON, row.RemovalAction,
		row.InactiveAsOf, row.CreatedAt, row.UpdatedAt)
	return err
}

func (s *SQL) GetSegment(ctx context.Context, id types.SegmentID) (*types.Segment, error) {
	var row segmentRow
	if err := s.q.Get(ctx, "get-segment", &row, string(id)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrSegmentNotFound
		}
		return nil, err
	}
	return rowToSegment(row)
}

func (s *SQL) ListSegments(ctx context.Context) ([]*types.Segment, error) {
	var rows []segmentRow
	if err := s.q.Select(ctx, "list-segments", &rows); err != nil {
		return nil, err
	}
	out := make([]*types.Segment, 0, len(rows))
	for _, row := range rows {
		seg, err := rowToSegment(row)
		if err != nil {
			return nil, err
		}
		out = append(out, seg)
	}
	return out, nil
}

func (s *SQL) UpdateSegment(ctx context.Context, seg *types.Segment) error {
	seg.UpdatedAt = time.Now().UTC()
	row, err := segmentToRow(seg)
	if err != nil {
		return err
	}
	res, err := s.q.Exec(ctx, "update-segment",
		row.Name, row.Category, row.Processing, row.State,
		row.InclusionJSON, row.RemovalJSON, row.RemovalAction,
		row.InactiveAsOf, row.UpdatedAt, row.ID)
	if err != nil {
		return err
	}
	return requireRow(res, types.ErrSegmentNotFound)
}

func (s *SQL) UpdateSegmentState(ctx context.Context, id types.SegmentID, state types.SegmentState) error {
	res, err := s.q.Exec(ctx, "update-segment-state",
		string(state), fmtTime(time.Now().UTC()), string(id))
	if err != nil {
		return err
	}
	return requireRow(res, types.ErrSegmentNotFound)
}

type memberRow struct {
	DonorID       string         `db:"donor_id"`
	Inactive      int            `db:"inactive"`
	InactiveSince sql.NullString `db:"inactive_since"`
}

func (s *SQL) GetMembers(ctx context.Context, id types.SegmentID) (types.MemberSet, error) {
	if _, err := s.GetSegment(ctx, id); err != nil {
		return nil, err
	}
	var rows []memberRow
	if err := s.q.Select(ctx, "list-members", &rows, string(id)); err != nil {
		return nil, err
	}
	members := make(types.MemberSet, len(rows))
	for _, row := range rows {
		since, err := parseTimePtr(row.InactiveSince)
		if err != nil {
			return nil, fmt.Errorf("parsing inactive_since for %s/%s: %w", id, row.DonorID, err)
		}
		members[types.DonorID(row.DonorID)] = types.Member{
			DonorID:       types.DonorID(row.DonorID),
			Inactive:      row.Inactive != 0,
			InactiveSince: since,
		}
	}
	return members, nil
}

// PutMembers replaces membership in one transaction, so readers never see a
// half-written set.
func (s *SQL) PutMembers(ctx context.Context, id types.SegmentID, members types.MemberSet) error {
	if _, err := s.GetSegment(ctx, id); err != nil {
		return err
	}
	deleteStmt, err := s.q.Raw("delete-members")
	if err != nil {
		return err
	}
	insertStmt, err := s.q.Raw("insert-member")
	if err != nil {
		return err
	}
	return s.q.Tx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, deleteStmt, string(id)); err != nil {
			return err
		}
		for donorID, m := range members {
			inactive := 0
			if m.Inactive {
				inactive = 1
			}
			if _, err := tx.ExecContext(ctx, insertStmt,
				string(id), string(donorID), inactive, fmtTimePtr(m.InactiveSince)); err != nil {
				return err
			}
		}
		return nil
	})
}

// ruleRow mirrors the trigger_rules table.
type ruleRow struct {
	ID         string `db:"rule_id"`
	Name       string `db:"name"`
	EventKind  string `db:"event_kind"`
	GroupsJSON string `db:"groups_json"`
	PolicyJSON string `db:"policy_json"`
	Active     int    `db:"active"`
	CreatedAt  string `db:"created_at"`
	UpdatedAt  string `db:"updated_at"`
}

func ruleToRow(rule *types.TriggerRule) (ruleRow, error) {
	groups, err := json.Marshal(rule.Groups)
	if err != nil {
		return ruleRow{}, fmt.Errorf("marshaling condition groups: %w", err)
	}
	policy, err := json.Marshal(rule.Policy)
	if err != nil {
		return ruleRow{}, fmt.Errorf("marshaling policy: %w", err)
	}
	active := 0
	if rule.Active {
		active = 1
	}
	return ruleRow{
		ID:         string(rule.ID),
		Name:       rule.Name,
		EventKind:  string(rule.EventKind),
		GroupsJSON: string(groups),
		PolicyJSON: string(policy),
		Active:     active,
		CreatedAt:  fmtTime(rule.CreatedAt),
		UpdatedAt:  fmtTime(rule.UpdatedAt),
	}, nil
}

func rowToRule(row ruleRow) (*types.TriggerRule, error) {
	rule := &types.TriggerRule{
		ID:        types.RuleID(row.ID),
		Name:      row.Name,
		EventKind: types.EventKind(row.EventKind),
		Active:    row.Active != 0,
	}
	if err := json.Unmarshal([]byte(row.GroupsJSON), &rule.Groups); err != nil {
		return nil, fmt.Errorf("unmarshaling groups for %s: %w", row.ID, err)
	}
	if err := json.Unmarshal([]byte(row.PolicyJSON), &rule.Policy); err != nil {
		return nil, fmt.Errorf("unmarshaling policy for %s: %w", row.ID, err)
	}
	var err error
	if rule.CreatedAt, err = parseTime(row.CreatedAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for %s: %w", row.ID, err)
	}
	if rule.UpdatedAt, err = parseTime(row.UpdatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at for %s: %w", row.ID, err)
	}
	return rule, nil
}

func (s *SQL) CreateRule(ctx context.Context, rule *types.TriggerRule) error {
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	row, err := ruleToRow(rule)
	if err != nil {
		return err
	}
	_, err = s.q.Exec(ctx, "create-rule",
		row.ID, row.Name, row.EventKind, row.GroupsJSON, row.PolicyJSON,
		row.Active, row.CreatedAt, row.UpdatedAt)
	return err
}

func (s *SQL) GetRule(ctx context.Context, id types.RuleID) (*types.TriggerRule, error) {
	var row ruleRow
	if err := s.q.Get(ctx, "get-rule", &row, string(id)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrRuleNotFound
		}
		return nil, err
	}
	return rowToRule(row)
}

func (s *SQL) ListRules(ctx context.Context) ([]*types.TriggerRule, error) {
	return s.selectRules(ctx, "list-rules")
}

func (s *SQL) ListRulesByKind(ctx context.Context, kind types.EventKind) ([]*types.TriggerRule, error) {
	return s.selectRules(ctx, "list-rules-by-kind", string(kind))
}

func (s *SQL) selectRules(ctx context.Context, query string, args ...interface{}) ([]*types.TriggerRule, error) {
	var rows []ruleRow
	if err := s.q.Select(ctx, query, &rows, args...); err != nil {
		return nil, err
	}
	out := make([]*types.TriggerRule, 0, len(rows))
	for _, row := range rows {
		rule, err := rowToRule(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, nil
}

func (s *SQL) UpdateRule(ctx context.Context, rule *types.TriggerRule) error {
	rule.UpdatedAt = time.Now().UTC()
	row, err := ruleToRow(rule)
	if err != nil {
		return err
	}
	res, err := s.q.Exec(ctx, "update-rule",
		row.Name, row.EventKind, row.GroupsJSON, row.PolicyJSON,
		row.Active, row.UpdatedAt, row.ID)
	if err != nil {
		return err
	}
	return requireRow(res, types.ErrRuleNotFound)
}

func (s *SQL) DeleteRule(ctx context.Context, id types.RuleID) error {
	res, err := s.q.Exec(ctx, "delete-rule", string(id))
	if err != nil {
		return err
	}
	return requireRow(res, types.ErrRuleNotFound)
}

// execRow mirrors action_executions; occurred_at is a string column.
type execRow struct {
	ID         string `db:"execution_id"`
	ActionID   string `db:"action_id"`
	RuleID     string `db:"rule_id"`
	EventID    string `db:"event_id"`
	Attempt    int    `db:"attempt"`
	Status     string `db:"status"`
	Detail     string `db:"detail"`
	OccurredAt string `db:"occurred_at"`
}

func (s *SQL) AppendExecution(ctx context.Context, rec types.ActionExecutionRecord) error {
	_, err := s.q.Exec(ctx, "append-execution",
		string(rec.ID), string(rec.ActionID), string(rec.RuleID), string(rec.EventID),
		rec.Attempt, string(rec.Status), rec.Detail, fmtTime(rec.At))
	return err
}

func (s *SQL) ListExecutions(ctx context.Context, q ExecutionQuery) ([]types.ActionExecutionRecord, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = listDefaultLimit
	}
	var rows []execRow
	err := s.q.Select(ctx, "list-executions", &rows,
		string(q.RuleID), string(q.RuleID),
		string(q.EventID), string(q.EventID),
		string(q.Status), string(q.Status),
		limit)
	if err != nil {
		return nil, err
	}
	out := make([]types.ActionExecutionRecord, 0, len(rows))
	for _, row := range rows {
		at, err := parseTime(row.OccurredAt)
		if err != nil {
			return nil, fmt.Errorf("parsing occurred_at for %s: %w", row.ID, err)
		}
		out = append(out, types.ActionExecutionRecord{
			ID:       types.ExecutionID(row.ID),
			ActionID: types.ActionID(row.ActionID),
			RuleID:   types.RuleID(row.RuleID),
			EventID:  types.EventID(row.EventID),
			Attempt:  row.Attempt,
			Status:   types.ExecutionStatus(row.Status),
			Detail:   row.Detail,
			At:       at,
		})
	}
	return out, nil
}

func (s *SQL) LastAttempt(ctx context.Context, actionID types.ActionID, eventID types.EventID) (int, error) {
	var last int
	if err := s.q.Get(ctx, "last-attempt", &last, string(actionID), string(eventID)); err != nil {
		return 0, err
	}
	return last, nil
}

// UpsertDonor writes one donor record to the snapshot table.
func (s *SQL) UpsertDonor(ctx context.Context, rec types.DonorRecord) error {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("marshaling donor fields: %w", err)
	}
	_, err = s.q.Exec(ctx, "upsert-donor", string(rec.ID), string(fields))
	return err
}

// DeleteDonor removes a donor from the snapshot table.
func (s *SQL) DeleteDonor(ctx context.Context, id types.DonorID) error {
	_, err := s.q.Exec(ctx, "delete-donor", string(id))
	return err
}

type donorRow struct {
	ID         string `db:"donor_id"`
	FieldsJSON string `db:"fields_json"`
}

func rowToDonor(row donorRow) (types.DonorRecord, error) {
	rec := types.DonorRecord{ID: types.DonorID(row.ID)}
	if err := json.Unmarshal([]byte(row.FieldsJSON), &rec.Fields); err != nil {
		return types.DonorRecord{}, fmt.Errorf("unmarshaling fields for %s: %w", row.ID, err)
	}
	return rec, nil
}

// FetchSnapshot implements types.SnapshotSource. The fields hint is unused;
// rows carry the full field document either way.
func (s *SQL) FetchSnapshot(ctx context.Context, _ []types.FieldName) ([]types.DonorRecord, error) {
	var rows []donorRow
	if err := s.q.Select(ctx, "list-donors", &rows); err != nil {
		return nil, err
	}
	out := make([]types.DonorRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := rowToDonor(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// FetchDonor implements types.SnapshotSource.
func (s *SQL) FetchDonor(ctx context.Context, id types.DonorID) (types.DonorRecord, error) {
	var row donorRow
	if err := s.q.Get(ctx, "get-donor", &row, string(id)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.DonorRecord{}, types.ErrDonorNotFound
		}
		return types.DonorRecord{}, err
	}
	return rowToDonor(row)
}

// requireRow converts a zero-row update into notFound. Drivers that can't
// report affected rows pass through as success.
func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return nil
	}
	if n == 0 {
		return notFound
	}
	return nil
}
