// internal/store/memory.go
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cultivar-crm/cultivar/internal/types"
)

// Memory is an in-process Store plus SnapshotSource. Used by tests and the
// development server. Thread-safe via RWMutex.
type Memory struct {
	mu       sync.RWMutex
	segments map[types.SegmentID]*types.Segment
	members  map[types.SegmentID]types.MemberSet
	rules    map[types.RuleID]*types.TriggerRule
	execs    []types.ActionExecutionRecord
	donors   map[types.DonorID]types.DonorRecord
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		segments: make(map[types.SegmentID]*types.Segment),
		members:  make(map[types.SegmentID]types.MemberSet),
		rules:    make(map[types.RuleID]*types.TriggerRule),
		donors:   make(map[types.DonorID]types.DonorRecord),
	}
}

// SeedDonors loads donor records into the snapshot source.
func (m *Memory) SeedDonors(records ...types.DonorRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range records {
		m.donors[rec.ID] = rec
	}
}

// UpsertDonor writes one donor record, replacing any existing record.
func (m *Memory) UpsertDonor(_ context.Context, rec types.DonorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.donors[rec.ID] = rec
	return nil
}

// RemoveDonor drops a donor from the snapshot source.
func (m *Memory) RemoveDonor(id types.DonorID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.donors, id)
}

// FetchSnapshot implements types.SnapshotSource. Records are returned in
// donor-ID order for deterministic scans.
func (m *Memory) FetchSnapshot(_ context.Context, _ []types.FieldName) ([]types.DonorRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.DonorRecord, 0, len(m.donors))
	for _, rec := range m.donors {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FetchDonor implements types.SnapshotSource.
func (m *Memory) FetchDonor(_ context.Context, id types.DonorID) (types.DonorRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.donors[id]
	if !ok {
		return types.DonorRecord{}, types.ErrDonorNotFound
	}
	return rec, nil
}

func copySegment(seg *types.Segment) *types.Segment {
	out := *seg
	out.Inclusion = append(types.FilterSet(nil), seg.Inclusion...)
	out.Removal = append(types.FilterSet(nil), seg.Removal...)
	return &out
}

// CreateSegment implements SegmentStore.
func (m *Memory) CreateSegment(_ context.Context, seg *types.Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	seg.CreatedAt, seg.UpdatedAt = now, now
	m.segments[seg.ID] = copySegment(seg)
	m.members[seg.ID] = types.MemberSet{}
	return nil
}

// GetSegment implements SegmentStore.
func (m *Memory) GetSegment(_ context.Context, id types.SegmentID) (*types.Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seg, ok := m.segments[id]
	if !ok {
		return nil, types.ErrSegmentNotFound
	}
	return copySegment(seg), nil
}

// ListSegments implements SegmentStore.
func (m *Memory) ListSegments(_ context.Context) ([]*types.Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.Segment, 0, len(m.segments))
	for _, seg := range m.segments {
		out = append(out, copySegment(seg))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateSegment implements SegmentStore.
func (m *Memory) UpdateSegment(_ context.Context, seg *types.Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.segments[seg.ID]
	if !ok {
		return types.ErrSegmentNotFound
	}
	seg.CreatedAt = existing.CreatedAt
	seg.UpdatedAt = time.Now().UTC()
	m.segments[seg.ID] = copySegment(seg)
	return nil
}

// UpdateSegmentState implements SegmentStore.
func (m *Memory) UpdateSegmentState(_ context.Context, id types.SegmentID, state types.SegmentState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	seg, ok := m.segments[id]
	if !ok {
		return types.ErrSegmentNotFound
	}
	seg.State = state
	seg.UpdatedAt = time.Now().UTC()
	return nil
}

// GetMembers implements SegmentStore.
func (m *Memory) GetMembers(_ context.Context, id types.SegmentID) (types.MemberSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.segments[id]; !ok {
		return nil, types.ErrSegmentNotFound
	}
	return m.members[id].Clone(), nil
}

// PutMembers implements SegmentStore.
func (m *Memory) PutMembers(_ context.Context, id types.SegmentID, members types.MemberSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.segments[id]; !ok {
		return types.ErrSegmentNotFound
	}
	m.members[id] = members.Clone()
	return nil
}

func copyRule(rule *types.TriggerRule) *types.TriggerRule {
	out := *rule
	out.Groups = make([]types.ConditionGroup, len(rule.Groups))
	for i, g := range rule.Groups {
		out.Groups[i] = types.ConditionGroup{
			Rows:    append([]types.ConditionRow(nil), g.Rows...),
			Actions: append([]types.Action(nil), g.Actions...),
		}
	}
	return &out
}

// CreateRule implements RuleStore.
func (m *Memory) CreateRule(_ context.Context, rule *types.TriggerRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	rule.CreatedAt, rule.UpdatedAt = now, now
	m.rules[rule.ID] = copyRule(rule)
	return nil
}

// GetRule implements RuleStore.
func (m *Memory) GetRule(_ context.Context, id types.RuleID) (*types.TriggerRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rule, ok := m.rules[id]
	if !ok {
		return nil, types.ErrRuleNotFound
	}
	return copyRule(rule), nil
}

// ListRules implements RuleStore.
func (m *Memory) ListRules(_ context.Context) ([]*types.TriggerRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.TriggerRule, 0, len(m.rules))
	for _, rule := range m.rules {
		out = append(out, copyRule(rule))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListRulesByKind implements RuleStore.
func (m *Memory) ListRulesByKind(_ context.Context, kind types.EventKind) ([]*types.TriggerRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.TriggerRule
	for _, rule := range m.rules {
		if rule.EventKind == kind && rule.Active {
			out = append(out, copyRule(rule))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateRule implements RuleStore.
func (m *Memory) UpdateRule(_ context.Context, rule *types.TriggerRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.rules[rule.ID]
	if !ok {
		return types.ErrRuleNotFound
	}
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now().UTC()
	m.rules[rule.ID] = copyRule(rule)
	return nil
}

// DeleteRule implements RuleStore.
func (m *Memory) DeleteRule(_ context.Context, id types.RuleID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[id]; !ok {
		return types.ErrRuleNotFound
	}
	delete(m.rules, id)
	return nil
}

// AppendExecution implements ExecutionLog.
func (m *Memory) AppendExecution(_ context.Context, rec types.ActionExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.execs = append(m.execs, rec)
	return nil
}

// ListExecutions implements ExecutionLog. Records are returned oldest
// first, matching the append order.
func (m *Memory) ListExecutions(_ context.Context, q ExecutionQuery) ([]types.ActionExecutionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.ActionExecutionRecord
	for _, rec := range m.execs {
		if q.RuleID != "" && rec.RuleID != q.RuleID {
			continue
		}
		if q.EventID != "" && rec.EventID != q.EventID {
			continue
		}
		if q.Status != "" && rec.Status != q.Status {
			continue
		}
		out = append(out, rec)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

// LastAttempt implements ExecutionLog.
func (m *Memory) LastAttempt(_ context.Context, actionID types.ActionID, eventID types.EventID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	last := 0
	for _, rec := range m.execs {
		if rec.ActionID == actionID && rec.EventID == eventID && rec.Attempt > last {
			last = rec.Attempt
		}
	}
	return last, nil
}
