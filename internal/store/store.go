// Package store provides persistence for segment and trigger rule
// definitions, segment membership, and action execution history.
//
// Two implementations: Memory (tests, development) and SQL (sqlite for
// single-node deployments, postgres for production) backed by sqlx and
// dotsql named queries. Filter sets, condition groups, and policies are
// stored as JSON documents so definitions round-trip exactly.
package store

import (
	"context"

	"github.com/cultivar-crm/cultivar/internal/types"
)

// SegmentStore persists segment definitions and membership.
type SegmentStore interface {
	CreateSegment(ctx context.Context, seg *types.Segment) error
	GetSegment(ctx context.Context, id types.SegmentID) (*types.Segment, error)
	ListSegments(ctx context.Context) ([]*types.Segment, error)
	UpdateSegment(ctx context.Context, seg *types.Segment) error
	UpdateSegmentState(ctx context.Context, id types.SegmentID, state types.SegmentState) error

	GetMembers(ctx context.Context, id types.SegmentID) (types.MemberSet, error)
	// PutMembers replaces the stored membership wholesale. Partial writes
	// are never persisted; the segment engine owns write ordering.
	PutMembers(ctx context.Context, id types.SegmentID, members types.MemberSet) error
}

// RuleStore persists trigger rule definitions.
type RuleStore interface {
	CreateRule(ctx context.Context, rule *types.TriggerRule) error
	GetRule(ctx context.Context, id types.RuleID) (*types.TriggerRule, error)
	ListRules(ctx context.Context) ([]*types.TriggerRule, error)
	// ListRulesByKind returns the active rules bound to one event kind.
	ListRulesByKind(ctx context.Context, kind types.EventKind) ([]*types.TriggerRule, error)
	UpdateRule(ctx context.Context, rule *types.TriggerRule) error
	DeleteRule(ctx context.Context, id types.RuleID) error
}

// ExecutionQuery filters execution history listings. Zero fields match all.
type ExecutionQuery struct {
	RuleID  types.RuleID
	EventID types.EventID
	Status  types.ExecutionStatus
	Limit   int
}

// ExecutionLog is the append-only action execution history. Safe for
// concurrent writers across different (action, event) pairs.
type ExecutionLog interface {
	AppendExecution(ctx context.Context, rec types.ActionExecutionRecord) error
	ListExecutions(ctx context.Context, q ExecutionQuery) ([]types.ActionExecutionRecord, error)
	// LastAttempt returns the highest recorded attempt for the pair, 0 if
	// none. Used to keep attempts monotonically increasing across restarts.
	LastAttempt(ctx context.Context, actionID types.ActionID, eventID types.EventID) (int, error)
}

// Store is the full persistence surface assembled by the server.
type Store interface {
	SegmentStore
	RuleStore
	ExecutionLog
}
