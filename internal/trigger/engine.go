// internal/trigger/engine.go
package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cultivar-crm/cultivar/internal/filter"
	"github.com/cultivar-crm/cultivar/internal/store"
	"github.com/cultivar-crm/cultivar/internal/types"
)

/*
 * Trigger rule engine.
 *
 * Ingests donor activity events and evaluates every active rule registered
 * for the event's kind. A rule's condition groups are independent IF
 * clauses: each group that matches enqueues its own actions with the rule's
 * execution policy. A group that fails to compile (stale field vocabulary,
 * malformed clause) is skipped with a warning; its sibling groups still
 * evaluate. Rules are validated at authoring time, so a skipped group at
 * evaluation time indicates drift and is worth the log line.
 *
 * Submission is synchronous through condition evaluation and enqueueing;
 * action execution itself is the dispatcher's business.
 */

// Enqueuer hands matched actions to the dispatcher.
type Enqueuer interface {
	Enqueue(ctx context.Context, ruleID types.RuleID, action types.Action, policy types.ExecutionPolicy, event types.Event) (types.ActionExecutionRecord, error)
}

// Engine evaluates trigger rules against incoming events.
type Engine struct {
	rules  store.RuleStore
	queue  Enqueuer
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine creates a trigger engine reading rules from rules and handing
// matched actions to queue.
func NewEngine(rules store.RuleStore, queue Enqueuer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		rules:  rules,
		queue:  queue,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Submit records one event and evaluates all active rules of its kind.
// Matching is exact on the payload at submission time; resubmitting an
// identical payload is a new event and fires again. Returns the stored
// event; evaluation failures inside individual rules or groups are logged,
// never propagated.
func (e *Engine) Submit(ctx context.Context, kind types.EventKind, donor types.DonorID, payload map[types.FieldName]types.FieldValue) (types.Event, error) {
	schema, ok := filter.EventSchema(kind)
	if !ok {
		return types.Event{}, fmt.Errorf("event kind %q: %w", kind, types.ErrBadValue)
	}

	event := types.Event{
		ID:         types.NewEventID(),
		Kind:       kind,
		DonorID:    donor,
		Payload:    payload,
		ReceivedAt: e.now(),
	}

	rules, err := e.rules.ListRulesByKind(ctx, kind)
	if err != nil {
		return types.Event{}, fmt.Errorf("listing rules for %q: %w", kind, err)
	}

	compiler := filter.NewCompiler(schema, e.logger)
	rec := types.DonorRecord{ID: donor, Fields: payload}

	for _, rule := range rules {
		e.evaluateRule(ctx, compiler, rule, rec, event)
	}
	return event, nil
}

// evaluateRule runs every condition group of one rule against the event
// payload. Groups are isolated from each other: a compile failure or an
// enqueue failure in one group never stops its siblings.
func (e *Engine) evaluateRule(ctx context.Context, compiler *filter.Compiler, rule *types.TriggerRule, rec types.DonorRecord, event types.Event) {
	for i, group := range rule.Groups {
		pred, err := compiler.CompileGroup(group)
		if err != nil {
			e.logger.Warn("skipping condition group",
				"rule", rule.ID, "group", i, "err", err)
			continue
		}
		if !pred.Eval(rec, event.ReceivedAt) {
			continue
		}
		for _, action := range group.Actions {
			if _, err := e.queue.Enqueue(ctx, rule.ID, action, rule.Policy, event); err != nil {
				e.logger.Error("enqueueing action failed",
					"rule", rule.ID, "action", action.ID, "event", event.ID, "err", err)
			}
		}
	}
}

// ValidateRule checks a rule at authoring time: known event kind, at least
// one group, every group non-empty on both rows and actions, limits, and a
// full compile of every group so malformed clauses are rejected before the
// rule can fire.
func ValidateRule(rule *types.TriggerRule) error {
	schema, ok := filter.EventSchema(rule.EventKind)
	if !ok {
		return fmt.Errorf("event kind %q: %w", rule.EventKind, types.ErrBadValue)
	}
	if len(rule.Groups) == 0 {
		return fmt.Errorf("rule has no condition groups: %w", types.ErrEmptyFilterSet)
	}
	if len(rule.Groups) > types.MaxConditionGroups {
		return fmt.Errorf("%d condition groups: %w", len(rule.Groups), types.ErrTooManyClauses)
	}

	compiler := filter.NewCompiler(schema, nil)
	for i, group := range rule.Groups {
		if len(group.Rows) == 0 {
			return fmt.Errorf("group %d has no rows: %w", i, types.ErrEmptyFilterSet)
		}
		if len(group.Rows) > types.MaxConditionRows {
			return fmt.Errorf("group %d has %d rows: %w", i, len(group.Rows), types.ErrTooManyClauses)
		}
		if len(group.Actions) == 0 {
			return fmt.Errorf("group %d has no actions: %w", i, types.ErrBadActionConfig)
		}
		if len(group.Actions) > types.MaxActionsPerGroup {
			return fmt.Errorf("group %d has %d actions: %w", i, len(group.Actions), types.ErrBadActionConfig)
		}
		if _, err := compiler.CompileGroup(group); err != nil {
			return fmt.Errorf("group %d: %w", i, err)
		}
		for j := range group.Actions {
			if err := group.Actions[j].Validate(); err != nil {
				return fmt.Errorf("group %d action %d: %w", i, j, err)
			}
		}
	}
	return nil
}
