// internal/types/trigger.go
package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

/*
 * Domain types for trigger automation.
 *
 * A TriggerRule binds ordered condition groups to an incoming event kind.
 * Each group is one IF-clause (condition rows folded left-to-right, same
 * semantics as FilterSet) and owns its own ordered action list. Groups are
 * independent: every group whose predicate holds for an event fires its
 * actions, regardless of the other groups.
 *
 * Actions are a closed variant: Kind selects exactly one config slot.
 * Validate enforces the pairing so malformed actions are rejected at
 * authoring time, never at dispatch.
 */

// RuleID identifies a trigger rule. UUIDv7 string.
type RuleID string

// EventID identifies one ingested donor lifecycle event. UUIDv7 string;
// time-ordering clusters sequential inserts in B-tree indexes.
type EventID string

// ActionID identifies one action within a rule. UUIDv7 string.
type ActionID string

// ExecutionID identifies one action execution record. UUIDv7 string.
type ExecutionID string

// EventKind is the closed set of donor lifecycle events rules bind to.
type EventKind string

const (
	EventGift   EventKind = "gift"
	EventPledge EventKind = "pledge"
	EventTask   EventKind = "task"
	EventAction EventKind = "action" // generic logged touch (call, note, meeting)
)

// Event is one ingested donor lifecycle event. The payload is a
// donor-record-shaped projection whose vocabulary depends on Kind; the
// filter schema registry declares the per-kind field types.
type Event struct {
	ID         EventID                  `json:"id"`
	Kind       EventKind                `json:"kind"`
	DonorID    DonorID                  `json:"donor_id"`
	Payload    map[FieldName]FieldValue `json:"payload"`
	ReceivedAt time.Time                `json:"received_at"`
}

// ConditionRow is one comparison of a condition group. Shape matches
// FilterClause; only the field vocabulary differs (event fields, not donor
// fields).
type ConditionRow = FilterClause

// ConditionGroup is one IF-clause of a trigger rule with its own actions.
// A group with zero rows is invalid and rejected at authoring time.
type ConditionGroup struct {
	Rows    []ConditionRow `json:"rows"`
	Actions []Action       `json:"actions"`
}

// ActionKind is the closed set of action variants.
type ActionKind string

const (
	ActionCreateTask    ActionKind = "create_task"
	ActionScheduleEvent ActionKind = "schedule_event"
	ActionAddFlag       ActionKind = "add_flag"
	ActionRemoveFlag    ActionKind = "remove_flag"
	ActionSegmentAdd    ActionKind = "segment_add"
	ActionSegmentRemove ActionKind = "segment_remove"
	ActionDispatch      ActionKind = "dispatch"
	ActionEditTask      ActionKind = "edit_task"
)

// ExternalSystem is the closed set of external dispatch targets.
type ExternalSystem string

const (
	SystemDialer    ExternalSystem = "dialer"
	SystemMailhouse ExternalSystem = "mailhouse"
	SystemEmail     ExternalSystem = "email"
)

// CreateTaskConfig configures a create_task action.
type CreateTaskConfig struct {
	Title     string `json:"title"`
	TaskType  string `json:"task_type"`
	DueInDays int    `json:"due_in_days,omitempty"`
	Assignee  string `json:"assignee,omitempty"`
}

// ScheduleEventConfig configures a schedule_event action.
type ScheduleEventConfig struct {
	Title      string `json:"title"`
	OffsetDays int    `json:"offset_days,omitempty"`
}

// FlagConfig configures add_flag and remove_flag actions.
type FlagConfig struct {
	Flag string `json:"flag"`
}

// SegmentRefConfig configures segment_add and segment_remove actions.
type SegmentRefConfig struct {
	SegmentID SegmentID `json:"segment_id"`
}

// DispatchConfig configures a dispatch action to an external system.
type DispatchConfig struct {
	System   ExternalSystem    `json:"system"`
	Campaign string            `json:"campaign,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
}

// EditTaskConfig configures an edit_task action.
type EditTaskConfig struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// Action is a tagged variant over the closed action kinds. Kind selects
// exactly one config slot; the others must be nil.
type Action struct {
	ID            ActionID             `json:"id"`
	Kind          ActionKind           `json:"kind"`
	CreateTask    *CreateTaskConfig    `json:"create_task,omitempty"`
	ScheduleEvent *ScheduleEventConfig `json:"schedule_event,omitempty"`
	Flag          *FlagConfig          `json:"flag,omitempty"`    // add_flag, remove_flag
	Segment       *SegmentRefConfig    `json:"segment,omitempty"` // segment_add, segment_remove
	Dispatch      *DispatchConfig      `json:"dispatch,omitempty"`
	EditTask      *EditTaskConfig      `json:"edit_task,omitempty"`
}

// Validate checks that exactly the config slot matching Kind is set and that
// its required fields are present.
func (a *Action) Validate() error {
	set := 0
	for _, present := range []bool{
		a.CreateTask != nil, a.ScheduleEvent != nil, a.Flag != nil,
		a.Segment != nil, a.Dispatch != nil, a.EditTask != nil,
	} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: action %s carries %d configs", ErrBadActionConfig, a.Kind, set)
	}

	switch a.Kind {
	case ActionCreateTask:
		if a.CreateTask == nil || a.CreateTask.Title == "" || a.CreateTask.TaskType == "" {
			return fmt.Errorf("%w: create_task requires title and task_type", ErrBadActionConfig)
		}
	case ActionScheduleEvent:
		if a.ScheduleEvent == nil || a.ScheduleEvent.Title == "" {
			return fmt.Errorf("%w: schedule_event requires title", ErrBadActionConfig)
		}
	case ActionAddFlag, ActionRemoveFlag:
		if a.Flag == nil || a.Flag.Flag == "" {
			return fmt.Errorf("%w: %s requires flag", ErrBadActionConfig, a.Kind)
		}
		if len(a.Flag.Flag) > MaxSelectValueLength {
			return fmt.Errorf("%w: flag exceeds %d chars", ErrBadActionConfig, MaxSelectValueLength)
		}
	case ActionSegmentAdd, ActionSegmentRemove:
		if a.Segment == nil || a.Segment.SegmentID == "" {
			return fmt.Errorf("%w: %s requires segment_id", ErrBadActionConfig, a.Kind)
		}
	case ActionDispatch:
		if a.Dispatch == nil {
			return fmt.Errorf("%w: dispatch requires config", ErrBadActionConfig)
		}
		switch a.Dispatch.System {
		case SystemDialer, SystemMailhouse, SystemEmail:
		default:
			return fmt.Errorf("%w: unknown external system %q", ErrBadActionConfig, a.Dispatch.System)
		}
	case ActionEditTask:
		if a.EditTask == nil || a.EditTask.TaskID == "" {
			return fmt.Errorf("%w: edit_task requires task_id", ErrBadActionConfig)
		}
	default:
		return fmt.Errorf("%w: unknown action kind %q", ErrBadActionConfig, a.Kind)
	}
	return nil
}

// DelayUnit is the unit of an execution delay.
type DelayUnit string

const (
	DelayNone  DelayUnit = ""
	DelayHours DelayUnit = "hours"
	DelayDays  DelayUnit = "days"
	DelayWeeks DelayUnit = "weeks"
)

// Delay is the wait between event qualification and the first execution
// attempt. Zero value means immediate.
type Delay struct {
	Amount int       `json:"amount,omitempty"`
	Unit   DelayUnit `json:"unit,omitempty"`
}

// ParseDelay parses the authoring shorthand: "immediate", "3_hours",
// "2_days", "1_week". Plural and singular unit names are both accepted.
func ParseDelay(s string) (Delay, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "immediate" {
		return Delay{}, nil
	}
	amountStr, unitStr, ok := strings.Cut(s, "_")
	if !ok {
		return Delay{}, fmt.Errorf("%w: delay %q", ErrBadDelay, s)
	}
	amount, err := strconv.Atoi(amountStr)
	if err != nil || amount <= 0 {
		return Delay{}, fmt.Errorf("%w: delay amount %q", ErrBadDelay, amountStr)
	}
	var unit DelayUnit
	switch strings.TrimSuffix(unitStr, "s") {
	case "hour":
		unit = DelayHours
	case "day":
		unit = DelayDays
	case "week":
		unit = DelayWeeks
	default:
		return Delay{}, fmt.Errorf("%w: delay unit %q", ErrBadDelay, unitStr)
	}
	return Delay{Amount: amount, Unit: unit}, nil
}

// Duration converts the delay to a time.Duration.
func (d Delay) Duration() time.Duration {
	switch d.Unit {
	case DelayHours:
		return time.Duration(d.Amount) * time.Hour
	case DelayDays:
		return time.Duration(d.Amount) * 24 * time.Hour
	case DelayWeeks:
		return time.Duration(d.Amount) * 7 * 24 * time.Hour
	default:
		return 0
	}
}

// ExecutionPolicy controls dispatch timing, retries, and audit logging for
// all actions of a rule.
type ExecutionPolicy struct {
	Delay        Delay `json:"delay,omitempty"`
	Retries      int   `json:"retries,omitempty"`
	SkipWeekends bool  `json:"skip_weekends,omitempty"`
	LogExecution bool  `json:"log_execution,omitempty"`
}

// TriggerRule binds condition groups to an event kind. A rule fires per
// incoming event of its kind; every group that matches executes its own
// actions independently.
type TriggerRule struct {
	ID        RuleID           `json:"id"`
	Name      string           `json:"name"`
	EventKind EventKind        `json:"event_kind"`
	Groups    []ConditionGroup `json:"groups"`
	Policy    ExecutionPolicy  `json:"policy"`
	Active    bool             `json:"active"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// ExecutionStatus is the state of one action execution record.
type ExecutionStatus string

const (
	ExecPending   ExecutionStatus = "pending"
	ExecSucceeded ExecutionStatus = "succeeded"
	ExecRetrying  ExecutionStatus = "retrying"
	ExecFailed    ExecutionStatus = "failed"
)

// ActionExecutionRecord is one append-only attempt record. Attempts are
// monotonically increasing per (action, event) pair.
type ActionExecutionRecord struct {
	ID       ExecutionID     `json:"id" db:"execution_id"`
	ActionID ActionID        `json:"action_id" db:"action_id"`
	RuleID   RuleID          `json:"rule_id" db:"rule_id"`
	EventID  EventID         `json:"event_id" db:"event_id"`
	Attempt  int             `json:"attempt" db:"attempt"`
	Status   ExecutionStatus `json:"status" db:"status"`
	Detail   string          `json:"detail,omitempty" db:"detail"`
	At       time.Time       `json:"at" db:"occurred_at"`
}
