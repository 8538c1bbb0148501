// internal/dispatch/dispatcher.go
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cultivar-crm/cultivar/internal/adapters"
	"github.com/cultivar-crm/cultivar/internal/store"
	"github.com/cultivar-crm/cultivar/internal/types"
)

/*
 * Action dispatcher.
 *
 * Executes the actions of matched condition groups asynchronously: a worker
 * pool consumes queued jobs, honors the rule's delay window (plus weekend
 * shifting), and retries retryable failures with exponential backoff up to
 * the policy's retry budget. Failures are isolated per action: one slow or
 * failing action never blocks other actions or later events.
 *
 * Internal actions (tasks, flags, segment add/remove) run against the
 * storage layer and are treated as retryable on transient errors. External
 * actions go through the adapter registry under a per-call timeout distinct
 * from the retry backoff; a timeout classifies as retryable.
 *
 * Every attempt appends one ActionExecutionRecord. Attempt numbers continue
 * from the highest recorded attempt for the (action, event) pair, so they
 * stay monotonic across restarts. Records are append-only; LogExecution on
 * the policy additionally surfaces outcomes in the service log.
 */

// InternalActions is the storage-layer surface for internal mutations.
// Owned by the excluded donor-record store; only the contract lives here.
type InternalActions interface {
	CreateTask(ctx context.Context, donor types.DonorID, cfg types.CreateTaskConfig) error
	ScheduleEvent(ctx context.Context, donor types.DonorID, cfg types.ScheduleEventConfig) error
	AddFlag(ctx context.Context, donor types.DonorID, flag string) error
	RemoveFlag(ctx context.Context, donor types.DonorID, flag string) error
	EditTask(ctx context.Context, cfg types.EditTaskConfig) error
}

// SegmentMutator applies segment add/remove actions. Implemented by the
// segment engine's static membership calls.
type SegmentMutator interface {
	AddStaticMember(ctx context.Context, id types.SegmentID, donor types.DonorID) error
	RemoveStaticMember(ctx context.Context, id types.SegmentID, donor types.DonorID) error
}

// Default configuration values.
const (
	DefaultWorkers        = 4
	DefaultQueueSize      = 256
	DefaultAdapterTimeout = 10 * time.Second
)

// Config configures the Dispatcher.
type Config struct {
	// Log receives one record per execution attempt. Required.
	Log store.ExecutionLog

	// Adapters routes external dispatch actions. Required.
	Adapters *adapters.Registry

	// Internal applies task and flag mutations. Required.
	Internal InternalActions

	// Segments applies segment add/remove actions. Required.
	Segments SegmentMutator

	// Workers is the worker goroutine count. Defaults to DefaultWorkers.
	Workers int

	// QueueSize bounds the pending job queue. Defaults to DefaultQueueSize.
	QueueSize int

	// AdapterTimeout bounds one external call, independent of retry
	// backoff. Defaults to DefaultAdapterTimeout.
	AdapterTimeout time.Duration

	// Backoff is the retry backoff policy. Zero value means DefaultBackoff.
	Backoff BackoffPolicy

	// Logger is the service log. Nil means slog.Default.
	Logger *slog.Logger

	// Clock and Sleep are injectable for deterministic tests. Nil means
	// real time.
	Clock func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.Log == nil {
		return errors.New("dispatch: Log is required")
	}
	if c.Adapters == nil {
		return errors.New("dispatch: Adapters is required")
	}
	if c.Internal == nil {
		return errors.New("dispatch: Internal is required")
	}
	if c.Segments == nil {
		return errors.New("dispatch: Segments is required")
	}
	return nil
}

type job struct {
	ruleID    types.RuleID
	action    types.Action
	policy    types.ExecutionPolicy
	event     types.Event
	executeAt time.Time
}

// Dispatcher executes queued actions with delay, retry, and failure
// isolation.
type Dispatcher struct {
	cfg    Config
	queue  chan job
	wg     sync.WaitGroup
	logger *slog.Logger
	clock  func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a dispatcher from cfg.
func New(cfg Config) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.AdapterTimeout <= 0 {
		cfg.AdapterTimeout = DefaultAdapterTimeout
	}
	if cfg.Backoff == (BackoffPolicy{}) {
		cfg.Backoff = DefaultBackoff()
	}
	d := &Dispatcher{
		cfg:    cfg,
		queue:  make(chan job, cfg.QueueSize),
		logger: cfg.Logger,
		clock:  cfg.Clock,
		sleep:  cfg.Sleep,
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.clock == nil {
		d.clock = func() time.Time { return time.Now().UTC() }
	}
	if d.sleep == nil {
		d.sleep = func(ctx context.Context, wait time.Duration) error {
			if wait <= 0 {
				return ctx.Err()
			}
			t := time.NewTimer(wait)
			defer t.Stop()
			select {
			case <-t.C:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return d, nil
}

// Start launches the worker pool. Workers drain until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j, ok := <-d.queue:
					if !ok {
						return
					}
					d.run(ctx, j)
				}
			}
		}()
	}
}

// Wait blocks until all workers have exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Enqueue schedules one action for execution and returns its pending
// record. The record's At carries the computed execution time; attempt 0
// marks the not-yet-executed state.
func (d *Dispatcher) Enqueue(ctx context.Context, ruleID types.RuleID, action types.Action, policy types.ExecutionPolicy, event types.Event) (types.ActionExecutionRecord, error) {
	rec := types.ActionExecutionRecord{
		ID:       types.NewExecutionID(),
		RuleID:   ruleID,
		ActionID: action.ID,
		EventID:  event.ID,
		Attempt:  0,
		Status:   types.ExecPending,
		At:       ExecuteAt(policy, d.clock()),
	}
	if err := d.cfg.Log.AppendExecution(ctx, rec); err != nil {
		return rec, err
	}

	j := job{ruleID: ruleID, action: action, policy: policy, event: event, executeAt: rec.At}
	select {
	case d.queue <- j:
		return rec, nil
	case <-ctx.Done():
		return rec, ctx.Err()
	}
}

// run executes one job: wait out the delay window, then attempt with
// retries. Never returns an error; outcomes land in the execution log.
func (d *Dispatcher) run(ctx context.Context, j job) {
	if err := d.sleep(ctx, j.executeAt.Sub(d.clock())); err != nil {
		return
	}

	last, err := d.cfg.Log.LastAttempt(ctx, j.action.ID, j.event.ID)
	if err != nil {
		d.logger.Error("reading attempt history failed", "action", j.action.ID, "event", j.event.ID, "err", err)
		last = 0
	}

	retriesLeft := j.policy.Retries
	for attempt := last + 1; ; attempt++ {
		detail, execErr := d.execute(ctx, j)
		if execErr == nil {
			d.record(ctx, j, attempt, types.ExecSucceeded, detail)
			return
		}

		if adapters.Classify(execErr) == adapters.Fatal {
			d.record(ctx, j, attempt, types.ExecFailed, execErr.Error())
			return
		}

		if retriesLeft <= 0 {
			d.record(ctx, j, attempt, types.ExecFailed, "retries exhausted: "+execErr.Error())
			return
		}
		retriesLeft--
		d.record(ctx, j, attempt, types.ExecRetrying, execErr.Error())

		if err := d.sleep(ctx, d.cfg.Backoff.NextDelay(attempt-last)); err != nil {
			return
		}
	}
}

// record appends one attempt record and, when the policy asks for it,
// mirrors the outcome to the service log.
func (d *Dispatcher) record(ctx context.Context, j job, attempt int, status types.ExecutionStatus, detail string) {
	rec := types.ActionExecutionRecord{
		ID:       types.NewExecutionID(),
		RuleID:   j.ruleID,
		ActionID: j.action.ID,
		EventID:  j.event.ID,
		Attempt:  attempt,
		Status:   status,
		Detail:   detail,
		At:       d.clock(),
	}
	if err := d.cfg.Log.AppendExecution(ctx, rec); err != nil {
		d.logger.Error("appending execution record failed", "action", j.action.ID, "err", err)
	}
	if j.policy.LogExecution {
		d.logger.Info("action execution",
			"action", j.action.ID, "kind", j.action.Kind, "event", j.event.ID,
			"attempt", attempt, "status", status, "detail", detail)
	}
}

// execute performs one attempt of the action. On success it returns a
// detail line for the execution record: what the action requested, or the
// external reference the adapter acknowledged with.
func (d *Dispatcher) execute(ctx context.Context, j job) (string, error) {
	if err := j.action.Validate(); err != nil {
		return "", adapters.FatalErr(err)
	}

	donor := j.event.DonorID
	switch j.action.Kind {
	case types.ActionCreateTask:
		cfg := *j.action.CreateTask
		return fmt.Sprintf("create task %q (%s)", cfg.Title, cfg.TaskType),
			d.cfg.Internal.CreateTask(ctx, donor, cfg)
	case types.ActionScheduleEvent:
		cfg := *j.action.ScheduleEvent
		return fmt.Sprintf("schedule event %q", cfg.Title),
			d.cfg.Internal.ScheduleEvent(ctx, donor, cfg)
	case types.ActionAddFlag:
		return "add flag " + j.action.Flag.Flag,
			d.cfg.Internal.AddFlag(ctx, donor, j.action.Flag.Flag)
	case types.ActionRemoveFlag:
		return "remove flag " + j.action.Flag.Flag,
			d.cfg.Internal.RemoveFlag(ctx, donor, j.action.Flag.Flag)
	case types.ActionEditTask:
		cfg := *j.action.EditTask
		return fmt.Sprintf("edit task %s to %s", cfg.TaskID, cfg.Status),
			d.cfg.Internal.EditTask(ctx, cfg)
	case types.ActionSegmentAdd:
		return "add to segment " + string(j.action.Segment.SegmentID),
			d.cfg.Segments.AddStaticMember(ctx, j.action.Segment.SegmentID, donor)
	case types.ActionSegmentRemove:
		return "remove from segment " + string(j.action.Segment.SegmentID),
			d.cfg.Segments.RemoveStaticMember(ctx, j.action.Segment.SegmentID, donor)
	case types.ActionDispatch:
		adapter, err := d.cfg.Adapters.Lookup(j.action.Dispatch.System)
		if err != nil {
			return "", err
		}
		callCtx, cancel := context.WithTimeout(ctx, d.cfg.AdapterTimeout)
		defer cancel()
		key := fmt.Sprintf("%s:%s", j.action.ID, j.event.ID)
		ack, err := adapter.Send(callCtx, *j.action.Dispatch, donor, key)
		if err != nil {
			return "", err
		}
		return ack.Reference, nil
	default:
		return "", adapters.FatalErr(fmt.Errorf("unknown action kind %q", j.action.Kind))
	}
}
