// internal/store/crm.go
package store

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/cultivar-crm/cultivar/internal/types"
)

// flagsField is the donor record field that carries automation flags.
const flagsField = types.FieldName("flags")

// DonorWriter is the donor snapshot surface the CRM actions mutate.
type DonorWriter interface {
	FetchDonor(ctx context.Context, id types.DonorID) (types.DonorRecord, error)
	UpsertDonor(ctx context.Context, rec types.DonorRecord) error
}

// CRM applies internal automation actions against the donor store.
//
// Flags mutate the donor record directly. Task and calendar actions are
// instructions to the surrounding CRM application, which owns the task
// queue; this engine emits them as structured log entries and the
// dispatcher's execution records keep the audit trail.
type CRM struct {
	donors DonorWriter
	logger *slog.Logger
}

// NewCRM creates the internal action handler.
func NewCRM(donors DonorWriter, logger *slog.Logger) *CRM {
	if logger == nil {
		logger = slog.Default()
	}
	return &CRM{donors: donors, logger: logger}
}

// CreateTask emits a task-creation instruction for the donor.
func (c *CRM) CreateTask(ctx context.Context, donor types.DonorID, cfg types.CreateTaskConfig) error {
	if _, err := c.donors.FetchDonor(ctx, donor); err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	c.logger.InfoContext(ctx, "task created",
		"donor_id", donor,
		"title", cfg.Title,
		"task_type", cfg.TaskType,
		"due_in_days", cfg.DueInDays,
		"assignee", cfg.Assignee)
	return nil
}

// ScheduleEvent emits a calendar-event instruction for the donor.
func (c *CRM) ScheduleEvent(ctx context.Context, donor types.DonorID, cfg types.ScheduleEventConfig) error {
	if _, err := c.donors.FetchDonor(ctx, donor); err != nil {
		return fmt.Errorf("schedule event: %w", err)
	}
	c.logger.InfoContext(ctx, "event scheduled",
		"donor_id", donor,
		"title", cfg.Title,
		"offset_days", cfg.OffsetDays)
	return nil
}

// EditTask emits a task-status change instruction.
func (c *CRM) EditTask(ctx context.Context, cfg types.EditTaskConfig) error {
	c.logger.InfoContext(ctx, "task edited",
		"task_id", cfg.TaskID,
		"status", cfg.Status)
	return nil
}

// AddFlag adds flag to the donor's flag set. Adding a flag the donor
// already carries is a no-op, so dispatcher retries are safe.
func (c *CRM) AddFlag(ctx context.Context, donor types.DonorID, flag string) error {
	return c.mutateFlags(ctx, donor, func(flags []string) []string {
		if slices.Contains(flags, flag) {
			return flags
		}
		return append(flags, flag)
	})
}

// RemoveFlag removes flag from the donor's flag set. Removing an absent
// flag is a no-op.
func (c *CRM) RemoveFlag(ctx context.Context, donor types.DonorID, flag string) error {
	return c.mutateFlags(ctx, donor, func(flags []string) []string {
		return slices.DeleteFunc(flags, func(f string) bool { return f == flag })
	})
}

func (c *CRM) mutateFlags(ctx context.Context, donor types.DonorID, mutate func([]string) []string) error {
	rec, err := c.donors.FetchDonor(ctx, donor)
	if err != nil {
		return fmt.Errorf("mutate flags: %w", err)
	}
	if rec.Fields == nil {
		rec.Fields = make(map[types.FieldName]types.FieldValue)
	}
	flags := mutate(rec.Fields[flagsField].Options)
	rec.Fields[flagsField] = types.MultiValue(flags...)
	if err := c.donors.UpsertDonor(ctx, rec); err != nil {
		return fmt.Errorf("mutate flags: %w", err)
	}
	return nil
}
