// internal/store/crm_test.go
package store

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/cultivar-crm/cultivar/internal/types"
)

func newCRM(t *testing.T) (*CRM, *Memory) {
	t.Helper()
	mem := NewMemory()
	mem.SeedDonors(types.DonorRecord{
		ID: "donor-1",
		Fields: map[types.FieldName]types.FieldValue{
			"first_name": types.TextValue("Ada"),
		},
	})
	return NewCRM(mem, nil), mem
}

func donorFlags(t *testing.T, mem *Memory, id types.DonorID) []string {
	t.Helper()
	rec, err := mem.FetchDonor(context.Background(), id)
	if err != nil {
		t.Fatalf("FetchDonor: %v", err)
	}
	return rec.Fields["flags"].Options
}

func TestCRM_AddFlag(t *testing.T) {
	crm, mem := newCRM(t)
	ctx := context.Background()

	if err := crm.AddFlag(ctx, "donor-1", "met-in-person"); err != nil {
		t.Fatalf("AddFlag: %v", err)
	}
	if err := crm.AddFlag(ctx, "donor-1", "major-donor"); err != nil {
		t.Fatalf("AddFlag: %v", err)
	}
	got := donorFlags(t, mem, "donor-1")
	want := []string{"met-in-person", "major-donor"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("flags = %v, want %v", got, want)
	}
}

func TestCRM_AddFlagIdempotent(t *testing.T) {
	crm, mem := newCRM(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := crm.AddFlag(ctx, "donor-1", "met-in-person"); err != nil {
			t.Fatalf("AddFlag: %v", err)
		}
	}
	if got := donorFlags(t, mem, "donor-1"); len(got) != 1 {
		t.Fatalf("flags = %v, want single entry", got)
	}
}

func TestCRM_RemoveFlag(t *testing.T) {
	crm, mem := newCRM(t)
	ctx := context.Background()

	if err := crm.AddFlag(ctx, "donor-1", "lapsed"); err != nil {
		t.Fatalf("AddFlag: %v", err)
	}
	if err := crm.RemoveFlag(ctx, "donor-1", "lapsed"); err != nil {
		t.Fatalf("RemoveFlag: %v", err)
	}
	if got := donorFlags(t, mem, "donor-1"); len(got) != 0 {
		t.Fatalf("flags = %v, want empty", got)
	}

	// Absent flag removal is a no-op, not an error.
	if err := crm.RemoveFlag(ctx, "donor-1", "lapsed"); err != nil {
		t.Fatalf("RemoveFlag absent: %v", err)
	}
}

func TestCRM_UnknownDonor(t *testing.T) {
	crm, _ := newCRM(t)
	ctx := context.Background()

	if err := crm.AddFlag(ctx, "donor-404", "x"); !errors.Is(err, types.ErrDonorNotFound) {
		t.Fatalf("AddFlag err = %v, want ErrDonorNotFound", err)
	}
	if err := crm.CreateTask(ctx, "donor-404", types.CreateTaskConfig{Title: "call"}); !errors.Is(err, types.ErrDonorNotFound) {
		t.Fatalf("CreateTask err = %v, want ErrDonorNotFound", err)
	}
}

func TestCRM_TaskActions(t *testing.T) {
	crm, _ := newCRM(t)
	ctx := context.Background()

	if err := crm.CreateTask(ctx, "donor-1", types.CreateTaskConfig{Title: "thank-you call", TaskType: "call", DueInDays: 3}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := crm.ScheduleEvent(ctx, "donor-1", types.ScheduleEventConfig{Title: "stewardship visit", OffsetDays: 14}); err != nil {
		t.Fatalf("ScheduleEvent: %v", err)
	}
	if err := crm.EditTask(ctx, types.EditTaskConfig{TaskID: "task-9", Status: "completed"}); err != nil {
		t.Fatalf("EditTask: %v", err)
	}
}
