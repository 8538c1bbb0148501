package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cultivar-crm/cultivar/internal/segment"
	"github.com/cultivar-crm/cultivar/internal/store"
	"github.com/cultivar-crm/cultivar/internal/trigger"
	"github.com/cultivar-crm/cultivar/internal/types"
)

// recordingQueue satisfies trigger.Enqueuer and mirrors enqueued actions
// into the execution log so listing endpoints see them.
type recordingQueue struct {
	mem   *store.Memory
	count int
}

func (q *recordingQueue) Enqueue(ctx context.Context, ruleID types.RuleID, action types.Action, _ types.ExecutionPolicy, event types.Event) (types.ActionExecutionRecord, error) {
	q.count++
	rec := types.ActionExecutionRecord{
		ID:       types.NewExecutionID(),
		RuleID:   ruleID,
		ActionID: action.ID,
		EventID:  event.ID,
		Status:   types.ExecPending,
		At:       event.ReceivedAt,
	}
	return rec, q.mem.AppendExecution(ctx, rec)
}

type testAPI struct {
	srv   *httptest.Server
	mem   *store.Memory
	queue *recordingQueue
}

func newTestAPI(t *testing.T, donors ...types.DonorRecord) *testAPI {
	t.Helper()
	mem := store.NewMemory()
	mem.SeedDonors(donors...)
	queue := &recordingQueue{mem: mem}

	svc, err := NewService(Config{
		Store:    mem,
		Source:   mem,
		Segments: segment.NewEngine(mem, mem, nil),
		Triggers: trigger.NewEngine(mem, queue, nil),
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	srv := httptest.NewServer(svc.Router(nil, 30*time.Second))
	t.Cleanup(srv.Close)
	return &testAPI{srv: srv, mem: mem, queue: queue}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
	}
	req, err := http.NewRequest(method, a.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out bytes.Buffer
	out.ReadFrom(resp.Body)
	return resp, out.Bytes()
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decoding response %s: %v", data, err)
	}
	return v
}

func donorWithGiving(id string, total float64) types.DonorRecord {
	return types.DonorRecord{
		ID: types.DonorID(id),
		Fields: map[types.FieldName]types.FieldValue{
			"total_giving": types.CurrencyValue(total),
		},
	}
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t)
	resp, _ := a.do(t, http.MethodGet, "/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestSegmentCRUD(t *testing.T) {
	a := newTestAPI(t)

	body := map[string]interface{}{
		"name":       "Major Donors",
		"processing": "dynamic",
		"inclusion": []map[string]string{
			{"field": "total_giving", "operator": "gte", "value": "500"},
		},
	}
	resp, data := a.do(t, http.MethodPost, "/v1/segments", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", resp.StatusCode, data)
	}
	created := decode[types.Segment](t, data)
	if created.ID == "" || created.State != types.StateDraft {
		t.Errorf("created segment = %+v, want assigned id and draft state", created)
	}

	resp, data = a.do(t, http.MethodGet, "/v1/segments/"+string(created.ID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	got := decode[types.Segment](t, data)
	if got.Name != "Major Donors" || len(got.Inclusion) != 1 {
		t.Errorf("fetched segment = %+v", got)
	}

	body["name"] = "Principal Donors"
	resp, _ = a.do(t, http.MethodPut, "/v1/segments/"+string(created.ID), body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d", resp.StatusCode)
	}

	resp, data = a.do(t, http.MethodGet, "/v1/segments", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	list := decode[struct {
		Segments []types.Segment `json:"segments"`
	}](t, data)
	if len(list.Segments) != 1 || list.Segments[0].Name != "Principal Donors" {
		t.Errorf("list = %+v", list.Segments)
	}
}

func TestSegmentValidation(t *testing.T) {
	a := newTestAPI(t)

	tests := []struct {
		name string
		body map[string]interface{}
		want int
	}{
		{
			"unknown field",
			map[string]interface{}{
				"name": "Bad", "processing": "dynamic",
				"inclusion": []map[string]string{{"field": "no_such", "operator": "equals", "value": "x"}},
			},
			http.StatusBadRequest,
		},
		{
			"illegal operator for type",
			map[string]interface{}{
				"name": "Bad", "processing": "dynamic",
				"inclusion": []map[string]string{{"field": "total_giving", "operator": "contains", "value": "5"}},
			},
			http.StatusBadRequest,
		},
		{
			"missing name",
			map[string]interface{}{
				"processing": "dynamic",
				"inclusion":  []map[string]string{{"field": "total_giving", "operator": "gt", "value": "0"}},
			},
			http.StatusBadRequest,
		},
		{
			"dynamic without inclusion",
			map[string]interface{}{"name": "Bad", "processing": "dynamic"},
			http.StatusBadRequest,
		},
		{
			"static with filters",
			map[string]interface{}{
				"name": "Bad", "processing": "static",
				"inclusion": []map[string]string{{"field": "total_giving", "operator": "gt", "value": "0"}},
			},
			http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, data := a.do(t, http.MethodPost, "/v1/segments", tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d (body %s)", resp.StatusCode, tt.want, data)
			}
		})
	}
}

func TestSegmentLifecycleAndRecompute(t *testing.T) {
	a := newTestAPI(t,
		donorWithGiving("donor1", 100),
		donorWithGiving("donor2", 900),
		donorWithGiving("donor3", 2500))

	resp, data := a.do(t, http.MethodPost, "/v1/segments", map[string]interface{}{
		"name": "Major Donors", "processing": "dynamic",
		"inclusion": []map[string]string{{"field": "total_giving", "operator": "gte", "value": "500"}},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	seg := decode[types.Segment](t, data)

	// Draft segments can't recompute.
	resp, _ = a.do(t, http.MethodPost, "/v1/segments/"+string(seg.ID)+"/recompute", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("recompute in draft status = %d, want 409", resp.StatusCode)
	}

	resp, _ = a.do(t, http.MethodPost, "/v1/segments/"+string(seg.ID)+"/state", map[string]string{"state": "active"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("activate status = %d", resp.StatusCode)
	}

	resp, data = a.do(t, http.MethodPost, "/v1/segments/"+string(seg.ID)+"/recompute", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("recompute status = %d", resp.StatusCode)
	}
	counts := decode[map[string]int](t, data)
	if counts["count"] != 2 {
		t.Errorf("recompute count = %d, want 2", counts["count"])
	}

	resp, data = a.do(t, http.MethodGet, "/v1/segments/"+string(seg.ID)+"/members", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("members status = %d", resp.StatusCode)
	}
	members := decode[struct {
		Count   int            `json:"count"`
		Members []types.Member `json:"members"`
	}](t, data)
	if members.Count != 2 {
		t.Errorf("member count = %d, want 2", members.Count)
	}

	// Archived is terminal.
	a.do(t, http.MethodPost, "/v1/segments/"+string(seg.ID)+"/state", map[string]string{"state": "archived"})
	resp, _ = a.do(t, http.MethodPost, "/v1/segments/"+string(seg.ID)+"/state", map[string]string{"state": "active"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("archived->active status = %d, want 409", resp.StatusCode)
	}
}

func TestSegmentPreview(t *testing.T) {
	a := newTestAPI(t,
		donorWithGiving("donor1", 100),
		donorWithGiving("donor2", 900),
		donorWithGiving("donor3", 2500))

	resp, data := a.do(t, http.MethodPost, "/v1/segments/preview", map[string]interface{}{
		"inclusion": []map[string]string{{"field": "total_giving", "operator": "gt", "value": "1000"}},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("preview status = %d, body %s", resp.StatusCode, data)
	}
	counts := decode[map[string]int](t, data)
	if counts["count"] != 1 {
		t.Errorf("preview count = %d, want 1", counts["count"])
	}

	resp, _ = a.do(t, http.MethodPost, "/v1/segments/preview", map[string]interface{}{
		"inclusion": []map[string]string{{"field": "bogus", "operator": "gt", "value": "1"}},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("preview with bad filter status = %d, want 400", resp.StatusCode)
	}
}

func TestStaticMembership(t *testing.T) {
	a := newTestAPI(t)

	resp, data := a.do(t, http.MethodPost, "/v1/segments", map[string]interface{}{
		"name": "Gala Invitees", "processing": "static",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	seg := decode[types.Segment](t, data)

	resp, _ = a.do(t, http.MethodPost, "/v1/segments/"+string(seg.ID)+"/members/donor1", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("add member status = %d", resp.StatusCode)
	}

	resp, data = a.do(t, http.MethodGet, "/v1/segments/"+string(seg.ID)+"/members", nil)
	members := decode[struct {
		Count int `json:"count"`
	}](t, data)
	if members.Count != 1 {
		t.Errorf("member count = %d, want 1", members.Count)
	}

	resp, _ = a.do(t, http.MethodDelete, "/v1/segments/"+string(seg.ID)+"/members/donor1", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("remove member status = %d", resp.StatusCode)
	}
}

func TestRuleCRUDAndValidation(t *testing.T) {
	a := newTestAPI(t)

	valid := map[string]interface{}{
		"name":       "Flag completed meetings",
		"event_kind": "task",
		"active":     true,
		"groups": []map[string]interface{}{{
			"rows": []map[string]string{
				{"field": "task_type", "operator": "equals", "value": "meeting"},
				{"field": "task_status", "operator": "equals", "value": "completed", "connective": "and"},
			},
			"actions": []map[string]interface{}{
				{"kind": "add_flag", "flag": map[string]string{"flag": "met-in-person"}},
			},
		}},
	}
	resp, data := a.do(t, http.MethodPost, "/v1/rules", valid)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create rule status = %d, body %s", resp.StatusCode, data)
	}
	rule := decode[types.TriggerRule](t, data)
	if rule.ID == "" || rule.Groups[0].Actions[0].ID == "" {
		t.Errorf("rule ids not assigned: %+v", rule)
	}

	empty := map[string]interface{}{
		"name": "Bad", "event_kind": "task",
		"groups": []map[string]interface{}{{"rows": []map[string]string{}, "actions": []map[string]interface{}{}}},
	}
	resp, _ = a.do(t, http.MethodPost, "/v1/rules", empty)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty group status = %d, want 400", resp.StatusCode)
	}

	resp, _ = a.do(t, http.MethodDelete, "/v1/rules/"+string(rule.ID), nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete rule status = %d", resp.StatusCode)
	}
	resp, _ = a.do(t, http.MethodGet, "/v1/rules/"+string(rule.ID), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get deleted rule status = %d, want 404", resp.StatusCode)
	}
}

func TestSubmitEventAndListExecutions(t *testing.T) {
	a := newTestAPI(t)

	rule := map[string]interface{}{
		"name":       "Flag completed meetings",
		"event_kind": "task",
		"active":     true,
		"groups": []map[string]interface{}{{
			"rows": []map[string]string{
				{"field": "task_type", "operator": "equals", "value": "meeting"},
				{"field": "task_status", "operator": "equals", "value": "completed", "connective": "and"},
			},
			"actions": []map[string]interface{}{
				{"kind": "add_flag", "flag": map[string]string{"flag": "met-in-person"}},
			},
		}},
	}
	resp, data := a.do(t, http.MethodPost, "/v1/rules", rule)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create rule status = %d, body %s", resp.StatusCode, data)
	}
	created := decode[types.TriggerRule](t, data)

	event := map[string]interface{}{
		"kind":     "task",
		"donor_id": "donor1",
		"payload": map[string]interface{}{
			"task_type":   map[string]string{"kind": "select", "text": "meeting"},
			"task_status": map[string]string{"kind": "select", "text": "completed"},
		},
	}
	resp, data = a.do(t, http.MethodPost, "/v1/events", event)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit event status = %d, body %s", resp.StatusCode, data)
	}
	stored := decode[types.Event](t, data)
	if stored.ID == "" {
		t.Error("event id not assigned")
	}
	if a.queue.count != 1 {
		t.Errorf("enqueued = %d, want 1", a.queue.count)
	}

	resp, data = a.do(t, http.MethodGet, fmt.Sprintf("/v1/executions?event_id=%s", stored.ID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list executions status = %d", resp.StatusCode)
	}
	execs := decode[struct {
		Count int `json:"count"`
	}](t, data)
	if execs.Count != 1 {
		t.Errorf("execution count = %d, want 1", execs.Count)
	}

	resp, data = a.do(t, http.MethodGet, fmt.Sprintf("/v1/executions?rule_id=%s", created.ID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list executions by rule status = %d", resp.StatusCode)
	}
	byRule := decode[struct {
		Count int `json:"count"`
	}](t, data)
	if byRule.Count != 1 {
		t.Errorf("execution count by rule = %d, want 1", byRule.Count)
	}

	resp, _ = a.do(t, http.MethodPost, "/v1/events", map[string]interface{}{
		"kind": "webinar", "donor_id": "donor1",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown kind status = %d, want 400", resp.StatusCode)
	}
}
