package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cultivar-crm/cultivar/internal/store"
	"github.com/cultivar-crm/cultivar/internal/types"
)

// handleSubmitEvent ingests one donor activity event and runs it through
// the trigger engine. The response carries the stored event; action
// execution happens asynchronously.
func (s *Service) handleSubmitEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind    types.EventKind                      `json:"kind"`
		DonorID types.DonorID                        `json:"donor_id"`
		Payload map[types.FieldName]types.FieldValue `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	if req.DonorID == "" {
		respondBadRequest(w, "donor_id is required")
		return
	}

	event, err := s.triggers.Submit(r.Context(), req.Kind, req.DonorID, req.Payload)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, event)
}

// handleListExecutions lists execution history, filterable by rule_id,
// event_id, and status.
func (s *Service) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	q := store.ExecutionQuery{
		RuleID:  types.RuleID(r.URL.Query().Get("rule_id")),
		EventID: types.EventID(r.URL.Query().Get("event_id")),
		Status:  types.ExecutionStatus(r.URL.Query().Get("status")),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			respondBadRequest(w, "limit must be a non-negative integer")
			return
		}
		q.Limit = limit
	}

	recs, err := s.store.ListExecutions(r.Context(), q)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":      len(recs),
		"executions": recs,
	})
}
