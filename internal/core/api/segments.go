package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cultivar-crm/cultivar/internal/types"
)

// validateSegment checks a segment definition at authoring time. Dynamic
// segments must carry a compilable inclusion filter; removal filters and
// the removal action travel together.
func (s *Service) validateSegment(seg *types.Segment) error {
	if seg.Name == "" {
		return fmt.Errorf("name is required: %w", types.ErrBadValue)
	}
	switch seg.Processing {
	case types.ProcessingStatic, types.ProcessingDynamic:
	default:
		return fmt.Errorf("processing must be static or dynamic: %w", types.ErrBadValue)
	}

	if seg.Processing == types.ProcessingStatic {
		if len(seg.Inclusion) > 0 || len(seg.Removal) > 0 {
			return fmt.Errorf("static segments carry no filters: %w", types.ErrBadValue)
		}
		return nil
	}

	if _, err := s.compiler.Compile(seg.Inclusion); err != nil {
		return fmt.Errorf("inclusion: %w", err)
	}
	if len(seg.Removal) > 0 {
		if _, err := s.compiler.Compile(seg.Removal); err != nil {
			return fmt.Errorf("removal: %w", err)
		}
		switch seg.RemovalAction {
		case types.RemovalRemove, types.RemovalMarkInactive, types.RemovalMarkInactiveDate:
		default:
			return fmt.Errorf("removal_action must be set with removal filters: %w", types.ErrBadValue)
		}
	}
	return nil
}

func (s *Service) handleCreateSegment(w http.ResponseWriter, r *http.Request) {
	var seg types.Segment
	if err := json.NewDecoder(r.Body).Decode(&seg); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}

	if seg.ID == "" {
		seg.ID = types.NewSegmentID()
	}
	if seg.State == "" {
		seg.State = types.StateDraft
	}
	if err := s.validateSegment(&seg); err != nil {
		respondError(w, err)
		return
	}
	if err := s.store.CreateSegment(r.Context(), &seg); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, &seg)
}

func (s *Service) handleListSegments(w http.ResponseWriter, r *http.Request) {
	segments, err := s.store.ListSegments(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"segments": segments})
}

func (s *Service) handleGetSegment(w http.ResponseWriter, r *http.Request) {
	id := types.SegmentID(chi.URLParam(r, "segmentID"))
	seg, err := s.store.GetSegment(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, seg)
}

func (s *Service) handleUpdateSegment(w http.ResponseWriter, r *http.Request) {
	id := types.SegmentID(chi.URLParam(r, "segmentID"))

	current, err := s.store.GetSegment(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}

	var seg types.Segment
	if err := json.NewDecoder(r.Body).Decode(&seg); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	seg.ID = id
	seg.State = current.State
	seg.CreatedAt = current.CreatedAt

	if err := s.validateSegment(&seg); err != nil {
		respondError(w, err)
		return
	}
	if err := s.store.UpdateSegment(r.Context(), &seg); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, &seg)
}

func (s *Service) handleSegmentState(w http.ResponseWriter, r *http.Request) {
	id := types.SegmentID(chi.URLParam(r, "segmentID"))

	var req struct {
		State types.SegmentState `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	switch req.State {
	case types.StateDraft, types.StateActive, types.StatePaused, types.StateArchived:
	default:
		respondBadRequest(w, fmt.Sprintf("unknown state %q", req.State))
		return
	}

	if err := s.segments.Transition(r.Context(), id, req.State); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"state": string(req.State)})
}

func (s *Service) handleRecomputeSegment(w http.ResponseWriter, r *http.Request) {
	id := types.SegmentID(chi.URLParam(r, "segmentID"))

	members, err := s.segments.Recompute(r.Context(), id, time.Now().UTC())
	if err != nil {
		respondError(w, err)
		return
	}

	inactive := 0
	for _, m := range members {
		if m.Inactive {
			inactive++
		}
	}
	respondJSON(w, http.StatusOK, map[string]int{
		"count":    len(members),
		"inactive": inactive,
	})
}

// handlePreviewSegment estimates how many donors in the current snapshot
// match a filter set, without persisting anything.
func (s *Service) handlePreviewSegment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Inclusion types.FilterSet `json:"inclusion"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}

	count, err := s.compiler.EstimateMatches(r.Context(), s.source, req.Inclusion, time.Now().UTC())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"count": count})
}

func (s *Service) handleListMembers(w http.ResponseWriter, r *http.Request) {
	id := types.SegmentID(chi.URLParam(r, "segmentID"))

	members, err := s.store.GetMembers(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}

	list := make([]types.Member, 0, len(members))
	for _, m := range members {
		list = append(list, m)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].DonorID < list[j].DonorID })

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(list),
		"members": list,
	})
}

func (s *Service) handleAddMember(w http.ResponseWriter, r *http.Request) {
	id := types.SegmentID(chi.URLParam(r, "segmentID"))
	donor := types.DonorID(chi.URLParam(r, "donorID"))

	if err := s.segments.AddStaticMember(r.Context(), id, donor); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	id := types.SegmentID(chi.URLParam(r, "segmentID"))
	donor := types.DonorID(chi.URLParam(r, "donorID"))

	if err := s.segments.RemoveStaticMember(r.Context(), id, donor); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
