package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cultivar-crm/cultivar/internal/trigger"
	"github.com/cultivar-crm/cultivar/internal/types"
)

func (s *Service) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule types.TriggerRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}

	if rule.ID == "" {
		rule.ID = types.NewRuleID()
	}
	for g := range rule.Groups {
		for a := range rule.Groups[g].Actions {
			if rule.Groups[g].Actions[a].ID == "" {
				rule.Groups[g].Actions[a].ID = types.NewActionID()
			}
		}
	}

	if err := trigger.ValidateRule(&rule); err != nil {
		respondError(w, err)
		return
	}
	if err := s.store.CreateRule(r.Context(), &rule); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, &rule)
}

func (s *Service) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.store.ListRules(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"rules": rules})
}

func (s *Service) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id := types.RuleID(chi.URLParam(r, "ruleID"))
	rule, err := s.store.GetRule(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Service) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id := types.RuleID(chi.URLParam(r, "ruleID"))

	current, err := s.store.GetRule(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}

	var rule types.TriggerRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	rule.ID = id
	rule.CreatedAt = current.CreatedAt
	for g := range rule.Groups {
		for a := range rule.Groups[g].Actions {
			if rule.Groups[g].Actions[a].ID == "" {
				rule.Groups[g].Actions[a].ID = types.NewActionID()
			}
		}
	}

	if err := trigger.ValidateRule(&rule); err != nil {
		respondError(w, err)
		return
	}
	if err := s.store.UpdateRule(r.Context(), &rule); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, &rule)
}

func (s *Service) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := types.RuleID(chi.URLParam(r, "ruleID"))
	if err := s.store.DeleteRule(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
