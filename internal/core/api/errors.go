package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cultivar-crm/cultivar/internal/types"
)

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// respondError maps domain sentinels to HTTP status codes. Validation
// failures are 400s, missing resources 404s, lifecycle and staleness
// conflicts 409s; everything else is a 500 with the detail withheld.
func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	switch {
	case errors.Is(err, types.ErrSegmentNotFound),
		errors.Is(err, types.ErrRuleNotFound),
		errors.Is(err, types.ErrDonorNotFound):
		status = http.StatusNotFound
		message = err.Error()
	case errors.Is(err, types.ErrUnknownField),
		errors.Is(err, types.ErrInvalidOperator),
		errors.Is(err, types.ErrMissingValue),
		errors.Is(err, types.ErrBadValue),
		errors.Is(err, types.ErrBadUnit),
		errors.Is(err, types.ErrEmptyFilterSet),
		errors.Is(err, types.ErrTooManyClauses),
		errors.Is(err, types.ErrBadActionConfig),
		errors.Is(err, types.ErrBadDelay):
		status = http.StatusBadRequest
		message = err.Error()
	case errors.Is(err, types.ErrInvalidTransition),
		errors.Is(err, types.ErrSegmentNotActive),
		errors.Is(err, types.ErrStaticSegment),
		errors.Is(err, types.ErrStaleWrite):
		status = http.StatusConflict
		message = err.Error()
	}

	respondJSON(w, status, map[string]string{"error": message})
}

func respondBadRequest(w http.ResponseWriter, message string) {
	respondJSON(w, http.StatusBadRequest, map[string]string{"error": message})
}
