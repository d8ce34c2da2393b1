package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

type recreateRequest struct {
	Confirm    bool `json:"confirm"`
	ResetCache bool `json:"reset_cache"`
}

// handleRecreate rebuilds the store from its source. Session caches survive
// unless reset_cache is set, so cached SQL replays against the new data.
func handleRecreate(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Store == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "STORE_NOT_CONFIGURED", "store bootstrap is not configured", false, nil)
		return
	}

	var request recreateRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil && !errors.Is(err, io.EOF) {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid recreate request body", false, map[string]any{"details": err.Error()})
		return
	}
	if !request.Confirm {
		writeError(r.Context(), w, http.StatusBadRequest, "CONFIRMATION_REQUIRED", "recreating the store deletes it; send {\"confirm\": true}", false, nil)
		return
	}

	report, err := deps.Store.Recreate(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "RECREATE_FAILED", "failed to recreate store", true, map[string]any{"details": err.Error()})
		return
	}

	resetSessions := 0
	if request.ResetCache && deps.Sessions != nil {
		resetSessions = deps.Sessions.ResetCaches()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":               "recreated",
		"rows":                 report.Rows,
		"source":               report.Source,
		"duration_ms":          report.Duration.Milliseconds(),
		"cache_reset_sessions": resetSessions,
	})
}
