package api

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/healthchat/healthchat/internal/chat"
	"github.com/healthchat/healthchat/internal/present"
	"github.com/healthchat/healthchat/internal/schema"
)

type chatRequest struct {
	Question string `json:"question"`
}

type chatResponse struct {
	SessionID string `json:"session_id"`
	chat.Reply
	RetryAfterSeconds int              `json:"retry_after_seconds,omitempty"`
	Summary           []present.Metric `json:"summary,omitempty"`
	Chart             *present.Series  `json:"chart,omitempty"`
}

func handleChat(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil || deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHAT_NOT_CONFIGURED", "chat dependencies are not configured", false, nil)
		return
	}

	var request chatRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid chat request body", false, map[string]any{"details": err.Error()})
		return
	}

	session, _ := deps.Sessions.GetOrCreate(strings.TrimSpace(r.Header.Get(sessionHeader)))
	w.Header().Set(sessionHeader, session.ID)

	reply := deps.Pipeline.Ask(r.Context(), session, request.Question)
	response := chatResponse{SessionID: session.ID, Reply: reply}
	if reply.RetryAfter > 0 {
		response.RetryAfterSeconds = int(math.Ceil(reply.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(response.RetryAfterSeconds))
	}
	if reply.Result != nil {
		response.Summary = present.Summarize(*reply.Result)
		if series, ok := present.ChartSeries(*reply.Result); ok {
			response.Chart = &series
		}
	}
	writeJSON(w, http.StatusOK, response)
}

func handleHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHAT_NOT_CONFIGURED", "chat dependencies are not configured", false, nil)
		return
	}
	id := strings.TrimSpace(r.Header.Get(sessionHeader))
	if id == "" {
		id = strings.TrimSpace(r.URL.Query().Get("session_id"))
	}
	if id == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SESSION_REQUIRED", "X-Session-ID header or session_id query parameter is required", false, nil)
		return
	}
	session, ok := deps.Sessions.Get(id)
	if !ok {
		writeError(r.Context(), w, http.StatusNotFound, "SESSION_NOT_FOUND", "session was not found", false, map[string]any{"session_id": id})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": session.ID,
		"created_at": session.CreatedAt,
		"messages":   session.History(),
	})
}

func handleExamples(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"examples": present.Examples})
}

func handleSchema(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, schema.HealthMetrics)
}
