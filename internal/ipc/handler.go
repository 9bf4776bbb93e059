// Package ipc provides the HTTP API for the decision engine.
package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/anthropics/decision-engine/internal/domain"
	"github.com/anthropics/decision-engine/internal/pipeline"
)

// Handler holds all dependencies for the HTTP handlers.
type Handler struct {
	Pipeline *pipeline.Service
}

// CreateSessionRequest is the body for POST /api/v1/session.
type CreateSessionRequest struct {
	Tasks []domain.Task `json:"tasks"`
}

// CreateSessionResponse acknowledges an accepted analysis.
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// FollowUpRequest is the body for POST /api/v1/session/{sessionID}/followup.
type FollowUpRequest struct {
	Delta domain.Params `json:"delta"`
}

// FollowUpResponse reports which tasks the delta invalidated.
type FollowUpResponse struct {
	SessionID   string   `json:"session_id"`
	Invalidated []string `json:"invalidated"`
}

// APIError is a structured error response.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateSession handles POST /api/v1/session.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}

	sessionID, err := h.Pipeline.StartSession(r.Context(), req.Tasks)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateSessionResponse{
		SessionID: sessionID,
		Status:    string(domain.SessionRunning),
	})
}

// GetSession handles GET /api/v1/session/{sessionID}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	result, err := h.Pipeline.GetResult(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// FollowUp handles POST /api/v1/session/{sessionID}/followup.
func (h *Handler) FollowUp(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	var req FollowUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}

	invalidated, err := h.Pipeline.FollowUp(r.Context(), sessionID, req.Delta)
	if err != nil {
		writeError(w, err)
		return
	}
	if invalidated == nil {
		invalidated = []string{}
	}
	writeJSON(w, http.StatusAccepted, FollowUpResponse{
		SessionID:   sessionID,
		Invalidated: invalidated,
	})
}

// CancelSession handles POST /api/v1/session/{sessionID}/cancel.
func (h *Handler) CancelSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	if err := h.Pipeline.Cancel(r.Context(), sessionID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListEvents handles GET /api/v1/session/{sessionID}/events?since_seq=N.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	sinceSeq := int64(0)
	if s := r.URL.Query().Get("since_seq"); s != "" {
		parsed, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			sinceSeq = parsed
		}
	}

	events, err := h.Pipeline.Events(r.Context(), sessionID, sinceSeq)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// StreamEvents handles GET /api/v1/session/{sessionID}/events/stream (SSE).
// A disconnected client reconnects with since_seq to resume without gaps.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, APIError{Code: 500, Message: "streaming not supported"})
		return
	}

	sinceSeq := int64(0)
	if s := r.URL.Query().Get("since_seq"); s != "" {
		parsed, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			sinceSeq = parsed
		}
	}

	stream, err := h.Pipeline.Subscribe(r.Context(), sessionID, sinceSeq)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-stream:
			if !open {
				return
			}
			writeSSEEvent(w, flusher, ev)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var engErr *domain.EngineError
	if errors.As(err, &engErr) {
		status := http.StatusInternalServerError
		switch engErr.Code {
		case domain.ErrSessionNotFound.Code:
			status = http.StatusNotFound
		case domain.ErrSessionExpired.Code:
			status = http.StatusGone
		case domain.ErrSessionActive.Code, domain.ErrSessionRunning.Code:
			status = http.StatusConflict
		case domain.ErrValidation.Code, domain.ErrDuplicateTaskID.Code, domain.ErrUnknownDep.Code,
			domain.ErrGraphCycle.Code, domain.ErrEmptyGraph.Code, domain.ErrInvalidTaskKind.Code:
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, APIError{Code: engErr.Code, Message: engErr.Message})
		return
	}
	writeJSON(w, http.StatusInternalServerError, APIError{Code: -1, Message: err.Error()})
}

func writeSSEEvent(w http.ResponseWriter, f http.Flusher, ev domain.Event) {
	data, _ := json.Marshal(ev)
	fmt.Fprintf(w, "id: %d\ndata: %s\n\n", ev.Seq, data)
	f.Flush()
}
