package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/agentoven/artifactchat/internal/assistants"
	"github.com/agentoven/artifactchat/internal/executor"
	"github.com/agentoven/artifactchat/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

type threadResponse struct {
	ThreadID string `json:"threadId"`
}

// Chat handles POST /api/chat. Without a threadId it only creates a
// thread; otherwise it runs one turn.
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	if h.Turns == nil {
		respondError(w, http.StatusServiceUnavailable, "agent runtime not configured")
		return
	}

	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.ThreadID == "" {
		h.createThread(w, r)
		return
	}
	if req.Prompt == "" {
		respondError(w, http.StatusBadRequest, "Missing prompt")
		return
	}

	schema, err := h.Schemas.LoadOrDefault(r.Context())
	if err != nil {
		respondFailure(w, r, http.StatusBadGateway, err)
		return
	}
	agent, err := assistants.ResolveAgent(r.Context(), h.Runtime, assistants.AgentName(schema))
	if err != nil {
		respondFailure(w, r, http.StatusBadGateway, err)
		return
	}

	reply, err := h.Turns.Turn(r.Context(), agent.ID, req.ThreadID, req.Prompt)
	if err != nil {
		log.Error().Err(err).Str("thread_id", req.ThreadID).Msg("Chat turn failed")
		status := http.StatusInternalServerError
		if errors.Is(err, executor.ErrRunTimeout) {
			status = http.StatusGatewayTimeout
		}
		respondFailure(w, r, status, err)
		return
	}
	respondJSON(w, http.StatusOK, reply)
}

// CreateThread handles POST /api/threads.
func (h *Handlers) CreateThread(w http.ResponseWriter, r *http.Request) {
	if h.Turns == nil {
		respondError(w, http.StatusServiceUnavailable, "agent runtime not configured")
		return
	}
	h.createThread(w, r)
}

func (h *Handlers) createThread(w http.ResponseWriter, r *http.Request) {
	t, err := h.Turns.StartThread(r.Context())
	if err != nil {
		respondFailure(w, r, http.StatusBadGateway, err)
		return
	}
	respondJSON(w, http.StatusOK, threadResponse{ThreadID: t.ID})
}

// History handles GET /api/threads/{threadId}/messages.
func (h *Handlers) History(w http.ResponseWriter, r *http.Request) {
	if h.Turns == nil {
		respondError(w, http.StatusServiceUnavailable, "agent runtime not configured")
		return
	}
	threadID := chi.URLParam(r, "threadId")
	msgs, err := h.Turns.History(r.Context(), threadID)
	if err != nil {
		if assistants.IsNotFound(err) {
			respondError(w, http.StatusNotFound, "thread not found")
			return
		}
		respondFailure(w, r, http.StatusBadGateway, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string][]models.ChatMessage{"messages": msgs})
}
