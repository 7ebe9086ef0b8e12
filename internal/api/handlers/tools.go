package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/agentoven/artifactchat/internal/api/middleware"
	"github.com/agentoven/artifactchat/internal/queue"
	"github.com/agentoven/artifactchat/pkg/models"
)

// Tool returns the HTTP mirror of a retrieval tool worker:
// {payload:{...}} in, packed result envelope out.
func (h *Handlers) Tool(tool models.ToolID) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body models.ToolPayload
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		payload, _ := json.Marshal(body.Payload)

		out, err := queue.AnswerTool(r.Context(), tool, h.Retriever, h.Packer, payload, middleware.GetCorrelationID(r.Context()))
		if err != nil {
			respondFailure(w, r, http.StatusBadGateway, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(out)
	}
}
