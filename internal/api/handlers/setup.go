package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/agentoven/artifactchat/internal/analysis"
	"github.com/agentoven/artifactchat/internal/assistants"
	"github.com/agentoven/artifactchat/internal/store"
	"github.com/agentoven/artifactchat/pkg/models"
	"github.com/rs/zerolog/log"
)

// Setup handles POST /api/setup: it stores the schema configuration, then
// provisions the search collections, the analyzer and the agent from it.
func (h *Handlers) Setup(w http.ResponseWriter, r *http.Request) {
	var cfg models.SchemaConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON in request body")
		return
	}
	if err := store.Normalize(&cfg); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	if err := h.Schemas.Save(ctx, &cfg); err != nil {
		log.Error().Err(err).Msg("Storing configuration failed")
		respondFailure(w, r, http.StatusBadGateway, err)
		return
	}
	if err := h.Index.EnsureCollections(ctx, &cfg); err != nil {
		respondFailure(w, r, http.StatusBadGateway, err)
		return
	}

	result := models.SetupResult{Status: "success", AnalyzerID: cfg.AnalyzerID()}
	if h.Analyzers != nil {
		err := h.Analyzers.CreateOrUpdateAnalyzer(ctx, &cfg)
		switch {
		case errors.Is(err, analysis.ErrAnalyzerExists):
			result.Message = "Using existing analyzer"
		case err != nil:
			respondFailure(w, r, http.StatusBadGateway, err)
			return
		}
	}
	if h.Runtime != nil {
		agent, err := assistants.EnsureAgent(ctx, h.Runtime, &cfg, h.AgentModel)
		if err != nil {
			respondFailure(w, r, http.StatusBadGateway, err)
			return
		}
		result.AgentID = agent.ID
	}

	log.Info().Str("schema", cfg.Name).Int("fields", len(cfg.Fields)).Str("agent_id", result.AgentID).Msg("Setup complete")
	respondJSON(w, http.StatusOK, result)
}
