// Package handlers implements the HTTP endpoints of the artifact chat API.
// Each handler is a thin JSON wrapper over a component built in pkg/server.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/agentoven/artifactchat/internal/api/middleware"
	"github.com/agentoven/artifactchat/internal/executor"
	"github.com/agentoven/artifactchat/internal/queue"
	"github.com/agentoven/artifactchat/internal/searchindex"
	"github.com/agentoven/artifactchat/internal/store"
	"github.com/agentoven/artifactchat/pkg/contracts"
	"github.com/agentoven/artifactchat/pkg/models"
)

// ServiceName is reported by /health and /version.
const ServiceName = "artifactchat"

// Handlers holds the dependencies of every endpoint. Optional collaborators
// may be nil; their endpoints then answer 503.
type Handlers struct {
	Objects     contracts.ObjectStore
	Schemas     *store.SchemaStore
	Index       contracts.SearchIndex
	Indexes     *searchindex.Registry
	Analyzers   contracts.AnalyzerProvisioner
	Runtime     contracts.AgentRuntime
	Turns       *executor.Orchestrator
	Retriever   queue.Retriever
	Packer      *queue.Packer
	Queue       contracts.Queue
	FilesPrefix string
	IngestQueue string
	AgentModel  string
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondFailure reports a collaborator failure with the request's
// correlation id so callers can match it to their request.
func respondFailure(w http.ResponseWriter, r *http.Request, status int, err error) {
	respondJSON(w, status, models.ErrorEnvelope{
		Error:         err.Error(),
		CorrelationID: middleware.GetCorrelationID(r.Context()),
	})
}

// Health handles GET /health. Every registered search index is pinged; any
// failure turns the status to degraded with 503.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	checks := map[string]string{}
	if h.Indexes != nil {
		for name, err := range h.Indexes.HealthCheckAll(r.Context()) {
			if err != nil {
				status, code = "degraded", http.StatusServiceUnavailable
				checks[name] = err.Error()
				continue
			}
			checks[name] = "ok"
		}
	}
	respondJSON(w, code, map[string]any{
		"status":  status,
		"service": ServiceName,
		"checks":  checks,
	})
}
