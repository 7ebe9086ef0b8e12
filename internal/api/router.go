package api

import (
	"encoding/json"
	"net/http"

	"github.com/agentoven/artifactchat/internal/api/handlers"
	"github.com/agentoven/artifactchat/internal/api/middleware"
	"github.com/agentoven/artifactchat/internal/config"
	"github.com/agentoven/artifactchat/pkg/models"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Correlation)
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-Id", middleware.CorrelationHeader},
		ExposedHeaders:   []string{"X-Request-Id", middleware.CorrelationHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.NewAPIKeyAuth(cfg.Auth.APIKeys).Middleware)

	// Health & info
	r.Get("/health", h.Health)
	r.Get("/version", versionHandler(cfg))

	r.Route("/api", func(r chi.Router) {
		r.Post("/upload", h.Upload)
		r.Get("/files/{filename}", h.GetFile)

		r.Post("/chat", h.Chat)
		r.Post("/threads", h.CreateThread)
		r.Get("/threads/{threadId}/messages", h.History)

		r.Post("/setup", h.Setup)

		// HTTP mirror of the queue tool workers
		r.Route("/tools", func(r chi.Router) {
			r.Post("/artifact", h.Tool(models.ToolArtifact))
			r.Post("/artifactchunk", h.Tool(models.ToolArtifactChunk))
		})
	})

	return r
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": handlers.ServiceName,
		})
	}
}
