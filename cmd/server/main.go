// Artifact chat server: document upload and ingestion, retrieval tools
// and grounded chat over the ingested artifacts.
//
// One process serves the HTTP API and runs the queue worker that drains
// the ingestion and retrieval tool queues.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentoven/artifactchat/internal/config"
	"github.com/agentoven/artifactchat/pkg/server"

	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		server.SetupLogging(config.LoggingConfig{})
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	server.SetupLogging(cfg.Logging)

	log.Info().Str("version", cfg.Version).Msg("📄 Artifact chat starting...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize server")
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", srv.Port),
		Handler:      srv.Handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := srv.Worker.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Queue worker stopped")
		}
	}()

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		log.Info().Msg("🛑 Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().Int("port", srv.Port).Msg("🚀 Artifact chat is ready")

	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("Server failed")
		stop()
	}

	<-workerDone
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown incomplete")
		os.Exit(1)
	}
}
