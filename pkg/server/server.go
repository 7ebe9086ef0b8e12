// Package server composes the artifact chat service from configuration.
//
// It lives in pkg/ so other binaries (cmd/server, cmd/artifactctl) and
// embedding programs can build the same component graph:
//
//	srv, err := server.New(ctx, cfg)
//	go srv.Worker.Run(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/agentoven/artifactchat/internal/analysis"
	"github.com/agentoven/artifactchat/internal/api"
	"github.com/agentoven/artifactchat/internal/api/handlers"
	"github.com/agentoven/artifactchat/internal/assistants"
	"github.com/agentoven/artifactchat/internal/config"
	"github.com/agentoven/artifactchat/internal/embeddings"
	"github.com/agentoven/artifactchat/internal/executor"
	"github.com/agentoven/artifactchat/internal/objectstore"
	"github.com/agentoven/artifactchat/internal/queue"
	"github.com/agentoven/artifactchat/internal/rag"
	"github.com/agentoven/artifactchat/internal/searchindex"
	"github.com/agentoven/artifactchat/internal/store"
	"github.com/agentoven/artifactchat/internal/telemetry"
	"github.com/agentoven/artifactchat/pkg/contracts"
	"github.com/agentoven/artifactchat/pkg/models"

	"github.com/rs/zerolog/log"
)

// Server holds the initialized service.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Worker runs the ingestion and retrieval tool queues.
	Worker *queue.Worker

	Config   *config.Config
	Objects  contracts.ObjectStore
	Schemas  *store.SchemaStore
	Queue    contracts.Queue
	Ingester *rag.Ingester
	Gateway  *rag.Gateway
	Packer   *queue.Packer
	Runtime  contracts.AgentRuntime
	Turns    *executor.Orchestrator
	Port     int

	closers []func(context.Context) error
}

// New initializes every component from cfg and returns a ready Server.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	s := &Server{Config: cfg, Port: cfg.Port}

	shutdown, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	s.closers = append(s.closers, shutdown)

	if err := s.build(ctx); err != nil {
		s.Shutdown(context.WithoutCancel(ctx))
		return nil, err
	}
	return s, nil
}

func (s *Server) build(ctx context.Context) error {
	cfg := s.Config

	objects, err := objectstore.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("init object storage: %w", err)
	}
	s.Objects = objects
	s.Schemas = store.NewSchemaStore(objects, cfg.Storage.ConfigKey)
	log.Info().Str("driver", cfg.Storage.Driver).Msg("✅ Object storage initialized")

	index, err := searchindex.New(ctx, cfg.Search)
	if err != nil {
		return fmt.Errorf("init search index: %w", err)
	}
	if c, ok := index.(interface{ Close() }); ok {
		s.closers = append(s.closers, func(context.Context) error { c.Close(); return nil })
	}
	log.Info().Str("driver", index.Kind()).Msg("✅ Search index initialized")

	analyzer, err := analysis.New(cfg.Analysis)
	if err != nil {
		return fmt.Errorf("init analysis: %w", err)
	}
	emb, err := embeddings.New(cfg.Embeddings)
	if err != nil {
		return fmt.Errorf("init embeddings: %w", err)
	}
	segmenters, err := rag.NewSegmenters(cfg.Chunking)
	if err != nil {
		return fmt.Errorf("init segmenters: %w", err)
	}

	var ingestOpts []rag.IngesterOption
	if emb != nil {
		ingestOpts = append(ingestOpts, rag.WithEmbeddings(emb))
	}
	s.Ingester = rag.NewIngester(s.Schemas, analyzer, index, segmenters, ingestOpts...)
	s.Gateway = rag.NewGateway(index, emb)
	log.Info().Str("analysis", cfg.Analysis.Driver).Msg("✅ Ingestion pipeline initialized")

	if s.Packer, err = queue.NewPacker(cfg.Packing); err != nil {
		return err
	}

	q, err := queue.New(cfg.Queue)
	if err != nil {
		return fmt.Errorf("init queue: %w", err)
	}
	s.Queue = q
	if c, ok := q.(io.Closer); ok {
		s.closers = append(s.closers, func(context.Context) error { return c.Close() })
	}

	if cfg.Agent.Endpoint != "" {
		client, err := assistants.New(cfg.Agent)
		if err != nil {
			return fmt.Errorf("init agent runtime: %w", err)
		}
		s.Runtime = client
		s.Turns = executor.New(client, cfg.Agent,
			executor.WithTool(models.ToolArtifact, executor.RetrievalTool(models.ToolArtifact, s.Gateway, s.Packer)),
			executor.WithTool(models.ToolArtifactChunk, executor.RetrievalTool(models.ToolArtifactChunk, s.Gateway, s.Packer)),
			executor.WithOutputQueueRoute(cfg.Queue.ArtifactOutputQueue, models.ToolArtifact),
			executor.WithOutputQueueRoute(cfg.Queue.ChunkOutputQueue, models.ToolArtifactChunk),
		)
		log.Info().Str("model", cfg.Agent.Model).Msg("✅ Agent runtime initialized")
	} else {
		log.Warn().Msg("Agent endpoint not configured, chat endpoints disabled")
	}

	s.Worker, err = queue.NewWorker(q, cfg.Queue.Workers, s.routes(), queue.WithPollInterval(cfg.Queue.PollInterval.Duration))
	if err != nil {
		return err
	}
	s.closers = append(s.closers, func(context.Context) error { s.Worker.Release(); return nil })

	indexes := searchindex.NewRegistry()
	indexes.Register(index.Kind(), index)

	h := &handlers.Handlers{
		Objects:     objects,
		Schemas:     s.Schemas,
		Index:       index,
		Indexes:     indexes,
		Runtime:     s.Runtime,
		Turns:       s.Turns,
		Retriever:   s.Gateway,
		Packer:      s.Packer,
		Queue:       q,
		FilesPrefix: cfg.Storage.FilesPrefix,
		IngestQueue: cfg.Queue.IngestionQueue,
		AgentModel:  cfg.Agent.Model,
	}
	if p, ok := analyzer.(contracts.AnalyzerProvisioner); ok {
		h.Analyzers = p
	}
	s.Handler = api.NewRouter(cfg, h)
	return nil
}

func (s *Server) routes() []queue.Route {
	qc := s.Config.Queue
	return []queue.Route{
		{Input: qc.IngestionQueue, Handle: queue.IngestHandler(s.Objects, s.Ingester)},
		{Input: qc.ArtifactInputQueue, Output: qc.ArtifactOutputQueue, Handle: queue.ToolHandler(models.ToolArtifact, s.Gateway, s.Packer)},
		{Input: qc.ChunkInputQueue, Output: qc.ChunkOutputQueue, Handle: queue.ToolHandler(models.ToolArtifactChunk, s.Gateway, s.Packer)},
	}
}

// Shutdown releases the worker pool, closes drivers and flushes telemetry,
// in reverse order of construction.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
