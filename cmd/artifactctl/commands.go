package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/agentoven/artifactchat/internal/assistants"
	"github.com/agentoven/artifactchat/internal/config"
	"github.com/agentoven/artifactchat/internal/rag"
	"github.com/agentoven/artifactchat/pkg/models"
	"github.com/agentoven/artifactchat/pkg/server"
)

// --- chunk ---

var chunkCmd = &cobra.Command{
	Use:   "chunk <file>",
	Short: "Print the chunk records of a local file as JSON",
	Long: `Segment a local file without any collaborator and print the chunk
records that ingestion would index.

Markdown files (.md) use the Markdown segmenter; anything else is read as
a transcript in the chosen dialect.

Examples:
  artifactctl chunk ./notes.md
  artifactctl chunk ./meeting.vtt --dialect caption`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dialect, _ := cmd.Flags().GetString("dialect")
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}
		segs, err := rag.NewSegmenters(config.Default().Chunking)
		if err != nil {
			return err
		}
		return writeChunks(cmd.OutOrStdout(), segs, filepath.Base(args[0]), string(data), rag.Dialect(dialect))
	},
}

func init() {
	chunkCmd.Flags().String("dialect", "bracketed", "transcript dialect: bracketed | caption")
}

// writeChunks segments text and writes the index records as a JSON array.
func writeChunks(w io.Writer, segs *rag.Segmenters, name, text string, dialect rag.Dialect) error {
	var seg rag.Segmenter = segs.Transcript(dialect)
	if ext := strings.ToLower(filepath.Ext(name)); ext == ".md" || ext == ".markdown" {
		seg = segs.Markdown
	}

	chunks := seg.Segment(text, models.ParentMetadata{ParentDocumentID: strings.TrimSuffix(name, filepath.Ext(name)), FileName: name})
	records := make([]map[string]any, len(chunks))
	for i, c := range chunks {
		records[i] = c.Fields()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Upload a file and run the ingestion pipeline on it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		transcriptFormat, _ := cmd.Flags().GetString("transcript-format")
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		ctx := cmd.Context()
		srv, err := newServer(ctx)
		if err != nil {
			return err
		}
		defer srv.Shutdown(context.WithoutCancel(ctx))

		name := filepath.Base(args[0])
		fileID := uuid.NewString()
		metadata := map[string]string{"artifactId": fileID, "fileName": name}
		if transcriptFormat != "" {
			metadata[rag.MetadataTranscriptFormat] = transcriptFormat
		}
		key := srv.Config.Storage.FilesPrefix + fileID + "_" + name
		if err := srv.Objects.Put(ctx, key, data, "", metadata); err != nil {
			return fmt.Errorf("storing file: %w", err)
		}
		stored, storedMeta, err := srv.Objects.Get(ctx, key)
		if err != nil {
			return err
		}

		res, err := srv.Ingester.Ingest(ctx, rag.Blob{Name: key, Data: stored, Metadata: storedMeta})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Ingested %s as %s (%d chunks)\n", name, res.DocumentID, res.Chunks)
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("transcript-format", "", "transcript dialect for recordings: bracketed | caption")
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat <prompt>",
	Short: "Run one conversational turn",
	Long: `Run one conversational turn against the configured agent.

Without --thread a new thread is created; its id is printed so the
conversation can continue.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		threadID, _ := cmd.Flags().GetString("thread")

		ctx := cmd.Context()
		srv, err := newServer(ctx)
		if err != nil {
			return err
		}
		defer srv.Shutdown(context.WithoutCancel(ctx))
		if srv.Turns == nil {
			return errors.New("agent.endpoint is not configured")
		}

		schema, err := srv.Schemas.LoadOrDefault(ctx)
		if err != nil {
			return err
		}
		agent, err := assistants.ResolveAgent(ctx, srv.Runtime, assistants.AgentName(schema))
		if err != nil {
			return err
		}
		reply, err := srv.Turns.Turn(ctx, agent.ID, threadID, strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n\n(thread %s)\n", reply.Content, reply.ThreadID)
		return nil
	},
}

func init() {
	chatCmd.Flags().String("thread", "", "thread id to continue")
}

// --- worker ---

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the ingestion and retrieval tool queue workers until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv, err := newServer(ctx)
		if err != nil {
			return err
		}
		defer srv.Shutdown(context.WithoutCancel(ctx))
		return srv.Worker.Run(ctx)
	},
}

func newServer(ctx context.Context) (*server.Server, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return server.New(ctx, cfg)
}
