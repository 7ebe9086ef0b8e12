package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentoven/artifactchat/internal/rag"
	"github.com/agentoven/artifactchat/pkg/contracts"
	"github.com/agentoven/artifactchat/pkg/models"
	"github.com/rs/zerolog/log"
)

// Retriever answers retrieval tool calls. Satisfied by *rag.Gateway.
type Retriever interface {
	Query(ctx context.Context, tool models.ToolID, req models.SearchRequest) (*models.ResultSet, error)
}

// BlobIngester runs the ingestion pipeline. Satisfied by *rag.Ingester.
type BlobIngester interface {
	Ingest(ctx context.Context, blob rag.Blob) (*models.IngestResult, error)
}

// ToolHandler answers queued tool requests {payload, CorrelationId} with a
// packed result envelope. Failures are answered with an error envelope
// carrying the same correlation id, so the handler itself never fails.
func ToolHandler(tool models.ToolID, r Retriever, p *Packer) Handler {
	return func(ctx context.Context, msg *contracts.Message) ([]byte, error) {
		var env models.ToolRequestEnvelope
		if err := json.Unmarshal(msg.Body, &env); err != nil {
			return errorReply("", fmt.Errorf("decode tool request: %w", err)), nil
		}
		body, err := AnswerTool(ctx, tool, r, p, env.Payload, env.CorrelationID)
		if err != nil {
			return errorReply(env.CorrelationID, err), nil
		}
		return body, nil
	}
}

// AnswerTool decodes a tool payload, runs the retrieval and packs the result.
func AnswerTool(ctx context.Context, tool models.ToolID, r Retriever, p *Packer, payload json.RawMessage, correlationID string) ([]byte, error) {
	var req models.SearchRequest
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("decode tool payload: %w", err)
		}
	}
	set, err := r.Query(ctx, tool, req)
	if err != nil {
		return nil, err
	}
	body, _, err := p.Pack(*set, correlationID)
	return body, err
}

func errorReply(correlationID string, err error) []byte {
	log.Warn().Err(err).Str("correlation_id", correlationID).Msg("Tool request failed")
	body, _ := json.Marshal(models.ErrorEnvelope{Error: err.Error(), CorrelationID: correlationID})
	return body
}

// IngestHandler runs the ingestion pipeline for queued IngestJob messages.
func IngestHandler(objects contracts.ObjectStore, ing BlobIngester) Handler {
	return func(ctx context.Context, msg *contracts.Message) ([]byte, error) {
		var job models.IngestJob
		if err := json.Unmarshal(msg.Body, &job); err != nil {
			return nil, fmt.Errorf("decode ingest job: %w", err)
		}
		data, metadata, err := objects.Get(ctx, job.BlobName)
		if err != nil {
			return nil, fmt.Errorf("load blob %s: %w", job.BlobName, err)
		}
		res, err := ing.Ingest(ctx, rag.Blob{Name: job.BlobName, Data: data, Metadata: metadata})
		if err != nil {
			return nil, err
		}
		log.Info().Str("document_id", res.DocumentID).Int("chunks", res.Chunks).Msg("Ingestion job complete")
		return nil, nil
	}
}
