package rag

import (
	"context"
	"fmt"

	"github.com/agentoven/artifactchat/internal/odata"
	"github.com/agentoven/artifactchat/internal/searchindex"
	"github.com/agentoven/artifactchat/internal/telemetry"
	"github.com/agentoven/artifactchat/pkg/contracts"
	"github.com/agentoven/artifactchat/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// Base filters scoping each tool to its records. Caption chunks only carry
// the prefixed discriminator.
const (
	documentFilter = "docType eq 'artifact'"
	chunkFilter    = "(docType eq 'chunk' or chunk_docType eq 'chunk')"
)

var (
	documentSelect = []string{"id", "timestamp", "summary", "artifactId", "fileName"}
	chunkSelect    = []string{
		"id", "content", "timestamp", "artifactId", "fileName", "segmentTimestamp", "headers",
		"chunk_id", "chunk_content", "chunk_timestamp", "chunk_artifactId", "chunk_fileName",
		"chunk_startTimeMs", "chunk_endTimeMs", "chunk_speaker",
	}
)

// Gateway answers the retrieval tools against the search index.
type Gateway struct {
	index      contracts.SearchIndex
	embeddings contracts.EmbeddingDriver
}

// NewGateway creates a retrieval gateway. emb may be nil, in which case
// queries are text-only.
func NewGateway(index contracts.SearchIndex, emb contracts.EmbeddingDriver) *Gateway {
	return &Gateway{index: index, embeddings: emb}
}

// Query runs one retrieval tool call and returns the normalised records.
func (g *Gateway) Query(ctx context.Context, tool models.ToolID, req models.SearchRequest) (*models.ResultSet, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "rag.query")
	defer span.End()

	req = req.Normalize()
	span.SetAttributes(attribute.String("tool", string(tool)), attribute.Int("top_k", req.TopK))

	q := models.SearchQuery{Text: req.SearchText, Top: req.TopK, Semantic: req.SemanticRanking}
	switch tool {
	case models.ToolArtifact:
		q.Filter = odata.Join(documentFilter, req.Filter)
		q.Select = documentSelect
		q.SemanticConfiguration = searchindex.SemanticDocuments
		q.VectorFields = []string{"contentVector"}
	case models.ToolArtifactChunk:
		q.Filter = odata.Join(chunkFilter, req.Filter)
		q.Select = chunkSelect
		q.SemanticConfiguration = searchindex.SemanticChunks
		q.VectorFields = []string{"contentVector", models.CaptionFieldPrefix + "contentVector"}
	default:
		return nil, fmt.Errorf("unknown retrieval tool %q", tool)
	}
	if req.QuestionRewriting {
		log.Debug().Str("tool", string(tool)).Msg("Question rewriting requested; query used as given")
	}

	if g.embeddings != nil && req.SearchText != "*" {
		vectors, err := g.embeddings.Embed(ctx, []string{req.SearchText})
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		if len(vectors) == 1 {
			q.Vector = vectors[0]
		}
	}

	res, err := g.index.Search(ctx, tool.Collection(), q)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", tool.Collection(), err)
	}

	out := &models.ResultSet{Results: make([]models.ResultRecord, 0, len(res.Records)), Count: res.TotalCount}
	for _, rec := range res.Records {
		if tool == models.ToolArtifact {
			out.Results = append(out.Results, documentRecord(rec))
		} else {
			out.Results = append(out.Results, chunkRecord(rec))
		}
	}

	log.Debug().
		Str("tool", string(tool)).
		Int("results", len(out.Results)).
		Int("count", out.Count).
		Msg("Retrieval complete")
	return out, nil
}

func documentRecord(rec models.Record) models.ResultRecord {
	out := models.ResultRecord{"score": rec.Score}
	for _, f := range documentSelect {
		out[f] = rec.Fields[f]
	}
	return out
}

// chunkRecord normalises a chunk hit, reading each unprefixed field first
// and its chunk_ twin second.
func chunkRecord(rec models.Record) models.ResultRecord {
	field := func(name string) (any, bool) {
		if v, ok := rec.Fields[name]; ok && v != nil {
			return v, true
		}
		v, ok := rec.Fields[models.CaptionFieldPrefix+name]
		return v, ok && v != nil
	}

	out := models.ResultRecord{"score": rec.Score}
	for _, f := range []string{"id", "content", "timestamp", "artifactId", "fileName"} {
		v, _ := field(f)
		out[f] = v
	}
	for _, f := range []string{"segmentTimestamp", "headers", "startTimeMs", "endTimeMs", "speaker"} {
		if v, ok := field(f); ok {
			out[f] = v
		}
	}
	return out
}
