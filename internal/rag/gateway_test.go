package rag_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/artifactchat/internal/rag"
	"github.com/agentoven/artifactchat/internal/searchindex"
	"github.com/agentoven/artifactchat/pkg/models"
)

type recordingIndex struct {
	*searchindex.EmbeddedIndex
	queries []models.SearchQuery
	err     error
}

func (r *recordingIndex) Search(ctx context.Context, c models.Collection, q models.SearchQuery) (*models.SearchResults, error) {
	r.queries = append(r.queries, q)
	if r.err != nil {
		return nil, r.err
	}
	return r.EmbeddedIndex.Search(ctx, c, q)
}

func seededIndex(t *testing.T) *recordingIndex {
	t.Helper()
	idx := &recordingIndex{EmbeddedIndex: searchindex.NewEmbeddedIndex()}
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, models.CollectionDocuments, []map[string]any{
		models.Document{ID: "d1", FileName: "a.md", Timestamp: "t1", Summary: "invoice summary", Content: "invoice summary"}.Fields(),
		models.Document{ID: "d2", FileName: "b.md", Timestamp: "t2", Summary: "memo", Content: "memo"}.Fields(),
	}))

	md := models.Chunk{ID: "d1_chunk_0", ParentDocumentID: "d1", Content: "invoice lines", FileName: "a.md", Timestamp: "t1",
		Kind: models.ChunkMarkdown, Markdown: &models.MarkdownStructure{Headers: map[string]string{"h1": "Invoice"}}}
	caption := models.Chunk{ID: "d3_chunk_0", ParentDocumentID: "d3", Content: "[Ann] invoice call", FileName: "c.mp3", Timestamp: "t3",
		Kind: models.ChunkCaption, Caption: &models.CaptionStructure{StartTimeMs: 0, EndTimeMs: 1500, Speaker: "Ann"}}
	require.NoError(t, idx.Upsert(ctx, models.CollectionChunks, []map[string]any{md.Fields(), caption.Fields()}))
	return idx
}

func TestGatewayArtifactTool(t *testing.T) {
	idx := seededIndex(t)
	gw := rag.NewGateway(idx, nil)

	res, err := gw.Query(context.Background(), models.ToolArtifact, models.SearchRequest{SearchText: "invoice"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	require.Len(t, res.Results, 1)
	r := res.Results[0]
	assert.Equal(t, "d1", r["id"])
	assert.Equal(t, "invoice summary", r["summary"])
	assert.Equal(t, "d1", r["artifactId"])
	assert.Contains(t, r, "score")
	assert.NotContains(t, r, "content")

	q := idx.queries[0]
	assert.Equal(t, "docType eq 'artifact'", q.Filter)
	assert.Equal(t, models.DefaultTopK, q.Top)
	assert.Equal(t, searchindex.SemanticDocuments, q.SemanticConfiguration)
}

func TestGatewayChunkToolNormalisesBothSchemas(t *testing.T) {
	idx := seededIndex(t)
	gw := rag.NewGateway(idx, nil)

	res, err := gw.Query(context.Background(), models.ToolArtifactChunk, models.SearchRequest{SearchText: "invoice", TopK: 500, SemanticRanking: true})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
	require.Len(t, res.Results, 2)

	byID := map[any]models.ResultRecord{}
	for _, r := range res.Results {
		byID[r["id"]] = r
	}
	md := byID["d1_chunk_0"]
	require.NotNil(t, md)
	assert.Equal(t, "invoice lines", md["content"])
	assert.Equal(t, map[string]string{"h1": "Invoice"}, md["headers"])
	assert.NotContains(t, md, "speaker")

	cp := byID["d3_chunk_0"]
	require.NotNil(t, cp)
	assert.Equal(t, "[Ann] invoice call", cp["content"])
	assert.Equal(t, "d3", cp["artifactId"])
	assert.Equal(t, int64(1500), cp["endTimeMs"])
	assert.Equal(t, "Ann", cp["speaker"])

	q := idx.queries[0]
	assert.Equal(t, models.MaxTopK, q.Top)
	assert.True(t, q.Semantic)
	assert.Equal(t, searchindex.SemanticChunks, q.SemanticConfiguration)
}

func TestGatewayUserFilter(t *testing.T) {
	idx := seededIndex(t)
	gw := rag.NewGateway(idx, nil)

	res, err := gw.Query(context.Background(), models.ToolArtifactChunk, models.SearchRequest{Filter: "chunk_speaker eq 'Ann'"})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "d3_chunk_0", res.Results[0]["id"])
	assert.Equal(t, "(docType eq 'chunk' or chunk_docType eq 'chunk') and (chunk_speaker eq 'Ann')", idx.queries[0].Filter)
	assert.Equal(t, "*", idx.queries[0].Text)
}

func TestGatewayHybridQuery(t *testing.T) {
	idx := seededIndex(t)
	emb := &fakeEmbeddings{}
	gw := rag.NewGateway(idx, emb)

	_, err := gw.Query(context.Background(), models.ToolArtifact, models.SearchRequest{SearchText: "memo"})
	require.NoError(t, err)
	assert.Equal(t, 1, emb.calls)
	assert.Len(t, idx.queries[0].Vector, 2)

	_, err = gw.Query(context.Background(), models.ToolArtifact, models.SearchRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, emb.calls, "match-all queries are not embedded")
}

func TestGatewayErrors(t *testing.T) {
	idx := seededIndex(t)
	gw := rag.NewGateway(idx, nil)

	_, err := gw.Query(context.Background(), models.ToolID("other"), models.SearchRequest{})
	assert.Error(t, err)

	idx.err = errors.New("index offline")
	_, err = gw.Query(context.Background(), models.ToolArtifact, models.SearchRequest{})
	assert.ErrorContains(t, err, "index offline")
}
