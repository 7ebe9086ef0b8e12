package rag_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/artifactchat/internal/clock"
	"github.com/agentoven/artifactchat/internal/config"
	"github.com/agentoven/artifactchat/internal/objectstore"
	"github.com/agentoven/artifactchat/internal/rag"
	"github.com/agentoven/artifactchat/internal/searchindex"
	"github.com/agentoven/artifactchat/internal/store"
	"github.com/agentoven/artifactchat/pkg/models"
)

type fakeAnalyzer struct {
	result *models.AnalysisResult
	err    error
	gotID  string
}

func (f *fakeAnalyzer) Analyze(_ context.Context, analyzerID string, _ []byte) (*models.AnalysisResult, error) {
	f.gotID = analyzerID
	return f.result, f.err
}

type fakeEmbeddings struct {
	calls int
}

func (f *fakeEmbeddings) Kind() string      { return "fake" }
func (f *fakeEmbeddings) Dimensions() int   { return 2 }
func (f *fakeEmbeddings) MaxBatchSize() int { return 2 }

func (f *fakeEmbeddings) Embed(_ context.Context, texts []string) ([][]float64, error) {
	f.calls++
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = []float64{float64(len(t)), 1}
	}
	return out, nil
}

type harness struct {
	index    *searchindex.EmbeddedIndex
	analyzer *fakeAnalyzer
	ingester *rag.Ingester
}

func newHarness(t *testing.T, opts ...rag.IngesterOption) *harness {
	t.Helper()
	ctx := context.Background()

	schemas := store.NewSchemaStore(objectstore.NewMemoryStore(), "schemas/user_config.json")
	require.NoError(t, schemas.Save(ctx, &models.SchemaConfig{
		Name: "invoices",
		Fields: []models.FieldDefinition{
			{Name: "author", Type: "string"},
			{Name: "tags", Type: "array"},
			{Name: "lines", Type: "table", Fields: []models.FieldDefinition{{Name: "sku", Type: "string"}}},
		},
	}))

	segs, err := rag.NewSegmenters(config.Default().Chunking)
	require.NoError(t, err)

	h := &harness{
		index: searchindex.NewEmbeddedIndex(),
		analyzer: &fakeAnalyzer{result: &models.AnalysisResult{
			Status: models.AnalysisSucceeded,
			Contents: []models.ContentItem{{
				Kind:     models.ContentDocument,
				Markdown: "analysed markdown",
				Fields: map[string]models.FieldValue{
					"summary": models.StringField("A short summary."),
					"author":  models.StringField("kim"),
					"tags":    {Kind: models.FieldArray, Array: []models.FieldValue{models.StringField("a"), models.StringField("b")}},
					"lines": {Kind: models.FieldArray, Array: []models.FieldValue{
						{Kind: models.FieldObject, Object: map[string]models.FieldValue{"sku": models.StringField("X1")}},
						{Kind: models.FieldObject, Object: map[string]models.FieldValue{"sku": models.StringField("X2")}},
					}},
					"undeclared": models.StringField("dropped"),
				},
			}},
		}},
	}
	opts = append([]rag.IngesterOption{rag.WithIngestClock(clock.NewFake(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))}, opts...)
	h.ingester = rag.NewIngester(schemas, h.analyzer, h.index, segs, opts...)
	return h
}

func (h *harness) all(t *testing.T, c models.Collection) []models.Record {
	t.Helper()
	res, err := h.index.Search(context.Background(), c, models.SearchQuery{Text: "*"})
	require.NoError(t, err)
	return res.Records
}

func TestParseBlobName(t *testing.T) {
	id, name, typ, err := rag.ParseBlobName("files/123_my_notes.MD")
	require.NoError(t, err)
	assert.Equal(t, "123", id)
	assert.Equal(t, "my_notes.MD", name)
	assert.Equal(t, "md", typ)

	for _, bad := range []string{"nounderscore.md", "_name.md", "id_"} {
		_, _, _, err := rag.ParseBlobName(bad)
		assert.ErrorIs(t, err, rag.ErrBlobName, bad)
	}
}

func TestIngestMarkdownFile(t *testing.T) {
	h := newHarness(t)
	blob := rag.Blob{Name: "abc_notes.md", Data: []byte("# Title\nbody text\n## Part\nmore text")}

	res, err := h.ingester.Ingest(context.Background(), blob)
	require.NoError(t, err)
	assert.Equal(t, "invoices", h.analyzer.gotID)
	assert.Equal(t, models.ChunkMarkdown, res.Segmenter)
	assert.Equal(t, 2, res.Chunks)

	docs := h.all(t, models.CollectionDocuments)
	require.Len(t, docs, 1)
	doc := docs[0].Fields
	assert.Equal(t, "abc", doc["id"])
	assert.Equal(t, "artifact", doc["docType"])
	assert.Equal(t, "notes.md", doc["fileName"])
	assert.Equal(t, "A short summary.", doc["summary"])
	assert.Equal(t, "A short summary.", doc["content"])
	assert.Equal(t, "kim", doc["author"])
	assert.Equal(t, []string{"a", "b"}, doc["tags"])
	assert.Equal(t, "X1, X2", doc["lines_sku"])
	assert.Equal(t, "2024-05-01T10:00:00Z", doc["timestamp"])
	assert.NotContains(t, doc, "undeclared")

	chunks := h.all(t, models.CollectionChunks)
	require.Len(t, chunks, 2)
	for _, c := range chunks {
		assert.Equal(t, "kim", c.Fields["author"])
		assert.Equal(t, "abc", c.Fields["artifactId"])
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	h := newHarness(t)
	blob := rag.Blob{Name: "abc_notes.md", Data: []byte("# Title\nbody text\n## Part\nmore text")}

	_, err := h.ingester.Ingest(context.Background(), blob)
	require.NoError(t, err)
	first := h.index.Count(models.CollectionChunks)

	_, err = h.ingester.Ingest(context.Background(), blob)
	require.NoError(t, err)
	assert.Equal(t, first, h.index.Count(models.CollectionChunks))
	assert.Equal(t, 1, h.index.Count(models.CollectionDocuments))
}

func TestIngestRecordingUsesCallerDialect(t *testing.T) {
	h := newHarness(t)
	h.analyzer.result.Contents = append(h.analyzer.result.Contents, models.ContentItem{
		Kind:     models.ContentAudioVisual,
		Markdown: "WEBVTT\n\n00:00.000 --> 00:01.500\n<v Ann>Hello there\n\n00:01.500 --> 00:03.000\n<v Bob>Hi Ann\n",
	})

	res, err := h.ingester.Ingest(context.Background(), rag.Blob{
		Name:     "rec_call.mp3",
		Metadata: map[string]string{"transcriptformat": "caption"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.ChunkCaption, res.Segmenter)
	require.Equal(t, 1, res.Chunks)

	chunks := h.all(t, models.CollectionChunks)
	require.Len(t, chunks, 1)
	c := chunks[0].Fields
	assert.Equal(t, "rec_chunk_0", c["chunk_id"])
	assert.Equal(t, "[Ann] Hello there\n[Bob] Hi Ann", c["chunk_content"])
	assert.Equal(t, "kim", c["chunk_author"])
	assert.NotContains(t, c, "id")
}

func TestIngestRecordingDefaultsToBracketed(t *testing.T) {
	h := newHarness(t)
	h.analyzer.result.Contents[0].Markdown = "[00:00:01] hello [00:00:02] world"

	res, err := h.ingester.Ingest(context.Background(), rag.Blob{Name: "rec_call.wav"})
	require.NoError(t, err)
	assert.Equal(t, models.ChunkBracketed, res.Segmenter)

	chunks := h.all(t, models.CollectionChunks)
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello world", chunks[0].Fields["content"])
	assert.Equal(t, "00:00:01", chunks[0].Fields["segmentTimestamp"])
}

func TestIngestOtherFilesUseAnalysedMarkdown(t *testing.T) {
	h := newHarness(t)
	res, err := h.ingester.Ingest(context.Background(), rag.Blob{Name: "inv_scan.pdf", Data: []byte("%PDF")})
	require.NoError(t, err)
	assert.Equal(t, models.ChunkMarkdown, res.Segmenter)

	chunks := h.all(t, models.CollectionChunks)
	require.Len(t, chunks, 1)
	assert.Equal(t, "analysed markdown", chunks[0].Fields["content"])
}

func TestIngestFailures(t *testing.T) {
	h := newHarness(t)
	h.analyzer.err = errors.New("service down")

	_, err := h.ingester.Ingest(context.Background(), rag.Blob{Name: "abc_notes.md"})
	assert.ErrorContains(t, err, "service down")
	assert.Zero(t, h.index.Count(models.CollectionDocuments))

	_, err = h.ingester.Ingest(context.Background(), rag.Blob{Name: "notes.md"})
	assert.ErrorIs(t, err, rag.ErrBlobName)
}

func TestIngestWithEmbeddings(t *testing.T) {
	emb := &fakeEmbeddings{}
	h := newHarness(t, rag.WithEmbeddings(emb))

	res, err := h.ingester.Ingest(context.Background(), rag.Blob{Name: "abc_notes.md", Data: []byte("# A\none\n# B\ntwo")})
	require.NoError(t, err)
	require.Equal(t, 2, res.Chunks)
	// Three texts in batches of two.
	assert.Equal(t, 2, emb.calls)

	docs := h.all(t, models.CollectionDocuments)
	require.Len(t, docs, 1)
	assert.Len(t, docs[0].Fields["contentVector"], 2)
	for _, c := range h.all(t, models.CollectionChunks) {
		assert.Contains(t, c.Fields, "contentVector")
	}
}
