package searchindex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/agentoven/artifactchat/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() *models.SchemaConfig {
	return &models.SchemaConfig{
		Name: "customAnalyzer",
		Fields: []models.FieldDefinition{
			{Name: "author", Type: "string"},
			{Name: "tags", Type: "array"},
			{Name: "lines", Type: "table", Fields: []models.FieldDefinition{{Name: "qty"}, {Name: "sku"}}},
			{Name: "content", Type: "string"},
		},
	}
}

func fieldNames(fields []Field) map[string]Field {
	out := make(map[string]Field, len(fields))
	for _, f := range fields {
		out[f.Name] = f
	}
	return out
}

func TestBuildSchemas(t *testing.T) {
	docs, chunks := BuildSchemas(Names{Documents: "artifacts", Chunks: "chunks"}, testSchema(), 8)

	d := fieldNames(docs.Fields)
	assert.Equal(t, "artifacts", docs.Name)
	assert.True(t, d["id"].Key)
	assert.Equal(t, TypeStringList, d["tags"].Type)
	assert.Contains(t, d, "lines_qty")
	assert.Contains(t, d, "lines_sku")
	assert.Equal(t, 8, d["contentVector"].Dimensions)
	// A user field cannot redefine a base field.
	assert.True(t, d["content"].Searchable)

	c := fieldNames(chunks.Fields)
	for _, name := range []string{"id", "chunk_id", "chunk_content", "chunk_startTimeMs", "chunk_speaker", "headers", "segmentTimestamp", "chunkNumber", "author", "chunk_author", "chunk_lines_sku"} {
		assert.Contains(t, c, name)
	}
	assert.False(t, c["chunk_id"].Key)
	assert.Len(t, c["headers"].Fields, 6)
	assert.Equal(t, SemanticChunks, chunks.Semantic)
}

func TestRecordID(t *testing.T) {
	assert.Equal(t, "a", RecordID(map[string]any{"id": "a", "chunk_id": "b"}))
	assert.Equal(t, "b", RecordID(map[string]any{"chunk_id": "b"}))
	assert.Equal(t, "", RecordID(map[string]any{}))
}

// ── Embedded ────────────────────────────────────────────────

func seed(t *testing.T, idx *EmbeddedIndex) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, models.CollectionChunks, []map[string]any{
		{"id": "d1_chunk_0", "docType": "chunk", "content": "alpha beta", "fileName": "a.md"},
		{"id": "d1_chunk_1", "docType": "chunk", "content": "beta beta gamma", "fileName": "a.md"},
		{"chunk_id": "d2_chunk_0", "chunk_docType": "chunk", "chunk_content": "[Ann] beta", "chunk_speaker": "Ann"},
	}))
}

func TestEmbeddedSearch(t *testing.T) {
	idx := NewEmbeddedIndex()
	seed(t, idx)
	ctx := context.Background()

	res, err := idx.Search(ctx, models.CollectionChunks, models.SearchQuery{Text: "beta", Top: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalCount)
	require.Len(t, res.Records, 2)
	assert.Equal(t, "d1_chunk_1", res.Records[0].Fields["id"])

	res, err = idx.Search(ctx, models.CollectionChunks, models.SearchQuery{Text: "*"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalCount)

	res, err = idx.Search(ctx, models.CollectionChunks, models.SearchQuery{Text: "nothing"})
	require.NoError(t, err)
	assert.Zero(t, res.TotalCount)
	assert.Empty(t, res.Records)
}

func TestEmbeddedFilterAndSelect(t *testing.T) {
	idx := NewEmbeddedIndex()
	seed(t, idx)

	res, err := idx.Search(context.Background(), models.CollectionChunks, models.SearchQuery{
		Text:   "*",
		Filter: "(docType eq 'chunk' or chunk_docType eq 'chunk') and chunk_speaker eq 'Ann'",
		Select: []string{"chunk_id", "chunk_content"},
	})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, map[string]any{"chunk_id": "d2_chunk_0", "chunk_content": "[Ann] beta"}, res.Records[0].Fields)

	_, err = idx.Search(context.Background(), models.CollectionChunks, models.SearchQuery{Filter: "docType eq"})
	assert.Error(t, err)
}

func TestEmbeddedUpsertMerges(t *testing.T) {
	idx := NewEmbeddedIndex()
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, models.CollectionDocuments, []map[string]any{{"id": "d1", "content": "old", "author": "x"}}))
	require.NoError(t, idx.Upsert(ctx, models.CollectionDocuments, []map[string]any{{"id": "d1", "content": "new"}}))

	assert.Equal(t, 1, idx.Count(models.CollectionDocuments))
	res, err := idx.Search(ctx, models.CollectionDocuments, models.SearchQuery{Text: "*"})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "new", res.Records[0].Fields["content"])
	assert.Equal(t, "x", res.Records[0].Fields["author"])
}

func TestEmbeddedCapacity(t *testing.T) {
	idx := NewEmbeddedIndex(WithMaxRecords(1))
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, models.CollectionDocuments, []map[string]any{{"id": "a"}}))
	require.NoError(t, idx.Upsert(ctx, models.CollectionDocuments, []map[string]any{{"id": "a"}}))
	assert.Error(t, idx.Upsert(ctx, models.CollectionDocuments, []map[string]any{{"id": "b"}}))
	assert.Error(t, idx.Upsert(ctx, models.CollectionDocuments, []map[string]any{{"content": "no id"}}))
}

func TestEmbeddedVectorScore(t *testing.T) {
	idx := NewEmbeddedIndex()
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, models.CollectionDocuments, []map[string]any{
		{"id": "near", "content": "x", "contentVector": []float64{1, 0}},
		{"id": "far", "content": "x", "contentVector": []float64{0, 1}},
	}))

	res, err := idx.Search(ctx, models.CollectionDocuments, models.SearchQuery{Text: "*", Vector: []float64{1, 0.1}})
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, "near", res.Records[0].Fields["id"])
}

// ── Azure ───────────────────────────────────────────────────

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Key    string
	Body   map[string]any
}

func fakeSearchService(t *testing.T, respond func(r *http.Request) (int, string)) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []recordedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Key: r.Header.Get("api-key")}
		_ = json.NewDecoder(r.Body).Decode(&rec.Body)
		mu.Lock()
		seen = append(seen, rec)
		mu.Unlock()
		code, body := respond(r)
		w.WriteHeader(code)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestAzureEnsureCollections(t *testing.T) {
	srv, seen := fakeSearchService(t, func(*http.Request) (int, string) { return http.StatusCreated, "{}" })
	idx := NewAzureIndex(srv.URL+"/", "secret", Names{Documents: "artifacts", Chunks: "chunks"}, WithVectorDimensions(4))

	require.NoError(t, idx.EnsureCollections(context.Background(), testSchema()))
	require.Len(t, *seen, 2)
	first := (*seen)[0]
	assert.Equal(t, http.MethodPut, first.Method)
	assert.Equal(t, "/indexes/artifacts", first.Path)
	assert.Equal(t, "api-version=2024-07-01", first.Query)
	assert.Equal(t, "secret", first.Key)
	assert.Equal(t, "artifacts", first.Body["name"])
	assert.Equal(t, "/indexes/chunks", (*seen)[1].Path)
}

func TestAzureUpsertFillsKey(t *testing.T) {
	srv, seen := fakeSearchService(t, func(*http.Request) (int, string) { return http.StatusOK, `{"value":[]}` })
	idx := NewAzureIndex(srv.URL, "k", Names{Documents: "artifacts", Chunks: "chunks"})

	require.NoError(t, idx.Upsert(context.Background(), models.CollectionChunks, []map[string]any{{"chunk_id": "c1", "chunk_content": "x"}}))
	require.Len(t, *seen, 1)
	assert.Equal(t, "/indexes/chunks/docs/index", (*seen)[0].Path)
	value := (*seen)[0].Body["value"].([]any)
	doc := value[0].(map[string]any)
	assert.Equal(t, "c1", doc["id"])
	assert.Equal(t, "mergeOrUpload", doc["@search.action"])

	require.NoError(t, idx.Upsert(context.Background(), models.CollectionChunks, nil))
	assert.Len(t, *seen, 1)
}

func TestAzureSearch(t *testing.T) {
	srv, seen := fakeSearchService(t, func(*http.Request) (int, string) {
		return http.StatusOK, `{"@odata.count": 7, "value": [{"@search.score": 2.5, "@search.rerankerScore": 1.1, "id": "d1", "summary": "s"}]}`
	})
	idx := NewAzureIndex(srv.URL, "k", Names{Documents: "artifacts", Chunks: "chunks"})

	res, err := idx.Search(context.Background(), models.CollectionDocuments, models.SearchQuery{
		Text:                  "invoice",
		Filter:                "docType eq 'artifact'",
		Top:                   5,
		Select:                []string{"id", "summary"},
		Semantic:              true,
		SemanticConfiguration: SemanticDocuments,
		Vector:                []float64{0.5},
	})
	require.NoError(t, err)
	assert.Equal(t, 7, res.TotalCount)
	require.Len(t, res.Records, 1)
	assert.Equal(t, 2.5, res.Records[0].Score)
	assert.Equal(t, map[string]any{"id": "d1", "summary": "s"}, res.Records[0].Fields)

	body := (*seen)[0].Body
	assert.Equal(t, "/indexes/artifacts/docs/search", (*seen)[0].Path)
	assert.Equal(t, "semantic", body["queryType"])
	assert.Equal(t, SemanticDocuments, body["semanticConfiguration"])
	assert.Equal(t, "id,summary", body["select"])
	assert.Equal(t, true, body["count"])
	vq := body["vectorQueries"].([]any)[0].(map[string]any)
	assert.Equal(t, "contentVector", vq["fields"])
}

func TestAzureErrorStatus(t *testing.T) {
	srv, _ := fakeSearchService(t, func(*http.Request) (int, string) { return http.StatusForbidden, `{"error":"denied"}` })
	idx := NewAzureIndex(srv.URL, "k", Names{Documents: "artifacts", Chunks: "chunks"})

	_, err := idx.Search(context.Background(), models.CollectionDocuments, models.SearchQuery{Text: "*"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "403"))
	assert.Error(t, idx.HealthCheck(context.Background()))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register("main", NewEmbeddedIndex())

	d, err := r.Get("main")
	require.NoError(t, err)
	assert.Equal(t, "embedded", d.Kind())

	_, err = r.Get("missing")
	assert.Error(t, err)
	assert.Equal(t, map[string]error{"main": nil}, r.HealthCheckAll(context.Background()))
}
