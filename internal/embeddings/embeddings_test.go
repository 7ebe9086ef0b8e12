package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/artifactchat/internal/config"
)

func TestOpenAIEmbedOrdersByIndex(t *testing.T) {
	var got openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`))
	}))
	defer srv.Close()

	d := NewOpenAIEmbedding("sk-test", "text-embedding-3-small", WithOpenAIEndpoint(srv.URL), WithOpenAIDimensions(2))
	vecs, err := d.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 0}, {0, 1}}, vecs)
	assert.Equal(t, []string{"a", "b"}, got.Input)
	assert.Equal(t, 2, got.Dimensions)
}

func TestOpenAIEmbedErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	d := NewOpenAIEmbedding("k", "m", WithOpenAIEndpoint(srv.URL), WithOpenAIBatchSize(1))
	_, err := d.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")

	_, err = d.Embed(context.Background(), []string{"a", "b"})
	assert.ErrorContains(t, err, "exceeds max")

	vecs, err := d.Embed(context.Background(), nil)
	assert.NoError(t, err)
	assert.Nil(t, vecs)
}

func TestOllamaEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		_, _ = w.Write([]byte(`{"embeddings":[[0.5,0.5]]}`))
	}))
	defer srv.Close()

	d := NewOllamaEmbedding(srv.URL+"/", "")
	assert.Equal(t, 768, d.Dimensions())
	vecs, err := d.Embed(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0.5, 0.5}}, vecs)

	_, err = d.Embed(context.Background(), []string{"a", "b"})
	assert.ErrorContains(t, err, "expected 2 embeddings")
}

func TestNew(t *testing.T) {
	d, err := New(config.EmbeddingsConfig{})
	require.NoError(t, err)
	assert.Nil(t, d)

	_, err = New(config.EmbeddingsConfig{Provider: "openai"})
	assert.Error(t, err)

	d, err = New(config.EmbeddingsConfig{Provider: "openai", APIKey: "k", Model: "text-embedding-3-large"})
	require.NoError(t, err)
	assert.Equal(t, "openai", d.Kind())
	assert.Equal(t, 3072, d.Dimensions())

	d, err = New(config.EmbeddingsConfig{Provider: "ollama", Model: "mxbai-embed-large"})
	require.NoError(t, err)
	assert.Equal(t, 1024, d.Dimensions())

	_, err = New(config.EmbeddingsConfig{Provider: "bedrock"})
	assert.Error(t, err)
}
