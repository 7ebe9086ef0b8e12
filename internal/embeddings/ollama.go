package embeddings

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OllamaEmbedding calls a local Ollama server for development setups.
type OllamaEmbedding struct {
	endpoint   string
	model      string
	dimensions int
	batchSize  int
	client     *http.Client
}

var ollamaDimensions = map[string]int{
	"nomic-embed-text":  768,
	"mxbai-embed-large": 1024,
	"all-minilm":        384,
}

// NewOllamaEmbedding creates the driver. An empty endpoint means
// http://localhost:11434; an empty model means nomic-embed-text.
func NewOllamaEmbedding(endpoint, model string) *OllamaEmbedding {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	if model == "" || strings.HasPrefix(model, "text-embedding-") {
		model = "nomic-embed-text"
	}
	dims, ok := ollamaDimensions[strings.SplitN(model, ":", 2)[0]]
	if !ok {
		dims = 768
	}
	return &OllamaEmbedding{
		endpoint:   strings.TrimRight(endpoint, "/"),
		model:      model,
		dimensions: dims,
		batchSize:  64,
		client:     &http.Client{Timeout: 120 * time.Second},
	}
}

func (d *OllamaEmbedding) Kind() string      { return "ollama" }
func (d *OllamaEmbedding) Dimensions() int   { return d.dimensions }
func (d *OllamaEmbedding) MaxBatchSize() int { return d.batchSize }

func (d *OllamaEmbedding) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > d.batchSize {
		return nil, fmt.Errorf("batch size %d exceeds max %d", len(texts), d.batchSize)
	}

	var resp struct {
		Embeddings [][]float64 `json:"embeddings"`
	}
	req := map[string]any{"model": d.model, "input": texts}
	if err := postJSON(ctx, d.client, d.endpoint+"/api/embed", nil, req, &resp); err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
	}
	return resp.Embeddings, nil
}
