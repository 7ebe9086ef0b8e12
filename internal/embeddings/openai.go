package embeddings

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// OpenAIEmbedding calls an OpenAI-compatible embeddings endpoint. Model
// dimensions default from the model name: text-embedding-3-large is 3072,
// everything else 1536.
type OpenAIEmbedding struct {
	apiKey     string
	model      string
	endpoint   string
	dimensions int
	batchSize  int
	client     *http.Client
}

// OpenAIOption configures the OpenAI driver.
type OpenAIOption func(*OpenAIEmbedding)

// WithOpenAIEndpoint points the driver at a proxy or compatible service.
func WithOpenAIEndpoint(endpoint string) OpenAIOption {
	return func(d *OpenAIEmbedding) { d.endpoint = endpoint }
}

// WithOpenAIBatchSize sets the max texts per Embed call.
func WithOpenAIBatchSize(size int) OpenAIOption {
	return func(d *OpenAIEmbedding) { d.batchSize = size }
}

// WithOpenAIDimensions overrides the vector size. It must match the search
// index vector fields.
func WithOpenAIDimensions(dims int) OpenAIOption {
	return func(d *OpenAIEmbedding) { d.dimensions = dims }
}

// WithOpenAIHTTPClient replaces the HTTP client.
func WithOpenAIHTTPClient(c *http.Client) OpenAIOption {
	return func(d *OpenAIEmbedding) { d.client = c }
}

func NewOpenAIEmbedding(apiKey, model string, opts ...OpenAIOption) *OpenAIEmbedding {
	dims := 1536
	if model == "text-embedding-3-large" {
		dims = 3072
	}
	d := &OpenAIEmbedding{
		apiKey:     apiKey,
		model:      model,
		endpoint:   "https://api.openai.com/v1/embeddings",
		dimensions: dims,
		batchSize:  16,
		client:     &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *OpenAIEmbedding) Kind() string      { return "openai" }
func (d *OpenAIEmbedding) Dimensions() int   { return d.dimensions }
func (d *OpenAIEmbedding) MaxBatchSize() int { return d.batchSize }

type openAIRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Embed returns one vector per text, ordered by the response index.
func (d *OpenAIEmbedding) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > d.batchSize {
		return nil, fmt.Errorf("batch size %d exceeds max %d", len(texts), d.batchSize)
	}

	req := openAIRequest{Input: texts, Model: d.model}
	if d.model != "text-embedding-ada-002" {
		req.Dimensions = d.dimensions
	}
	header := http.Header{"Authorization": {"Bearer " + d.apiKey}}

	var resp openAIResponse
	if err := postJSON(ctx, d.client, d.endpoint, header, req, &resp); err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("openai error: %s (%s)", resp.Error.Message, resp.Error.Type)
	}

	vectors := make([][]float64, len(texts))
	for _, item := range resp.Data {
		if item.Index >= 0 && item.Index < len(vectors) {
			vectors[item.Index] = item.Embedding
		}
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("openai embed: missing vector for input %d", i)
		}
	}
	return vectors, nil
}
