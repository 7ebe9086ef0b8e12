// Package embeddings fills the contentVector fields of indexed records.
// Drivers: OpenAI-compatible (/v1/embeddings) and Ollama (/api/embed).
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/agentoven/artifactchat/internal/config"
	"github.com/agentoven/artifactchat/pkg/contracts"
	"github.com/rs/zerolog/log"
)

// New builds the driver selected by cfg.Provider. An empty provider
// disables embeddings and returns a nil driver.
func New(cfg config.EmbeddingsConfig) (contracts.EmbeddingDriver, error) {
	var d contracts.EmbeddingDriver
	switch cfg.Provider {
	case "":
		return nil, nil
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("embeddings.api_key is required for openai")
		}
		var opts []OpenAIOption
		if cfg.Endpoint != "" {
			opts = append(opts, WithOpenAIEndpoint(cfg.Endpoint))
		}
		if cfg.Dimensions > 0 {
			opts = append(opts, WithOpenAIDimensions(cfg.Dimensions))
		}
		d = NewOpenAIEmbedding(cfg.APIKey, cfg.Model, opts...)
	case "ollama":
		d = NewOllamaEmbedding(cfg.Endpoint, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Provider)
	}
	log.Info().Str("kind", d.Kind()).Int("dims", d.Dimensions()).Msg("Embedding driver configured")
	return d, nil
}

// postJSON sends in to url and decodes a 200 response into out.
func postJSON(ctx context.Context, client *http.Client, url string, header http.Header, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("embeddings API returned %d: %s", resp.StatusCode, string(respBody))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
