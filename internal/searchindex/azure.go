package searchindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agentoven/artifactchat/pkg/models"
	"github.com/rs/zerolog/log"
)

// AzureIndex implements contracts.SearchIndex against the Azure AI Search
// REST API. Each collection maps to one physical index.
type AzureIndex struct {
	endpoint   string
	adminKey   string
	apiVersion string
	names      Names
	dimensions int
	client     *http.Client
}

// AzureOption configures the Azure driver.
type AzureOption func(*AzureIndex)

// WithAPIVersion overrides the REST api-version (default 2024-07-01).
func WithAPIVersion(v string) AzureOption {
	return func(a *AzureIndex) {
		if v != "" {
			a.apiVersion = v
		}
	}
}

// WithVectorDimensions sets the contentVector size used when provisioning.
func WithVectorDimensions(dims int) AzureOption {
	return func(a *AzureIndex) { a.dimensions = dims }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) AzureOption {
	return func(a *AzureIndex) { a.client = c }
}

// NewAzureIndex creates an Azure AI Search driver.
func NewAzureIndex(endpoint, adminKey string, names Names, opts ...AzureOption) *AzureIndex {
	a := &AzureIndex{
		endpoint:   strings.TrimRight(endpoint, "/"),
		adminKey:   adminKey,
		apiVersion: "2024-07-01",
		names:      names,
		dimensions: 1536,
		client:     &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *AzureIndex) Kind() string { return "azure" }

// ── Provisioning ────────────────────────────────────────────

type azureIndexDefinition struct {
	Name         string              `json:"name"`
	Fields       []Field             `json:"fields"`
	VectorSearch azureVectorSearch   `json:"vectorSearch"`
	Semantic     azureSemanticSearch `json:"semantic"`
}

type azureVectorSearch struct {
	Algorithms []azureAlgorithm `json:"algorithms"`
	Profiles   []azureProfile   `json:"profiles"`
}

type azureAlgorithm struct {
	Name       string         `json:"name"`
	Kind       string         `json:"kind"`
	Parameters map[string]any `json:"hnswParameters"`
}

type azureProfile struct {
	Name      string `json:"name"`
	Algorithm string `json:"algorithm"`
}

type azureSemanticSearch struct {
	Configurations []azureSemanticConfig `json:"configurations"`
}

type azureSemanticConfig struct {
	Name              string              `json:"name"`
	PrioritizedFields azurePrioritization `json:"prioritizedFields"`
}

type azurePrioritization struct {
	ContentFields []azureFieldName `json:"prioritizedContentFields"`
}

type azureFieldName struct {
	FieldName string `json:"fieldName"`
}

func definitionFor(s Schema) azureIndexDefinition {
	content := make([]azureFieldName, len(s.SemanticFields))
	for i, f := range s.SemanticFields {
		content[i] = azureFieldName{FieldName: f}
	}
	return azureIndexDefinition{
		Name:   s.Name,
		Fields: s.Fields,
		VectorSearch: azureVectorSearch{
			Algorithms: []azureAlgorithm{{
				Name: "myHnsw",
				Kind: "hnsw",
				Parameters: map[string]any{
					"m":              4,
					"efConstruction": 400,
					"efSearch":       500,
					"metric":         "cosine",
				},
			}},
			Profiles: []azureProfile{{Name: VectorProfile, Algorithm: "myHnsw"}},
		},
		Semantic: azureSemanticSearch{Configurations: []azureSemanticConfig{{
			Name:              s.Semantic,
			PrioritizedFields: azurePrioritization{ContentFields: content},
		}}},
	}
}

// EnsureCollections creates or updates both indexes from the user schema.
func (a *AzureIndex) EnsureCollections(ctx context.Context, schema *models.SchemaConfig) error {
	docs, chunks := BuildSchemas(a.names, schema, a.dimensions)
	for _, s := range []Schema{docs, chunks} {
		path := "/indexes/" + s.Name
		if _, err := a.do(ctx, http.MethodPut, path, definitionFor(s)); err != nil {
			return fmt.Errorf("ensure index %s: %w", s.Name, err)
		}
		log.Info().Str("index", s.Name).Int("fields", len(s.Fields)).Msg("Search index provisioned")
	}
	return nil
}

// ── Documents ───────────────────────────────────────────────

// Upsert uploads records with the mergeOrUpload action. Caption records
// carry only chunk_id, so the key field is filled from it.
func (a *AzureIndex) Upsert(ctx context.Context, collection models.Collection, records []map[string]any) error {
	if len(records) == 0 {
		return nil
	}
	batch := make([]map[string]any, len(records))
	for i, rec := range records {
		doc := make(map[string]any, len(rec)+2)
		for k, v := range rec {
			doc[k] = v
		}
		doc["id"] = RecordID(rec)
		doc["@search.action"] = "mergeOrUpload"
		batch[i] = doc
	}

	path := "/indexes/" + a.names.Of(collection) + "/docs/index"
	_, err := a.do(ctx, http.MethodPost, path, map[string]any{"value": batch})
	return err
}

type azureVectorQuery struct {
	Kind   string    `json:"kind"`
	Vector []float64 `json:"vector"`
	Fields string    `json:"fields"`
	K      int       `json:"k"`
}

type azureSearchRequest struct {
	Search                string             `json:"search"`
	Filter                string             `json:"filter,omitempty"`
	Top                   int                `json:"top,omitempty"`
	Select                string             `json:"select,omitempty"`
	Count                 bool               `json:"count"`
	QueryType             string             `json:"queryType,omitempty"`
	SemanticConfiguration string             `json:"semanticConfiguration,omitempty"`
	VectorQueries         []azureVectorQuery `json:"vectorQueries,omitempty"`
}

type azureSearchResponse struct {
	Count *int             `json:"@odata.count"`
	Value []map[string]any `json:"value"`
}

func (a *AzureIndex) Search(ctx context.Context, collection models.Collection, q models.SearchQuery) (*models.SearchResults, error) {
	body := azureSearchRequest{
		Search: q.Text,
		Filter: q.Filter,
		Top:    q.Top,
		Select: strings.Join(q.Select, ","),
		Count:  true,
	}
	if q.Semantic {
		body.QueryType = "semantic"
		body.SemanticConfiguration = q.SemanticConfiguration
	}
	if len(q.Vector) > 0 {
		fields := q.VectorFields
		if len(fields) == 0 {
			fields = []string{"contentVector"}
		}
		body.VectorQueries = []azureVectorQuery{{
			Kind:   "vector",
			Vector: q.Vector,
			Fields: strings.Join(fields, ","),
			K:      q.Top,
		}}
	}

	path := "/indexes/" + a.names.Of(collection) + "/docs/search"
	raw, err := a.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}

	var resp azureSearchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal search response: %w", err)
	}

	out := &models.SearchResults{Records: make([]models.Record, 0, len(resp.Value))}
	for _, v := range resp.Value {
		score, _ := v["@search.score"].(float64)
		fields := make(map[string]any, len(v))
		for k, val := range v {
			if strings.HasPrefix(k, "@search.") {
				continue
			}
			fields[k] = val
		}
		out.Records = append(out.Records, models.Record{Fields: fields, Score: score})
	}
	out.TotalCount = len(out.Records)
	if resp.Count != nil {
		out.TotalCount = *resp.Count
	}
	return out, nil
}

// HealthCheck lists the index names.
func (a *AzureIndex) HealthCheck(ctx context.Context) error {
	_, err := a.do(ctx, http.MethodGet, "/indexes?$select=name", nil)
	return err
}

// ── Transport ───────────────────────────────────────────────

func (a *AzureIndex) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	url := a.endpoint + path + sep + "api-version=" + a.apiVersion

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", a.adminKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("search service %s %s returned %d: %s", method, path, resp.StatusCode, string(respBody))
	}
	return respBody, nil
}
