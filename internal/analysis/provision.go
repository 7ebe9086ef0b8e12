package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/agentoven/artifactchat/pkg/models"
	"github.com/rs/zerolog/log"
)

// ErrAnalyzerExists is reported when the service refuses to replace an
// analyzer. Callers treat it as success.
var ErrAnalyzerExists = errors.New("analyzer already exists")

var serviceTypes = map[string]string{
	"string":   "string",
	"array":    "array",
	"date":     "datetime",
	"datetime": "datetime",
	"integer":  "integer",
	"number":   "number",
	"boolean":  "boolean",
}

func serviceType(t string) string {
	if s, ok := serviceTypes[t]; ok {
		return s
	}
	return "string"
}

type analyzerDefinition struct {
	Description string         `json:"description"`
	Scenario    string         `json:"scenario"`
	FieldSchema fieldSchema    `json:"fieldSchema"`
	Config      map[string]any `json:"config"`
}

type fieldSchema struct {
	Name        string                `json:"name"`
	Description string                `json:"description"`
	Fields      map[string]fieldEntry `json:"fields"`
}

type fieldEntry struct {
	Type        string                `json:"type"`
	Method      string                `json:"method,omitempty"`
	Description string                `json:"description,omitempty"`
	Items       *fieldEntry           `json:"items,omitempty"`
	Properties  map[string]fieldEntry `json:"properties,omitempty"`
}

// analyzerFor maps the user schema to the service's field schema. A
// generated summary field is always present.
func analyzerFor(schema *models.SchemaConfig) analyzerDefinition {
	id := schema.AnalyzerID()
	fields := make(map[string]fieldEntry, len(schema.Fields)+1)
	for _, f := range schema.Fields {
		method := f.Method
		if method == "" {
			method = "extract"
		}
		entry := fieldEntry{Type: serviceType(f.Type), Method: method, Description: f.Description}
		switch f.Type {
		case "array":
			itemType := f.ArrayType
			if itemType == "" {
				itemType = "string"
			}
			entry.Items = &fieldEntry{Type: serviceType(itemType)}
		case "table":
			props := make(map[string]fieldEntry, len(f.Fields))
			for _, sub := range f.Fields {
				props[sub.Name] = fieldEntry{Type: serviceType(sub.Type), Description: sub.Description}
			}
			entry.Type = "array"
			entry.Items = &fieldEntry{Type: "object", Properties: props}
		}
		fields[f.Name] = entry
	}
	if _, ok := fields["summary"]; !ok {
		fields["summary"] = fieldEntry{Type: "string", Method: "generate", Description: "Summary of the document content"}
	}

	return analyzerDefinition{
		Description: "Analyzer for " + id,
		Scenario:    "document",
		FieldSchema: fieldSchema{Name: id, Description: "Custom schema for document analysis", Fields: fields},
		Config: map[string]any{
			"enableOcr":     true,
			"enableLayout":  true,
			"returnDetails": true,
		},
	}
}

// CreateOrUpdateAnalyzer creates or replaces the analyzer named by the
// schema. A 409 from the service returns ErrAnalyzerExists.
func (p *Poller) CreateOrUpdateAnalyzer(ctx context.Context, schema *models.SchemaConfig) error {
	body, err := json.Marshal(analyzerFor(schema))
	if err != nil {
		return fmt.Errorf("marshal analyzer: %w", err)
	}

	url := fmt.Sprintf("%s/contentunderstanding/analyzers/%s?api-version=%s", p.endpoint, schema.AnalyzerID(), p.apiVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Ocp-Apim-Subscription-Key", p.key)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return ErrAnalyzerExists
	case resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("create analyzer %s returned %d: %s", schema.AnalyzerID(), resp.StatusCode, string(msg))
	}

	log.Info().Str("analyzer_id", schema.AnalyzerID()).Int("fields", len(schema.Fields)).Msg("Analyzer provisioned")
	return nil
}
