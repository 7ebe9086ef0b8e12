package assistants

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agentoven/artifactchat/pkg/contracts"
	"github.com/agentoven/artifactchat/pkg/models"
	"github.com/rs/zerolog/log"
)

// ErrNoAgents is returned by ResolveAgent when the runtime has no assistants.
var ErrNoAgents = errors.New("no agents available")

// Tool function names declared to the runtime.
const (
	ArtifactFunction      = "Artifact"
	ArtifactChunkFunction = "ArtifactChunk"
)

// ToolFor maps a declared function name to its retrieval tool.
func ToolFor(function string) (models.ToolID, bool) {
	switch strings.ToLower(function) {
	case string(models.ToolArtifact):
		return models.ToolArtifact, true
	case string(models.ToolArtifactChunk):
		return models.ToolArtifactChunk, true
	}
	return "", false
}

// AgentName returns the assistant name configured by the schema.
func AgentName(schema *models.SchemaConfig) string {
	if schema == nil || schema.Name == "" {
		return "customAgent"
	}
	return schema.Name
}

// Definition builds the assistant for a schema: the two retrieval tools
// and the instructions extended with the available fields.
func Definition(schema *models.SchemaConfig, model string) *models.Assistant {
	instructions := models.DefaultInstructions
	if schema != nil && schema.Instructions != "" {
		instructions = schema.Instructions
	}
	if schema != nil && len(schema.Fields) > 0 {
		lines := make([]string, 0, len(schema.Fields))
		for _, f := range schema.Fields {
			lines = append(lines, strings.TrimSpace(fmt.Sprintf("- %s: %s. %s", f.Name, fieldKind(f.Type), f.Description)))
		}
		instructions += "\n\nAvailable fields:\n" + strings.Join(lines, "\n")
	}

	return &models.Assistant{
		Name:         AgentName(schema),
		Description:  "Document processing agent",
		Model:        model,
		Instructions: instructions,
		Tools: []models.ToolDefinition{
			toolDefinition(ArtifactFunction, "Get high-level information about artifacts", false),
			toolDefinition(ArtifactChunkFunction, "Get detailed chunk-level information", true),
		},
	}
}

func fieldKind(t string) string {
	switch t {
	case "array":
		return "List of values"
	case "date":
		return "Date/time value (ISO 8601)"
	default:
		return "Text value"
	}
}

func toolDefinition(name, description string, rewriting bool) models.ToolDefinition {
	props := map[string]any{
		"searchText":      map[string]string{"type": "string"},
		"filter":          map[string]string{"type": "string"},
		"topK":            map[string]string{"type": "number"},
		"semanticRanking": map[string]string{"type": "boolean"},
	}
	if rewriting {
		props["questionRewriting"] = map[string]string{"type": "boolean"}
	}
	return models.ToolDefinition{
		Type: "function",
		Function: models.FunctionDefinition{
			Name:        name,
			Description: description,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"payload": map[string]any{
						"type":       "object",
						"properties": props,
						"required":   []string{"searchText"},
					},
				},
				"required": []string{"payload"},
			},
		},
	}
}

// EnsureAgent creates the schema's assistant, or updates it in place when
// one with the same name exists.
func EnsureAgent(ctx context.Context, rt contracts.AgentRuntime, schema *models.SchemaConfig, model string) (*models.Assistant, error) {
	want := Definition(schema, model)

	existing, err := rt.ListAssistants(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range existing {
		if a.Name != want.Name {
			continue
		}
		want.ID = a.ID
		updated, err := rt.UpdateAssistant(ctx, want)
		if err != nil {
			return nil, err
		}
		log.Info().Str("agent", updated.Name).Str("agent_id", updated.ID).Msg("Agent updated")
		return updated, nil
	}

	created, err := rt.CreateAssistant(ctx, want)
	if err != nil {
		return nil, err
	}
	log.Info().Str("agent", created.Name).Str("agent_id", created.ID).Msg("Agent created")
	return created, nil
}

// ResolveAgent picks the assistant with the given name, falling back to the
// first one the runtime lists.
func ResolveAgent(ctx context.Context, rt contracts.AgentRuntime, name string) (*models.Assistant, error) {
	all, err := rt.ListAssistants(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].Name == name {
			return &all[i], nil
		}
	}
	if len(all) == 0 {
		return nil, ErrNoAgents
	}
	log.Warn().Str("agent", name).Str("fallback", all[0].Name).Msg("Configured agent not found; using first available")
	return &all[0], nil
}
