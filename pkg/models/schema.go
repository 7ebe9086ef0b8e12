package models

// ── User Schema Configuration ────────────────────────────────

// MaxSchemaFields is the maximum number of user-declared fields.
const MaxSchemaFields = 10

// Defaults applied when the setup request omits them.
const (
	DefaultSchemaName   = "customSchema"
	DefaultAnalyzerName = "customAnalyzer"
	DefaultInstructions = "You are a helpful agent for processing documents."
)

// SchemaConfig is the single JSON configuration blob describing the user's
// extraction fields and the agent.
type SchemaConfig struct {
	Name         string            `json:"name"`
	Instructions string            `json:"instructions"`
	Template     any               `json:"template,omitempty"`
	Fields       []FieldDefinition `json:"fields"`
}

// AnalyzerID returns the analyzer name for this configuration.
func (c *SchemaConfig) AnalyzerID() string {
	if c == nil || c.Name == "" {
		return DefaultAnalyzerName
	}
	return c.Name
}

// FieldNames returns the set of declared field names.
func (c *SchemaConfig) FieldNames() map[string]bool {
	names := make(map[string]bool)
	if c == nil {
		return names
	}
	for _, f := range c.Fields {
		names[f.Name] = true
	}
	return names
}

// FieldDefinition declares one extraction field.
type FieldDefinition struct {
	Name        string            `json:"name"`
	Type        string            `json:"type"`
	Description string            `json:"description,omitempty"`
	Method      string            `json:"method,omitempty"`
	ArrayType   string            `json:"arrayType,omitempty"`
	Fields      []FieldDefinition `json:"fields,omitempty"`
}

// SetupResult is returned by the agent/schema setup endpoint.
type SetupResult struct {
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
	AnalyzerID string `json:"analyzerId,omitempty"`
	AgentID    string `json:"agentId,omitempty"`
}
