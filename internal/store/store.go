// Package store persists the user schema configuration (extraction fields,
// agent name and instructions) as a single JSON blob in object storage.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/agentoven/artifactchat/internal/objectstore"
	"github.com/agentoven/artifactchat/pkg/contracts"
	"github.com/agentoven/artifactchat/pkg/models"
)

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// ErrInvalidSchema is wrapped by every schema validation failure.
var ErrInvalidSchema = errors.New("invalid schema")

// SchemaStore reads and writes the schema configuration blob.
type SchemaStore struct {
	objects contracts.ObjectStore
	key     string
}

// NewSchemaStore stores the configuration under key.
func NewSchemaStore(objects contracts.ObjectStore, key string) *SchemaStore {
	return &SchemaStore{objects: objects, key: key}
}

// Load returns the stored configuration, or *ErrNotFound when none has been
// saved yet.
func (s *SchemaStore) Load(ctx context.Context) (*models.SchemaConfig, error) {
	data, _, err := s.objects.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil, &ErrNotFound{Entity: "schema", Key: s.key}
		}
		return nil, fmt.Errorf("load schema: %w", err)
	}

	var cfg models.SchemaConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode schema %s: %w", s.key, err)
	}
	return &cfg, nil
}

// LoadOrDefault returns the stored configuration, or an empty configuration
// with default name and instructions when none exists.
func (s *SchemaStore) LoadOrDefault(ctx context.Context) (*models.SchemaConfig, error) {
	cfg, err := s.Load(ctx)
	var nf *ErrNotFound
	if errors.As(err, &nf) {
		return &models.SchemaConfig{
			Name:         models.DefaultAnalyzerName,
			Instructions: models.DefaultInstructions,
		}, nil
	}
	return cfg, err
}

// Save writes the configuration, replacing any previous one.
func (s *SchemaStore) Save(ctx context.Context, cfg *models.SchemaConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}
	if err := s.objects.Put(ctx, s.key, data, "application/json", nil); err != nil {
		return fmt.Errorf("save schema: %w", err)
	}
	return nil
}

// Normalize validates a setup request's schema and applies defaults.
// It requires between 1 and models.MaxSchemaFields fields, each with a
// name and a type; field names must be unique.
func Normalize(cfg *models.SchemaConfig) error {
	if cfg == nil || len(cfg.Fields) == 0 {
		return fmt.Errorf("%w: at least one field is required", ErrInvalidSchema)
	}
	if len(cfg.Fields) > models.MaxSchemaFields {
		return fmt.Errorf("%w: at most %d fields are allowed, got %d", ErrInvalidSchema, models.MaxSchemaFields, len(cfg.Fields))
	}

	seen := make(map[string]bool, len(cfg.Fields))
	for i, f := range cfg.Fields {
		name := strings.TrimSpace(f.Name)
		if name == "" || strings.TrimSpace(f.Type) == "" {
			return fmt.Errorf("%w: field %d needs a name and a type", ErrInvalidSchema, i)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate field %q", ErrInvalidSchema, name)
		}
		seen[name] = true
		cfg.Fields[i].Name = name
		cfg.Fields[i].Type = strings.ToLower(strings.TrimSpace(f.Type))
	}

	if cfg.Name == "" {
		cfg.Name = models.DefaultSchemaName
	}
	if cfg.Instructions == "" {
		cfg.Instructions = models.DefaultInstructions
	}
	return nil
}
