// Package searchindex provides the search index drivers holding the
// document-level and chunk-level collections, plus the schema both are
// provisioned from.
// Drivers: azure (REST search service), embedded (in-memory), postgres (pgx).
package searchindex

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentoven/artifactchat/internal/config"
	"github.com/agentoven/artifactchat/pkg/contracts"
	"github.com/rs/zerolog/log"
)

// Registry holds named search index drivers. Thread-safe.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]contracts.SearchIndex
}

// NewRegistry creates an empty search index registry.
func NewRegistry() *Registry {
	return &Registry{
		drivers: make(map[string]contracts.SearchIndex),
	}
}

// Register adds a driver under the given name. Overwrites if exists.
func (r *Registry) Register(name string, driver contracts.SearchIndex) {
	r.mu.Lock()
	r.drivers[name] = driver
	r.mu.Unlock()
	log.Info().Str("name", name).Str("kind", driver.Kind()).Msg("Search index driver registered")
}

// Get returns the driver by name, or error if not found.
func (r *Registry) Get(name string) (contracts.SearchIndex, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[name]
	if !ok {
		return nil, fmt.Errorf("search index driver not found: %s", name)
	}
	return d, nil
}

// HealthCheckAll pings every registered driver and returns errors keyed by name.
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]error {
	r.mu.RLock()
	snapshot := make(map[string]contracts.SearchIndex, len(r.drivers))
	for k, v := range r.drivers {
		snapshot[k] = v
	}
	r.mu.RUnlock()

	results := make(map[string]error, len(snapshot))
	for name, driver := range snapshot {
		results[name] = driver.HealthCheck(ctx)
	}
	return results
}

// New builds the driver selected by cfg.Driver.
func New(ctx context.Context, cfg config.SearchConfig) (contracts.SearchIndex, error) {
	names := Names{Documents: cfg.DocumentIndex, Chunks: cfg.ChunkIndex}
	switch cfg.Driver {
	case "", "embedded":
		return NewEmbeddedIndex(WithDimensions(cfg.VectorDimensions)), nil
	case "azure":
		return NewAzureIndex(cfg.Endpoint, cfg.AdminKey, names,
			WithAPIVersion(cfg.APIVersion),
			WithVectorDimensions(cfg.VectorDimensions),
		), nil
	case "postgres":
		return NewPostgresIndex(ctx, cfg.PostgresURL, cfg.VectorDimensions)
	default:
		return nil, fmt.Errorf("unknown search driver %q", cfg.Driver)
	}
}
