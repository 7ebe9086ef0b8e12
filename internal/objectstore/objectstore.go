// Package objectstore provides the blob storage drivers behind
// contracts.ObjectStore: an S3-compatible driver built on minio-go and an
// in-memory driver for local development and tests.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agentoven/artifactchat/internal/config"
	"github.com/agentoven/artifactchat/pkg/contracts"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("object not found")

// New builds the driver named by cfg.Driver.
func New(ctx context.Context, cfg config.StorageConfig) (contracts.ObjectStore, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "s3":
		return NewS3Store(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func normalizeMetadata(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = v
	}
	return out
}
