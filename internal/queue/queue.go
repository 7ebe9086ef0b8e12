// Package queue carries JSON envelopes between the agent runtime, the tool
// workers and the ingestion pipeline. Transports enforce the hard message
// size limit; the Packer keeps result envelopes under it.
package queue

import (
	"errors"
	"fmt"

	"github.com/agentoven/artifactchat/internal/config"
	"github.com/agentoven/artifactchat/pkg/contracts"
)

var (
	// ErrMessageTooLarge is returned by Push for bodies over the transport limit.
	ErrMessageTooLarge = errors.New("queue message too large")

	// ErrEmpty is returned by Pop when nothing is waiting.
	ErrEmpty = errors.New("queue empty")
)

// New builds the transport selected by cfg.Driver.
func New(cfg config.QueueConfig) (contracts.Queue, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryQueue(), nil
	case "sqlite":
		return OpenSQLite(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown queue driver %q", cfg.Driver)
	}
}

func checkSize(body []byte) error {
	if len(body) > config.MaxQueueMessageBytes {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrMessageTooLarge, len(body), config.MaxQueueMessageBytes)
	}
	return nil
}
