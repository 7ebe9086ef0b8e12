package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentoven/artifactchat/pkg/contracts"
	"github.com/google/uuid"
)

// MemoryQueue is an in-process FIFO per queue name. Popped messages stay
// claimed until acknowledged; Nack puts them back at the head.
type MemoryQueue struct {
	mu      sync.Mutex
	pending map[string][]*contracts.Message
	claimed map[string]*contracts.Message
}

// NewMemoryQueue creates an empty in-memory transport.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		pending: make(map[string][]*contracts.Message),
		claimed: make(map[string]*contracts.Message),
	}
}

func (q *MemoryQueue) Push(_ context.Context, queue string, body []byte) error {
	if err := checkSize(body); err != nil {
		return err
	}
	msg := &contracts.Message{ID: uuid.NewString(), Queue: queue, Body: append([]byte(nil), body...)}
	q.mu.Lock()
	q.pending[queue] = append(q.pending[queue], msg)
	q.mu.Unlock()
	return nil
}

func (q *MemoryQueue) Pop(_ context.Context, queue string) (*contracts.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	msgs := q.pending[queue]
	if len(msgs) == 0 {
		return nil, ErrEmpty
	}
	msg := msgs[0]
	q.pending[queue] = msgs[1:]
	q.claimed[msg.ID] = msg
	return msg, nil
}

func (q *MemoryQueue) Ack(_ context.Context, msg *contracts.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.claimed[msg.ID]; !ok {
		return fmt.Errorf("message %s is not claimed", msg.ID)
	}
	delete(q.claimed, msg.ID)
	return nil
}

func (q *MemoryQueue) Nack(_ context.Context, msg *contracts.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	claimed, ok := q.claimed[msg.ID]
	if !ok {
		return fmt.Errorf("message %s is not claimed", msg.ID)
	}
	delete(q.claimed, msg.ID)
	q.pending[claimed.Queue] = append([]*contracts.Message{claimed}, q.pending[claimed.Queue]...)
	return nil
}

// Len returns the number of pending messages on a queue.
func (q *MemoryQueue) Len(queue string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending[queue])
}
