package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agentoven/artifactchat/internal/clock"
	"github.com/agentoven/artifactchat/pkg/contracts"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog/log"
)

// Handler processes one message. A non-nil reply is pushed to the route's
// output queue. A returned error is logged and the message is dropped;
// handlers that must answer the requester encode failures in the reply.
type Handler func(ctx context.Context, msg *contracts.Message) (reply []byte, err error)

// Route binds an input queue to a handler and an optional output queue.
type Route struct {
	Input  string
	Output string
	Handle Handler
}

// Worker polls its routes' input queues and runs handlers on an ants pool.
type Worker struct {
	queue    contracts.Queue
	routes   []Route
	pool     *ants.Pool
	interval time.Duration
	clock    clock.Clock
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithPollInterval sets the idle wait between empty sweeps.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) { w.interval = d }
}

// WithWorkerClock replaces the clock used for idle waits.
func WithWorkerClock(c clock.Clock) WorkerOption {
	return func(w *Worker) { w.clock = c }
}

// NewWorker creates a worker with a pool of size goroutines.
func NewWorker(q contracts.Queue, size int, routes []Route, opts ...WorkerOption) (*Worker, error) {
	if size <= 0 {
		size = 1
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	w := &Worker{
		queue:    q,
		routes:   routes,
		pool:     pool,
		interval: 500 * time.Millisecond,
		clock:    clock.Real{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run sweeps the input queues until ctx is done, waiting the poll interval
// after every sweep that found nothing.
func (w *Worker) Run(ctx context.Context) error {
	inputs := make([]string, len(w.routes))
	for i, r := range w.routes {
		inputs[i] = r.Input
	}
	log.Info().Strs("queues", inputs).Int("pool", w.pool.Cap()).Msg("🔁 Queue worker started")

	for {
		n, err := w.Sweep(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Msg("Queue sweep failed")
		}
		if n > 0 {
			continue
		}
		if err := w.clock.Sleep(ctx, w.interval); err != nil {
			return nil
		}
	}
}

// Sweep pops at most one message from every input queue, processes them
// concurrently on the pool and waits for all of them. It returns the
// number of messages processed.
func (w *Worker) Sweep(ctx context.Context) (int, error) {
	var (
		wg   sync.WaitGroup
		n    int
		errs []error
	)
	for _, route := range w.routes {
		msg, err := w.queue.Pop(ctx, route.Input)
		if errors.Is(err, ErrEmpty) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}

		n++
		wg.Add(1)
		if err := w.pool.Submit(func() {
			defer wg.Done()
			w.process(ctx, route, msg)
		}); err != nil {
			wg.Done()
			errs = append(errs, fmt.Errorf("submit %s: %w", route.Input, err))
			_ = w.queue.Nack(ctx, msg)
		}
	}
	wg.Wait()
	return n, errors.Join(errs...)
}

func (w *Worker) process(ctx context.Context, route Route, msg *contracts.Message) {
	start := w.clock.Now()
	reply, err := route.Handle(ctx, msg)
	if err != nil {
		log.Error().Err(err).Str("queue", route.Input).Str("message_id", msg.ID).Msg("Message handler failed; dropping message")
		if ackErr := w.queue.Ack(ctx, msg); ackErr != nil {
			log.Error().Err(ackErr).Str("message_id", msg.ID).Msg("Ack failed")
		}
		return
	}

	if reply != nil && route.Output != "" {
		if err := w.queue.Push(ctx, route.Output, reply); err != nil {
			log.Error().Err(err).Str("queue", route.Output).Str("message_id", msg.ID).Msg("Reply push failed; releasing message")
			if nackErr := w.queue.Nack(ctx, msg); nackErr != nil {
				log.Error().Err(nackErr).Str("message_id", msg.ID).Msg("Nack failed")
			}
			return
		}
	}

	if err := w.queue.Ack(ctx, msg); err != nil {
		log.Error().Err(err).Str("message_id", msg.ID).Msg("Ack failed")
		return
	}
	log.Debug().
		Str("queue", route.Input).
		Str("message_id", msg.ID).
		Dur("elapsed", w.clock.Now().Sub(start)).
		Msg("Message processed")
}

// Release stops the pool. The worker must not be used afterwards.
func (w *Worker) Release() {
	w.pool.Release()
}
