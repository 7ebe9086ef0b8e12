// Package executor drives one conversational turn through the agent runtime.
//
// A turn runs:
//
//	resolve thread (create on miss) → post user message → create run →
//	poll run status → on requires_action dispatch each tool call to its
//	registered handler → submit outputs → repeat until terminal or timeout.
//
// The runtime owns the run state machine; the orchestrator only observes it
// and requests transitions (submit tool outputs, cancel).
package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/agentoven/artifactchat/internal/assistants"
	"github.com/agentoven/artifactchat/internal/clock"
	"github.com/agentoven/artifactchat/internal/config"
	"github.com/agentoven/artifactchat/internal/telemetry"
	"github.com/agentoven/artifactchat/pkg/contracts"
	"github.com/agentoven/artifactchat/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrRunTimeout is returned when a run stays active past its deadline.
	// The run has been asked to cancel.
	ErrRunTimeout = errors.New("run timed out")

	// ErrRunFailed is matched by *RunFailedError.
	ErrRunFailed = errors.New("run failed")

	// ErrUnexpectedRunStatus is returned for terminal states other than
	// completed and failed.
	ErrUnexpectedRunStatus = errors.New("unexpected run status")

	// ErrNoAssistantResponse is returned when a completed run left no
	// assistant message on the thread.
	ErrNoAssistantResponse = errors.New("no response received from assistant")

	// ErrUnknownTool is returned for tool calls no handler is registered for.
	ErrUnknownTool = errors.New("unknown tool")
)

// RunFailedError carries the runtime's last reported error.
type RunFailedError struct {
	RunID     string
	LastError *models.ServiceError
}

func (e *RunFailedError) Error() string {
	if e.LastError == nil {
		return fmt.Sprintf("run %s failed", e.RunID)
	}
	return fmt.Sprintf("run %s failed: %s", e.RunID, e.LastError.Error())
}

func (e *RunFailedError) Is(target error) bool { return target == ErrRunFailed }

// ToolFunc computes the output for one tool call.
type ToolFunc func(ctx context.Context, call models.ToolCall) (string, error)

type queueRoute struct {
	substring string
	tool      models.ToolID
}

// Orchestrator runs conversational turns against an agent runtime.
type Orchestrator struct {
	runtime     contracts.AgentRuntime
	tools       map[models.ToolID]ToolFunc
	routes      []queueRoute
	clock       clock.Clock
	interval    time.Duration
	timeout     time.Duration
	toolTimeout time.Duration
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces the clock used for polling and deadlines.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithTool registers the handler for a tool.
func WithTool(id models.ToolID, fn ToolFunc) Option {
	return func(o *Orchestrator) { o.tools[id] = fn }
}

// WithOutputQueueRoute routes tool calls whose declared output queue
// contains substring to tool. It is consulted only when the function name
// does not identify the tool.
func WithOutputQueueRoute(substring string, tool models.ToolID) Option {
	return func(o *Orchestrator) {
		o.routes = append(o.routes, queueRoute{substring: substring, tool: tool})
	}
}

// New creates an orchestrator from the agent configuration.
func New(rt contracts.AgentRuntime, cfg config.AgentConfig, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		runtime:     rt,
		tools:       make(map[models.ToolID]ToolFunc),
		clock:       clock.Real{},
		interval:    cfg.PollInterval.Duration,
		timeout:     cfg.RunTimeout.Duration,
		toolTimeout: cfg.ToolRunTimeout.Duration,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.toolTimeout < o.timeout {
		o.toolTimeout = o.timeout
	}
	// Longest substring first so "artifactchunk-output" wins over a shorter
	// route it happens to contain.
	sort.SliceStable(o.routes, func(i, j int) bool {
		return len(o.routes[i].substring) > len(o.routes[j].substring)
	})
	return o
}

// StartThread creates a new conversation thread. No run is started.
func (o *Orchestrator) StartThread(ctx context.Context) (*models.Thread, error) {
	return o.runtime.CreateThread(ctx)
}

// Turn posts prompt to the thread and runs the assistant until it answers.
// A thread the runtime no longer knows is replaced by a fresh one; the
// returned message carries the thread id actually used.
func (o *Orchestrator) Turn(ctx context.Context, assistantID, threadID, prompt string) (*models.ChatMessage, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "executor.turn")
	defer span.End()

	thread, err := o.thread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("thread.id", thread.ID), attribute.String("assistant.id", assistantID))

	if _, err := o.runtime.CreateMessage(ctx, thread.ID, models.RoleUser, prompt); err != nil {
		return nil, err
	}
	run, err := o.runtime.CreateRun(ctx, thread.ID, assistantID)
	if err != nil {
		return nil, err
	}
	log.Info().Str("thread_id", thread.ID).Str("run_id", run.ID).Msg("Run created")

	run, err = o.await(ctx, thread.ID, run)
	if err != nil {
		return nil, err
	}

	switch run.Status {
	case models.RunCompleted:
	case models.RunFailed:
		return nil, &RunFailedError{RunID: run.ID, LastError: run.LastError}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedRunStatus, run.Status)
	}

	reply, err := o.latestAssistantMessage(ctx, thread.ID)
	if err != nil {
		return nil, err
	}
	reply.ThreadID = thread.ID
	return reply, nil
}

// thread returns the existing thread, or a new one when the runtime cannot
// find it.
func (o *Orchestrator) thread(ctx context.Context, threadID string) (*models.Thread, error) {
	if threadID != "" {
		t, ok, err := o.tryGetThread(ctx, threadID)
		if err != nil {
			return nil, err
		}
		if ok {
			return t, nil
		}
		log.Warn().Str("thread_id", threadID).Msg("Thread not found, creating a new one")
	}
	return o.runtime.CreateThread(ctx)
}

func (o *Orchestrator) tryGetThread(ctx context.Context, threadID string) (*models.Thread, bool, error) {
	t, err := o.runtime.GetThread(ctx, threadID)
	switch {
	case err == nil:
		return t, true, nil
	case assistants.IsNotFound(err):
		return nil, false, nil
	default:
		return nil, false, err
	}
}

// await polls the run until it leaves the active states. The deadline is
// the run timeout, extended to the tool timeout once the run has asked for
// tool outputs.
func (o *Orchestrator) await(ctx context.Context, threadID string, run *models.Run) (*models.Run, error) {
	start := o.clock.Now()
	limit := o.timeout
	submitted := map[string]bool{}

	for run.Status.Active() {
		if run.Status == models.RunRequiresAction {
			limit = o.toolTimeout
		}
		if elapsed := o.clock.Now().Sub(start); elapsed > limit {
			o.cancel(ctx, threadID, run.ID)
			return nil, fmt.Errorf("%w after %s", ErrRunTimeout, limit)
		}

		if calls := unsubmitted(run.PendingToolCalls(), submitted); len(calls) > 0 {
			outputs := o.dispatch(ctx, calls)
			if len(outputs) > 0 {
				if _, err := o.runtime.SubmitToolOutputs(ctx, threadID, run.ID, outputs); err != nil {
					return nil, err
				}
				for _, c := range calls {
					submitted[c.ID] = true
				}
				log.Info().Str("run_id", run.ID).Int("outputs", len(outputs)).Int("calls", len(calls)).Msg("Tool outputs submitted")
			}
		}

		if err := o.clock.Sleep(ctx, o.interval); err != nil {
			o.cancel(context.WithoutCancel(ctx), threadID, run.ID)
			return nil, err
		}
		next, err := o.runtime.GetRun(ctx, threadID, run.ID)
		if err != nil {
			return nil, err
		}
		if next.Status != run.Status {
			log.Debug().Str("run_id", run.ID).Str("status", string(next.Status)).Msg("Run status changed")
		}
		run = next
	}
	return run, nil
}

// unsubmitted drops calls whose outputs were already submitted for this run.
// A poll can still report those calls before the runtime applies the outputs.
func unsubmitted(calls []models.ToolCall, submitted map[string]bool) []models.ToolCall {
	var out []models.ToolCall
	for _, c := range calls {
		if !submitted[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

// cancel asks the runtime to cancel once and does not wait for the effect.
func (o *Orchestrator) cancel(ctx context.Context, threadID, runID string) {
	if _, err := o.runtime.CancelRun(ctx, threadID, runID); err != nil {
		log.Error().Err(err).Str("run_id", runID).Msg("Run cancellation failed")
		return
	}
	log.Warn().Str("run_id", runID).Msg("Run cancelled after timeout")
}

// dispatch runs every pending call. Failing calls are logged and skipped.
func (o *Orchestrator) dispatch(ctx context.Context, calls []models.ToolCall) []models.ToolOutput {
	outputs := make([]models.ToolOutput, 0, len(calls))
	for _, call := range calls {
		out, err := o.execute(ctx, call)
		if err != nil {
			log.Warn().Err(err).Str("tool", call.ToolName()).Str("tool_call_id", call.ID).Msg("Tool call skipped")
			continue
		}
		outputs = append(outputs, models.ToolOutput{ToolCallID: call.ID, Output: out})
	}
	return outputs
}

func (o *Orchestrator) execute(ctx context.Context, call models.ToolCall) (string, error) {
	id, ok := o.resolve(call)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTool, call.ToolName())
	}
	fn, ok := o.tools[id]
	if !ok {
		return "", fmt.Errorf("%w: %q has no handler", ErrUnknownTool, id)
	}
	return fn(ctx, call)
}

// resolve maps a call to its tool: by function name first, then by the
// declared output queue.
func (o *Orchestrator) resolve(call models.ToolCall) (models.ToolID, bool) {
	if id, ok := assistants.ToolFor(call.ToolName()); ok {
		return id, true
	}
	if q := call.OutputQueue(); q != "" {
		for _, r := range o.routes {
			if strings.Contains(q, r.substring) {
				return r.tool, true
			}
		}
	}
	return "", false
}

func (o *Orchestrator) latestAssistantMessage(ctx context.Context, threadID string) (*models.ChatMessage, error) {
	msgs, err := o.runtime.ListMessages(ctx, threadID)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		if m.Role == models.RoleAssistant {
			cm := chatMessage(m)
			return &cm, nil
		}
	}
	return nil, ErrNoAssistantResponse
}

// History returns the thread's messages oldest first.
func (o *Orchestrator) History(ctx context.Context, threadID string) ([]models.ChatMessage, error) {
	msgs, err := o.runtime.ListMessages(ctx, threadID)
	if err != nil {
		return nil, err
	}
	out := make([]models.ChatMessage, len(msgs))
	for i, m := range msgs {
		out[len(msgs)-1-i] = chatMessage(m)
	}
	return out, nil
}

func chatMessage(m models.Message) models.ChatMessage {
	return models.ChatMessage{
		Role:      m.Role,
		Content:   m.Text(),
		Timestamp: m.Created().Format(time.RFC3339),
	}
}
