package models

import (
	"encoding/json"
	"time"
)

// ── Agent Runtime ────────────────────────────────────────────

// Thread is an opaque conversation handle owned by the agent runtime.
type Thread struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"created_at,omitempty"`
}

// RunStatus is the server-driven state of a run.
type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunInProgress     RunStatus = "in_progress"
	RunRequiresAction RunStatus = "requires_action"
	RunCancelling     RunStatus = "cancelling"
	RunCompleted      RunStatus = "completed"
	RunFailed         RunStatus = "failed"
	RunCancelled      RunStatus = "cancelled"
	RunExpired        RunStatus = "expired"
)

// Active reports whether the run is still progressing on the server.
func (s RunStatus) Active() bool {
	return s == RunQueued || s == RunInProgress || s == RunRequiresAction || s == RunCancelling
}

// RequiredActionSubmitToolOutputs is the only required action type the
// orchestrator resolves.
const RequiredActionSubmitToolOutputs = "submit_tool_outputs"

// Run is one execution of a conversational turn inside the agent runtime.
type Run struct {
	ID             string          `json:"id"`
	ThreadID       string          `json:"thread_id"`
	AssistantID    string          `json:"assistant_id"`
	Status         RunStatus       `json:"status"`
	RequiredAction *RequiredAction `json:"required_action,omitempty"`
	LastError      *ServiceError   `json:"last_error,omitempty"`
}

// RequiredAction is populated while a run is in requires_action.
type RequiredAction struct {
	Type              string             `json:"type"`
	SubmitToolOutputs *SubmitToolOutputs `json:"submit_tool_outputs,omitempty"`
}

// SubmitToolOutputs lists the tool calls awaiting outputs.
type SubmitToolOutputs struct {
	ToolCalls []ToolCall `json:"tool_calls"`
}

// PendingToolCalls returns the tool calls the run is waiting on, if any.
func (r *Run) PendingToolCalls() []ToolCall {
	if r == nil || r.RequiredAction == nil || r.RequiredAction.Type != RequiredActionSubmitToolOutputs {
		return nil
	}
	if r.RequiredAction.SubmitToolOutputs == nil {
		return nil
	}
	return r.RequiredAction.SubmitToolOutputs.ToolCalls
}

// ToolCall is a structured request emitted by the runtime during a run.
type ToolCall struct {
	ID            string             `json:"id"`
	Type          string             `json:"type"`
	Function      *FunctionCall      `json:"function,omitempty"`
	AzureFunction *QueueFunctionCall `json:"azure_function,omitempty"`
}

// FunctionCall is an inline function tool invocation.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// QueueFunctionCall is a queue-bound function tool invocation. OutputQueue
// names the queue the runtime expects the answer on.
type QueueFunctionCall struct {
	Name        string `json:"name"`
	Arguments   string `json:"arguments"`
	OutputQueue string `json:"output_queue,omitempty"`
}

// ToolName returns the declared function name of the call.
func (c ToolCall) ToolName() string {
	if c.Function != nil {
		return c.Function.Name
	}
	if c.AzureFunction != nil {
		return c.AzureFunction.Name
	}
	return ""
}

// RawArguments returns the JSON arguments of the call.
func (c ToolCall) RawArguments() json.RawMessage {
	var args string
	switch {
	case c.Function != nil:
		args = c.Function.Arguments
	case c.AzureFunction != nil:
		args = c.AzureFunction.Arguments
	}
	if args == "" {
		return json.RawMessage("{}")
	}
	return json.RawMessage(args)
}

// OutputQueue returns the declared output-queue identity, if any.
func (c ToolCall) OutputQueue() string {
	if c.AzureFunction != nil {
		return c.AzureFunction.OutputQueue
	}
	return ""
}

// ToolOutput is the result submitted back for one tool call.
type ToolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

// MessageRole is the author of a thread message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is a thread message as listed by the runtime.
type Message struct {
	ID        string         `json:"id"`
	Role      MessageRole    `json:"role"`
	Content   []MessagePart  `json:"content"`
	CreatedAt int64          `json:"created_at"`
	RunID     string         `json:"run_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// MessagePart is one content part of a message.
type MessagePart struct {
	Type string    `json:"type"`
	Text *TextPart `json:"text,omitempty"`
}

// TextPart holds the text value of a text content part.
type TextPart struct {
	Value string `json:"value"`
}

// Text returns the first text part's value, or "" when the message has no
// content parts.
func (m Message) Text() string {
	for _, p := range m.Content {
		if p.Text != nil {
			return p.Text.Value
		}
	}
	return ""
}

// Created returns the creation time of the message.
func (m Message) Created() time.Time {
	return time.Unix(m.CreatedAt, 0).UTC()
}

// Assistant is an agent definition in the runtime.
type Assistant struct {
	ID           string           `json:"id,omitempty"`
	Name         string           `json:"name"`
	Description  string           `json:"description,omitempty"`
	Model        string           `json:"model,omitempty"`
	Instructions string           `json:"instructions,omitempty"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
}

// ToolDefinition declares a function tool to the runtime.
type ToolDefinition struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition is the JSON-schema declaration of a function tool.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ── Chat Turn ────────────────────────────────────────────────

// ChatMessage is a message returned to API callers.
type ChatMessage struct {
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Timestamp string      `json:"timestamp"`
	ThreadID  string      `json:"threadId,omitempty"`
}

// ChatRequest is the body of a chat turn request.
type ChatRequest struct {
	Prompt   string `json:"prompt"`
	ThreadID string `json:"threadId"`
}
