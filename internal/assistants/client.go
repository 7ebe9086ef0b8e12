// Package assistants is a REST client for the conversational agent runtime.
// It speaks the threads / messages / runs / assistants resource model and
// implements contracts.AgentRuntime.
package assistants

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agentoven/artifactchat/internal/config"
	"github.com/agentoven/artifactchat/pkg/models"
)

// DefaultAPIVersion is sent when the configuration does not name one.
const DefaultAPIVersion = "2024-05-01-preview"

// APIError is a non-2xx response from the runtime.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("agent runtime returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the runtime.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client talks to the agent runtime over HTTP.
type Client struct {
	endpoint   string
	apiKey     string
	apiVersion string
	client     *http.Client
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// NewClient creates a client for the runtime at endpoint.
func NewClient(endpoint, apiKey string, opts ...Option) *Client {
	c := &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		apiVersion: DefaultAPIVersion,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// New builds a client from the agent configuration.
func New(cfg config.AgentConfig) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("agent.endpoint is required")
	}
	c := NewClient(cfg.Endpoint, cfg.APIKey)
	if cfg.APIVersion != "" {
		c.apiVersion = cfg.APIVersion
	}
	return c, nil
}

type listResponse[T any] struct {
	Data []T `json:"data"`
}

func (c *Client) CreateThread(ctx context.Context) (*models.Thread, error) {
	var t models.Thread
	if err := c.do(ctx, http.MethodPost, "/threads", nil, struct{}{}, &t); err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	return &t, nil
}

func (c *Client) GetThread(ctx context.Context, threadID string) (*models.Thread, error) {
	var t models.Thread
	if err := c.do(ctx, http.MethodGet, "/threads/"+url.PathEscape(threadID), nil, nil, &t); err != nil {
		return nil, fmt.Errorf("get thread %s: %w", threadID, err)
	}
	return &t, nil
}

func (c *Client) CreateMessage(ctx context.Context, threadID string, role models.MessageRole, content string) (*models.Message, error) {
	body := map[string]any{"role": role, "content": content}
	var m models.Message
	if err := c.do(ctx, http.MethodPost, "/threads/"+url.PathEscape(threadID)+"/messages", nil, body, &m); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return &m, nil
}

// ListMessages returns the thread's messages newest first.
func (c *Client) ListMessages(ctx context.Context, threadID string) ([]models.Message, error) {
	var out listResponse[models.Message]
	q := url.Values{"order": {"desc"}, "limit": {"100"}}
	if err := c.do(ctx, http.MethodGet, "/threads/"+url.PathEscape(threadID)+"/messages", q, nil, &out); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return out.Data, nil
}

func (c *Client) CreateRun(ctx context.Context, threadID, assistantID string) (*models.Run, error) {
	body := map[string]string{"assistant_id": assistantID}
	var r models.Run
	if err := c.do(ctx, http.MethodPost, "/threads/"+url.PathEscape(threadID)+"/runs", nil, body, &r); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return &r, nil
}

func (c *Client) GetRun(ctx context.Context, threadID, runID string) (*models.Run, error) {
	var r models.Run
	if err := c.do(ctx, http.MethodGet, c.runPath(threadID, runID, ""), nil, nil, &r); err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return &r, nil
}

func (c *Client) CancelRun(ctx context.Context, threadID, runID string) (*models.Run, error) {
	var r models.Run
	if err := c.do(ctx, http.MethodPost, c.runPath(threadID, runID, "/cancel"), nil, struct{}{}, &r); err != nil {
		return nil, fmt.Errorf("cancel run %s: %w", runID, err)
	}
	return &r, nil
}

func (c *Client) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []models.ToolOutput) (*models.Run, error) {
	body := map[string]any{"tool_outputs": outputs}
	var r models.Run
	if err := c.do(ctx, http.MethodPost, c.runPath(threadID, runID, "/submit_tool_outputs"), nil, body, &r); err != nil {
		return nil, fmt.Errorf("submit tool outputs for run %s: %w", runID, err)
	}
	return &r, nil
}

func (c *Client) ListAssistants(ctx context.Context) ([]models.Assistant, error) {
	var out listResponse[models.Assistant]
	if err := c.do(ctx, http.MethodGet, "/assistants", url.Values{"limit": {"100"}}, nil, &out); err != nil {
		return nil, fmt.Errorf("list assistants: %w", err)
	}
	return out.Data, nil
}

func (c *Client) CreateAssistant(ctx context.Context, a *models.Assistant) (*models.Assistant, error) {
	var out models.Assistant
	if err := c.do(ctx, http.MethodPost, "/assistants", nil, a, &out); err != nil {
		return nil, fmt.Errorf("create assistant %s: %w", a.Name, err)
	}
	return &out, nil
}

func (c *Client) UpdateAssistant(ctx context.Context, a *models.Assistant) (*models.Assistant, error) {
	if a.ID == "" {
		return nil, fmt.Errorf("update assistant %s: missing id", a.Name)
	}
	body := *a
	body.ID = ""
	var out models.Assistant
	if err := c.do(ctx, http.MethodPost, "/assistants/"+url.PathEscape(a.ID), nil, &body, &out); err != nil {
		return nil, fmt.Errorf("update assistant %s: %w", a.Name, err)
	}
	return &out, nil
}

func (c *Client) runPath(threadID, runID, suffix string) string {
	return "/threads/" + url.PathEscape(threadID) + "/runs/" + url.PathEscape(runID) + suffix
}

// do sends one request. A nil in skips the body; a nil out discards it.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("api-version", c.apiVersion)

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path+"?"+query.Encode(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// errorMessage extracts {"error":{"message":...}} when present.
func errorMessage(body []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return strings.TrimSpace(string(body))
}
