// Package analysis talks to the external document analysis service: it
// submits files, polls the asynchronous operation until it reaches a
// terminal status, and provisions analyzers from the user schema.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agentoven/artifactchat/internal/clock"
	"github.com/agentoven/artifactchat/internal/config"
	"github.com/agentoven/artifactchat/internal/telemetry"
	"github.com/agentoven/artifactchat/pkg/contracts"
	"github.com/agentoven/artifactchat/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrSubmission is returned when the service does not accept a file.
	ErrSubmission = errors.New("analysis submission rejected")

	// ErrAnalysisFailed matches every *FailedError.
	ErrAnalysisFailed = errors.New("analysis failed")

	// ErrAnalysisTimeout is returned when the attempt budget runs out
	// before a terminal status.
	ErrAnalysisTimeout = errors.New("analysis timed out")
)

// FailedError carries the status and message reported by the service for
// a failed or canceled operation.
type FailedError struct {
	Status  models.AnalysisStatus
	Message string
}

func (e *FailedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("analysis %s", strings.ToLower(string(e.Status)))
	}
	return fmt.Sprintf("analysis %s: %s", strings.ToLower(string(e.Status)), e.Message)
}

func (e *FailedError) Is(target error) bool { return target == ErrAnalysisFailed }

// Poller implements contracts.Analyzer against the remote service. Waiting
// between polls goes through the injected clock.
type Poller struct {
	endpoint    string
	key         string
	apiVersion  string
	interval    time.Duration
	maxAttempts int
	clock       clock.Clock
	client      *http.Client
}

// PollerOption configures the poller.
type PollerOption func(*Poller)

// WithClock replaces the clock used between polls.
func WithClock(c clock.Clock) PollerOption {
	return func(p *Poller) { p.clock = c }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) PollerOption {
	return func(p *Poller) { p.client = c }
}

// NewPoller creates a remote analyzer client.
func NewPoller(cfg config.AnalysisConfig, opts ...PollerOption) *Poller {
	p := &Poller{
		endpoint:    strings.TrimRight(cfg.Endpoint, "/"),
		key:         cfg.Key,
		apiVersion:  cfg.APIVersion,
		interval:    cfg.PollInterval.Duration,
		maxAttempts: cfg.MaxAttempts,
		clock:       clock.Real{},
		client:      &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// New builds the analyzer selected by cfg.Driver.
func New(cfg config.AnalysisConfig) (contracts.Analyzer, error) {
	switch cfg.Driver {
	case "", "local":
		return NewLocalAnalyzer(), nil
	case "remote":
		return NewPoller(cfg), nil
	default:
		return nil, fmt.Errorf("unknown analysis driver %q", cfg.Driver)
	}
}

// operation is the status document returned by the operation handle.
type operation struct {
	Status string               `json:"status"`
	Result *operationResult     `json:"result,omitempty"`
	Error  *models.ServiceError `json:"error,omitempty"`
}

type operationResult struct {
	Contents []models.ContentItem `json:"contents"`
}

// Analyze submits data and polls the returned operation handle until it
// succeeds, fails, or the attempt budget is spent.
func (p *Poller) Analyze(ctx context.Context, analyzerID string, data []byte) (*models.AnalysisResult, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "analysis.analyze")
	defer span.End()
	span.SetAttributes(attribute.String("analyzer.id", analyzerID))

	handle, err := p.submit(ctx, analyzerID, data)
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		op, err := p.poll(ctx, handle)
		if err != nil {
			return nil, err
		}

		status := models.ParseAnalysisStatus(op.Status)
		switch status {
		case models.AnalysisSucceeded:
			span.SetAttributes(attribute.Int("polls", attempt))
			log.Info().Str("analyzer_id", analyzerID).Int("polls", attempt).Msg("Analysis succeeded")
			res := &models.AnalysisResult{Status: status}
			if op.Result != nil {
				res.Contents = op.Result.Contents
			}
			return res, nil
		case models.AnalysisFailed, models.AnalysisCanceled:
			fe := &FailedError{Status: status}
			if op.Error != nil {
				fe.Message = op.Error.Error()
			}
			return nil, fe
		}

		log.Debug().Str("analyzer_id", analyzerID).Str("status", op.Status).Int("attempt", attempt).Msg("Analysis in progress")
		if attempt == p.maxAttempts {
			break
		}
		if err := p.clock.Sleep(ctx, p.interval); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: no terminal status after %d polls", ErrAnalysisTimeout, p.maxAttempts)
}

func (p *Poller) submit(ctx context.Context, analyzerID string, data []byte) (string, error) {
	url := fmt.Sprintf("%s/contentunderstanding/analyzers/%s:analyze?api-version=%s", p.endpoint, analyzerID, p.apiVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Ocp-Apim-Subscription-Key", p.key)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubmission, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: status %d: %s", ErrSubmission, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	handle := resp.Header.Get("Operation-Location")
	if handle == "" {
		return "", fmt.Errorf("%w: accepted without an operation handle", ErrSubmission)
	}
	return handle, nil
}

func (p *Poller) poll(ctx context.Context, handle string) (*operation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, handle, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", p.key)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll operation: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read operation: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll operation returned %d: %s", resp.StatusCode, string(body))
	}

	var op operation
	if err := json.Unmarshal(body, &op); err != nil {
		return nil, fmt.Errorf("decode operation: %w", err)
	}
	return &op, nil
}
