package analysis

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/agentoven/artifactchat/pkg/models"
	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog/log"
)

// LocalAnalyzer is an offline analyzer for development. It returns PDF page
// text or the raw text of UTF-8 files as a single document item; it extracts
// no schema fields.
type LocalAnalyzer struct{}

// NewLocalAnalyzer creates the offline analyzer.
func NewLocalAnalyzer() *LocalAnalyzer { return &LocalAnalyzer{} }

func (a *LocalAnalyzer) Analyze(_ context.Context, analyzerID string, data []byte) (*models.AnalysisResult, error) {
	var (
		text string
		err  error
	)
	switch {
	case bytes.HasPrefix(data, []byte("%PDF")):
		text, err = extractPDF(data)
		if err != nil {
			return nil, &FailedError{Status: models.AnalysisFailed, Message: err.Error()}
		}
	case utf8.Valid(data):
		text = string(data)
	default:
		return nil, &FailedError{Status: models.AnalysisFailed, Message: "unsupported binary content"}
	}

	log.Debug().Str("analyzer_id", analyzerID).Int("bytes", len(data)).Msg("Local analysis complete")
	return &models.AnalysisResult{
		Status:   models.AnalysisSucceeded,
		Contents: []models.ContentItem{{Kind: models.ContentDocument, Markdown: text}},
	}, nil
}

// CreateOrUpdateAnalyzer has nothing to provision locally.
func (a *LocalAnalyzer) CreateOrUpdateAnalyzer(_ context.Context, schema *models.SchemaConfig) error {
	log.Info().Str("analyzer_id", schema.AnalyzerID()).Msg("Local analyzer ready")
	return nil
}

func extractPDF(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}

	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", fmt.Errorf("no text could be extracted from pdf")
	}
	return out, nil
}
