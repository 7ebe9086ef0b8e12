// Package rag turns documents into retrievable chunks and answers retrieval
// tool calls against the document and chunk collections.
//
// Three segmenters are provided: a structure-aware Markdown segmenter and a
// timestamped transcript segmenter in two dialects (bracketed lines and
// caption cues). All of them are pure functions of their input.
package rag

import (
	"errors"
	"fmt"

	"github.com/agentoven/artifactchat/internal/config"
	"github.com/agentoven/artifactchat/pkg/models"
)

// ErrInvalidWindow is returned by segmenter constructors for a window size
// that is not positive or an overlap outside [0, size).
var ErrInvalidWindow = errors.New("invalid segmenter window")

// Segmenter splits a document's normalised content into ordered chunks.
// Malformed input yields an empty slice, never an error.
type Segmenter interface {
	Kind() models.ChunkKind
	Segment(text string, meta models.ParentMetadata) []models.Chunk
}

// Dialect selects the transcript input format. It is chosen by the caller,
// never inferred from content.
type Dialect string

const (
	DialectBracketed Dialect = "bracketed"
	DialectCaption   Dialect = "caption"
)

func checkWindow(name string, size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("%w: %s size must be positive, got %d", ErrInvalidWindow, name, size)
	}
	if overlap < 0 || overlap >= size {
		return fmt.Errorf("%w: %s overlap %d must be in [0, %d)", ErrInvalidWindow, name, overlap, size)
	}
	return nil
}

// windowSpans returns [start, end) spans of full windows over n items
// advancing by size-overlap. Fewer than size items collapse into one span.
// Items after the last full window are not covered.
func windowSpans(n, size, overlap int) [][2]int {
	if n == 0 {
		return nil
	}
	if n <= size {
		return [][2]int{{0, n}}
	}
	stride := size - overlap
	var spans [][2]int
	for start := 0; start+size <= n; start += stride {
		spans = append(spans, [2]int{start, start + size})
	}
	return spans
}

// Segmenters holds the configured segmenters used by the ingestion pipeline.
type Segmenters struct {
	Markdown  *MarkdownSegmenter
	Bracketed *BracketedSegmenter
	Caption   *CaptionSegmenter
	// Dialect is used for transcripts whose caller did not name one.
	Dialect Dialect
}

// NewSegmenters builds every segmenter from configuration.
func NewSegmenters(cfg config.ChunkingConfig) (*Segmenters, error) {
	md, err := NewMarkdownSegmenter(cfg.MarkdownChunkSize, cfg.MarkdownOverlap)
	if err != nil {
		return nil, err
	}
	br, err := NewBracketedSegmenter(cfg.BracketedWindow, cfg.BracketedOverlap)
	if err != nil {
		return nil, err
	}
	cp, err := NewCaptionSegmenter(cfg.CaptionWindow, cfg.CaptionOverlap)
	if err != nil {
		return nil, err
	}
	dialect := Dialect(cfg.TranscriptDialect)
	if dialect == "" {
		dialect = DialectBracketed
	}
	return &Segmenters{Markdown: md, Bracketed: br, Caption: cp, Dialect: dialect}, nil
}

// Transcript returns the transcript segmenter for a dialect, falling back to
// the configured default for an empty or unknown dialect.
func (s *Segmenters) Transcript(d Dialect) Segmenter {
	if d != DialectBracketed && d != DialectCaption {
		d = s.Dialect
	}
	if d == DialectCaption {
		return s.Caption
	}
	return s.Bracketed
}

func newChunk(meta models.ParentMetadata, timestamp string, ordinal int, kind models.ChunkKind, content string) models.Chunk {
	var passthrough map[string]any
	if len(meta.Extra) > 0 {
		passthrough = make(map[string]any, len(meta.Extra))
		for k, v := range meta.Extra {
			passthrough[k] = v
		}
	}
	return models.Chunk{
		ID:               models.ChunkID(meta.ParentDocumentID, ordinal),
		ParentDocumentID: meta.ParentDocumentID,
		Ordinal:          ordinal,
		Content:          content,
		DocType:          models.DocTypeChunk,
		FileName:         meta.FileName,
		Timestamp:        timestamp,
		Kind:             kind,
		Passthrough:      passthrough,
	}
}
