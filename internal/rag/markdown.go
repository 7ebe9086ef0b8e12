package rag

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/agentoven/artifactchat/pkg/models"
)

var headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

// MarkdownSegmenter splits Markdown by headings and size while keeping
// fenced code blocks whole. Size is measured in runes of the newline-joined
// buffer; overlap is a number of lines.
type MarkdownSegmenter struct {
	chunkSize int
	overlap   int
}

// NewMarkdownSegmenter validates the window and returns a segmenter.
func NewMarkdownSegmenter(chunkSize, overlapLines int) (*MarkdownSegmenter, error) {
	if err := checkWindow("markdown", chunkSize, overlapLines); err != nil {
		return nil, err
	}
	return &MarkdownSegmenter{chunkSize: chunkSize, overlap: overlapLines}, nil
}

func (s *MarkdownSegmenter) Kind() models.ChunkKind { return models.ChunkMarkdown }

// mdBuffer accumulates lines and tracks the rune length of their
// newline-joined form. fresh counts the lines that are not overlap seeds.
type mdBuffer struct {
	lines []string
	size  int
	fresh int
}

func (b *mdBuffer) push(line string) {
	if len(b.lines) > 0 {
		b.size++
	}
	b.lines = append(b.lines, line)
	b.size += utf8.RuneCountInString(line)
	b.fresh++
}

func (b *mdBuffer) reset(seed []string) {
	b.lines, b.size = nil, 0
	for _, l := range seed {
		b.push(l)
	}
	b.fresh = 0
}

func (s *MarkdownSegmenter) Segment(text string, meta models.ParentMetadata) []models.Chunk {
	if text == "" {
		return nil
	}

	timestamp := meta.TimestampOrNow()
	var (
		chunks  []models.Chunk
		buf     mdBuffer
		headers = map[int]string{}
		fence   string
	)

	flush := func() {
		c := newChunk(meta, timestamp, len(chunks), models.ChunkMarkdown, strings.Join(buf.lines, "\n"))
		c.Markdown = &models.MarkdownStructure{Headers: snapshotHeaders(headers)}
		chunks = append(chunks, c)
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "```"):
			fence = toggleFence(fence, "```")
		case strings.HasPrefix(trimmed, "~~~"):
			fence = toggleFence(fence, "~~~")
		}
		if fence != "" {
			buf.push(line)
			continue
		}

		if m := headingPattern.FindStringSubmatch(line); m != nil {
			if buf.fresh > 0 {
				flush()
			}
			buf.reset(nil)
			level := len(m[1])
			headers[level] = strings.TrimSpace(m[2])
			for l := range headers {
				if l > level {
					delete(headers, l)
				}
			}
		}

		buf.push(line)
		if buf.size >= s.chunkSize {
			flush()
			buf.reset(tail(buf.lines, s.overlap))
		}
	}

	if buf.fresh > 0 {
		flush()
	}
	return chunks
}

// toggleFence opens a fence of the given style, or closes the open fence
// when it has the same style. A fence of the other style is ignored.
func toggleFence(open, style string) string {
	switch open {
	case "":
		return style
	case style:
		return ""
	default:
		return open
	}
}

func snapshotHeaders(h map[int]string) map[string]string {
	out := make(map[string]string, len(h))
	for level, text := range h {
		out[fmt.Sprintf("h%d", level)] = text
	}
	return out
}

// tail returns the last n lines, always leaving at least one line behind so
// the next buffer starts smaller than the one just flushed.
func tail(lines []string, n int) []string {
	if n >= len(lines) {
		n = len(lines) - 1
	}
	if n <= 0 {
		return nil
	}
	return append([]string(nil), lines[len(lines)-n:]...)
}
