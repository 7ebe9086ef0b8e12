package rag

import (
	"regexp"
	"strings"

	"github.com/agentoven/artifactchat/pkg/models"
)

// bracketMarker matches a "[HH:MM:SS]" marker followed by whitespace. The
// phrase is everything up to the next marker or the end of input.
var bracketMarker = regexp.MustCompile(`\[(\d{2}:\d{2}:\d{2})\]\s`)

// Phrase is one timestamped phrase of a bracketed transcript.
type Phrase struct {
	Timestamp string
	Text      string
}

// ParsePhrases extracts (timestamp, phrase) pairs from a bracketed
// transcript. Text before the first marker and empty phrases are ignored.
func ParsePhrases(transcript string) []Phrase {
	locs := bracketMarker.FindAllStringSubmatchIndex(transcript, -1)
	phrases := make([]Phrase, 0, len(locs))
	for i, loc := range locs {
		end := len(transcript)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		text := strings.TrimSpace(transcript[loc[1]:end])
		if text == "" {
			continue
		}
		phrases = append(phrases, Phrase{Timestamp: transcript[loc[2]:loc[3]], Text: text})
	}
	return phrases
}

// BracketedSegmenter windows "[HH:MM:SS] phrase" transcripts into segments
// of a fixed number of phrases.
type BracketedSegmenter struct {
	window  int
	overlap int
}

// NewBracketedSegmenter validates the window and returns a segmenter.
func NewBracketedSegmenter(window, overlap int) (*BracketedSegmenter, error) {
	if err := checkWindow("bracketed transcript", window, overlap); err != nil {
		return nil, err
	}
	return &BracketedSegmenter{window: window, overlap: overlap}, nil
}

func (s *BracketedSegmenter) Kind() models.ChunkKind { return models.ChunkBracketed }

func (s *BracketedSegmenter) Segment(text string, meta models.ParentMetadata) []models.Chunk {
	phrases := ParsePhrases(text)
	spans := windowSpans(len(phrases), s.window, s.overlap)
	if len(spans) == 0 {
		return nil
	}

	timestamp := meta.TimestampOrNow()
	chunks := make([]models.Chunk, 0, len(spans))
	for i, sp := range spans {
		window := phrases[sp[0]:sp[1]]
		plain := make([]string, len(window))
		full := make([]string, len(window))
		for j, p := range window {
			plain[j] = p.Text
			full[j] = "[" + p.Timestamp + "] " + p.Text
		}
		content := strings.Join(plain, " ")

		c := newChunk(meta, timestamp, i, models.ChunkBracketed, content)
		c.Bracketed = &models.BracketedStructure{
			SegmentTimestamp: window[0].Timestamp,
			FullSegment:      strings.Join(full, " "),
			PlainSegment:     content,
		}
		chunks = append(chunks, c)
	}
	return chunks
}
