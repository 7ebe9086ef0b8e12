package rag

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/agentoven/artifactchat/pkg/models"
)

var (
	cueTiming = regexp.MustCompile(`^(?:(\d{1,2}):)?(\d{2}):(\d{2})[.,](\d{3})\s*-->\s*(?:(\d{1,2}):)?(\d{2}):(\d{2})[.,](\d{3})`)
	voiceTag  = regexp.MustCompile(`^<v(?:\.[^\s>]+)?\s+([^>]+)>`)
	plainTag  = regexp.MustCompile(`^<([^/>][^>]*)>`)
	anyTag    = regexp.MustCompile(`</?[^>]*>`)
)

// Cue is one caption cue with millisecond offsets.
type Cue struct {
	StartMs int64
	EndMs   int64
	Speaker string
	Text    string
}

// Line renders the cue as "[speaker] text", or just the text when the cue
// has no speaker.
func (c Cue) Line() string {
	if c.Speaker == "" {
		return c.Text
	}
	return "[" + c.Speaker + "] " + c.Text
}

// ParseCues extracts cues from caption text. A cue starts at a timing line
// "MM:SS.mmm --> MM:SS.mmm" (hours optional) and its text continues on the
// same line or the following lines up to a blank line. Anything that is not
// part of a cue (headers, notes, cue identifiers) is ignored.
func ParseCues(text string) []Cue {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	var (
		cues []Cue
		cur  *Cue
		body []string
	)
	closeCue := func() {
		if cur != nil {
			cur.Speaker, cur.Text = splitSpeaker(strings.Join(body, " "))
			if cur.Text != "" {
				cues = append(cues, *cur)
			}
		}
		cur, body = nil, nil
	}

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if m := cueTiming.FindStringSubmatch(trimmed); m != nil {
			closeCue()
			cur = &Cue{StartMs: cueMillis(m[1:5]), EndMs: cueMillis(m[5:9])}
			if rest := strings.TrimSpace(trimmed[len(m[0]):]); rest != "" && !cueSettings(rest) {
				body = append(body, rest)
			}
			continue
		}
		if trimmed == "" {
			closeCue()
			continue
		}
		if cur == nil {
			continue
		}
		// A cue identifier directly above the next timing line.
		if i+1 < len(lines) && cueTiming.MatchString(strings.TrimSpace(lines[i+1])) {
			continue
		}
		body = append(body, trimmed)
	}
	closeCue()
	return cues
}

// cueSettings reports whether the remainder of a timing line is a list of
// WebVTT cue settings such as "align:start position:10%".
func cueSettings(rest string) bool {
	if strings.HasPrefix(rest, "<") {
		return false
	}
	for _, tok := range strings.Fields(rest) {
		if !strings.Contains(tok, ":") {
			return false
		}
	}
	return true
}

func splitSpeaker(raw string) (speaker, text string) {
	raw = strings.TrimSpace(raw)
	if m := voiceTag.FindStringSubmatch(raw); m != nil {
		speaker, raw = m[1], raw[len(m[0]):]
	} else if m := plainTag.FindStringSubmatch(raw); m != nil {
		speaker, raw = m[1], raw[len(m[0]):]
	}
	text = strings.Join(strings.Fields(anyTag.ReplaceAllString(raw, "")), " ")
	return strings.TrimSpace(speaker), text
}

// cueMillis converts [hours, minutes, seconds, millis] captures.
func cueMillis(parts []string) int64 {
	var n [4]int64
	for i, p := range parts {
		if p == "" {
			continue
		}
		n[i], _ = strconv.ParseInt(p, 10, 64)
	}
	return ((n[0]*60+n[1])*60+n[2])*1000 + n[3]
}

// CaptionSegmenter windows caption cues into segments of a fixed number of
// cues. Its records use the chunk_-prefixed index schema.
type CaptionSegmenter struct {
	window  int
	overlap int
}

// NewCaptionSegmenter validates the window and returns a segmenter.
func NewCaptionSegmenter(window, overlap int) (*CaptionSegmenter, error) {
	if err := checkWindow("caption transcript", window, overlap); err != nil {
		return nil, err
	}
	return &CaptionSegmenter{window: window, overlap: overlap}, nil
}

func (s *CaptionSegmenter) Kind() models.ChunkKind { return models.ChunkCaption }

func (s *CaptionSegmenter) Segment(text string, meta models.ParentMetadata) []models.Chunk {
	cues := ParseCues(text)
	spans := windowSpans(len(cues), s.window, s.overlap)
	if len(spans) == 0 {
		return nil
	}

	timestamp := meta.TimestampOrNow()
	chunks := make([]models.Chunk, 0, len(spans))
	for i, sp := range spans {
		window := cues[sp[0]:sp[1]]
		lines := make([]string, len(window))
		var speakers []string
		seen := map[string]bool{}
		for j, cue := range window {
			lines[j] = cue.Line()
			if cue.Speaker != "" && !seen[cue.Speaker] {
				seen[cue.Speaker] = true
				speakers = append(speakers, cue.Speaker)
			}
		}

		c := newChunk(meta, timestamp, i, models.ChunkCaption, strings.Join(lines, "\n"))
		c.Caption = &models.CaptionStructure{
			StartTimeMs: window[0].StartMs,
			EndTimeMs:   window[len(window)-1].EndMs,
			Speaker:     strings.Join(speakers, ", "),
		}
		chunks = append(chunks, c)
	}
	return chunks
}
