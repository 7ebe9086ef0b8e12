// Package models holds the domain types shared by the ingestion pipeline,
// the retrieval gateway and the agent run orchestrator.
package models

import (
	"fmt"
	"time"
)

// ── Document & Chunk ─────────────────────────────────────────

// Document type discriminators stored in the docType field of every record.
const (
	DocTypeArtifact = "artifact"
	DocTypeChunk    = "chunk"
)

// CaptionFieldPrefix namespaces every field of a caption-dialect chunk so
// it cannot collide with artifact-level field names.
const CaptionFieldPrefix = "chunk_"

// Document is the artifact-level record created once per ingested file.
type Document struct {
	ID            string         `json:"id"`
	FileName      string         `json:"fileName"`
	DocType       string         `json:"docType"`
	Timestamp     string         `json:"timestamp"`
	Summary       string         `json:"summary,omitempty"`
	Content       string         `json:"content,omitempty"`
	ContentFields map[string]any `json:"contentFields,omitempty"`
	Vector        []float64      `json:"-"`
}

// Fields renders the document as a flat index record.
func (d Document) Fields() map[string]any {
	out := make(map[string]any, len(d.ContentFields)+7)
	for k, v := range d.ContentFields {
		out[k] = v
	}
	out["id"] = d.ID
	out["docType"] = DocTypeArtifact
	out["artifactId"] = d.ID
	out["fileName"] = d.FileName
	out["timestamp"] = d.Timestamp
	out["content"] = d.Content
	if d.Summary != "" {
		out["summary"] = d.Summary
	}
	if len(d.Vector) > 0 {
		out["contentVector"] = d.Vector
	}
	return out
}

// ChunkKind identifies which segmenter produced a chunk and therefore which
// structural metadata variant it carries.
type ChunkKind string

const (
	ChunkMarkdown  ChunkKind = "markdown"
	ChunkBracketed ChunkKind = "bracketed"
	ChunkCaption   ChunkKind = "caption"
)

// MarkdownStructure is the heading context in effect when a chunk was flushed.
// Keys are "h1".."h6".
type MarkdownStructure struct {
	Headers map[string]string `json:"headers"`
}

// BracketedStructure describes a window of "[HH:MM:SS] phrase" transcript lines.
type BracketedStructure struct {
	SegmentTimestamp string `json:"segmentTimestamp"`
	FullSegment      string `json:"fullSegment"`
	PlainSegment     string `json:"plainSegment"`
}

// CaptionStructure describes a window of caption cues.
type CaptionStructure struct {
	StartTimeMs int64  `json:"startTimeMs"`
	EndTimeMs   int64  `json:"endTimeMs"`
	Speaker     string `json:"speaker,omitempty"`
}

// Chunk is a retrievable fragment of a document. Exactly one of the
// structure pointers is set, selected by Kind.
type Chunk struct {
	ID               string         `json:"id"`
	ParentDocumentID string         `json:"parentDocumentId"`
	Ordinal          int            `json:"ordinal"`
	Content          string         `json:"content"`
	DocType          string         `json:"docType"`
	FileName         string         `json:"fileName"`
	Timestamp        string         `json:"timestamp"`
	Kind             ChunkKind      `json:"kind"`
	Passthrough      map[string]any `json:"passthrough,omitempty"`
	Vector           []float64      `json:"-"`

	Markdown  *MarkdownStructure  `json:"markdown,omitempty"`
	Bracketed *BracketedStructure `json:"bracketed,omitempty"`
	Caption   *CaptionStructure   `json:"caption,omitempty"`
}

// ChunkID derives the deterministic chunk identifier so that re-ingesting a
// document overwrites its chunks instead of duplicating them.
func ChunkID(parentID string, ordinal int) string {
	return fmt.Sprintf("%s_chunk_%d", parentID, ordinal)
}

// Fields renders the chunk as a flat index record. Markdown and bracketed
// chunks use unprefixed field names; caption chunks prefix every field with
// CaptionFieldPrefix.
func (c Chunk) Fields() map[string]any {
	if c.Kind == ChunkCaption {
		return c.captionFields()
	}

	out := make(map[string]any, len(c.Passthrough)+10)
	for k, v := range c.Passthrough {
		out[k] = v
	}
	out["id"] = c.ID
	out["content"] = c.Content
	out["docType"] = DocTypeChunk
	out["artifactId"] = c.ParentDocumentID
	out["fileName"] = c.FileName
	out["timestamp"] = c.Timestamp
	if len(c.Vector) > 0 {
		out["contentVector"] = c.Vector
	}

	switch {
	case c.Markdown != nil:
		headers := make(map[string]string, len(c.Markdown.Headers))
		for k, v := range c.Markdown.Headers {
			headers[k] = v
		}
		out["headers"] = headers
	case c.Bracketed != nil:
		out["segmentTimestamp"] = c.Bracketed.SegmentTimestamp
		out["fullSegment"] = c.Bracketed.FullSegment
		out["plainSegment"] = c.Bracketed.PlainSegment
	}
	return out
}

func (c Chunk) captionFields() map[string]any {
	p := CaptionFieldPrefix
	out := make(map[string]any, len(c.Passthrough)+11)
	for k, v := range c.Passthrough {
		out[p+k] = v
	}
	out[p+"id"] = c.ID
	out[p+"content"] = c.Content
	out[p+"docType"] = DocTypeChunk
	out[p+"artifactId"] = c.ParentDocumentID
	out[p+"fileName"] = c.FileName
	out[p+"timestamp"] = c.Timestamp
	out["chunkNumber"] = c.Ordinal
	if c.Caption != nil {
		out[p+"startTimeMs"] = c.Caption.StartTimeMs
		out[p+"endTimeMs"] = c.Caption.EndTimeMs
		out[p+"speaker"] = c.Caption.Speaker
	}
	if len(c.Vector) > 0 {
		out[p+"contentVector"] = c.Vector
	}
	return out
}

// ParentMetadata is what every segmenter needs to know about the document a
// chunk belongs to. Extra holds arbitrary passthrough fields.
type ParentMetadata struct {
	ParentDocumentID string
	FileName         string
	Timestamp        string
	Extra            map[string]any
}

// TimestampOrNow returns the parent timestamp, defaulting to the current UTC time.
func (m ParentMetadata) TimestampOrNow() string {
	if m.Timestamp != "" {
		return m.Timestamp
	}
	return time.Now().UTC().Format(time.RFC3339)
}

// ── Ingestion ────────────────────────────────────────────────

// IngestResult summarises one ingestion run.
type IngestResult struct {
	DocumentID string        `json:"documentId"`
	FileName   string        `json:"fileName"`
	Segmenter  ChunkKind     `json:"segmenter"`
	Chunks     int           `json:"chunks"`
	Elapsed    time.Duration `json:"elapsedNs"`
}

// IngestJob is the ingestion queue message naming a stored file.
type IngestJob struct {
	BlobName string `json:"blobName"`
}

// UploadResult is returned by the file upload endpoint.
type UploadResult struct {
	FileID       string `json:"fileId"`
	OriginalName string `json:"originalName"`
	BlobName     string `json:"blobName"`
}
