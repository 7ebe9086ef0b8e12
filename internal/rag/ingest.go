package rag

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/agentoven/artifactchat/internal/clock"
	"github.com/agentoven/artifactchat/internal/store"
	"github.com/agentoven/artifactchat/internal/telemetry"
	"github.com/agentoven/artifactchat/pkg/contracts"
	"github.com/agentoven/artifactchat/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// ErrBlobName is returned for blob names not shaped "{fileId}_{originalName}".
var ErrBlobName = errors.New("blob name must be {fileId}_{originalName}")

// MetadataTranscriptFormat is the blob metadata key naming the transcript
// dialect of an uploaded recording.
const MetadataTranscriptFormat = "transcriptFormat"

var audioTypes = map[string]bool{"wav": true, "mp3": true, "ogg": true, "m4a": true, "mp4": true}

// Blob is one stored file handed to the pipeline.
type Blob struct {
	Name     string
	Data     []byte
	Metadata map[string]string
}

// ParseBlobName splits "{fileId}_{originalName}" and returns the lower-cased
// extension as the file type. Any directory prefix is ignored.
func ParseBlobName(name string) (fileID, originalName, fileType string, err error) {
	base := path.Base(name)
	fileID, originalName, ok := strings.Cut(base, "_")
	if !ok || fileID == "" || originalName == "" {
		return "", "", "", fmt.Errorf("%w: %q", ErrBlobName, name)
	}
	if i := strings.LastIndex(originalName, "."); i >= 0 {
		fileType = strings.ToLower(originalName[i+1:])
	}
	return fileID, originalName, fileType, nil
}

// Ingester handles document ingestion: analyse → segment → embed → upsert.
type Ingester struct {
	schemas    *store.SchemaStore
	analyzer   contracts.Analyzer
	index      contracts.SearchIndex
	segmenters *Segmenters
	embeddings contracts.EmbeddingDriver
	clock      clock.Clock
}

// IngesterOption configures the ingester.
type IngesterOption func(*Ingester)

// WithEmbeddings fills the contentVector fields with the given driver.
func WithEmbeddings(d contracts.EmbeddingDriver) IngesterOption {
	return func(ing *Ingester) { ing.embeddings = d }
}

// WithIngestClock replaces the clock used for timestamps.
func WithIngestClock(c clock.Clock) IngesterOption {
	return func(ing *Ingester) { ing.clock = c }
}

// NewIngester creates a document ingester.
func NewIngester(schemas *store.SchemaStore, analyzer contracts.Analyzer, index contracts.SearchIndex, segmenters *Segmenters, opts ...IngesterOption) *Ingester {
	ing := &Ingester{
		schemas:    schemas,
		analyzer:   analyzer,
		index:      index,
		segmenters: segmenters,
		clock:      clock.Real{},
	}
	for _, opt := range opts {
		opt(ing)
	}
	return ing
}

// Ingest processes one stored file into a document record and its chunks.
// Chunk ids derive from the file id, so re-ingesting the same blob
// overwrites the previous records.
func (ing *Ingester) Ingest(ctx context.Context, blob Blob) (*models.IngestResult, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "rag.ingest")
	defer span.End()

	start := ing.clock.Now()
	fileID, fileName, fileType, err := ParseBlobName(blob.Name)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("file.id", fileID), attribute.String("file.type", fileType))

	schema, err := ing.schemas.LoadOrDefault(ctx)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	result, err := ing.analyzer.Analyze(ctx, schema.AnalyzerID(), blob.Data)
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", fileName, err)
	}
	item := result.First()

	fields := declaredFields(schema, item.Fields, blob.Metadata)
	timestamp := start.UTC().Format(time.RFC3339)

	doc := models.Document{
		ID:            fileID,
		FileName:      fileName,
		DocType:       models.DocTypeArtifact,
		Timestamp:     timestamp,
		Summary:       item.Fields["summary"].Text(),
		ContentFields: fields,
	}
	doc.Content = doc.Summary
	if doc.Content == "" {
		doc.Content = item.Markdown
	}

	seg, text := ing.choose(fileType, blob, result)
	meta := models.ParentMetadata{
		ParentDocumentID: fileID,
		FileName:         fileName,
		Timestamp:        timestamp,
		Extra:            fields,
	}
	chunks := seg.Segment(text, meta)

	log.Info().
		Str("file_id", fileID).
		Str("segmenter", string(seg.Kind())).
		Int("chunks", len(chunks)).
		Msg("Segmentation complete")

	if ing.embeddings != nil {
		if err := ing.embed(ctx, &doc, chunks); err != nil {
			return nil, err
		}
	}

	if err := ing.index.Upsert(ctx, models.CollectionDocuments, []map[string]any{doc.Fields()}); err != nil {
		return nil, fmt.Errorf("upsert document %s: %w", fileID, err)
	}
	if len(chunks) > 0 {
		records := make([]map[string]any, len(chunks))
		for i, c := range chunks {
			records[i] = c.Fields()
		}
		if err := ing.index.Upsert(ctx, models.CollectionChunks, records); err != nil {
			return nil, fmt.Errorf("upsert chunks %s: %w", fileID, err)
		}
	}

	elapsed := ing.clock.Now().Sub(start)
	span.SetAttributes(attribute.Int("chunks", len(chunks)))
	log.Info().
		Str("file_id", fileID).
		Str("file_name", fileName).
		Int("chunks_created", len(chunks)).
		Dur("elapsed", elapsed).
		Msg("Ingestion complete")

	return &models.IngestResult{
		DocumentID: fileID,
		FileName:   fileName,
		Segmenter:  seg.Kind(),
		Chunks:     len(chunks),
		Elapsed:    elapsed,
	}, nil
}

// choose picks the segmenter and the text it runs over. Markdown files are
// segmented from their raw bytes; recordings from the analysed transcript in
// the dialect named by the uploader; everything else from the analysed
// markdown.
func (ing *Ingester) choose(fileType string, blob Blob, result *models.AnalysisResult) (Segmenter, string) {
	switch {
	case fileType == "md" || fileType == "markdown":
		return ing.segmenters.Markdown, string(blob.Data)
	case audioTypes[fileType]:
		transcript := result.First().Markdown
		for _, c := range result.Contents {
			if c.Kind == models.ContentAudioVisual {
				transcript = c.Markdown
				break
			}
		}
		return ing.segmenters.Transcript(Dialect(metadataValue(blob.Metadata, MetadataTranscriptFormat))), transcript
	default:
		return ing.segmenters.Markdown, result.First().Markdown
	}
}

func (ing *Ingester) embed(ctx context.Context, doc *models.Document, chunks []models.Chunk) error {
	texts := make([]string, 0, len(chunks)+1)
	texts = append(texts, doc.Content)
	for _, c := range chunks {
		texts = append(texts, c.Content)
	}

	batchSize := max(ing.embeddings.MaxBatchSize(), 1)
	vectors := make([][]float64, 0, len(texts))
	for i := 0; i < len(texts); i += batchSize {
		end := min(i+batchSize, len(texts))
		batch, err := ing.embeddings.Embed(ctx, texts[i:end])
		if err != nil {
			return fmt.Errorf("embed batch %d-%d: %w", i, end, err)
		}
		if len(batch) != end-i {
			return fmt.Errorf("embed batch %d-%d: got %d vectors", i, end, len(batch))
		}
		vectors = append(vectors, batch...)
	}

	doc.Vector = vectors[0]
	for i := range chunks {
		chunks[i].Vector = vectors[i+1]
	}
	log.Debug().Int("vectors", len(vectors)).Str("provider", ing.embeddings.Kind()).Msg("Embedding complete")
	return nil
}

// declaredFields keeps the schema-declared fields, taken from the analysis
// result first and from blob metadata second. Declared tables are flattened
// into one {field}_{sub} value per sub-field.
func declaredFields(schema *models.SchemaConfig, analysed map[string]models.FieldValue, metadata map[string]string) map[string]any {
	out := map[string]any{}
	for _, def := range schema.Fields {
		v, ok := analysed[def.Name]
		if !ok {
			if s := metadataValue(metadata, def.Name); s != "" {
				out[def.Name] = s
			}
			continue
		}
		switch {
		case def.Type == "table":
			for _, sub := range def.Fields {
				out[def.Name+"_"+sub.Name] = tableColumn(v, sub.Name)
			}
		case def.Type == "array":
			out[def.Name] = v.Flatten()
		default:
			out[def.Name] = v.Text()
		}
	}
	return out
}

// tableColumn joins one column of a table value. A table is an array of
// row objects, or a single object.
func tableColumn(v models.FieldValue, column string) string {
	switch v.Kind {
	case models.FieldObject:
		return v.Object[column].Text()
	case models.FieldArray:
		var cells []string
		for _, row := range v.Array {
			if row.Kind != models.FieldObject {
				continue
			}
			if cell := row.Object[column].Text(); cell != "" {
				cells = append(cells, cell)
			}
		}
		return strings.Join(cells, ", ")
	}
	return v.Text()
}

// metadataValue looks a key up case-insensitively; object stores lower-case
// user metadata keys.
func metadataValue(metadata map[string]string, key string) string {
	if v, ok := metadata[key]; ok {
		return v
	}
	for k, v := range metadata {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
