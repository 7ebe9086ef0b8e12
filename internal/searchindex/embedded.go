package searchindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/agentoven/artifactchat/internal/odata"
	"github.com/agentoven/artifactchat/pkg/models"
	"github.com/rs/zerolog/log"
)

// DefaultMaxRecords is the default cap for the embedded index (50K per collection).
const DefaultMaxRecords = 50_000

// textFields are scored by the embedded index's term matcher.
var textFields = []string{
	"content", "summary", "fullSegment", "plainSegment", "fileName",
	models.CaptionFieldPrefix + "content", models.CaptionFieldPrefix + "fileName",
}

// EmbeddedIndex is an in-memory search index. Text relevance is a plain
// count of query terms; when a query vector is present, cosine similarity
// against the vector fields is added to the score. Filters are OData
// expressions evaluated with expr. Suitable for development and tests.
type EmbeddedIndex struct {
	mu         sync.RWMutex
	records    map[models.Collection]map[string]map[string]any
	schema     *models.SchemaConfig
	maxRecords int
	dimensions int
}

// EmbeddedOption configures the embedded index.
type EmbeddedOption func(*EmbeddedIndex)

// WithMaxRecords sets the per-collection record cap (default 50K).
func WithMaxRecords(max int) EmbeddedOption {
	return func(s *EmbeddedIndex) { s.maxRecords = max }
}

// WithDimensions sets the expected vector size. Zero accepts any size.
func WithDimensions(dims int) EmbeddedOption {
	return func(s *EmbeddedIndex) { s.dimensions = dims }
}

// NewEmbeddedIndex creates an in-memory search index.
func NewEmbeddedIndex(opts ...EmbeddedOption) *EmbeddedIndex {
	s := &EmbeddedIndex{
		records: map[models.Collection]map[string]map[string]any{
			models.CollectionDocuments: {},
			models.CollectionChunks:    {},
		},
		maxRecords: DefaultMaxRecords,
	}
	for _, opt := range opts {
		opt(s)
	}
	log.Info().Int("max_records", s.maxRecords).Msg("Embedded search index initialized")
	return s
}

func (s *EmbeddedIndex) Kind() string { return "embedded" }

// EnsureCollections records the schema; collections always exist.
func (s *EmbeddedIndex) EnsureCollections(_ context.Context, schema *models.SchemaConfig) error {
	s.mu.Lock()
	s.schema = schema
	s.mu.Unlock()
	return nil
}

// Upsert merges records into existing ones with the same key, mirroring
// merge-or-upload semantics.
func (s *EmbeddedIndex) Upsert(_ context.Context, collection models.Collection, records []map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll, ok := s.records[collection]
	if !ok {
		return fmt.Errorf("unknown collection %q", collection)
	}

	newCount := 0
	for _, rec := range records {
		id := RecordID(rec)
		if id == "" {
			return fmt.Errorf("record without id in %s", collection)
		}
		if _, exists := coll[id]; !exists {
			newCount++
		}
	}
	total := len(coll) + newCount
	if total > s.maxRecords {
		return fmt.Errorf("embedded search index capacity exceeded: %d > %d", total, s.maxRecords)
	}
	if total > int(float64(s.maxRecords)*0.9) {
		log.Warn().Int("count", total).Int("max", s.maxRecords).Msg("Embedded search index nearing capacity")
	}

	for _, rec := range records {
		id := RecordID(rec)
		merged := coll[id]
		if merged == nil {
			merged = make(map[string]any, len(rec))
		}
		for k, v := range rec {
			merged[k] = v
		}
		coll[id] = merged
	}
	return nil
}

func (s *EmbeddedIndex) Search(_ context.Context, collection models.Collection, q models.SearchQuery) (*models.SearchResults, error) {
	matcher, err := odata.NewMatcher(q.Filter)
	if err != nil {
		return nil, err
	}
	terms := queryTerms(q.Text)

	s.mu.RLock()
	defer s.mu.RUnlock()

	coll, ok := s.records[collection]
	if !ok {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}

	type scored struct {
		id     string
		record map[string]any
		score  float64
	}
	var candidates []scored

	for id, rec := range coll {
		if !matcher.Match(rec) {
			continue
		}
		score, hit := textScore(rec, terms)
		if len(q.Vector) > 0 {
			if sim, ok := s.vectorScore(rec, q); ok {
				score += sim
				hit = true
			}
		}
		if !hit {
			continue
		}
		candidates = append(candidates, scored{id: id, record: rec, score: score})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].id < candidates[j].id
	})

	top := q.Top
	if top <= 0 || top > len(candidates) {
		top = len(candidates)
	}

	out := &models.SearchResults{TotalCount: len(candidates), Records: make([]models.Record, top)}
	for i := 0; i < top; i++ {
		out.Records[i] = models.Record{Fields: project(candidates[i].record, q.Select), Score: candidates[i].score}
	}
	return out, nil
}

func (s *EmbeddedIndex) HealthCheck(_ context.Context) error {
	return nil
}

// Count returns the number of records in a collection.
func (s *EmbeddedIndex) Count(collection models.Collection) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records[collection])
}

func (s *EmbeddedIndex) vectorScore(rec map[string]any, q models.SearchQuery) (float64, bool) {
	fields := q.VectorFields
	if len(fields) == 0 {
		fields = []string{"contentVector", models.CaptionFieldPrefix + "contentVector"}
	}
	for _, f := range fields {
		v, ok := rec[f].([]float64)
		if !ok || len(v) != len(q.Vector) {
			continue
		}
		if s.dimensions > 0 && len(v) != s.dimensions {
			continue
		}
		return cosineSimilarity(q.Vector, v), true
	}
	return 0, false
}

// ── Helpers ─────────────────────────────────────────────────

// queryTerms returns nil for the match-all query "*".
func queryTerms(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" || text == "*" {
		return nil
	}
	return strings.Fields(strings.ToLower(text))
}

// textScore counts query term occurrences over the text fields. With no
// terms every record matches with score 1.
func textScore(rec map[string]any, terms []string) (float64, bool) {
	if len(terms) == 0 {
		return 1, true
	}
	var score float64
	for _, f := range textFields {
		v, _ := rec[f].(string)
		if v == "" {
			continue
		}
		lower := strings.ToLower(v)
		for _, t := range terms {
			score += float64(strings.Count(lower, t))
		}
	}
	return score, score > 0
}

func project(rec map[string]any, fields []string) map[string]any {
	if len(fields) == 0 {
		out := make(map[string]any, len(rec))
		for k, v := range rec {
			out[k] = v
		}
		return out
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := rec[f]; ok {
			out[f] = v
		}
	}
	return out
}

func cosineSimilarity(a, b []float64) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
