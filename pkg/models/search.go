package models

import "encoding/json"

// ── Retrieval ────────────────────────────────────────────────

// Collection names a logical search collection.
type Collection string

const (
	CollectionDocuments Collection = "documents"
	CollectionChunks    Collection = "chunks"
)

// ToolID is the explicit identifier of a retrieval tool exposed to the
// agent. Each tool targets one collection.
type ToolID string

const (
	ToolArtifact      ToolID = "artifact"
	ToolArtifactChunk ToolID = "artifactchunk"
)

// Collection returns the collection a tool queries.
func (t ToolID) Collection() Collection {
	if t == ToolArtifactChunk {
		return CollectionChunks
	}
	return CollectionDocuments
}

// MaxTopK caps the number of records a single retrieval may request.
const MaxTopK = 50

// DefaultTopK is used when a request does not specify topK.
const DefaultTopK = 5

// SearchRequest is the tool-level retrieval request.
type SearchRequest struct {
	SearchText        string `json:"searchText"`
	Filter            string `json:"filter,omitempty"`
	TopK              int    `json:"topK,omitempty"`
	SemanticRanking   bool   `json:"semanticRanking,omitempty"`
	QuestionRewriting bool   `json:"questionRewriting,omitempty"`
}

// Normalize applies defaults and caps.
func (r SearchRequest) Normalize() SearchRequest {
	if r.SearchText == "" {
		r.SearchText = "*"
	}
	if r.TopK <= 0 {
		r.TopK = DefaultTopK
	}
	if r.TopK > MaxTopK {
		r.TopK = MaxTopK
	}
	return r
}

// ToolPayload is the argument shape of both retrieval tools.
type ToolPayload struct {
	Payload SearchRequest `json:"payload"`
}

// SearchQuery is the driver-level query against one collection.
type SearchQuery struct {
	Text                  string
	Filter                string
	Top                   int
	Select                []string
	Semantic              bool
	SemanticConfiguration string
	Vector                []float64
	VectorFields          []string
}

// Record is one search hit.
type Record struct {
	Fields map[string]any
	Score  float64
}

// SearchResults is a page of hits plus the service-reported total.
type SearchResults struct {
	Records    []Record
	TotalCount int
}

// ResultRecord is a normalised answer record returned to the agent.
type ResultRecord map[string]any

// ResultSet is the value part of a result envelope.
type ResultSet struct {
	Results []ResultRecord `json:"results"`
	Count   int            `json:"count"`
}

// ResultEnvelope is the queue/tool payload carrying a result set.
type ResultEnvelope struct {
	Value         ResultSet `json:"Value"`
	CorrelationID string    `json:"CorrelationId"`
}

// ErrorEnvelope routes a failure back to the requester.
type ErrorEnvelope struct {
	Error         string `json:"error"`
	CorrelationID string `json:"CorrelationId"`
}

// ToolRequestEnvelope is an inbound queued tool request.
type ToolRequestEnvelope struct {
	Payload       json.RawMessage `json:"payload"`
	CorrelationID string          `json:"CorrelationId"`
}
