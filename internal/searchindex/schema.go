package searchindex

import (
	"github.com/agentoven/artifactchat/pkg/models"
)

// Edm types used by the index schemas.
const (
	TypeString         = "Edm.String"
	TypeStringList     = "Collection(Edm.String)"
	TypeDateTimeOffset = "Edm.DateTimeOffset"
	TypeInt32          = "Edm.Int32"
	TypeInt64          = "Edm.Int64"
	TypeVector         = "Collection(Edm.Single)"
	TypeComplex        = "Edm.ComplexType"
)

// Semantic configuration names, one per collection.
const (
	SemanticDocuments = "artifact-semantic"
	SemanticChunks    = "chunk-semantic"
)

// VectorProfile is the HNSW profile every vector field uses.
const VectorProfile = "myHnswProfile"

// Field is one index field definition.
type Field struct {
	Name                string  `json:"name"`
	Type                string  `json:"type"`
	Key                 bool    `json:"key,omitempty"`
	Searchable          bool    `json:"searchable"`
	Filterable          bool    `json:"filterable"`
	Sortable            bool    `json:"sortable,omitempty"`
	Facetable           bool    `json:"facetable,omitempty"`
	Analyzer            string  `json:"analyzer,omitempty"`
	Dimensions          int     `json:"dimensions,omitempty"`
	VectorSearchProfile string  `json:"vectorSearchProfile,omitempty"`
	Fields              []Field `json:"fields,omitempty"`
}

// Schema describes one collection.
type Schema struct {
	Name           string
	Fields         []Field
	Semantic       string
	SemanticFields []string
	VectorFields   []string
}

// Names maps collections to physical index names.
type Names struct {
	Documents string
	Chunks    string
}

// Of returns the index name for a collection.
func (n Names) Of(c models.Collection) string {
	if c == models.CollectionChunks {
		return n.Chunks
	}
	return n.Documents
}

// BuildSchemas builds the document and chunk collection schemas. Both carry
// the base fields plus the user-declared fields. The chunk collection holds
// every segmenter variant, so it has the unprefixed fields of markdown and
// bracketed chunks and the chunk_-prefixed fields of caption chunks.
func BuildSchemas(names Names, schema *models.SchemaConfig, dims int) (docs, chunks Schema) {
	var user []models.FieldDefinition
	if schema != nil {
		user = schema.Fields
	}

	docFields := baseFields("", true, dims)
	docFields = append(docFields, Field{Name: "artifactId", Type: TypeString, Filterable: true})
	docFields = append(docFields, Field{Name: "summary", Type: TypeString, Searchable: true})
	docFields = append(docFields, userFields("", user)...)
	docs = Schema{
		Name:           names.Documents,
		Fields:         dedupe(docFields),
		Semantic:       SemanticDocuments,
		SemanticFields: []string{"content", "summary"},
		VectorFields:   []string{"contentVector"},
	}

	p := models.CaptionFieldPrefix
	chunkFields := baseFields("", true, dims)
	chunkFields = append(chunkFields,
		Field{Name: "artifactId", Type: TypeString, Filterable: true},
		Field{Name: "headers", Type: TypeComplex, Fields: headerFields()},
		Field{Name: "segmentTimestamp", Type: TypeString, Filterable: true, Sortable: true},
		Field{Name: "fullSegment", Type: TypeString, Searchable: true},
		Field{Name: "plainSegment", Type: TypeString, Searchable: true},
	)
	chunkFields = append(chunkFields, baseFields(p, false, dims)...)
	chunkFields = append(chunkFields,
		Field{Name: p + "artifactId", Type: TypeString, Filterable: true},
		Field{Name: p + "startTimeMs", Type: TypeInt64, Filterable: true, Sortable: true},
		Field{Name: p + "endTimeMs", Type: TypeInt64, Filterable: true, Sortable: true},
		Field{Name: p + "speaker", Type: TypeString, Filterable: true, Facetable: true},
		Field{Name: "chunkNumber", Type: TypeInt32, Filterable: true, Sortable: true},
	)
	chunkFields = append(chunkFields, userFields("", user)...)
	chunkFields = append(chunkFields, userFields(p, user)...)
	chunks = Schema{
		Name:           names.Chunks,
		Fields:         dedupe(chunkFields),
		Semantic:       SemanticChunks,
		SemanticFields: []string{"content", p + "content"},
		VectorFields:   []string{"contentVector", p + "contentVector"},
	}
	return docs, chunks
}

func baseFields(prefix string, key bool, dims int) []Field {
	return []Field{
		{Name: prefix + "id", Type: TypeString, Key: key, Filterable: true},
		{Name: prefix + "content", Type: TypeString, Searchable: true, Analyzer: "standard.lucene"},
		{Name: prefix + "docType", Type: TypeString, Filterable: true},
		{Name: prefix + "timestamp", Type: TypeDateTimeOffset, Filterable: true, Sortable: true},
		{Name: prefix + "fileName", Type: TypeString, Filterable: true},
		{Name: prefix + "contentVector", Type: TypeVector, Searchable: true, Dimensions: dims, VectorSearchProfile: VectorProfile},
	}
}

func headerFields() []Field {
	out := make([]Field, 0, 6)
	for _, h := range []string{"h1", "h2", "h3", "h4", "h5", "h6"} {
		out = append(out, Field{Name: h, Type: TypeString, Searchable: true, Filterable: true})
	}
	return out
}

// userFields maps declared fields: string -> filterable string, array ->
// string collection, table -> one {field}_{sub} string per sub-field. Other
// declared types are stored as strings.
func userFields(prefix string, defs []models.FieldDefinition) []Field {
	var out []Field
	for _, d := range defs {
		switch d.Type {
		case "array":
			out = append(out, Field{Name: prefix + d.Name, Type: TypeStringList, Filterable: true, Facetable: true})
		case "table":
			for _, sub := range d.Fields {
				out = append(out, Field{Name: prefix + d.Name + "_" + sub.Name, Type: TypeString, Filterable: true})
			}
		default:
			out = append(out, Field{Name: prefix + d.Name, Type: TypeString, Filterable: true, Facetable: true})
		}
	}
	return out
}

// dedupe keeps the first definition of each field name, so user fields
// cannot redefine base fields.
func dedupe(fields []Field) []Field {
	seen := make(map[string]bool, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if seen[f.Name] {
			continue
		}
		seen[f.Name] = true
		out = append(out, f)
	}
	return out
}

// RecordID returns a record's key: "id", or "chunk_id" for caption chunks.
func RecordID(record map[string]any) string {
	if id, ok := record["id"].(string); ok && id != "" {
		return id
	}
	id, _ := record[models.CaptionFieldPrefix+"id"].(string)
	return id
}

// ContentOf returns the record's main text content.
func ContentOf(record map[string]any) string {
	if c, ok := record["content"].(string); ok && c != "" {
		return c
	}
	c, _ := record[models.CaptionFieldPrefix+"content"].(string)
	return c
}
