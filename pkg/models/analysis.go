package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ── Document Analysis ────────────────────────────────────────

// AnalysisStatus is the status reported by the external analysis service.
// Transitions are driven only by the service.
type AnalysisStatus string

const (
	AnalysisNotStarted AnalysisStatus = "NotStarted"
	AnalysisRunning    AnalysisStatus = "Running"
	AnalysisSucceeded  AnalysisStatus = "Succeeded"
	AnalysisFailed     AnalysisStatus = "Failed"
	AnalysisCanceled   AnalysisStatus = "Canceled"
)

// ParseAnalysisStatus normalises the service's status string, which is not
// consistently cased across API versions.
func ParseAnalysisStatus(s string) AnalysisStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "notstarted":
		return AnalysisNotStarted
	case "running":
		return AnalysisRunning
	case "succeeded":
		return AnalysisSucceeded
	case "failed":
		return AnalysisFailed
	case "canceled", "cancelled":
		return AnalysisCanceled
	}
	return AnalysisStatus(s)
}

// Terminal reports whether the status ends the poll loop.
func (s AnalysisStatus) Terminal() bool {
	return s == AnalysisSucceeded || s == AnalysisFailed || s == AnalysisCanceled
}

// ContentKind discriminates analysed content items.
type ContentKind string

const (
	ContentDocument    ContentKind = "document"
	ContentAudioVisual ContentKind = "audioVisual"
)

// AnalysisResult is the normalised outcome of an analysis operation.
type AnalysisResult struct {
	Status   AnalysisStatus `json:"status"`
	Contents []ContentItem  `json:"contents"`
	Error    *ServiceError  `json:"error,omitempty"`
}

// ServiceError is an error reported by an external service in its payload.
type ServiceError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *ServiceError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// ContentItem is one analysed unit (a document or an audio/video recording).
type ContentItem struct {
	Kind     ContentKind           `json:"kind"`
	Markdown string                `json:"markdown"`
	Fields   map[string]FieldValue `json:"fields,omitempty"`
}

// First returns the first content item, or an empty one.
func (r *AnalysisResult) First() ContentItem {
	if r == nil || len(r.Contents) == 0 {
		return ContentItem{}
	}
	return r.Contents[0]
}

// ── Field Values ─────────────────────────────────────────────

// FieldKind is the explicit discriminator of a FieldValue.
type FieldKind string

const (
	FieldString FieldKind = "string"
	FieldArray  FieldKind = "array"
	FieldObject FieldKind = "object"
)

// FieldValue is a tagged variant: String, Array of values, or a nested
// Object. Scalar service types (number, integer, date, time, boolean) are
// carried as FieldString.
type FieldValue struct {
	Kind   FieldKind
	String string
	Array  []FieldValue
	Object map[string]FieldValue
}

// StringField builds a string-kind value.
func StringField(s string) FieldValue { return FieldValue{Kind: FieldString, String: s} }

// wireField mirrors the analysis service encoding, where the "type" member
// names which value* member is populated.
type wireField struct {
	Type         string                `json:"type"`
	ValueString  *string               `json:"valueString,omitempty"`
	ValueNumber  *float64              `json:"valueNumber,omitempty"`
	ValueInteger *int64                `json:"valueInteger,omitempty"`
	ValueBoolean *bool                 `json:"valueBoolean,omitempty"`
	ValueDate    *string               `json:"valueDate,omitempty"`
	ValueTime    *string               `json:"valueTime,omitempty"`
	ValueArray   []FieldValue          `json:"valueArray,omitempty"`
	ValueObject  map[string]FieldValue `json:"valueObject,omitempty"`
	Content      string                `json:"content,omitempty"`
}

// UnmarshalJSON resolves the variant from the service's "type" member.
func (f *FieldValue) UnmarshalJSON(data []byte) error {
	var w wireField
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode field value: %w", err)
	}

	switch strings.ToLower(w.Type) {
	case "array":
		*f = FieldValue{Kind: FieldArray, Array: w.ValueArray}
	case "object":
		*f = FieldValue{Kind: FieldObject, Object: w.ValueObject}
	case "string", "":
		s := w.Content
		if w.ValueString != nil {
			s = *w.ValueString
		}
		*f = StringField(s)
	case "number":
		*f = StringField(optional(w.ValueNumber, func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }, w.Content))
	case "integer":
		*f = StringField(optional(w.ValueInteger, func(v int64) string { return strconv.FormatInt(v, 10) }, w.Content))
	case "boolean":
		*f = StringField(optional(w.ValueBoolean, strconv.FormatBool, w.Content))
	case "date":
		*f = StringField(optional(w.ValueDate, func(v string) string { return v }, w.Content))
	case "time":
		*f = StringField(optional(w.ValueTime, func(v string) string { return v }, w.Content))
	default:
		return fmt.Errorf("unsupported field type %q", w.Type)
	}
	return nil
}

// MarshalJSON writes the value back in the service encoding.
func (f FieldValue) MarshalJSON() ([]byte, error) {
	switch f.Kind {
	case FieldArray:
		return json.Marshal(wireField{Type: "array", ValueArray: f.Array})
	case FieldObject:
		return json.Marshal(wireField{Type: "object", ValueObject: f.Object})
	default:
		s := f.String
		return json.Marshal(wireField{Type: "string", ValueString: &s})
	}
}

// Flatten converts the value to what an index record stores: a string,
// a []string, or a map of flattened sub-values.
func (f FieldValue) Flatten() any {
	switch f.Kind {
	case FieldArray:
		out := make([]string, 0, len(f.Array))
		for _, item := range f.Array {
			out = append(out, item.Text())
		}
		return out
	case FieldObject:
		out := make(map[string]any, len(f.Object))
		for k, v := range f.Object {
			out[k] = v.Flatten()
		}
		return out
	default:
		return f.String
	}
}

// Text renders the value as a single string.
func (f FieldValue) Text() string {
	switch f.Kind {
	case FieldArray:
		parts := make([]string, 0, len(f.Array))
		for _, item := range f.Array {
			parts = append(parts, item.Text())
		}
		return strings.Join(parts, ", ")
	case FieldObject:
		b, _ := json.Marshal(f.Flatten())
		return string(b)
	default:
		return f.String
	}
}

func optional[T any](v *T, format func(T) string, fallback string) string {
	if v == nil {
		return fallback
	}
	return format(*v)
}
