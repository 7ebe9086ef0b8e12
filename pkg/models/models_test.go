package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldValueDecode(t *testing.T) {
	raw := `{
		"vendor":  {"type":"string","valueString":"Contoso"},
		"total":   {"type":"number","valueNumber":1250.5},
		"count":   {"type":"integer","valueInteger":3},
		"paid":    {"type":"boolean","valueBoolean":false},
		"due":     {"type":"date","valueDate":"2024-05-01"},
		"note":    {"type":"string","content":"from content"},
		"items":   {"type":"array","valueArray":[{"type":"string","valueString":"a"},{"type":"string","valueString":"b"}]},
		"address": {"type":"object","valueObject":{"city":{"type":"string","valueString":"Oslo"}}}
	}`
	var fields map[string]FieldValue
	require.NoError(t, json.Unmarshal([]byte(raw), &fields))

	assert.Equal(t, "Contoso", fields["vendor"].Text())
	assert.Equal(t, "1250.5", fields["total"].Text())
	assert.Equal(t, "3", fields["count"].Text())
	assert.Equal(t, "false", fields["paid"].Text())
	assert.Equal(t, "2024-05-01", fields["due"].Text())
	assert.Equal(t, "from content", fields["note"].Text())

	assert.Equal(t, FieldArray, fields["items"].Kind)
	assert.Equal(t, []string{"a", "b"}, fields["items"].Flatten())
	assert.Equal(t, "a, b", fields["items"].Text())
	assert.Equal(t, map[string]any{"city": "Oslo"}, fields["address"].Flatten())
	assert.Equal(t, `{"city":"Oslo"}`, fields["address"].Text())
}

func TestFieldValueRejectsUnknownType(t *testing.T) {
	var f FieldValue
	err := json.Unmarshal([]byte(`{"type":"geo","valueString":"x"}`), &f)
	assert.ErrorContains(t, err, `unsupported field type "geo"`)
}

func TestDocumentFields(t *testing.T) {
	d := Document{
		ID:            "f1",
		FileName:      "a.pdf",
		Timestamp:     "2024-01-01T00:00:00Z",
		Content:       "body",
		ContentFields: map[string]any{"vendor": "Contoso", "id": "overridden"},
	}
	rec := d.Fields()
	assert.Equal(t, "f1", rec["id"])
	assert.Equal(t, DocTypeArtifact, rec["docType"])
	assert.Equal(t, "f1", rec["artifactId"])
	assert.Equal(t, "Contoso", rec["vendor"])
	assert.NotContains(t, rec, "summary")
	assert.NotContains(t, rec, "contentVector")
}

func TestChunkFields(t *testing.T) {
	base := Chunk{
		ID:               ChunkID("f1", 2),
		ParentDocumentID: "f1",
		Ordinal:          2,
		Content:          "text",
		FileName:         "call.vtt",
		Timestamp:        "2024-01-01T00:00:00Z",
		Passthrough:      map[string]any{"vendor": "Contoso"},
	}
	assert.Equal(t, "f1_chunk_2", base.ID)

	md := base
	md.Kind = ChunkMarkdown
	md.Markdown = &MarkdownStructure{Headers: map[string]string{"h1": "Intro"}}
	rec := md.Fields()
	assert.Equal(t, DocTypeChunk, rec["docType"])
	assert.Equal(t, "Contoso", rec["vendor"])
	assert.Equal(t, map[string]string{"h1": "Intro"}, rec["headers"])

	caption := base
	caption.Kind = ChunkCaption
	caption.Caption = &CaptionStructure{StartTimeMs: 1000, EndTimeMs: 4000, Speaker: "Ana"}
	rec = caption.Fields()
	assert.Equal(t, "f1_chunk_2", rec["chunk_id"])
	assert.Equal(t, "Contoso", rec["chunk_vendor"])
	assert.Equal(t, int64(1000), rec["chunk_startTimeMs"])
	assert.Equal(t, "Ana", rec["chunk_speaker"])
	assert.Equal(t, 2, rec["chunkNumber"])
	assert.NotContains(t, rec, "id")
}

func TestSearchRequestNormalize(t *testing.T) {
	tests := []struct {
		in   SearchRequest
		want SearchRequest
	}{
		{SearchRequest{}, SearchRequest{SearchText: "*", TopK: DefaultTopK}},
		{SearchRequest{SearchText: "q", TopK: 500}, SearchRequest{SearchText: "q", TopK: MaxTopK}},
		{SearchRequest{SearchText: "q", TopK: 7}, SearchRequest{SearchText: "q", TopK: 7}},
	}
	for _, tt := range tests {
		if got := tt.in.Normalize(); got != tt.want {
			t.Errorf("Normalize(%+v) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
	assert.Equal(t, CollectionChunks, ToolArtifactChunk.Collection())
	assert.Equal(t, CollectionDocuments, ToolArtifact.Collection())
}

func TestRunPendingToolCalls(t *testing.T) {
	var run Run
	require.NoError(t, json.Unmarshal([]byte(`{
		"id":"run_1","status":"requires_action",
		"required_action":{"type":"submit_tool_outputs","submit_tool_outputs":{"tool_calls":[
			{"id":"c1","type":"function","function":{"name":"Artifact","arguments":"{\"payload\":{}}"}},
			{"id":"c2","type":"azure_function","azure_function":{"name":"lookup","output_queue":"artifactchunk-output"}}
		]}}
	}`), &run))

	assert.True(t, run.Status.Active())
	calls := run.PendingToolCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "Artifact", calls[0].ToolName())
	assert.JSONEq(t, `{"payload":{}}`, string(calls[0].RawArguments()))
	assert.Equal(t, "lookup", calls[1].ToolName())
	assert.Equal(t, "artifactchunk-output", calls[1].OutputQueue())
	assert.JSONEq(t, `{}`, string(calls[1].RawArguments()))

	run.RequiredAction.Type = "other"
	assert.Nil(t, run.PendingToolCalls())
	assert.False(t, RunExpired.Active())
}
