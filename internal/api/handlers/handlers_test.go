package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/artifactchat/internal/analysis"
	"github.com/agentoven/artifactchat/internal/api"
	"github.com/agentoven/artifactchat/internal/api/handlers"
	"github.com/agentoven/artifactchat/internal/assistants"
	"github.com/agentoven/artifactchat/internal/clock"
	"github.com/agentoven/artifactchat/internal/config"
	"github.com/agentoven/artifactchat/internal/executor"
	"github.com/agentoven/artifactchat/internal/objectstore"
	"github.com/agentoven/artifactchat/internal/queue"
	"github.com/agentoven/artifactchat/internal/searchindex"
	"github.com/agentoven/artifactchat/internal/store"
	"github.com/agentoven/artifactchat/pkg/models"
)

// fakeRuntime completes every run immediately unless stall is set.
type fakeRuntime struct {
	mu         sync.Mutex
	stall      bool
	assistants []models.Assistant
	messages   map[string][]models.Message
	cancels    int
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{messages: map[string][]models.Message{"thread_1": nil}}
}

func (f *fakeRuntime) CreateThread(context.Context) (*models.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages["thread_new"] = nil
	return &models.Thread{ID: "thread_new"}, nil
}

func (f *fakeRuntime) GetThread(_ context.Context, id string) (*models.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.messages[id]; !ok {
		return nil, &assistants.APIError{StatusCode: http.StatusNotFound, Message: "no thread"}
	}
	return &models.Thread{ID: id}, nil
}

func (f *fakeRuntime) setAssistants(a ...models.Assistant) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assistants = a
}

func (f *fakeRuntime) setStall() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stall = true
}

func (f *fakeRuntime) setMessages(threadID string, msgs ...models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[threadID] = msgs
}

func textMessage(role models.MessageRole, text string, created int64) models.Message {
	return models.Message{
		ID:        "msg",
		Role:      role,
		CreatedAt: created,
		Content:   []models.MessagePart{{Type: "text", Text: &models.TextPart{Value: text}}},
	}
}

func (f *fakeRuntime) CreateMessage(_ context.Context, threadID string, role models.MessageRole, content string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := textMessage(role, content, 1700000000)
	f.messages[threadID] = append([]models.Message{m}, f.messages[threadID]...)
	return &m, nil
}

func (f *fakeRuntime) ListMessages(_ context.Context, threadID string) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs, ok := f.messages[threadID]
	if !ok {
		return nil, &assistants.APIError{StatusCode: http.StatusNotFound, Message: "no thread"}
	}
	return msgs, nil
}

func (f *fakeRuntime) CreateRun(_ context.Context, threadID, assistantID string) (*models.Run, error) {
	f.mu.Lock()
	stall := f.stall
	f.mu.Unlock()
	if stall {
		return &models.Run{ID: "run_1", ThreadID: threadID, Status: models.RunInProgress}, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	reply := textMessage(models.RoleAssistant, "answer from "+assistantID, 1700000100)
	f.messages[threadID] = append([]models.Message{reply}, f.messages[threadID]...)
	return &models.Run{ID: "run_1", ThreadID: threadID, Status: models.RunCompleted}, nil
}

func (f *fakeRuntime) GetRun(_ context.Context, threadID, runID string) (*models.Run, error) {
	return &models.Run{ID: runID, ThreadID: threadID, Status: models.RunInProgress}, nil
}

func (f *fakeRuntime) CancelRun(_ context.Context, threadID, runID string) (*models.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	return &models.Run{ID: runID, ThreadID: threadID, Status: models.RunCancelling}, nil
}

func (f *fakeRuntime) SubmitToolOutputs(_ context.Context, threadID, runID string, _ []models.ToolOutput) (*models.Run, error) {
	return &models.Run{ID: runID, ThreadID: threadID, Status: models.RunInProgress}, nil
}

func (f *fakeRuntime) ListAssistants(context.Context) ([]models.Assistant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Assistant(nil), f.assistants...), nil
}

func (f *fakeRuntime) CreateAssistant(_ context.Context, a *models.Assistant) (*models.Assistant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	created := *a
	created.ID = "asst_" + a.Name
	f.assistants = append(f.assistants, created)
	return &created, nil
}

func (f *fakeRuntime) UpdateAssistant(_ context.Context, a *models.Assistant) (*models.Assistant, error) {
	return a, nil
}

type existingAnalyzer struct{}

func (existingAnalyzer) CreateOrUpdateAnalyzer(context.Context, *models.SchemaConfig) error {
	return analysis.ErrAnalyzerExists
}

type stubRetriever struct {
	mu  sync.Mutex
	got []models.SearchRequest
}

func (s *stubRetriever) Query(_ context.Context, tool models.ToolID, req models.SearchRequest) (*models.ResultSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, req)
	return &models.ResultSet{Results: []models.ResultRecord{{"id": string(tool) + "-1"}}, Count: 1}, nil
}

type testEnv struct {
	server    *httptest.Server
	objects   *objectstore.MemoryStore
	queue     *queue.MemoryQueue
	runtime   *fakeRuntime
	retriever *stubRetriever
	handlers  *handlers.Handlers
}

func newTestEnv(t *testing.T, mutate func(*config.Config, *handlers.Handlers)) *testEnv {
	t.Helper()
	cfg := config.Default()
	objects := objectstore.NewMemoryStore()
	q := queue.NewMemoryQueue()
	rt := newFakeRuntime()
	packer, err := queue.NewPacker(cfg.Packing)
	require.NoError(t, err)
	retriever := &stubRetriever{}
	index := searchindex.NewEmbeddedIndex()
	indexes := searchindex.NewRegistry()
	indexes.Register("search", index)

	h := &handlers.Handlers{
		Objects:     objects,
		Schemas:     store.NewSchemaStore(objects, cfg.Storage.ConfigKey),
		Index:       index,
		Indexes:     indexes,
		Runtime:     rt,
		Turns:       executor.New(rt, cfg.Agent, executor.WithClock(clock.NewFake(time.Unix(1700000000, 0)))),
		Retriever:   retriever,
		Packer:      packer,
		Queue:       q,
		FilesPrefix: cfg.Storage.FilesPrefix,
		IngestQueue: cfg.Queue.IngestionQueue,
		AgentModel:  cfg.Agent.Model,
	}
	if mutate != nil {
		mutate(cfg, h)
	}
	srv := httptest.NewServer(api.NewRouter(cfg, h))
	t.Cleanup(srv.Close)
	return &testEnv{server: srv, objects: objects, queue: q, runtime: rt, retriever: retriever, handlers: h}
}

func (e *testEnv) postJSON(t *testing.T, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(e.server.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (e *testEnv) upload(t *testing.T, name, content string, fields map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if name != "" {
		fw, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		fw.Write([]byte(content))
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	resp, err := http.Post(e.server.URL+"/api/upload", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

// ── Files ───────────────────────────────────────────────────

func TestUploadStoresBlobAndQueuesIngestion(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	resp, out := env.upload(t, "report.json", `{"a":1}`, map[string]string{
		"metadata":         `{"department":"finance","pages":3}`,
		"transcriptFormat": "caption",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	fileID, _ := out["fileId"].(string)
	require.NotEmpty(t, fileID)
	assert.Equal(t, "report.json", out["originalName"])
	assert.Equal(t, fileID+"_report.json", out["blobName"])

	data, meta, err := env.objects.Get(ctx, "files/"+fileID+"_report.json")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))
	assert.Equal(t, fileID, meta["artifactid"])
	assert.Equal(t, "report.json", meta["filename"])
	assert.Equal(t, "finance", meta["department"])
	assert.Equal(t, "3", meta["pages"])
	assert.Equal(t, "caption", meta["transcriptformat"])

	msg, err := env.queue.Pop(ctx, "ingestion")
	require.NoError(t, err)
	var job models.IngestJob
	require.NoError(t, json.Unmarshal(msg.Body, &job))
	assert.Equal(t, "files/"+fileID+"_report.json", job.BlobName)
}

func TestUploadRejects(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, out := env.upload(t, "", "", map[string]string{"metadata": "{}"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "No file attached.", out["error"])

	resp, _ = env.upload(t, "a.pdf", "x", map[string]string{"metadata": "[1,2]"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 0, env.queue.Len("ingestion"))
}

func TestGetFile(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	require.NoError(t, env.objects.Put(ctx, "files/abc_report.json", []byte(`{}`), "application/json",
		map[string]string{"fileName": "report.json"}))
	require.NoError(t, env.objects.Put(ctx, "files/abc_blob.zzq", []byte("raw"), "", nil))

	resp, err := http.Get(env.server.URL + "/api/files/abc_report.json")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "inline; filename=report.json", resp.Header.Get("Content-Disposition"))

	resp, err = http.Get(env.server.URL + "/api/files/abc_blob.zzq")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "inline; filename=abc_blob.zzq", resp.Header.Get("Content-Disposition"))

	resp, err = http.Get(env.server.URL + "/api/files/missing.pdf")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// ── Chat ────────────────────────────────────────────────────

func TestChatWithoutThreadCreatesOne(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, out := env.postJSON(t, "/api/chat", `{"prompt":"hello"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"threadId": "thread_new"}, out)

	resp, out = env.postJSON(t, "/api/threads", `{}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "thread_new", out["threadId"])
}

func TestChatTurn(t *testing.T) {
	env := newTestEnv(t, nil)
	env.runtime.setAssistants(models.Assistant{ID: "asst_other", Name: "other"}, models.Assistant{ID: "asst_custom", Name: "customAnalyzer"})

	resp, out := env.postJSON(t, "/api/chat", `{"prompt":"what invoices?","threadId":"thread_1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "assistant", out["role"])
	assert.Equal(t, "answer from asst_custom", out["content"])
	assert.Equal(t, "thread_1", out["threadId"])
	assert.Equal(t, "2023-11-14T22:15:00Z", out["timestamp"])

	resp, out = env.postJSON(t, "/api/chat", `{"threadId":"thread_1"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Missing prompt", out["error"])

	resp, _ = env.postJSON(t, "/api/chat", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChatTimeout(t *testing.T) {
	env := newTestEnv(t, nil)
	env.runtime.setAssistants(models.Assistant{ID: "asst_1", Name: "customAnalyzer"})
	env.runtime.setStall()

	resp, out := env.postJSON(t, "/api/chat", `{"prompt":"slow","threadId":"thread_1"}`)
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
	assert.Contains(t, out["error"], "timed out")
	assert.NotEmpty(t, out["CorrelationId"])
	env.runtime.mu.Lock()
	assert.Equal(t, 1, env.runtime.cancels)
	env.runtime.mu.Unlock()
}

func TestChatWithoutAgents(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, _ := env.postJSON(t, "/api/chat", `{"prompt":"hi","threadId":"thread_1"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestChatUnconfigured(t *testing.T) {
	env := newTestEnv(t, func(_ *config.Config, h *handlers.Handlers) {
		h.Turns = nil
		h.Runtime = nil
	})

	resp, _ := env.postJSON(t, "/api/chat", `{"prompt":"hi"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHistory(t *testing.T) {
	env := newTestEnv(t, nil)
	env.runtime.setMessages("thread_1",
		textMessage(models.RoleAssistant, "second", 1700000100),
		textMessage(models.RoleUser, "first", 1700000000),
	)

	resp, err := http.Get(env.server.URL + "/api/threads/thread_1/messages")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Messages []models.ChatMessage `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Messages, 2)
	assert.Equal(t, "first", out.Messages[0].Content)
	assert.Equal(t, "second", out.Messages[1].Content)

	resp, err = http.Get(env.server.URL + "/api/threads/gone/messages")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// ── Setup ───────────────────────────────────────────────────

const setupBody = `{"name":"invoices","fields":[{"name":"vendor","type":"string","description":"Vendor name"},{"name":"dueDate","type":"date"}]}`

func TestSetup(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, out := env.postJSON(t, "/api/setup", setupBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", out["status"])
	assert.Equal(t, "invoices", out["analyzerId"])
	assert.Equal(t, "asst_invoices", out["agentId"])

	saved, err := env.handlers.Schemas.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.DefaultInstructions, saved.Instructions)
	assert.Len(t, saved.Fields, 2)

	// A second setup updates the same agent.
	_, out = env.postJSON(t, "/api/setup", setupBody)
	assert.Equal(t, "asst_invoices", out["agentId"])
	listed, err := env.runtime.ListAssistants(context.Background())
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestSetupExistingAnalyzer(t *testing.T) {
	env := newTestEnv(t, func(_ *config.Config, h *handlers.Handlers) {
		h.Analyzers = existingAnalyzer{}
	})

	resp, out := env.postJSON(t, "/api/setup", setupBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Using existing analyzer", out["message"])
	assert.NotEmpty(t, out["agentId"])
}

func TestSetupRejectsInvalidSchema(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, _ := env.postJSON(t, "/api/setup", `{"name":"x","fields":[]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.postJSON(t, "/api/setup", `fields`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, err := env.handlers.Schemas.Load(context.Background())
	assert.Error(t, err)
}

// ── Tools ───────────────────────────────────────────────────

func TestToolEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/api/tools/artifactchunk",
		strings.NewReader(`{"payload":{"searchText":"late fees","topK":2}}`))
	require.NoError(t, err)
	req.Header.Set("X-Correlation-Id", "corr-42")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "corr-42", resp.Header.Get("X-Correlation-Id"))

	var reply struct {
		Value struct {
			Results []map[string]any `json:"results"`
			Count   int              `json:"count"`
		} `json:"Value"`
		CorrelationID string `json:"CorrelationId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	assert.Equal(t, "corr-42", reply.CorrelationID)
	assert.Equal(t, 1, reply.Value.Count)
	assert.Equal(t, "artifactchunk-1", reply.Value.Results[0]["id"])

	env.retriever.mu.Lock()
	defer env.retriever.mu.Unlock()
	require.Len(t, env.retriever.got, 1)
	assert.Equal(t, "late fees", env.retriever.got[0].SearchText)
	assert.Equal(t, 2, env.retriever.got[0].TopK)

	bad, _ := env.postJSON(t, "/api/tools/artifact", `[]`)
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

// ── Router ──────────────────────────────────────────────────

type downIndex struct{ *searchindex.EmbeddedIndex }

func (downIndex) Kind() string                     { return "down" }
func (downIndex) HealthCheck(context.Context) error { return errors.New("connection refused") }

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.server.URL + "/health")
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", out["status"])
	assert.Equal(t, map[string]any{"search": "ok"}, out["checks"])

	env.handlers.Indexes.Register("search", downIndex{})
	resp, err = http.Get(env.server.URL + "/health")
	require.NoError(t, err)
	out = nil
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "degraded", out["status"])
}

func TestAPIKeyProtectsAPI(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config, _ *handlers.Handlers) {
		cfg.Auth.APIKeys = []string{"secret"}
	})

	resp, err := http.Get(env.server.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.postJSON(t, "/api/threads", `{}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodPost, env.server.URL+"/api/threads", strings.NewReader(`{}`))
	req.Header.Set("X-API-Key", "secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
