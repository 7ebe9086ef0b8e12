// Package contracts defines the collaborator interfaces of the artifact chat
// service.
//
// Every external service the ingestion pipeline, the retrieval gateway and
// the run orchestrator talk to sits behind one of these interfaces. The
// repository ships concrete drivers for each (see internal/objectstore,
// internal/searchindex, internal/queue, internal/assistants,
// internal/analysis, internal/embeddings); swapping one is a single line
// change in pkg/server.
package contracts

import (
	"context"

	"github.com/agentoven/artifactchat/pkg/models"
)

// ── Object Storage ──────────────────────────────────────────

// ObjectStore reads and writes opaque blobs by key.
// Drivers: internal/objectstore.S3Store (minio), internal/objectstore.MemoryStore.
type ObjectStore interface {
	// Get returns the blob and its user metadata. Missing keys return an
	// error matching objectstore.ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, map[string]string, error)

	// Put writes the blob, replacing any existing one.
	Put(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) error

	// Delete removes the blob. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// ── Search Index ────────────────────────────────────────────

// SearchIndex is the search service holding the document-level and
// chunk-level collections.
// Drivers: azure (REST), embedded (in-memory), postgres (pgx).
type SearchIndex interface {
	// Kind returns the driver identifier (e.g. "azure", "embedded").
	Kind() string

	// Upsert merges or uploads records keyed by their id field.
	Upsert(ctx context.Context, collection models.Collection, records []map[string]any) error

	// Search runs a query against one collection.
	Search(ctx context.Context, collection models.Collection, q models.SearchQuery) (*models.SearchResults, error)

	// EnsureCollections creates or updates both collections from a user schema.
	EnsureCollections(ctx context.Context, schema *models.SchemaConfig) error

	// HealthCheck verifies the service is reachable.
	HealthCheck(ctx context.Context) error
}

// ── Queue Transport ─────────────────────────────────────────

// Message is one queued JSON body.
type Message struct {
	ID    string
	Queue string
	Body  []byte
}

// Queue pushes and pops JSON envelopes with a hard size ceiling.
// Drivers: internal/queue.MemoryQueue, internal/queue.SQLiteQueue.
type Queue interface {
	// Push enqueues body. Bodies over the transport limit are rejected with
	// queue.ErrMessageTooLarge.
	Push(ctx context.Context, queue string, body []byte) error

	// Pop claims the oldest message. It returns queue.ErrEmpty when the
	// queue has nothing to deliver.
	Pop(ctx context.Context, queue string) (*Message, error)

	// Ack removes a claimed message.
	Ack(ctx context.Context, msg *Message) error

	// Nack releases a claimed message for redelivery.
	Nack(ctx context.Context, msg *Message) error
}

// ── Agent Runtime ───────────────────────────────────────────

// AgentRuntime is the conversational agent runtime owning threads, runs
// and assistants.
// Driver: internal/assistants.Client.
type AgentRuntime interface {
	CreateThread(ctx context.Context) (*models.Thread, error)
	GetThread(ctx context.Context, threadID string) (*models.Thread, error)

	CreateMessage(ctx context.Context, threadID string, role models.MessageRole, content string) (*models.Message, error)
	// ListMessages returns the thread's messages newest first.
	ListMessages(ctx context.Context, threadID string) ([]models.Message, error)

	CreateRun(ctx context.Context, threadID, assistantID string) (*models.Run, error)
	GetRun(ctx context.Context, threadID, runID string) (*models.Run, error)
	CancelRun(ctx context.Context, threadID, runID string) (*models.Run, error)
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []models.ToolOutput) (*models.Run, error)

	ListAssistants(ctx context.Context) ([]models.Assistant, error)
	CreateAssistant(ctx context.Context, a *models.Assistant) (*models.Assistant, error)
	UpdateAssistant(ctx context.Context, a *models.Assistant) (*models.Assistant, error)
}

// ── Document Analysis ───────────────────────────────────────

// Analyzer turns raw file bytes into an AnalysisResult.
// Drivers: internal/analysis.Poller (remote service), internal/analysis.LocalAnalyzer.
type Analyzer interface {
	Analyze(ctx context.Context, analyzerID string, data []byte) (*models.AnalysisResult, error)
}

// AnalyzerProvisioner creates or updates analyzers from a user schema.
type AnalyzerProvisioner interface {
	CreateOrUpdateAnalyzer(ctx context.Context, schema *models.SchemaConfig) error
}

// ── Embeddings ──────────────────────────────────────────────

// EmbeddingDriver produces vectors for the contentVector fields.
// Drivers: internal/embeddings.OpenAIEmbedding, internal/embeddings.OllamaEmbedding.
type EmbeddingDriver interface {
	// Kind returns the provider identifier (e.g. "openai").
	Kind() string

	// Embed returns one vector per input text, in order.
	Embed(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions returns the vector size produced by the model.
	Dimensions() int

	// MaxBatchSize returns the maximum number of texts per Embed call.
	MaxBatchSize() int
}
