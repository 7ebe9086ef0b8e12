package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// MaxQueueMessageBytes is the hard size limit of the queue transport.
const MaxQueueMessageBytes = 64 * 1024

// Config holds all configuration for the artifact chat service. It is built
// once at process entry and passed by parameter into every component.
type Config struct {
	Port       int              `toml:"port"`
	Version    string           `toml:"version"`
	Logging    LoggingConfig    `toml:"logging"`
	Telemetry  TelemetryConfig  `toml:"telemetry"`
	Auth       AuthConfig       `toml:"auth"`
	Storage    StorageConfig    `toml:"storage"`
	Search     SearchConfig     `toml:"search"`
	Queue      QueueConfig      `toml:"queue"`
	Analysis   AnalysisConfig   `toml:"analysis"`
	Agent      AgentConfig      `toml:"agent"`
	Chunking   ChunkingConfig   `toml:"chunking"`
	Packing    PackingConfig    `toml:"packing"`
	Embeddings EmbeddingsConfig `toml:"embeddings"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // console | json
}

type TelemetryConfig struct {
	Enabled      bool    `toml:"enabled"`
	OTLPEndpoint string  `toml:"otlp_endpoint"`
	ServiceName  string  `toml:"service_name"`
	SampleRatio  float64 `toml:"sample_ratio"` // fraction of root spans kept
}

type AuthConfig struct {
	// Comma-separated in the environment. Empty disables authentication.
	APIKeys []string `toml:"api_keys"`
}

type StorageConfig struct {
	Driver      string `toml:"driver"` // memory | s3
	Endpoint    string `toml:"endpoint"`
	AccessKey   string `toml:"access_key"`
	SecretKey   string `toml:"secret_key"`
	Bucket      string `toml:"bucket"`
	UseSSL      bool   `toml:"use_ssl"`
	ConfigKey   string `toml:"config_key"`
	FilesPrefix string `toml:"files_prefix"`
}

type SearchConfig struct {
	Driver           string `toml:"driver"` // embedded | azure | postgres
	Endpoint         string `toml:"endpoint"`
	AdminKey         string `toml:"admin_key"`
	APIVersion       string `toml:"api_version"`
	DocumentIndex    string `toml:"document_index"`
	ChunkIndex       string `toml:"chunk_index"`
	PostgresURL      string `toml:"postgres_url"`
	VectorDimensions int    `toml:"vector_dimensions"`
}

type QueueConfig struct {
	Driver              string   `toml:"driver"` // memory | sqlite
	SQLitePath          string   `toml:"sqlite_path"`
	PollInterval        Duration `toml:"poll_interval"`
	Workers             int      `toml:"workers"`
	IngestionQueue      string   `toml:"ingestion_queue"`
	ArtifactInputQueue  string   `toml:"artifact_input_queue"`
	ArtifactOutputQueue string   `toml:"artifact_output_queue"`
	ChunkInputQueue     string   `toml:"chunk_input_queue"`
	ChunkOutputQueue    string   `toml:"chunk_output_queue"`
}

type AnalysisConfig struct {
	Driver       string   `toml:"driver"` // remote | local
	Endpoint     string   `toml:"endpoint"`
	Key          string   `toml:"key"`
	APIVersion   string   `toml:"api_version"`
	PollInterval Duration `toml:"poll_interval"`
	MaxAttempts  int      `toml:"max_attempts"`
}

type AgentConfig struct {
	Endpoint       string   `toml:"endpoint"`
	APIKey         string   `toml:"api_key"`
	APIVersion     string   `toml:"api_version"`
	Model          string   `toml:"model"`
	PollInterval   Duration `toml:"poll_interval"`
	RunTimeout     Duration `toml:"run_timeout"`
	ToolRunTimeout Duration `toml:"tool_run_timeout"`
}

type ChunkingConfig struct {
	MarkdownChunkSize int    `toml:"markdown_chunk_size"`
	MarkdownOverlap   int    `toml:"markdown_overlap"`
	BracketedWindow   int    `toml:"bracketed_window"`
	BracketedOverlap  int    `toml:"bracketed_overlap"`
	CaptionWindow     int    `toml:"caption_window"`
	CaptionOverlap    int    `toml:"caption_overlap"`
	TranscriptDialect string `toml:"transcript_dialect"` // bracketed | caption
}

type PackingConfig struct {
	MaxBytes int    `toml:"max_bytes"`
	FieldCap int    `toml:"field_cap"`
	Strategy string `toml:"strategy"` // test-before-append | build-then-trim
}

type EmbeddingsConfig struct {
	Provider   string `toml:"provider"` // "" disables embeddings | openai | ollama
	Endpoint   string `toml:"endpoint"`
	APIKey     string `toml:"api_key"`
	Model      string `toml:"model"`
	Dimensions int    `toml:"dimensions"`
}

// Duration is a time.Duration that reads from TOML strings such as "1s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:    8080,
		Version: "0.1.0",
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "artifactchat",
			SampleRatio:  1,
		},
		Storage: StorageConfig{
			Driver:      "memory",
			Bucket:      "artifactchat",
			ConfigKey:   "schemas/user_config.json",
			FilesPrefix: "files/",
		},
		Search: SearchConfig{
			Driver:           "embedded",
			APIVersion:       "2024-07-01",
			DocumentIndex:    "artifacts",
			ChunkIndex:       "chunks",
			VectorDimensions: 1536,
		},
		Queue: QueueConfig{
			Driver:              "memory",
			SQLitePath:          "artifactchat-queue.db",
			PollInterval:        Duration{500 * time.Millisecond},
			Workers:             4,
			IngestionQueue:      "ingestion",
			ArtifactInputQueue:  "artifact-input",
			ArtifactOutputQueue: "artifact-output",
			ChunkInputQueue:     "artifactchunk-input",
			ChunkOutputQueue:    "artifactchunk-output",
		},
		Analysis: AnalysisConfig{
			Driver:       "local",
			APIVersion:   "2024-12-01-preview",
			PollInterval: Duration{2 * time.Second},
			MaxAttempts:  60,
		},
		Agent: AgentConfig{
			APIVersion:     "2024-05-01-preview",
			Model:          "gpt-4o",
			PollInterval:   Duration{time.Second},
			RunTimeout:     Duration{30 * time.Second},
			ToolRunTimeout: Duration{120 * time.Second},
		},
		Chunking: ChunkingConfig{
			MarkdownChunkSize: 1000,
			MarkdownOverlap:   5,
			BracketedWindow:   60,
			BracketedOverlap:  20,
			CaptionWindow:     10,
			CaptionOverlap:    2,
			TranscriptDialect: "bracketed",
		},
		Packing: PackingConfig{
			MaxBytes: 60000,
			FieldCap: 1000,
			Strategy: "test-before-append",
		},
		Embeddings: EmbeddingsConfig{
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
		},
	}
}

// Load builds the configuration from defaults, the TOML file named by
// ARTIFACTCHAT_CONFIG (if set) and environment overrides, then validates it.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("ARTIFACTCHAT_CONFIG"); path != "" {
		if err := cfg.MergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MergeFile overlays the values present in a TOML file onto cfg.
func (c *Config) MergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	return c.MergeTOML(data)
}

// MergeTOML overlays TOML-encoded values onto cfg. Keys absent from data
// keep their current values.
func (c *Config) MergeTOML(data []byte) error {
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = envInt("ARTIFACTCHAT_PORT", c.Port)
	c.Version = envStr("ARTIFACTCHAT_VERSION", c.Version)

	c.Logging.Level = envStr("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = envStr("LOG_FORMAT", c.Logging.Format)

	c.Telemetry.Enabled = envBool("OTEL_ENABLED", c.Telemetry.Enabled)
	c.Telemetry.OTLPEndpoint = envStr("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = envStr("OTEL_SERVICE_NAME", c.Telemetry.ServiceName)
	c.Telemetry.SampleRatio = envFloat("OTEL_TRACES_SAMPLER_ARG", c.Telemetry.SampleRatio)

	c.Auth.APIKeys = envList("ARTIFACTCHAT_API_KEYS", c.Auth.APIKeys)

	c.Storage.Driver = envStr("STORAGE_DRIVER", c.Storage.Driver)
	c.Storage.Endpoint = envStr("STORAGE_ENDPOINT", c.Storage.Endpoint)
	c.Storage.AccessKey = envStr("STORAGE_ACCESS_KEY", c.Storage.AccessKey)
	c.Storage.SecretKey = envStr("STORAGE_SECRET_KEY", c.Storage.SecretKey)
	c.Storage.Bucket = envStr("STORAGE_BUCKET", c.Storage.Bucket)
	c.Storage.UseSSL = envBool("STORAGE_USE_SSL", c.Storage.UseSSL)

	c.Search.Driver = envStr("SEARCH_DRIVER", c.Search.Driver)
	c.Search.Endpoint = envStr("SEARCH_ENDPOINT", c.Search.Endpoint)
	c.Search.AdminKey = envStr("SEARCH_ADMIN_KEY", c.Search.AdminKey)
	c.Search.DocumentIndex = envStr("SEARCH_DOCUMENT_INDEX", c.Search.DocumentIndex)
	c.Search.ChunkIndex = envStr("SEARCH_CHUNK_INDEX", c.Search.ChunkIndex)
	c.Search.PostgresURL = envStr("DATABASE_URL", c.Search.PostgresURL)

	c.Queue.Driver = envStr("QUEUE_DRIVER", c.Queue.Driver)
	c.Queue.SQLitePath = envStr("QUEUE_SQLITE_PATH", c.Queue.SQLitePath)
	c.Queue.PollInterval.Duration = envDuration("QUEUE_POLL_INTERVAL", c.Queue.PollInterval.Duration)
	c.Queue.Workers = envInt("QUEUE_WORKERS", c.Queue.Workers)

	c.Analysis.Driver = envStr("ANALYSIS_DRIVER", c.Analysis.Driver)
	c.Analysis.Endpoint = envStr("ANALYSIS_ENDPOINT", c.Analysis.Endpoint)
	c.Analysis.Key = envStr("ANALYSIS_KEY", c.Analysis.Key)
	c.Analysis.PollInterval.Duration = envDuration("ANALYSIS_POLL_INTERVAL", c.Analysis.PollInterval.Duration)
	c.Analysis.MaxAttempts = envInt("ANALYSIS_MAX_ATTEMPTS", c.Analysis.MaxAttempts)

	c.Agent.Endpoint = envStr("AGENT_ENDPOINT", c.Agent.Endpoint)
	c.Agent.APIKey = envStr("AGENT_API_KEY", c.Agent.APIKey)
	c.Agent.Model = envStr("AGENT_MODEL", c.Agent.Model)
	c.Agent.RunTimeout.Duration = envDuration("AGENT_RUN_TIMEOUT", c.Agent.RunTimeout.Duration)
	c.Agent.ToolRunTimeout.Duration = envDuration("AGENT_TOOL_RUN_TIMEOUT", c.Agent.ToolRunTimeout.Duration)

	c.Chunking.TranscriptDialect = envStr("TRANSCRIPT_DIALECT", c.Chunking.TranscriptDialect)

	c.Packing.Strategy = envStr("PACKING_STRATEGY", c.Packing.Strategy)

	c.Embeddings.Provider = envStr("EMBEDDINGS_PROVIDER", c.Embeddings.Provider)
	c.Embeddings.Endpoint = envStr("EMBEDDINGS_ENDPOINT", c.Embeddings.Endpoint)
	c.Embeddings.APIKey = envStr("EMBEDDINGS_API_KEY", c.Embeddings.APIKey)
	c.Embeddings.Model = envStr("EMBEDDINGS_MODEL", c.Embeddings.Model)
}

// Validate checks the invariants components rely on at construction time.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	window := func(name string, size, overlap int) {
		if size <= 0 {
			fail("%s window must be positive, got %d", name, size)
		}
		if overlap < 0 || overlap >= size {
			fail("%s overlap must be in [0, %d), got %d", name, size, overlap)
		}
	}
	window("markdown", c.Chunking.MarkdownChunkSize, c.Chunking.MarkdownOverlap)
	window("bracketed", c.Chunking.BracketedWindow, c.Chunking.BracketedOverlap)
	window("caption", c.Chunking.CaptionWindow, c.Chunking.CaptionOverlap)

	oneOf := func(name, v string, allowed ...string) {
		for _, a := range allowed {
			if v == a {
				return
			}
		}
		fail("%s must be one of %s, got %q", name, strings.Join(allowed, "|"), v)
	}
	oneOf("chunking.transcript_dialect", c.Chunking.TranscriptDialect, "bracketed", "caption")
	oneOf("packing.strategy", c.Packing.Strategy, "test-before-append", "build-then-trim")
	oneOf("storage.driver", c.Storage.Driver, "memory", "s3")
	oneOf("search.driver", c.Search.Driver, "embedded", "azure", "postgres")
	oneOf("queue.driver", c.Queue.Driver, "memory", "sqlite")
	oneOf("analysis.driver", c.Analysis.Driver, "local", "remote")
	oneOf("embeddings.provider", c.Embeddings.Provider, "", "openai", "ollama")

	if c.Packing.MaxBytes <= 0 || c.Packing.MaxBytes > MaxQueueMessageBytes {
		fail("packing.max_bytes must be in (0, %d], got %d", MaxQueueMessageBytes, c.Packing.MaxBytes)
	}
	if c.Packing.FieldCap <= 0 {
		fail("packing.field_cap must be positive, got %d", c.Packing.FieldCap)
	}
	if c.Analysis.PollInterval.Duration <= 0 || c.Analysis.MaxAttempts <= 0 {
		fail("analysis poll interval and max attempts must be positive")
	}
	if c.Agent.PollInterval.Duration <= 0 || c.Agent.RunTimeout.Duration <= 0 {
		fail("agent poll interval and run timeout must be positive")
	}
	if c.Agent.ToolRunTimeout.Duration < c.Agent.RunTimeout.Duration {
		fail("agent.tool_run_timeout must not be shorter than agent.run_timeout")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		fail("telemetry.sample_ratio must be in [0, 1], got %g", c.Telemetry.SampleRatio)
	}
	if c.Queue.PollInterval.Duration <= 0 || c.Queue.Workers <= 0 {
		fail("queue poll interval and workers must be positive")
	}
	if c.Storage.Driver == "s3" && c.Storage.Endpoint == "" {
		fail("storage.endpoint is required for the s3 driver")
	}
	if c.Search.Driver == "azure" && c.Search.Endpoint == "" {
		fail("search.endpoint is required for the azure driver")
	}
	if c.Search.Driver == "postgres" && c.Search.PostgresURL == "" {
		fail("search.postgres_url is required for the postgres driver")
	}
	if c.Analysis.Driver == "remote" && c.Analysis.Endpoint == "" {
		fail("analysis.endpoint is required for the remote driver")
	}
	return errors.Join(errs...)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
