// Package config provides YAML-based configuration for ragcore.
// Configuration is loaded with a layered precedence: defaults → YAML file → env vars.
// Environment variables always win, so existing workflows are unaffected.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. RAGCORE_CONFIG environment variable
//  3. ~/.ragcore/config.yaml
//  4. ./ragcore.yaml
//
// If no file is found the system runs entirely from env vars (backwards compatible).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Model configures the LLM chat model provider(s).
	Model ModelConfig `yaml:"model"`

	// Embedding configures the embedding provider for RAG.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Store configures the Postgres-backed relational store.
	Store StoreConfig `yaml:"store"`

	// Chunking configures the chunker's size/overlap.
	Chunking ChunkingConfig `yaml:"chunking"`

	// Retrieval configures the retrieval engine.
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Rerank configures the reranker adapter.
	Rerank RerankConfig `yaml:"rerank"`

	// Prompt configures prompt assembly and answer framing.
	Prompt PromptConfig `yaml:"prompt"`

	// Worker configures the background job worker.
	Worker WorkerConfig `yaml:"worker"`

	// Contracts configures the contract-address index.
	Contracts ContractsConfig `yaml:"contracts"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Tracing configures Langfuse tracing integration.
	Tracing TracingConfig `yaml:"tracing"`
}

// ModelConfig holds LLM chat model settings.
type ModelConfig struct {
	// Provider selects the default backend: ollama, openai, azure, bedrock, gemini.
	Provider string `yaml:"provider"`

	// MaxTokens is the maximum number of tokens in the response.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature controls response randomness (0.0–1.0).
	Temperature float32 `yaml:"temperature"`

	// Ollama holds Ollama-specific settings.
	Ollama OllamaConfig `yaml:"ollama"`

	// OpenAI holds OpenAI-specific settings.
	OpenAI OpenAIConfig `yaml:"openai"`

	// Azure holds Azure OpenAI-specific settings.
	Azure AzureConfig `yaml:"azure"`

	// Bedrock holds AWS Bedrock-specific settings.
	Bedrock BedrockConfig `yaml:"bedrock"`

	// Gemini holds Google Gemini-specific settings.
	Gemini GeminiConfig `yaml:"gemini"`

	// Families maps a caller-facing model id (e.g. "onekey-docs") to the
	// backend that actually serves it. Exposed verbatim by GET /v1/models.
	Families []ModelFamily `yaml:"families"`
}

// ModelFamily names one caller-facing model id and the backend it maps to.
type ModelFamily struct {
	ID       string `yaml:"id"`
	Backend  string `yaml:"backend"`
	BaseURL  string `yaml:"base_url"`
	Upstream string `yaml:"upstream_model"`
}

// OllamaConfig holds Ollama provider settings.
type OllamaConfig struct {
	Host  string `yaml:"host"`
	Model string `yaml:"model"`
}

// OpenAIConfig holds OpenAI provider settings.
type OpenAIConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// AzureConfig holds Azure OpenAI provider settings.
type AzureConfig struct {
	APIKey     string `yaml:"api_key"`
	Endpoint   string `yaml:"endpoint"`
	Deployment string `yaml:"deployment"`
	APIVersion string `yaml:"api_version"`
}

// BedrockConfig holds AWS Bedrock provider settings.
type BedrockConfig struct {
	Region  string `yaml:"region"`
	ModelID string `yaml:"model_id"`
}

// GeminiConfig holds Google Gemini provider settings.
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// EmbeddingConfig holds embedding provider settings for RAG.
type EmbeddingConfig struct {
	// Provider selects the embedding backend (ollama, openai, azure, hash).
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions is the fixed vector dimension D configured at deploy.
	Dimensions int `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the embedding API endpoint.
	Endpoint string `yaml:"endpoint"`
	// BatchSize bounds embed_documents batch calls (spec caps at 64).
	BatchSize int `yaml:"batch_size"`
}

// StoreConfig holds the Postgres relational store settings.
type StoreConfig struct {
	// DSN is the Postgres connection string. Prefer env var STORE_DSN.
	DSN string `yaml:"dsn"`
	// MaxConns bounds the pgxpool connection pool size.
	MaxConns int32 `yaml:"max_conns"`
	// FTSConfig names the Postgres text-search configuration (analyzer),
	// e.g. "english", "simple".
	FTSConfig string `yaml:"fts_config"`
}

// ChunkingConfig holds the chunker's size/overlap parameters (§4.1).
type ChunkingConfig struct {
	// MaxChars is M, the max chunk size in characters (default ≈2400).
	MaxChars int `yaml:"max_chars"`
	// OverlapChars is O, the sliding-window overlap (default ≈200).
	OverlapChars int `yaml:"overlap_chars"`
}

// RetrievalConfig holds retrieval-engine defaults (§4.4).
type RetrievalConfig struct {
	// Mode is the default retrieval mode: "vector" or "hybrid".
	Mode string `yaml:"mode"`
	// VectorK is the default vector-search candidate count.
	VectorK int `yaml:"vector_k"`
	// BM25K is the default lexical-search candidate count.
	BM25K int `yaml:"bm25_k"`
	// VectorWeight weights the normalized vector score in hybrid merge.
	VectorWeight float64 `yaml:"vector_weight"`
	// BM25Weight weights the normalized lexical score in hybrid merge.
	BM25Weight float64 `yaml:"bm25_weight"`
	// TopK is the default global top-K returned to the pipeline.
	TopK int `yaml:"top_k"`
}

// RerankConfig holds reranker-adapter settings (§4.5).
type RerankConfig struct {
	Enabled        bool `yaml:"enabled"`
	MaxCandidates  int  `yaml:"max_candidates"`
	MaxChars       int  `yaml:"max_chars"`
}

// PromptConfig holds prompt-assembly and answer-framing settings (§4.9, §4.10).
type PromptConfig struct {
	// ContextMaxChars bounds the document-snippets block.
	ContextMaxChars int `yaml:"context_max_chars"`
	// CitationsEnabled turns on inline `[n]` citation rules and sanitization.
	CitationsEnabled bool `yaml:"citations_enabled"`
	// AnswerAppendSources appends a 参考/来源 list after the answer.
	AnswerAppendSources bool `yaml:"answer_append_sources"`
	// NoSourcesMessages maps a model family id to its fixed "no sources" string.
	NoSourcesMessages map[string]string `yaml:"no_sources_messages"`
	// DefaultNoSourcesMessage is used for families absent from the map above.
	DefaultNoSourcesMessage string `yaml:"default_no_sources_message"`
	// SystemInstructions maps a model family id to its fixed system prompt.
	SystemInstructions map[string]string `yaml:"system_instructions"`
	// DefaultSystemInstruction is used for families absent from the map above.
	DefaultSystemInstruction string `yaml:"default_system_instruction"`
	// HistoryExcerptMaxChars bounds the compactor's history excerpt total.
	HistoryExcerptMaxChars int `yaml:"history_excerpt_max_chars"`
	// HistoryTurnMaxChars clamps each kept history turn (spec: ≤800 chars).
	HistoryTurnMaxChars int `yaml:"history_turn_max_chars"`
	// HistoryTurnCount is N, the number of trailing user|assistant turns kept.
	HistoryTurnCount int `yaml:"history_turn_count"`
	// PrepareTimeoutSeconds bounds the prepare phase (compaction..rerank).
	PrepareTimeoutSeconds int `yaml:"prepare_timeout_seconds"`
	// TotalTimeoutSeconds bounds the whole non-streaming request.
	TotalTimeoutSeconds int `yaml:"total_timeout_seconds"`
}

// WorkerConfig holds job-worker tuning (§4.12).
type WorkerConfig struct {
	// PollIntervalSeconds is P, the polling interval.
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	// StalenessThresholdSeconds is T, the running-job requeue threshold.
	StalenessThresholdSeconds int `yaml:"staleness_threshold_seconds"`
	// MaxAttempts bounds job retries (default 3).
	MaxAttempts int `yaml:"max_attempts"`
	// StaleRequeueBatch bounds requeues per tick (spec: ≤10 per tick).
	StaleRequeueBatch int `yaml:"stale_requeue_batch"`
	// MaxPagesPerCrawl bounds crawl job page fetch count.
	MaxPagesPerCrawl int `yaml:"max_pages_per_crawl"`
	// WorkerID identifies this worker instance in Job.progress._meta.
	WorkerID string `yaml:"worker_id"`
}

// ContractsConfig holds the contract-address index's host-fragment table (§4.6).
// The table MUST be config-driven; no remote call resolves a protocol.
type ContractsConfig struct {
	// HostFragments maps a URL substring to the protocol name it implies.
	HostFragments map[string]string `yaml:"host_fragments"`
	// BatchSize bounds batch_build's per-tick chunk scan size.
	BatchSize int `yaml:"batch_size"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var RAGCORE_API_KEY.
	APIKey string `yaml:"api_key"`
	// ConcurrencyLimit sizes the process-wide request semaphore (§4.11).
	ConcurrencyLimit int `yaml:"concurrency_limit"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig holds Langfuse tracing settings.
type TracingConfig struct {
	PublicKey string `yaml:"public_key"`
	SecretKey string `yaml:"secret_key"`
	Host      string `yaml:"host"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"MODEL_PROVIDER", func(c *Config) string { return c.Model.Provider }},
	{"MODEL_MAX_TOKENS", func(c *Config) string { return intStr(c.Model.MaxTokens) }},
	{"MODEL_TEMPERATURE", func(c *Config) string { return float32Str(c.Model.Temperature) }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Model.Ollama.Host }},
	{"OLLAMA_MODEL", func(c *Config) string { return c.Model.Ollama.Model }},
	{"OPENAI_API_KEY", func(c *Config) string { return c.Model.OpenAI.APIKey }},
	{"OPENAI_MODEL", func(c *Config) string { return c.Model.OpenAI.Model }},
	{"AZURE_OPENAI_API_KEY", func(c *Config) string { return c.Model.Azure.APIKey }},
	{"AZURE_OPENAI_ENDPOINT", func(c *Config) string { return c.Model.Azure.Endpoint }},
	{"AZURE_OPENAI_DEPLOYMENT", func(c *Config) string { return c.Model.Azure.Deployment }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config) string { return c.Model.Azure.APIVersion }},
	{"AWS_REGION", func(c *Config) string { return c.Model.Bedrock.Region }},
	{"BEDROCK_MODEL_ID", func(c *Config) string { return c.Model.Bedrock.ModelID }},
	{"GOOGLE_API_KEY", func(c *Config) string { return c.Model.Gemini.APIKey }},
	{"GEMINI_MODEL", func(c *Config) string { return c.Model.Gemini.Model }},
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"STORE_DSN", func(c *Config) string { return c.Store.DSN }},
	{"STORE_MAX_CONNS", func(c *Config) string { return intStr(int(c.Store.MaxConns)) }},
	{"STORE_FTS_CONFIG", func(c *Config) string { return c.Store.FTSConfig }},
	{"CHUNKING_MAX_CHARS", func(c *Config) string { return intStr(c.Chunking.MaxChars) }},
	{"CHUNKING_OVERLAP_CHARS", func(c *Config) string { return intStr(c.Chunking.OverlapChars) }},
	{"RETRIEVAL_MODE", func(c *Config) string { return c.Retrieval.Mode }},
	{"RETRIEVAL_VECTOR_K", func(c *Config) string { return intStr(c.Retrieval.VectorK) }},
	{"RETRIEVAL_BM25_K", func(c *Config) string { return intStr(c.Retrieval.BM25K) }},
	{"RETRIEVAL_TOP_K", func(c *Config) string { return intStr(c.Retrieval.TopK) }},
	{"RERANK_ENABLED", func(c *Config) string { return boolStr(c.Rerank.Enabled) }},
	{"RERANK_MAX_CANDIDATES", func(c *Config) string { return intStr(c.Rerank.MaxCandidates) }},
	{"WORKER_POLL_INTERVAL_SECONDS", func(c *Config) string { return intStr(c.Worker.PollIntervalSeconds) }},
	{"WORKER_MAX_ATTEMPTS", func(c *Config) string { return intStr(c.Worker.MaxAttempts) }},
	{"WORKER_ID", func(c *Config) string { return c.Worker.WorkerID }},
	{"SERVER_CONCURRENCY_LIMIT", func(c *Config) string { return intStr(c.Server.ConcurrencyLimit) }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Tracing.SecretKey }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Tracing.Host }},
}

// Defaults returns a Config populated with the defaults named throughout
// spec.md (M≈2400/O≈200, worker P/T/max_attempts=3, etc).
func Defaults() Config {
	return Config{
		Chunking: ChunkingConfig{MaxChars: 2400, OverlapChars: 200},
		Retrieval: RetrievalConfig{
			Mode: "hybrid", VectorK: 40, BM25K: 40,
			VectorWeight: 0.5, BM25Weight: 0.5, TopK: 8,
		},
		Rerank: RerankConfig{Enabled: true, MaxCandidates: 40, MaxChars: 2000},
		Prompt: PromptConfig{
			ContextMaxChars:          12000,
			CitationsEnabled:         true,
			AnswerAppendSources:      true,
			HistoryExcerptMaxChars:   4000,
			HistoryTurnMaxChars:      800,
			HistoryTurnCount:         6,
			PrepareTimeoutSeconds:    20,
			TotalTimeoutSeconds:      60,
			DefaultNoSourcesMessage:  "I couldn't find anything relevant in the knowledge base to answer that.",
			DefaultSystemInstruction: "Answer strictly from the provided document snippets. If the snippets do not contain the answer, say so.",
		},
		Worker: WorkerConfig{
			PollIntervalSeconds:       5,
			StalenessThresholdSeconds: 300,
			MaxAttempts:               3,
			StaleRequeueBatch:         10,
			MaxPagesPerCrawl:          500,
		},
		Contracts: ContractsConfig{BatchSize: 100},
		Store:     StoreConfig{MaxConns: 10, FTSConfig: "english"},
		Server:    ServerConfig{Host: "127.0.0.1", Port: 8080, ConcurrencyLimit: 32},
		Embedding: EmbeddingConfig{BatchSize: 64},
	}
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" || yamlVal == "0" || yamlVal == "false" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env var already set — do not override
		}
		os.Setenv(m.envKey, yamlVal)
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("RAGCORE_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".ragcore", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("ragcore.yaml"); err == nil {
		return "ragcore.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

// float32Str converts a float32 to string, returning "" for zero values.
func float32Str(v float32) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
