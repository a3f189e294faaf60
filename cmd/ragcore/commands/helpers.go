package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/onekey/rag-core-go/internal/compaction"
	"github.com/onekey/rag-core-go/internal/config"
	"github.com/onekey/rag-core-go/internal/contractindex"
	"github.com/onekey/rag-core-go/internal/embedder"
	"github.com/onekey/rag-core-go/internal/promptbuilder"
	"github.com/onekey/rag-core-go/internal/provider"
	"github.com/onekey/rag-core-go/internal/reranker"
	"github.com/onekey/rag-core-go/internal/server"
	"github.com/onekey/rag-core-go/internal/store"
)

// loadFullConfig returns the process-wide config, layering whatever
// loadedConfigPath's YAML file sets on top of config.Defaults() — an unset
// or unreadable file just yields the spec defaults untouched, since
// yaml.Unmarshal only overwrites fields present in the document.
func loadFullConfig() config.Config {
	cfg := config.Defaults()
	if loadedConfigPath == "" {
		return cfg
	}
	data, err := os.ReadFile(loadedConfigPath)
	if err != nil {
		return cfg
	}
	_ = yaml.Unmarshal(data, &cfg)
	return cfg
}

// buildPromptConfig adapts the loaded Prompt section into promptbuilder's
// own Config shape, renaming the "default" fields to match promptbuilder's
// field names.
func buildPromptConfig(cfg config.Config) promptbuilder.Config {
	return promptbuilder.Config{
		ContextMaxChars:     cfg.Prompt.ContextMaxChars,
		CitationsEnabled:    cfg.Prompt.CitationsEnabled,
		AnswerAppendSources: cfg.Prompt.AnswerAppendSources,
		SystemInstructions:  cfg.Prompt.SystemInstructions,
		DefaultSystem:       cfg.Prompt.DefaultSystemInstruction,
		NoSourcesMessages:   cfg.Prompt.NoSourcesMessages,
		DefaultNoSources:    cfg.Prompt.DefaultNoSourcesMessage,
	}
}

// buildCompactionConfig adapts the loaded Prompt section's history-clamp
// fields into compaction's own Config shape.
func buildCompactionConfig(cfg config.Config) compaction.Config {
	return compaction.Config{
		TurnMaxChars:    cfg.Prompt.HistoryTurnMaxChars,
		TurnCount:       cfg.Prompt.HistoryTurnCount,
		ExcerptMaxChars: cfg.Prompt.HistoryExcerptMaxChars,
	}
}

// baseProviderConfigFromEnv builds the shared provider.Config from the
// process environment, the same fields provider.NewFromEnv reads, but
// returned as a *Config rather than a constructed model so callers can
// reuse it across a multi-family provider.Registry.
func baseProviderConfigFromEnv() *provider.Config {
	return &provider.Config{
		Backend: provider.Backend(getEnvOrDefault("MODEL_PROVIDER", string(provider.BackendOllama))),
		Ollama: provider.ProviderOllama{
			Host:  getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434"),
			Model: getEnvOrDefault("OLLAMA_MODEL", "llama3"),
		},
		OpenAI: provider.ProviderOpenAI{
			APIKey: os.Getenv("OPENAI_API_KEY"),
			Model:  getEnvOrDefault("OPENAI_MODEL", "gpt-4o"),
		},
		AzureOpenAI: provider.ProviderAzureOpenAI{
			APIKey:     os.Getenv("AZURE_OPENAI_API_KEY"),
			Endpoint:   os.Getenv("AZURE_OPENAI_ENDPOINT"),
			Deployment: os.Getenv("AZURE_OPENAI_DEPLOYMENT"),
			APIVersion: getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2024-02-01"),
		},
		Bedrock: provider.ProviderBedrock{
			AWSRegion: getEnvOrDefault("AWS_REGION", "us-east-1"),
			ModelID:   os.Getenv("BEDROCK_MODEL_ID"),
		},
		Gemini: provider.ProviderGemini{
			APIKey: os.Getenv("GOOGLE_API_KEY"),
			Model:  getEnvOrDefault("GEMINI_MODEL", "gemini-1.5-pro"),
		},
		Tuning: provider.SharedTuning{
			MaxTokens:   getEnvInt("MODEL_MAX_TOKENS", 4096),
			Temperature: getEnvFloat32("MODEL_TEMPERATURE", 0.2),
		},
	}
}

// loadFamilies returns the caller-facing model families a provider.Registry
// should expose. When configPath names a readable YAML file with
// model.families entries, those are used verbatim. Otherwise a single
// "default" family is synthesized from the base provider config, so the
// registry always resolves at least one model id.
func loadFamilies(configPath string, base *provider.Config) []provider.Family {
	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			var cfg config.Config
			if yaml.Unmarshal(data, &cfg) == nil && len(cfg.Model.Families) > 0 {
				families := make([]provider.Family, 0, len(cfg.Model.Families))
				for _, f := range cfg.Model.Families {
					families = append(families, provider.Family{
						ID:            f.ID,
						Backend:       provider.Backend(f.Backend),
						BaseURL:       f.BaseURL,
						UpstreamModel: f.Upstream,
					})
				}
				return families
			}
		}
	}

	return []provider.Family{{
		ID:            "default",
		Backend:       base.Backend,
		UpstreamModel: upstreamModelFor(base),
	}}
}

// upstreamModelFor returns the configured model name for base's backend, so
// the synthesized "default" family's metadata is informative rather than
// empty.
func upstreamModelFor(base *provider.Config) string {
	switch base.Backend {
	case provider.BackendOllama:
		return base.Ollama.Model
	case provider.BackendOpenAI:
		return base.OpenAI.Model
	case provider.BackendAzure:
		return base.AzureOpenAI.Deployment
	case provider.BackendBedrock:
		return base.Bedrock.ModelID
	case provider.BackendGemini:
		return base.Gemini.Model
	default:
		return ""
	}
}

// buildRegistry constructs a provider.Registry from the environment and, if
// present, the loaded YAML config's model.families list.
func buildRegistry(ctx context.Context) (*provider.Registry, *provider.Config, error) {
	base := baseProviderConfigFromEnv()
	families := loadFamilies(loadedConfigPath, base)

	reg, err := provider.NewRegistry(ctx, base, families)
	if err != nil {
		return nil, nil, fmt.Errorf("commands: failed to initialise model registry: %w", err)
	}
	return reg, base, nil
}

// buildStore opens the Postgres-backed relational store from the environment.
func buildStore(ctx context.Context) (*store.Store, error) {
	dsn := os.Getenv("STORE_DSN")
	if dsn == "" {
		return nil, fmt.Errorf("commands: STORE_DSN is required")
	}
	st, err := store.Open(ctx, store.Config{
		DSN:        dsn,
		MaxConns:   int32(getEnvInt("STORE_MAX_CONNS", 10)),
		FTSConfig:  getEnvOrDefault("STORE_FTS_CONFIG", "english"),
		Dimensions: getEnvInt("EMBEDDING_DIMENSIONS", 768),
	})
	if err != nil {
		return nil, fmt.Errorf("commands: failed to open store: %w", err)
	}
	return st, nil
}

// buildContractIndex constructs a contractindex.Index backed by st, reading
// its host-fragment→protocol table from the YAML config when present. An
// empty table still yields a working Index — it simply never matches a
// protocol via BuildFromChunk until fragments are configured.
func buildContractIndex(st *store.Store) *contractindex.Index {
	hostFragments := map[string]string{}
	batchSize := getEnvInt("CONTRACTS_BATCH_SIZE", 100)

	if loadedConfigPath != "" {
		if data, err := os.ReadFile(loadedConfigPath); err == nil {
			var cfg config.Config
			if yaml.Unmarshal(data, &cfg) == nil {
				if len(cfg.Contracts.HostFragments) > 0 {
					hostFragments = cfg.Contracts.HostFragments
				}
				if cfg.Contracts.BatchSize > 0 {
					batchSize = cfg.Contracts.BatchSize
				}
			}
		}
	}

	return contractindex.New(st, contractindex.Config{
		HostFragments: hostFragments,
		BatchSize:     batchSize,
	})
}

// buildReranker constructs an HTTP cross-encoder reranker when RERANK_ENABLED
// is true and RERANK_BASE_URL is set. Returns nil otherwise — the pipeline
// treats a nil reranker as "skip reranking".
func buildReranker() *reranker.Reranker {
	if !getEnvBool("RERANK_ENABLED", true) {
		return nil
	}
	baseURL := os.Getenv("RERANK_BASE_URL")
	if baseURL == "" {
		return nil
	}

	scorer := reranker.NewHTTPCrossEncoder(reranker.HTTPConfig{
		BaseURL: baseURL,
		APIKey:  os.Getenv("RERANK_API_KEY"),
		Model:   getEnvOrDefault("RERANK_MODEL", "rerank-english-v3.0"),
	})
	return reranker.New(scorer, reranker.Config{
		MaxCandidates: getEnvInt("RERANK_MAX_CANDIDATES", 40),
		MaxChars:      getEnvInt("RERANK_MAX_CHARS", 2000),
	})
}

// buildPingers constructs the readiness probes for GET /api/ready: the
// configured model backend and the relational store.
func buildPingers(providerCfg *provider.Config, st *store.Store) []server.Pinger {
	hc := provider.NewHealthCheckConfig(providerCfg.Backend, providerCfg)
	pingers := []server.Pinger{
		server.NewLLMPinger(nil, hc, string(providerCfg.Backend)),
	}
	if st != nil {
		pingers = append(pingers, server.NewStorePinger(st))
	}
	return pingers
}

// buildEmbedder constructs the configured embedding backend from the
// environment.
func buildEmbedder(log *slog.Logger) (embedder.Embedder, error) {
	if err := embedder.ValidateForRAG(log); err != nil {
		return nil, fmt.Errorf("commands: %w", err)
	}
	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("commands: failed to initialise embedder: %w", err)
	}
	return emb, nil
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable as an integer.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvFloat32 returns the float32 value of the named environment variable,
// or fallback if the variable is unset, empty, or not parseable.
func getEnvFloat32(key string, fallback float32) float32 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(f)
		}
	}
	return fallback
}

// getEnvBool returns the boolean value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
