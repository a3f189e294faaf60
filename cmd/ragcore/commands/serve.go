package commands

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/onekey/rag-core-go/internal/logging"
	"github.com/onekey/rag-core-go/internal/ragpipeline"
	"github.com/onekey/rag-core-go/internal/retrieval"
	"github.com/onekey/rag-core-go/internal/server"
	"github.com/onekey/rag-core-go/internal/tracing"
)

// NewServeCmd constructs the `ragcore serve` command, which starts the HTTP
// API serving chat completions, contract lookups, feedback, and file upload.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ragcore HTTP API",
		Long: `Start the ragcore HTTP API on the configured host and port.

The server exposes an OpenAI-compatible /v1/chat/completions endpoint backed
by retrieval-augmented generation over a crawled documentation corpus, plus
contract address lookup, feedback, and file upload routes.

Examples:
  ragcore serve
  ragcore serve --port 9090
  MODEL_PROVIDER=openai ragcore serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			cfg := loadFullConfig()

			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("serve: langfuse tracing enabled")
			} else {
				log.Info("serve: langfuse tracing disabled (LANGFUSE_PUBLIC_KEY not set)")
			}

			registry, providerCfg, err := buildRegistry(ctx)
			if err != nil {
				return err
			}
			log.Info("serve: model registry initialised")

			emb, err := buildEmbedder(log)
			if err != nil {
				return err
			}

			st, err := buildStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			contracts := buildContractIndex(st)
			rerank := buildReranker()

			pipeline := ragpipeline.New(ragpipeline.Dependencies{
				Registry:         registry,
				Embedder:         emb,
				Retrieval:        retrieval.New(st),
				Reranker:         rerank,
				Contracts:        contracts,
				CompactionConfig: buildCompactionConfig(cfg),
				PromptConfig:     buildPromptConfig(cfg),
				RerankTopN:       getEnvInt("RERANK_TOP_N", 8),
			})

			srv, err := server.New(pipeline, registry, contracts, st, &server.Config{
				Host:                  host,
				Port:                  port,
				Logger:                log,
				Pingers:               buildPingers(providerCfg, st),
				APIKey:                getEnvOrDefault("RAGCORE_API_KEY", ""),
				MaxConcurrentRequests: getEnvInt("SERVER_CONCURRENCY_LIMIT", cfg.Server.ConcurrencyLimit),
				ChatTimeout:           time.Duration(cfg.Prompt.TotalTimeoutSeconds) * time.Second,
				PrepareTimeout:        time.Duration(cfg.Prompt.PrepareTimeoutSeconds) * time.Second,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
