package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/onekey/rag-core-go/internal/logging"
	"github.com/onekey/rag-core-go/internal/ragpipeline"
	"github.com/onekey/rag-core-go/internal/retrieval"
)

// NewAskCmd constructs the `ragcore ask` command, an ad hoc one-shot query
// against the pipeline — useful for smoke-testing a workspace's knowledge
// base without going through the HTTP API.
func NewAskCmd() *cobra.Command {
	var workspace string
	var modelID string
	var kbs []string
	var topK int

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a one-shot question against a workspace's knowledge base",
		Args:  cobra.ExactArgs(1),
		Long: `Run a single question through the retrieval-augmented pipeline and print
the answer to stdout, without starting the HTTP server.

Examples:
  ragcore ask --workspace acme "how do I configure the webhook retry policy?"
  ragcore ask --workspace acme --kb docs --kb runbooks "what ports does the agent use?"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			cfg := loadFullConfig()
			question := args[0]

			if workspace == "" {
				return fmt.Errorf("ask: --workspace is required")
			}

			registry, _, err := buildRegistry(ctx)
			if err != nil {
				return err
			}

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

			allocations := make([]retrieval.Allocation, 0, len(kbs))
			for _, kb := range kbs {
				allocations = append(allocations, retrieval.Allocation{KB: kb, TopK: topK})
			}

			prepared, err := pipeline.Prepare(ctx, ragpipeline.Request{
				Workspace:          workspace,
				ModelID:            modelID,
				Question:           question,
				Allocations:        allocations,
				GlobalTopK:         topK,
				AutoLearnContracts: true,
				SessionID:          "ragcore-ask",
			})
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			if prepared.NoSources {
				fmt.Println(prepared.NoSourcesMessage)
				return nil
			}

			answer, err := pipeline.Answer(ctx, prepared, "ragcore-ask", false)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			fmt.Println(answer)
			if prepared.Contract != nil {
				fmt.Printf("\ncontract: %s protocol=%s type=%s confidence=%.2f\n",
					prepared.Contract.Address, prepared.Contract.Protocol, prepared.Contract.ContractType, prepared.Contract.Confidence)
			}
			for _, s := range prepared.Sources {
				fmt.Printf("source: %s\n", s.URL)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&workspace, "workspace", "", "Target workspace (required)")
	cmd.Flags().StringVar(&modelID, "model", "default", "Caller-facing model id to resolve")
	cmd.Flags().StringSliceVar(&kbs, "kb", nil, "Knowledge base to search (repeatable, searches all if omitted)")
	cmd.Flags().IntVar(&topK, "top-k", 8, "Maximum chunks to retrieve per knowledge base")

	return cmd
}
