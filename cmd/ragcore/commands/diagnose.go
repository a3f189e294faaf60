package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/onekey/rag-core-go/internal/logging"
	"github.com/onekey/rag-core-go/internal/server"
)

// NewDiagnoseCmd constructs the `ragcore diagnose` command, which pings each
// configured backend dependency (store, embedder, chat model) and prints a
// pass/fail report — the RAG-domain equivalent of the source agent's
// plan/apply failure analysis, repurposed since this service has no
// Terraform plan to diagnose.
func NewDiagnoseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Check connectivity to the store, embedder, and chat model backends",
		Long: `Probe every configured dependency and report whether it is reachable:
the relational store, the embedding backend, and the chat model provider.

Examples:
  ragcore diagnose
  MODEL_PROVIDER=openai ragcore diagnose`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			failed := false

			_, providerCfg, err := buildRegistry(ctx)
			if err != nil {
				fmt.Printf("%-16s FAIL  (%v)\n", "model registry", err)
				failed = true
			} else {
				for _, p := range buildPingers(providerCfg, nil) {
					if err := p.Ping(ctx); err != nil {
						fmt.Printf("%-16s FAIL  (%v)\n", p.Name(), err)
						failed = true
					} else {
						fmt.Printf("%-16s OK\n", p.Name())
					}
				}
			}

			emb, err := buildEmbedder(log)
			if err == nil {
				_, err = emb.EmbedQuery(ctx, "ping")
			}
			if err != nil {
				fmt.Printf("%-16s FAIL  (%v)\n", "embedder", err)
				failed = true
			} else {
				fmt.Printf("%-16s OK\n", "embedder")
			}

			st, err := buildStore(ctx)
			if err != nil {
				fmt.Printf("%-16s FAIL  (%v)\n", "store", err)
				failed = true
			} else {
				defer st.Close()
				storePing := server.NewStorePinger(st)
				if err := storePing.Ping(ctx); err != nil {
					fmt.Printf("%-16s FAIL  (%v)\n", storePing.Name(), err)
					failed = true
				} else {
					fmt.Printf("%-16s OK\n", storePing.Name())
				}
			}

			if failed {
				os.Exit(1)
			}
			return nil
		},
	}

	return cmd
}
