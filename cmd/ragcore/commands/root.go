// Package commands defines all Cobra CLI commands for the ragcore binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/onekey/rag-core-go/internal/audit"
	"github.com/onekey/rag-core-go/internal/config"
	"github.com/onekey/rag-core-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging
// and for commands that need the full parsed config (e.g. model families,
// contract host-fragment table) beyond what Load's env-var overlay exposes.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ragcore",
		Short: "ragcore — RAG query and ingest service over crawled developer docs",
		Long: `ragcore answers questions against a retrieval-augmented knowledge base built
from crawled documentation and uploaded files, and resolves blockchain
contract addresses to the protocol metadata extracted from that same
knowledge base.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.ragcore/config.yaml).
See 'ragcore --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.ragcore/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewWorkerCmd(),
		NewIngestCmd(),
		NewAskCmd(),
		NewDiagnoseCmd(),
		NewVersionCmd(),
	)

	return root
}
