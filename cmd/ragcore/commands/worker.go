package commands

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/onekey/rag-core-go/internal/chunker"
	"github.com/onekey/rag-core-go/internal/ingest"
	"github.com/onekey/rag-core-go/internal/logging"
	"github.com/onekey/rag-core-go/internal/worker"
)

// NewWorkerCmd constructs the `ragcore worker` command. It has no teacher
// equivalent — the source agent had no background job queue. It polls the
// jobs table, dispatching crawl/index/file_process jobs until interrupted.
func NewWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the background job worker (crawl, index, file processing)",
		Long: `Run the background job worker, which polls the jobs table on an
interval and dispatches claimed jobs to the crawler, indexer, and file
extraction packages until interrupted.

Examples:
  ragcore worker
  WORKER_POLL_INTERVAL_SECONDS=2 ragcore worker`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()

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

			indexer := ingest.New(st, emb, chunker.Config{
				MaxChars:     getEnvInt("CHUNKING_MAX_CHARS", 0),
				OverlapChars: getEnvInt("CHUNKING_OVERLAP_CHARS", 0),
			}, getEnvOrDefault("EMBEDDING_MODEL", ""))

			w := worker.New(st, indexer, contracts, worker.Config{
				PollInterval: time.Duration(getEnvInt("WORKER_POLL_INTERVAL_SECONDS", 5)) * time.Second,
				StaleAfter:   time.Duration(getEnvInt("WORKER_STALE_AFTER_SECONDS", 600)) * time.Second,
				StaleBatch:   getEnvInt("WORKER_STALE_BATCH", 10),
				MaxAttempts:  getEnvInt("WORKER_MAX_ATTEMPTS", 3),
				WorkerID:     getEnvOrDefault("WORKER_ID", "worker-1"),
			}, log)

			log.Info("worker: starting poll loop")
			w.Run(ctx)
			log.Info("worker: stopped")
			return nil
		},
	}

	return cmd
}
