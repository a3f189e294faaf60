package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/onekey/rag-core-go/internal/logging"
	"github.com/onekey/rag-core-go/internal/store"
)

// NewIngestCmd constructs the `ragcore ingest` command, which enqueues a
// crawl job for a worker to process rather than crawling synchronously —
// crawl/index work runs through the same jobs table the HTTP API's batch
// endpoints use, so a CLI-triggered crawl shows up in the same queue and
// gets the same retry/stale-recovery behaviour as any other enqueued job.
func NewIngestCmd() *cobra.Command {
	var workspace string
	var kb string
	var sitemapURL string
	var seedURLs []string
	var include []string
	var exclude []string
	var maxPages int

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Enqueue a crawl job to populate a knowledge base",
		Long: `Enqueue a crawl job against a sitemap or a set of seed URLs. A running
'ragcore worker' process claims and executes the job, fetching pages and
indexing them into the workspace's knowledge base.

Examples:
  ragcore ingest --workspace acme --kb docs --sitemap https://docs.example.com/sitemap.xml
  ragcore ingest --workspace acme --kb docs --seed https://docs.example.com/intro`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			if workspace == "" {
				return fmt.Errorf("ingest: --workspace is required")
			}
			if kb == "" {
				return fmt.Errorf("ingest: --kb is required")
			}
			if sitemapURL == "" && len(seedURLs) == 0 {
				return fmt.Errorf("ingest: one of --sitemap or --seed is required")
			}

			st, err := buildStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			payload := map[string]any{
				"workspace":   workspace,
				"kb":          kb,
				"sitemap_url": sitemapURL,
				"seed_urls":   seedURLs,
				"include":     include,
				"exclude":     exclude,
				"max_pages":   maxPages,
			}

			job, err := st.EnqueueJob(ctx, store.JobTypeCrawl, payload)
			if err != nil {
				return fmt.Errorf("ingest: failed to enqueue crawl job: %w", err)
			}

			log.Info("ingest: crawl job enqueued", "job_id", job.ID, "workspace", workspace, "kb", kb)
			fmt.Printf("enqueued crawl job %s for workspace=%s kb=%s\n", job.ID, workspace, kb)
			return nil
		},
	}

	cmd.Flags().StringVar(&workspace, "workspace", "", "Target workspace (required)")
	cmd.Flags().StringVar(&kb, "kb", "", "Target knowledge base (required)")
	cmd.Flags().StringVar(&sitemapURL, "sitemap", "", "Sitemap URL to crawl")
	cmd.Flags().StringSliceVar(&seedURLs, "seed", nil, "Seed URL to crawl (repeatable)")
	cmd.Flags().StringSliceVar(&include, "include", nil, "URL include pattern (repeatable)")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "URL exclude pattern (repeatable)")
	cmd.Flags().IntVar(&maxPages, "max-pages", 500, "Maximum pages to crawl")

	return cmd
}
