// Package worker polls the jobs table on an interval and dispatches claimed
// jobs by type to the crawler, indexer, and file-extraction packages
// (§4.12). It implements the claim/retry/fail lifecycle: stale running jobs
// are recovered, each claim increments an attempt counter, and a failed
// attempt either requeues (attempts < max) or fails the job permanently.
package worker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/onekey/rag-core-go/internal/apperror"
	"github.com/onekey/rag-core-go/internal/contractindex"
	"github.com/onekey/rag-core-go/internal/crawler"
	"github.com/onekey/rag-core-go/internal/fileprocess"
	"github.com/onekey/rag-core-go/internal/ingest"
	"github.com/onekey/rag-core-go/internal/store"
)

// Store is the subset of *store.Store a Worker needs. Narrowed to an
// interface so tests can substitute an in-memory fake.
type Store interface {
	RequeueStale(ctx context.Context, staleAfter time.Duration, batch int) (int, error)
	ClaimNext(ctx context.Context, workerID string, jobTypes ...store.JobType) (store.Job, bool, error)
	CompleteJob(ctx context.Context, id uuid.UUID, status store.JobStatus, progress map[string]any, jobErr string) error
	RequeueJob(ctx context.Context, id uuid.UUID, jobErr string) error
	SetFileItemStatus(ctx context.Context, id uuid.UUID, status, errText string) error
}

// Config bounds the poll loop and retry policy.
type Config struct {
	// PollInterval is how often the worker ticks. Defaults to 5s if zero.
	PollInterval time.Duration
	// StaleAfter is how long a running job may go without completing
	// before it is considered abandoned and requeued. Defaults to 10m.
	StaleAfter time.Duration
	// StaleBatch bounds how many stale jobs are recovered per tick.
	// Defaults to 10, per §4.12 step 1.
	StaleBatch int
	// MaxAttempts is the retry ceiling before a job is marked failed.
	// Defaults to 3.
	MaxAttempts int
	// WorkerID identifies this worker process in claimed jobs.
	WorkerID string
}

func (cfg Config) resolved() Config {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 10 * time.Minute
	}
	if cfg.StaleBatch <= 0 {
		cfg.StaleBatch = 10
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = "worker-1"
	}
	return cfg
}

// Worker polls for and dispatches jobs.
type Worker struct {
	store     Store
	indexer   *ingest.Indexer
	contracts *contractindex.Index
	cfg       Config
	logger    *slog.Logger
}

// New constructs a Worker. indexer performs `index`/`file_process` chunk
// regeneration; contracts is optional — when non-nil, a successful `index`
// job triggers a contract auto-learn pass over the same scope.
func New(s Store, idx *ingest.Indexer, contracts *contractindex.Index, cfg Config, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{store: s, indexer: idx, contracts: contracts, cfg: cfg.resolved(), logger: logger}
}

// Run polls until ctx is cancelled, processing at most one job per tick.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// tick runs one poll cycle: recover stale jobs, then claim and run at most
// one job.
func (w *Worker) tick(ctx context.Context) {
	if n, err := w.store.RequeueStale(ctx, w.cfg.StaleAfter, w.cfg.StaleBatch); err != nil {
		w.logger.Error("worker: requeue stale jobs failed", "error", err)
	} else if n > 0 {
		w.logger.Info("worker: requeued stale jobs", "count", n)
	}

	job, ok, err := w.store.ClaimNext(ctx, w.cfg.WorkerID, store.JobTypeCrawl, store.JobTypeIndex, store.JobTypeFileProcess)
	if err != nil {
		w.logger.Error("worker: claim failed", "error", err)
		return
	}
	if !ok {
		return
	}

	w.run(ctx, job)
}

// run dispatches one claimed job by type and settles its terminal status.
func (w *Worker) run(ctx context.Context, job store.Job) {
	var progress map[string]any
	var err error

	switch job.Type {
	case store.JobTypeCrawl:
		progress, err = w.runCrawl(ctx, job)
	case store.JobTypeIndex:
		progress, err = w.runIndex(ctx, job)
	case store.JobTypeFileProcess:
		progress, err = w.runFileProcess(ctx, job)
	default:
		err = fmt.Errorf("worker: unknown job type %q", job.Type)
	}

	if err == nil {
		if cerr := w.store.CompleteJob(ctx, job.ID, store.JobStatusSucceeded, mergeProgressMeta(job.Progress, progress), ""); cerr != nil {
			w.logger.Error("worker: mark succeeded failed", "job_id", job.ID, "error", cerr)
		}
		return
	}

	w.logger.Error("worker: job failed", "job_id", job.ID, "type", job.Type, "attempts", job.Attempts(), "error", err)
	if job.Attempts() < w.cfg.MaxAttempts {
		if rerr := w.store.RequeueJob(ctx, job.ID, err.Error()); rerr != nil {
			w.logger.Error("worker: requeue failed", "job_id", job.ID, "error", rerr)
		}
		return
	}
	if cerr := w.store.CompleteJob(ctx, job.ID, store.JobStatusFailed, mergeProgressMeta(job.Progress, progress), err.Error()); cerr != nil {
		w.logger.Error("worker: mark failed failed", "job_id", job.ID, "error", cerr)
	}
}

// mergeProgressMeta folds claimed's "_meta" key (the attempts counter
// ClaimNext wrote) into result, since CompleteJob replaces the whole
// progress column rather than patching it — without this, a completed
// job's progress._meta would be dropped, resetting Attempts() to 0.
func mergeProgressMeta(claimed map[string]any, result map[string]any) map[string]any {
	if result == nil {
		result = map[string]any{}
	}
	if meta, ok := claimed["_meta"]; ok {
		result["_meta"] = meta
	}
	return result
}

type crawlPayload struct {
	Workspace  string   `json:"workspace"`
	KB         string   `json:"kb"`
	SitemapURL string   `json:"sitemap_url"`
	SeedURLs   []string `json:"seed_urls"`
	Include    []string `json:"include"`
	Exclude    []string `json:"exclude"`
	MaxPages   int      `json:"max_pages"`
}

// runCrawl resolves and fetches the job's page set, then upserts each
// fetched page. Per-URL fetch failures are recorded in progress and do not
// fail the job; only a resolution failure (bad sitemap, no URLs configured)
// does.
func (w *Worker) runCrawl(ctx context.Context, job store.Job) (map[string]any, error) {
	p := decodePayload[crawlPayload](job.Payload)

	includeRe, _ := crawler.CompilePatterns(p.Include)
	excludeRe, _ := crawler.CompilePatterns(p.Exclude)

	c := crawler.New(crawler.Config{
		MaxPages: p.MaxPages,
		Include:  includeRe,
		Exclude:  excludeRe,
	})

	var pages []crawler.Page
	var failures []crawler.FetchFailure
	var err error
	if p.SitemapURL != "" {
		pages, failures, err = c.CrawlSitemap(ctx, p.SitemapURL)
	} else {
		pages, failures, err = c.CrawlSeeds(ctx, p.SeedURLs)
	}
	if err != nil {
		return nil, apperror.WorkerTransient("worker: crawl", err)
	}

	for _, page := range pages {
		if _, err := w.indexer.UpsertPage(ctx, p.Workspace, p.KB, page.URL, page.URL, page.Body, page.HTTPStatus); err != nil {
			failures = append(failures, crawler.FetchFailure{URL: page.URL, Err: err})
		}
	}

	progress := map[string]any{"pages_fetched": len(pages), "failures": len(failures)}
	return progress, nil
}

type indexPayload struct {
	Workspace string `json:"workspace"`
	KB        string `json:"kb"`
	Full      bool   `json:"full"`
}

// runIndex regenerates chunks for every page in the job's scope needing a
// refresh, then runs a contract auto-learn batch over the same scope.
func (w *Worker) runIndex(ctx context.Context, job store.Job) (map[string]any, error) {
	p := decodePayload[indexPayload](job.Payload)

	n, err := w.indexer.Run(ctx, p.Workspace, p.KB, p.Full)
	if err != nil {
		return map[string]any{"pages_indexed": n}, apperror.WorkerTransient("worker: index", err)
	}

	learned := 0
	if w.contracts != nil {
		learned, _ = w.contracts.BatchBuild(ctx, p.Workspace, p.KB, false)
	}
	return map[string]any{"pages_indexed": n, "contracts_learned": learned}, nil
}

type fileItemPayload struct {
	ID            uuid.UUID `json:"id"`
	Filename      string    `json:"filename"`
	ContentBase64 string    `json:"content_base64"`
}

type fileProcessPayload struct {
	Workspace string            `json:"workspace"`
	KB        string            `json:"kb"`
	BatchID   uuid.UUID         `json:"batch_id"`
	Items     []fileItemPayload `json:"items"`
}

// runFileProcess extracts text from each uploaded file by extension
// dispatch, upserts a synthetic page per file, and runs an incremental
// index pass over the batch's (workspace, kb) scope. A single item's
// extraction failure is recorded on that FileItem and does not stop the
// others, per §3's "failure of one item is independent of others".
func (w *Worker) runFileProcess(ctx context.Context, job store.Job) (map[string]any, error) {
	p := decodePayload[fileProcessPayload](job.Payload)

	succeeded, failed := 0, 0
	for _, item := range p.Items {
		raw, err := base64.StdEncoding.DecodeString(item.ContentBase64)
		if err != nil {
			w.failItem(ctx, item, fmt.Errorf("decode upload: %w", err))
			failed++
			continue
		}

		text, err := fileprocess.Extract(item.Filename, raw)
		if err != nil {
			w.failItem(ctx, item, err)
			failed++
			continue
		}

		url := ingest.FilePageURL(p.BatchID, item.Filename)
		if _, err := w.indexer.UpsertPage(ctx, p.Workspace, p.KB, url, item.Filename, text, 0); err != nil {
			w.failItem(ctx, item, err)
			failed++
			continue
		}

		if err := w.store.SetFileItemStatus(ctx, item.ID, "completed", ""); err != nil {
			w.logger.Error("worker: set file item status failed", "item_id", item.ID, "error", err)
		}
		succeeded++
	}

	if _, err := w.indexer.Run(ctx, p.Workspace, p.KB, false); err != nil {
		return map[string]any{"succeeded": succeeded, "failed": failed}, apperror.WorkerTransient("worker: file_process index pass", err)
	}

	return map[string]any{"succeeded": succeeded, "failed": failed}, nil
}

func (w *Worker) failItem(ctx context.Context, item fileItemPayload, err error) {
	if serr := w.store.SetFileItemStatus(ctx, item.ID, "failed", err.Error()); serr != nil {
		w.logger.Error("worker: set file item status failed", "item_id", item.ID, "error", serr)
	}
}

// decodePayload re-marshals a map[string]any Payload into T via JSON,
// matching how every job payload is actually stored (JSONB round-tripped
// through encoding/json). A malformed payload decodes to T's zero value.
func decodePayload[T any](payload map[string]any) T {
	var out T
	data, err := json.Marshal(payload)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(data, &out)
	return out
}
