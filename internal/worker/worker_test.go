package worker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/onekey/rag-core-go/internal/chunker"
	"github.com/onekey/rag-core-go/internal/ingest"
	"github.com/onekey/rag-core-go/internal/store"
)

type fakeEmbedder struct{ dims int }

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dims)
	}
	return out, nil
}
func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, f.dims), nil
}
func (f *fakeEmbedder) Dimensions() int { return f.dims }

type fakeStore struct {
	jobs              []store.Job
	completed         map[uuid.UUID]store.JobStatus
	completedProgress map[uuid.UUID]map[string]any
	requeued          map[uuid.UUID]string
	pages             []store.Page
	chunksByPage      map[uuid.UUID][]store.Chunk
	itemStatus        map[uuid.UUID]string
	claimed           bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		completed:         map[uuid.UUID]store.JobStatus{},
		completedProgress: map[uuid.UUID]map[string]any{},
		requeued:          map[uuid.UUID]string{},
		chunksByPage:      map[uuid.UUID][]store.Chunk{},
		itemStatus:        map[uuid.UUID]string{},
	}
}

func (s *fakeStore) RequeueStale(ctx context.Context, staleAfter time.Duration, batch int) (int, error) {
	return 0, nil
}

func (s *fakeStore) ClaimNext(ctx context.Context, workerID string, jobTypes ...store.JobType) (store.Job, bool, error) {
	if s.claimed || len(s.jobs) == 0 {
		return store.Job{}, false, nil
	}
	s.claimed = true
	job := s.jobs[0]
	return job, true, nil
}

func (s *fakeStore) CompleteJob(ctx context.Context, id uuid.UUID, status store.JobStatus, progress map[string]any, jobErr string) error {
	s.completed[id] = status
	s.completedProgress[id] = progress
	return nil
}

func (s *fakeStore) RequeueJob(ctx context.Context, id uuid.UUID, jobErr string) error {
	s.requeued[id] = jobErr
	return nil
}

func (s *fakeStore) SetFileItemStatus(ctx context.Context, id uuid.UUID, status, errText string) error {
	s.itemStatus[id] = status
	return nil
}

func (s *fakeStore) UpsertPage(ctx context.Context, p store.Page) (store.Page, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	s.pages = append(s.pages, p)
	return p, nil
}

func (s *fakeStore) PagesNeedingIndex(ctx context.Context, workspace, kb string, full bool) ([]store.Page, error) {
	return s.pages, nil
}

func (s *fakeStore) ReplaceChunks(ctx context.Context, pageID uuid.UUID, workspace, kb string, chunks []store.Chunk) error {
	s.chunksByPage[pageID] = chunks
	return nil
}

func newIndexer(s *fakeStore) *ingest.Indexer {
	return ingest.New(s, &fakeEmbedder{dims: 4}, chunker.Config{}, "test-embed")
}

func TestRunCrawl_UpsertsFetchedPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello from crawl"))
	}))
	defer srv.Close()

	s := newFakeStore()
	w := New(s, newIndexer(s), nil, Config{}, nil)

	payload, _ := json.Marshal(map[string]any{
		"workspace": "ws", "kb": "docs", "seed_urls": []string{srv.URL + "/a"},
	})
	var raw map[string]any
	_ = json.Unmarshal(payload, &raw)

	job := store.Job{ID: uuid.New(), Type: store.JobTypeCrawl, Payload: raw}
	progress, err := w.runCrawl(context.Background(), job)
	if err != nil {
		t.Fatalf("runCrawl error: %v", err)
	}
	if progress["pages_fetched"] != 1 {
		t.Fatalf("expected 1 page fetched, got %+v", progress)
	}
	if len(s.pages) != 1 || s.pages[0].ContentMarkdown != "hello from crawl" {
		t.Fatalf("expected the crawled page upserted, got %+v", s.pages)
	}
}

func TestRunFileProcess_OneItemFailureDoesNotStopOthers(t *testing.T) {
	s := newFakeStore()
	w := New(s, newIndexer(s), nil, Config{}, nil)

	goodID := uuid.New()
	badID := uuid.New()
	payload := map[string]any{
		"workspace": "ws", "kb": "docs", "batch_id": uuid.New().String(),
		"items": []map[string]any{
			{"id": goodID.String(), "filename": "notes.txt", "content_base64": base64.StdEncoding.EncodeToString([]byte("plain text body"))},
			{"id": badID.String(), "filename": "archive.rar", "content_base64": base64.StdEncoding.EncodeToString([]byte("binary junk"))},
		},
	}
	data, _ := json.Marshal(payload)
	var raw map[string]any
	_ = json.Unmarshal(data, &raw)

	job := store.Job{ID: uuid.New(), Type: store.JobTypeFileProcess, Payload: raw}
	progress, err := w.runFileProcess(context.Background(), job)
	if err != nil {
		t.Fatalf("runFileProcess error: %v", err)
	}
	if progress["succeeded"] != 1 || progress["failed"] != 1 {
		t.Fatalf("expected 1 succeeded and 1 failed item, got %+v", progress)
	}
	if s.itemStatus[goodID] != "completed" {
		t.Errorf("expected good item marked completed, got %q", s.itemStatus[goodID])
	}
	if s.itemStatus[badID] != "failed" {
		t.Errorf("expected bad item marked failed, got %q", s.itemStatus[badID])
	}
}

func TestRun_RetriesUnderMaxAttemptsThenFails(t *testing.T) {
	s := newFakeStore()
	jobID := uuid.New()
	w := New(s, newIndexer(s), nil, Config{MaxAttempts: 2}, nil)

	job := store.Job{ID: jobID, Type: "unknown_type", Progress: map[string]any{"_meta": map[string]any{"attempts": float64(1)}}}
	w.run(context.Background(), job)
	if _, requeued := s.requeued[jobID]; !requeued {
		t.Fatal("expected first failure under max attempts to requeue the job")
	}

	job.Progress = map[string]any{"_meta": map[string]any{"attempts": float64(2)}}
	w.run(context.Background(), job)
	if s.completed[jobID] != store.JobStatusFailed {
		t.Fatalf("expected job marked failed once attempts reach the ceiling, got %v", s.completed[jobID])
	}
}

func TestRun_CompletedJobPreservesAttemptsMeta(t *testing.T) {
	s := newFakeStore()
	jobID := uuid.New()
	w := New(s, newIndexer(s), nil, Config{}, nil)

	job := store.Job{
		ID:      jobID,
		Type:    store.JobTypeIndex,
		Payload: map[string]any{"workspace": "ws", "kb": "kb"},
		Progress: map[string]any{
			"_meta": map[string]any{"attempts": float64(1)},
		},
	}
	w.run(context.Background(), job)

	progress := s.completedProgress[jobID]
	meta, ok := progress["_meta"].(map[string]any)
	if !ok {
		t.Fatalf("expected completed progress to retain _meta, got %+v", progress)
	}
	if meta["attempts"] != float64(1) {
		t.Errorf("expected attempts=1 preserved through completion, got %v", meta["attempts"])
	}
}

func TestDecodePayload_MalformedPayloadYieldsZeroValue(t *testing.T) {
	got := decodePayload[indexPayload](map[string]any{"full": "not-a-bool"})
	if got.Full != false {
		t.Errorf("expected zero value on malformed payload, got %+v", got)
	}
}
