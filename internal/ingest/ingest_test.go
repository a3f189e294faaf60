package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/onekey/rag-core-go/internal/chunker"
	"github.com/onekey/rag-core-go/internal/store"
)

type fakeEmbedder struct {
	dims int
	err  error
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dims)
	}
	return out, nil
}
func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, f.dims), f.err
}
func (f *fakeEmbedder) Dimensions() int { return f.dims }

type fakePageStore struct {
	pages          []store.Page
	replacedChunks map[uuid.UUID][]store.Chunk
	replaceErr     error
}

func (s *fakePageStore) UpsertPage(ctx context.Context, p store.Page) (store.Page, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	s.pages = append(s.pages, p)
	return p, nil
}

func (s *fakePageStore) PagesNeedingIndex(ctx context.Context, workspace, kb string, full bool) ([]store.Page, error) {
	return s.pages, nil
}

func (s *fakePageStore) ReplaceChunks(ctx context.Context, pageID uuid.UUID, workspace, kb string, chunks []store.Chunk) error {
	if s.replaceErr != nil {
		return s.replaceErr
	}
	if s.replacedChunks == nil {
		s.replacedChunks = map[uuid.UUID][]store.Chunk{}
	}
	s.replacedChunks[pageID] = chunks
	return nil
}

func TestRun_IndexesEveryPageNeedingRefresh(t *testing.T) {
	pageID := uuid.New()
	ps := &fakePageStore{pages: []store.Page{
		{ID: pageID, Workspace: "ws", KB: "docs", URL: "https://a.example", ContentMarkdown: "# Title\n\nBody text about staking."},
	}}
	ix := New(ps, &fakeEmbedder{dims: 4}, chunker.Config{}, "test-embed-v1")

	n, err := ix.Run(context.Background(), "ws", "docs", false)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 page indexed, got %d", n)
	}
	chunks, ok := ps.replacedChunks[pageID]
	if !ok || len(chunks) == 0 {
		t.Fatal("expected chunks to be written for the page")
	}
	for _, c := range chunks {
		if c.EmbeddingModel != "test-embed-v1" {
			t.Errorf("expected embedding model recorded on chunk, got %q", c.EmbeddingModel)
		}
		if len(c.Embedding) != 4 {
			t.Errorf("expected 4-dim embedding, got %d", len(c.Embedding))
		}
	}
}

func TestRun_OnePageFailureDoesNotStopOthers(t *testing.T) {
	okPage := store.Page{ID: uuid.New(), Workspace: "ws", KB: "docs", URL: "https://ok.example", ContentMarkdown: "# Ok\n\nfine."}
	ps := &fakePageStore{pages: []store.Page{okPage}}
	ix := New(ps, &fakeEmbedder{err: errors.New("embedding backend down")}, chunker.Config{}, "m")

	n, err := ix.Run(context.Background(), "ws", "docs", false)
	if err == nil {
		t.Fatal("expected an error to surface from the failing page")
	}
	if n != 0 {
		t.Errorf("expected 0 pages successfully indexed, got %d", n)
	}
}

func TestUpsertPage_SetsContentHashFromContent(t *testing.T) {
	ps := &fakePageStore{}
	ix := New(ps, &fakeEmbedder{dims: 4}, chunker.Config{}, "m")

	p, err := ix.UpsertPage(context.Background(), "ws", "docs", "https://a.example", "Title", "body text", 200)
	if err != nil {
		t.Fatalf("UpsertPage error: %v", err)
	}
	if p.ContentHash != ContentHash("body text") {
		t.Errorf("expected content hash to match ContentHash(content), got %q", p.ContentHash)
	}
}

func TestFilePageURL_UsesFileScheme(t *testing.T) {
	batch := uuid.New()
	url := FilePageURL(batch, "report.pdf")
	want := "file://" + batch.String() + "/report.pdf"
	if url != want {
		t.Errorf("expected %q, got %q", want, url)
	}
}
