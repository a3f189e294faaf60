package retrieval

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/onekey/rag-core-go/internal/store"
)

type fakeStore struct {
	vector  []store.ScoredChunk
	lexical []store.ScoredChunk
}

func (f *fakeStore) VectorSearch(ctx context.Context, workspace string, kbs []string, query []float32, k int) ([]store.ScoredChunk, error) {
	return append([]store.ScoredChunk(nil), f.vector...), nil
}

func (f *fakeStore) LexicalSearch(ctx context.Context, workspace string, kbs []string, query string, k int) ([]store.ScoredChunk, error) {
	return append([]store.ScoredChunk(nil), f.lexical...), nil
}

func TestSearch_HybridMergeFixture(t *testing.T) {
	idA := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	idB := uuid.MustParse("00000000-0000-0000-0000-00000000000b")

	fs := &fakeStore{
		vector: []store.ScoredChunk{
			{Chunk: store.Chunk{ID: idA}, Score: 0.9},
			{Chunk: store.Chunk{ID: idB}, Score: 0.7},
		},
		lexical: []store.ScoredChunk{
			{Chunk: store.Chunk{ID: idB}, Score: 1.0},
		},
	}

	e := New(fs)
	res, err := e.Search(context.Background(), Request{
		Workspace:   "ws",
		Mode:        ModeHybrid,
		Hybrid:      HybridParams{VectorWeight: 0.5, BM25Weight: 0.5},
		GlobalTopK:  10,
		QueryVector: []float32{0.1},
		QueryText:   "query",
	})
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if len(res.Chunks) != 2 {
		t.Fatalf("expected both candidates in merged result, got %d", len(res.Chunks))
	}
	for _, c := range res.Chunks {
		if c.Score < 0.49 || c.Score > 0.51 {
			t.Errorf("expected combined score ~0.5 for chunk %s, got %v", c.ID, c.Score)
		}
	}
}

func TestSearch_VectorModeClampsScore(t *testing.T) {
	idA := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	fs := &fakeStore{vector: []store.ScoredChunk{{Chunk: store.Chunk{ID: idA}, Score: 1.5}}}
	e := New(fs)

	res, err := e.Search(context.Background(), Request{
		Workspace:   "ws",
		Mode:        ModeVector,
		GlobalTopK:  5,
		QueryVector: []float32{0.1},
	})
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if len(res.Chunks) != 1 || res.Chunks[0].Score != 1.0 {
		t.Fatalf("expected score clamped to 1.0, got %+v", res.Chunks)
	}
}

func TestSearch_StrictKBZeroAllocationShortCircuits(t *testing.T) {
	e := New(&fakeStore{})
	res, err := e.Search(context.Background(), Request{
		Workspace:   "ws",
		StrictKB:    true,
		Allocations: []Allocation{{KB: "kb1", TopK: 0}},
		GlobalTopK:  5,
	})
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if len(res.Chunks) != 0 {
		t.Errorf("expected empty result under strict_kb with zero allocation, got %d chunks", len(res.Chunks))
	}
}
