package reranker

import (
	"context"
	"errors"
	"testing"

	"github.com/onekey/rag-core-go/internal/store"
)

type fakeScorer struct {
	scores []float64
	err    error
}

func (f *fakeScorer) Score(ctx context.Context, query string, candidates []string) ([]float64, error) {
	return f.scores, f.err
}

func chunksWithText(texts ...string) []store.ScoredChunk {
	out := make([]store.ScoredChunk, len(texts))
	for i, t := range texts {
		out[i] = store.ScoredChunk{Chunk: store.Chunk{ChunkText: t}}
	}
	return out
}

func TestRerank_ReordersByScore(t *testing.T) {
	r := New(&fakeScorer{scores: []float64{0.1, 0.9, 0.5}}, Config{})
	in := chunksWithText("a", "b", "c")

	out := r.Rerank(context.Background(), "query", in, 3)
	if out[0].ChunkText != "b" || out[1].ChunkText != "c" || out[2].ChunkText != "a" {
		t.Fatalf("unexpected order: %+v", out)
	}
}

func TestRerank_FallsBackOnScorerError(t *testing.T) {
	r := New(&fakeScorer{err: errors.New("upstream down")}, Config{})
	in := chunksWithText("a", "b", "c")

	out := r.Rerank(context.Background(), "query", in, 2)
	if len(out) != 2 || out[0].ChunkText != "a" || out[1].ChunkText != "b" {
		t.Fatalf("expected pre-rerank order truncated to topN, got %+v", out)
	}
}

func TestRerank_NilScorerFallsBack(t *testing.T) {
	r := New(nil, Config{})
	in := chunksWithText("a", "b")
	out := r.Rerank(context.Background(), "query", in, 1)
	if len(out) != 1 || out[0].ChunkText != "a" {
		t.Fatalf("expected pre-rerank order, got %+v", out)
	}
}
