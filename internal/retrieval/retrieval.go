// Package retrieval runs vector and hybrid lexical+vector search over the
// chunk store, merging per-knowledge-base allocations into a single ranked
// result set.
package retrieval

import (
	"context"
	"sort"

	"github.com/onekey/rag-core-go/internal/store"
)

// Mode selects how a single allocation is scored.
type Mode string

const (
	ModeVector Mode = "vector"
	ModeHybrid Mode = "hybrid"
)

// Store is the narrow chunk-search surface retrieval needs.
type Store interface {
	VectorSearch(ctx context.Context, workspace string, kbs []string, query []float32, k int) ([]store.ScoredChunk, error)
	LexicalSearch(ctx context.Context, workspace string, kbs []string, query string, k int) ([]store.ScoredChunk, error)
}

// HybridParams configures the hybrid scoring formula.
type HybridParams struct {
	VectorK      int
	BM25K        int
	VectorWeight float64
	BM25Weight   float64
}

// Allocation requests up to TopK chunks scoped to one knowledge base.
type Allocation struct {
	KB    string
	TopK  int
	Mode  Mode
	Hybrid HybridParams
}

// Request is one retrieval call.
type Request struct {
	Workspace    string
	QueryText    string
	QueryVector  []float32
	Mode         Mode
	Hybrid       HybridParams
	Allocations  []Allocation
	GlobalTopK   int
	// StrictKB, when true and Allocations is non-empty but every
	// allocation's TopK is 0, short-circuits to an empty result before any
	// store query. Without it, zero-TopK allocations are skipped one by one,
	// which also yields an empty result; no unscoped search is run.
	StrictKB bool
}

// Result is the merged, ranked candidate set.
type Result struct {
	Chunks []store.ScoredChunk
}

// Engine runs retrieval requests against a Store.
type Engine struct {
	store Store
}

// New constructs an Engine backed by s.
func New(s Store) *Engine {
	return &Engine{store: s}
}

// Search executes req and returns the merged top-K result.
func (e *Engine) Search(ctx context.Context, req Request) (Result, error) {
	if len(req.Allocations) > 0 {
		return e.searchAllocations(ctx, req)
	}
	return e.searchOne(ctx, req.Workspace, nil, req.QueryText, req.QueryVector, req.Mode, req.Hybrid, req.GlobalTopK)
}

func (e *Engine) searchAllocations(ctx context.Context, req Request) (Result, error) {
	totalK := 0
	for _, a := range req.Allocations {
		totalK += a.TopK
	}
	if req.StrictKB && totalK == 0 {
		return Result{}, nil
	}

	merged := map[string]store.ScoredChunk{}
	for _, a := range req.Allocations {
		if a.TopK <= 0 {
			continue
		}
		mode := a.Mode
		if mode == "" {
			mode = req.Mode
		}
		hybrid := a.Hybrid
		if hybrid == (HybridParams{}) {
			hybrid = req.Hybrid
		}

		res, err := e.searchOne(ctx, req.Workspace, []string{a.KB}, req.QueryText, req.QueryVector, mode, hybrid, a.TopK)
		if err != nil {
			return Result{}, err
		}
		mergeMax(merged, res.Chunks)
	}

	return Result{Chunks: topK(mapValues(merged), req.GlobalTopK)}, nil
}

func (e *Engine) searchOne(ctx context.Context, workspace string, kbs []string, queryText string, queryVec []float32, mode Mode, hybrid HybridParams, k int) (Result, error) {
	if k <= 0 {
		return Result{}, nil
	}

	if mode != ModeHybrid {
		chunks, err := e.store.VectorSearch(ctx, workspace, kbs, queryVec, k)
		if err != nil {
			return Result{}, err
		}
		for i := range chunks {
			chunks[i].Score = clamp01(chunks[i].Score)
		}
		return Result{Chunks: topK(chunks, k)}, nil
	}

	vectorK := hybrid.VectorK
	if vectorK <= 0 {
		vectorK = k
	}
	bm25K := hybrid.BM25K
	if bm25K <= 0 {
		bm25K = k
	}

	vecChunks, err := e.store.VectorSearch(ctx, workspace, kbs, queryVec, vectorK)
	if err != nil {
		return Result{}, err
	}
	lexChunks, err := e.store.LexicalSearch(ctx, workspace, kbs, queryText, bm25K)
	if err != nil {
		return Result{}, err
	}

	vecNorm := minMaxNormalize(vecChunks)
	lexNorm := minMaxNormalize(lexChunks)

	vw, bw := hybrid.VectorWeight, hybrid.BM25Weight
	if vw == 0 && bw == 0 {
		vw, bw = 0.5, 0.5
	}

	combined := map[string]store.ScoredChunk{}
	for id, norm := range vecNorm {
		c := vecNorm[id].chunk
		combined[id] = store.ScoredChunk{Chunk: c.Chunk, PageURL: c.PageURL, PageTitle: c.PageTitle, Score: vw * norm.score}
	}
	for id, norm := range lexNorm {
		existing, ok := combined[id]
		c := norm.chunk
		contribution := bw * norm.score
		if ok {
			existing.Score += contribution
			combined[id] = existing
		} else {
			combined[id] = store.ScoredChunk{Chunk: c.Chunk, PageURL: c.PageURL, PageTitle: c.PageTitle, Score: contribution}
		}
	}

	return Result{Chunks: topK(mapValues(combined), k)}, nil
}

type normalized struct {
	chunk store.ScoredChunk
	score float64
}

// minMaxNormalize rescales each chunk's score into [0,1] via min-max
// normalization over the given candidate set, keyed by chunk id.
func minMaxNormalize(chunks []store.ScoredChunk) map[string]normalized {
	out := map[string]normalized{}
	if len(chunks) == 0 {
		return out
	}

	min, max := chunks[0].Score, chunks[0].Score
	for _, c := range chunks {
		if c.Score < min {
			min = c.Score
		}
		if c.Score > max {
			max = c.Score
		}
	}

	spread := max - min
	for _, c := range chunks {
		score := 1.0
		if spread > 0 {
			score = (c.Score - min) / spread
		}
		out[c.ID.String()] = normalized{chunk: c, score: score}
	}
	return out
}

// mergeMax folds src into dst, keeping the higher score per chunk id.
func mergeMax(dst map[string]store.ScoredChunk, src []store.ScoredChunk) {
	for _, c := range src {
		id := c.ID.String()
		if existing, ok := dst[id]; !ok || c.Score > existing.Score {
			dst[id] = c
		}
	}
}

func mapValues(m map[string]store.ScoredChunk) []store.ScoredChunk {
	out := make([]store.ScoredChunk, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

// topK sorts chunks by score desc, breaking ties by higher chunk id, and
// returns at most k.
func topK(chunks []store.ScoredChunk, k int) []store.ScoredChunk {
	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].Score != chunks[j].Score {
			return chunks[i].Score > chunks[j].Score
		}
		return chunks[i].ID.String() > chunks[j].ID.String()
	})
	if k > 0 && len(chunks) > k {
		chunks = chunks[:k]
	}
	return chunks
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
