// Package reranker reorders retrieval candidates with a cross-encoder style
// scorer. A reranker failure is never fatal — it falls back to the
// pre-rerank order.
package reranker

import (
	"context"
	"sort"

	"github.com/onekey/rag-core-go/internal/store"
)

// Scorer scores (query, candidate) pairs. Implementations may call a local
// cross-encoder model or a remote reranking endpoint.
type Scorer interface {
	Score(ctx context.Context, query string, candidates []string) ([]float64, error)
}

// Config bounds one rerank call.
type Config struct {
	MaxCandidates int
	MaxChars      int
}

const (
	defaultMaxCandidates = 50
	defaultMaxChars      = 2000
)

func (cfg Config) resolved() Config {
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = defaultMaxCandidates
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = defaultMaxChars
	}
	return cfg
}

// Reranker reorders chunks by relevance to a query.
type Reranker struct {
	scorer Scorer
	cfg    Config
}

// New constructs a Reranker backed by scorer.
func New(scorer Scorer, cfg Config) *Reranker {
	return &Reranker{scorer: scorer, cfg: cfg.resolved()}
}

// Rerank reorders the first r.cfg.MaxCandidates of chunks by cross-encoder
// score against query and returns the top topN. On any scorer error it
// returns chunks truncated to topN in their original order.
func (r *Reranker) Rerank(ctx context.Context, query string, chunks []store.ScoredChunk, topN int) []store.ScoredChunk {
	if r == nil || r.scorer == nil {
		return truncate(chunks, topN)
	}

	candidates := chunks
	if len(candidates) > r.cfg.MaxCandidates {
		candidates = candidates[:r.cfg.MaxCandidates]
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		text := c.ChunkText
		if len(text) > r.cfg.MaxChars {
			text = text[:r.cfg.MaxChars]
		}
		texts[i] = text
	}

	scores, err := r.scorer.Score(ctx, query, texts)
	if err != nil || len(scores) != len(candidates) {
		return truncate(chunks, topN)
	}

	reordered := make([]store.ScoredChunk, len(candidates))
	copy(reordered, candidates)
	for i := range reordered {
		reordered[i].Score = scores[i]
	}

	sort.SliceStable(reordered, func(i, j int) bool {
		return reordered[i].Score > reordered[j].Score
	})

	return truncate(reordered, topN)
}

func truncate(chunks []store.ScoredChunk, n int) []store.ScoredChunk {
	if n > 0 && len(chunks) > n {
		return chunks[:n]
	}
	return chunks
}
