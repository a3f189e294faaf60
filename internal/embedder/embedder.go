// Package embedder provides implementations of a uniform embedding interface
// for converting text into dense, L2-normalized, fixed-dimension vectors.
// Each implementation talks to a different backend (OpenAI, Azure OpenAI,
// Ollama, or a deterministic-hash fallback) via plain HTTP — no additional
// SDK dependencies are required, following the teacher's own choice here.
package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
)

// Embedder is the uniform operation spec.md §4.3 requires:
// embed_documents(texts[])→vectors[], embed_query(text)→vector. Vectors are
// L2-normalized and of a fixed dimension D configured at deploy. A failed
// remote call propagates as a retryable error — implementations MUST NOT
// silently return a zero vector.
type Embedder interface {
	// EmbedDocuments embeds a batch of texts. The returned slice is parallel
	// to the input slice. len(texts) must be ≤ the backend's batch limit
	// (spec.md §6 caps remote batches at 64); callers are responsible for
	// chunking larger batches.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a single query string.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Dimensions reports D, the fixed output vector length.
	Dimensions() int
}

// normalizeL2 scales v to unit length in place and returns it. A zero vector
// is returned unchanged (division by zero is avoided, not hidden — callers
// that receive an all-zero input embedding will get an all-zero output,
// which is distinguishable from every real normalized vector since none has
// norm 0).
func normalizeL2(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := float32(math.Sqrt(sumSq))
	for i := range v {
		v[i] /= norm
	}
	return v
}

func normalizeAllL2(vs [][]float32) [][]float32 {
	for i := range vs {
		vs[i] = normalizeL2(vs[i])
	}
	return vs
}

// HashEmbedder is the deterministic-hash fallback backend named in spec.md
// §4.3 and §9 ("Dynamic embedding-provider selection at runtime"): it derives
// a reproducible pseudo-random vector from a SHA-256 of the input text, with
// no network dependency. It exists for tests and offline/air-gapped
// deployments — it carries no semantic meaning, only determinism.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder constructs a HashEmbedder producing vectors of the given
// dimension.
func NewHashEmbedder(dims int) *HashEmbedder {
	return &HashEmbedder{dims: dims}
}

func (e *HashEmbedder) Dimensions() int { return e.dims }

func (e *HashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return e.embedOne(text), nil
}

func (e *HashEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.embedOne(t)
	}
	return out, nil
}

func (e *HashEmbedder) embedOne(text string) []float32 {
	v := make([]float32, e.dims)
	seed := sha256.Sum256([]byte(text))
	block := seed[:]
	for i := 0; i < e.dims; i++ {
		if i > 0 && i%len(block) == 0 {
			next := sha256.Sum256(block)
			block = next[:]
		}
		off := i % (len(block) - 4)
		bits := binary.BigEndian.Uint32(block[off : off+4])
		// map to [-1, 1]
		v[i] = float32(bits)/float32(math.MaxUint32)*2 - 1
	}
	return normalizeL2(v)
}

// dimensionMismatchErr is returned when a remote backend's response count
// does not match the request count — spec.md §4.3 forbids silently returning
// zero vectors, so this is a hard error, never patched over.
func dimensionMismatchErr(backend string, want, got int) error {
	return fmt.Errorf("%s embedder: expected %d embeddings, got %d", backend, want, got)
}
