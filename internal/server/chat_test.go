package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/onekey/rag-core-go/internal/promptbuilder"
	"github.com/onekey/rag-core-go/internal/provider"
	"github.com/onekey/rag-core-go/internal/ragpipeline"
	"github.com/onekey/rag-core-go/internal/retrieval"
	"github.com/onekey/rag-core-go/internal/store"
)

type fakeChatModel struct {
	model.ToolCallingChatModel
	content string
}

func (f *fakeChatModel) Generate(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	return schema.AssistantMessage(f.content, nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return schema.StreamReaderFromArray([]*schema.Message{schema.AssistantMessage(f.content, nil)}), nil
}

type fakeResolver struct {
	m  model.ToolCallingChatModel
	ok bool
}

func (r *fakeResolver) Resolve(id string) (model.ToolCallingChatModel, provider.Family, bool) {
	return r.m, provider.Family{ID: "onekey-docs"}, r.ok
}

type fakeEmbedder struct{ vec []float32 }

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}
func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return f.vec, nil
}
func (f *fakeEmbedder) Dimensions() int { return len(f.vec) }

type fakeRetrievalStore struct{ chunks []store.ScoredChunk }

func (s *fakeRetrievalStore) VectorSearch(ctx context.Context, workspace string, kbs []string, query []float32, k int) ([]store.ScoredChunk, error) {
	return s.chunks, nil
}
func (s *fakeRetrievalStore) LexicalSearch(ctx context.Context, workspace string, kbs []string, query string, k int) ([]store.ScoredChunk, error) {
	return nil, nil
}

// newChatTestServer builds a *Server whose pipeline is backed entirely by
// fakes, with chunks pre-seeded so retrieval never takes the no-sources path
// unless the caller passes an empty chunk set.
func newChatTestServer(t *testing.T, chunks []store.ScoredChunk, answer string) *Server {
	t.Helper()

	engine := retrieval.New(&fakeRetrievalStore{chunks: chunks})
	pipeline := ragpipeline.New(ragpipeline.Dependencies{
		Registry:  &fakeResolver{m: &fakeChatModel{content: answer}, ok: true},
		Embedder:  &fakeEmbedder{vec: []float32{0.1, 0.2}},
		Retrieval: engine,
		PromptConfig: promptbuilder.Config{
			DefaultSystem:     "Answer strictly from the provided snippets.",
			NoSourcesMessages: map[string]string{"onekey-docs": "No relevant sources were found."},
			DefaultNoSources:  "No relevant sources were found.",
			ContextMaxChars:   10000,
		},
	})

	reg := prometheus.NewRegistry()
	s, err := New(pipeline, nil, nil, nil, &Config{MetricsRegistry: reg, MetricsGatherer: reg})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.stopRL)
	return s
}

func sampleChunks() []store.ScoredChunk {
	return []store.ScoredChunk{{
		Chunk: store.Chunk{
			ChunkText:   "A liquidity pool holds two token reserves.",
			SectionPath: "Concepts > Liquidity Pools",
		},
		PageURL:   "https://docs.onekey.test/concepts/pools",
		PageTitle: "Liquidity Pools",
		Score:     0.9,
	}}
}

func TestHandleChatCompletions_NonStreamAnswer(t *testing.T) {
	t.Parallel()

	s := newChatTestServer(t, sampleChunks(), "A liquidity pool holds paired reserves.")

	body := `{"model":"onekey-docs","messages":[{"role":"user","content":"what is a liquidity pool?"}],"metadata":{"workspace":"ws1","global_top_k":5}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	w := httptest.NewRecorder()

	s.handleChatCompletions(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}

	var resp chatCompletionsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Choices) != 1 {
		t.Fatalf("expected 1 choice, got %d", len(resp.Choices))
	}
	if resp.Choices[0].Message.Content == "" {
		t.Error("expected non-empty answer content")
	}
	if len(resp.Sources) != 1 {
		t.Errorf("expected 1 source, got %d", len(resp.Sources))
	}
}

func TestHandleChatCompletions_StreamEmitsSSEFramesAndDone(t *testing.T) {
	t.Parallel()

	s := newChatTestServer(t, sampleChunks(), "A liquidity pool holds paired reserves.")

	body := `{"model":"onekey-docs","stream":true,"messages":[{"role":"user","content":"what is a liquidity pool?"}],"metadata":{"workspace":"ws1"}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	w := httptest.NewRecorder()

	s.handleChatCompletions(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected text/event-stream content type, got %q", ct)
	}

	out := w.Body.String()
	if !strings.Contains(out, "data: ") {
		t.Errorf("expected at least one SSE data frame, got body: %s", out)
	}
	if !strings.HasSuffix(out, "data: [DONE]\n\n") {
		t.Errorf("expected stream to terminate with the [DONE] frame, got body: %s", out)
	}
	if !strings.Contains(out, "paired reserves") {
		t.Errorf("expected streamed answer content in frames, got body: %s", out)
	}
}

func TestHandleChatCompletions_NoSourcesFixedMessage(t *testing.T) {
	t.Parallel()

	s := newChatTestServer(t, nil, "unused")

	body := `{"model":"onekey-docs","messages":[{"role":"user","content":"what is a liquidity pool?"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	w := httptest.NewRecorder()

	s.handleChatCompletions(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}

	var resp chatCompletionsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Choices[0].Message.Content != "No relevant sources were found." {
		t.Errorf("expected fixed no-sources message, got %q", resp.Choices[0].Message.Content)
	}
	if len(resp.Sources) != 0 {
		t.Errorf("expected no sources, got %d", len(resp.Sources))
	}
}

func TestHandleChatCompletions_EmptyMessagesRejected(t *testing.T) {
	t.Parallel()

	s := newChatTestServer(t, nil, "")

	body := `{"model":"onekey-docs","messages":[]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	w := httptest.NewRecorder()

	s.handleChatCompletions(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d — body: %s", w.Code, w.Body.String())
	}
}

func TestHandleChatCompletions_LastMessageMustBeUser(t *testing.T) {
	t.Parallel()

	s := newChatTestServer(t, nil, "")

	body := `{"model":"onekey-docs","messages":[{"role":"assistant","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	w := httptest.NewRecorder()

	s.handleChatCompletions(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d — body: %s", w.Code, w.Body.String())
	}
}

func TestHandleChatCompletions_UnknownModelRejected(t *testing.T) {
	t.Parallel()

	engine := retrieval.New(&fakeRetrievalStore{})
	pipeline := ragpipeline.New(ragpipeline.Dependencies{
		Registry:  &fakeResolver{ok: false},
		Embedder:  &fakeEmbedder{vec: []float32{0.1}},
		Retrieval: engine,
		PromptConfig: promptbuilder.Config{
			DefaultSystem:    "x",
			DefaultNoSources: "No relevant sources were found.",
		},
	})
	reg := prometheus.NewRegistry()
	s, err := New(pipeline, nil, nil, nil, &Config{MetricsRegistry: reg, MetricsGatherer: reg})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.stopRL)

	body := `{"model":"nonexistent","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	w := httptest.NewRecorder()

	s.handleChatCompletions(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown model, got %d — body: %s", w.Code, w.Body.String())
	}
}
