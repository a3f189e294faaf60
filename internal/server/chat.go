package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/onekey/rag-core-go/internal/apperror"
	"github.com/onekey/rag-core-go/internal/logging"
	"github.com/onekey/rag-core-go/internal/promptbuilder"
	"github.com/onekey/rag-core-go/internal/ragpipeline"
	"github.com/onekey/rag-core-go/internal/retrieval"
	"github.com/onekey/rag-core-go/internal/sse"
)

// maxChatBodyBytes bounds the size of a POST /v1/chat/completions body.
const maxChatBodyBytes = 1 << 20

// handleChatCompletions handles POST /v1/chat/completions, the OpenAI-compatible
// RAG query endpoint. It supports both the non-stream JSON response and the
// `stream: true` Server-Sent-Events response.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	var req chatCompletionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperror.Validation("server: decode chat request", err))
		return
	}

	pipelineReq, err := toPipelineRequest(req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.sem.Acquire(r.Context()); err != nil {
		writeError(w, r, apperror.Timeout("server: acquire concurrency slot", err))
		return
	}
	defer s.sem.Release()

	s.metrics.chatActiveStreams.Inc()
	defer s.metrics.chatActiveStreams.Dec()

	start := time.Now()
	outcome := "ok"
	defer func() {
		s.metrics.chatRequestsTotal.WithLabelValues(outcome).Inc()
		s.metrics.chatDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	ctx := r.Context()
	if !req.Stream {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ChatTimeout)
		defer cancel()
	}

	prepareCtx, prepareCancel := context.WithTimeout(ctx, s.cfg.PrepareTimeout)
	prepared, err := s.pipeline.Prepare(prepareCtx, pipelineReq)
	prepareCancel()
	if err != nil {
		outcome = outcomeFor(err)
		if req.Stream {
			s.streamPrepareError(ctx, w, r, pipelineReq.SessionID, err)
			return
		}
		writeError(w, r, err)
		return
	}

	sources := wireSources(prepared.Sources)

	if req.Stream {
		s.streamChatCompletion(ctx, w, r, pipelineReq.SessionID, prepared, sources)
		return
	}

	jsonFmt := req.ResponseFormat != nil && req.ResponseFormat.Type == "json_object"
	answer, err := s.pipeline.Answer(ctx, prepared, pipelineReq.SessionID, jsonFmt)
	if err != nil {
		outcome = outcomeFor(err)
		writeError(w, r, err)
		return
	}

	resp := chatCompletionsResponse{
		ID:      pipelineReq.SessionID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []chatCompletionChoice{{
			Index:        0,
			Message:      chatCompletionAnswer{Role: "assistant", Content: answer},
			FinishReason: "stop",
		}},
		Sources:      sources,
		ContractInfo: wireContractInfo(prepared.Contract),
	}

	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		log.Error("chat response encode error", slog.Any("error", err))
	}
}

// streamChatCompletion drives the SSE response for a streaming chat-completions
// request, delegating frame sequencing to internal/sse.
func (s *Server) streamChatCompletion(ctx context.Context, w http.ResponseWriter, r *http.Request, sessionID string, prepared ragpipeline.Prepared, sources []sse.Source) {
	sse.SetHeaders(w)
	wr, ok := sse.NewWriter(w, sessionID, prepared.ModelFamily)
	if !ok {
		writeError(w, r, apperror.Dependency("server: stream chat completion", errNoFlush))
		return
	}

	var answerer sse.StreamAnswerer
	if !prepared.NoSources {
		answerer = func(ctx context.Context, sessionID string, onDelta func(string) error) error {
			return s.pipeline.StreamAnswer(ctx, prepared, sessionID, onDelta)
		}
	}

	if err := sse.Run(ctx, wr, answerer, sessionID, sources, prepared.NoSourcesMessage); err != nil {
		logging.FromContext(ctx).Error("sse stream error", slog.Any("error", err))
	}
}

// streamPrepareError emits the SSE frame sequence with err folded into the
// inline error frame, used when Prepare itself fails (including a
// prepare-phase timeout, per §4.13) on a streaming request — the caller
// already expects a text/event-stream body, so a plain JSON error response
// would be malformed on the wire.
func (s *Server) streamPrepareError(ctx context.Context, w http.ResponseWriter, r *http.Request, sessionID string, prepareErr error) {
	sse.SetHeaders(w)
	wr, ok := sse.NewWriter(w, sessionID, "")
	if !ok {
		writeError(w, r, apperror.Dependency("server: stream prepare error", errNoFlush))
		return
	}

	answerer := func(ctx context.Context, sessionID string, onDelta func(string) error) error {
		return prepareErr
	}
	if err := sse.Run(ctx, wr, answerer, sessionID, nil, ""); err != nil {
		logging.FromContext(ctx).Error("sse stream error", slog.Any("error", err))
	}
}

var errNoFlush = errors.New("response writer does not support flushing")

// outcomeFor maps an error to the metrics "outcome" label.
func outcomeFor(err error) string {
	if apperror.Is(err, apperror.KindTimeout) {
		return "timeout"
	}
	return "error"
}

// toPipelineRequest validates and translates the wire request into a
// ragpipeline.Request. The last message must be from the user; messages
// must be non-empty per §7's Validation error class.
func toPipelineRequest(req chatCompletionsRequest) (ragpipeline.Request, error) {
	if len(req.Messages) == 0 {
		return ragpipeline.Request{}, apperror.Validation("server: validate chat request", errors.New("messages must not be empty"))
	}

	last := req.Messages[len(req.Messages)-1]
	if last.Role != "user" {
		return ragpipeline.Request{}, apperror.Validation("server: validate chat request", errors.New("the last message must have role \"user\""))
	}

	var history []*schema.Message
	var systemRules []string
	for _, m := range req.Messages[:len(req.Messages)-1] {
		switch m.Role {
		case "system":
			systemRules = append(systemRules, m.Content)
		case "user":
			history = append(history, schema.UserMessage(m.Content))
		case "assistant":
			history = append(history, schema.AssistantMessage(m.Content, nil))
		}
	}

	md := req.Metadata
	if md == nil {
		md = &ragMetadata{}
	}

	sessionID := md.SessionID
	if sessionID == "" {
		sessionID = nextSessionID("chatcmpl")
	}

	return ragpipeline.Request{
		Workspace:          md.Workspace,
		ModelID:            req.Model,
		Question:           last.Content,
		History:            history,
		SystemRules:        systemRules,
		Allocations:        toAllocations(md),
		Mode:               toMode(md.Mode),
		Hybrid:             toHybrid(md.Hybrid),
		GlobalTopK:         md.GlobalTopK,
		StrictKB:           md.StrictKB,
		AutoLearnContracts: md.AutoLearnContracts,
		SessionID:          sessionID,
	}, nil
}

func toMode(m string) retrieval.Mode {
	if m == string(retrieval.ModeHybrid) {
		return retrieval.ModeHybrid
	}
	return retrieval.ModeVector
}

func toHybrid(h *hybridParamsWire) retrieval.HybridParams {
	if h == nil {
		return retrieval.HybridParams{}
	}
	return retrieval.HybridParams{
		VectorK:      h.VectorK,
		BM25K:        h.BM25K,
		VectorWeight: h.VectorWeight,
		BM25Weight:   h.BM25Weight,
	}
}

func toAllocations(md *ragMetadata) []retrieval.Allocation {
	if len(md.Allocations) == 0 && md.KB != "" {
		return []retrieval.Allocation{{
			KB:     md.KB,
			TopK:   md.GlobalTopK,
			Mode:   toMode(md.Mode),
			Hybrid: toHybrid(md.Hybrid),
		}}
	}
	out := make([]retrieval.Allocation, 0, len(md.Allocations))
	for _, a := range md.Allocations {
		mode := toMode(a.Mode)
		if a.Mode == "" {
			mode = toMode(md.Mode)
		}
		out = append(out, retrieval.Allocation{
			KB:     a.KB,
			TopK:   a.TopK,
			Mode:   mode,
			Hybrid: toHybrid(a.Hybrid),
		})
	}
	return out
}

func wireSources(sources []promptbuilder.Source) []sse.Source {
	out := make([]sse.Source, 0, len(sources))
	for _, src := range sources {
		rank := src.Rank
		out = append(out, sse.Source{
			Ref:         &rank,
			URL:         src.URL,
			Title:       src.Title,
			SectionPath: src.Section,
			Snippet:     src.Content,
		})
	}
	return out
}

func wireContractInfo(c *ragpipeline.ContractInfo) *contractInfoWire {
	if c == nil {
		return nil
	}
	return &contractInfoWire{
		Address:         c.Address,
		Protocol:        c.Protocol,
		ProtocolVersion: c.ProtocolVersion,
		ContractType:    c.ContractType,
		ContractName:    c.ContractName,
		Confidence:      c.Confidence,
		ChainID:         c.ChainID,
		Source:          c.Source,
	}
}

