// Package ragpipeline orchestrates one chat-completions request end to end:
// conversation compaction, query embedding, hybrid retrieval, an optional
// contract-address narrowing pass, reranking, prompt assembly, and the final
// chat-provider call (non-streaming or streaming).
package ragpipeline

import (
	"context"
	"errors"
	"io"
	"regexp"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/onekey/rag-core-go/internal/apperror"
	"github.com/onekey/rag-core-go/internal/compaction"
	"github.com/onekey/rag-core-go/internal/contractindex"
	"github.com/onekey/rag-core-go/internal/embedder"
	"github.com/onekey/rag-core-go/internal/promptbuilder"
	"github.com/onekey/rag-core-go/internal/provider"
	"github.com/onekey/rag-core-go/internal/reranker"
	"github.com/onekey/rag-core-go/internal/retrieval"
	"github.com/onekey/rag-core-go/internal/store"
	"github.com/onekey/rag-core-go/internal/tracing"
)

// ModelResolver resolves a caller-facing model id to a constructed chat
// model, as *provider.Registry does. Narrowed to an interface so tests can
// substitute a fake without constructing real backend clients.
type ModelResolver interface {
	Resolve(id string) (model.ToolCallingChatModel, provider.Family, bool)
}

// Dependencies are the long-lived, process-wide collaborators a Pipeline
// calls into. They are constructed once at startup and treated as
// immutable thereafter.
type Dependencies struct {
	Registry  ModelResolver
	Embedder  embedder.Embedder
	Retrieval *retrieval.Engine
	// Reranker and Contracts are optional enhancements; a nil value
	// degrades to "no reranking" / "no contract narrowing" respectively.
	Reranker  *reranker.Reranker
	Contracts *contractindex.Index

	CompactionConfig compaction.Config
	PromptConfig      promptbuilder.Config
	// RerankTopN bounds how many chunks survive reranking into the prompt.
	RerankTopN int
}

// Pipeline runs requests against a fixed set of Dependencies.
type Pipeline struct {
	deps Dependencies
}

// New constructs a Pipeline over deps.
func New(deps Dependencies) *Pipeline {
	return &Pipeline{deps: deps}
}

// Request is one chat-completions call translated into pipeline inputs.
type Request struct {
	Workspace   string
	ModelID     string // caller-facing model id, resolved via the registry
	Question    string
	// History is the prior conversation, excluding the current question.
	History     []*schema.Message
	SystemRules []string // extracted from the caller's own `system` messages

	Allocations []retrieval.Allocation
	Mode        retrieval.Mode
	Hybrid      retrieval.HybridParams
	GlobalTopK  int
	StrictKB    bool

	AutoLearnContracts bool
	SessionID          string
}

// ContractInfo is the optional `contract_info` field of a chat-completions
// response, populated when the question names a contract address the index
// can resolve.
type ContractInfo struct {
	Address         string
	Protocol        string
	ProtocolVersion string
	ContractType    string
	ContractName    string
	Confidence      float64
	ChainID         int
	Source          string
}

// Prepared is everything needed to produce an answer: either the fixed
// no-sources message, or a chat model plus an assembled system/user prompt.
type Prepared struct {
	ModelFamily      string
	ChatModel        model.ToolCallingChatModel
	System           string
	User             string
	Sources          []promptbuilder.Source
	NoSources        bool
	NoSourcesMessage string
	Contract         *ContractInfo
}

var reAddressInQuestion = regexp.MustCompile(`(?i)0x[a-fA-F0-9]{40}`)

// Prepare runs every stage up to (but not including) the chat-provider call:
// compaction, embedding, retrieval, contract narrowing, reranking, and
// prompt assembly. Failures in the mainline (model resolution, embedding,
// retrieval) are returned as errors the caller must surface; compaction,
// contract lookup, and reranking degrade silently per §4.13.
func (p *Pipeline) Prepare(ctx context.Context, req Request) (Prepared, error) {
	chatModel, family, ok := p.deps.Registry.Resolve(req.ModelID)
	if !ok {
		return Prepared{}, apperror.Validation("ragpipeline: resolve model", errors.New("unknown model id: "+req.ModelID))
	}

	compacted := compaction.Compact(ctx, chatModel, req.SessionID, req.Question, req.History, p.deps.CompactionConfig)
	retrievalQuery := compacted.RetrievalQuery
	if retrievalQuery == "" {
		retrievalQuery = req.Question
	}

	queryVector, err := p.deps.Embedder.EmbedQuery(ctx, retrievalQuery)
	if err != nil {
		return Prepared{}, apperror.Dependency("ragpipeline: embed query", err)
	}

	result, err := p.deps.Retrieval.Search(ctx, retrieval.Request{
		Workspace:   req.Workspace,
		QueryText:   retrievalQuery,
		QueryVector: queryVector,
		Mode:        req.Mode,
		Hybrid:      req.Hybrid,
		Allocations: req.Allocations,
		GlobalTopK:  req.GlobalTopK,
		StrictKB:    req.StrictKB,
	})
	if err != nil {
		return Prepared{}, apperror.Dependency("ragpipeline: retrieval search", err)
	}

	chunks := result.Chunks

	contractInfo := p.lookupContract(ctx, req)
	chunks = narrowByAddresses(chunks, detectAddresses(req.Question))

	if p.deps.Reranker != nil {
		chunks = p.deps.Reranker.Rerank(ctx, retrievalQuery, chunks, p.deps.RerankTopN)
	} else if p.deps.RerankTopN > 0 && len(chunks) > p.deps.RerankTopN {
		chunks = chunks[:p.deps.RerankTopN]
	}

	if len(chunks) == 0 {
		return Prepared{
			ModelFamily:      family.ID,
			ChatModel:        chatModel,
			NoSources:        true,
			NoSourcesMessage: promptbuilder.NoSourcesMessage(family.ID, p.deps.PromptConfig),
			Contract:         contractInfo,
		}, nil
	}

	sources := promptbuilder.SourcesFromChunks(chunks)
	historyExcerpt := compaction.BuildHistoryExcerpt(req.History, p.deps.CompactionConfig)
	system, user := promptbuilder.Build(sources, compacted.MemorySummary, historyExcerpt, req.SystemRules, req.Question, family.ID, p.deps.PromptConfig)

	return Prepared{
		ModelFamily: family.ID,
		ChatModel:   chatModel,
		System:      system,
		User:        user,
		Sources:     sources,
		Contract:    contractInfo,
	}, nil
}

// lookupContract resolves the first contract address named in the question
// against the contract index, optionally auto-learning a RAG-derived entry.
// A nil Contracts dependency or a lookup miss yields a nil ContractInfo —
// this is an enhancement, never a hard dependency.
func (p *Pipeline) lookupContract(ctx context.Context, req Request) *ContractInfo {
	if p.deps.Contracts == nil {
		return nil
	}
	addrs := detectAddresses(req.Question)
	if len(addrs) == 0 {
		return nil
	}

	kbs := allocationKBs(req.Allocations)
	result, found, err := p.deps.Contracts.Lookup(ctx, req.Workspace, kbs, addrs[0], req.AutoLearnContracts)
	if err != nil || !found {
		return nil
	}

	return &ContractInfo{
		Address:         result.Address,
		Protocol:        result.Protocol,
		ProtocolVersion: result.ProtocolVersion,
		ContractType:    result.ContractType,
		ContractName:    result.ContractName,
		Confidence:      result.Confidence,
		ChainID:         result.ChainID,
		Source:          result.Source,
	}
}

func allocationKBs(allocations []retrieval.Allocation) []string {
	if len(allocations) == 0 {
		return nil
	}
	kbs := make([]string, 0, len(allocations))
	for _, a := range allocations {
		kbs = append(kbs, a.KB)
	}
	return kbs
}

// detectAddresses returns the lower-cased, 0x-prefixed 40-hex addresses
// named literally in text, in first-seen order.
func detectAddresses(text string) []string {
	matches := reAddressInQuestion.FindAllString(text, -1)
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = strings.ToLower(m)
	}
	return out
}

// narrowByAddresses restricts chunks to those mentioning one of addresses,
// when that would leave at least one candidate; otherwise it returns chunks
// unchanged. This implements §2's "optional metadata/address filter".
func narrowByAddresses(chunks []store.ScoredChunk, addresses []string) []store.ScoredChunk {
	if len(addresses) == 0 {
		return chunks
	}

	var narrowed []store.ScoredChunk
	for _, c := range chunks {
		lower := strings.ToLower(c.ChunkText)
		for _, addr := range addresses {
			if strings.Contains(lower, addr) {
				narrowed = append(narrowed, c)
				break
			}
		}
	}
	if len(narrowed) == 0 {
		return chunks
	}
	return narrowed
}

// Answer runs the chat provider to completion and frames the result. Callers
// that already hold a NoSources Prepared should skip straight to
// Prepared.NoSourcesMessage — Answer does the same thing, but exists so
// callers can treat both paths uniformly.
func (p *Pipeline) Answer(ctx context.Context, prepared Prepared, sessionID string, jsonResponseFormat bool) (string, error) {
	if prepared.NoSources {
		return prepared.NoSourcesMessage, nil
	}

	cctx := tracing.SetRequestTrace(ctx, sessionID)
	msgs := []*schema.Message{
		schema.SystemMessage(prepared.System),
		schema.UserMessage(prepared.User),
	}

	resp, err := prepared.ChatModel.Generate(cctx, msgs)
	if err != nil {
		return "", apperror.Dependency("ragpipeline: chat generate", err)
	}

	return promptbuilder.FrameAnswer(
		resp.Content,
		jsonResponseFormat,
		p.deps.PromptConfig.CitationsEnabled,
		len(prepared.Sources),
		p.deps.PromptConfig.AnswerAppendSources,
		prepared.Sources,
	), nil
}

// StreamAnswer streams raw content deltas from the chat provider to onDelta
// as they arrive. It does not apply citation sanitization or the sources
// appendix mid-stream — the streaming protocol layer is responsible for
// framing those around the raw token stream (§4.11).
func (p *Pipeline) StreamAnswer(ctx context.Context, prepared Prepared, sessionID string, onDelta func(string) error) error {
	if prepared.NoSources {
		return onDelta(prepared.NoSourcesMessage)
	}

	cctx := tracing.SetRequestTrace(ctx, sessionID)
	msgs := []*schema.Message{
		schema.SystemMessage(prepared.System),
		schema.UserMessage(prepared.User),
	}

	sr, err := prepared.ChatModel.Stream(cctx, msgs)
	if err != nil {
		return apperror.Dependency("ragpipeline: chat stream", err)
	}
	defer sr.Close()

	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return apperror.Dependency("ragpipeline: chat stream recv", err)
		}
		if msg == nil || msg.Content == "" {
			continue
		}
		if err := onDelta(msg.Content); err != nil {
			return err
		}
	}
}
