// Package compaction distills a conversation into a focused retrieval query
// and an optional memory summary with a single chat-model call. It is an
// enhancement, never a hard dependency: any failure falls back to the raw
// question silently.
package compaction

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/onekey/rag-core-go/internal/budget"
	"github.com/onekey/rag-core-go/internal/tracing"
)

// Config bounds the history excerpt the compactor builds into its prompt.
type Config struct {
	// TurnMaxChars clamps each kept user/assistant message.
	TurnMaxChars int
	// TurnCount is how many most-recent user|assistant turns are kept.
	TurnCount int
	// ExcerptMaxChars bounds the total excerpt size.
	ExcerptMaxChars int
}

const (
	defaultTurnMaxChars   = 800
	defaultTurnCount      = 8
	defaultExcerptMaxChars = 4000
)

func (cfg Config) resolved() Config {
	if cfg.TurnMaxChars <= 0 {
		cfg.TurnMaxChars = defaultTurnMaxChars
	}
	if cfg.TurnCount <= 0 {
		cfg.TurnCount = defaultTurnCount
	}
	if cfg.ExcerptMaxChars <= 0 {
		cfg.ExcerptMaxChars = defaultExcerptMaxChars
	}
	return cfg
}

// Result is the compactor's output. Skipped is true when compaction did not
// run at all (fewer than two user turns) or failed and the caller should use
// the raw question with no summary.
type Result struct {
	RetrievalQuery string
	MemorySummary  string
	Skipped        bool
}

const systemInstruction = `You rewrite a user's latest chat question into a focused, self-contained retrieval query and summarize any prior conversation memory worth keeping. Respond with strict JSON only, no code fences, exactly one object: {"query": "...", "summary": "..."}. "summary" may be an empty string when there is nothing worth carrying forward.`

// Compact builds a single chat request to distill history into a retrieval
// query and memory summary. history is the full prior conversation
// (excluding the current question); rawQuestion is the current user turn.
// Compact only runs when history contains at least two user turns;
// otherwise it returns Result{RetrievalQuery: rawQuestion, Skipped: true}
// without calling the model.
func Compact(ctx context.Context, m model.ToolCallingChatModel, sessionID, rawQuestion string, history []*schema.Message, cfg Config) Result {
	cfg = cfg.resolved()

	if countUserTurns(history) < 2 {
		return Result{RetrievalQuery: rawQuestion, Skipped: true}
	}

	excerpt := buildExcerpt(history, cfg)

	var userMsg strings.Builder
	userMsg.WriteString("Current question:\n")
	userMsg.WriteString(rawQuestion)
	if excerpt != "" {
		userMsg.WriteString("\n\nConversation history:\n")
		userMsg.WriteString(excerpt)
	}

	msgs := []*schema.Message{
		schema.SystemMessage(systemInstruction),
		schema.UserMessage(userMsg.String()),
	}

	cctx := tracing.SetCompactionTrace(ctx, sessionID)
	resp, err := m.Generate(cctx, msgs)
	if err != nil || resp == nil {
		return Result{RetrievalQuery: rawQuestion, Skipped: true}
	}

	query, summary, ok := parseResponse(resp.Content)
	if !ok || query == "" {
		return Result{RetrievalQuery: rawQuestion, Skipped: true}
	}

	return Result{RetrievalQuery: query, MemorySummary: summary, Skipped: false}
}

// countUserTurns counts schema.User-role messages in history.
func countUserTurns(history []*schema.Message) int {
	n := 0
	for _, m := range history {
		if m.Role == schema.User {
			n++
		}
	}
	return n
}

// buildExcerpt keeps the last cfg.TurnCount user|assistant messages, each
// clamped to cfg.TurnMaxChars, dropping system/tool turns, and trims the
// whole excerpt to cfg.ExcerptMaxChars.
func buildExcerpt(history []*schema.Message, cfg Config) string {
	var kept []*schema.Message
	for _, m := range history {
		if m.Role != schema.User && m.Role != schema.Assistant {
			continue
		}
		kept = append(kept, m)
	}
	if len(kept) > cfg.TurnCount {
		kept = kept[len(kept)-cfg.TurnCount:]
	}

	var b strings.Builder
	for _, m := range kept {
		content := m.Content
		if len(content) > cfg.TurnMaxChars {
			content = content[:cfg.TurnMaxChars]
		}
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(content)
		b.WriteString("\n")
	}

	out := b.String()
	if len(out) > cfg.ExcerptMaxChars {
		out = out[len(out)-cfg.ExcerptMaxChars:]
	}
	return out
}

type compactionPayload struct {
	Query   string `json:"query"`
	Summary string `json:"summary"`
}

// parseResponse extracts the first {...} substring from content and parses
// it as strict JSON with "query" and "summary" fields. A malformed or
// non-object response is treated as a failure; a field missing from a
// well-formed object comes back as an empty string with ok=true.
func parseResponse(content string) (query, summary string, ok bool) {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end < 0 || end < start {
		return "", "", false
	}

	var payload compactionPayload
	if err := json.Unmarshal([]byte(content[start:end+1]), &payload); err != nil {
		return "", "", false
	}
	return payload.Query, payload.Summary, true
}

// BuildHistoryExcerpt exposes the same bounded history excerpt Compact
// builds internally, for callers (the prompt assembler) that want it even
// when compaction itself was skipped.
func BuildHistoryExcerpt(history []*schema.Message, cfg Config) string {
	return buildExcerpt(history, cfg.resolved())
}

// EstimatedTokens reports the token estimate of the history excerpt that
// would be built for history, useful for callers wanting to warn before
// compaction runs on an oversized conversation.
func EstimatedTokens(history []*schema.Message, cfg Config) int {
	return budget.Estimate(buildExcerpt(history, cfg.resolved()))
}
