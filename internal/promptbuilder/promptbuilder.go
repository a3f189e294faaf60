// Package promptbuilder assembles the system+user messages sent to the chat
// provider and frames its response per spec.md §4.9–§4.10: context blocks,
// inline citation rules, JSON response extraction, and sources appendices.
package promptbuilder

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/onekey/rag-core-go/internal/store"
)

// Config bounds prompt assembly.
type Config struct {
	ContextMaxChars     int
	CitationsEnabled    bool
	AnswerAppendSources bool
	SystemInstructions  map[string]string
	DefaultSystem       string
	NoSourcesMessages   map[string]string
	DefaultNoSources    string
}

// Source is one chunk selected for the prompt's context block.
type Source struct {
	Rank    int
	URL     string
	Title   string
	Section string
	Content string
}

// Build assembles the system and user messages for one request.
//
// Inputs: sources in rank order, an optional memory summary, an optional
// history excerpt, extra system instructions pulled from the caller's own
// `system` messages, the current question, and the requested model family
// (used to pick a default system instruction).
func Build(sources []Source, memorySummary, historyExcerpt string, callerSystemRules []string, question, modelFamily string, cfg Config) (system, user string) {
	system = cfg.SystemInstructions[modelFamily]
	if system == "" {
		system = cfg.DefaultSystem
	}

	var b strings.Builder
	for _, rule := range callerSystemRules {
		rule = strings.TrimSpace(rule)
		if rule == "" {
			continue
		}
		b.WriteString(rule)
		b.WriteString("\n\n")
	}
	if memorySummary != "" {
		b.WriteString("Conversation memory:\n")
		b.WriteString(memorySummary)
		b.WriteString("\n\n")
	}
	if historyExcerpt != "" {
		b.WriteString("Recent conversation:\n")
		b.WriteString(historyExcerpt)
		b.WriteString("\n\n")
	}

	b.WriteString(question)
	b.WriteString("\n\n")

	b.WriteString(contextBlock(sources, cfg.ContextMaxChars))

	b.WriteString("\nFormatting rules: respond in Markdown; use inline code for short identifiers; use fenced code blocks for two or more lines of code.\n")
	if cfg.CitationsEnabled && len(sources) > 0 {
		b.WriteString(fmt.Sprintf("Every key claim must end with a citation marker [n] referencing one of the %d sources above (1..%d). Do not cite a source number outside that range.\n", len(sources), len(sources)))
	}

	return system, b.String()
}

// contextBlock iterates sources in rank order, stopping before exceeding
// maxChars.
func contextBlock(sources []Source, maxChars int) string {
	if len(sources) == 0 {
		return "Document snippets: (none)\n"
	}

	var b strings.Builder
	b.WriteString("Document snippets:\n")
	for _, s := range sources {
		entry := fmt.Sprintf("[%d]\nURL: %s\nTitle: %s\nSection: %s\nContent:\n%s\n", s.Rank, s.URL, s.Title, s.Section, s.Content)
		if maxChars > 0 && b.Len()+len(entry) > maxChars {
			break
		}
		b.WriteString(entry)
	}
	return b.String()
}

// SourcesFromChunks converts ranked chunks into prompt Sources.
func SourcesFromChunks(chunks []store.ScoredChunk) []Source {
	out := make([]Source, len(chunks))
	for i, c := range chunks {
		out[i] = Source{
			Rank:    i + 1,
			URL:     c.PageURL,
			Title:   c.PageTitle,
			Section: c.SectionPath,
			Content: c.ChunkText,
		}
	}
	return out
}

// NoSourcesMessage returns the configured "no sources" answer for a model
// family, falling back to the default.
func NoSourcesMessage(modelFamily string, cfg Config) string {
	if m, ok := cfg.NoSourcesMessages[modelFamily]; ok && m != "" {
		return m
	}
	return cfg.DefaultNoSources
}

var reCitation = regexp.MustCompile(`\[(\d+)\]`)

// FrameAnswer applies §4.10's answer-framing rules to the raw chat
// response content.
func FrameAnswer(content string, jsonResponseFormat bool, citationsEnabled bool, numSources int, appendSources bool, sourcesList []Source) string {
	if jsonResponseFormat {
		return frameJSON(content)
	}

	out := content
	if citationsEnabled {
		out, _ = stripInvalidCitations(out, numSources)
	}

	if appendSources && len(sourcesList) > 0 {
		out += "\n\n" + renderSourcesList(sourcesList, citationsEnabled)
	}
	return out
}

// frameJSON extracts the first {...} substring from content, parses it, and
// returns it re-serialized, or an error envelope on failure.
func frameJSON(content string) string {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end < 0 || end < start {
		return errorJSON(content)
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(content[start:end+1]), &obj); err != nil {
		return errorJSON(content)
	}

	out, err := json.Marshal(obj)
	if err != nil {
		return errorJSON(content)
	}
	return string(out)
}

func errorJSON(content string) string {
	clamped := content
	if len(clamped) > 2000 {
		clamped = clamped[:2000]
	}
	out, _ := json.Marshal(map[string]string{"error": "invalid_json", "message": clamped})
	return string(out)
}

// stripInvalidCitations removes [n] markers where n is outside 1..numSources.
// If no valid citation remains but numSources > 0, it appends a disclosure
// sentence.
func stripInvalidCitations(content string, numSources int) (string, bool) {
	hadValid := false
	out := reCitation.ReplaceAllStringFunc(content, func(m string) string {
		sub := reCitation.FindStringSubmatch(m)
		n, err := strconv.Atoi(sub[1])
		if err != nil || n < 1 || n > numSources {
			return ""
		}
		hadValid = true
		return m
	})

	if !hadValid && numSources > 0 {
		out = strings.TrimRight(out, " \n") + "\n\nNote: this answer could not be tied to a specific numbered source."
	}
	return out, hadValid
}

// renderSourcesList renders the final sources appendix: a numbered list
// (inline-citation mode) or an unordered list otherwise.
func renderSourcesList(sources []Source, numbered bool) string {
	var b strings.Builder
	if numbered {
		b.WriteString("参考：\n")
		for _, s := range sources {
			b.WriteString(fmt.Sprintf("%d. %s — %s\n", s.Rank, s.Title, s.URL))
		}
	} else {
		b.WriteString("来源：\n")
		for _, s := range sources {
			b.WriteString(fmt.Sprintf("- %s — %s\n", s.Title, s.URL))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
