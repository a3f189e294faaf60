package promptbuilder

import (
	"strings"
	"testing"
)

func TestBuild_OrderAndContextBlock(t *testing.T) {
	sources := []Source{
		{Rank: 1, URL: "https://a.example/doc", Title: "Doc A", Section: "Intro", Content: "alpha content"},
		{Rank: 2, URL: "https://b.example/doc", Title: "Doc B", Section: "Usage", Content: "beta content"},
	}

	system, user := Build(sources, "user previously asked about staking", "Q: what is staking?\nA: ...", []string{"Always answer in English."}, "What is the unbonding period?", "gpt-4", Config{
		ContextMaxChars:  10000,
		CitationsEnabled: true,
		DefaultSystem:    "Answer strictly from the provided snippets.",
	})

	if system != "Answer strictly from the provided snippets." {
		t.Fatalf("unexpected system message: %q", system)
	}

	rulesIdx := strings.Index(user, "Always answer in English.")
	memIdx := strings.Index(user, "user previously asked about staking")
	histIdx := strings.Index(user, "Q: what is staking?")
	qIdx := strings.Index(user, "What is the unbonding period?")
	ctxIdx := strings.Index(user, "Document snippets:")

	if rulesIdx < 0 || memIdx < 0 || histIdx < 0 || qIdx < 0 || ctxIdx < 0 {
		t.Fatalf("missing expected section in user message: %q", user)
	}
	if !(rulesIdx < memIdx && memIdx < histIdx && histIdx < qIdx && qIdx < ctxIdx) {
		t.Fatalf("sections out of order: %q", user)
	}
	if !strings.Contains(user, "[1]\nURL: https://a.example/doc") {
		t.Fatalf("expected first source entry, got %q", user)
	}
	if !strings.Contains(user, "referencing one of the 2 sources") {
		t.Fatalf("expected citation rule naming source count, got %q", user)
	}
}

func TestBuild_SystemFallsBackToDefaultWhenFamilyUnset(t *testing.T) {
	system, _ := Build(nil, "", "", nil, "question", "unknown-family", Config{
		DefaultSystem:      "default system",
		SystemInstructions: map[string]string{"gpt-4": "gpt-4 specific system"},
	})
	if system != "default system" {
		t.Fatalf("expected fallback to default system, got %q", system)
	}
}

func TestContextBlock_StopsBeforeExceedingMaxChars(t *testing.T) {
	sources := []Source{
		{Rank: 1, URL: "u1", Title: "t1", Section: "s1", Content: strings.Repeat("x", 50)},
		{Rank: 2, URL: "u2", Title: "t2", Section: "s2", Content: strings.Repeat("y", 50)},
	}
	block := contextBlock(sources, 150)
	if strings.Contains(block, "[2]") {
		t.Fatalf("expected second entry to be dropped once max chars exceeded, got %q", block)
	}
	if !strings.Contains(block, "[1]") {
		t.Fatalf("expected first entry present, got %q", block)
	}
}

func TestFrameAnswer_JSONResponseFormatValid(t *testing.T) {
	out := FrameAnswer(`prefix noise {"answer":"42","confidence":"high"} trailing noise`, true, false, 0, false, nil)
	if !strings.Contains(out, `"answer":"42"`) {
		t.Fatalf("expected parsed object content preserved, got %q", out)
	}
}

func TestFrameAnswer_JSONResponseFormatInvalidFallsBackToErrorEnvelope(t *testing.T) {
	out := FrameAnswer("not json at all", true, false, 0, false, nil)
	if !strings.Contains(out, `"error":"invalid_json"`) {
		t.Fatalf("expected invalid_json error envelope, got %q", out)
	}
	if !strings.Contains(out, `"message":"not json at all"`) {
		t.Fatalf("expected original content in message field, got %q", out)
	}
}

func TestFrameAnswer_InvalidCitationsStrippedValidKept(t *testing.T) {
	out := FrameAnswer("The unbonding period is 21 days [1]. It applies globally [5].", false, true, 1, false, nil)
	if strings.Contains(out, "[5]") {
		t.Fatalf("expected out-of-range citation removed, got %q", out)
	}
	if !strings.Contains(out, "[1]") {
		t.Fatalf("expected valid citation retained, got %q", out)
	}
}

func TestFrameAnswer_DisclosureAppendedWhenNoValidCitationRemains(t *testing.T) {
	out := FrameAnswer("The unbonding period is 21 days [9].", false, true, 2, false, nil)
	if strings.Contains(out, "[9]") {
		t.Fatalf("expected invalid citation stripped, got %q", out)
	}
	if !strings.Contains(out, "could not be tied to a specific numbered source") {
		t.Fatalf("expected disclosure sentence, got %q", out)
	}
}

func TestFrameAnswer_AppendSourcesInlineCiteNumbered(t *testing.T) {
	sources := []Source{
		{Rank: 1, URL: "https://a.example", Title: "Doc A"},
		{Rank: 2, URL: "https://b.example", Title: "Doc B"},
	}
	out := FrameAnswer("Answer text [1].", false, true, 2, true, sources)
	if !strings.Contains(out, "参考：") {
		t.Fatalf("expected numbered sources header for inline-cite mode, got %q", out)
	}
	if !strings.Contains(out, "1. Doc A — https://a.example") {
		t.Fatalf("expected numbered entry, got %q", out)
	}
}

func TestFrameAnswer_AppendSourcesNonInlineUnordered(t *testing.T) {
	sources := []Source{{Rank: 1, URL: "https://a.example", Title: "Doc A"}}
	out := FrameAnswer("Answer text.", false, false, 0, true, sources)
	if !strings.Contains(out, "来源：") {
		t.Fatalf("expected unordered sources header, got %q", out)
	}
	if !strings.Contains(out, "- Doc A — https://a.example") {
		t.Fatalf("expected unordered entry, got %q", out)
	}
}

func TestSourcesFromChunks_EmptyInputYieldsEmptySlice(t *testing.T) {
	out := SourcesFromChunks(nil)
	if len(out) != 0 {
		t.Fatalf("expected empty slice, got %+v", out)
	}
}
