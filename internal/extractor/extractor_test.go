package extractor

import (
	"strings"
	"testing"
)

func TestExtract_HeadingAndParagraph(t *testing.T) {
	raw := `<html><head><title>Doc</title></head><body>
<nav>skip me</nav>
<article>
<h1>Getting Started</h1>
<p>This guide walks through setup in enough detail to pass the readability threshold used by this extractor, covering prerequisites, installation, and first run end to end.</p>
</article>
<footer>skip me too</footer>
</body></html>`

	title, md, err := Extract(raw, "https://docs.example.com/guide")
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if !strings.Contains(md, "# Getting Started") {
		t.Errorf("expected ATX h1, got markdown: %q", md)
	}
	if strings.Contains(md, "skip me") {
		t.Errorf("expected nav/footer stripped, got: %q", md)
	}
	_ = title
}

func TestExtract_CodeBlockLanguage(t *testing.T) {
	raw := `<html><body><article><h1>X</h1><p>` + strings.Repeat("padding text to exceed the readability threshold. ", 10) + `</p>
<pre><code class="language-go">fmt.Println("hi")</code></pre></article></body></html>`

	_, md, err := Extract(raw, "")
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if !strings.Contains(md, "```go") {
		t.Errorf("expected fenced go code block, got: %q", md)
	}
}

func TestExtract_TableHeaders(t *testing.T) {
	raw := `<html><body><article><h1>X</h1><p>` + strings.Repeat("padding text to exceed the readability threshold. ", 10) + `</p>
<table><tr><th>Name</th><th>Address</th></tr><tr><td>Vault</td><td>0xabc</td></tr></table></article></body></html>`

	_, md, err := Extract(raw, "")
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if !strings.Contains(md, "| Name | Address |") || !strings.Contains(md, "| --- | --- |") {
		t.Errorf("expected markdown table header+separator, got: %q", md)
	}
}
