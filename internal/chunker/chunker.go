// Package chunker splits extracted Markdown into header-aware, length-bounded
// chunks, preprocessing each section so embedded blockchain addresses survive
// tokenization as independent lexical tokens.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
)

const (
	// DefaultMaxChars is M, the default maximum chunk size in characters.
	DefaultMaxChars = 2400
	// DefaultOverlapChars is O, the default slide-window overlap in characters.
	DefaultOverlapChars = 200
)

// Config bounds a chunking pass.
type Config struct {
	// MaxChars is M. Defaults to DefaultMaxChars if zero.
	MaxChars int
	// OverlapChars is O. Defaults to DefaultOverlapChars if zero.
	OverlapChars int
}

// resolved returns cfg with defaults applied.
func (cfg Config) resolved() Config {
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = DefaultMaxChars
	}
	if cfg.OverlapChars <= 0 || cfg.OverlapChars >= cfg.MaxChars {
		cfg.OverlapChars = DefaultOverlapChars
	}
	return cfg
}

// Chunk is one emitted slice of Markdown, paired with its header breadcrumb.
type Chunk struct {
	SectionPath string
	Text        string
	Hash        string
}

var (
	reHeader  = regexp.MustCompile(`(?m)^(#{1,3})\s+(.*)$`)
	reAddress = regexp.MustCompile(`0x[a-fA-F0-9]{40}`)
)

// section is one header-delimited span of the input Markdown.
type section struct {
	breadcrumb []string
	text       string
}

// Split runs the full chunking algorithm: header splitting, length-bounded
// sliding-window chunking per section, and address-preservation
// preprocessing. It is idempotent — the same input and Config always
// produce the same chunk sequence.
func Split(markdown string, cfg Config) []Chunk {
	cfg = cfg.resolved()

	sections := splitSections(markdown)

	var out []Chunk
	for _, sec := range sections {
		path := strings.Join(nonEmpty(sec.breadcrumb), " > ")
		text := strings.TrimSpace(sec.text)
		if text == "" {
			continue
		}

		for _, piece := range window(text, cfg.MaxChars, cfg.OverlapChars) {
			out = append(out, buildChunk(path, piece))
		}
	}
	return out
}

// splitSections walks the Markdown line by line, tracking a 3-level
// breadcrumb: depth 1 (H1) replaces the whole path, depth 2 (H2) keeps H1
// and replaces H2+, depth 3 (H3) keeps H1/H2 and replaces H3.
func splitSections(markdown string) []section {
	lines := strings.Split(markdown, "\n")

	var sections []section
	breadcrumb := make([]string, 3)
	var buf strings.Builder

	flush := func() {
		if buf.Len() == 0 {
			return
		}
		cp := append([]string(nil), breadcrumb...)
		sections = append(sections, section{breadcrumb: cp, text: buf.String()})
		buf.Reset()
	}

	for _, line := range lines {
		if m := reHeader.FindStringSubmatch(line); m != nil {
			flush()
			depth := len(m[1])
			title := strings.TrimSpace(m[2])
			switch depth {
			case 1:
				breadcrumb[0], breadcrumb[1], breadcrumb[2] = title, "", ""
			case 2:
				breadcrumb[1], breadcrumb[2] = title, ""
			case 3:
				breadcrumb[2] = title
			}
			// The header line itself starts the new section's body.
			buf.WriteString(line)
			buf.WriteString("\n")
			continue
		}
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	flush()

	if len(sections) == 0 && strings.TrimSpace(markdown) != "" {
		sections = append(sections, section{breadcrumb: make([]string, 3), text: markdown})
	}
	return sections
}

func nonEmpty(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// window slides a size-M window advancing by M-O characters over text, or
// returns text as a single piece when it already fits.
func window(text string, size, overlap int) []string {
	if len(text) <= size {
		return []string{text}
	}

	var pieces []string
	stride := size - overlap
	for start := 0; start < len(text); start += stride {
		end := start + size
		if end > len(text) {
			end = len(text)
		}
		pieces = append(pieces, text[start:end])
		if end == len(text) {
			break
		}
	}
	return pieces
}

// buildChunk applies address preprocessing and computes the chunk hash.
func buildChunk(sectionPath, text string) Chunk {
	addrs := extractAddresses(text)
	if len(addrs) > 0 {
		var b strings.Builder
		b.WriteString(text)
		b.WriteString("\n\n[CONTRACT_ADDRESSES]\n")
		for i, a := range addrs {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString(a)
		}
		text = b.String()
	}

	sum := sha256.Sum256([]byte(text))
	return Chunk{
		SectionPath: sectionPath,
		Text:        text,
		Hash:        hex.EncodeToString(sum[:]),
	}
}

// extractAddresses scans text for bare 0x addresses and addresses embedded
// in Markdown links, returning the lower-cased, deduplicated, sorted set so
// chunking stays deterministic.
func extractAddresses(text string) []string {
	seen := make(map[string]bool)
	for _, m := range reAddress.FindAllString(text, -1) {
		seen[strings.ToLower(m)] = true
	}

	out := make([]string, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
