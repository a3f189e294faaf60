// Package extractor converts raw HTML documentation pages into (title,
// Markdown) pairs. It isolates the main content with a readability pass
// before converting, so navigation chrome and boilerplate never reach the
// chunker.
package extractor

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// minReadableChars is the threshold below which the readability pass is
// considered to have failed to find meaningful content.
const minReadableChars = 200

// fallbackSelectors are tried in order when readability's output is too
// short, each re-run through the same conversion.
var fallbackSelectors = []string{
	"main", "article", "[role=main]", ".content", ".main", ".article", "body",
}

// stripTags are removed along with their entire subtree before conversion.
var stripTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "svg": true,
	"nav": true, "footer": true, "aside": true,
}

// knownCodeLanguages is the fallback set used when a code block carries no
// language-/lang-/highlight- prefixed class.
var knownCodeLanguages = map[string]bool{
	"go": true, "bash": true, "sh": true, "shell": true, "json": true,
	"yaml": true, "yml": true, "hcl": true, "terraform": true, "python": true,
	"javascript": true, "typescript": true, "solidity": true, "rust": true,
	"sql": true, "dockerfile": true, "toml": true, "ini": true,
}

// Extract isolates the main content of rawHTML and returns its title and
// Markdown body. pageURL, if non-empty, is passed to the readability pass
// to resolve relative links and titles from page metadata.
func Extract(rawHTML, pageURL string) (title, markdown string, err error) {
	parsedURL, _ := url.Parse(pageURL)

	article, rerr := readability.FromReader(strings.NewReader(rawHTML), parsedURL)
	if rerr == nil && len(strings.TrimSpace(article.TextContent)) >= minReadableChars {
		return article.Title, convert(article.Content), nil
	}

	doc, derr := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if derr != nil {
		return "", "", derr
	}

	fallbackTitle := strings.TrimSpace(doc.Find("title").First().Text())
	if fallbackTitle == "" && rerr == nil {
		fallbackTitle = article.Title
	}

	for _, sel := range fallbackSelectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		inner, herr := node.Html()
		if herr != nil || strings.TrimSpace(inner) == "" {
			continue
		}
		return fallbackTitle, convert(inner), nil
	}

	// Nothing matched any fallback selector; convert the whole document.
	return fallbackTitle, convert(rawHTML), nil
}

// convert renders an HTML fragment to Markdown: ATX headings, "-" bullets,
// fenced code blocks with detected language, inferred table headers, and
// stripped chrome tags.
func convert(fragment string) string {
	nodes, err := html.ParseFragment(strings.NewReader(fragment), &html.Node{
		Type: html.ElementNode, Data: "body", DataAtom: atom.Body,
	})
	if err != nil {
		return ""
	}

	var b strings.Builder
	c := &converter{out: &b}
	for _, n := range nodes {
		c.walk(n)
	}
	return strings.Trim(collapseBlankLines(b.String()), "\n") + "\n"
}

type converter struct {
	out      *strings.Builder
	listType []byte // stack of 'u'/'o' for nested lists
}

func (c *converter) walk(n *html.Node) {
	if n.Type == html.CommentNode {
		return
	}
	if n.Type == html.TextNode {
		c.out.WriteString(n.Data)
		return
	}
	if n.Type != html.ElementNode {
		c.walkChildren(n)
		return
	}
	if stripTags[n.Data] {
		return
	}

	switch n.Data {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		level := int(n.Data[1] - '0')
		c.out.WriteString("\n\n")
		c.out.WriteString(strings.Repeat("#", level))
		c.out.WriteString(" ")
		c.walkChildren(n)
		c.out.WriteString("\n\n")
	case "p":
		c.out.WriteString("\n\n")
		c.walkChildren(n)
		c.out.WriteString("\n\n")
	case "br":
		c.out.WriteString("\n")
	case "strong", "b":
		c.out.WriteString("**")
		c.walkChildren(n)
		c.out.WriteString("**")
	case "em", "i":
		c.out.WriteString("_")
		c.walkChildren(n)
		c.out.WriteString("_")
	case "a":
		href := attr(n, "href")
		c.out.WriteString("[")
		c.walkChildren(n)
		c.out.WriteString("](")
		c.out.WriteString(href)
		c.out.WriteString(")")
	case "code":
		if n.Parent != nil && n.Parent.Data == "pre" {
			// Handled by the enclosing "pre" case.
			c.walkChildren(n)
			return
		}
		c.out.WriteString("`")
		c.walkChildren(n)
		c.out.WriteString("`")
	case "pre":
		lang := codeLanguage(n)
		c.out.WriteString("\n\n```")
		c.out.WriteString(lang)
		c.out.WriteString("\n")
		c.walkChildren(n)
		c.out.WriteString("\n```\n\n")
	case "ul":
		c.listType = append(c.listType, 'u')
		c.walkChildren(n)
		c.listType = c.listType[:len(c.listType)-1]
	case "ol":
		c.listType = append(c.listType, 'o')
		c.walkChildren(n)
		c.listType = c.listType[:len(c.listType)-1]
	case "li":
		c.out.WriteString("\n")
		c.out.WriteString(strings.Repeat("  ", maxInt(len(c.listType)-1, 0)))
		c.out.WriteString("- ")
		c.walkChildren(n)
	case "table":
		c.convertTable(n)
	default:
		c.walkChildren(n)
	}
}

func (c *converter) walkChildren(n *html.Node) {
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		c.walk(child)
	}
}

// convertTable renders a table with an inferred header row: an explicit
// <thead>/first-row <th> set if present, otherwise the first <tr>'s cells.
func (c *converter) convertTable(n *html.Node) {
	var header *html.Node
	var bodyRows []*html.Node

	var rows []*html.Node
	var collect func(*html.Node)
	collect = func(node *html.Node) {
		for ch := node.FirstChild; ch != nil; ch = ch.NextSibling {
			if ch.Type == html.ElementNode && ch.Data == "tr" {
				rows = append(rows, ch)
			} else if ch.Type == html.ElementNode {
				collect(ch)
			}
		}
	}
	collect(n)

	if len(rows) == 0 {
		return
	}

	header = rows[0]
	bodyRows = rows[1:]

	c.out.WriteString("\n\n")
	cells := cellTexts(header)
	writeTableRow(c.out, cells)
	sep := make([]string, len(cells))
	for i := range sep {
		sep[i] = "---"
	}
	writeTableRow(c.out, sep)

	for _, r := range bodyRows {
		writeTableRow(c.out, cellTexts(r))
	}
	c.out.WriteString("\n\n")
}

func cellTexts(row *html.Node) []string {
	var cells []string
	for ch := row.FirstChild; ch != nil; ch = ch.NextSibling {
		if ch.Type != html.ElementNode || (ch.Data != "td" && ch.Data != "th") {
			continue
		}
		var sb strings.Builder
		sub := &converter{out: &sb}
		sub.walkChildren(ch)
		cells = append(cells, strings.TrimSpace(collapseBlankLines(sb.String())))
	}
	return cells
}

func writeTableRow(b *strings.Builder, cells []string) {
	b.WriteString("| ")
	b.WriteString(strings.Join(cells, " | "))
	b.WriteString(" |\n")
}

// codeLanguage detects a fenced code block's language from a language-*,
// lang-*, or highlight-* class prefix on <pre> or its <code> child, falling
// back to a direct match against a known language set in the class list.
func codeLanguage(pre *html.Node) string {
	candidates := []string{attr(pre, "class")}
	for ch := pre.FirstChild; ch != nil; ch = ch.NextSibling {
		if ch.Type == html.ElementNode && ch.Data == "code" {
			candidates = append(candidates, attr(ch, "class"))
		}
	}

	for _, classAttr := range candidates {
		for _, cls := range strings.Fields(classAttr) {
			for _, prefix := range []string{"language-", "lang-", "highlight-"} {
				if strings.HasPrefix(cls, prefix) {
					return strings.TrimPrefix(cls, prefix)
				}
			}
		}
	}
	for _, classAttr := range candidates {
		for _, cls := range strings.Fields(classAttr) {
			if knownCodeLanguages[strings.ToLower(cls)] {
				return strings.ToLower(cls)
			}
		}
	}
	return ""
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func collapseBlankLines(s string) string {
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return s
}
