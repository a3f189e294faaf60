// Package fileprocess extracts plain text from an uploaded file's raw bytes,
// dispatching by filename extension (§4.12 item 3): plain-text families via
// multi-encoding decode, "pdf" via page-text extraction, "docx" via
// paragraph join, and any other extension as a hard per-item failure.
package fileprocess

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// plainTextExtensions are decoded as text with an encoding-detection pass.
var plainTextExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".mdx": true,
	".csv": true, ".tsv": true, ".json": true, ".yaml": true, ".yml": true,
	".html": true, ".htm": true, ".xml": true, ".log": true,
}

// Extract returns the plain-text content of filename's raw bytes, dispatched
// by extension. An unrecognized extension is a hard failure for that item,
// per §4.12.
func Extract(filename string, content []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch {
	case plainTextExtensions[ext]:
		return decodeText(content), nil
	case ext == ".pdf":
		return extractPDF(content)
	case ext == ".docx":
		return extractDOCX(content)
	default:
		return "", fmt.Errorf("fileprocess: unsupported file extension %q", ext)
	}
}

// decodeText returns content as UTF-8 text. Valid UTF-8 is returned as-is;
// otherwise it is assumed to be Windows-1252 (the common fallback for
// legacy plain-text documentation exports) and transcoded.
func decodeText(content []byte) string {
	if utf8.Valid(content) {
		return string(content)
	}
	decoded, _, err := transform.Bytes(charmap.Windows1252.NewDecoder(), content)
	if err != nil {
		return string(content)
	}
	return string(decoded)
}

// extractPDF joins the plain text of every page, in order.
func extractPDF(content []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("fileprocess: open pdf: %w", err)
	}

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(text)
	}

	if b.Len() == 0 {
		return "", fmt.Errorf("fileprocess: no extractable text in pdf")
	}
	return b.String(), nil
}

// docxDocument mirrors the subset of word/document.xml this package reads:
// the ordered run text of every paragraph.
type docxDocument struct {
	XMLName xml.Name `xml:"document"`
	Body    docxBody `xml:"body"`
}

type docxBody struct {
	Paragraphs []docxParagraph `xml:"p"`
}

type docxParagraph struct {
	Runs []docxRun `xml:"r"`
}

type docxRun struct {
	Text []docxText `xml:"t"`
}

type docxText struct {
	Value string `xml:",chardata"`
}

// extractDOCX joins the text of every paragraph in word/document.xml, in
// document order, one paragraph per line.
func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("fileprocess: open docx: %w", err)
	}

	var docFile *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return "", fmt.Errorf("fileprocess: docx missing word/document.xml")
	}

	rc, err := docFile.Open()
	if err != nil {
		return "", fmt.Errorf("fileprocess: read docx document.xml: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("fileprocess: read docx document.xml: %w", err)
	}

	var doc docxDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("fileprocess: parse docx document.xml: %w", err)
	}

	var b strings.Builder
	for _, p := range doc.Body.Paragraphs {
		var para strings.Builder
		for _, r := range p.Runs {
			for _, t := range r.Text {
				para.WriteString(t.Value)
			}
		}
		if para.Len() == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(para.String())
	}

	if b.Len() == 0 {
		return "", fmt.Errorf("fileprocess: no extractable text in docx")
	}
	return b.String(), nil
}
