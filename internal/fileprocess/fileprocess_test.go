package fileprocess

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"
)

func TestExtract_PlainTextUTF8PassesThrough(t *testing.T) {
	content := "# Heading\n\nSome déjà vu body text."
	out, err := Extract("notes.md", []byte(content))
	if err != nil {
		t.Fatalf("Extract error: %v", err)
	}
	if out != content {
		t.Errorf("expected UTF-8 plain text to pass through unchanged, got %q", out)
	}
}

func TestExtract_PlainTextWindows1252Fallback(t *testing.T) {
	// 0x93/0x94 are Windows-1252 curly quotes, invalid as UTF-8 on their own.
	raw := []byte{0x93, 'h', 'i', 0x94}
	out, err := Extract("legacy.txt", raw)
	if err != nil {
		t.Fatalf("Extract error: %v", err)
	}
	if !strings.Contains(out, "hi") {
		t.Errorf("expected decoded text to retain the ascii body, got %q", out)
	}
}

func TestExtract_UnknownExtensionFails(t *testing.T) {
	_, err := Extract("archive.rar", []byte{1, 2, 3})
	if err == nil {
		t.Fatal("expected an error for an unsupported extension")
	}
}

func TestExtract_DOCXJoinsParagraphsInOrder(t *testing.T) {
	docx := buildTestDOCX(t, []string{"First paragraph.", "Second paragraph."})
	out, err := Extract("report.docx", docx)
	if err != nil {
		t.Fatalf("Extract error: %v", err)
	}
	if !strings.Contains(out, "First paragraph.") || !strings.Contains(out, "Second paragraph.") {
		t.Errorf("expected both paragraphs present, got %q", out)
	}
	if strings.Index(out, "First paragraph.") > strings.Index(out, "Second paragraph.") {
		t.Errorf("expected paragraph order preserved, got %q", out)
	}
}

func TestExtract_DOCXMissingDocumentXMLFails(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("word/styles.xml")
	_, _ = w.Write([]byte("<styles/>"))
	_ = zw.Close()

	_, err := Extract("broken.docx", buf.Bytes())
	if err == nil {
		t.Fatal("expected an error when word/document.xml is missing")
	}
}

// buildTestDOCX builds a minimal docx zip containing one word/document.xml
// with one paragraph per entry in paragraphs.
func buildTestDOCX(t *testing.T, paragraphs []string) []byte {
	t.Helper()
	var body strings.Builder
	body.WriteString(`<?xml version="1.0" encoding="UTF-8"?><w:document xmlns:w="ns"><w:body>`)
	for _, p := range paragraphs {
		body.WriteString(`<w:p><w:r><w:t>`)
		body.WriteString(p)
		body.WriteString(`</w:t></w:r></w:p>`)
	}
	body.WriteString(`</w:body></w:document>`)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	if _, err := w.Write([]byte(body.String())); err != nil {
		t.Fatalf("write zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	return buf.Bytes()
}
