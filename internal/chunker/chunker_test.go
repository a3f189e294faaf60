package chunker

import (
	"strings"
	"testing"
)

func TestSplit_AddressBlockAppended(t *testing.T) {
	md := "## Addresses\n\n[0xd016...5722](https://etherscan.io/address/0xd0160580158f5574d1c4dAa0F6Dd23Fc6d5B5722)"

	chunks := Split(md, Config{})
	if len(chunks) != 1 {
		t.Fatalf("expected exactly one chunk, got %d", len(chunks))
	}

	want := "\n\n[CONTRACT_ADDRESSES]\n0xd0160580158f5574d1c4daa0f6dd23fc6d5b5722"
	if !strings.HasSuffix(chunks[0].Text, want) {
		t.Errorf("chunk text = %q, want suffix %q", chunks[0].Text, want)
	}
}

func TestSplit_NoAddressesNoBlock(t *testing.T) {
	md := "## Overview\n\nThis page has no addresses in it."
	chunks := Split(md, Config{})
	if len(chunks) != 1 {
		t.Fatalf("expected one chunk, got %d", len(chunks))
	}
	if strings.Contains(chunks[0].Text, "[CONTRACT_ADDRESSES]") {
		t.Errorf("did not expect an address block, got %q", chunks[0].Text)
	}
}

func TestSplit_HeaderBreadcrumb(t *testing.T) {
	md := "# Guide\n\nintro\n\n## Setup\n\nstep one\n\n### Install\n\ndetails"
	chunks := Split(md, Config{})

	var gotPaths []string
	for _, c := range chunks {
		gotPaths = append(gotPaths, c.SectionPath)
	}

	wantContains := []string{"Guide", "Guide > Setup", "Guide > Setup > Install"}
	for _, w := range wantContains {
		found := false
		for _, p := range gotPaths {
			if p == w {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected a chunk with section path %q, got paths %v", w, gotPaths)
		}
	}
}

func TestSplit_Idempotent(t *testing.T) {
	md := strings.Repeat("# Header\n\nsome paragraph text. ", 200)
	a := Split(md, Config{MaxChars: 500, OverlapChars: 50})
	b := Split(md, Config{MaxChars: 500, OverlapChars: 50})

	if len(a) != len(b) {
		t.Fatalf("non-idempotent chunk count: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("chunk %d differs between runs", i)
		}
	}
}

func TestSplit_SlidingWindowRespectsMax(t *testing.T) {
	md := "# H\n\n" + strings.Repeat("x", 5000)
	chunks := Split(md, Config{MaxChars: 1000, OverlapChars: 100})
	if len(chunks) < 5 {
		t.Fatalf("expected multiple chunks for long section, got %d", len(chunks))
	}
	for _, c := range chunks {
		if len(c.Text) > 1000+len("\n\n[CONTRACT_ADDRESSES]\n") {
			t.Errorf("chunk exceeds max size: %d chars", len(c.Text))
		}
	}
}
