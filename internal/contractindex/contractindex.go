// Package contractindex maps blockchain contract addresses to the protocol
// metadata extracted from crawled documentation, backed by a configured
// host-fragment→protocol table (no remote calls) plus a reverse lookup over
// already-indexed chunks with optional auto-learning.
package contractindex

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/onekey/rag-core-go/internal/store"
)

// Store is the narrow persistence surface the contract index needs.
type Store interface {
	GetContract(ctx context.Context, address string) (store.ContractIndex, bool, error)
	UpsertContract(ctx context.Context, ci store.ContractIndex) (store.ContractIndex, error)
	ChunksContainingAddress(ctx context.Context, workspace string, kbs []string, address string, limit int) ([]store.ScoredChunk, error)
}

// Config configures the deterministic host-fragment → protocol table and
// the batch size used by BatchBuild.
type Config struct {
	// HostFragments maps a substring of a chunk's source URL host+path to a
	// protocol label, enumerated entirely in configuration.
	HostFragments map[string]string
	// BatchSize bounds how many chunks BatchBuild inspects; BatchBuild runs a
	// single query, so chunks beyond this limit are not inspected.
	BatchSize int
}

const defaultBatchSize = 200

func (cfg Config) resolved() Config {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return cfg
}

// Index is the contract-address lookup and auto-learning service.
type Index struct {
	store Store
	cfg   Config
}

// New constructs an Index backed by store using cfg.
func New(s Store, cfg Config) *Index {
	return &Index{store: s, cfg: cfg.resolved()}
}

var addressPattern = regexp.MustCompile(`^0x[0-9a-f]{40}$`)

// Get returns the indexed entry for a lowercased address.
func (ix *Index) Get(ctx context.Context, address string) (store.ContractIndex, bool, error) {
	return ix.store.GetContract(ctx, strings.ToLower(address))
}

// Upsert writes an entry, subject to the store's higher-confidence-wins
// conflict rule.
func (ix *Index) Upsert(ctx context.Context, ci store.ContractIndex) (store.ContractIndex, error) {
	ci.Address = strings.ToLower(ci.Address)
	return ix.store.UpsertContract(ctx, ci)
}

var (
	reVersionDotV   = regexp.MustCompile(`(?i)V(\d+)`)
	reVersionDashV  = regexp.MustCompile(`(?i)-v(\d+)`)
	reTableNameLink = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)\s*\|`)
	reLinkThenAddr  = regexp.MustCompile(`(?i)\[([^\]]+)\]\([^)]*\)\s*(?:\||` + `0x[0-9a-f]{40}` + `)`)
	reNameColon     = regexp.MustCompile(`(?m)^\s*([A-Za-z][A-Za-z0-9_ .-]{1,60}?):\s*0x[0-9a-fA-F]{40}`)
	reNameParen     = regexp.MustCompile(`(?i)([A-Za-z][A-Za-z0-9_ .-]{1,60}?)\s*\(0x[0-9a-fA-F]{40}\)`)
)

// BuildFromChunk derives a contract-index entry for address from one chunk's
// text and source, or (Entry{}, false) if no protocol can be matched.
func (ix *Index) BuildFromChunk(chunkText, chunkURL, chunkKB, address string) (store.ContractIndex, bool) {
	address = strings.ToLower(address)

	protocol, ok := matchProtocol(chunkURL, ix.cfg.HostFragments)
	if !ok {
		return store.ContractIndex{}, false
	}

	version := extractVersion(chunkURL)
	if version == "" {
		head := chunkText
		if len(head) > 500 {
			head = head[:500]
		}
		version = extractVersion(head)
	}

	contractType := extractContractType(chunkText, address)

	confidence := 0.7
	if contractType != "" {
		confidence = 0.9
	}

	return store.ContractIndex{
		Address:         address,
		Protocol:        protocol,
		ProtocolVersion: version,
		ContractType:    contractType,
		SourceURL:       chunkURL,
		SourceKB:        chunkKB,
		Confidence:      confidence,
	}, true
}

// matchProtocol substring-matches url's host+path against the configured
// host-fragment table. The longest matching fragment wins so more specific
// entries take precedence over generic ones.
func matchProtocol(url string, table map[string]string) (string, bool) {
	lower := strings.ToLower(url)
	best := ""
	bestProtocol := ""
	for fragment, protocol := range table {
		f := strings.ToLower(fragment)
		if f == "" || !strings.Contains(lower, f) {
			continue
		}
		if len(f) > len(best) {
			best, bestProtocol = f, protocol
		}
	}
	if best == "" {
		return "", false
	}
	return bestProtocol, true
}

// extractVersion applies the V(\d+) / -v(\d+) regex family, returning
// "V<n>" or "".
func extractVersion(s string) string {
	if m := reVersionDashV.FindStringSubmatch(s); m != nil {
		return "V" + m[1]
	}
	if m := reVersionDotV.FindStringSubmatch(s); m != nil {
		return "V" + m[1]
	}
	return ""
}

// extractContractType scans lines containing address (case-insensitive) for
// a Markdown table cell with a linked name, a Markdown link followed by the
// address, "Name: 0x…", or "Name (0x…)". First match wins.
func extractContractType(chunkText, address string) string {
	lowerAddr := strings.ToLower(address)
	for _, line := range strings.Split(chunkText, "\n") {
		if !strings.Contains(strings.ToLower(line), lowerAddr) {
			continue
		}
		if m := reTableNameLink.FindStringSubmatch(line); m != nil {
			return strings.TrimSpace(m[1])
		}
		if m := reLinkThenAddr.FindStringSubmatch(line); m != nil {
			return strings.TrimSpace(m[1])
		}
		if m := reNameColon.FindStringSubmatch(line); m != nil {
			return strings.TrimSpace(m[1])
		}
		if m := reNameParen.FindStringSubmatch(line); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

// LookupResult is the answer to a contract lookup, including its source.
type LookupResult struct {
	store.ContractIndex
	Source string // "index" or "rag"
}

// reAddressInText matches a bare address anywhere in a chunk, used by
// BatchBuild to discover addresses not yet indexed.
var reAddressInText = regexp.MustCompile(`0x[a-fA-F0-9]{40}`)

// Lookup resolves address against the index first; on a miss it falls back
// to a RAG reverse lookup over chunks mentioning the address, optionally
// auto-learning the result into the index.
func (ix *Index) Lookup(ctx context.Context, workspace string, kbs []string, address string, autoLearn bool) (LookupResult, bool, error) {
	address = strings.ToLower(address)
	if !addressPattern.MatchString(address) {
		return LookupResult{}, false, nil
	}

	if ci, found, err := ix.Get(ctx, address); err != nil {
		return LookupResult{}, false, err
	} else if found {
		return LookupResult{ContractIndex: ci, Source: "index"}, true, nil
	}

	const ragCandidateLimit = 5
	chunks, err := ix.store.ChunksContainingAddress(ctx, workspace, kbs, address, ragCandidateLimit)
	if err != nil {
		return LookupResult{}, false, err
	}

	for _, c := range chunks {
		ci, ok := ix.BuildFromChunk(c.ChunkText, c.PageURL, c.KB, address)
		if !ok {
			continue
		}
		if autoLearn {
			ci.UpdatedAt = time.Now().UTC()
			if stored, err := ix.Upsert(ctx, ci); err == nil {
				ci = stored
			}
		}
		return LookupResult{ContractIndex: ci, Source: "rag"}, true, nil
	}

	return LookupResult{}, false, nil
}

// BatchBuild iterates chunks in workspace (optionally restricted to kb)
// containing the address pattern, skips addresses already indexed, builds
// entries via BuildFromChunk, and upserts them. It fetches at most
// Config.BatchSize chunks (oldest first) in one query and does not page
// through the rest; chunks past that limit are not inspected by this call.
// When dryRun is true no
// writes occur; the returned count still reflects how many would have been
// written.
func (ix *Index) BatchBuild(ctx context.Context, workspace, kb string, dryRun bool) (int, error) {
	var kbs []string
	if kb != "" {
		kbs = []string{kb}
	}

	seen := map[string]bool{}
	written := 0

	chunks, err := ix.store.ChunksContainingAddress(ctx, workspace, kbs, "0x", ix.cfg.BatchSize)
	if err != nil {
		return written, err
	}

	for _, c := range chunks {
		addrs := reAddressInText.FindAllString(c.ChunkText, -1)
		sort.Strings(addrs)
		for _, raw := range addrs {
			addr := strings.ToLower(raw)
			if seen[addr] {
				continue
			}
			seen[addr] = true

			if _, found, err := ix.Get(ctx, addr); err == nil && found {
				continue
			}

			ci, ok := ix.BuildFromChunk(c.ChunkText, c.PageURL, c.KB, addr)
			if !ok {
				continue
			}
			written++
			if !dryRun {
				if _, err := ix.Upsert(ctx, ci); err != nil {
					return written, err
				}
			}
		}
	}

	return written, nil
}

// ParseChainID parses a decimal chain id string, defaulting to 0 on error.
func ParseChainID(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}
