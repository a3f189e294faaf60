// Package ingest implements the `index` job body (§4.12 item 2): walking
// pages whose content has changed, regenerating their chunks, embedding
// them, and upserting both, plus the page-upsert step `crawl` and
// `file_process` jobs both call into before index runs.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/onekey/rag-core-go/internal/apperror"
	"github.com/onekey/rag-core-go/internal/chunker"
	"github.com/onekey/rag-core-go/internal/embedder"
	"github.com/onekey/rag-core-go/internal/store"
)

// embeddingBatchSize bounds how many chunk texts are embedded per remote
// call, per spec.md §6's batch cap noted on embedder.Embedder.
const embeddingBatchSize = 64

// PageStore is the subset of *store.Store an Indexer needs. Narrowed to an
// interface so tests can substitute an in-memory fake.
type PageStore interface {
	UpsertPage(ctx context.Context, p store.Page) (store.Page, error)
	PagesNeedingIndex(ctx context.Context, workspace, kb string, full bool) ([]store.Page, error)
	ReplaceChunks(ctx context.Context, pageID uuid.UUID, workspace, kb string, chunks []store.Chunk) error
}

// Indexer ties the chunker, an embedder, and the page/chunk store together
// into the incremental index pass.
type Indexer struct {
	store          PageStore
	embedder       embedder.Embedder
	chunkCfg       chunker.Config
	embeddingModel string
}

// New constructs an Indexer. embeddingModel is recorded on every chunk it
// writes, identifying which model produced the stored vector.
func New(s PageStore, e embedder.Embedder, chunkCfg chunker.Config, embeddingModel string) *Indexer {
	return &Indexer{store: s, embedder: e, chunkCfg: chunkCfg, embeddingModel: embeddingModel}
}

// ContentHash returns the stable hash UpsertPage callers should set as
// Page.ContentHash, computed over the extracted Markdown/text.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// UpsertPage stores one page's extracted content, natural-keyed on
// (workspace, kb, url). Crawl and file-process jobs both call this before
// triggering an index pass over the same scope.
func (ix *Indexer) UpsertPage(ctx context.Context, workspace, kb, url, title, content string, httpStatus int) (store.Page, error) {
	return ix.store.UpsertPage(ctx, store.Page{
		Workspace:       workspace,
		KB:              kb,
		URL:             url,
		Title:           title,
		ContentMarkdown: content,
		ContentHash:     ContentHash(content),
		HTTPStatus:      httpStatus,
	})
}

// Run walks pages in (workspace, kb) needing an index refresh (or every
// page, when full is true), regenerating and upserting their chunks. It
// processes pages independently: one page's failure does not stop the
// others. Only the first per-page error is returned; later ones are not
// reported.
func (ix *Indexer) Run(ctx context.Context, workspace, kb string, full bool) (int, error) {
	pages, err := ix.store.PagesNeedingIndex(ctx, workspace, kb, full)
	if err != nil {
		return 0, apperror.Dependency("ingest: list pages needing index", err)
	}

	var indexed int
	var firstErr error
	for _, page := range pages {
		if err := ix.indexPage(ctx, page); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		indexed++
	}
	return indexed, firstErr
}

func (ix *Indexer) indexPage(ctx context.Context, page store.Page) error {
	split := chunker.Split(page.ContentMarkdown, ix.chunkCfg)
	if len(split) == 0 {
		return ix.store.ReplaceChunks(ctx, page.ID, page.Workspace, page.KB, nil)
	}

	texts := make([]string, len(split))
	for i, c := range split {
		texts[i] = c.Text
	}

	embeddings := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embeddingBatchSize {
		end := start + embeddingBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := ix.embedder.EmbedDocuments(ctx, texts[start:end])
		if err != nil {
			return apperror.Dependency(fmt.Sprintf("ingest: embed page %s", page.URL), err)
		}
		embeddings = append(embeddings, batch...)
	}

	chunks := make([]store.Chunk, len(split))
	for i, c := range split {
		chunks[i] = store.Chunk{
			PageID:      page.ID,
			Workspace:   page.Workspace,
			KB:          page.KB,
			ChunkIndex:  i,
			SectionPath: c.SectionPath,
			ChunkText:   c.Text,
			ChunkHash:   c.Hash,
			TokenCount:     len(c.Text) / 4,
			Embedding:      embeddings[i],
			EmbeddingModel: ix.embeddingModel,
		}
	}

	if err := ix.store.ReplaceChunks(ctx, page.ID, page.Workspace, page.KB, chunks); err != nil {
		return apperror.Dependency(fmt.Sprintf("ingest: replace chunks for page %s", page.URL), err)
	}
	return nil
}

// FilePageURL builds the synthetic page URL for an uploaded file, per
// §4.12 item 3 / §9's `file://<batch_id>/<filename>` convention.
func FilePageURL(batchID uuid.UUID, filename string) string {
	return fmt.Sprintf("file://%s/%s", batchID, filename)
}
