package store

import (
	"time"

	"github.com/google/uuid"
)

// Page is a crawled or uploaded document scoped to one (workspace, kb) pair,
// unique by (workspace, kb, url). content_hash covers the extracted
// Markdown; indexed_content_hash is set equal to content_hash once the page
// has been chunked and embedded, so incremental indexing can select only
// pages where the two differ.
type Page struct {
	ID                 uuid.UUID
	Workspace          string
	KB                 string
	URL                string
	Title              string
	ContentMarkdown    string
	ContentHash        string
	IndexedContentHash string
	HTTPStatus         int
	LastCrawledAt      *time.Time
	Meta               map[string]any
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NeedsIndex reports whether the page's extracted content has changed since
// it was last chunked and embedded.
func (p Page) NeedsIndex() bool {
	return p.ContentHash != p.IndexedContentHash
}

// Chunk is a bounded slice of one page's Markdown, paired with a header
// breadcrumb and, once embedded, a dense vector. Unique by
// (page_id, chunk_index). Chunks are rebuilt wholesale when the owning page
// re-indexes.
type Chunk struct {
	ID             uuid.UUID
	PageID         uuid.UUID
	Workspace      string
	KB             string
	ChunkIndex     int
	SectionPath    string
	ChunkText      string
	ChunkHash      string
	TokenCount     int
	Embedding      []float32
	EmbeddingModel string
	CreatedAt      time.Time
}

// ScoredChunk pairs a Chunk with the retrieval engine's relevance score and
// the source query component(s) that surfaced it.
type ScoredChunk struct {
	Chunk
	PageURL   string
	PageTitle string
	Score     float64
}

// ContractIndex maps a lowercase 0x-prefixed 40-hex-character address to the
// protocol/contract metadata the retrieval engine or an auto-learn pass
// derived for it. Confidence is 1.0 for manually written entries, >= 0.9
// when a contract type was extracted from chunk text, 0.7 when only
// URL-based attribution is available.
type ContractIndex struct {
	Address         string
	Protocol        string
	ProtocolVersion string
	ContractType    string
	ContractName    string
	SourceURL       string
	SourceKB        string
	Confidence      float64
	ChainID         int
	Meta            map[string]any
	UpdatedAt       time.Time
}

// JobType enumerates the work a queued Job performs.
type JobType string

const (
	JobTypeCrawl       JobType = "crawl"
	JobTypeIndex       JobType = "index"
	JobTypeFileProcess JobType = "file_process"
)

// JobStatus enumerates a Job's lifecycle state. Claim transitions
// queued->running; completion transitions running->{succeeded|failed}; on
// transient failure with attempts < max, running->queued.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Job is one unit of crawl, index, or file-process work.
type Job struct {
	ID         uuid.UUID
	Type       JobType
	Status     JobStatus
	Payload    map[string]any
	Progress   map[string]any
	Error      string
	WorkerID   string
	StartedAt  *time.Time
	FinishedAt *time.Time
	CreatedAt  time.Time
}

// Attempts returns the claim-attempt count recorded in progress._meta, or 0
// if the job has never been claimed.
func (j Job) Attempts() int {
	meta, ok := j.Progress["_meta"].(map[string]any)
	if !ok {
		return 0
	}
	n, ok := meta["attempts"].(float64)
	if !ok {
		return 0
	}
	return int(n)
}

// FileBatch groups the FileItems uploaded together in one request.
type FileBatch struct {
	ID        uuid.UUID
	Workspace string
	KB        string
	Status    string
	CreatedAt time.Time
}

// FileItem is one uploaded file awaiting or having completed extraction.
type FileItem struct {
	ID        uuid.UUID
	BatchID   uuid.UUID
	Filename  string
	Status    string
	Error     string
	CreatedAt time.Time
}

// Feedback records a reviewer's rating of one answer message, keyed by
// (conversation_id, message_id).
type Feedback struct {
	ConversationID string
	MessageID      string
	Rating         string
	Reason         string
	Comment        string
	Sources        []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
