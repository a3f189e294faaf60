package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/onekey/rag-core-go/internal/contractindex"
	"github.com/onekey/rag-core-go/internal/provider"
	"github.com/onekey/rag-core-go/internal/ragpipeline"
	"github.com/onekey/rag-core-go/internal/sse"
	"github.com/onekey/rag-core-go/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// ChatTimeout bounds the total duration of one non-streaming
	// /v1/chat/completions request, per §7's "Timeout: ... total
	// (non-stream)". Exceeding it yields a 504-equivalent caller error.
	// Defaults to 2 minutes if zero.
	ChatTimeout time.Duration
	// PrepareTimeout bounds the prepare phase (compaction through rerank),
	// applied to both streaming and non-streaming requests, per §4.13's
	// prepare-phase timeout. A streaming request that times out here emits
	// one inline SSE error frame instead of aborting the connection.
	// Defaults to 20 seconds if zero.
	PrepareTimeout time.Duration
	// MaxConcurrentRequests bounds how many chat-completions requests may
	// run at once in this process, per §4.11's back-pressure note. Zero
	// means unbounded.
	MaxConcurrentRequests int
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* and
	// /v1/* routes. If empty, authentication is disabled (development mode).
	APIKey string
	// MetricsRegistry is where server metrics are registered. Defaults to
	// prometheus.DefaultRegisterer if nil.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to
	// prometheus.DefaultGatherer if nil.
	MetricsGatherer prometheus.Gatherer
}

// Server is the HTTP server wrapping the RAG query and ingest pipelines.
type Server struct {
	// pipeline answers one chat-completions request end to end.
	pipeline *ragpipeline.Pipeline
	// registry backs GET /v1/models. May be nil, in which case the route
	// returns an empty model list.
	registry *provider.Registry
	// contracts resolves GET/POST contract-lookup requests directly,
	// independent of the chat pipeline.
	contracts *contractindex.Index
	// store backs feedback submission and file-batch status lookups.
	store *store.Store
	// sem bounds concurrent in-flight chat-completions requests.
	sem *sse.Semaphore
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
	// metrics holds the Prometheus metrics owned by this server.
	metrics *serverMetrics
}

// chatMessage is one entry of a chatCompletionsRequest's messages array.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// responseFormat selects strict-JSON framing of the assistant's answer.
type responseFormat struct {
	Type string `json:"type"`
}

// allocationWire is one caller-requested per-knowledge-base retrieval slice.
type allocationWire struct {
	KB    string `json:"kb"`
	TopK  int    `json:"top_k"`
	Mode  string `json:"mode,omitempty"`
	Hybrid *hybridParamsWire `json:"hybrid,omitempty"`
}

// hybridParamsWire configures the hybrid vector+lexical merge formula.
type hybridParamsWire struct {
	VectorK      int     `json:"vector_k,omitempty"`
	BM25K        int     `json:"bm25_k,omitempty"`
	VectorWeight float64 `json:"vector_weight,omitempty"`
	BM25Weight   float64 `json:"bm25_weight,omitempty"`
}

// ragMetadata is this core's own extension of the OpenAI-compatible
// `metadata` field: the workspace/kb scoping and retrieval knobs the
// upstream chat-completions contract has no room for. A closed record
// rather than a free-form map, per the prompt-template-bundle redesign
// guidance.
type ragMetadata struct {
	Workspace          string           `json:"workspace"`
	KB                 string           `json:"kb,omitempty"`
	Mode               string           `json:"mode,omitempty"`
	Hybrid             *hybridParamsWire `json:"hybrid,omitempty"`
	Allocations        []allocationWire `json:"allocations,omitempty"`
	GlobalTopK         int              `json:"global_top_k,omitempty"`
	StrictKB           bool             `json:"strict_kb,omitempty"`
	AutoLearnContracts bool             `json:"auto_learn_contracts,omitempty"`
	SessionID          string           `json:"session_id,omitempty"`
}

// chatCompletionsRequest is the JSON body for POST /v1/chat/completions.
type chatCompletionsRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Stream         bool           `json:"stream,omitempty"`
	Temperature    *float32       `json:"temperature,omitempty"`
	TopP           *float32       `json:"top_p,omitempty"`
	MaxTokens      *int           `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Metadata       *ragMetadata   `json:"metadata,omitempty"`
	Debug          bool           `json:"debug,omitempty"`
}

// chatCompletionChoice is one entry of a non-stream chatCompletionsResponse.
type chatCompletionChoice struct {
	Index        int                  `json:"index"`
	Message      chatCompletionAnswer `json:"message"`
	FinishReason string               `json:"finish_reason"`
}

type chatCompletionAnswer struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type usageWire struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// contractInfoWire is the optional `contract_info` field of a chat-completions
// response, and the body of GET/POST contract-lookup responses
// (`ContractInfoResponse` in spec.md §6).
type contractInfoWire struct {
	Address         string  `json:"address"`
	Protocol        string  `json:"protocol"`
	ProtocolVersion string  `json:"protocol_version"`
	ContractType    string  `json:"contract_type"`
	ContractName    string  `json:"contract_name"`
	Confidence      float64 `json:"confidence"`
	ChainID         int     `json:"chain_id"`
	Source          string  `json:"source"`
}

// chatCompletionsResponse is the non-stream JSON response for
// POST /v1/chat/completions.
type chatCompletionsResponse struct {
	ID           string                  `json:"id"`
	Object       string                  `json:"object"`
	Created      int64                   `json:"created"`
	Model        string                  `json:"model"`
	Choices      []chatCompletionChoice  `json:"choices"`
	Usage        usageWire               `json:"usage"`
	Sources      []sse.Source            `json:"sources"`
	ContractInfo *contractInfoWire       `json:"contract_info,omitempty"`
}

// modelListResponse is the JSON response for GET /v1/models.
type modelListResponse struct {
	Object string      `json:"object"`
	Data   []modelWire `json:"data"`
}

type modelMeta struct {
	UpstreamModel string `json:"upstream_model"`
	BaseURL       string `json:"base_url"`
}

type modelWire struct {
	ID      string    `json:"id"`
	Object  string    `json:"object"`
	Created int64     `json:"created"`
	OwnedBy string    `json:"owned_by"`
	Root    string    `json:"root"`
	Parent  string    `json:"parent,omitempty"`
	Meta    modelMeta `json:"meta"`
}

// contractLookupRequest is the JSON body for POST /api/v1/contracts/lookup.
type contractLookupRequest struct {
	Workspace string   `json:"workspace"`
	KBs       []string `json:"kbs,omitempty"`
	Addresses []string `json:"addresses"`
	AutoLearn bool     `json:"auto_learn,omitempty"`
}

type contractLookupStats struct {
	Total     int `json:"total"`
	IndexHits int `json:"index_hits"`
	RAGHits   int `json:"rag_hits"`
	NotFound  int `json:"not_found"`
}

// contractLookupResponse is the JSON response for POST /api/v1/contracts/lookup.
type contractLookupResponse struct {
	Results map[string]*contractInfoWire `json:"results"`
	Stats   contractLookupStats         `json:"stats"`
}

// feedbackRequest is the JSON body for POST /api/v1/feedback.
type feedbackRequest struct {
	ConversationID string   `json:"conversation_id"`
	MessageID      string   `json:"message_id"`
	Rating         string   `json:"rating"`
	Reason         string   `json:"reason,omitempty"`
	Comment        string   `json:"comment,omitempty"`
	Sources        []string `json:"sources,omitempty"`
}

// fileItemWire is one uploaded file's status, as returned by the file-batch
// status endpoint.
type fileItemWire struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// fileBatchResponse is the JSON response for GET /api/v1/files/{batch_id}.
type fileBatchResponse struct {
	ID     string         `json:"id"`
	Status string         `json:"status"`
	Items  []fileItemWire `json:"items"`
}
