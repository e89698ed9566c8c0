package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrIndexUnavailable is returned by a VectorIndex that cannot serve indexed queries.
	ErrIndexUnavailable = errors.New("vector index unavailable")
	// ErrNonSuccessStatus is returned by fetchers for non-2xx responses.
	ErrNonSuccessStatus = errors.New("non-success status")
	// ErrQueueClosed is returned by a Queue that will never yield another item.
	ErrQueueClosed = errors.New("queue closed")
)

// StatusError reports a non-2xx response. It matches ErrNonSuccessStatus.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %d", ErrNonSuccessStatus, e.Code)
}

// Is implements errors.Is support for ErrNonSuccessStatus.
func (e *StatusError) Is(target error) bool {
	return target == ErrNonSuccessStatus
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code
	}
	return 0
}

// Queue hands crawl requests from the API to workers.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// JobStore persists job metadata and progress snapshots.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string) error
	UpdateProgress(ctx context.Context, jobID string, progress JobProgress) error
	SetResult(ctx context.Context, jobID string, result CrawlResult) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	// ActiveJob returns the queued or running job for an agent, if any.
	ActiveJob(ctx context.Context, companyID, agentID string) (Job, bool, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Renderer returns the live DOM of a page after client-side scripts have run.
type Renderer interface {
	Render(ctx context.Context, url string) (FetchResponse, error)
}

// Explorer drives a browser through a site's navigation and reports every
// same-origin link seen across the resulting DOM snapshots.
type Explorer interface {
	Explore(ctx context.Context, rootURL string) ([]Link, error)
}

// BrowserSession is a headless browser scoped to one crawl run. Close must be
// called on every exit path and is safe to call more than once.
type BrowserSession interface {
	Renderer
	Explorer
	Close() error
}

// SPADetector classifies documents that need client-side rendering.
type SPADetector interface {
	IsSPA(html []byte) bool
}

// Embedder turns texts into vectors of a fixed dimensionality.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Completer runs a single chat completion.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int) (string, error)
}

// ChunkStore persists and scans chunk records scoped by company.
type ChunkStore interface {
	InsertChunks(ctx context.Context, chunks []Chunk) error
	ListChunks(ctx context.Context, companyID string) ([]Chunk, error)
	DeleteChunks(ctx context.Context, companyID, agentID string) (int64, error)
}

// VectorIndex serves nearest-neighbour queries. Implementations without an
// index return ErrIndexUnavailable.
type VectorIndex interface {
	SearchIndexed(ctx context.Context, companyID string, vector []float32, candidates, limit int) ([]ScoredChunk, error)
}

// KnowledgeStore keeps operator-authored knowledge entries.
type KnowledgeStore interface {
	PutKnowledge(ctx context.Context, entry CustomKnowledgeEntry) error
	ListKnowledge(ctx context.Context, companyID string) ([]CustomKnowledgeEntry, error)
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator creates unique identifiers for jobs.
type IDGenerator interface {
	NewID() (string, error)
}
