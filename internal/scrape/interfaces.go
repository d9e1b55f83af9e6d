package scrape

import (
	"context"
	"time"
)

// Fetcher retrieves a URL's rendered content. Failures are encoded in the
// FetchResult status; the error return is reserved for context cancellation
// and programmer mistakes, never for network outcomes.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResult, error)
}

// Gate is consulted before every outbound fetch. Allowed checks the host's
// robots directives; WaitForSlot blocks until the per-host minimum
// inter-request interval has elapsed.
type Gate interface {
	Allowed(ctx context.Context, rawURL string) bool
	WaitForSlot(ctx context.Context, host string) error
}

// Extractor produces candidate records from a fetched document.
type Extractor interface {
	Extract(result FetchResult) []CandidateRecord
}

// JobStore persists job metadata and final entity sets.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string, progress Progress) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	SaveEntities(ctx context.Context, jobID string, entities []NormalizedEntity) error
	ListEntities(ctx context.Context, jobID string) ([]NormalizedEntity, error)
}

// BlobStore archives raw fetched documents and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes run-completion events to a message bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for scrape jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Hasher digests raw page bytes, used to derive archive object names.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// PostFilter optionally reshapes the final entity set. Implementations are
// advisory: callers must treat the output as enrichment and fall back to the
// deterministic input on any error.
type PostFilter interface {
	Filter(ctx context.Context, instruction string, entities []NormalizedEntity) ([]NormalizedEntity, error)
}
