// Package scrape defines core types shared across the extraction pipeline.
package scrape

import (
	"net/http"
	"time"
)

// StatusKind classifies the outcome of a single fetch attempt.
type StatusKind string

// Fetch outcomes. Anything other than StatusOK carries no usable body.
const (
	StatusOK          StatusKind = "ok"
	StatusBlocked     StatusKind = "blocked"
	StatusCaptcha     StatusKind = "captcha"
	StatusRateLimited StatusKind = "rate_limited"
	StatusTimeout     StatusKind = "timeout"
	StatusError       StatusKind = "error"
)

// Transport identifies which fetch path produced a result.
type Transport string

// Supported transports.
const (
	TransportStatic   Transport = "static"
	TransportRendered Transport = "rendered"
)

// SourceKind tags which extraction strategy produced a CandidateRecord.
type SourceKind string

// Extraction sources, ordered by trust. Structured markup always wins.
const (
	SourceJSONLD        SourceKind = "json_ld"
	SourceEmbeddedState SourceKind = "embedded_state"
	SourceHTMLPattern   SourceKind = "html_pattern"
)

// Priority returns the merge precedence of the source; higher wins.
func (k SourceKind) Priority() int {
	switch k {
	case SourceJSONLD:
		return 3
	case SourceEmbeddedState:
		return 2
	case SourceHTMLPattern:
		return 1
	default:
		return 0
	}
}

// Canonical field names used across extraction, normalization, and export.
const (
	FieldName        = "name"
	FieldAddressRaw  = "address_raw"
	FieldStreet      = "street"
	FieldCity        = "city"
	FieldRegion      = "region"
	FieldPostalCode  = "postal_code"
	FieldCountry     = "country"
	FieldPhone       = "phone"
	FieldRawText     = "raw_text"
	FieldWebsite     = "website"
	FieldEmail       = "email"
	FieldRating      = "rating"
	FieldPrice       = "price"
	FieldHours       = "hours"
	FieldDescription = "description"
	FieldAmenities   = "amenities"
	FieldLatitude    = "latitude"
	FieldLongitude   = "longitude"
	FieldDetailURL   = "detail_url"
)

// FetchRequest captures everything needed to fetch one URL.
type FetchRequest struct {
	URL            string
	PreferRendered bool
	Headers        http.Header
}

// FetchResult is the immutable outcome of a fetch. It is owned by the caller
// that requested it and never mutated by the fetcher afterwards.
type FetchResult struct {
	URL        string
	FinalURL   string
	Status     StatusKind
	StatusCode int
	Body       []byte
	Transport  Transport
	Headers    http.Header
	Elapsed    time.Duration
}

// OK reports whether the result carries a usable body.
func (r FetchResult) OK() bool {
	return r.Status == StatusOK && len(r.Body) > 0
}

// CandidateRecord is a flat field->raw value mapping produced by one
// extraction strategy. Records are never mutated after creation; the
// normalizer builds new structures from them.
type CandidateRecord struct {
	Source     SourceKind
	SourceURL  string
	FromDetail bool
	Fields     map[string]string
	// DetailURL points at the entity's detail page when the listing
	// exposed one. Empty for records extracted from detail pages.
	DetailURL string
}

// Field returns the raw value for name, or "" when absent.
func (c CandidateRecord) Field(name string) string {
	return c.Fields[name]
}

// EntityID is a fixed-length hex digest identifying one real-world entity.
// Records reducing to the same canonical (name, address) share an ID.
type EntityID string

// FieldOrigin records which source currently owns a merged field value.
type FieldOrigin struct {
	Kind       SourceKind
	FromDetail bool
}

// NormalizedEntity is the merged, canonical view of one entity within a
// single crawl run. A field name never appears in both Fields and Missing.
type NormalizedEntity struct {
	ID           EntityID
	Fields       map[string]string
	Provenance   map[string]FieldOrigin
	Missing      map[string]struct{}
	SourceURLs   []string
	DetailFailed bool
}

// CrawlPlan is the immutable input to one crawl run.
type CrawlPlan struct {
	Seed              string `json:"seed"`
	MaxPages          int    `json:"max_pages"`
	MaxDepth          int    `json:"max_depth"`
	SameHostOnly      bool   `json:"same_host_only"`
	DetailConcurrency int    `json:"detail_page_concurrency"`
	PreferRendered    bool   `json:"use_rendered_transport"`
	// PostFilter is forwarded untouched to the optional advisory
	// post-filter; the pipeline itself never interprets it.
	PostFilter   string `json:"post_filter,omitempty"`
	ExportFormat string `json:"export_format,omitempty"`
}

// Progress is the monotonically increasing tuple polled by the job service.
type Progress struct {
	PagesFetched         int64 `json:"pages_fetched"`
	EntitiesFound        int64 `json:"entities_found"`
	DetailPagesCompleted int64 `json:"detail_pages_completed"`
}

// RunState tracks the orchestrator's state machine.
type RunState string

// Crawl run states. Failed is absorbing and only reachable on systemic
// conditions, never from a single entity's failure.
const (
	RunSeeded         RunState = "seeded"
	RunListingFetched RunState = "listing_fetched"
	RunDetailFetching RunState = "detail_fetching"
	RunMerged         RunState = "merged"
	RunDone           RunState = "done"
	RunFailed         RunState = "failed"
)

// RunResult is handed to the export adapter when a run completes.
type RunResult struct {
	State    RunState
	Entities []NormalizedEntity
	Progress Progress
	// Warnings carries run-level notes such as hosts aborted for
	// systemic failures. The run can still be Done with warnings.
	Warnings []string
}

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Job is the metadata persisted for each submitted scrape request.
type Job struct {
	ID        string     `json:"id"`
	Status    JobStatus  `json:"status"`
	Submitted time.Time  `json:"submitted_at"`
	Started   *time.Time `json:"started_at,omitempty"`
	Finished  *time.Time `json:"finished_at,omitempty"`
	ErrorText string     `json:"error_text,omitempty"`
	Plan      CrawlPlan  `json:"plan"`
	Progress  Progress   `json:"progress"`
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Plan      CrawlPlan
	Attempt   int
	Submitted int64
}
