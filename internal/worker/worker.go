// Package worker implements the crawl job execution loop. A Worker dequeues
// jobs, runs the orchestrator, archives raw pages, applies the optional post
// filter, persists entities, and publishes a completion event.
package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bizharvest/bizharvest/internal/orchestrator"
	"github.com/bizharvest/bizharvest/internal/progress"
	"github.com/bizharvest/bizharvest/internal/scrape"
)

// progressFlushInterval bounds how often in-flight progress is persisted.
const progressFlushInterval = 2 * time.Second

// Config controls Worker behavior.
type Config struct {
	ContentType string
	BlobPrefix  string
	Topic       string
}

// Deps groups the Worker's collaborators. Queue, JobStore, and Orchestrator
// are required; the rest are optional features.
type Deps struct {
	Queue        scrape.Queue
	JobStore     scrape.JobStore
	BlobStore    scrape.BlobStore
	Publisher    scrape.Publisher
	PostFilter   scrape.PostFilter
	Hasher       scrape.Hasher
	Clock        scrape.Clock
	Cancels      *CancelRegistry
	Progress     progress.Emitter
	Orchestrator orchestrator.Config
}

// Worker consumes queue items and executes the crawl pipeline.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Worker, error) {
	if deps.Queue == nil {
		return nil, fmt.Errorf("worker requires a queue")
	}
	if deps.JobStore == nil {
		return nil, fmt.Errorf("worker requires a job store")
	}
	if deps.Orchestrator.Fetcher == nil || deps.Orchestrator.Extractor == nil {
		return nil, fmt.Errorf("worker requires a configured orchestrator")
	}
	if deps.Clock == nil {
		return nil, fmt.Errorf("worker requires a clock")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	return &Worker{deps: deps, cfg: cfg, logger: logger}, nil
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.deps.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

// ProcessOne runs a single queue item to completion. Exposed for callers that
// manage their own dequeue loop.
func (w *Worker) ProcessOne(ctx context.Context, item scrape.QueueItem) {
	w.processJob(ctx, item)
}

func (w *Worker) processJob(ctx context.Context, item scrape.QueueItem) {
	if job, err := w.deps.JobStore.GetJob(ctx, item.JobID); err == nil && job.Status != scrape.JobStatusQueued {
		w.logger.Info("skipping job no longer queued",
			zap.String("job_id", item.JobID),
			zap.String("status", string(job.Status)))
		return
	}

	if err := w.deps.JobStore.UpdateJobStatus(ctx, item.JobID, scrape.JobStatusRunning, "", scrape.Progress{}); err != nil {
		w.logger.Error("mark job running failed", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}

	started := w.deps.Clock.Now()
	w.emit(progress.Event{JobID: item.JobID, Stage: progress.StageJobStart})

	sink := newProgressSink(w, item.JobID)

	cfg := w.deps.Orchestrator
	cfg.Logger = w.logger.With(zap.String("job_id", item.JobID))
	cfg.OnProgress = sink.observe
	cfg.Observer = w.observePage
	orch, err := orchestrator.New(cfg)
	if err != nil {
		w.failJob(ctx, item.JobID, fmt.Sprintf("build orchestrator: %v", err), scrape.Progress{})
		return
	}

	jobCtx, cancelJob := context.WithCancel(ctx)
	defer cancelJob()
	if w.deps.Cancels != nil {
		w.deps.Cancels.register(item.JobID, cancelJob)
		defer w.deps.Cancels.remove(item.JobID)
	}

	result, runErr := orch.Run(jobCtx, item.JobID, item.Plan)

	entities := w.applyPostFilter(ctx, item.Plan, result.Entities)
	if len(entities) > 0 {
		if err := w.deps.JobStore.SaveEntities(ctx, item.JobID, entities); err != nil {
			w.logger.Error("save entities failed", zap.String("job_id", item.JobID), zap.Error(err))
			if runErr == nil {
				runErr = fmt.Errorf("save entities: %w", err)
			}
		}
	}

	status, errText := finalStatus(jobCtx, result, runErr)
	if err := w.deps.JobStore.UpdateJobStatus(ctx, item.JobID, status, errText, result.Progress); err != nil {
		w.logger.Error("final job status update failed", zap.String("job_id", item.JobID), zap.Error(err))
	}

	w.publishCompletion(ctx, item.JobID, status, result, len(entities))

	stage := progress.StageJobDone
	note := errText
	switch status {
	case scrape.JobStatusFailed:
		stage = progress.StageJobError
	case scrape.JobStatusCanceled:
		note = "canceled"
	}
	w.emit(progress.Event{
		JobID:    item.JobID,
		Stage:    stage,
		Counters: result.Progress,
		Dur:      w.deps.Clock.Now().Sub(started),
		Note:     note,
	})

	w.logger.Info("job finished",
		zap.String("job_id", item.JobID),
		zap.String("status", string(status)),
		zap.Int("entities", len(entities)),
		zap.Int64("pages_fetched", result.Progress.PagesFetched))
}

func (w *Worker) failJob(ctx context.Context, jobID, errText string, counters scrape.Progress) {
	if err := w.deps.JobStore.UpdateJobStatus(ctx, jobID, scrape.JobStatusFailed, errText, counters); err != nil {
		w.logger.Error("fail job status update", zap.String("job_id", jobID), zap.Error(err))
	}
	w.emit(progress.Event{JobID: jobID, Stage: progress.StageJobError, Counters: counters, Note: errText})
}

// applyPostFilter runs the advisory filter when the plan asks for one. Any
// filter failure keeps the deterministic entity set.
func (w *Worker) applyPostFilter(ctx context.Context, plan scrape.CrawlPlan, entities []scrape.NormalizedEntity) []scrape.NormalizedEntity {
	if w.deps.PostFilter == nil || strings.TrimSpace(plan.PostFilter) == "" || len(entities) == 0 {
		return entities
	}
	filtered, err := w.deps.PostFilter.Filter(ctx, plan.PostFilter, entities)
	if err != nil {
		w.logger.Warn("post filter failed, keeping unfiltered entities", zap.Error(err))
		return entities
	}
	return filtered
}

// observePage reacts to every completed fetch: it reports the outcome to the
// progress stream and archives the raw body when the fetch succeeded.
func (w *Worker) observePage(ctx context.Context, jobID string, result scrape.FetchResult) {
	host := scrape.Host(result.FinalURL)
	if host == "" {
		host = scrape.Host(result.URL)
	}
	w.emit(progress.Event{
		JobID:     jobID,
		Stage:     progress.StagePageFetched,
		Host:      host,
		URL:       result.FinalURL,
		Status:    result.Status,
		Transport: result.Transport,
		Bytes:     int64(len(result.Body)),
		Dur:       result.Elapsed,
	})
	w.archivePage(ctx, jobID, result)
}

// emit forwards an event to the optional progress stream, stamping it with
// the worker clock.
func (w *Worker) emit(evt progress.Event) {
	if w.deps.Progress == nil {
		return
	}
	evt.TS = w.deps.Clock.Now()
	w.deps.Progress.Emit(evt)
}

// archivePage stores the raw body of each successful fetch.
func (w *Worker) archivePage(ctx context.Context, jobID string, result scrape.FetchResult) {
	if w.deps.BlobStore == nil || !result.OK() {
		return
	}
	name := result.FinalURL
	if w.deps.Hasher != nil {
		if digest, err := w.deps.Hasher.Hash(result.Body); err == nil {
			name = digest
		}
	}
	path := w.buildBlobPath(jobID, name)
	if _, err := w.deps.BlobStore.PutObject(ctx, path, w.cfg.ContentType, result.Body); err != nil {
		w.logger.Warn("archive page failed",
			zap.String("job_id", jobID),
			zap.String("url", result.FinalURL),
			zap.Error(err))
	}
}

func (w *Worker) buildBlobPath(jobID, name string) string {
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", jobID, name)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, jobID, name)
}

func (w *Worker) publishCompletion(ctx context.Context, jobID string, status scrape.JobStatus, result scrape.RunResult, entityCount int) {
	if w.deps.Publisher == nil || w.cfg.Topic == "" {
		return
	}
	payload := map[string]any{
		"job_id":        jobID,
		"status":        string(status),
		"entities":      entityCount,
		"pages_fetched": result.Progress.PagesFetched,
		"warnings":      result.Warnings,
		"timestamp":     w.deps.Clock.Now().UTC().Format(time.RFC3339),
	}
	if _, err := w.deps.Publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		w.logger.Warn("publish completion failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

func finalStatus(ctx context.Context, result scrape.RunResult, runErr error) (scrape.JobStatus, string) {
	switch {
	case ctx.Err() != nil:
		return scrape.JobStatusCanceled, ""
	case runErr != nil:
		return scrape.JobStatusFailed, runErr.Error()
	case result.State == scrape.RunFailed:
		return scrape.JobStatusFailed, strings.Join(result.Warnings, "; ")
	default:
		return scrape.JobStatusSucceeded, ""
	}
}

// progressSink persists progress snapshots, throttled so a busy crawl does
// not turn every fetched page into a job-store write.
type progressSink struct {
	worker    *Worker
	jobID     string
	mu        sync.Mutex
	lastFlush time.Time
}

func newProgressSink(w *Worker, jobID string) *progressSink {
	return &progressSink{worker: w, jobID: jobID}
}

func (s *progressSink) observe(snapshot scrape.Progress) {
	now := s.worker.deps.Clock.Now()

	s.mu.Lock()
	if now.Sub(s.lastFlush) < progressFlushInterval {
		s.mu.Unlock()
		return
	}
	s.lastFlush = now
	s.mu.Unlock()

	s.worker.emit(progress.Event{
		JobID:    s.jobID,
		Stage:    progress.StageHeartbeat,
		Counters: snapshot,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.worker.deps.JobStore.UpdateJobStatus(ctx, s.jobID, scrape.JobStatusRunning, "", snapshot); err != nil {
		s.worker.logger.Debug("progress flush failed", zap.String("job_id", s.jobID), zap.Error(err))
	}
}
