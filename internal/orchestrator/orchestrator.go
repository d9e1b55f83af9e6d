// Package orchestrator drives a crawl run end to end: listing pagination,
// bounded detail fetching, and the final merge into normalized entities.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/bizharvest/bizharvest/internal/extractor"
	"github.com/bizharvest/bizharvest/internal/normalizer"
	"github.com/bizharvest/bizharvest/internal/scrape"
)

// PageObserver sees every completed fetch, successful or not. Used to
// archive raw pages; observers must not block for long.
type PageObserver func(ctx context.Context, jobID string, result scrape.FetchResult)

// Config wires an Orchestrator's collaborators.
type Config struct {
	Fetcher    scrape.Fetcher
	Extractor  scrape.Extractor
	Normalizer *normalizer.Normalizer
	Logger     *zap.Logger
	Observer   PageObserver
	// OnProgress, when set, receives a snapshot after every counter
	// change.
	OnProgress func(scrape.Progress)
	// HostFailureCeiling is the consecutive fetch-failure count after
	// which a host is abandoned for the rest of the run.
	HostFailureCeiling int
}

// Orchestrator executes crawl plans. One instance is safe for concurrent
// runs; all run state lives on the per-call run struct.
type Orchestrator struct {
	cfg Config
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("orchestrator: fetcher is required")
	}
	if cfg.Extractor == nil {
		return nil, fmt.Errorf("orchestrator: extractor is required")
	}
	if cfg.Normalizer == nil {
		cfg.Normalizer = normalizer.New(cfg.Logger)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.HostFailureCeiling <= 0 {
		cfg.HostFailureCeiling = 5
	}
	return &Orchestrator{cfg: cfg}, nil
}

// Run executes one plan to completion or cancellation. On cancellation the
// returned result still carries every entity assembled so far, alongside
// the context error.
func (o *Orchestrator) Run(ctx context.Context, jobID string, plan scrape.CrawlPlan) (scrape.RunResult, error) {
	plan, err := ResolvePlan(plan)
	if err != nil {
		return scrape.RunResult{State: scrape.RunFailed}, err
	}
	seed, err := scrape.NormalizeURL(plan.Seed)
	if err != nil {
		return scrape.RunResult{State: scrape.RunFailed}, fmt.Errorf("plan: bad seed: %w", err)
	}
	plan.Seed = seed

	r := &run{
		o:       o,
		jobID:   jobID,
		plan:    plan,
		logger:  o.cfg.Logger.With(zap.String("job_id", jobID), zap.String("seed", plan.Seed)),
		health:  map[string]*hostHealth{},
		visited: map[string]struct{}{},
		seenIDs: map[scrape.EntityID]struct{}{},
	}
	return r.execute(ctx)
}

// entityWork is one listing card waiting for its detail page.
type entityWork struct {
	listing   []scrape.CandidateRecord
	detailURL string
}

type hostHealth struct {
	consecutive int
	aborted     bool
}

type run struct {
	o      *Orchestrator
	jobID  string
	plan   scrape.CrawlPlan
	logger *zap.Logger

	state scrape.RunState

	mu       sync.Mutex
	health   map[string]*hostHealth
	visited  map[string]struct{}
	seenIDs  map[scrape.EntityID]struct{}
	warnings []string
	entities []scrape.NormalizedEntity

	pagesFetched    atomic.Int64
	entitiesFound   atomic.Int64
	detailCompleted atomic.Int64
}

func (r *run) execute(ctx context.Context) (scrape.RunResult, error) {
	r.state = scrape.RunSeeded

	work, err := r.listingPhase(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return r.result(), ctx.Err()
		}
		r.state = scrape.RunFailed
		return r.result(), err
	}

	r.detailPhase(ctx, work)
	if ctx.Err() != nil {
		return r.result(), ctx.Err()
	}

	r.state = scrape.RunMerged
	r.mergeDuplicates()

	r.state = scrape.RunDone
	return r.result(), nil
}

// listingPhase walks the listing pagination chain sequentially, collecting
// detail work items and standalone entities. It returns an error only for
// systemic conditions; a dead pagination tail just ends the phase.
func (r *run) listingPhase(ctx context.Context) ([]*entityWork, error) {
	var work []*entityWork
	pageURL := r.plan.Seed
	seenDetail := map[string]struct{}{}

	for depth := 1; pageURL != "" && depth <= r.plan.MaxDepth; depth++ {
		if ctx.Err() != nil {
			return work, ctx.Err()
		}
		if !r.reservePage() {
			r.warn("page budget exhausted during listing crawl")
			break
		}
		if r.hostAborted(scrape.Host(pageURL)) {
			if depth == 1 {
				return work, fmt.Errorf("seed host %s abandoned after repeated failures", scrape.Host(pageURL))
			}
			break
		}

		result := r.fetchPage(ctx, pageURL, r.plan.PreferRendered)
		if !result.OK() {
			if depth == 1 {
				return work, fmt.Errorf("seed fetch failed with status %s", result.Status)
			}
			r.warn(fmt.Sprintf("pagination stopped at %s: status %s", pageURL, result.Status))
			break
		}
		r.state = scrape.RunListingFetched

		doc, err := extractor.ParseDocument(result)
		if err != nil {
			r.warn(fmt.Sprintf("listing page %s did not parse: %v", pageURL, err))
			break
		}
		records := r.o.cfg.Extractor.Extract(result)
		links := r.filterLinks(extractor.DetailLinks(doc), seenDetail)

		pageWork, standalone := pairRecords(records, links)
		work = append(work, pageWork...)
		for _, rec := range standalone {
			r.appendEntity(r.o.cfg.Normalizer.Merge([]scrape.CandidateRecord{rec}))
		}

		pageURL = r.nextListingPage(doc)
	}
	return work, nil
}

// filterLinks drops already-seen and off-host detail URLs.
func (r *run) filterLinks(links []string, seen map[string]struct{}) []string {
	var out []string
	for _, link := range links {
		if r.plan.SameHostOnly && !scrape.SameHost(link, r.plan.Seed) {
			continue
		}
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}
		out = append(out, link)
	}
	return out
}

func (r *run) nextListingPage(doc *extractor.Document) string {
	next := extractor.NextPage(doc)
	if next == "" {
		return ""
	}
	if r.plan.SameHostOnly && !scrape.SameHost(next, r.plan.Seed) {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.visited[next]; dup {
		return ""
	}
	return next
}

// pairRecords associates listing records with detail links. A record whose
// detail or website URL matches a link rides along with it; everything else
// becomes either a stub-only work item or a standalone record.
func pairRecords(records []scrape.CandidateRecord, links []string) ([]*entityWork, []scrape.CandidateRecord) {
	byLink := map[string]*entityWork{}
	var work []*entityWork
	for _, link := range links {
		w := &entityWork{detailURL: link}
		byLink[link] = w
		work = append(work, w)
	}

	var standalone []scrape.CandidateRecord
	for _, rec := range records {
		target := recordLink(rec, byLink)
		if target == nil {
			standalone = append(standalone, rec)
			continue
		}
		target.listing = append(target.listing, rec)
	}
	return work, standalone
}

func recordLink(rec scrape.CandidateRecord, byLink map[string]*entityWork) *entityWork {
	for _, raw := range []string{rec.DetailURL, rec.Field(scrape.FieldDetailURL), rec.Field(scrape.FieldWebsite)} {
		if raw == "" {
			continue
		}
		norm, err := scrape.NormalizeURL(raw)
		if err != nil {
			continue
		}
		if w, ok := byLink[norm]; ok {
			return w
		}
	}
	return nil
}

// detailPhase drains the work list through a bounded worker pool. Every
// item produces at least one entity as long as its listing stub carried any
// fields; a failed detail fetch degrades the entity instead of dropping it.
func (r *run) detailPhase(ctx context.Context, work []*entityWork) {
	if len(work) == 0 {
		return
	}
	r.state = scrape.RunDetailFetching

	items := make(chan *entityWork)
	var wg sync.WaitGroup
	for i := 0; i < r.plan.DetailConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range items {
				r.processDetail(ctx, w)
				r.detailCompleted.Add(1)
				r.notifyProgress()
			}
		}()
	}

feed:
	for _, w := range work {
		select {
		case items <- w:
		case <-ctx.Done():
			break feed
		}
	}
	close(items)
	wg.Wait()
}

func (r *run) processDetail(ctx context.Context, w *entityWork) {
	if ctx.Err() != nil {
		r.finishFromListing(w, true)
		return
	}
	host := scrape.Host(w.detailURL)
	if r.hostAborted(host) {
		r.warn(fmt.Sprintf("skipped %s: host abandoned", w.detailURL))
		r.finishFromListing(w, true)
		return
	}
	if !r.reservePage() {
		r.finishFromListing(w, true)
		return
	}

	result := r.fetchPage(ctx, w.detailURL, r.plan.PreferRendered)
	if !result.OK() {
		r.logger.Debug("detail fetch failed",
			zap.String("url", w.detailURL), zap.String("status", string(result.Status)))
		r.finishFromListing(w, true)
		return
	}

	detail := r.o.cfg.Extractor.Extract(result)
	for i := range detail {
		detail[i].FromDetail = true
	}
	if len(detail) == 0 {
		r.finishFromListing(w, false)
		return
	}

	if conflictingNames(w.listing, detail) {
		// The detail page describes something else; keep both sides.
		r.finishFromListing(w, false)
		r.appendEntity(r.o.cfg.Normalizer.Merge(detail))
		return
	}
	r.appendEntity(r.o.cfg.Normalizer.Merge(append(append([]scrape.CandidateRecord{}, w.listing...), detail...)))
}

// finishFromListing builds the entity from listing data alone. Stubs with
// no fields at all produce nothing.
func (r *run) finishFromListing(w *entityWork, detailFailed bool) {
	if !hasFields(w.listing) {
		if detailFailed {
			r.warn(fmt.Sprintf("no data recovered for %s", w.detailURL))
		}
		return
	}
	entity := r.o.cfg.Normalizer.Merge(w.listing)
	entity.DetailFailed = detailFailed
	r.appendEntity(entity)
}

func hasFields(records []scrape.CandidateRecord) bool {
	for _, rec := range records {
		if len(rec.Fields) > 0 {
			return true
		}
	}
	return false
}

// conflictingNames reports whether both sides carry names that fail the
// similarity guard.
func conflictingNames(listing, detail []scrape.CandidateRecord) bool {
	listingName := firstField(listing, scrape.FieldName)
	detailName := firstField(detail, scrape.FieldName)
	if listingName == "" || detailName == "" {
		return false
	}
	return !normalizer.SameEntity(listingName, detailName)
}

func firstField(records []scrape.CandidateRecord, field string) string {
	for _, rec := range records {
		if v := rec.Field(field); v != "" {
			return v
		}
	}
	return ""
}

// fetchPage runs one gated fetch, feeds the observer, and updates host
// health. All failure classification already happened inside the fetcher.
func (r *run) fetchPage(ctx context.Context, pageURL string, preferRendered bool) scrape.FetchResult {
	r.mu.Lock()
	r.visited[pageURL] = struct{}{}
	r.mu.Unlock()

	result, err := r.o.cfg.Fetcher.Fetch(ctx, scrape.FetchRequest{
		URL:            pageURL,
		PreferRendered: preferRendered,
	})
	if err != nil {
		result = scrape.FetchResult{URL: pageURL, Status: scrape.StatusError}
	}
	r.pagesFetched.Add(1)
	r.notifyProgress()

	if r.o.cfg.Observer != nil {
		r.o.cfg.Observer(ctx, r.jobID, result)
	}
	r.recordHostResult(scrape.Host(pageURL), result.OK())
	return result
}

func (r *run) recordHostResult(host string, ok bool) {
	if host == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.health[host]
	if h == nil {
		h = &hostHealth{}
		r.health[host] = h
	}
	if ok {
		h.consecutive = 0
		return
	}
	h.consecutive++
	if h.consecutive >= r.o.cfg.HostFailureCeiling && !h.aborted {
		h.aborted = true
		r.warnings = append(r.warnings, fmt.Sprintf("host %s abandoned after %d consecutive failures", host, h.consecutive))
		r.logger.Warn("host abandoned", zap.String("host", host), zap.Int("failures", h.consecutive))
	}
}

func (r *run) hostAborted(host string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.health[host]
	return h != nil && h.aborted
}

// reservePage checks the page budget. Detail workers racing on the last
// slot can overshoot by at most the pool size, which the plan's hard
// ceiling keeps harmless.
func (r *run) reservePage() bool {
	return r.pagesFetched.Load() < int64(r.plan.MaxPages)
}

// appendEntity records an assembled entity. The found counter moves only on
// the first sighting of an identity so progress snapshots never decrease when
// the final merge folds duplicates.
func (r *run) appendEntity(entity scrape.NormalizedEntity) {
	if len(entity.Fields) == 0 {
		return
	}
	r.mu.Lock()
	r.entities = append(r.entities, entity)
	_, known := r.seenIDs[entity.ID]
	r.seenIDs[entity.ID] = struct{}{}
	r.mu.Unlock()
	if !known {
		r.entitiesFound.Add(1)
	}
	r.notifyProgress()
}

// mergeDuplicates folds entities sharing an identity, keeping output order
// deterministic by sorting on ID. The found counter already reflects distinct
// identities and stays untouched.
func (r *run) mergeDuplicates() {
	r.mu.Lock()
	defer r.mu.Unlock()
	byID := map[scrape.EntityID]scrape.NormalizedEntity{}
	for _, e := range r.entities {
		if existing, ok := byID[e.ID]; ok {
			byID[e.ID] = normalizer.MergeEntities(existing, e)
			continue
		}
		byID[e.ID] = e
	}

	merged := make([]scrape.NormalizedEntity, 0, len(byID))
	for _, e := range byID {
		merged = append(merged, e)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ID < merged[j].ID })
	r.entities = merged
}

func (r *run) warn(msg string) {
	r.mu.Lock()
	r.warnings = append(r.warnings, msg)
	r.mu.Unlock()
	r.logger.Warn(msg)
}

func (r *run) progress() scrape.Progress {
	return scrape.Progress{
		PagesFetched:         r.pagesFetched.Load(),
		EntitiesFound:        r.entitiesFound.Load(),
		DetailPagesCompleted: r.detailCompleted.Load(),
	}
}

func (r *run) notifyProgress() {
	if r.o.cfg.OnProgress != nil {
		r.o.cfg.OnProgress(r.progress())
	}
}

func (r *run) result() scrape.RunResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return scrape.RunResult{
		State:    r.state,
		Entities: r.entities,
		Progress: r.progress(),
		Warnings: r.warnings,
	}
}
