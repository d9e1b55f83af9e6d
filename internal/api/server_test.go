package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bizharvest/bizharvest/internal/clock/system"
	"github.com/bizharvest/bizharvest/internal/config"
	"github.com/bizharvest/bizharvest/internal/dispatcher"
	"github.com/bizharvest/bizharvest/internal/id/uuid"
	queuemem "github.com/bizharvest/bizharvest/internal/queue/memory"
	"github.com/bizharvest/bizharvest/internal/scrape"
	storagemem "github.com/bizharvest/bizharvest/internal/storage/memory"
	"github.com/bizharvest/bizharvest/internal/worker"
)

type fixture struct {
	server   *Server
	jobStore *storagemem.JobStore
	queue    *queuemem.Queue
	cancels  *worker.CancelRegistry
}

func newFixture(t *testing.T, mutate func(cfg *config.Config)) *fixture {
	t.Helper()

	cfg := config.Config{
		Server:  config.ServerConfig{Port: 8080},
		Scraper: config.ScraperConfig{MaxPagesDefault: 50, MaxDepthDefault: 3},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	fx := &fixture{
		jobStore: storagemem.NewJobStore(),
		queue:    queuemem.NewQueue(8),
		cancels:  worker.NewCancelRegistry(),
	}
	fx.server = NewServer(
		fx.jobStore,
		dispatcher.New(fx.queue, nil),
		fx.cancels,
		uuid.New(),
		system.New(),
		cfg,
		zap.NewNop(),
	)
	return fx
}

func doJSON(t *testing.T, fx *fixture, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)
	return rec
}

func submittedJobID(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["job_id"])
	return resp["job_id"]
}

func TestSubmitJobAcceptsPlan(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil)
	rec := doJSON(t, fx, http.MethodPost, "/v1/jobs", `{"seed":"https://example.com/listing"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	jobID := submittedJobID(t, rec)

	job, err := fx.jobStore.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusQueued, job.Status)
	require.Equal(t, 50, job.Plan.MaxPages)
	require.Equal(t, 3, job.Plan.MaxDepth)
	require.True(t, job.Plan.SameHostOnly)

	item, err := fx.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, jobID, item.JobID)
}

func TestSubmitJobResolvesSearchSeed(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil)
	rec := doJSON(t, fx, http.MethodPost, "/v1/jobs", `{"seed":"plumbers in toledo"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	jobID := submittedJobID(t, rec)

	job, err := fx.jobStore.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(job.Plan.Seed, "https://html.duckduckgo.com/html/"))
}

func TestSubmitJobRejectsBadInput(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil)

	rec := doJSON(t, fx, http.MethodPost, "/v1/jobs", `{"seed":"   "}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, fx, http.MethodPost, "/v1/jobs", `not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, fx, http.MethodPost, "/v1/jobs", `{"seed":"https://example.com","export_format":"parquet"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil)
	rec := doJSON(t, fx, http.MethodGet, "/v1/jobs/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func seedFinishedJob(t *testing.T, fx *fixture, entities []scrape.NormalizedEntity) string {
	t.Helper()
	ctx := context.Background()
	job := scrape.Job{
		ID:        "job-done",
		Status:    scrape.JobStatusQueued,
		Submitted: time.Now().UTC(),
		Plan:      scrape.CrawlPlan{Seed: "https://example.com", MaxPages: 10},
	}
	require.NoError(t, fx.jobStore.CreateJob(ctx, job))
	require.NoError(t, fx.jobStore.SaveEntities(ctx, job.ID, entities))
	require.NoError(t, fx.jobStore.UpdateJobStatus(ctx, job.ID, scrape.JobStatusSucceeded, "", scrape.Progress{PagesFetched: 3}))
	return job.ID
}

func TestGetJobResultReturnsEntities(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil)
	jobID := seedFinishedJob(t, fx, []scrape.NormalizedEntity{
		{ID: "e1", Fields: map[string]string{scrape.FieldName: "Blue Fin Sushi"}},
	})

	rec := doJSON(t, fx, http.MethodGet, "/v1/jobs/"+jobID+"/result", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Job      scrape.Job                `json:"job"`
		Entities []scrape.NormalizedEntity `json:"entities"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, scrape.JobStatusSucceeded, resp.Job.Status)
	require.Len(t, resp.Entities, 1)
	require.Equal(t, "Blue Fin Sushi", resp.Entities[0].Fields[scrape.FieldName])
}

func TestExportJobCSV(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil)
	jobID := seedFinishedJob(t, fx, []scrape.NormalizedEntity{
		{ID: "e1", Fields: map[string]string{scrape.FieldName: "Blue Fin Sushi"}},
	})

	rec := doJSON(t, fx, http.MethodGet, "/v1/jobs/"+jobID+"/export?format=csv", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), jobID)
	require.True(t, strings.HasPrefix(rec.Body.String(), "id,name,"))
	require.Contains(t, rec.Body.String(), "Blue Fin Sushi")
}

func TestExportJobRejectsUnknownFormat(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil)
	jobID := seedFinishedJob(t, fx, nil)

	rec := doJSON(t, fx, http.MethodGet, "/v1/jobs/"+jobID+"/export?format=parquet", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelQueuedJob(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil)
	rec := doJSON(t, fx, http.MethodPost, "/v1/jobs", `{"seed":"https://example.com"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	jobID := submittedJobID(t, rec)

	rec = doJSON(t, fx, http.MethodPost, "/v1/jobs/"+jobID+"/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)

	job, err := fx.jobStore.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusCanceled, job.Status)
}

func TestCancelFinishedJobConflicts(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil)
	jobID := seedFinishedJob(t, fx, nil)

	rec := doJSON(t, fx, http.MethodPost, "/v1/jobs/"+jobID+"/cancel", "")
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, func(cfg *config.Config) {
		cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	})

	rec := doJSON(t, fx, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "secret")
	authed := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(authed, req)
	require.Equal(t, http.StatusOK, authed.Code)
}

func TestHealthAndReady(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil)
	require.Equal(t, http.StatusOK, doJSON(t, fx, http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusOK, doJSON(t, fx, http.MethodGet, "/readyz", "").Code)
}
