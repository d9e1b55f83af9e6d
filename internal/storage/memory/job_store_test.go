package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bizharvest/bizharvest/internal/scrape"
)

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	job := scrape.Job{
		ID:        "job-1",
		Status:    scrape.JobStatusQueued,
		Submitted: time.Now().UTC(),
		Plan:      scrape.CrawlPlan{Seed: "https://shops.example/list"},
	}
	require.NoError(t, store.CreateJob(ctx, job))
	require.Error(t, store.CreateJob(ctx, job), "duplicate id must be rejected")

	require.NoError(t, store.UpdateJobStatus(ctx, "job-1", scrape.JobStatusRunning, "", scrape.Progress{PagesFetched: 1}))
	got, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusRunning, got.Status)
	require.NotNil(t, got.Started)
	require.Nil(t, got.Finished)
	require.Equal(t, int64(1), got.Progress.PagesFetched)

	require.NoError(t, store.UpdateJobStatus(ctx, "job-1", scrape.JobStatusSucceeded, "", scrape.Progress{PagesFetched: 4}))
	got, err = store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, got.Finished)

	require.Error(t, store.UpdateJobStatus(ctx, "absent", scrape.JobStatusRunning, "", scrape.Progress{}))
	_, err = store.GetJob(ctx, "absent")
	require.Error(t, err)
}

func TestJobStoreEntities(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, scrape.Job{ID: "job-1"}))

	entities := []scrape.NormalizedEntity{
		{ID: "a", Fields: map[string]string{scrape.FieldName: "Alpha Cafe"}},
		{ID: "b", Fields: map[string]string{scrape.FieldName: "Beta Cafe"}},
	}
	require.NoError(t, store.SaveEntities(ctx, "job-1", entities))

	got, err := store.ListEntities(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, entities, got)

	require.Error(t, store.SaveEntities(ctx, "absent", entities))
	_, err = store.ListEntities(ctx, "absent")
	require.Error(t, err)
}
