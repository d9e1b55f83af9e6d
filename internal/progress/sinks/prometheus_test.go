package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/bizharvest/bizharvest/internal/progress"
	"github.com/bizharvest/bizharvest/internal/scrape"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	batch := []progress.Event{
		{JobID: "job-1", TS: time.Now(), Stage: progress.StageJobStart},
		{
			JobID:  "job-1",
			TS:     time.Now().Add(10 * time.Second),
			Stage:  progress.StagePageFetched,
			Host:   "example.com",
			URL:    "https://example.com/directory",
			Status: scrape.StatusOK,
			Bytes:  1024,
			Dur:    200 * time.Millisecond,
		},
		{JobID: "job-1", TS: time.Now().Add(15 * time.Second), Stage: progress.StageJobDone, Dur: 15 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.jobsRunning))

	require.InDelta(
		t,
		1.0,
		testutil.ToFloat64(sink.pageFetches.WithLabelValues("example.com", string(scrape.StatusOK))),
		1e-9,
	)
	require.InDelta(t, 1024.0, testutil.ToFloat64(sink.pageBytes.WithLabelValues("example.com")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.pageDuration, "harvest_page_fetch_duration_seconds"))
}

// TestPrometheusSinkRunningGauge tracks the running gauge across start and error events.
func TestPrometheusSinkRunningGauge(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	start := []progress.Event{
		{JobID: "job-a", TS: time.Now(), Stage: progress.StageJobStart},
		{JobID: "job-b", TS: time.Now(), Stage: progress.StageJobStart},
	}
	require.NoError(t, sink.Consume(context.Background(), start))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.jobsRunning))

	finish := []progress.Event{
		{JobID: "job-a", TS: time.Now(), Stage: progress.StageJobError, Note: "seed fetch failed", Dur: time.Second},
	}
	require.NoError(t, sink.Consume(context.Background(), finish))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("error")))

	// Completion for a job the tracker never saw must not drive the gauge negative.
	unknown := []progress.Event{
		{JobID: "job-z", TS: time.Now(), Stage: progress.StageJobDone},
	}
	require.NoError(t, sink.Consume(context.Background(), unknown))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsRunning))
}
