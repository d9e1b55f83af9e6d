package progress

import (
	"fmt"
	"time"

	"github.com/bizharvest/bizharvest/internal/scrape"
)

// Stage identifies which point in a job's lifecycle an Event describes.
type Stage string

const (
	// StageJobStart marks the moment a worker picks a job off the queue.
	StageJobStart Stage = "job_start"
	// StageHeartbeat carries a counter snapshot for a running job.
	StageHeartbeat Stage = "job_heartbeat"
	// StagePageFetched records the outcome of a single page fetch.
	StagePageFetched Stage = "page_fetched"
	// StageJobDone marks successful completion of a job.
	StageJobDone Stage = "job_done"
	// StageJobError marks a job that ended with a failure.
	StageJobError Stage = "job_error"
)

// Event is a single progress observation emitted by a worker while it runs a
// crawl job. Not every field is meaningful for every stage: page fetch events
// carry Host, URL, Status and Bytes; heartbeats carry the Counters snapshot;
// terminal events may carry a Note describing the outcome.
type Event struct {
	JobID     string
	TS        time.Time
	Stage     Stage
	Host      string
	URL       string
	Status    scrape.StatusKind
	Transport scrape.Transport
	Bytes     int64
	Counters  scrape.Progress
	Dur       time.Duration
	Note      string
}

// Terminal reports whether the stage ends a job's event stream.
func (s Stage) Terminal() bool {
	return s == StageJobDone || s == StageJobError
}

// Validate reports whether the event carries the fields its stage requires.
func (e Event) Validate() error {
	if e.JobID == "" {
		return fmt.Errorf("progress event missing job id")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("progress event missing timestamp")
	}
	switch e.Stage {
	case StageJobStart, StageHeartbeat, StageJobDone, StageJobError:
		return nil
	case StagePageFetched:
		if e.Host == "" {
			return fmt.Errorf("page fetch event missing host")
		}
		if e.Status == "" {
			return fmt.Errorf("page fetch event missing status")
		}
		return nil
	default:
		return fmt.Errorf("unknown progress stage %q", e.Stage)
	}
}
