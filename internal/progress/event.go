package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackjpnteam/sales-ai/internal/crawler"
)

// Stage names a crawl milestone.
type Stage string

// Pipeline stages reported to observers, plus job lifecycle and per-page
// events.
const (
	StageJobStart    Stage = "job_start"
	StageDiscovering Stage = "discovering"
	StageCrawling    Stage = "crawling"
	StageEmbedding   Stage = "embedding"
	StageSaving      Stage = "saving"
	StageExtracting  Stage = "extracting"
	StageJobDone     Stage = "job_done"
	StageJobError    Stage = "job_error"
	StagePageDone    Stage = "page_done"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Status classes recorded on page events.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusError StatusClass = "error"
)

// Event is one progress observation for a crawl job.
type Event struct {
	JobID [16]byte
	TS    time.Time
	Stage Stage

	CurrentPage int
	TotalPages  int
	Percent     int
	ChunksFound int
	Message     string

	// Page events only.
	URL         string
	StatusClass StatusClass
	Bytes       int64
	Rendered    bool

	// Dur is the fetch latency for page events and the run time for
	// job_done/job_error.
	Dur time.Duration
}

// Validate rejects malformed events.
func (e Event) Validate() error {
	if e.JobID == [16]byte{} {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageDiscovering, StageCrawling, StageEmbedding,
		StageSaving, StageExtracting, StageJobDone, StageJobError:
	case StagePageDone:
		if e.URL == "" {
			return errors.New("page event requires url")
		}
		if e.StatusClass == "" {
			return errors.New("page event requires status class")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Percent < 0 || e.Percent > 100 {
		return fmt.Errorf("percent %d out of range", e.Percent)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// IsSnapshot reports whether the event describes overall job progress, as
// opposed to a single page.
func (e Event) IsSnapshot() bool {
	return e.Stage != StagePageDone
}

// Snapshot converts the event to the job-store progress form.
func (e Event) Snapshot() crawler.JobProgress {
	return crawler.JobProgress{
		Stage:       string(e.Stage),
		CurrentPage: e.CurrentPage,
		TotalPages:  e.TotalPages,
		Percent:     e.Percent,
		ChunksFound: e.ChunksFound,
		Message:     e.Message,
		UpdatedAt:   e.TS,
	}
}

// JobUUID converts the binary job ID.
func (e Event) JobUUID() uuid.UUID {
	return uuid.UUID(e.JobID)
}

// ClassifyStatus groups HTTP status codes; zero means the fetch failed
// before a response arrived.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusError
	}
}

// Percent returns current/total as a whole percentage capped to [0, 100].
func Percent(current, total int) int {
	if total <= 0 || current <= 0 {
		return 0
	}
	if current >= total {
		return 100
	}
	return current * 100 / total
}
