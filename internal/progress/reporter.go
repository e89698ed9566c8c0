package progress

import (
	"time"

	"github.com/google/uuid"
)

// Reporter stamps events for a single job and forwards them to an Emitter.
// A nil Reporter or one without an Emitter discards everything.
type Reporter struct {
	jobID [16]byte
	emit  Emitter
	now   func() time.Time
}

// NewReporter binds emitter to jobID.
func NewReporter(emitter Emitter, jobID uuid.UUID) *Reporter {
	return &Reporter{
		jobID: jobID,
		emit:  emitter,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Stage reports overall progress. Percent is derived from current/total.
func (r *Reporter) Stage(stage Stage, current, total, chunks int, message string) {
	r.send(Event{
		Stage:       stage,
		CurrentPage: current,
		TotalPages:  total,
		Percent:     Percent(current, total),
		ChunksFound: chunks,
		Message:     message,
	})
}

// Page reports the outcome of one fetch.
func (r *Reporter) Page(url string, status int, bytes int, rendered bool, dur time.Duration) {
	r.send(Event{
		Stage:       StagePageDone,
		URL:         url,
		StatusClass: ClassifyStatus(status),
		Bytes:       int64(bytes),
		Rendered:    rendered,
		Dur:         dur,
	})
}

// Event forwards a preassembled event after stamping job ID and time.
func (r *Reporter) Event(evt Event) {
	r.send(evt)
}

func (r *Reporter) send(evt Event) {
	if r == nil || r.emit == nil {
		return
	}
	evt.JobID = r.jobID
	if evt.TS.IsZero() {
		evt.TS = r.now()
	}
	r.emit.Emit(evt)
}
