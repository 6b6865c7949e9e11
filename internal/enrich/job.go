package enrich

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/harvestlab/ytharvest/internal/store"
)

// Mode selects which enrichment pass a job runs.
type Mode string

const (
	ModeFull      Mode = "full"
	ModeEmailOnly Mode = "email_only"
)

// ParseMode validates a caller-supplied mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeFull, ModeEmailOnly:
		return Mode(s), nil
	case "":
		return ModeFull, nil
	}
	return "", fmt.Errorf("unsupported enrichment mode: %q", s)
}

// Event is one progress-stream payload. A nil Event on the job channel is
// the terminal sentinel; the stream layer renders it as a final summary.
type Event map[string]any

// Summary is a point-in-time snapshot of a job's counters.
type Summary struct {
	JobID           string  `json:"jobId"`
	Total           int     `json:"total"`
	Completed       int     `json:"completed"`
	Errors          int     `json:"errors"`
	Pending         int     `json:"pending"`
	DurationSeconds float64 `json:"durationSeconds"`
	Mode            Mode    `json:"mode"`
	Requested       int     `json:"requested"`
	Skipped         int     `json:"skipped"`
	Done            bool    `json:"done,omitempty"`
}

// Job is one in-memory enrichment batch. Counters, the done flag, and the
// terminal sentinel are all guarded by one mutex so the last two workers
// cannot both decide they finished the job.
type Job struct {
	ID        string
	Mode      Mode
	channels  []store.Channel
	startedAt time.Time
	requested int
	skipped   int

	mu        sync.Mutex
	completed int
	errors    int
	done      bool
	events    chan Event
}

func newJob(id string, mode Mode, channels []store.Channel, requested, skipped int) *Job {
	// Sized so every event a job can emit fits without blocking a worker,
	// even when no consumer is attached.
	buffer := 4*len(channels) + 8
	return &Job{
		ID:        id,
		Mode:      mode,
		channels:  channels,
		startedAt: time.Now(),
		requested: requested,
		skipped:   skipped,
		events:    make(chan Event, buffer),
	}
}

// Total is the number of channels the job will process.
func (j *Job) Total() int { return len(j.channels) }

// Requested is how many channels the selection examined.
func (j *Job) Requested() int { return j.requested }

// Skipped is how many examined channels the eligibility policy rejected.
func (j *Job) Skipped() int { return j.skipped }

// Events exposes the job's progress stream, consumed by exactly one reader.
func (j *Job) Events() <-chan Event { return j.events }

// Summary snapshots the counters.
func (j *Job) Summary() Summary {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.summaryLocked()
}

func (j *Job) summaryLocked() Summary {
	pending := len(j.channels) - j.completed - j.errors
	if pending < 0 {
		pending = 0
	}
	return Summary{
		JobID:           j.ID,
		Total:           len(j.channels),
		Completed:       j.completed,
		Errors:          j.errors,
		Pending:         pending,
		DurationSeconds: math.Round(time.Since(j.startedAt).Seconds()*100) / 100,
		Mode:            j.Mode,
		Requested:       j.requested,
		Skipped:         j.skipped,
		Done:            j.done,
	}
}

func (j *Job) push(ev Event) {
	j.events <- ev
}

// finish records one task outcome, emits the progress event, and, when the
// job's counters add up, the terminal sentinel exactly once.
func (j *Job) finish(completed bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if completed {
		j.completed++
	} else {
		j.errors++
	}
	j.events <- progressEvent(j.summaryLocked())
	if j.completed+j.errors >= len(j.channels) && !j.done {
		j.done = true
		j.events <- nil
	}
}

// markDone forces the terminal sentinel for jobs with nothing to run or an
// abandoned stream.
func (j *Job) markDone() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.done {
		return
	}
	j.done = true
	select {
	case j.events <- nil:
	default:
	}
}

func progressEvent(s Summary) Event {
	return Event{
		"type":            "progress",
		"jobId":           s.JobID,
		"total":           s.Total,
		"completed":       s.Completed,
		"errors":          s.Errors,
		"pending":         s.Pending,
		"durationSeconds": s.DurationSeconds,
		"mode":            s.Mode,
		"requested":       s.Requested,
		"skipped":         s.Skipped,
	}
}

// FinalSummary is what the stream layer sends after the sentinel.
func (j *Job) FinalSummary() Event {
	s := j.Summary()
	ev := progressEvent(s)
	ev["done"] = true
	return ev
}
