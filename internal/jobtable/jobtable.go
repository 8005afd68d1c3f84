// Package jobtable implements the bounded job registry shared between
// foreground execution and the SIGCHLD reaper goroutine, grounded on
// the slot-table design in the original shell's jobs.c (a fixed array
// scanned linearly for a free slot / a matching job_id / a matching
// pgid), translated into a mutex-guarded Go map since there is no fixed
// array size requirement beyond Capacity and a map gives O(1) lookup by
// job ID for free.
package jobtable

import (
	"fmt"
	"sort"
	"sync"

	"github.com/myshell-go/myshell/internal/shlog"
)

// Status is a Job's lifecycle state.
type Status int

const (
	Running Status = iota
	Stopped
	Done
)

func (s Status) String() string {
	switch s {
	case Running:
		return "Running"
	case Stopped:
		return "Stopped"
	case Done:
		return "Done"
	default:
		return "Unknown"
	}
}

// Job is one tracked pipeline.
type Job struct {
	JobID   int
	Pgid    int
	Command string
	Status  Status
}

// Snapshot is an owned, independent copy of a Job returned by GetAllJobs.
// Unlike the original get_all_jobs (which copies the struct but reuses
// the command string pointer — flagged as an ambiguous-lifetime bug in
// the design notes), every Snapshot owns its own Command string, so
// callers may hold it across a concurrent RemoveJob/CleanupJobs without
// risk.
type Snapshot = Job

// Capacity is the job table's maximum live entry count.
const Capacity = 100

// ErrFull is returned by AddJob when the table has no free slot.
var ErrFull = fmt.Errorf("job table full")

// Table is a bounded, concurrency-safe job registry. The zero value is
// not usable; construct with New.
type Table struct {
	mu       sync.Mutex
	jobs     map[int]*Job
	nextID   int
	capacity int
	log      *shlog.Logger
}

// SetLogger attaches a logger for job-transition events. Optional — a
// Table with no logger attached logs nothing, which is the zero value's
// behavior before SetLogger is ever called.
func (t *Table) SetLogger(log *shlog.Logger) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.log = log
}

// New returns an empty Table with the default Capacity.
func New() *Table {
	return NewWithCapacity(Capacity)
}

// NewWithCapacity returns an empty Table with a caller-chosen capacity,
// used by internal/shconfig's test/override knob.
func NewWithCapacity(capacity int) *Table {
	return &Table{
		jobs:     make(map[int]*Job),
		nextID:   1,
		capacity: capacity,
	}
}

// debug logs a job-table event if a logger is attached. Callers must
// already hold t.mu.
func (t *Table) debug(msg string, ctx shlog.Ctx) {
	if t.log != nil {
		t.log.Debug(msg, ctx)
	}
}

// AddJob allocates a new job_id (monotonic, never reused) for pgid and
// records it with the given command text and status. Returns ErrFull if
// the table is at capacity.
func (t *Table) AddJob(pgid int, command string, status Status) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.jobs) >= t.capacity {
		return 0, ErrFull
	}

	id := t.nextID
	t.nextID++
	t.jobs[id] = &Job{JobID: id, Pgid: pgid, Command: command, Status: status}
	t.debug("job registered", shlog.Ctx{"job_id": id, "pgid": pgid, "status": status.String()})
	return id, nil
}

// RemoveJob deletes the entry for jobID, if present.
func (t *Table) RemoveJob(jobID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.jobs, jobID)
	t.debug("job removed", shlog.Ctx{"job_id": jobID})
}

// FindJob returns a snapshot of the job with the given ID, and whether it
// was found.
func (t *Table) FindJob(jobID int) (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[jobID]
	if !ok {
		return Snapshot{}, false
	}
	return *j, true
}

// FindJobByPgid returns a snapshot of the job whose pgid matches, and
// whether one was found.
func (t *Table) FindJobByPgid(pgid int) (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, j := range t.jobs {
		if j.Pgid == pgid {
			return *j, true
		}
	}
	return Snapshot{}, false
}

// UpdateStatus sets the status of the job with the given ID, if present.
func (t *Table) UpdateStatus(jobID int, status Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if j, ok := t.jobs[jobID]; ok {
		j.Status = status
		t.debug("job status changed", shlog.Ctx{"job_id": jobID, "status": status.String()})
	}
}

// UpdateStatusByPgid sets the status of the job with the given pgid, if
// present. Used by the SIGCHLD reaper, which only has a pgid to go on.
func (t *Table) UpdateStatusByPgid(pgid int, status Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, j := range t.jobs {
		if j.Pgid == pgid {
			j.Status = status
			t.debug("job status changed", shlog.Ctx{"job_id": j.JobID, "pgid": pgid, "status": status.String()})
			return
		}
	}
}

// GetAllJobs returns owned snapshots of every non-Done job, in
// ascending job_id order.
func (t *Table) GetAllJobs() []Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Snapshot, 0, len(t.jobs))
	for _, j := range t.jobs {
		if j.Status != Done {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out
}

// CleanupJobs purges every Done entry. Called once per REPL iteration,
// before reading the next line.
func (t *Table) CleanupJobs() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, j := range t.jobs {
		if j.Status == Done {
			delete(t.jobs, id)
			t.debug("job purged", shlog.Ctx{"job_id": id})
		}
	}
}
