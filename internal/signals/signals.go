// Package signals is the Go-idiomatic replacement for the three
// sigaction handlers the original shell installs in signals.c. There is
// no C-style async signal handler in Go: signal.Notify delivers
// SIGCHLD/SIGTSTP/SIGINT onto buffered channels, and one dedicated
// goroutine per channel runs the spec's handler logic as ordinary
// sequential code — no async-signal-safety constraints apply, so the
// handler body may allocate, lock, and call into the job table freely.
//
// Goroutine lifecycle is supervised with gopkg.in/tomb.v2, the richer
// stop/error-propagation primitive this longer-lived background work
// calls for (vs. the sync.WaitGroup the teacher uses for a single exec
// call's I/O pumps in lxd-agent/exec.go).
package signals

import (
	"fmt"
	"os"
	"os/signal"
	"sync"

	"golang.org/x/sys/unix"
	"gopkg.in/tomb.v2"

	"github.com/myshell-go/myshell/internal/jobtable"
	"github.com/myshell-go/myshell/internal/shlog"
)

// Role distinguishes a pgid the executor launched in the foreground
// (which the executor itself waits on) from one launched in the
// background (which this package's SIGCHLD loop owns reaping for).
// This is the concrete form of the "single source of truth" the design
// notes call for: a foreground pipeline registers no Job until it
// stops, so the reaper must independently know to skip its pgid.
type Role int

const (
	Foreground Role = iota
	Background
)

// RoleTable maps a pipeline's pgid to its current Role. The executor
// populates it at launch and clears the entry once its own waitpid
// returns; the SIGCHLD loop consults it to decide whether a reaped pgid
// is its responsibility.
type RoleTable struct {
	mu    sync.Mutex
	roles map[int]Role
}

// NewRoleTable returns an empty RoleTable.
func NewRoleTable() *RoleTable {
	return &RoleTable{roles: make(map[int]Role)}
}

// Set records pgid's role.
func (r *RoleTable) Set(pgid int, role Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles[pgid] = role
}

// Clear removes pgid's entry.
func (r *RoleTable) Clear(pgid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.roles, pgid)
}

// Get returns pgid's role and whether it has one recorded at all.
func (r *RoleTable) Get(pgid int) (Role, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.roles[pgid]
	return role, ok
}

// Layer owns the three listener goroutines and their supervising tomb.
type Layer struct {
	jobs  *jobtable.Table
	roles *RoleTable
	log   *shlog.Logger
	stdin int // fd used for tcgetpgrp/SIGTSTP-adjacent terminal queries

	t *tomb.Tomb

	sigchld chan os.Signal
	sigtstp chan os.Signal
	sigint  chan os.Signal
}

// NewLayer installs the shell's signal handling and starts its three
// supervisor goroutines. Call Stop at shell shutdown to guarantee the
// SIGCHLD reaper has drained before the process exits.
func NewLayer(jobs *jobtable.Table, roles *RoleTable, log *shlog.Logger, stdinFd int) *Layer {
	l := &Layer{
		jobs:    jobs,
		roles:   roles,
		log:     log,
		stdin:   stdinFd,
		t:       new(tomb.Tomb),
		sigchld: make(chan os.Signal, 32),
		sigtstp: make(chan os.Signal, 8),
		sigint:  make(chan os.Signal, 8),
	}

	signal.Notify(l.sigchld, unix.SIGCHLD)
	signal.Notify(l.sigtstp, unix.SIGTSTP)
	signal.Notify(l.sigint, unix.SIGINT)

	l.t.Go(l.runSigchld)
	l.t.Go(l.runSigtstp)
	l.t.Go(l.runSigint)

	l.log.Debug("signal layer started", shlog.Ctx{"stdin_fd": stdinFd})

	return l
}

// Stop asks all three listener goroutines to exit and waits for them.
func (l *Layer) Stop() error {
	signal.Stop(l.sigchld)
	signal.Stop(l.sigtstp)
	signal.Stop(l.sigint)
	l.t.Kill(nil)
	err := l.t.Wait()
	l.log.Debug("signal layer stopped", shlog.Ctx{})
	return err
}

// runSigchld is the reaper goroutine: the direct translation of
// sigchld_handler in signals.c. It drains every reapable child with
// WNOHANG|WUNTRACED, classifies each by its pgid's Job entry, and
// skips any pgid with no Job (a foreground pipeline the executor itself
// is waiting on).
func (l *Layer) runSigchld() error {
	for {
		select {
		case <-l.t.Dying():
			return nil
		case <-l.sigchld:
			l.drain()
		}
	}
}

func (l *Layer) drain() {
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG|unix.WUNTRACED, nil)
		if err != nil || pid <= 0 {
			return
		}

		pgid, err := unix.Getpgid(pid)
		if err != nil {
			l.log.Debug("getpgid failed during reap", shlog.Ctx{"pid": pid, "error": err.Error()})
			continue
		}

		job, ok := l.jobs.FindJobByPgid(pgid)
		if !ok {
			// Foreground pipeline in flight; the executor's own waitpid
			// owns this pid.
			continue
		}

		if role, ok := l.roles.Get(pgid); ok && role == Foreground {
			// fg has reclaimed this pgid and is waiting on it itself
			// (builtins.builtinFg); reaping it here too would race fg's
			// own Wait4 for the same exit/stop status.
			continue
		}

		switch {
		case ws.Stopped():
			l.jobs.UpdateStatusByPgid(pgid, jobtable.Stopped)
			l.log.Debug("background job stopped", shlog.Ctx{"job_id": job.JobID, "pgid": pgid})
			fmt.Printf("\n[%d]+  Stopped    %s\n", job.JobID, job.Command)
		case ws.Exited(), ws.Signaled():
			// Mark Done, don't remove — CleanupJobs (once per REPL
			// iteration) handles removal so `jobs` can show just-finished
			// work once.
			l.jobs.UpdateStatusByPgid(pgid, jobtable.Done)
			l.log.Debug("background job finished", shlog.Ctx{"job_id": job.JobID, "pgid": pgid})
		}
	}
}

// runSigtstp implements "SIGTSTP is ignored by the shell" by draining
// and discarding every delivery — Go's signal.Notify intercepts the
// signal instead of letting the default disposition suspend the
// process, which is the portable equivalent of sigaction(SIGTSTP,
// SIG_IGN, ...).
func (l *Layer) runSigtstp() error {
	for {
		select {
		case <-l.t.Dying():
			return nil
		case <-l.sigtstp:
			// Rationale: the shell itself should never suspend; the
			// foreground child is the intended recipient because it owns
			// the terminal.
			l.log.Debug("sigtstp discarded", shlog.Ctx{})
		}
	}
}

// runSigint forwards SIGINT to the current terminal foreground process
// group, unless that group is the shell's own (in which case the shell
// must not kill itself).
func (l *Layer) runSigint() error {
	for {
		select {
		case <-l.t.Dying():
			return nil
		case <-l.sigint:
			l.forwardSigint()
		}
	}
}

func (l *Layer) forwardSigint() {
	fgPgid, err := unix.IoctlGetInt(l.stdin, unix.TIOCGPGRP)
	if err != nil {
		l.log.Warn("tcgetpgrp failed during sigint delivery", shlog.Ctx{"error": err.Error()})
		return
	}

	shellPgid, err := unix.Getpgid(os.Getpid())
	if err != nil {
		l.log.Warn("getpgid failed during sigint delivery", shlog.Ctx{"error": err.Error()})
		return
	}
	if fgPgid == shellPgid {
		l.log.Debug("sigint not forwarded, shell is foreground", shlog.Ctx{"pgid": shellPgid})
		return
	}

	l.log.Debug("sigint forwarded", shlog.Ctx{"pgid": fgPgid})
	unix.Kill(-fgPgid, unix.SIGINT)
}
