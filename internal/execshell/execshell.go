// Package execshell is the executor: it drives one Pipeline end to end
// — forking children, assigning process groups, wiring pipes and
// redirections, handing off the controlling terminal, waiting on the
// right pids, and restoring terminal/fd state — per the original
// shell's execute_command/execute_pipeline in executor.c.
//
// Go has no raw fork() usable from a multi-threaded runtime, so process
// creation goes through os/exec.Cmd with SysProcAttr{Setpgid, Pgid} —
// the same shape lxd-agent/exec.go's cmd.SysProcAttr construction uses
// for Setsid/Setctty — and waiting goes through golang.org/x/sys/unix.
// Wait4 directly (not cmd.Wait()) so WUNTRACED stop detection and
// WNOHANG non-blocking reaps are available, exactly as the spec's
// pipeline-wait steps require.
package execshell

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/myshell-go/myshell/internal/builtins"
	"github.com/myshell-go/myshell/internal/history"
	"github.com/myshell-go/myshell/internal/jobtable"
	"github.com/myshell-go/myshell/internal/parser"
	"github.com/myshell-go/myshell/internal/shlog"
	"github.com/myshell-go/myshell/internal/signals"
)

// builtinReexecFlag is the hidden flag cmd/myshell recognizes to run a
// single built-in in a freshly exec'd child instead of the interactive
// REPL — the Go substitute for "fork, then run execute_builtin in the
// child and exit(status)", since Go cannot fork a running multi-threaded
// process and keep it sane.
const builtinReexecFlag = "-myshell-builtin-reexec"

// Shell owns the mutable state the executor needs across calls: the job
// table, the signal-layer role table, and a logger. One Shell is
// constructed per process.
type Shell struct {
	Jobs    *jobtable.Table
	Roles   *signals.RoleTable
	History *history.Ring
	Log     *shlog.Logger
	Stdin   *os.File
	Stdout  *os.File
	Stderr  *os.File
}

// New returns a Shell wired to the process's real stdio.
func New(jobs *jobtable.Table, roles *signals.RoleTable, hist *history.Ring, log *shlog.Logger) *Shell {
	return &Shell{
		Jobs:    jobs,
		Roles:   roles,
		History: hist,
		Log:     log,
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}
}

// Run executes one Pipeline. It returns the pipeline's exit status
// (following the spec's 0/1/128+signal conventions) and an error only
// for conditions that abort before any status is meaningful (resource
// exhaustion); ordinary command failure is reported via the returned
// status, not an error.
func (s *Shell) Run(p *parser.Pipeline) (int, error) {
	if len(p.Commands) == 0 {
		return -1, fmt.Errorf("empty pipeline")
	}

	s.Log.Debug("dispatching pipeline", shlog.Ctx{
		"stages":     len(p.Commands),
		"background": p.Background,
	})

	if len(p.Commands) == 1 && p.Commands[0].Builtin && !p.Background {
		return s.runBuiltinShortCircuit(&p.Commands[0]), nil
	}

	return s.runPipeline(p)
}

// runBuiltinShortCircuit runs a single built-in command in the shell's
// own process, with redirections applied to the shell's stdin/stdout and
// restored on exit — required so cd/exit/export/unset have observable
// effect on the shell itself.
func (s *Shell) runBuiltinShortCircuit(cmd *parser.Command) int {
	s.Log.Debug("running builtin in shell process", shlog.Ctx{"argv0": cmd.Argv[0]})

	savedStdin, err := unix.Dup(int(s.Stdin.Fd()))
	if err != nil {
		s.Log.Error("dup stdin failed", shlog.Ctx{"error": err.Error()})
		fmt.Fprintf(s.Stderr, "myshell: dup: %v\n", err)
		return -1
	}
	savedStdout, err := unix.Dup(int(s.Stdout.Fd()))
	if err != nil {
		s.Log.Error("dup stdout failed", shlog.Ctx{"error": err.Error()})
		fmt.Fprintf(s.Stderr, "myshell: dup: %v\n", err)
		unix.Close(savedStdin)
		return -1
	}
	defer func() {
		unix.Dup2(savedStdin, int(s.Stdin.Fd()))
		unix.Dup2(savedStdout, int(s.Stdout.Fd()))
		unix.Close(savedStdin)
		unix.Close(savedStdout)
	}()

	if cmd.HasInput {
		fd, err := unix.Open(cmd.InputFile, unix.O_RDONLY, 0)
		if err != nil {
			s.Log.Warn("builtin input redirection failed", shlog.Ctx{"file": cmd.InputFile, "error": err.Error()})
			fmt.Fprintf(s.Stderr, "myshell: %s: %v\n", cmd.InputFile, err)
			return 1
		}
		unix.Dup2(fd, int(s.Stdin.Fd()))
		unix.Close(fd)
	}

	if cmd.HasOutput {
		flags := unix.O_WRONLY | unix.O_CREAT
		if cmd.AppendMode {
			flags |= unix.O_APPEND
		} else {
			flags |= unix.O_TRUNC
		}
		fd, err := unix.Open(cmd.OutputFile, flags, 0644)
		if err != nil {
			s.Log.Warn("builtin output redirection failed", shlog.Ctx{"file": cmd.OutputFile, "error": err.Error()})
			fmt.Fprintf(s.Stderr, "myshell: %s: %v\n", cmd.OutputFile, err)
			return 1
		}
		unix.Dup2(fd, int(s.Stdout.Fd()))
		unix.Close(fd)
	}

	return builtins.Execute(s.builtinContext(), cmd.Argv)
}

func (s *Shell) builtinContext() *builtins.Context {
	return &builtins.Context{
		Jobs:    s.Jobs,
		History: s.History,
		Stdin:   s.Stdin,
		Stdout:  s.Stdout,
		Stderr:  s.Stderr,
		StdinFd: int(s.Stdin.Fd()),
		Roles:   s.Roles,
	}
}

// stage is one command's derived I/O and process-group plumbing within
// a running pipeline.
type stage struct {
	cmd *exec.Cmd
}

// runPipeline implements the N-command fork/exec path of executor.c's
// execute_pipeline, including the N==1 external-command case (the
// original execute_command): once a command isn't a shell-process
// built-in short-circuit, a single external command is just a
// one-stage pipeline.
func (s *Shell) runPipeline(p *parser.Pipeline) (int, error) {
	n := len(p.Commands)

	savedStdin, err := unix.Dup(int(s.Stdin.Fd()))
	if err != nil {
		return -1, fmt.Errorf("dup stdin: %w", err)
	}
	savedStdout, err := unix.Dup(int(s.Stdout.Fd()))
	if err != nil {
		unix.Close(savedStdin)
		return -1, fmt.Errorf("dup stdout: %w", err)
	}
	defer func() {
		unix.Dup2(savedStdin, int(s.Stdin.Fd()))
		unix.Dup2(savedStdout, int(s.Stdout.Fd()))
		unix.Close(savedStdin)
		unix.Close(savedStdout)
	}()

	// pipeReaders[i]/pipeWriters[i] connect stage i's stdout to stage
	// i+1's stdin, for i in [0, n-2].
	pipeReaders := make([]*os.File, n-1)
	pipeWriters := make([]*os.File, n-1)
	for i := 0; i < n-1; i++ {
		r, w, err := os.Pipe()
		if err != nil {
			s.Log.Error("pipe creation failed", shlog.Ctx{"stage": i, "error": err.Error()})
			for j := 0; j < i; j++ {
				pipeReaders[j].Close()
				pipeWriters[j].Close()
			}
			return -1, fmt.Errorf("pipe: %w", err)
		}
		pipeReaders[i] = r
		pipeWriters[i] = w
	}
	closeAllPipes := func() {
		for i := range pipeReaders {
			pipeReaders[i].Close()
			pipeWriters[i].Close()
		}
	}

	stages := make([]*stage, n)
	var pipelinePgid int

	for i := 0; i < n; i++ {
		c := &p.Commands[i]
		st, extraOpened, err := s.startStage(c, i, n, pipeReaders, pipeWriters, p.Background, pipelinePgid)
		if err != nil {
			s.Log.Warn("stage start failed", shlog.Ctx{"stage": i, "argv0": c.Argv[0], "error": err.Error()})
			for j := 0; j < i; j++ {
				if stages[j].cmd.Process != nil {
					unix.Kill(stages[j].cmd.Process.Pid, unix.SIGTERM)
				}
			}
			closeAllPipes()
			for _, f := range extraOpened {
				f.Close()
			}
			return -1, fmt.Errorf("start command %d: %w", i, err)
		}
		stages[i] = st
		for _, f := range extraOpened {
			f.Close()
		}
		if i == 0 {
			pipelinePgid = st.cmd.Process.Pid
		}
		s.Log.Debug("stage started", shlog.Ctx{
			"stage": i, "pid": st.cmd.Process.Pid, "pgid": pipelinePgid, "argv0": c.Argv[0],
		})
		// Parent also calls setpgid to close the race window between fork
		// and the child's own setpgid call.
		unix.Setpgid(st.cmd.Process.Pid, pipelinePgid)
		if s.Roles != nil {
			role := signals.Foreground
			if p.Background {
				role = signals.Background
			}
			s.Roles.Set(pipelinePgid, role)
		}
	}

	closeAllPipes()

	cmdStr := pipelineCommandString(p)

	if p.Background {
		jobID, err := s.Jobs.AddJob(pipelinePgid, cmdStr, jobtable.Running)
		if err != nil {
			s.Log.Warn("background job not registered", shlog.Ctx{"pgid": pipelinePgid, "error": err.Error()})
		} else {
			fmt.Fprintf(s.Stdout, "[%d] %d\n", jobID, pipelinePgid)
		}
		s.setForeground(getpgrpSafe())
		return 0, nil
	}

	s.setForeground(pipelinePgid)

	lastStatus := s.waitForeground(stages[n-1].cmd, pipelinePgid, cmdStr)

	// Non-blocking reap of the other children; we don't care about their
	// status, just that they get collected instead of leaking zombies.
	for i := 0; i < n-1; i++ {
		var ws unix.WaitStatus
		unix.Wait4(stages[i].cmd.Process.Pid, &ws, unix.WNOHANG|unix.WUNTRACED, nil)
	}

	s.setForeground(getpgrpSafe())

	if s.Roles != nil {
		s.Roles.Clear(pipelinePgid)
	}

	return lastStatus, nil
}

// waitForeground waits on the last command's pid with WUNTRACED and
// returns its spec-mandated exit status, registering a Stopped Job if
// the child was suspended instead of terminating.
func (s *Shell) waitForeground(last *exec.Cmd, pgid int, cmdStr string) int {
	var ws unix.WaitStatus
	_, err := unix.Wait4(last.Process.Pid, &ws, unix.WUNTRACED, nil)
	if err != nil {
		if err == unix.ECHILD {
			return 0
		}
		s.Log.Error("waitpid failed", shlog.Ctx{"pgid": pgid, "error": err.Error()})
		fmt.Fprintf(s.Stderr, "myshell: waitpid: %v\n", err)
		return -1
	}

	switch {
	case ws.Exited():
		s.Log.Debug("foreground pipeline exited", shlog.Ctx{"pgid": pgid, "status": ws.ExitStatus()})
		return ws.ExitStatus()
	case ws.Signaled():
		s.Log.Debug("foreground pipeline killed by signal", shlog.Ctx{"pgid": pgid, "signal": ws.Signal().String()})
		return 128 + int(ws.Signal())
	case ws.Stopped():
		jobID, err := s.Jobs.AddJob(pgid, cmdStr, jobtable.Stopped)
		if err != nil {
			s.Log.Warn("stopped job not registered", shlog.Ctx{"pgid": pgid, "error": err.Error()})
		} else {
			fmt.Fprintf(s.Stdout, "\n[%d]+  Stopped    %s\n", jobID, cmdStr)
		}
		return 0
	default:
		return -1
	}
}

// startStage builds and starts the i-th command of an n-command
// pipeline, wiring its stdin/stdout per executor.c's rules, and returns
// any *os.File this process opened that must be closed once Start has
// handed the child its own copy (the extraOpened slice) — the executor
// equivalent of the original C code's "close ALL pipe file descriptors
// in the parent" step, generalized to redirection-opened files too.
func (s *Shell) startStage(c *parser.Command, i, n int, pipeReaders, pipeWriters []*os.File, background bool, pipelinePgid int) (*stage, []*os.File, error) {
	var ec *exec.Cmd
	if c.Builtin {
		// A built-in inside a pipeline, or a backgrounded single built-in
		// command, runs as a re-exec of this same binary in "run one
		// built-in and exit with its status" mode — the Go substitute for
		// forking and calling execute_builtin in the child, since Go
		// cannot fork a running multi-threaded process and keep it sane.
		args := append([]string{builtinReexecFlag}, c.Argv...)
		ec = exec.Command(os.Args[0], args...)
	} else {
		ec = exec.Command(c.Argv[0], c.Argv[1:]...)
	}
	ec.Env = os.Environ()

	pgid := 0
	if i > 0 {
		pgid = pipelinePgid
	}
	ec.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    pgid,
	}

	var extraOpened []*os.File

	switch {
	case i == 0 && c.HasInput:
		f, err := os.Open(c.InputFile)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", c.InputFile, err)
		}
		ec.Stdin = f
		extraOpened = append(extraOpened, f)
	case i == 0 && background:
		f, err := os.Open(os.DevNull)
		if err == nil {
			ec.Stdin = f
			extraOpened = append(extraOpened, f)
		}
	case i == 0:
		ec.Stdin = s.Stdin
	default:
		ec.Stdin = pipeReaders[i-1]
	}

	switch {
	case i == n-1 && c.HasOutput:
		flags := os.O_WRONLY | os.O_CREATE
		if c.AppendMode {
			flags |= os.O_APPEND
		} else {
			flags |= os.O_TRUNC
		}
		f, err := os.OpenFile(c.OutputFile, flags, 0644)
		if err != nil {
			for _, e := range extraOpened {
				e.Close()
			}
			return nil, nil, fmt.Errorf("%s: %w", c.OutputFile, err)
		}
		ec.Stdout = f
		extraOpened = append(extraOpened, f)
	case i == n-1:
		ec.Stdout = s.Stdout
	default:
		ec.Stdout = pipeWriters[i]
	}

	ec.Stderr = s.Stderr

	if err := ec.Start(); err != nil {
		s.Log.Warn("exec failed", shlog.Ctx{"argv0": c.Argv[0], "error": err.Error()})
		fmt.Fprintf(s.Stderr, "myshell: %s: command not found\n", c.Argv[0])
		for _, e := range extraOpened {
			e.Close()
		}
		return nil, nil, err
	}

	return &stage{cmd: ec}, extraOpened, nil
}

func (s *Shell) setForeground(pgid int) {
	if pgid <= 0 {
		return
	}
	unix.IoctlSetPointerInt(int(s.Stdin.Fd()), unix.TIOCSPGRP, pgid)
}

func getpgrpSafe() int {
	pgid, err := unix.Getpgid(os.Getpid())
	if err != nil {
		return 0
	}
	return pgid
}

// pipelineCommandString rebuilds the display form of a pipeline from its
// already-parsed argv (never the raw input line, which still carries a
// trailing "&" for backgrounded jobs): original_source/executor.c builds
// cmd_str by joining argv tokens with " | " between stages, not by
// keeping a copy of the input line.
func pipelineCommandString(p *parser.Pipeline) string {
	parts := make([]string, len(p.Commands))
	for i, c := range p.Commands {
		parts[i] = strings.Join(c.Argv, " ")
	}
	return strings.Join(parts, " | ")
}
