// Package builtins implements the shell's built-in command dispatch:
// is_builtin/Execute from the external-collaborator interface the spec
// names, plus the sixteen built-ins themselves. Only cd/exit/fg/bg/jobs/
// history/export/unset touch core shell state (env, job table, history,
// process exit); the rest are plain POSIX-utility reimplementations
// reading only their own argv and the filesystem, ported from the
// original shell's builtins.c.
package builtins

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/fvbommel/sortorder"
	"github.com/mattn/go-colorable"
	"golang.org/x/sys/unix"

	"github.com/myshell-go/myshell/internal/history"
	"github.com/myshell-go/myshell/internal/jobtable"
	"github.com/myshell-go/myshell/internal/shellenv"
	"github.com/myshell-go/myshell/internal/signals"
)

// Context carries everything a built-in needs beyond its argv: the job
// table (fg/bg/jobs), the history ring (history), and the streams to
// read/write (so redirections applied by the executor's built-in
// short-circuit are honored transparently).
type Context struct {
	Jobs    *jobtable.Table
	History *history.Ring
	Stdin   io.Reader
	Stdout  io.Writer
	Stderr  io.Writer

	// StdinFd is the real fd backing Stdin when it is the controlling
	// terminal, used by fg/bg for tcsetpgrp. Zero when Stdin has been
	// redirected to something else (redirection makes fg/bg on a
	// pipeline's own stdin moot, but the field stays valid for the
	// common case).
	StdinFd int

	// Roles lets fg mark the job it is about to wait on as Foreground,
	// so the SIGCHLD reaper (internal/signals) steps aside instead of
	// racing fg's own Wait4 for the same pgid's exit status. Nil when a
	// built-in runs outside the REPL (e.g. the re-exec entrypoint),
	// where there is no concurrent reaper to race.
	Roles *signals.RoleTable
}

var names = []string{
	"cd", "pwd", "exit", "echo", "mkdir", "rmdir", "touch", "rm",
	"cat", "ls", "jobs", "fg", "bg", "history", "export", "unset",
}

// IsBuiltin reports whether name is one of the sixteen recognized
// built-ins.
func IsBuiltin(name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// Execute dispatches argv[0] to its built-in implementation and returns
// its exit code. Callers must ensure IsBuiltin(argv[0]) first; Execute
// returns -1 for an unrecognized name.
func Execute(ctx *Context, argv []string) int {
	if len(argv) == 0 {
		return -1
	}
	switch argv[0] {
	case "cd":
		return builtinCd(ctx, argv)
	case "pwd":
		return builtinPwd(ctx, argv)
	case "exit":
		return builtinExit(ctx, argv)
	case "echo":
		return builtinEcho(ctx, argv)
	case "mkdir":
		return builtinMkdir(ctx, argv)
	case "rmdir":
		return builtinRmdir(ctx, argv)
	case "touch":
		return builtinTouch(ctx, argv)
	case "rm":
		return builtinRm(ctx, argv)
	case "cat":
		return builtinCat(ctx, argv)
	case "ls":
		return builtinLs(ctx, argv)
	case "jobs":
		return builtinJobs(ctx, argv)
	case "fg":
		return builtinFg(ctx, argv)
	case "bg":
		return builtinBg(ctx, argv)
	case "history":
		return builtinHistory(ctx, argv)
	case "export":
		return builtinExport(ctx, argv)
	case "unset":
		return builtinUnset(ctx, argv)
	default:
		return -1
	}
}

func builtinCd(ctx *Context, argv []string) int {
	var dir string
	if len(argv) < 2 {
		dir = shellenv.Get("HOME")
		if dir == "" {
			fmt.Fprintln(ctx.Stderr, "myshell: cd: HOME not set")
			return 1
		}
	} else {
		dir = argv[1]
	}

	if err := os.Chdir(dir); err != nil {
		fmt.Fprintf(ctx.Stderr, "myshell: cd: %v\n", err)
		return 1
	}
	return 0
}

func builtinPwd(ctx *Context, argv []string) int {
	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(ctx.Stderr, "myshell: pwd: %v\n", err)
		return 1
	}
	fmt.Fprintln(ctx.Stdout, cwd)
	return 0
}

func builtinExit(ctx *Context, argv []string) int {
	status := 0
	if len(argv) > 1 {
		status, _ = strconv.Atoi(argv[1])
	}
	os.Exit(status)
	return status // unreachable
}

func builtinEcho(ctx *Context, argv []string) int {
	args := argv[1:]
	noNewline := false
	if len(args) > 0 && args[0] == "-n" {
		noNewline = true
		args = args[1:]
	}

	fmt.Fprint(ctx.Stdout, strings.Join(args, " "))
	if !noNewline {
		fmt.Fprint(ctx.Stdout, "\n")
	}
	return 0
}

func builtinMkdir(ctx *Context, argv []string) int {
	if len(argv) < 2 {
		fmt.Fprintln(ctx.Stderr, "myshell: mkdir: missing operand")
		return 1
	}
	errOccurred := false
	for _, dir := range argv[1:] {
		if err := os.Mkdir(dir, 0755); err != nil {
			fmt.Fprintf(ctx.Stderr, "myshell: mkdir: cannot create directory '%s': %v\n", dir, err)
			errOccurred = true
		}
	}
	return boolStatus(errOccurred)
}

// builtinTouch intentionally only creates the file if absent; it does
// not update mtime on an existing file, matching the original source
// (open(O_CREAT|O_WRONLY) + close, no utimensat call).
func builtinTouch(ctx *Context, argv []string) int {
	if len(argv) < 2 {
		fmt.Fprintln(ctx.Stderr, "myshell: touch: missing file operand")
		return 1
	}
	errOccurred := false
	for _, path := range argv[1:] {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(ctx.Stderr, "myshell: touch: cannot touch '%s': %v\n", path, err)
			errOccurred = true
			continue
		}
		f.Close()
	}
	return boolStatus(errOccurred)
}

func builtinRmdir(ctx *Context, argv []string) int {
	if len(argv) < 2 {
		fmt.Fprintln(ctx.Stderr, "myshell: rmdir: missing operand")
		return 1
	}
	errOccurred := false
	for _, dir := range argv[1:] {
		if err := os.Remove(dir); err != nil {
			fmt.Fprintf(ctx.Stderr, "myshell: rmdir: cannot remove '%s': %v\n", dir, err)
			errOccurred = true
		}
	}
	return boolStatus(errOccurred)
}

func builtinRm(ctx *Context, argv []string) int {
	if len(argv) < 2 {
		fmt.Fprintln(ctx.Stderr, "myshell: rm: missing operand")
		return 1
	}

	recursive, force := false, false
	argStart := 1
	for argStart < len(argv) && strings.HasPrefix(argv[argStart], "-") {
		flags := argv[argStart][1:]
		for _, f := range flags {
			switch f {
			case 'r':
				recursive = true
			case 'f':
				force = true
			default:
				fmt.Fprintf(ctx.Stderr, "myshell: rm: invalid option -- '%c'\n", f)
				return 1
			}
		}
		argStart++
	}

	if argStart >= len(argv) {
		fmt.Fprintln(ctx.Stderr, "myshell: rm: missing operand")
		return 1
	}

	errOccurred := false
	for _, path := range argv[argStart:] {
		st, err := os.Stat(path)
		if err != nil {
			if !force {
				fmt.Fprintf(ctx.Stderr, "myshell: rm: cannot remove '%s': %v\n", path, err)
				errOccurred = true
			}
			continue
		}
		if st.IsDir() {
			if !recursive {
				if !force {
					fmt.Fprintf(ctx.Stderr, "myshell: rm: '%s': is a directory\n", path)
				}
				errOccurred = true
				continue
			}
			if err := os.RemoveAll(path); err != nil && !force {
				fmt.Fprintf(ctx.Stderr, "myshell: rm: cannot remove '%s': %v\n", path, err)
				errOccurred = true
			}
		} else if err := os.Remove(path); err != nil {
			if !force {
				fmt.Fprintf(ctx.Stderr, "myshell: rm: cannot remove '%s': %v\n", path, err)
				errOccurred = true
			}
		}
	}
	return boolStatus(errOccurred)
}

func builtinCat(ctx *Context, argv []string) int {
	if len(argv) < 2 {
		if _, err := io.Copy(ctx.Stdout, ctx.Stdin); err != nil {
			fmt.Fprintf(ctx.Stderr, "myshell: cat: %v\n", err)
			return 1
		}
		return 0
	}

	errOccurred := false
	for _, path := range argv[1:] {
		f, err := os.Open(path)
		if err != nil {
			fmt.Fprintf(ctx.Stderr, "myshell: cat: %s: %v\n", path, err)
			errOccurred = true
			continue
		}
		if _, err := io.Copy(ctx.Stdout, f); err != nil {
			fmt.Fprintf(ctx.Stderr, "myshell: cat: %s: %v\n", path, err)
			errOccurred = true
		}
		f.Close()
	}
	return boolStatus(errOccurred)
}

const (
	ansiBlue  = "\033[34m"
	ansiReset = "\033[0m"
)

func builtinLs(ctx *Context, argv []string) int {
	showAll := false
	argStart := 1
	for argStart < len(argv) && strings.HasPrefix(argv[argStart], "-") {
		if argv[argStart] == "-a" {
			showAll = true
		} else {
			fmt.Fprintf(ctx.Stderr, "myshell: ls: invalid option -- '%s'\n", argv[argStart][1:])
			return 1
		}
		argStart++
	}

	var dirs []string
	if argStart >= len(argv) {
		dirs = []string{"."}
	} else {
		dirs = argv[argStart:]
	}

	// go-colorable wraps Stdout so ANSI escapes render portably even when
	// Stdout has been wrapped for a non-native-ANSI terminal, the same
	// role the teacher's lxc client uses this dependency for.
	colorize := os.Getenv("NO_COLOR") == ""
	out := colorableStdout(ctx.Stdout)

	errOccurred := false
	for d, dir := range dirs {
		if len(dirs) > 1 {
			fmt.Fprintf(out, "%s:\n", dir)
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			fmt.Fprintf(ctx.Stderr, "myshell: ls: cannot access '%s': %v\n", dir, err)
			errOccurred = true
			continue
		}

		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if !showAll && strings.HasPrefix(e.Name(), ".") {
				continue
			}
			names = append(names, e.Name())
		}
		sort.Sort(sortorder.Natural(names))

		for _, name := range names {
			full := filepath.Join(dir, name)
			info, err := os.Stat(full)
			if err != nil {
				fmt.Fprintln(out, name)
				continue
			}
			if info.IsDir() && colorize {
				fmt.Fprintf(out, "%s%s%s\n", ansiBlue, name, ansiReset)
			} else {
				fmt.Fprintln(out, name)
			}
		}

		if d < len(dirs)-1 {
			fmt.Fprintln(out)
		}
	}
	return boolStatus(errOccurred)
}

// colorableStdout lets go-colorable wrap Stdout when it is a real
// *os.File; any other writer (as in tests) is written to directly.
func colorableStdout(w io.Writer) io.Writer {
	if f, ok := w.(*os.File); ok {
		return colorable.NewColorable(f)
	}
	return w
}

func builtinJobs(ctx *Context, argv []string) int {
	for _, j := range ctx.Jobs.GetAllJobs() {
		fmt.Fprintf(ctx.Stdout, "[%d] %s %s\n", j.JobID, j.Status, j.Command)
	}
	return 0
}

func builtinFg(ctx *Context, argv []string) int {
	if len(argv) < 2 {
		fmt.Fprintln(ctx.Stderr, "myshell: fg: usage: fg [job_id]")
		return 1
	}
	jobID, err := strconv.Atoi(argv[1])
	if err != nil || jobID <= 0 {
		fmt.Fprintf(ctx.Stderr, "myshell: fg: %s: no such job\n", argv[1])
		return 1
	}

	job, ok := ctx.Jobs.FindJob(jobID)
	if !ok {
		fmt.Fprintf(ctx.Stderr, "myshell: fg: %d: no such job\n", jobID)
		return 1
	}

	if ctx.StdinFd != 0 {
		if err := unix.IoctlSetPointerInt(ctx.StdinFd, unix.TIOCSPGRP, job.Pgid); err != nil {
			fmt.Fprintf(ctx.Stderr, "myshell: fg: tcsetpgrp: %v\n", err)
			return 1
		}
	}

	if job.Status == jobtable.Stopped {
		if err := unix.Kill(-job.Pgid, unix.SIGCONT); err != nil {
			fmt.Fprintf(ctx.Stderr, "myshell: fg: kill: %v\n", err)
			return 1
		}
		ctx.Jobs.UpdateStatus(jobID, jobtable.Running)
	}

	// Claim the pgid as Foreground for the duration of our own Wait4 so
	// the SIGCHLD reaper steps aside instead of racing us for the same
	// exit/stop status (internal/signals.Layer.drain consults this).
	if ctx.Roles != nil {
		ctx.Roles.Set(job.Pgid, signals.Foreground)
		defer ctx.Roles.Clear(job.Pgid)
	}

	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-job.Pgid, &ws, unix.WUNTRACED, nil)
		if err != nil || pid <= 0 {
			break
		}
		if ws.Stopped() {
			ctx.Jobs.UpdateStatusByPgid(job.Pgid, jobtable.Stopped)
			fmt.Fprintf(ctx.Stdout, "\n[%d]+  Stopped    %s\n", jobID, job.Command)
			break
		} else if ws.Exited() || ws.Signaled() {
			ctx.Jobs.RemoveJob(jobID)
			break
		}
	}

	if ctx.StdinFd != 0 {
		shellPgid, _ := unix.Getpgid(os.Getpid())
		unix.IoctlSetPointerInt(ctx.StdinFd, unix.TIOCSPGRP, shellPgid)
	}

	return 0
}

func builtinBg(ctx *Context, argv []string) int {
	if len(argv) < 2 {
		fmt.Fprintln(ctx.Stderr, "myshell: bg: usage: bg [job_id]")
		return 1
	}
	jobID, err := strconv.Atoi(argv[1])
	if err != nil || jobID <= 0 {
		fmt.Fprintf(ctx.Stderr, "myshell: bg: %s: no such job\n", argv[1])
		return 1
	}

	job, ok := ctx.Jobs.FindJob(jobID)
	if !ok {
		fmt.Fprintf(ctx.Stderr, "myshell: bg: %d: no such job\n", jobID)
		return 1
	}
	if job.Status != jobtable.Stopped {
		fmt.Fprintf(ctx.Stderr, "myshell: bg: job %d is not stopped\n", jobID)
		return 1
	}

	if err := unix.Kill(-job.Pgid, unix.SIGCONT); err != nil {
		fmt.Fprintf(ctx.Stderr, "myshell: bg: kill: %v\n", err)
		return 1
	}

	ctx.Jobs.UpdateStatus(jobID, jobtable.Running)
	fmt.Fprintf(ctx.Stdout, "[%d]+ %s &\n", jobID, job.Command)
	return 0
}

func builtinHistory(ctx *Context, argv []string) int {
	if ctx.History == nil {
		return 0
	}
	fmt.Fprint(ctx.Stdout, ctx.History.Render())
	return 0
}

func builtinExport(ctx *Context, argv []string) int {
	if len(argv) < 2 {
		for _, kv := range shellenv.Environ() {
			fmt.Fprintf(ctx.Stdout, "declare -x %s\n", kv)
		}
		return 0
	}

	errOccurred := false
	for _, arg := range argv[1:] {
		if eq := strings.IndexByte(arg, '='); eq >= 0 {
			name, value := arg[:eq], arg[eq+1:]
			if err := shellenv.Set(name, value); err != nil {
				fmt.Fprintf(ctx.Stderr, "myshell: export: %v\n", err)
				errOccurred = true
			}
		} else {
			if _, ok := shellenv.Lookup(arg); !ok {
				fmt.Fprintf(ctx.Stderr, "myshell: export: %s: variable not set\n", arg)
				errOccurred = true
			}
		}
	}
	return boolStatus(errOccurred)
}

func builtinUnset(ctx *Context, argv []string) int {
	if len(argv) < 2 {
		fmt.Fprintln(ctx.Stderr, "myshell: unset: usage: unset [variable...]")
		return 1
	}
	errOccurred := false
	for _, name := range argv[1:] {
		if err := shellenv.Unset(name); err != nil {
			fmt.Fprintf(ctx.Stderr, "myshell: unset: %v\n", err)
			errOccurred = true
		}
	}
	return boolStatus(errOccurred)
}

func boolStatus(errOccurred bool) int {
	if errOccurred {
		return 1
	}
	return 0
}
