// Command myshell is a POSIX-style interactive shell: lexer, parser,
// executor, and job control wired together behind a cobra root command
// the same shape the teacher's lxc client uses for its own entrypoint —
// minus sub-commands, since this program is a REPL, not a client with a
// verb-per-operation surface.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/myshell-go/myshell/internal/builtins"
	"github.com/myshell-go/myshell/internal/execshell"
	"github.com/myshell-go/myshell/internal/history"
	"github.com/myshell-go/myshell/internal/jobtable"
	"github.com/myshell-go/myshell/internal/lexer"
	"github.com/myshell-go/myshell/internal/parser"
	"github.com/myshell-go/myshell/internal/prompt"
	"github.com/myshell-go/myshell/internal/shconfig"
	"github.com/myshell-go/myshell/internal/shlog"
	"github.com/myshell-go/myshell/internal/signals"
)

// builtinReexecFlag mirrors internal/execshell's hidden flag: when this
// binary is invoked as "myshell -myshell-builtin-reexec <argv...>" it
// runs exactly one built-in and exits, instead of entering cobra/the
// REPL. This has to be checked before cobra ever sees os.Args, because
// it is not a flag cobra's own parser should recognize or document.
const builtinReexecFlag = "-myshell-builtin-reexec"

func main() {
	if len(os.Args) > 1 && os.Args[1] == builtinReexecFlag {
		os.Exit(runBuiltinReexec(os.Args[2:]))
	}

	app := &cobra.Command{
		Use:   "myshell",
		Short: "A POSIX-style interactive command shell",
	}
	app.SilenceUsage = true
	app.SilenceErrors = true

	var flagDebug bool
	var flagHistoryFile string
	var flagNoColor bool
	app.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Show debug log messages")
	app.PersistentFlags().StringVar(&flagHistoryFile, "history-file", "", "Override the history file path")
	app.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "Disable ls directory coloring")

	app.RunE = func(cmd *cobra.Command, args []string) error {
		shlog.SetLevel(flagDebug)
		return runREPL(flagHistoryFile, flagNoColor)
	}

	if err := app.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "myshell: %v\n", err)
		os.Exit(1)
	}
}

// runBuiltinReexec runs a single built-in in this freshly exec'd process
// and returns its exit status — the counterpart to execshell's re-exec
// of a pipeline-stage built-in.
func runBuiltinReexec(argv []string) int {
	if len(argv) == 0 {
		return 1
	}
	ctx := &builtins.Context{
		Jobs:    jobtable.New(),
		History: history.New(),
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		StdinFd: int(os.Stdin.Fd()),
	}
	return builtins.Execute(ctx, argv)
}

// lineSource abstracts "read one line of input" so the REPL can use a
// real readline terminal when attached to a tty and a plain scanner
// otherwise (scripted input, tests, pipes) — the same tty-detection
// branch the teacher's client code makes with term.IsTerminal before
// deciding whether to prompt interactively.
type lineSource interface {
	Readline() (string, error)
	SetPrompt(string)
	Close() error
}

type readlineSource struct {
	rl *readline.Instance
}

func (r *readlineSource) Readline() (string, error) { return r.rl.Readline() }
func (r *readlineSource) SetPrompt(p string)         { r.rl.SetPrompt(p) }
func (r *readlineSource) Close() error               { return r.rl.Close() }

type scannerSource struct {
	sc     *bufio.Scanner
	prompt string
}

func (s *scannerSource) Readline() (string, error) {
	if !s.sc.Scan() {
		if err := s.sc.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return s.sc.Text(), nil
}
func (s *scannerSource) SetPrompt(p string) { s.prompt = p }
func (s *scannerSource) Close() error       { return nil }

func newLineSource(historyFile string) (lineSource, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		rl, err := readline.NewEx(&readline.Config{
			HistoryFile:     historyFile,
			InterruptPrompt: "^C",
			EOFPrompt:       "exit",
		})
		if err != nil {
			return nil, fmt.Errorf("readline: %w", err)
		}
		return &readlineSource{rl: rl}, nil
	}
	return &scannerSource{sc: bufio.NewScanner(os.Stdin)}, nil
}

// runREPL is the shell's main loop: read, lex, parse, execute, record
// history, clean up finished background jobs, repeat.
func runREPL(historyFileOverride string, noColor bool) error {
	cfg, err := shconfig.Load(shconfig.Path())
	if err != nil {
		fmt.Fprintf(os.Stderr, "myshell: %v; using defaults\n", err)
		cfg = shconfig.Defaults()
	}
	if noColor || !cfg.ColorizeLS {
		os.Setenv("NO_COLOR", "1")
	}

	promptRenderer, err := prompt.New(cfg.PromptFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "myshell: invalid prompt_format: %v\n", err)
		promptRenderer, _ = prompt.New("")
	}

	jobs := jobtable.NewWithCapacity(cfg.JobTableSize)
	hist := history.NewWithCapacity(cfg.HistorySize)
	roles := signals.NewRoleTable()
	log := shlog.NewSession()
	jobs.SetLogger(log)

	sigLayer := signals.NewLayer(jobs, roles, log, int(os.Stdin.Fd()))
	defer sigLayer.Stop()

	shell := execshell.New(jobs, roles, hist, log)

	historyFile := historyFileOverride
	if historyFile == "" {
		if home, err := os.UserHomeDir(); err == nil {
			historyFile = home + "/.myshell_history"
		}
	}
	src, err := newLineSource(historyFile)
	if err != nil {
		return err
	}
	defer src.Close()

	for {
		jobs.CleanupJobs()
		src.SetPrompt(promptRenderer.Render())

		line, err := src.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		toks, err := lexer.Lex(line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			hist.Add(trimmed)
			continue
		}

		pipeline, err := parser.Parse(toks, line, builtins.IsBuiltin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			hist.Add(trimmed)
			continue
		}

		hist.Add(trimmed)

		if _, err := shell.Run(pipeline); err != nil {
			fmt.Fprintf(os.Stderr, "myshell: %v\n", err)
		}
	}
}
