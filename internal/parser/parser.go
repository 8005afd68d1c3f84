// Package parser folds a lexed token sequence into a Pipeline of
// Commands with redirection metadata and a background flag, per the
// segment-reduction algorithm in the original shell's parser.c.
package parser

import (
	"fmt"

	"github.com/myshell-go/myshell/internal/token"
)

// Command is a single external or built-in invocation within a Pipeline.
type Command struct {
	Argv       []string
	InputFile  string
	OutputFile string
	AppendMode bool
	HasInput   bool
	HasOutput  bool

	// Builtin caches is_builtin(Argv[0]) so the executor's built-in
	// short-circuit doesn't re-resolve it. Set by Parse.
	Builtin bool
}

// Pipeline is an ordered non-empty sequence of Commands sharing a
// background flag.
type Pipeline struct {
	Commands   []Command
	Background bool

	// Raw is the original surface line as passed to Parse. History
	// entries are recorded by the REPL from its own trimmed copy of the
	// line, not from Raw. Job.Command is never taken from here either — it is rebuilt from argv (see
	// execshell.pipelineCommandString) so a trailing background "&" never
	// leaks into jobs/bg output.
	Raw string
}

// IsBuiltinFunc is supplied by callers (internal/builtins, via a narrow
// function value) so parser does not import builtins and create a cycle.
type IsBuiltinFunc func(name string) bool

// Parse reduces a token sequence into a Pipeline. isBuiltin classifies
// Argv[0] of each resulting Command; pass nil to skip classification
// (Builtin will be false on every Command).
func Parse(toks []token.Token, raw string, isBuiltin IsBuiltinFunc) (*Pipeline, error) {
	background := false
	if n := len(toks); n > 0 && toks[n-1].Kind == token.Amp {
		background = true
		toks = toks[:n-1]
	}

	segments := splitOnPipe(toks)

	commands := make([]Command, 0, len(segments))
	for _, seg := range segments {
		cmd, err := reduceSegment(seg)
		if err != nil {
			return nil, err
		}
		if isBuiltin != nil && len(cmd.Argv) > 0 {
			cmd.Builtin = isBuiltin(cmd.Argv[0])
		}
		commands = append(commands, cmd)
	}

	return &Pipeline{Commands: commands, Background: background, Raw: raw}, nil
}

// splitOnPipe splits toks on Pipe-kind tokens into segments (a quoted
// "|" is a Word and does not split). An empty
// segment (two adjacent pipes, or a leading/trailing pipe) is preserved
// as an empty slice so reduceSegment can report the exact syntax error.
func splitOnPipe(toks []token.Token) [][]token.Token {
	var segments [][]token.Token
	start := 0
	for i, t := range toks {
		if t.Kind == token.Pipe {
			segments = append(segments, toks[start:i])
			start = i + 1
		}
	}
	segments = append(segments, toks[start:])
	return segments
}

func reduceSegment(seg []token.Token) (Command, error) {
	var cmd Command
	argv := make([]string, 0, len(seg))

	for i := 0; i < len(seg); i++ {
		switch seg[i].Kind {
		case token.Less:
			i++
			if i >= len(seg) {
				return Command{}, fmt.Errorf("myshell: syntax error near unexpected token '<'")
			}
			if cmd.HasInput {
				return Command{}, fmt.Errorf("myshell: syntax error: multiple input redirections")
			}
			cmd.InputFile = seg[i].Text
			cmd.HasInput = true
		case token.Great:
			i++
			if i >= len(seg) {
				return Command{}, fmt.Errorf("myshell: syntax error near unexpected token '>'")
			}
			if cmd.HasOutput {
				return Command{}, fmt.Errorf("myshell: syntax error: multiple output redirections")
			}
			cmd.OutputFile = seg[i].Text
			cmd.AppendMode = false
			cmd.HasOutput = true
		case token.DGreat:
			i++
			if i >= len(seg) {
				return Command{}, fmt.Errorf("myshell: syntax error near unexpected token '>>'")
			}
			if cmd.HasOutput {
				return Command{}, fmt.Errorf("myshell: syntax error: multiple output redirections")
			}
			cmd.OutputFile = seg[i].Text
			cmd.AppendMode = true
			cmd.HasOutput = true
		case token.Amp:
			// A lone "&" mid-pipeline (not the trailing background marker,
			// which Parse already stripped) is always misplaced.
			return Command{}, fmt.Errorf("myshell: syntax error: & must be at end of command")
		default:
			argv = append(argv, seg[i].Text)
		}
	}

	if len(argv) == 0 {
		return Command{}, fmt.Errorf("myshell: syntax error near unexpected token '|'")
	}
	cmd.Argv = argv
	return cmd, nil
}
