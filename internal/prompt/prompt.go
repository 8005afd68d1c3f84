// Package prompt renders the shell's prompt text through a pongo2
// template, grounded in the flosch-pongo2 example repo's
// pongo2.FromString(...).Execute(pongo2.Context{...}) API. The default
// template renders to the literal "myshell> " the spec requires; a
// configured template (internal/shconfig) may reference {{ cwd }} or
// {{ user }} for a richer prompt.
package prompt

import (
	"os"
	"os/user"

	"github.com/flosch/pongo2"
)

// Default is the literal prompt string required when no custom template
// is configured.
const Default = "myshell> "

// Renderer renders a prompt template on demand.
type Renderer struct {
	tpl *pongo2.Template
}

// New compiles format (a pongo2 template string) into a Renderer. An
// empty format is treated as Default.
func New(format string) (*Renderer, error) {
	if format == "" {
		format = Default
	}
	tpl, err := pongo2.FromString(format)
	if err != nil {
		return nil, err
	}
	return &Renderer{tpl: tpl}, nil
}

// Render executes the template against the current working directory and
// user name.
func (r *Renderer) Render() string {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = ""
	}
	userName := ""
	if u, err := user.Current(); err == nil {
		userName = u.Username
	}

	out, err := r.tpl.Execute(pongo2.Context{"cwd": cwd, "user": userName})
	if err != nil {
		return Default
	}
	return out
}
