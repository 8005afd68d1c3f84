// Package shellenv is a thin typed wrapper over the process environment.
// It exists so variable expansion (lexer) and the export/unset/cd
// built-ins share one seam instead of each calling os.Getenv/Setenv
// directly, matching the spec's requirement that children see real
// process-environment semantics via exec.
package shellenv

import "os"

// Lookup returns a variable's value and whether it is set. The lexer
// expands only a variable that is set to a non-empty value; an unset or
// empty variable contributes no text and does not start a token.
func Lookup(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	return os.LookupEnv(name)
}

// Get returns a variable's value, or "" if unset.
func Get(name string) string {
	return os.Getenv(name)
}

// Set assigns NAME=VALUE in the process environment.
func Set(name, value string) error {
	return os.Setenv(name, value)
}

// Unset removes NAME from the process environment.
func Unset(name string) error {
	return os.Unsetenv(name)
}

// Environ returns a copy of the process environment as NAME=VALUE
// strings, the form exec.Cmd.Env expects.
func Environ() []string {
	return os.Environ()
}
