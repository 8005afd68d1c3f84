// Package shconfig loads optional shell startup preferences from
// $HOME/.myshellrc.yaml, the same "small YAML file under $HOME" shape
// the teacher's own config package used for its server list
// (config.LoadConfig(path) reading YAML, absence of the file not being
// an error), adapted here from "remote server list" to "shell
// preferences."
package shconfig

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

// Config holds the shell's ambient, optional startup preferences.
// Absence of the backing file is not an error; Defaults() applies.
type Config struct {
	HistorySize   int    `yaml:"history_size"`
	JobTableSize  int    `yaml:"job_table_size"`
	PromptFormat  string `yaml:"prompt_format"`
	ColorizeLS    bool   `yaml:"colorize_ls"`
}

// Defaults returns the compiled-in configuration used when no rc file
// is present.
func Defaults() Config {
	return Config{
		HistorySize:  1000,
		JobTableSize: 100,
		PromptFormat: "myshell> ",
		ColorizeLS:   true,
	}
}

// Path returns the default rc file location, $HOME/.myshellrc.yaml.
func Path() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".myshellrc.yaml")
}

// Load reads and parses the rc file at path. A missing file is not an
// error: Load returns Defaults() unchanged. A present-but-malformed file
// is an error.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Defaults(), err
	}
	return cfg, nil
}
