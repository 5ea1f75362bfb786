package config

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const appName = "torii"

type Config struct {
	Root         string            `json:"root"          yaml:"root"`
	Database     string            `json:"database"      yaml:"database"`
	BridgeAddr   string            `json:"bridge_addr"   yaml:"bridge_addr"`
	Persist      bool              `json:"persist"       yaml:"persist"`
	Checkpoint   string            `json:"checkpoint"    yaml:"checkpoint"` // journal write interval, "" saves on every change
	Verbosity    int               `json:"verbosity"     yaml:"verbosity"`
	LogFile      string            `json:"log_file"      yaml:"log_file"`
	SnippetQuery map[string]string `json:"snippet_query" yaml:"snippet_query"` // per extension, overrides outline.DefaultQueries
}

var defaultConfig = Config{
	Root:       ".",
	BridgeAddr: "127.0.0.1:7337",
	Persist:    true,
	Verbosity:  1,
}

func Default() Config {
	return defaultConfig
}

// Load overlays v, typically LSP initializationOptions, onto the defaults.
func Load(v any) (Config, error) {
	return Overlay(defaultConfig, v)
}

// Overlay returns base with the fields present in v replaced.
func Overlay(base Config, v any) (Config, error) {
	cfg := base
	if base.SnippetQuery != nil {
		cfg.SnippetQuery = make(map[string]string, len(base.SnippetQuery))
		for ext, q := range base.SnippetQuery {
			cfg.SnippetQuery[ext] = q
		}
	}
	if v == nil {
		return cfg, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return Config{}, fmt.Errorf("failed to marshal source: %w", err)
	}

	// only fields present in src will overwrite.
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal into Config: %w", err)
	}

	return cfg, nil
}

// LoadFromJSON reads JSON from r into a Config.
func LoadFromJSON(r io.Reader) (Config, error) {
	cfg := defaultConfig

	decoder := json.NewDecoder(r)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadFromYAML reads YAML from r into a Config.
func LoadFromYAML(r io.Reader) (Config, error) {
	cfg := defaultConfig

	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, err
	}

	return cfg, nil
}

// LoadFile picks the decoder by extension: .json is JSON, anything else YAML.
func LoadFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".json") {
		cfg, err = LoadFromJSON(f)
	} else {
		cfg, err = LoadFromYAML(f)
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// StateDir returns $XDG_STATE_HOME/torii, falling back to ~/.local/state.
func StateDir() (string, error) {
	xdgStateHome := os.Getenv("XDG_STATE_HOME")
	if xdgStateHome == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home directory: %w", err)
		}
		xdgStateHome = filepath.Join(homeDir, ".local", "state")
	}
	return filepath.Join(xdgStateHome, appName), nil
}

// DatabasePath returns the journal location: Database when set, otherwise
// one file per workspace root under StateDir.
func (c Config) DatabasePath() (string, error) {
	if c.Database != "" {
		return c.Database, nil
	}
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	root, err := filepath.Abs(c.Root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve root: %w", err)
	}
	return filepath.Join(dir, url.PathEscape(filepath.ToSlash(root)), "journal.db"), nil
}

// CheckpointInterval parses Checkpoint. Zero means save on every change.
func (c Config) CheckpointInterval() (time.Duration, error) {
	if c.Checkpoint == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Checkpoint)
	if err != nil {
		return 0, fmt.Errorf("invalid checkpoint %q: %w", c.Checkpoint, err)
	}
	return d, nil
}
