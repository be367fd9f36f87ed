// Package config loads relay settings from .relay/config.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/nick-dorsch/relay/internal/logging"
)

// Backend names accepted in the backend setting.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Default values for Config.
const (
	DefaultStateDir = ".relay"
	DefaultTailSize = 10
	DefaultBackend  = BackendFile
	FileName        = "config.yaml"
)

// Config holds every relay setting. Command-line flags override it.
type Config struct {
	// Backend selects where the project is stored: file or sqlite.
	Backend string `yaml:"backend"`
	// StateDir holds the artifacts, relative to the project root unless
	// absolute.
	StateDir string `yaml:"state_dir"`
	// TailSize is the number of progress entries read_state returns.
	TailSize int `yaml:"tail_size"`
	// Locking takes an advisory lock around every operation. With it off,
	// concurrent writers still get Conflict errors from the revision check.
	Locking bool `yaml:"locking"`
	// SnapshotOnCommit makes the sqlite backend export tasks.json and
	// progress.jsonl after every commit.
	SnapshotOnCommit bool   `yaml:"snapshot_on_commit"`
	LogLevel         string `yaml:"log_level"`
	LogFormat        string `yaml:"log_format"`
	// Agent is the command `relay run` starts for every task, for example
	// ["claude", "-p"]. The prompt arrives on stdin.
	Agent []string `yaml:"agent,omitempty"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Backend:   DefaultBackend,
		StateDir:  DefaultStateDir,
		TailSize:  DefaultTailSize,
		Locking:   true,
		LogLevel:  "warn",
		LogFormat: logging.FormatText,
	}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Path returns the config file location for a project root.
func Path(root string) string {
	return filepath.Join(root, DefaultStateDir, FileName)
}

// LoadConfig reads .relay/config.yaml under root. A missing file yields the
// defaults; fields missing from the file keep their default values.
func LoadConfig(root string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(Path(root))
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ValidateConfig checks that all config values are valid.
func ValidateConfig(cfg *Config) error {
	switch cfg.Backend {
	case BackendFile, BackendSQLite:
	default:
		return ValidationError{Field: "backend", Message: fmt.Sprintf("must be %q or %q", BackendFile, BackendSQLite)}
	}
	if cfg.StateDir == "" {
		return ValidationError{Field: "state_dir", Message: "must not be empty"}
	}
	if cfg.TailSize <= 0 {
		return ValidationError{Field: "tail_size", Message: "must be positive"}
	}
	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		return ValidationError{Field: "log_level", Message: err.Error()}
	}
	switch cfg.LogFormat {
	case "", logging.FormatText, logging.FormatJSON:
	default:
		return ValidationError{Field: "log_format", Message: "must be text or json"}
	}
	return nil
}

// StatePath resolves StateDir against root.
func (c *Config) StatePath(root string) string {
	if filepath.IsAbs(c.StateDir) {
		return c.StateDir
	}
	return filepath.Join(root, c.StateDir)
}

// Save writes cfg to .relay/config.yaml under root.
func Save(root string, cfg *Config) error {
	if err := ValidateConfig(cfg); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	path := Path(root)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
