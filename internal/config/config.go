// Package config loads runtime configuration for the CLI and any embedding
// service. Configuration is YAML with strict field checking, so a typo in
// a key fails loudly instead of silently falling back to a default.
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/pentimento/internal/flatten"
	"github.com/roach88/pentimento/internal/loader"
)

// Config holds the runtime settings.
type Config struct {
	// DBPath is the SQLite database file. ":memory:" is accepted for
	// throwaway runs.
	DBPath string `yaml:"db_path"`

	// Collection is the default collection name for CLI commands that
	// don't pass --collection.
	Collection string `yaml:"collection"`

	// BatchSize caps how many documents one write call carries; larger
	// inputs are split into successive batches, each with its own batch id.
	BatchSize int `yaml:"batch_size"`

	// AsyncWorkers bounds the async write pool.
	AsyncWorkers int `yaml:"async_workers"`

	// SchemaPath optionally points at a CUE schema file; when set, every
	// incoming document is validated against it.
	SchemaPath string `yaml:"schema_path,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// MaxDepth is the nesting bound for flatten and rebuild. It must
	// match the value used when the history was written; changing it on
	// an existing database makes reconstruction of deeply nested
	// documents diverge.
	MaxDepth int `yaml:"max_depth"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		DBPath:       "pentimento.db",
		Collection:   "records",
		BatchSize:    500,
		AsyncWorkers: loader.DefaultAsyncWorkers,
		LogLevel:     "info",
		MaxDepth:     flatten.MaxDepth,
	}
}

// Load reads a YAML config file, layering it over Default. Unknown keys
// are rejected.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for values that cannot work.
func (c Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.AsyncWorkers <= 0 {
		return fmt.Errorf("async_workers must be positive, got %d", c.AsyncWorkers)
	}
	if c.MaxDepth <= 0 {
		return fmt.Errorf("max_depth must be positive, got %d", c.MaxDepth)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level %q not recognized", c.LogLevel)
	}
	return nil
}
