package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
db_path: /var/lib/readings.db
collection: readings
batch_size: 100
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/readings.db", cfg.DBPath)
	assert.Equal(t, "readings", cfg.Collection)
	assert.Equal(t, 100, cfg.BatchSize)

	// Unset keys keep their defaults.
	def := Default()
	assert.Equal(t, def.AsyncWorkers, cfg.AsyncWorkers)
	assert.Equal(t, def.LogLevel, cfg.LogLevel)
	assert.Equal(t, def.MaxDepth, cfg.MaxDepth)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
db_path: x.db
batchsize: 100
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty db path", func(c *Config) { c.DBPath = "" }},
		{"zero batch size", func(c *Config) { c.BatchSize = 0 }},
		{"negative workers", func(c *Config) { c.AsyncWorkers = -1 }},
		{"zero depth", func(c *Config) { c.MaxDepth = 0 }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}
