package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "vitruvius:ifc:", cfg.Redis.Prefix)
	assert.Equal(t, 7*24*time.Hour, cfg.Redis.TTL)
	assert.Equal(t, 512, cfg.Sandbox.MemoryMB)
	assert.Equal(t, 300, cfg.Sandbox.CPUSeconds)
	assert.Equal(t, 50, cfg.Sandbox.FileSizeMB)
	assert.Equal(t, 50000, cfg.Sandbox.MaxElements)
	assert.Equal(t, "type_pair", cfg.Pipeline.ClashMode)
	assert.True(t, cfg.Pipeline.RetireStaleConflicts)
	assert.True(t, cfg.Pipeline.InterModelClash)
	assert.False(t, cfg.Temporal.Enabled())
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vitruvius.yaml")
	yaml := []byte(`
sandbox:
  memory_mb: 1024
  cpu_seconds: 120
pipeline:
  clash_mode: bounding_box
redis:
  ttl: 24h
`)
	require.NoError(t, os.WriteFile(path, yaml, 0o600))

	t.Setenv("VITRUVIUS_SANDBOX_CPU_SECONDS", "60")
	t.Setenv("VITRUVIUS_PIPELINE_RETIRE_STALE_CONFLICTS", "false")
	t.Setenv("VITRUVIUS_TEMPORAL_ADDRESS", "temporal:7233")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 1024, cfg.Sandbox.MemoryMB)
	assert.Equal(t, 60, cfg.Sandbox.CPUSeconds)
	assert.Equal(t, "bounding_box", cfg.Pipeline.ClashMode)
	assert.Equal(t, 24*time.Hour, cfg.Redis.TTL)
	assert.False(t, cfg.Pipeline.RetireStaleConflicts)
	assert.True(t, cfg.Temporal.Enabled())
	// untouched keys keep their defaults
	assert.Equal(t, 50, cfg.Sandbox.FileSizeMB)
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown clash mode", func(c *Config) { c.Pipeline.ClashMode = "mesh" }},
		{"zero memory", func(c *Config) { c.Sandbox.MemoryMB = 0 }},
		{"negative cpu", func(c *Config) { c.Sandbox.CPUSeconds = -1 }},
		{"zero element cap", func(c *Config) { c.Sandbox.MaxElements = 0 }},
		{"zero base cost", func(c *Config) { c.Pipeline.BaseProjectCost = 0 }},
		{"bad driver", func(c *Config) { c.Postgres.Driver = "mysql" }},
		{"empty prefix", func(c *Config) { c.Redis.Prefix = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "sandbox.memory_mb", envKey("VITRUVIUS_SANDBOX_MEMORY_MB"))
	assert.Equal(t, "http.addr", envKey("VITRUVIUS_HTTP_ADDR"))
}

func TestPostgresConnString(t *testing.T) {
	p := Defaults().Postgres
	p.Password = "pw"
	assert.Equal(t, "postgres://vitruvius:pw@localhost:5432/vitruvius?sslmode=disable", p.ConnString())
	p.DSN = "host=db"
	assert.Equal(t, "host=db", p.ConnString())
}
