package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	verrors "github.com/randalmurphal/verity/internal/errors"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown db driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres" }, "database.dsn"},
		{"s3 without bucket", func(c *Config) { c.Archive.Driver = "s3" }, "archive.bucket"},
		{"empty graph", func(c *Config) { c.Roles.Successors = nil }, "roles.successors"},
		{"dangling successor", func(c *Config) { c.Roles.Successors = map[string]string{"a": "b"} }, "roles.successors"},
		{"missing terminal", func(c *Config) { c.Roles.Successors = map[string]string{"a": ""} }, "roles.successors"},
		{"cycle", func(c *Config) { c.Roles.Successors = map[string]string{"a": "b", "b": "a"} }, "roles.successors"},
		{"no approvers", func(c *Config) { c.Roles.ChangeRequestApprovers = nil }, "roles.change_request_approvers"},
		{"no system failure type", func(c *Config) { c.Incident.SystemFailureType = "" }, "incident.system_failure_type"},
		{"negative retries", func(c *Config) { c.Engine.MaxRetries = -1 }, "engine.max_retries"},
		{"bad exporter", func(c *Config) { c.Telemetry.Exporter = "jaeger" }, "telemetry.exporter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			verr := verrors.AsVerityError(err)
			require.NotNil(t, verr)
			assert.Equal(t, verrors.CodeConfigInvalid, verr.Code)
			assert.Contains(t, verr.What, tt.field)
		})
	}
}

func TestLoadFileOverlaysAndReplacesGraph(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  path: /tmp/verity-test.db
roles:
  successors:
    inspector: supervisor
    supervisor: END
settings:
  cache_ttl: 30s
`), 0644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/verity-test.db", cfg.Database.Path)
	assert.Equal(t, "sqlite", cfg.Database.Driver, "unset keys keep defaults")
	assert.Equal(t, map[string]string{"inspector": "supervisor", "supervisor": TerminalRole}, cfg.Roles.Successors)
	assert.Equal(t, 30*time.Second, cfg.Settings.CacheTTL)
	assert.Equal(t, []string{"qa_lead", "manager"}, cfg.Roles.ChangeRequestApprovers)
}

func TestLoadFileRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  driver: oracle\n"), 0644))

	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Equal(t, verrors.CategoryBadRequest, verrors.CategoryOf(err))
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestApplyEnvVars(t *testing.T) {
	t.Setenv("VERITY_DB_DRIVER", "postgres")
	t.Setenv("VERITY_DB_DSN", "postgres://localhost/verity")
	t.Setenv("VERITY_ENGINE_MAX_RETRIES", "7")
	t.Setenv("VERITY_SETTINGS_CACHE_TTL", "90s")
	t.Setenv("VERITY_TELEMETRY_ENABLED", "yes")
	t.Setenv("VERITY_ROLES_CACHE_TTL", "not-a-duration")

	cfg := Default()
	paths := ApplyEnvVars(cfg)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://localhost/verity", cfg.Database.DSN)
	assert.Equal(t, 7, cfg.Engine.MaxRetries)
	assert.Equal(t, 90*time.Second, cfg.Settings.CacheTTL)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, time.Minute, cfg.Roles.CacheTTL, "unparseable values are ignored")
	assert.NotContains(t, paths, "roles.cache_ttl")
	assert.Contains(t, paths, "database.dsn")
}

func TestLoadExplicitPath(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)

	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9999\"\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Addr)
}
