// Package config provides configuration management for verity.
package config

import (
	"fmt"
	"time"

	verrors "github.com/randalmurphal/verity/internal/errors"
)

const (
	// VerityDir is the per-project configuration directory.
	VerityDir = ".verity"
	// ConfigFileName is the config file name inside VerityDir.
	ConfigFileName = "config.yaml"

	// TerminalRole marks a role with no successor in the escalation graph.
	TerminalRole = "END"

	// DefaultSystemFailureType is the failure type that resets a task's
	// submissions and carries its document forward when raised.
	DefaultSystemFailureType = "system_issue"
)

// Config is the complete verity configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Roles     RolesConfig     `yaml:"roles"`
	Incident  IncidentConfig  `yaml:"incident"`
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Settings  SettingsConfig  `yaml:"settings"`
	Engine    EngineConfig    `yaml:"engine"`
}

// DatabaseConfig selects and tunes the relational store.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	// Path is the SQLite file path.
	Path string `yaml:"path"`
	// DSN is the PostgreSQL connection string.
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// ArchiveConfig locates the read-only reference-document archive.
type ArchiveConfig struct {
	// Driver is "fs", "s3" or "memory".
	Driver    string `yaml:"driver"`
	Root      string `yaml:"root"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// RolesConfig describes who reviews incidents and who may approve change requests.
type RolesConfig struct {
	// Successors maps each escalation role to the role reviewing after it.
	// Terminal roles map to TerminalRole.
	Successors map[string]string `yaml:"successors"`
	// ChangeRequestApprovers lists the roles allowed to approve change requests.
	ChangeRequestApprovers []string `yaml:"change_request_approvers"`
	// CacheTTL bounds how long a resolved user role is reused.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// IncidentConfig holds incident workflow settings.
type IncidentConfig struct {
	SystemFailureType string `yaml:"system_failure_type"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TelemetryConfig controls tracing.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"` // stdout | none
	ServiceName string `yaml:"service_name"`
}

// SettingsConfig controls the application settings cache.
type SettingsConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// EngineConfig tunes transaction retries.
type EngineConfig struct {
	// MaxRetries is how many times a transaction that failed on a
	// serialization conflict is rerun before Conflict is returned.
	MaxRetries      int           `yaml:"max_retries"`
	InitialInterval time.Duration `yaml:"initial_interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:       "sqlite",
			Path:         VerityDir + "/verity.db",
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		Archive: ArchiveConfig{
			Driver: "fs",
			Root:   VerityDir + "/archive",
		},
		Roles: RolesConfig{
			Successors: map[string]string{
				"engineer": "qa_lead",
				"qa_lead":  "manager",
				"manager":  TerminalRole,
			},
			ChangeRequestApprovers: []string{"qa_lead", "manager"},
			CacheTTL:               time.Minute,
		},
		Incident: IncidentConfig{
			SystemFailureType: DefaultSystemFailureType,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Exporter:    "none",
			ServiceName: "verity",
		},
		Settings: SettingsConfig{
			CacheTTL: 5 * time.Minute,
		},
		Engine: EngineConfig{
			MaxRetries:      3,
			InitialInterval: 20 * time.Millisecond,
		},
	}
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return verrors.ErrConfigInvalid("database.path", "required for the sqlite driver")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return verrors.ErrConfigInvalid("database.dsn", "required for the postgres driver")
		}
	default:
		return verrors.ErrConfigInvalid("database.driver", fmt.Sprintf("unknown driver %q", c.Database.Driver))
	}

	switch c.Archive.Driver {
	case "fs":
		if c.Archive.Root == "" {
			return verrors.ErrConfigInvalid("archive.root", "required for the fs archive")
		}
	case "s3":
		if c.Archive.Bucket == "" {
			return verrors.ErrConfigInvalid("archive.bucket", "required for the s3 archive")
		}
	case "memory":
	default:
		return verrors.ErrConfigInvalid("archive.driver", fmt.Sprintf("unknown driver %q", c.Archive.Driver))
	}

	if err := validateGraph(c.Roles.Successors); err != nil {
		return err
	}
	if len(c.Roles.ChangeRequestApprovers) == 0 {
		return verrors.ErrConfigInvalid("roles.change_request_approvers", "at least one role is required")
	}
	if c.Incident.SystemFailureType == "" {
		return verrors.ErrConfigInvalid("incident.system_failure_type", "must not be empty")
	}
	if c.Engine.MaxRetries < 0 {
		return verrors.ErrConfigInvalid("engine.max_retries", "must not be negative")
	}
	switch c.Telemetry.Exporter {
	case "", "none", "stdout":
	default:
		return verrors.ErrConfigInvalid("telemetry.exporter", fmt.Sprintf("unknown exporter %q", c.Telemetry.Exporter))
	}
	return nil
}

// validateGraph requires every successor to be a known role or the terminal
// sentinel, and every chain to reach the sentinel without looping.
func validateGraph(succ map[string]string) error {
	if len(succ) == 0 {
		return verrors.ErrConfigInvalid("roles.successors", "at least one role is required")
	}
	for role, next := range succ {
		if role == "" || role == TerminalRole {
			return verrors.ErrConfigInvalid("roles.successors", fmt.Sprintf("invalid role name %q", role))
		}
		if next == "" {
			return verrors.ErrConfigInvalid("roles.successors", fmt.Sprintf("role %s has no successor; use %s for the last role", role, TerminalRole))
		}
		if next != TerminalRole {
			if _, ok := succ[next]; !ok {
				return verrors.ErrConfigInvalid("roles.successors", fmt.Sprintf("role %s points at unknown role %s", role, next))
			}
		}
	}
	for start := range succ {
		seen := map[string]bool{}
		for r := start; r != TerminalRole; r = succ[r] {
			if seen[r] {
				return verrors.ErrConfigInvalid("roles.successors", fmt.Sprintf("cycle through role %s", r))
			}
			seen[r] = true
		}
	}
	return nil
}
