package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvVarMapping defines the mapping between environment variables and config paths.
var EnvVarMapping = map[string]string{
	// Database settings
	"VERITY_DB_DRIVER":         "database.driver",
	"VERITY_DB_PATH":           "database.path",
	"VERITY_DB_DSN":            "database.dsn",
	"VERITY_DB_MAX_OPEN_CONNS": "database.max_open_conns",
	// Archive settings
	"VERITY_ARCHIVE_DRIVER":     "archive.driver",
	"VERITY_ARCHIVE_ROOT":       "archive.root",
	"VERITY_ARCHIVE_BUCKET":     "archive.bucket",
	"VERITY_ARCHIVE_PREFIX":     "archive.prefix",
	"VERITY_ARCHIVE_REGION":     "archive.region",
	"VERITY_ARCHIVE_ENDPOINT":   "archive.endpoint",
	"VERITY_ARCHIVE_PATH_STYLE": "archive.path_style",
	// Workflow settings
	"VERITY_ROLES_CACHE_TTL":              "roles.cache_ttl",
	"VERITY_INCIDENT_SYSTEM_FAILURE_TYPE": "incident.system_failure_type",
	"VERITY_SETTINGS_CACHE_TTL":           "settings.cache_ttl",
	"VERITY_ENGINE_MAX_RETRIES":           "engine.max_retries",
	// Server and telemetry
	"VERITY_ADDR":               "server.addr",
	"VERITY_TELEMETRY_ENABLED":  "telemetry.enabled",
	"VERITY_TELEMETRY_EXPORTER": "telemetry.exporter",
}

// ApplyEnvVars applies environment variable overrides to cfg.
// Returns a list of paths that were overridden.
func ApplyEnvVars(cfg *Config) []string {
	var overridden []string
	for envVar, configPath := range EnvVarMapping {
		value := os.Getenv(envVar)
		if value == "" {
			continue
		}
		if applyEnvVar(cfg, configPath, value) {
			overridden = append(overridden, configPath)
		}
	}
	return overridden
}

// applyEnvVar applies a single environment variable to the config.
// Returns true if the value was applied.
func applyEnvVar(cfg *Config, path string, value string) bool {
	switch path {
	case "database.driver":
		cfg.Database.Driver = value
	case "database.path":
		cfg.Database.Path = value
	case "database.dsn":
		cfg.Database.DSN = value
	case "database.max_open_conns":
		v, err := strconv.Atoi(value)
		if err != nil {
			return false
		}
		cfg.Database.MaxOpenConns = v
	case "archive.driver":
		cfg.Archive.Driver = value
	case "archive.root":
		cfg.Archive.Root = value
	case "archive.bucket":
		cfg.Archive.Bucket = value
	case "archive.prefix":
		cfg.Archive.Prefix = value
	case "archive.region":
		cfg.Archive.Region = value
	case "archive.endpoint":
		cfg.Archive.Endpoint = value
	case "archive.path_style":
		cfg.Archive.PathStyle = parseBool(value)
	case "roles.cache_ttl":
		d, err := time.ParseDuration(value)
		if err != nil {
			return false
		}
		cfg.Roles.CacheTTL = d
	case "incident.system_failure_type":
		cfg.Incident.SystemFailureType = value
	case "settings.cache_ttl":
		d, err := time.ParseDuration(value)
		if err != nil {
			return false
		}
		cfg.Settings.CacheTTL = d
	case "engine.max_retries":
		v, err := strconv.Atoi(value)
		if err != nil {
			return false
		}
		cfg.Engine.MaxRetries = v
	case "server.addr":
		cfg.Server.Addr = value
	case "telemetry.enabled":
		cfg.Telemetry.Enabled = parseBool(value)
	case "telemetry.exporter":
		cfg.Telemetry.Exporter = value
	default:
		return false
	}
	return true
}

// parseBool parses common boolean spellings.
func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
