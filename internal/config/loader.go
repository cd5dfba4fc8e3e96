package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load loads configuration.
// Load order (later sources override earlier):
//  1. Built-in defaults
//  2. User config (~/.verity/config.yaml) - optional
//  3. Project config (.verity/config.yaml) - optional
//  4. Explicit path, when non-empty
//  5. Environment variables (VERITY_*)
//
// The result is validated before it is returned.
func Load(explicitPath string) (*Config, error) {
	cfg := Default()

	if home, err := os.UserHomeDir(); err == nil {
		userPath := filepath.Join(home, VerityDir, ConfigFileName)
		if _, err := os.Stat(userPath); err == nil {
			if err := mergeFromFile(cfg, userPath); err != nil {
				slog.Warn("failed to load user config", "path", userPath, "error", err)
			}
		}
	}

	projectPath := filepath.Join(VerityDir, ConfigFileName)
	if explicitPath != projectPath {
		if _, err := os.Stat(projectPath); err == nil {
			if err := mergeFromFile(cfg, projectPath); err != nil {
				return nil, err
			}
		}
	}

	if explicitPath != "" {
		if err := mergeFromFile(cfg, explicitPath); err != nil {
			return nil, err
		}
	}

	if paths := ApplyEnvVars(cfg); len(paths) > 0 {
		slog.Debug("config overridden from environment", "paths", paths)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads defaults overlaid with a single file, without consulting
// the environment or the default search paths.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := mergeFromFile(cfg, path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFromFile overlays the keys present in a YAML file onto cfg.
// The role graph and approver list are replaced, not merged, when present.
func mergeFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	if roles, ok := raw["roles"].(map[string]any); ok {
		if _, ok := roles["successors"]; ok {
			cfg.Roles.Successors = nil
		}
		if _, ok := roles["change_request_approvers"]; ok {
			cfg.Roles.ChangeRequestApprovers = nil
		}
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}
