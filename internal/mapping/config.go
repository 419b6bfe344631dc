// Package mapping provides CSV column-alias resolution for catalog imports.
//
// Different upstream systems export the same catalog fields under different
// header names (e.g. "desc" vs "description", "item_code" vs "sku"). This
// package provides configuration loading and resolution to map source-specific
// column headers to the canonical field names the parser expects.
package mapping

import (
	"errors"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/skuflow-io/skuflow/internal/config"
)

// Config holds column alias configuration loaded from .skuflow.yaml.
type Config struct {
	// ColumnAliases maps source-specific column headers to canonical field
	// names. Key is the alias (source header), value is the canonical field.
	//nolint:tagliatelle // snake_case is intentional for YAML config files
	ColumnAliases map[string]string `yaml:"column_aliases"`
}

// DefaultConfigPath is the default location for the skuflow configuration file.
// Uses hidden file format following common tool conventions (.eslintrc, .prettierrc, etc.).
const DefaultConfigPath = ".skuflow.yaml"

// ConfigPathEnvVar is the environment variable name for custom config path.
const ConfigPathEnvVar = "SKUFLOW_CONFIG_PATH"

// LoadConfig loads alias configuration from a YAML file at the given path.
//
// Behavior:
//   - Returns empty config (not error) if file doesn't exist - aliases are optional
//   - Returns empty config + logs warning if YAML is invalid (graceful degradation)
//   - Returns populated config on success
//
// This graceful degradation ensures the worker can start even without aliases
// configured, as column aliasing is an optional feature: the built-in aliases
// (see Resolver) cover the common export formats.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		ColumnAliases: make(map[string]string),
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Missing file is OK - aliases are optional
			slog.Debug("Config file not found, continuing without column aliases",
				slog.String("path", path))

			return cfg, nil
		}

		// Other read errors (permissions, etc.) - log warning and continue
		slog.Warn("Failed to read config file, continuing without column aliases",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return cfg, nil
	}

	// Empty file is valid - just no aliases
	if len(data) == 0 {
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		// Invalid YAML - log warning and continue with empty config
		slog.Warn("Failed to parse config file, continuing without column aliases",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return &Config{ColumnAliases: make(map[string]string)}, nil
	}

	if cfg.ColumnAliases == nil {
		cfg.ColumnAliases = make(map[string]string)
	}

	return cfg, nil
}

// ConfigPath returns the configuration file path, honoring the environment
// variable override.
func ConfigPath() string {
	return config.GetEnvStr(ConfigPathEnvVar, DefaultConfigPath)
}
