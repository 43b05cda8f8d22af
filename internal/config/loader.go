package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config,
// defaults. Missing files are not errors; malformed JSON is.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}
	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}
	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.coordinator/config.json
// Project: .coordinator/config.json (relative to cwd)
func LoadDefault() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	globalPath := filepath.Join(homeDir, ".coordinator", "config.json")
	projectPath := filepath.Join(".coordinator", "config.json")
	return Load(globalPath, projectPath)
}

// mergeConfigFile reads a JSON config file and overlays its non-zero fields
// onto the base config. Missing files are silently skipped.
func mergeConfigFile(base *Config, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if loaded.LockTTLMinutes > 0 {
		base.LockTTLMinutes = loaded.LockTTLMinutes
	}
	if loaded.StaleThresholdMinutes > 0 {
		base.StaleThresholdMinutes = loaded.StaleThresholdMinutes
	}
	if loaded.SweepIntervalMinutes > 0 {
		base.SweepIntervalMinutes = loaded.SweepIntervalMinutes
	}
	if loaded.HeartbeatSeconds > 0 {
		base.HeartbeatSeconds = loaded.HeartbeatSeconds
	}
	if loaded.DatabasePath != "" {
		base.DatabasePath = loaded.DatabasePath
	}
	if loaded.TaskDir != "" {
		base.TaskDir = loaded.TaskDir
	}
	return nil
}
