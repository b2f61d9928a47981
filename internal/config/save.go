package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultPathTarget selects the user config file for WriteTo.
const DefaultPathTarget = "default"

const fileHeader = "# nativegfx configuration\n"

// DefaultPath is the config file Load reads when no --config is given and
// ./config.yaml is absent.
func DefaultPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// Save writes the config to DefaultPath.
func (c *Config) Save() error {
	return c.SaveTo(DefaultPath())
}

// SaveTo writes the config to path, creating parent directories.
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(fileHeader), data...), 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// WriteTo saves the effective config for --write-config and returns the
// path written. DefaultPathTarget means DefaultPath.
func (c *Config) WriteTo(target string) (string, error) {
	path := target
	if target == DefaultPathTarget {
		path = DefaultPath()
	}
	if err := c.Validate(); err != nil {
		return "", fmt.Errorf("refusing to write invalid config: %w", err)
	}
	return path, c.SaveTo(path)
}
