package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration parsed from YAML.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Vendor  VendorConfig  `yaml:"vendor"`
	Engines EnginesConfig `yaml:"engines"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// VendorConfig captures connection details for the insight platform.
type VendorConfig struct {
	BaseURL string  `yaml:"base_url"`
	APIKey  string  `yaml:"api_key"`
	Headers Headers `yaml:"headers"`
}

// Headers contains additional HTTP headers to send with vendor requests.
type Headers map[string]string

// EnginesConfig tunes model-name resolution.
type EnginesConfig struct {
	DefaultModel string            `yaml:"default_model"`
	Aliases      map[string]string `yaml:"aliases"`
}

// Load reads YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}

	if strings.TrimSpace(c.Vendor.BaseURL) == "" {
		return fmt.Errorf("vendor.base_url must be provided")
	}

	for headerKey := range c.Vendor.Headers {
		if !isCanonicalHTTPHeader(headerKey) {
			return fmt.Errorf("vendor: header %q is not a valid canonical HTTP header", headerKey)
		}
	}

	for alias, target := range c.Engines.Aliases {
		if strings.TrimSpace(alias) == "" {
			return fmt.Errorf("engines: alias name must not be empty")
		}
		if strings.TrimSpace(target) == "" {
			return fmt.Errorf("engines: alias %q target must not be empty", alias)
		}
	}

	return nil
}

func isCanonicalHTTPHeader(header string) bool {
	if header == "" {
		return false
	}

	for _, r := range header {
		if !(r == '-' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')) {
			return false
		}
	}
	return true
}
