package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Default values applied when a field is absent from the configuration file.
const (
	DefaultDataDir   = "/var/lib/ra"
	DefaultBackend   = "file"
	DefaultChunkSize = 1 << 20 // 1 MiB per outbound snapshot chunk
)

// Config holds process configuration for ra
type Config struct {
	// DataDir is the root under which per-participant snapshot
	// directories live.
	DataDir string `yaml:"dataDir"`

	// Backend selects the snapshot backend: "file" or "bolt".
	Backend string `yaml:"backend"`

	// ChunkSize is the outbound snapshot chunk size in bytes.
	ChunkSize int `yaml:"chunkSize"`

	Log LogConfig `yaml:"log"`

	// MetricsAddr, when set, enables the Prometheus exposition endpoint.
	MetricsAddr string `yaml:"metricsAddr"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns a Config populated with defaults
func Default() *Config {
	return &Config{
		DataDir:   DefaultDataDir,
		Backend:   DefaultBackend,
		ChunkSize: DefaultChunkSize,
		Log:       LogConfig{Level: "info"},
	}
}

// Load reads a YAML configuration file and merges it over the defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for values the process cannot run with
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("dataDir must not be empty")
	}
	if c.Backend != "file" && c.Backend != "bolt" {
		return fmt.Errorf("unknown backend %q (want \"file\" or \"bolt\")", c.Backend)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunkSize must be positive, got %d", c.ChunkSize)
	}
	return nil
}
