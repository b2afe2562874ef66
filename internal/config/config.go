// Package config loads the codr server configuration from a structured
// config file, with defaults suitable for local development.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrNoConfig is returned when no codr config file is found.
var ErrNoConfig = errors.New("no codr config file found")

// Config is the parsed codr configuration.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string `yaml:"addr" toml:"addr" json:"addr"`

	// APIKey gates the job-creation endpoint. Empty disables the check.
	APIKey string `yaml:"api_key" toml:"api_key" json:"api_key"`

	// JWTSecret signs job tokens (required in production).
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret" json:"jwt_secret"`

	// DBPath is the SQLite database path. Empty selects the in-memory store.
	DBPath string `yaml:"db_path" toml:"db_path" json:"db_path"`

	// ExecutionTimeoutSec bounds the wall clock of a running program.
	ExecutionTimeoutSec int `yaml:"execution_timeout_sec" toml:"execution_timeout_sec" json:"execution_timeout_sec"`

	// CompilationTimeoutSec bounds the compile step of compiled languages.
	CompilationTimeoutSec int `yaml:"compilation_timeout_sec" toml:"compilation_timeout_sec" json:"compilation_timeout_sec"`

	// MaxMemoryMiB is the address-space limit applied by the sandbox.
	MaxMemoryMiB int `yaml:"max_memory_mib" toml:"max_memory_mib" json:"max_memory_mib"`

	// MaxFileSizeMiB is the file-size limit applied by the sandbox.
	MaxFileSizeMiB int `yaml:"max_file_size_mib" toml:"max_file_size_mib" json:"max_file_size_mib"`

	// MaxCodeBytes bounds submitted source text.
	MaxCodeBytes int `yaml:"max_code_bytes" toml:"max_code_bytes" json:"max_code_bytes"`

	// MaxInputBytes bounds a single interactive input frame.
	MaxInputBytes int `yaml:"max_input_bytes" toml:"max_input_bytes" json:"max_input_bytes"`

	// JobTTLSec is how long a job record lives.
	JobTTLSec int `yaml:"job_ttl_sec" toml:"job_ttl_sec" json:"job_ttl_sec"`

	// TokenTTLSec is the job-token lifetime. Must not exceed JobTTLSec.
	TokenTTLSec int `yaml:"token_ttl_sec" toml:"token_ttl_sec" json:"token_ttl_sec"`

	// PTYChunkBytes is the read size on the PTY master.
	PTYChunkBytes int `yaml:"pty_chunk_bytes" toml:"pty_chunk_bytes" json:"pty_chunk_bytes"`

	// PTYPollIntervalMs is the idle interval of the supervision loop.
	PTYPollIntervalMs int `yaml:"pty_poll_interval_ms" toml:"pty_poll_interval_ms" json:"pty_poll_interval_ms"`

	// SandboxBinary is the sandbox wrapper path. Empty runs commands bare
	// (tests and trusted development only).
	SandboxBinary string `yaml:"sandbox_binary" toml:"sandbox_binary" json:"sandbox_binary"`

	// SandboxProfile is the sandbox profile passed to the wrapper.
	SandboxProfile string `yaml:"sandbox_profile" toml:"sandbox_profile" json:"sandbox_profile"`
}

// Load finds and parses a codr config file from the given directory.
func Load(dir string) (*Config, string, error) {
	candidates := []struct {
		name   string
		parser func([]byte, *Config) error
	}{
		{"codr.yaml", parseYAML},
		{"codr.yml", parseYAML},
		{"codr.toml", parseTOML},
		{"codr.json", parseJSON},
	}

	for _, c := range candidates {
		path := filepath.Join(dir, c.name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue // File doesn't exist, try next
		}

		var cfg Config
		if err := c.parser(data, &cfg); err != nil {
			return nil, c.name, fmt.Errorf("parse %s: %w", c.name, err)
		}

		cfg.applyDefaults()

		if err := cfg.Validate(); err != nil {
			return nil, c.name, fmt.Errorf("validate %s: %w", c.name, err)
		}

		return &cfg, c.name, nil
	}

	return nil, "", ErrNoConfig
}

// Default returns a config with every field at its default value.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func parseYAML(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Strict: error on unknown fields
	return decoder.Decode(cfg)
}

func parseTOML(data []byte, cfg *Config) error {
	_, err := toml.Decode(string(data), cfg)
	return err
}

func parseJSON(data []byte, cfg *Config) error {
	return json.Unmarshal(data, cfg)
}

// Validate checks the config for errors.
func (c *Config) Validate() error {
	if c.ExecutionTimeoutSec <= 0 {
		return errors.New("execution_timeout_sec must be positive")
	}
	if c.CompilationTimeoutSec <= 0 {
		return errors.New("compilation_timeout_sec must be positive")
	}
	if c.MaxCodeBytes <= 0 {
		return errors.New("max_code_bytes must be positive")
	}
	if c.TokenTTLSec > c.JobTTLSec {
		return errors.New("token_ttl_sec must not exceed job_ttl_sec")
	}
	if c.SandboxBinary == "" && c.SandboxProfile != "" {
		return errors.New("sandbox_profile set without sandbox_binary")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ExecutionTimeoutSec == 0 {
		c.ExecutionTimeoutSec = 7
	}
	if c.CompilationTimeoutSec == 0 {
		c.CompilationTimeoutSec = 10
	}
	if c.MaxMemoryMiB == 0 {
		c.MaxMemoryMiB = 300
	}
	if c.MaxFileSizeMiB == 0 {
		c.MaxFileSizeMiB = 1
	}
	if c.MaxCodeBytes == 0 {
		c.MaxCodeBytes = 10240
	}
	if c.MaxInputBytes == 0 {
		c.MaxInputBytes = 10240
	}
	if c.JobTTLSec == 0 {
		c.JobTTLSec = 3600
	}
	if c.TokenTTLSec == 0 {
		c.TokenTTLSec = 120
	}
	if c.PTYChunkBytes == 0 {
		c.PTYChunkBytes = 4096
	}
	if c.PTYPollIntervalMs == 0 {
		c.PTYPollIntervalMs = 10
	}
}
