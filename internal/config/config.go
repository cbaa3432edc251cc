// Package config loads the settings of the docstore command from a YAML file
// kept in the data directory.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/maruel/docstore/internal/docstore"
)

// FileName is the config file name inside the data directory. It starts with a
// dot so it is never listed as a document.
const FileName = ".docstore.yaml"

// Config is the complete docstore configuration.
type Config struct {
	LogLevel string        `yaml:"log_level"`
	Lock     LockConfig    `yaml:"lock"`
	History  HistoryConfig `yaml:"history"`
}

// LockConfig holds lock acquisition timing.
type LockConfig struct {
	Timeout       time.Duration `yaml:"-"`
	RetryInterval time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	TimeoutRaw       string `yaml:"timeout"`
	RetryIntervalRaw string `yaml:"retry_interval"`
}

// HistoryConfig controls git-backed document history.
type HistoryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	AuthorName  string `yaml:"author_name"`
	AuthorEmail string `yaml:"author_email"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Lock: LockConfig{
			Timeout:          docstore.DefaultLockTimeout,
			RetryInterval:    docstore.DefaultRetryInterval,
			TimeoutRaw:       docstore.DefaultLockTimeout.String(),
			RetryIntervalRaw: docstore.DefaultRetryInterval.String(),
		},
		History: HistoryConfig{
			AuthorName:  "docstore",
			AuthorEmail: "docstore@localhost",
		},
	}
}

// LockOptions converts the lock settings for docstore.
func (c *Config) LockOptions() docstore.LockOptions {
	return docstore.LockOptions{Timeout: c.Lock.Timeout, RetryInterval: c.Lock.RetryInterval}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	if c.Lock.Timeout <= 0 {
		return errors.New("lock.timeout must be positive")
	}
	if c.Lock.RetryInterval <= 0 {
		return errors.New("lock.retry_interval must be positive")
	}
	if c.Lock.RetryInterval > c.Lock.Timeout {
		return errors.New("lock.retry_interval must not exceed lock.timeout")
	}
	return nil
}

// Load reads dataDir/.docstore.yaml, creating it with defaults if missing.
// Environment variables written as ${VAR_NAME} are expanded.
func Load(dataDir string) (*Config, error) {
	path := filepath.Join(dataDir, FileName)
	cfg := Default()
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is constructed from dataDir, not user input
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", FileName, err)
		}
		if err := cfg.Save(dataDir); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", FileName, err)
	}
	if err := cfg.parseDurations(); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", FileName, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", FileName, err)
	}
	return cfg, nil
}

// Save writes the configuration to dataDir/.docstore.yaml.
func (c *Config) Save(dataDir string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	c.Lock.TimeoutRaw = c.Lock.Timeout.String()
	c.Lock.RetryIntervalRaw = c.Lock.RetryInterval.String()
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, FileName), data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", FileName, err)
	}
	return nil
}

func (c *Config) parseDurations() error {
	var err error
	if c.Lock.TimeoutRaw != "" {
		if c.Lock.Timeout, err = time.ParseDuration(c.Lock.TimeoutRaw); err != nil {
			return fmt.Errorf("parsing lock.timeout %q: %w", c.Lock.TimeoutRaw, err)
		}
	}
	if c.Lock.RetryIntervalRaw != "" {
		if c.Lock.RetryInterval, err = time.ParseDuration(c.Lock.RetryIntervalRaw); err != nil {
			return fmt.Errorf("parsing lock.retry_interval %q: %w", c.Lock.RetryIntervalRaw, err)
		}
	}
	return nil
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} with the variable's value, or nothing if
// unset.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarRe.FindStringSubmatch(match)[1])
	})
}
