// Package config loads and validates DevAC pipeline configuration from
// .devac/config.yaml. Missing files yield defaults; malformed files are an
// error, never silently ignored.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all DevAC pipeline configuration.
type Config struct {
	// Identity of the code under analysis.
	Repo    string `yaml:"repo"`
	Package string `yaml:"package"`
	Branch  string `yaml:"branch"`

	// Extraction settings.
	Extraction ExtractionConfig `yaml:"extraction"`

	// Partition store settings.
	Store StoreConfig `yaml:"store"`

	// Rule classifier settings.
	Rules RulesConfig `yaml:"rules"`

	// Logging.
	Logging LoggingConfig `yaml:"logging"`
}

// ExtractionConfig configures the AST extractor.
type ExtractionConfig struct {
	// Parallelism bounds concurrent per-file extractions. Zero means
	// one worker per CPU.
	Parallelism int `yaml:"parallelism"`
	// IncludeGlobs filters which files are extracted.
	IncludeGlobs []string `yaml:"include_globs"`
	// ExcludeDirs are directory names skipped during file discovery.
	ExcludeDirs []string `yaml:"exclude_dirs"`
}

// StoreConfig configures the partition store.
type StoreConfig struct {
	// Root directory holding partition directories.
	Root string `yaml:"root"`
	// LockTimeout bounds how long a writer waits for the partition lock.
	LockTimeout string `yaml:"lock_timeout"`
	// LockRetryInterval is the poll interval while waiting for the lock.
	LockRetryInterval string `yaml:"lock_retry_interval"`
}

// RulesConfig configures the rule classifier.
type RulesConfig struct {
	// Path to the YAML rule set.
	Path string `yaml:"path"`
}

// LoggingConfig configures categorized debug logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
}

// DefaultConfig returns the configuration used when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Branch: "base",
		Extraction: ExtractionConfig{
			Parallelism:  runtime.NumCPU(),
			IncludeGlobs: []string{"*.py", "*.pyw"},
			ExcludeDirs:  []string{".git", ".devac", "__pycache__", "node_modules", ".venv", "venv"},
		},
		Store: StoreConfig{
			Root:              ".devac/partitions",
			LockTimeout:       "10s",
			LockRetryInterval: "50ms",
		},
		Rules: RulesConfig{
			Path: ".devac/rules.yaml",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. A missing file returns
// defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks for configuration values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Branch == "" {
		return fmt.Errorf("branch must not be empty")
	}
	if c.Extraction.Parallelism < 0 {
		return fmt.Errorf("extraction.parallelism must not be negative")
	}
	if _, err := time.ParseDuration(c.Store.LockTimeout); c.Store.LockTimeout != "" && err != nil {
		return fmt.Errorf("store.lock_timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.Store.LockRetryInterval); c.Store.LockRetryInterval != "" && err != nil {
		return fmt.Errorf("store.lock_retry_interval: %w", err)
	}
	return nil
}

// GetLockTimeout parses the lock timeout, falling back to 10s.
func (c *Config) GetLockTimeout() time.Duration {
	d, err := time.ParseDuration(c.Store.LockTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// GetLockRetryInterval parses the lock retry interval, falling back to 50ms.
func (c *Config) GetLockRetryInterval() time.Duration {
	d, err := time.ParseDuration(c.Store.LockRetryInterval)
	if err != nil || d <= 0 {
		return 50 * time.Millisecond
	}
	return d
}

// GetParallelism returns the extraction worker count, at least one.
func (c *Config) GetParallelism() int {
	if c.Extraction.Parallelism <= 0 {
		return runtime.NumCPU()
	}
	return c.Extraction.Parallelism
}
