package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultIndexURL is where the latest AllTheBacteria file list lives.
const DefaultIndexURL = "https://osf.io/download/4yv85/"

// Config defines configuration for the atbfetch CLI.
type Config struct {
	Index           string      `yaml:"index"`     // local index path (TSV or TSV.gz)
	IndexURL        string      `yaml:"index_url"` // where to download the index from
	Species         string      `yaml:"species"`   // case-insensitive species regexp
	Output          string      `yaml:"output"`    // output root: directory or bucket URL
	ArchiveDir      string      `yaml:"archive_dir"`
	Jobs            int         `yaml:"jobs"`
	StripComponents int         `yaml:"strip_components"`
	DeleteArchives  bool        `yaml:"delete_archives"`
	Progress        bool        `yaml:"progress"`
	Preview         int         `yaml:"preview"`
	Retry           RetryConfig `yaml:"retry"`
}

// RetryConfig defines retry behavior for archive downloads.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		IndexURL:        DefaultIndexURL,
		Output:          "assemblies",
		ArchiveDir:      "archives",
		Jobs:            4,
		StripComponents: 1,
		Preview:         5,
		Retry: RetryConfig{
			Attempts:   3,
			Backoff:    time.Second,
			MaxBackoff: 30 * time.Second,
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string durations.
type yamlConfig struct {
	Index           string          `yaml:"index"`
	IndexURL        string          `yaml:"index_url"`
	Species         string          `yaml:"species"`
	Output          string          `yaml:"output"`
	ArchiveDir      string          `yaml:"archive_dir"`
	Jobs            int             `yaml:"jobs"`
	StripComponents *int            `yaml:"strip_components"`
	DeleteArchives  bool            `yaml:"delete_archives"`
	Progress        bool            `yaml:"progress"`
	Preview         int             `yaml:"preview"`
	Retry           yamlRetryConfig `yaml:"retry"`
}

type yamlRetryConfig struct {
	Attempts   int    `yaml:"attempts"`
	Backoff    string `yaml:"backoff"`
	MaxBackoff string `yaml:"max_backoff"`
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.Index != "" {
		cfg.Index = yc.Index
	}
	if yc.IndexURL != "" {
		cfg.IndexURL = yc.IndexURL
	}
	if yc.Species != "" {
		cfg.Species = yc.Species
	}
	if yc.Output != "" {
		cfg.Output = yc.Output
	}
	if yc.ArchiveDir != "" {
		cfg.ArchiveDir = yc.ArchiveDir
	}
	if yc.Jobs != 0 {
		cfg.Jobs = yc.Jobs
	}
	if yc.StripComponents != nil {
		cfg.StripComponents = *yc.StripComponents
	}
	cfg.DeleteArchives = yc.DeleteArchives
	cfg.Progress = yc.Progress
	if yc.Preview != 0 {
		cfg.Preview = yc.Preview
	}
	if yc.Retry.Attempts != 0 {
		cfg.Retry.Attempts = yc.Retry.Attempts
	}
	if yc.Retry.Backoff != "" {
		d, err := time.ParseDuration(yc.Retry.Backoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.backoff: %w", err)
		}
		cfg.Retry.Backoff = d
	}
	if yc.Retry.MaxBackoff != "" {
		d, err := time.ParseDuration(yc.Retry.MaxBackoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.max_backoff: %w", err)
		}
		cfg.Retry.MaxBackoff = d
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the ATBFETCH_ prefix.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("ATBFETCH_INDEX"); v != "" {
		c.Index = v
	}
	if v := os.Getenv("ATBFETCH_INDEX_URL"); v != "" {
		c.IndexURL = v
	}
	if v := os.Getenv("ATBFETCH_SPECIES"); v != "" {
		c.Species = v
	}
	if v := os.Getenv("ATBFETCH_OUTPUT"); v != "" {
		c.Output = v
	}
	if v := os.Getenv("ATBFETCH_ARCHIVE_DIR"); v != "" {
		c.ArchiveDir = v
	}
	if v := os.Getenv("ATBFETCH_JOBS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse ATBFETCH_JOBS: %w", err)
		}
		c.Jobs = n
	}
	if v := os.Getenv("ATBFETCH_STRIP_COMPONENTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse ATBFETCH_STRIP_COMPONENTS: %w", err)
		}
		c.StripComponents = n
	}
	if v := os.Getenv("ATBFETCH_DELETE_ARCHIVES"); v != "" {
		c.DeleteArchives = v == "true" || v == "1"
	}
	if v := os.Getenv("ATBFETCH_PROGRESS"); v != "" {
		c.Progress = v == "true" || v == "1"
	}
	if v := os.Getenv("ATBFETCH_PREVIEW"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse ATBFETCH_PREVIEW: %w", err)
		}
		c.Preview = n
	}
	if v := os.Getenv("ATBFETCH_RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse ATBFETCH_RETRY_ATTEMPTS: %w", err)
		}
		c.Retry.Attempts = n
	}
	if v := os.Getenv("ATBFETCH_RETRY_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse ATBFETCH_RETRY_BACKOFF: %w", err)
		}
		c.Retry.Backoff = d
	}
	if v := os.Getenv("ATBFETCH_RETRY_MAX_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse ATBFETCH_RETRY_MAX_BACKOFF: %w", err)
		}
		c.Retry.MaxBackoff = d
	}

	return nil
}

// Validate checks that a fetch invocation has everything it needs.
func (c *Config) Validate() error {
	if c.Species == "" {
		return errors.New("config: species is required")
	}
	if c.Index == "" {
		return errors.New("config: index is required")
	}
	if c.Output == "" {
		return errors.New("config: output is required")
	}
	if c.Jobs <= 0 {
		return errors.New("config: jobs must be positive")
	}
	if c.StripComponents < 0 {
		return errors.New("config: strip_components must not be negative")
	}
	if c.Retry.Attempts <= 0 {
		return errors.New("config: retry.attempts must be positive")
	}
	return nil
}
