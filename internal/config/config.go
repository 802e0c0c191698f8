// Package config loads .agentspec.yaml and applies environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file looked up in the working directory.
const DefaultPath = ".agentspec.yaml"

// Config represents the .agentspec.yaml configuration. API keys are never
// read from the file; providers take them from the environment.
type Config struct {
	LLM              LLMConfig     `yaml:"llm"`
	Style            string        `yaml:"style"`
	ImportScope      string        `yaml:"import_scope"`
	SummarizeChanges bool          `yaml:"summarize_changes"`
	History          HistoryConfig `yaml:"history"`
	FileConcurrency  int           `yaml:"file_concurrency"`
	// Ignore holds extra gitignore-style patterns applied during discovery.
	Ignore []string `yaml:"ignore"`
}

// LLMConfig selects the provider and bounds its use.
type LLMConfig struct {
	Provider          string        `yaml:"provider"`
	Model             string        `yaml:"model"`
	BaseURL           string        `yaml:"base_url"`
	MaxTokens         int           `yaml:"max_tokens"`
	Temperature       float64       `yaml:"temperature"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	Concurrency       int           `yaml:"concurrency"`
	Retry             RetryConfig   `yaml:"retry"`
}

// RetryConfig is the backoff policy for transient provider failures.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Multiplier  float64       `yaml:"multiplier"`
}

// HistoryConfig controls git history collection.
type HistoryConfig struct {
	Limit       int `yaml:"limit"`
	Concurrency int `yaml:"concurrency"` // per repository root
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:          "anthropic",
			MaxTokens:         1024,
			Temperature:       0.2,
			Timeout:           60 * time.Second,
			RequestsPerMinute: 50,
			Concurrency:       4,
			Retry: RetryConfig{
				MaxAttempts: 4,
				BaseDelay:   time.Second,
				MaxDelay:    30 * time.Second,
				Multiplier:  2,
			},
		},
		Style:       "full",
		ImportScope: "module",
		History: HistoryConfig{
			Limit:       5,
			Concurrency: 2,
		},
		FileConcurrency: 4,
	}
}

// Load reads a configuration file from the given path.
// Missing fields are filled with defaults; unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Resolve builds the effective configuration: .env is loaded into the
// environment, then the config file, then AGENTSPEC_* overrides. A missing
// file is an error only when explicit is set.
func Resolve(path string, explicit bool) (*Config, error) {
	// 1. Load .env if exists
	_ = godotenv.Load()

	// 2. Load YAML config
	if path == "" {
		path = DefaultPath
	}
	cfg, err := Load(path)
	if err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		cfg = Default()
	}

	// 3. Override with Environment Variables if present
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("AGENTSPEC_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("AGENTSPEC_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("AGENTSPEC_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
}

func (c *Config) fillDefaults() {
	d := Default()
	if c.LLM.Provider == "" {
		c.LLM.Provider = d.LLM.Provider
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = d.LLM.MaxTokens
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = d.LLM.Timeout
	}
	if c.LLM.Concurrency == 0 {
		c.LLM.Concurrency = d.LLM.Concurrency
	}
	if c.LLM.Retry.MaxAttempts == 0 {
		c.LLM.Retry = d.LLM.Retry
	}
	if c.Style == "" {
		c.Style = d.Style
	}
	if c.ImportScope == "" {
		c.ImportScope = d.ImportScope
	}
	if c.History.Concurrency == 0 {
		c.History.Concurrency = d.History.Concurrency
	}
	if c.FileConcurrency == 0 {
		c.FileConcurrency = d.FileConcurrency
	}
}

// Validate rejects values no run can use.
func (c *Config) Validate() error {
	switch {
	case c.LLM.MaxTokens < 0:
		return fmt.Errorf("llm.max_tokens must not be negative")
	case c.LLM.Temperature < 0 || c.LLM.Temperature > 2:
		return fmt.Errorf("llm.temperature must be between 0 and 2")
	case c.LLM.Concurrency < 0 || c.FileConcurrency < 0 || c.History.Concurrency < 0:
		return fmt.Errorf("concurrency limits must not be negative")
	case c.LLM.RequestsPerMinute < 0:
		return fmt.Errorf("llm.requests_per_minute must not be negative")
	case c.LLM.Retry.MaxAttempts < 0:
		return fmt.Errorf("llm.retry.max_attempts must not be negative")
	case c.History.Limit < 0:
		return fmt.Errorf("history.limit must not be negative")
	case c.ImportScope != "module" && c.ImportScope != "referenced":
		return fmt.Errorf("import_scope must be module or referenced, got %q", c.ImportScope)
	}
	return nil
}
