// Package config loads stagehand configuration from .stagehand/config.yaml
// with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all stagehand configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM generation backend
	LLM LLMConfig `yaml:"llm"`

	// Provider rate limits (the four budget tiers)
	Limits LimitsConfig `yaml:"limits"`

	// Narrative library
	Library LibraryConfig `yaml:"library"`

	// Storage (executions, act output tables)
	Storage StorageConfig `yaml:"storage"`

	// Media storage for media_ref inputs
	Media MediaConfig `yaml:"media"`

	// Execution behavior
	Execution ExecutionConfig `yaml:"execution"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the generation backend.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // gemini, openai
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	Timeout     string  `yaml:"timeout"`
	MaxRetries  int     `yaml:"max_retries"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// LimitsConfig configures provider rate limits across the four tiers.
type LimitsConfig struct {
	RequestsPerMinute int64 `yaml:"requests_per_minute"`
	TokensPerMinute   int64 `yaml:"tokens_per_minute"`
	RequestsPerDay    int64 `yaml:"requests_per_day"`
	TokensPerDay      int64 `yaml:"tokens_per_day"`
}

// LibraryConfig configures the narrative document library.
type LibraryConfig struct {
	Path  string `yaml:"path"`  // Directory of narrative YAML documents
	Watch bool   `yaml:"watch"` // Hot-reload on file changes
}

// StorageConfig configures the SQLite content store.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// MediaConfig configures local media storage.
type MediaConfig struct {
	Path string `yaml:"path"`
}

// ExecutionConfig configures executor behavior.
type ExecutionConfig struct {
	InputSeparator string `yaml:"input_separator"` // Joins resolved inputs
	FailurePolicy  string `yaml:"failure_policy"`  // abort or continue
	MaxDepth       int    `yaml:"max_depth"`       // Nested narrative recursion cap
}

// LoggingConfig configures categorized debug logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "stagehand",
		Version: "0.3.0",

		LLM: LLMConfig{
			Provider:    "gemini",
			Model:       "gemini-2.0-flash",
			Timeout:     "120s",
			MaxRetries:  2,
			Temperature: 0.7,
			MaxTokens:   4096,
		},

		Limits: LimitsConfig{
			RequestsPerMinute: 15,
			TokensPerMinute:   250000,
			RequestsPerDay:    1500,
			TokensPerDay:      3000000,
		},

		Library: LibraryConfig{
			Path:  "narratives",
			Watch: true,
		},

		Storage: StorageConfig{
			DatabasePath: ".stagehand/stagehand.db",
			MaxOpenConns: 8,
		},

		Media: MediaConfig{
			Path: "media",
		},

		Execution: ExecutionConfig{
			InputSeparator: "\n\n",
			FailurePolicy:  "abort",
			MaxDepth:       8,
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults when
// the file does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// LoadWorkspace loads the config from <workspace>/.stagehand/config.yaml.
func LoadWorkspace(workspace string) (*Config, error) {
	return Load(filepath.Join(workspace, ".stagehand", "config.yaml"))
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

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// API key from environment (check in priority order)
	if key := os.Getenv("STAGEHAND_API_KEY"); key != "" {
		c.LLM.APIKey = key
	} else if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
	} else if key := os.Getenv("OPENAI_API_KEY"); key != "" && c.LLM.Provider == "openai" {
		c.LLM.APIKey = key
	}

	if model := os.Getenv("STAGEHAND_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if path := os.Getenv("STAGEHAND_DB"); path != "" {
		c.Storage.DatabasePath = path
	}
	if path := os.Getenv("STAGEHAND_LIBRARY"); path != "" {
		c.Library.Path = path
	}
	if v := os.Getenv("STAGEHAND_DEBUG"); v != "" {
		if debug, err := strconv.ParseBool(v); err == nil {
			c.Logging.DebugMode = debug
		}
	}
}

// GetLLMTimeout parses the LLM timeout duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// Validate checks config invariants.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("unknown llm provider: %q", c.LLM.Provider)
	}

	if c.Limits.RequestsPerMinute <= 0 || c.Limits.TokensPerMinute <= 0 ||
		c.Limits.RequestsPerDay <= 0 || c.Limits.TokensPerDay <= 0 {
		return fmt.Errorf("all rate limit tiers must be positive")
	}

	switch c.Execution.FailurePolicy {
	case "abort", "continue":
	default:
		return fmt.Errorf("execution.failure_policy must be abort or continue, got %q", c.Execution.FailurePolicy)
	}

	if c.Storage.MaxOpenConns < 1 {
		return fmt.Errorf("storage.max_open_conns must be >= 1")
	}

	return nil
}
