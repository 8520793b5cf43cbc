// ABOUTME: Configuration loading and parsing for coven-relay
// ABOUTME: Supports YAML and TOML files with environment variable expansion

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DefaultNewThreadPrefix starts a fresh conversation root when a message
// begins with it.
const DefaultNewThreadPrefix = "$"

// Config represents the complete coven-relay configuration
type Config struct {
	Matrix     MatrixConfig     `yaml:"matrix" toml:"matrix"`
	Completion CompletionConfig `yaml:"completion" toml:"completion"`
	Database   DatabaseConfig   `yaml:"database" toml:"database"`
	Bot        BotConfig        `yaml:"bot" toml:"bot"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
}

// MatrixConfig holds Matrix homeserver connection configuration
type MatrixConfig struct {
	Homeserver  string `yaml:"homeserver" toml:"homeserver"`
	UserID      string `yaml:"user_id" toml:"user_id"`
	AccessToken string `yaml:"access_token" toml:"access_token"`
}

// CompletionConfig holds completion API configuration
type CompletionConfig struct {
	BaseURL string `yaml:"base_url" toml:"base_url"`
	APIKey  string `yaml:"api_key" toml:"api_key"`
	Model   string `yaml:"model" toml:"model"`

	// SystemPrompt overrides the default system instruction. A
	// {current_time} placeholder is substituted on every request.
	SystemPrompt string `yaml:"system_prompt" toml:"system_prompt"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// BotConfig holds relay behavior configuration
type BotConfig struct {
	// AdminUserID is the Matrix user allowed to run whitelist commands.
	AdminUserID string `yaml:"admin_user_id" toml:"admin_user_id"`

	// NewThreadPrefix marks a message as a fresh conversation root.
	NewThreadPrefix string `yaml:"new_thread_prefix" toml:"new_thread_prefix"`

	// TypingIndicator shows a typing notification while generating.
	TypingIndicator bool `yaml:"typing_indicator" toml:"typing_indicator"`

	EditInterval time.Duration `yaml:"-" toml:"-"`

	// Raw string value for unmarshaling
	EditIntervalRaw string `yaml:"edit_interval" toml:"edit_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded and duration
// strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Matrix.Homeserver == "" {
		return fmt.Errorf("matrix.homeserver is required")
	}
	if c.Matrix.UserID == "" {
		return fmt.Errorf("matrix.user_id is required")
	}
	if c.Matrix.AccessToken == "" {
		return fmt.Errorf("matrix.access_token is required")
	}

	if c.Completion.BaseURL == "" {
		return fmt.Errorf("completion.base_url is required")
	}
	if c.Completion.Model == "" {
		return fmt.Errorf("completion.model is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	return nil
}

// applyDefaults fills in optional fields left empty by the config file.
func applyDefaults(cfg *Config) {
	if cfg.Bot.NewThreadPrefix == "" {
		cfg.Bot.NewThreadPrefix = DefaultNewThreadPrefix
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Bot.EditIntervalRaw != "" {
		cfg.Bot.EditInterval, err = time.ParseDuration(cfg.Bot.EditIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing edit_interval %q: %w", cfg.Bot.EditIntervalRaw, err)
		}
	}

	return nil
}
