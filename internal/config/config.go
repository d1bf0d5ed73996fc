package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"gemini-relay/internal/models"
)

const (
	defaultPort    = 8888
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	defaultTimeout = 60 * time.Second
)

// APIKeyEnvVars lists the environment variables consulted for the provider
// secret, in priority order.
var APIKeyEnvVars = []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}

// Config represents the application configuration parsed from YAML.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Gemini     GeminiConfig     `yaml:"gemini"`
	Normalizer NormalizerConfig `yaml:"normalizer"`
	Logging    LoggingConfig    `yaml:"logging"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Audit      AuditConfig      `yaml:"audit"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// GeminiConfig captures upstream routing info. The API key is never read from
// the file; it comes from the process environment at startup.
type GeminiConfig struct {
	APIKey          string            `yaml:"-"`
	BaseURL         string            `yaml:"base_url"`
	DefaultModel    string            `yaml:"default_model"`
	Timeout         time.Duration     `yaml:"timeout"`
	AllowMissingKey bool              `yaml:"allow_missing_key"`
	Models          []string          `yaml:"models"`
	Aliases         map[string]string `yaml:"aliases"`
	Headers         Headers           `yaml:"headers"`
}

// Headers contains additional HTTP headers to send with a provider request.
type Headers map[string]string

// NormalizerConfig selects the contents validation policy.
type NormalizerConfig struct {
	ValidateContents bool `yaml:"validate_contents"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// TelemetryConfig enables file-exported traces and metrics.
type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// AuditConfig points at the SQLite outcome ledger. An empty path disables it.
type AuditConfig struct {
	Path string `yaml:"path"`
}

// Load reads YAML configuration from disk, applies defaults and environment
// overrides, and validates the result. An empty path yields defaults only.
func Load(path string) (Config, error) {
	var cfg Config

	if strings.TrimSpace(path) != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return Config{}, fmt.Errorf("resolve config path: %w", err)
		}

		data, err := os.ReadFile(absPath)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
		}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDotEnv populates the process environment from a dotenv file. A missing
// file is not an error; variables already set are left untouched.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	return nil
}

// LookupAPIKey returns the first non-empty secret from APIKeyEnvVars.
func LookupAPIKey() (key, source string) {
	for _, name := range APIKeyEnvVars {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v, name
		}
	}
	return "", ""
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaultPort
	}
	if strings.TrimSpace(cfg.Gemini.BaseURL) == "" {
		cfg.Gemini.BaseURL = defaultBaseURL
	}
	if strings.TrimSpace(cfg.Gemini.DefaultModel) == "" {
		cfg.Gemini.DefaultModel = models.DefaultModel
	}
	if cfg.Gemini.Timeout == 0 {
		cfg.Gemini.Timeout = defaultTimeout
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 10
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 3
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 28
	}
	if strings.TrimSpace(cfg.Telemetry.Dir) == "" {
		cfg.Telemetry.Dir = "logs"
	}
}

func applyEnvOverrides(cfg *Config) {
	if key, _ := LookupAPIKey(); key != "" {
		cfg.Gemini.APIKey = key
	}
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := strings.TrimSpace(os.Getenv("GEMINI_BASE_URL")); v != "" {
		cfg.Gemini.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("GEMINI_MODEL")); v != "" {
		cfg.Gemini.DefaultModel = v
	}
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}

	if c.Gemini.APIKey == "" && !c.Gemini.AllowMissingKey {
		return fmt.Errorf("gemini api key must be provided via %s", strings.Join(APIKeyEnvVars, " or "))
	}

	u, err := url.Parse(c.Gemini.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("gemini.base_url %q must be an absolute URL", c.Gemini.BaseURL)
	}
	if c.Gemini.Timeout < 0 {
		return fmt.Errorf("gemini.timeout must not be negative, got %s", c.Gemini.Timeout)
	}

	for _, model := range c.Gemini.Models {
		if strings.TrimSpace(model) == "" {
			return errors.New("gemini.models: model id must not be empty")
		}
	}

	for alias, target := range c.Gemini.Aliases {
		if strings.TrimSpace(alias) == "" {
			return errors.New("gemini.aliases: alias name must not be empty")
		}
		if strings.TrimSpace(target) == "" {
			return fmt.Errorf("gemini.aliases: alias %q target must not be empty", alias)
		}
	}

	for headerKey := range c.Gemini.Headers {
		if !isCanonicalHTTPHeader(headerKey) {
			return fmt.Errorf("gemini.headers: %q is not a valid canonical HTTP header", headerKey)
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be one of debug, info, warn, error", c.Logging.Level)
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
