package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// ErrConfiguration is returned when a required setting is missing or invalid.
var ErrConfiguration = errors.New("configuration error")

const (
	DefaultPerPage        = 100
	MaxPerPage            = 100
	DefaultRequestTimeout = 30
	DefaultStateKeep      = 100

	StateBackendFile   = "file"
	StateBackendSQLite = "sqlite"
)

type Config struct {
	Domain                string        `json:"domain" yaml:"domain" env:"TAP_AUTH0_DOMAIN"`
	ClientID              string        `json:"non_interactive_client_id" yaml:"non_interactive_client_id" env:"TAP_AUTH0_CLIENT_ID"`
	ClientSecret          string        `json:"non_interactive_client_secret" yaml:"non_interactive_client_secret" env:"TAP_AUTH0_CLIENT_SECRET"`
	PerPage               int           `json:"per_page" yaml:"per_page" env:"TAP_AUTH0_PER_PAGE"`
	StartDate             string        `json:"start_date" yaml:"start_date" env:"TAP_AUTH0_START_DATE"`
	RequestTimeoutSeconds int           `json:"request_timeout_seconds" yaml:"request_timeout_seconds" env:"TAP_AUTH0_REQUEST_TIMEOUT_SECONDS"`
	Logging               LoggingConfig `json:"logging" yaml:"logging"`
	State                 StateConfig   `json:"state" yaml:"state"`
}

type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" env:"TAP_AUTH0_LOG_LEVEL"`
	Format string `json:"format" yaml:"format" env:"TAP_AUTH0_LOG_FORMAT"` // "console" or "json"
	Path   string `json:"path" yaml:"path" env:"TAP_AUTH0_LOG_PATH"`
}

type StateConfig struct {
	Path    string `json:"path" yaml:"path" env:"TAP_AUTH0_STATE_PATH"`
	Backend string `json:"backend" yaml:"backend" env:"TAP_AUTH0_STATE_BACKEND"` // "file" or "sqlite"
	// Keep bounds the sqlite checkpoint history.
	Keep int `json:"keep" yaml:"keep" env:"TAP_AUTH0_STATE_KEEP"`
}

// RequestTimeout is the per-call deadline applied to management API requests.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}

// Load reads a JSON or YAML config file, applies environment overrides and
// defaults, and validates the result.
func Load(path string) (Config, error) {
	path = expandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: read %s: %v", ErrConfiguration, path, err)
	}

	return Parse(data)
}

// Parse builds a Config from raw file contents.
func Parse(data []byte) (Config, error) {
	var cfg Config
	// Singer configs are JSON, which may be tab-indented and so not valid YAML.
	if json.Valid(data) {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: parse: %v", ErrConfiguration, err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parse: %v", ErrConfiguration, err)
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: environment: %v", ErrConfiguration, err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.PerPage == 0 {
		c.PerPage = DefaultPerPage
	}
	if c.RequestTimeoutSeconds == 0 {
		c.RequestTimeoutSeconds = DefaultRequestTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Path != "" {
		c.Logging.Path = expandPath(c.Logging.Path)
	}
	if c.State.Path != "" {
		c.State.Path = expandPath(c.State.Path)
		if c.State.Backend == "" {
			c.State.Backend = StateBackendFile
		}
		if c.State.Keep == 0 {
			c.State.Keep = DefaultStateKeep
		}
	}
	c.Domain = strings.TrimSpace(c.Domain)
}

// Validate checks required fields. start_date is only required when no prior
// bookmark exists, which is decided at extraction time.
func (c Config) Validate() error {
	var missing []string
	if c.Domain == "" {
		missing = append(missing, "domain")
	}
	if c.ClientID == "" {
		missing = append(missing, "non_interactive_client_id")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "non_interactive_client_secret")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required keys: %s", ErrConfiguration, strings.Join(missing, ", "))
	}

	if c.PerPage < 1 || c.PerPage > MaxPerPage {
		return fmt.Errorf("%w: per_page must be between 1 and %d, got %d", ErrConfiguration, MaxPerPage, c.PerPage)
	}
	if c.RequestTimeoutSeconds < 0 {
		return fmt.Errorf("%w: request_timeout_seconds must not be negative", ErrConfiguration)
	}
	if c.StartDate != "" {
		if _, err := time.Parse(time.RFC3339Nano, c.StartDate); err != nil {
			return fmt.Errorf("%w: start_date %q is not RFC 3339", ErrConfiguration, c.StartDate)
		}
	}

	if c.State.Keep < 0 {
		return fmt.Errorf("%w: state.keep must not be negative", ErrConfiguration)
	}

	switch c.State.Backend {
	case "", StateBackendFile, StateBackendSQLite:
	default:
		return fmt.Errorf("%w: unknown state backend %q", ErrConfiguration, c.State.Backend)
	}
	return nil
}
