// Package config provides configuration loading for the examsync client.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"github.com/examsight/examsync/internal/telemetry"
)

// EnvPrefix is the prefix of environment variables read by the CLI
const EnvPrefix = "EXAMSYNC"

const (
	// DefaultAPIBaseURL is the backend used when api.baseURL is not set
	DefaultAPIBaseURL = "https://api.examsight.app/api/v1"

	// DefaultWebBaseURL is the web application used to open analysis results
	DefaultWebBaseURL = "https://app.examsight.app"

	// DefaultAPITimeout bounds one HTTP request
	DefaultAPITimeout = 30 * time.Second

	// DefaultMaxRetries is the number of retries of idempotent requests
	DefaultMaxRetries = 3

	// DefaultDedupInterval is how long a fetched resource is served without refetching
	DefaultDedupInterval = 2 * time.Second

	// DefaultPollInterval is the revalidation interval while exams are analyzing
	DefaultPollInterval = 2 * time.Second

	// DefaultPageSize is the page size of exam lists
	DefaultPageSize = 20

	// MaxPageSize is the largest page size the backend accepts
	MaxPageSize = 100
)

// Auth backends
const (
	AuthBackendKeyring = "keyring"
	AuthBackendFile    = "file"
)

// configFile is the location searched under the XDG config directories
const configFile = "examsync/config.yaml"

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) && !filepath.IsLocal(realPath) {
			return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	API     APIConfig     `yaml:"api"`
	Web     WebConfig     `yaml:"web"`
	Cache   CacheConfig   `yaml:"cache"`
	Polling PollingConfig `yaml:"polling"`
	Auth    AuthConfig    `yaml:"auth"`

	// PageSize is the default page size of exam lists
	PageSize int `yaml:"pageSize,omitempty"`

	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
}

// APIConfig defines how the backend is reached
type APIConfig struct {
	// BaseURL is the API root including the version path, e.g. "https://api.examsight.app/api/v1"
	BaseURL string `yaml:"baseURL,omitempty"`

	// Timeout bounds one HTTP request (e.g. "30s")
	Timeout string `yaml:"timeout,omitempty"`

	// MaxRetries is how often idempotent requests are retried. Zero disables retries.
	MaxRetries *int `yaml:"maxRetries,omitempty"`
}

// WebConfig defines the web application used to display results
type WebConfig struct {
	BaseURL string `yaml:"baseURL,omitempty"`
}

// CacheConfig defines resource cache settings
type CacheConfig struct {
	// DedupInterval is how long a fetched resource is served before it is refetched (e.g. "2s")
	DedupInterval string `yaml:"dedupInterval,omitempty"`
}

// PollingConfig defines polling settings
type PollingConfig struct {
	// Interval between revalidations while exams are analyzing (e.g. "2s")
	Interval string `yaml:"interval,omitempty"`
}

// AuthConfig defines where the access token is stored
type AuthConfig struct {
	// Backend is "keyring" (default) or "file"
	Backend string `yaml:"backend,omitempty"`

	// File is the token file of the file backend. Defaults to the XDG state directory.
	File string `yaml:"file,omitempty"`
}

// DefaultConfigPath returns the first config.yaml found under the XDG config
// directories. ok is false when there is none.
func DefaultConfigPath() (path string, ok bool) {
	p, err := xdg.SearchConfigFile(configFile)
	if err != nil {
		return "", false
	}
	return p, true
}

// LoadConfig loads and parses configuration from a YAML file. Without a
// path the defaults are returned.
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	var config Config
	if loaderCfg.path != "" {
		data, err := os.ReadFile(loaderCfg.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// GetAPIBaseURL returns the API root without a trailing slash
func (c *Config) GetAPIBaseURL() string {
	if c.API.BaseURL == "" {
		return DefaultAPIBaseURL
	}
	return strings.TrimRight(c.API.BaseURL, "/")
}

// GetAPITimeout returns the request timeout
func (c *Config) GetAPITimeout() time.Duration {
	return durationOr(c.API.Timeout, DefaultAPITimeout)
}

// GetMaxRetries returns the retry count of idempotent requests
func (c *Config) GetMaxRetries() int {
	if c.API.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *c.API.MaxRetries
}

// GetWebBaseURL returns the web application root without a trailing slash
func (c *Config) GetWebBaseURL() string {
	if c.Web.BaseURL == "" {
		return DefaultWebBaseURL
	}
	return strings.TrimRight(c.Web.BaseURL, "/")
}

// GetDedupInterval returns the cache dedup interval
func (c *Config) GetDedupInterval() time.Duration {
	return durationOr(c.Cache.DedupInterval, DefaultDedupInterval)
}

// GetPollInterval returns the polling interval
func (c *Config) GetPollInterval() time.Duration {
	return durationOr(c.Polling.Interval, DefaultPollInterval)
}

// GetAuthBackend returns the token store backend
func (c *Config) GetAuthBackend() string {
	if c.Auth.Backend == "" {
		return AuthBackendKeyring
	}
	return strings.ToLower(c.Auth.Backend)
}

// GetPageSize returns the default page size
func (c *Config) GetPageSize() int {
	if c.PageSize == 0 {
		return DefaultPageSize
	}
	return c.PageSize
}

// durationOr parses value, returning def when it is empty. Values are
// validated on load, so a parse failure cannot happen here.
func durationOr(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	var errs []error

	if err := validateURL("api.baseURL", c.API.BaseURL); err != nil {
		errs = append(errs, err)
	}
	if err := validateURL("web.baseURL", c.Web.BaseURL); err != nil {
		errs = append(errs, err)
	}

	if err := validateDuration("api.timeout", c.API.Timeout, false); err != nil {
		errs = append(errs, err)
	}
	if err := validateDuration("cache.dedupInterval", c.Cache.DedupInterval, true); err != nil {
		errs = append(errs, err)
	}
	if err := validateDuration("polling.interval", c.Polling.Interval, false); err != nil {
		errs = append(errs, err)
	}

	if c.API.MaxRetries != nil && *c.API.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("api.maxRetries must not be negative, got %d", *c.API.MaxRetries))
	}

	switch c.GetAuthBackend() {
	case AuthBackendKeyring, AuthBackendFile:
	default:
		errs = append(errs, fmt.Errorf("auth.backend must be %q or %q, got %q",
			AuthBackendKeyring, AuthBackendFile, c.Auth.Backend))
	}

	if c.PageSize < 0 || c.PageSize > MaxPageSize {
		errs = append(errs, fmt.Errorf("pageSize must be between 1 and %d, got %d", MaxPageSize, c.PageSize))
	}

	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}

	return errors.Join(errs...)
}

func validateURL(field, value string) error {
	if value == "" {
		return nil
	}
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an http or https URL, got %q", field, value)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host, got %q", field, value)
	}
	return nil
}

func validateDuration(field, value string, allowZero bool) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s must be a valid duration (e.g., '2s', '1m'): %w", field, err)
	}
	if d < 0 || (d == 0 && !allowZero) {
		return fmt.Errorf("%s must be positive, got %s", field, value)
	}
	return nil
}
