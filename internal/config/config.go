// Package config handles configuration parsing for synology-mcp.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/acolita/synology-mcp/internal/ports"
	"github.com/acolita/synology-mcp/internal/synoapi"
)

// Environment variables that override the file.
const (
	EnvURL       = "SYNOLOGY_URL"
	EnvUsername  = "SYNOLOGY_USERNAME"
	EnvPassword  = "SYNOLOGY_PASSWORD"
	EnvAutoLogin = "AUTO_LOGIN"
	EnvLogLevel  = "LOG_LEVEL"
)

// EnvEndpointName names the endpoint defined by SYNOLOGY_URL.
const EnvEndpointName = "default"

// DefaultConfigPath returns the default config file path:
// $XDG_CONFIG_HOME/synology-mcp/config.yaml or ~/.config/synology-mcp/config.yaml
func DefaultConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "synology-mcp", "config.yaml")
}

// Config represents the top-level configuration.
type Config struct {
	Endpoints       []EndpointConfig `yaml:"endpoints"`
	DefaultEndpoint string           `yaml:"default_endpoint,omitempty"`
	Session         SessionConfig    `yaml:"session"`
	HTTP            HTTPConfig       `yaml:"http"`
	Tasks           TasksConfig      `yaml:"tasks"`
	Files           FilesConfig      `yaml:"files"`
	Downloads       DownloadsConfig  `yaml:"downloads"`
	Security        SecurityConfig   `yaml:"security"`
	Logging         LoggingConfig    `yaml:"logging"`
}

// EndpointConfig defines one NAS.
type EndpointConfig struct {
	Name          string `yaml:"name"`
	URL           string `yaml:"url"`
	Username      string `yaml:"username,omitempty"`
	PasswordEnv   string `yaml:"password_env,omitempty"` // env var containing the password
	UseKeyring    bool   `yaml:"use_keyring,omitempty"`  // fall back to the OS keyring
	AutoLogin     bool   `yaml:"auto_login,omitempty"`
	TLSSkipVerify *bool  `yaml:"tls_skip_verify,omitempty"` // nil means skip (self-signed DSM certificates)

	// FromEnv marks the endpoint built from SYNOLOGY_URL; it is never saved.
	FromEnv bool `yaml:"-"`
}

// SkipVerify reports whether TLS certificate checks are disabled.
func (e EndpointConfig) SkipVerify() bool {
	return e.TLSSkipVerify == nil || *e.TLSSkipVerify
}

// SessionConfig defines login settings.
type SessionConfig struct {
	Name      string `yaml:"name"`       // DSM session name sent at login
	StatePath string `yaml:"state_path"` // persisted endpoint state; empty means the cache dir
}

// HTTPConfig defines transport settings.
type HTTPConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// TasksConfig defines the async task policy.
type TasksConfig struct {
	PollInterval  time.Duration `yaml:"poll_interval"`
	MoveTimeout   time.Duration `yaml:"move_timeout"`
	DeleteTimeout time.Duration `yaml:"delete_timeout"`
	SearchTimeout time.Duration `yaml:"search_timeout"` // 0 means unbounded
}

// FilesConfig defines File Station settings.
type FilesConfig struct {
	ProtectedPaths []string `yaml:"protected_paths"` // extra doublestar globs refused by delete
}

// DownloadsConfig defines Download Station settings.
type DownloadsConfig struct {
	PreferredDestination string `yaml:"preferred_destination"`
}

// SecurityConfig defines security settings.
type SecurityConfig struct {
	MaxAuthFailures     int           `yaml:"max_auth_failures"`     // Max failed logins before lockout
	AuthLockoutDuration time.Duration `yaml:"auth_lockout_duration"` // Duration of auth lockout
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level    string `yaml:"level"`    // "debug", "info", "warn", "error"
	Sanitize bool   `yaml:"sanitize"` // sanitize sensitive data from logs
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Session: SessionConfig{
			Name: "FileStation",
		},
		HTTP: HTTPConfig{
			Timeout: 30 * time.Second,
		},
		Tasks: TasksConfig{
			PollInterval:  500 * time.Millisecond,
			MoveTimeout:   60 * time.Second,
			DeleteTimeout: 120 * time.Second,
		},
		Downloads: DownloadsConfig{
			PreferredDestination: "downloads",
		},
		Security: SecurityConfig{
			MaxAuthFailures:     3,
			AuthLockoutDuration: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Sanitize: true,
		},
	}
}

// Load loads configuration from a YAML file and applies environment overrides.
// An optional FileSystem can be passed for testing; if omitted, the real OS is used.
func Load(path string, fsys ...ports.FileSystem) (*Config, error) {
	cfg := DefaultConfig()

	var fs ports.FileSystem
	if len(fsys) > 0 && fsys[0] != nil {
		fs = fsys[0]
	}
	getenv := os.Getenv
	if fs != nil {
		getenv = fs.Getenv
	}

	if path != "" {
		var data []byte
		var err error
		if fs != nil {
			data, err = fs.ReadFile(path)
		} else {
			data, err = os.ReadFile(path)
		}
		switch {
		case errors.Is(err, os.ErrNotExist):
			// File doesn't exist yet; config_add will create it.
		case err != nil:
			return nil, fmt.Errorf("read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	cfg.ApplyEnv(getenv)
	return cfg, nil
}

// ApplyEnv applies the environment overrides. SYNOLOGY_URL defines or
// replaces the endpoint named "default".
func (c *Config) ApplyEnv(getenv func(string) string) {
	if level := strings.TrimSpace(getenv(EnvLogLevel)); level != "" {
		c.Logging.Level = strings.ToLower(level)
	}

	url := strings.TrimSpace(getenv(EnvURL))
	if url == "" {
		return
	}

	ep := EndpointConfig{Name: EnvEndpointName, URL: url, FromEnv: true}
	idx := -1
	for i := range c.Endpoints {
		if c.Endpoints[i].Name == EnvEndpointName {
			idx = i
			ep = c.Endpoints[i]
			ep.URL = url
			ep.FromEnv = true
			break
		}
	}
	if user := strings.TrimSpace(getenv(EnvUsername)); user != "" {
		ep.Username = user
	}
	if getenv(EnvPassword) != "" {
		ep.PasswordEnv = EnvPassword
	}
	if v, err := strconv.ParseBool(strings.TrimSpace(getenv(EnvAutoLogin))); err == nil {
		ep.AutoLogin = v
	}

	if idx >= 0 {
		c.Endpoints[idx] = ep
	} else {
		c.Endpoints = append(c.Endpoints, ep)
	}
	if c.DefaultEndpoint == "" {
		c.DefaultEndpoint = EnvEndpointName
	}
}

// Validate validates the configuration, filling zero values with defaults.
func (c *Config) Validate() error {
	defaults := DefaultConfig()

	switch strings.ToLower(c.Logging.Level) {
	case "":
		c.Logging.Level = defaults.Logging.Level
	case "debug", "info", "warn", "error":
		c.Logging.Level = strings.ToLower(c.Logging.Level)
	default:
		return fmt.Errorf("invalid logging level %q (expected debug, info, warn or error)", c.Logging.Level)
	}

	if c.Session.Name == "" {
		c.Session.Name = defaults.Session.Name
	}
	if c.HTTP.Timeout <= 0 {
		c.HTTP.Timeout = defaults.HTTP.Timeout
	}
	if c.Tasks.PollInterval <= 0 {
		c.Tasks.PollInterval = defaults.Tasks.PollInterval
	}
	if c.Tasks.MoveTimeout <= 0 {
		c.Tasks.MoveTimeout = defaults.Tasks.MoveTimeout
	}
	if c.Tasks.DeleteTimeout <= 0 {
		c.Tasks.DeleteTimeout = defaults.Tasks.DeleteTimeout
	}
	if c.Tasks.SearchTimeout < 0 {
		return fmt.Errorf("tasks.search_timeout must not be negative")
	}
	if c.Downloads.PreferredDestination == "" {
		c.Downloads.PreferredDestination = defaults.Downloads.PreferredDestination
	}
	if c.Security.MaxAuthFailures <= 0 {
		c.Security.MaxAuthFailures = defaults.Security.MaxAuthFailures
	}
	if c.Security.AuthLockoutDuration <= 0 {
		c.Security.AuthLockoutDuration = defaults.Security.AuthLockoutDuration
	}

	for _, p := range c.Files.ProtectedPaths {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid protected path pattern %q", p)
		}
	}

	seen := make(map[string]bool, len(c.Endpoints))
	for i, ep := range c.Endpoints {
		if ep.Name == "" {
			return fmt.Errorf("endpoint %d: name is required", i)
		}
		if seen[ep.Name] {
			return fmt.Errorf("endpoint %q defined more than once", ep.Name)
		}
		seen[ep.Name] = true
		if _, err := synoapi.CanonicalEndpoint(ep.URL); err != nil {
			return fmt.Errorf("endpoint %q: %w", ep.Name, err)
		}
	}
	if c.DefaultEndpoint != "" && !seen[c.DefaultEndpoint] {
		return fmt.Errorf("default_endpoint %q is not a configured endpoint", c.DefaultEndpoint)
	}

	return nil
}

// Endpoint looks up an endpoint by name or by URL. An empty key selects the
// default endpoint, or the only endpoint when exactly one is configured.
func (c *Config) Endpoint(nameOrURL string) (EndpointConfig, bool) {
	key := strings.TrimSpace(nameOrURL)
	if key == "" {
		if c.DefaultEndpoint != "" {
			key = c.DefaultEndpoint
		} else if len(c.Endpoints) == 1 {
			return c.Endpoints[0], true
		} else {
			return EndpointConfig{}, false
		}
	}

	for _, ep := range c.Endpoints {
		if ep.Name == key {
			return ep, true
		}
	}

	canonical, err := synoapi.CanonicalEndpoint(key)
	if err != nil {
		return EndpointConfig{}, false
	}
	for _, ep := range c.Endpoints {
		if u, err := synoapi.CanonicalEndpoint(ep.URL); err == nil && u == canonical {
			return ep, true
		}
	}
	return EndpointConfig{}, false
}

// AddEndpoint adds an endpoint to the configuration.
// Returns an error if an endpoint with the same name already exists.
func (c *Config) AddEndpoint(ep EndpointConfig) error {
	if ep.Name == "" {
		return fmt.Errorf("endpoint name is required")
	}
	if _, err := synoapi.CanonicalEndpoint(ep.URL); err != nil {
		return fmt.Errorf("endpoint %q: %w", ep.Name, err)
	}
	for _, e := range c.Endpoints {
		if e.Name == ep.Name {
			return fmt.Errorf("endpoint %q already exists", ep.Name)
		}
	}
	c.Endpoints = append(c.Endpoints, ep)
	return nil
}

// Save writes the configuration to a YAML file. Endpoints that came from the
// environment are left out.
// An optional FileSystem can be passed for testing; if omitted, the real OS is used.
func Save(cfg *Config, path string, fsys ...ports.FileSystem) error {
	out := *cfg
	out.Endpoints = make([]EndpointConfig, 0, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		if !ep.FromEnv {
			out.Endpoints = append(out.Endpoints, ep)
		}
	}
	if out.DefaultEndpoint == EnvEndpointName && len(out.Endpoints) < len(cfg.Endpoints) {
		out.DefaultEndpoint = ""
	}

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if len(fsys) > 0 && fsys[0] != nil {
		if err := fsys[0].MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
		return fsys[0].WriteFile(path, data, 0600)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}
