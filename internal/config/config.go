// ABOUTME: Configuration loading and parsing for clonepilot
// ABOUTME: Supports YAML files with environment variable expansion, defaults and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultEndpoint is the Direct Line base URL used when none is configured.
const DefaultEndpoint = "https://europe.directline.botframework.com/v3/directline"

// Polling policy names.
const (
	PolicyQuiescence = "quiescence"
	PolicySignal     = "signal"
)

// Config represents the complete clonepilot configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Tailscale  TailscaleConfig  `yaml:"tailscale"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	DirectLine DirectLineConfig `yaml:"directline"`
	Polling    PollingConfig    `yaml:"polling"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// AuthConfig holds API authentication configuration.
// An empty JWTSecret leaves the relay API open.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	HTTPS     bool   `yaml:"https"`
	Funnel    bool   `yaml:"funnel"` // implies HTTPS
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr       string        `yaml:"http_addr"`
	RequestTimeout time.Duration `yaml:"-"`

	RequestTimeoutRaw string `yaml:"request_timeout"`
}

// DatabaseConfig selects the session store backend.
// An empty path or ":memory:" keeps sessions in process memory.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// InMemory reports whether sessions live only in process memory.
func (d DatabaseConfig) InMemory() bool {
	return d.Path == "" || d.Path == ":memory:"
}

// DirectLineConfig holds the remote agent endpoint configuration
type DirectLineConfig struct {
	Endpoint            string         `yaml:"endpoint"`
	Secret              string         `yaml:"secret"`
	UserID              string         `yaml:"user_id"`
	Locale              string         `yaml:"locale"`
	StartEvent          string         `yaml:"start_event"`
	StartValue          map[string]any `yaml:"start_value"`
	ForwardFirstMessage bool           `yaml:"forward_first_message"`
	OAuth               OAuthConfig    `yaml:"oauth"`

	HTTPTimeout    time.Duration `yaml:"-"`
	HTTPTimeoutRaw string        `yaml:"http_timeout"`
}

// OAuthConfig configures an application (client credentials) token source
// used instead of a static Direct Line secret.
type OAuthConfig struct {
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
}

// Enabled reports whether the client credentials source is configured.
func (o OAuthConfig) Enabled() bool {
	return o.TokenURL != "" && o.ClientID != ""
}

// PollingConfig controls how replies are collected after each post
type PollingConfig struct {
	Policy              string   `yaml:"policy"`
	MaxAttempts         int      `yaml:"max_attempts"`
	QuietPolls          int      `yaml:"quiet_polls"`
	MaxFetchFailures    int      `yaml:"max_fetch_failures"`
	AwaitingInputEvents []string `yaml:"awaiting_input_events"`

	Interval time.Duration `yaml:"-"`
	Grace    time.Duration `yaml:"-"`
	Deadline time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	IntervalRaw string `yaml:"interval"`
	GraceRaw    string `yaml:"grace"`
	DeadlineRaw string `yaml:"deadline"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns a configuration with every default applied and no file loaded.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML. Environment overrides and defaults
// are applied before validation.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// ResolvePath returns the config path to use: the explicit argument, then
// CLONEPILOT_CONFIG, then ./config.yaml.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv("CLONEPILOT_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnvOverrides lets the well-known environment variables win over empty file values.
func applyEnvOverrides(cfg *Config) {
	if cfg.DirectLine.Secret == "" {
		cfg.DirectLine.Secret = os.Getenv("DIRECTLINE_SECRET")
	}
	if v := os.Getenv("DIRECTLINE_ENDPOINT"); v != "" && cfg.DirectLine.Endpoint == "" {
		cfg.DirectLine.Endpoint = v
	}
	if v := os.Getenv("CLONEPILOT_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPAddr == "" && !cfg.Tailscale.Enabled {
		cfg.Server.HTTPAddr = "127.0.0.1:3000"
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}

	dl := &cfg.DirectLine
	if dl.Endpoint == "" {
		dl.Endpoint = DefaultEndpoint
	}
	if dl.UserID == "" {
		dl.UserID = "user"
	}
	if dl.Locale == "" {
		dl.Locale = "en-US"
	}
	if dl.StartEvent == "" {
		dl.StartEvent = "startConversation"
	}
	if dl.HTTPTimeout == 0 {
		dl.HTTPTimeout = 15 * time.Second
	}

	p := &cfg.Polling
	if p.Policy == "" {
		p.Policy = PolicyQuiescence
	}
	if p.Interval == 0 {
		p.Interval = 300 * time.Millisecond
	}
	if p.Grace == 0 {
		p.Grace = 300 * time.Millisecond
	}
	if p.Deadline == 0 {
		p.Deadline = 30 * time.Second
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 20
	}
	if p.QuietPolls == 0 {
		p.QuietPolls = 3
	}
	if p.MaxFetchFailures == 0 {
		p.MaxFetchFailures = 1
	}
	if len(p.AwaitingInputEvents) == 0 {
		p.AwaitingInputEvents = []string{"awaitingInput"}
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
// A missing Direct Line credential is not a validation failure: the relay
// starts and reports it per request.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	switch c.Polling.Policy {
	case PolicyQuiescence, PolicySignal:
	default:
		return fmt.Errorf("polling.policy must be %q or %q, got %q", PolicyQuiescence, PolicySignal, c.Polling.Policy)
	}

	if c.Polling.MaxAttempts < 1 {
		return fmt.Errorf("polling.max_attempts must be positive")
	}
	if c.Polling.QuietPolls < 1 {
		return fmt.Errorf("polling.quiet_polls must be positive")
	}
	if c.Polling.MaxFetchFailures < 1 {
		return fmt.Errorf("polling.max_fetch_failures must be positive")
	}
	if c.Polling.Interval < 0 || c.Polling.Grace < 0 || c.Polling.Deadline < 0 {
		return fmt.Errorf("polling durations must not be negative")
	}

	if c.DirectLine.OAuth.TokenURL != "" && c.DirectLine.OAuth.ClientID == "" {
		return fmt.Errorf("directline.oauth.client_id is required when token_url is set")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.request_timeout", cfg.Server.RequestTimeoutRaw, &cfg.Server.RequestTimeout},
		{"directline.http_timeout", cfg.DirectLine.HTTPTimeoutRaw, &cfg.DirectLine.HTTPTimeout},
		{"polling.interval", cfg.Polling.IntervalRaw, &cfg.Polling.Interval},
		{"polling.grace", cfg.Polling.GraceRaw, &cfg.Polling.Grace},
		{"polling.deadline", cfg.Polling.DeadlineRaw, &cfg.Polling.Deadline},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}

// Sample is the configuration written by `clonepilot init`.
const Sample = `# clonepilot configuration

server:
  http_addr: "127.0.0.1:3000"
  request_timeout: "60s"

database:
  # Empty or ":memory:" keeps sessions in memory.
  path: ""

auth:
  # Leave empty to disable API authentication.
  jwt_secret: "${CLONEPILOT_JWT_SECRET}"

directline:
  endpoint: "https://europe.directline.botframework.com/v3/directline"
  secret: "${DIRECTLINE_SECRET}"
  user_id: "user"
  locale: "en-US"
  start_event: "startConversation"
  forward_first_message: false
  http_timeout: "15s"

polling:
  policy: "quiescence"   # quiescence, signal
  interval: "300ms"
  grace: "300ms"
  deadline: "30s"
  max_attempts: 20
  quiet_polls: 3
  max_fetch_failures: 1

logging:
  level: "info"   # debug, info, warn, error
  format: "text"  # text, json

metrics:
  enabled: true
  path: "/metrics"
`
