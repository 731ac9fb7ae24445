// ABOUTME: Configuration loading for the Matrix bridge
// ABOUTME: Loads TOML config with environment variable expansion and validation

package bridge

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the Matrix bridge configuration.
type Config struct {
	Matrix  MatrixConfig  `toml:"matrix"`
	Relay   RelayConfig   `toml:"relay"`
	Bridge  BridgeConfig  `toml:"bridge"`
	Logging LoggingConfig `toml:"logging"`
}

type MatrixConfig struct {
	Homeserver  string `toml:"homeserver"`
	UserID      string `toml:"user_id"`
	AccessToken string `toml:"access_token"`
}

// RelayConfig points the bridge at a clonepilot relay.
type RelayConfig struct {
	URL   string `toml:"url"`
	Token string `toml:"token"`
}

type BridgeConfig struct {
	AllowedRooms    []string `toml:"allowed_rooms"`
	CommandPrefix   string   `toml:"command_prefix"`
	TypingIndicator bool     `toml:"typing_indicator"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Sample is the configuration written by `clonepilot-matrix init`.
const Sample = `# clonepilot-matrix bridge configuration

[matrix]
homeserver = "https://matrix.org"
user_id = "@clonepilot:matrix.org"
access_token = "${MATRIX_ACCESS_TOKEN}"

[relay]
url = "http://127.0.0.1:3000"
# JWT minted with 'clonepilot token' when the relay has auth.jwt_secret set
token = "${CLONEPILOT_TOKEN}"

[bridge]
# Only respond in these rooms (empty = all joined rooms)
allowed_rooms = []
# Require messages start with this prefix (empty = respond to all)
command_prefix = ""
# Show typing while the agent answers
typing_indicator = true

[logging]
level = "info"
format = "text"
`

// Load reads config from the given path, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates TOML config data.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if _, err := toml.Decode(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// Validate checks that required config fields are present and valid.
func (c *Config) Validate() error {
	if c.Matrix.Homeserver == "" {
		return errors.New("matrix.homeserver is required")
	}
	if _, err := url.Parse(c.Matrix.Homeserver); err != nil {
		return fmt.Errorf("matrix.homeserver is not a valid URL: %w", err)
	}
	if c.Matrix.UserID == "" {
		return errors.New("matrix.user_id is required")
	}
	if !strings.HasPrefix(c.Matrix.UserID, "@") || !strings.Contains(c.Matrix.UserID, ":") {
		return fmt.Errorf("matrix.user_id %q must look like @user:server", c.Matrix.UserID)
	}
	if c.Matrix.AccessToken == "" {
		return errors.New("matrix.access_token is required")
	}
	if c.Relay.URL == "" {
		return errors.New("relay.url is required")
	}
	u, err := url.Parse(c.Relay.URL)
	if err != nil {
		return fmt.Errorf("relay.url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("relay.url must use http or https scheme")
	}
	return nil
}
