package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models nextread.yml.
type Config struct {
	Club struct {
		Name         string `yaml:"name"`
		PasscodeHash string `yaml:"passcode_hash"`
	} `yaml:"club"`
	Catalog struct {
		Path string `yaml:"path"`
	} `yaml:"catalog"`
	Auth struct {
		JWTSecret    string `yaml:"jwt_secret"`
		TokenTTLDays int    `yaml:"token_ttl_days"`
	} `yaml:"auth"`
	Webhooks  []WebhookConfig `yaml:"webhooks"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// RateLimitConfig holds the fixed-window presets applied per endpoint class.
// A zero limit disables the class.
type RateLimitConfig struct {
	WindowSeconds int `yaml:"window_seconds"`
	Read          int `yaml:"read"`
	Standard      int `yaml:"standard"`
	Write         int `yaml:"write"`
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it with nr init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Club.Name == "" {
		return fmt.Errorf("config.club.name is required")
	}
	if c.Auth.TokenTTLDays < 0 {
		return fmt.Errorf("config.auth.token_ttl_days must not be negative")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	rl := c.RateLimit
	if rl.WindowSeconds < 0 || rl.Read < 0 || rl.Standard < 0 || rl.Write < 0 {
		return fmt.Errorf("config.rate_limit values must not be negative")
	}
	return nil
}

// TokenTTLDaysOrDefault returns the configured token lifetime, defaulting to
// 30 days.
func (c *Config) TokenTTLDaysOrDefault() int {
	if c.Auth.TokenTTLDays > 0 {
		return c.Auth.TokenTTLDays
	}
	return 30
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "nextread.yml")
}

// Default returns the default Config struct for a club.
func Default(clubName string) *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(GenerateDefault(clubName)), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault(clubName string) string {
	return fmt.Sprintf(defaultTemplate, clubName)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `club:
  name: %s
  # bcrypt hash of the shared room passcode; generate with 'nr passcode hash'
  passcode_hash: ""

catalog:
  # path to the catalog YAML; empty means the embedded starter catalog
  path: ""

auth:
  jwt_secret: ""
  token_ttl_days: 30

rate_limit:
  window_seconds: 60
  read: 60
  standard: 30
  write: 10

webhooks: []
`
