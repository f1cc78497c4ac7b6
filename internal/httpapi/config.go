package httpapi

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the broker's process-wide configuration (spec §6), loaded
// from a YAML file. The only command-line override is the global
// --verbose flag, which raises the log level to debug. Grounded on
// destiny-lucas's internal/gateway/config.go GatewayConfig shape.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Security SecurityConfig `yaml:"security"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds listener and request-shaping settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	MaxRequestBytes int      `yaml:"max_request_bytes"`
	SlugWhitelist   []string `yaml:"slug_whitelist"`
	EnableCORS      bool     `yaml:"enable_cors"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
}

// SecurityConfig holds auth and rate-limit settings.
type SecurityConfig struct {
	RequireAuth          bool   `yaml:"require_auth"`
	AdminPassword        string `yaml:"admin_password"`
	TokenSecret          string `yaml:"token_secret"`
	TokenLifetimeHours   int    `yaml:"token_lifetime_hours"`
	EnableRateLimit      bool   `yaml:"enable_rate_limit"`
	MaxRequestsPerMinute int    `yaml:"max_requests_per_minute"`
	MaxConnectionsPerIP  int    `yaml:"max_connections_per_ip"`
}

// LoggingConfig holds ambient log verbosity.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultAdminPassword and DefaultTokenSecret are the source's known-unsafe
// defaults; see the startup warning in auth.go and DESIGN.md's resolution
// of the corresponding open question.
const (
	DefaultAdminPassword = "admin123"
	DefaultTokenSecret   = "switchboard-default-token-secret-change-this"
)

// NewDefaultConfig returns the configuration described in spec §6.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            3000,
			MaxRequestBytes: 10 * 1024 * 1024,
			SlugWhitelist:   nil,
			EnableCORS:      true,
			AllowedOrigins:  []string{"*"},
		},
		Security: SecurityConfig{
			RequireAuth:          false,
			AdminPassword:        DefaultAdminPassword,
			TokenSecret:          DefaultTokenSecret,
			TokenLifetimeHours:   24,
			EnableRateLimit:      true,
			MaxRequestsPerMinute: 100,
			MaxConnectionsPerIP:  10,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// LoadConfig reads and parses a YAML config file, filling any unset field
// with NewDefaultConfig's value before validating.
func LoadConfig(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path as YAML.
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Config) setDefaults() {
	def := NewDefaultConfig()
	if c.Server.Port == 0 {
		c.Server.Port = def.Server.Port
	}
	if c.Server.MaxRequestBytes == 0 {
		c.Server.MaxRequestBytes = def.Server.MaxRequestBytes
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = def.Server.AllowedOrigins
	}
	if c.Security.AdminPassword == "" {
		c.Security.AdminPassword = def.Security.AdminPassword
	}
	if c.Security.TokenSecret == "" {
		c.Security.TokenSecret = def.Security.TokenSecret
	}
	if c.Security.TokenLifetimeHours == 0 {
		c.Security.TokenLifetimeHours = def.Security.TokenLifetimeHours
	}
	if c.Security.MaxRequestsPerMinute == 0 {
		c.Security.MaxRequestsPerMinute = def.Security.MaxRequestsPerMinute
	}
	if c.Security.MaxConnectionsPerIP == 0 {
		c.Security.MaxConnectionsPerIP = def.Security.MaxConnectionsPerIP
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}
	if c.Server.MaxRequestBytes <= 0 {
		return fmt.Errorf("max_request_bytes must be greater than 0")
	}
	if c.Security.MaxRequestsPerMinute <= 0 {
		return fmt.Errorf("max_requests_per_minute must be greater than 0")
	}
	if c.Security.MaxConnectionsPerIP <= 0 {
		return fmt.Errorf("max_connections_per_ip must be greater than 0")
	}
	if c.Security.TokenLifetimeHours <= 0 {
		return fmt.Errorf("token_lifetime_hours must be greater than 0")
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	ok := false
	for _, lvl := range validLevels {
		if c.Logging.Level == lvl {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("invalid logging level: %s (must be one of: %v)", c.Logging.Level, validLevels)
	}
	return nil
}

// UsesUnsafeDefaults reports whether auth is enabled while either secret
// is still at its known-unsafe default value (spec §9 open question).
func (c *Config) UsesUnsafeDefaults() bool {
	return c.Security.RequireAuth &&
		(c.Security.AdminPassword == DefaultAdminPassword || c.Security.TokenSecret == DefaultTokenSecret)
}

// CORSOriginHeader renders the configured allowed-origins list as the
// Access-Control-Allow-Origin header value.
func (c *Config) CORSOriginHeader() string {
	if len(c.Server.AllowedOrigins) == 1 && c.Server.AllowedOrigins[0] == "*" {
		return "*"
	}
	return strings.Join(c.Server.AllowedOrigins, ", ")
}
