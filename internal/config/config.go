// ABOUTME: Configuration loading and parsing for unconv-server
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// MinJWTSecretLength is the minimum accepted length of auth.jwt_secret.
const MinJWTSecretLength = 32

// MaxSensorTokenTTL is the longest accepted auth.sensor_token_ttl.
const MaxSensorTokenTTL = 365 * 24 * time.Hour

// Database drivers accepted in database.driver.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config represents the complete unconv-server configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Ingest    IngestConfig    `yaml:"ingest" toml:"ingest"`
	Sink      SinkConfig      `yaml:"sink" toml:"sink"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`   // Serve HTTPS with Tailscale-provisioned certs
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // Expose publicly through Funnel (implies HTTPS)
}

// DatabaseConfig holds database configuration.
// Path is used by the sqlite driver, DSN by the postgres driver.
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	Path   string `yaml:"path" toml:"path"`
	DSN    string `yaml:"dsn" toml:"dsn"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
	JWTIssuer string `yaml:"jwt_issuer" toml:"jwt_issuer"`

	// SensorTokenParam is the query parameter carrying a sensor API token
	// on reading ingestion requests.
	SensorTokenParam string `yaml:"sensor_token_param" toml:"sensor_token_param"`

	// SkipHeaderAuth disables Authorization header (JWT) authentication.
	SkipHeaderAuth bool `yaml:"skip_header_auth" toml:"skip_header_auth"`

	BcryptCost int `yaml:"bcrypt_cost" toml:"bcrypt_cost"`

	JWTTTL               time.Duration `yaml:"-" toml:"-"`
	SensorTokenTTL       time.Duration `yaml:"-" toml:"-"`
	TokenCleanupInterval time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	JWTTTLRaw               string `yaml:"jwt_ttl" toml:"jwt_ttl"`
	SensorTokenTTLRaw       string `yaml:"sensor_token_ttl" toml:"sensor_token_ttl"`
	TokenCleanupIntervalRaw string `yaml:"token_cleanup_interval" toml:"token_cleanup_interval"`
}

// IngestConfig holds reading ingestion limits
type IngestConfig struct {
	MaxBatch       int           `yaml:"max_batch" toml:"max_batch"`
	IdempotencyTTL time.Duration `yaml:"-" toml:"-"`

	IdempotencyTTLRaw string `yaml:"idempotency_ttl" toml:"idempotency_ttl"`
}

// SinkConfig holds the analytics export configuration.
// When ClickHouseDSN is empty readings are only logged at debug level.
type SinkConfig struct {
	ClickHouseDSN string `yaml:"clickhouse_dsn" toml:"clickhouse_dsn"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// ApplyDefaults fills unset fields with their default values.
func (c *Config) ApplyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Auth.JWTIssuer == "" {
		c.Auth.JWTIssuer = "UNCONV"
	}
	if c.Auth.SensorTokenParam == "" {
		c.Auth.SensorTokenParam = "access_token"
	}
	if c.Auth.JWTTTL == 0 {
		c.Auth.JWTTTL = 24 * time.Hour
	}
	if c.Auth.SensorTokenTTL == 0 {
		c.Auth.SensorTokenTTL = 90 * 24 * time.Hour
	}
	if c.Auth.TokenCleanupInterval == 0 {
		c.Auth.TokenCleanupInterval = time.Hour
	}
	if c.Ingest.MaxBatch == 0 {
		c.Ingest.MaxBatch = 1000
	}
	if c.Ingest.IdempotencyTTL == 0 {
		c.Ingest.IdempotencyTTL = 10 * time.Minute
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return errors.New("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return errors.New("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("database.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported (use %q or %q)", c.Database.Driver, DriverSQLite, DriverPostgres)
	}

	if len(c.Auth.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinJWTSecretLength)
	}

	if c.Auth.BcryptCost < 0 {
		return errors.New("auth.bcrypt_cost must not be negative")
	}

	if c.Auth.SensorTokenTTL > MaxSensorTokenTTL {
		return fmt.Errorf("auth.sensor_token_ttl must be at most %s", MaxSensorTokenTTL)
	}

	if c.Ingest.MaxBatch < 0 {
		return errors.New("ingest.max_batch must not be negative")
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
		{"auth.jwt_ttl", cfg.Auth.JWTTTLRaw, &cfg.Auth.JWTTTL},
		{"auth.sensor_token_ttl", cfg.Auth.SensorTokenTTLRaw, &cfg.Auth.SensorTokenTTL},
		{"auth.token_cleanup_interval", cfg.Auth.TokenCleanupIntervalRaw, &cfg.Auth.TokenCleanupInterval},
		{"ingest.idempotency_ttl", cfg.Ingest.IdempotencyTTLRaw, &cfg.Ingest.IdempotencyTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}
