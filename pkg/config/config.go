package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// DefaultConfigPath is read relative to the working directory.
const DefaultConfigPath = "config.yaml"

// Config holds all configuration for ekaya-riskgraph.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3480"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Risk     RiskConfig     `yaml:"risk"`
	Impact   ImpactConfig   `yaml:"impact"`

	// MetricsEnabled exposes Prometheus metrics on /metrics.
	MetricsEnabled bool `yaml:"metrics_enabled" env:"METRICS_ENABLED" env-default:"true"`
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// EnableVerification controls whether JWT signatures are validated.
	// Set to false for local development without an auth server.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// JWKSEndpointsStr is a comma-separated list of issuer=jwks_url pairs.
	JWKSEndpointsStr string `yaml:"jwks_endpoints" env:"JWKS_ENDPOINTS" env-default:"https://auth.ekaya.ai=https://auth.ekaya.ai/.well-known/jwks.json"`

	// JWKSEndpoints is the parsed map from JWKSEndpointsStr (not from config file).
	JWKSEndpoints map[string]string `yaml:"-"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ekaya"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"ekaya_riskgraph"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds Redis configuration for the driver hand-off bus.
// An empty host disables publishing.
type RedisConfig struct {
	Host          string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port          int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password      string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB            int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	ChannelPrefix string `yaml:"channel_prefix" env:"REDIS_CHANNEL_PREFIX" env-default:"riskgraph"`
}

// RiskConfig tunes the risk propagation engine and its orchestration.
type RiskConfig struct {
	DefaultMaxNodes int `yaml:"default_max_nodes" env:"RISK_DEFAULT_MAX_NODES" env-default:"2000"`
	HardMaxNodes    int `yaml:"hard_max_nodes" env:"RISK_HARD_MAX_NODES" env-default:"5000"`
	MaxEdges        int `yaml:"max_edges" env:"RISK_MAX_EDGES" env-default:"15000"`

	// LeaseTTL bounds how long a crashed run can block the next one for the same org.
	LeaseTTL time.Duration `yaml:"lease_ttl" env:"RISK_LEASE_TTL" env-default:"5m"`

	// SchedulerInterval is the period of the background recompute loop. Zero disables it.
	SchedulerInterval time.Duration `yaml:"scheduler_interval" env:"RISK_SCHEDULER_INTERVAL" env-default:"1h"`

	NudgeEnabled     bool `yaml:"nudge_enabled" env:"RISK_NUDGE_ENABLED" env-default:"true"`
	AutopilotEnabled bool `yaml:"autopilot_enabled" env:"RISK_AUTOPILOT_ENABLED" env-default:"false"`
}

// ImpactConfig tunes the impact radius result cache.
type ImpactConfig struct {
	CacheTTL        time.Duration `yaml:"cache_ttl" env:"IMPACT_CACHE_TTL" env-default:"30s"`
	CacheMaxEntries int           `yaml:"cache_max_entries" env:"IMPACT_CACHE_MAX_ENTRIES" env-default:"1000"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// A missing config.yaml is not an error; environment variables and defaults apply.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	return LoadFrom(DefaultConfigPath, version)
}

// LoadFrom is Load with an explicit config file path.
func LoadFrom(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if errors.Is(err, fs.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	cfg.Auth.JWKSEndpoints = parseJWKSEndpoints(cfg.Auth.JWKSEndpointsStr)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// validate rejects settings the engines cannot honor.
func (c *Config) validate() error {
	if c.Risk.HardMaxNodes <= 0 {
		return fmt.Errorf("risk.hard_max_nodes must be positive")
	}
	if c.Risk.DefaultMaxNodes <= 0 || c.Risk.DefaultMaxNodes > c.Risk.HardMaxNodes {
		return fmt.Errorf("risk.default_max_nodes must be between 1 and risk.hard_max_nodes (%d)", c.Risk.HardMaxNodes)
	}
	if c.Risk.MaxEdges <= 0 {
		return fmt.Errorf("risk.max_edges must be positive")
	}
	if c.Impact.CacheTTL < 0 {
		return fmt.Errorf("impact.cache_ttl must not be negative")
	}
	return nil
}

// IsLocal reports whether the service runs in a local development environment.
func (c *Config) IsLocal() bool {
	return c.Env == "" || c.Env == "local"
}

// parseJWKSEndpoints parses the JWKS endpoints string into a map.
// Format: "issuer1=url1,issuer2=url2"
func parseJWKSEndpoints(value string) map[string]string {
	endpoints := make(map[string]string)
	if value == "" {
		return endpoints
	}

	for _, pair := range strings.Split(value, ",") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) == 2 {
			endpoints[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return endpoints
}

// ConnectionString returns a PostgreSQL connection URL.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, resolveHostForDocker(c.Host), c.Port, c.Database, c.SSLMode,
	)
}

// Addr returns the Redis host:port, or "" when Redis is not configured.
func (c *RedisConfig) Addr() string {
	if c.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", resolveHostForDocker(c.Host), c.Port)
}

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// resolveHostForDocker maps loopback hosts to host.docker.internal when running
// inside a container, so local Postgres/Redis on the host stay reachable.
func resolveHostForDocker(host string) string {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	if isDockerResult && (host == "localhost" || host == "127.0.0.1") {
		return "host.docker.internal"
	}
	return host
}
