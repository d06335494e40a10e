// Package config loads and validates application configuration from YAML
// files and environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Identity      IdentityConfig      `yaml:"identity"`
	Definitions   DefinitionsConfig   `yaml:"definitions"`
	Store         StoreConfig         `yaml:"store"`
	Engine        EngineConfig        `yaml:"engine"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// IdentityConfig describes JWT validation settings. The engine consumes
// tokens minted by an external identity provider; it never issues them.
type IdentityConfig struct {
	Issuer       string        `yaml:"issuer"`
	Audience     string        `yaml:"audience"`
	JWKSURL      string        `yaml:"jwks_url"`
	JWKSCacheTTL time.Duration `yaml:"jwks_cache_ttl"`
	Algorithms   []string      `yaml:"algorithms"`
}

// DefinitionsConfig describes where to find workflow definition seed
// files loaded at boot.
type DefinitionsConfig struct {
	Directories []string `yaml:"directories"`
}

// StoreConfig describes persistence settings shared by the definition
// and activity stores.
type StoreConfig struct {
	Driver          string        `yaml:"driver"` // "memory" or "postgres"
	DSNEnv          string        `yaml:"dsn_env"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// EngineConfig describes transition engine settings.
type EngineConfig struct {
	// EnforceMandatoryEvents makes fire refuse to leave a state whose
	// mandatory events have not been logged. Off by default: events are
	// descriptive unless product requirements say otherwise.
	EnforceMandatoryEvents bool `yaml:"enforce_mandatory_events"`

	// LockWaitTimeout bounds how long a write waits for another
	// in-flight write on the same activity before failing.
	LockWaitTimeout time.Duration `yaml:"lock_wait_timeout"`
	Idempotency            IdempotencyConfig `yaml:"idempotency"`
}

// IdempotencyConfig describes fire-request deduplication settings.
type IdempotencyConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Driver     string        `yaml:"driver"` // "memory" or "redis"
	AddrEnv    string        `yaml:"addr_env"`
	DB         int           `yaml:"db"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type",
					"X-Correlation-Id", "X-Idempotency-Key"},
				MaxAge: 86400,
			},
		},
		Identity: IdentityConfig{
			JWKSCacheTTL: 1 * time.Hour,
			Algorithms:   []string{"RS256"},
		},
		Store: StoreConfig{
			Driver:          "memory",
			DSNEnv:          "LEDGERFLOW_STORE_DSN",
			MaxOpenConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Engine: EngineConfig{
			LockWaitTimeout: 5 * time.Second,
			Idempotency: IdempotencyConfig{
				Driver:     "memory",
				AddrEnv:    "LEDGERFLOW_REDIS_ADDR",
				DefaultTTL: 24 * time.Hour,
			},
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	switch c.Store.Driver {
	case "memory", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}
	switch c.Engine.Idempotency.Driver {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("engine.idempotency.driver %q is not supported", c.Engine.Idempotency.Driver))
	}
	if c.Identity.Issuer == "" {
		errs = append(errs, "identity.issuer is required")
	}
	if c.Identity.JWKSURL == "" {
		errs = append(errs, "identity.jwks_url is required")
	}
	if c.Identity.Audience == "" {
		errs = append(errs, "identity.audience is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads LEDGERFLOW_* environment variables and
// overrides config values. Only the most commonly overridden fields are
// supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LEDGERFLOW_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LEDGERFLOW_IDENTITY_ISSUER"); v != "" {
		cfg.Identity.Issuer = v
	}
	if v := os.Getenv("LEDGERFLOW_IDENTITY_JWKS_URL"); v != "" {
		cfg.Identity.JWKSURL = v
	}
	if v := os.Getenv("LEDGERFLOW_IDENTITY_AUDIENCE"); v != "" {
		cfg.Identity.Audience = v
	}
	if v := os.Getenv("LEDGERFLOW_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("LEDGERFLOW_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}
