// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/usecase/internal/usecase"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Identity      IdentityConfig      `yaml:"identity"`
	Storage       StorageConfig       `yaml:"storage"`
	Invocation    InvocationConfig    `yaml:"invocation"`
	Capability    CapabilityConfig    `yaml:"capability"`
	Schemas       SchemasConfig       `yaml:"schemas"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

// IdentityConfig describes bearer token verification.
type IdentityConfig struct {
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
	// SecretEnv names the environment variable holding the HS256 key.
	SecretEnv  string            `yaml:"secret_env"`
	Leeway     time.Duration     `yaml:"leeway"`
	ClaimPaths map[string]string `yaml:"claim_paths"`
	// AllowAnonymous lets requests without a token through with no actor.
	AllowAnonymous bool `yaml:"allow_anonymous"`
}

// Secret returns the HS256 key read from SecretEnv.
func (c IdentityConfig) Secret() []byte {
	if c.SecretEnv == "" {
		return nil
	}
	return []byte(os.Getenv(c.SecretEnv))
}

// StorageConfig selects and configures the user and invitation store.
type StorageConfig struct {
	Driver   string         `yaml:"driver"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
}

// PostgresConfig describes the PostgreSQL store.
type PostgresConfig struct {
	DSNEnv          string        `yaml:"dsn_env"`
	Migrate         bool          `yaml:"migrate"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DSN returns the connection string read from DSNEnv.
func (c PostgresConfig) DSN() string {
	return os.Getenv(c.DSNEnv)
}

// RedisConfig describes the Redis store.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	AddrEnv   string        `yaml:"addr_env"`
	DB        int           `yaml:"db"`
	Prefix    string        `yaml:"prefix"`
	Retention time.Duration `yaml:"retention"`
}

// Address returns AddrEnv's value when set, otherwise Addr.
func (c RedisConfig) Address() string {
	if c.AddrEnv != "" {
		if v := os.Getenv(c.AddrEnv); v != "" {
			return v
		}
	}
	return c.Addr
}

// InvocationConfig controls the invocation protocol.
type InvocationConfig struct {
	AvailabilityMode string        `yaml:"availability_mode"`
	ValidationPolicy string        `yaml:"validation_policy"`
	InvitationTTL    time.Duration `yaml:"invitation_ttl"`
}

// CapabilityConfig describes authorization settings.
type CapabilityConfig struct {
	StaticPolicyFile string        `yaml:"static_policy_file"`
	ReloadInterval   time.Duration `yaml:"reload_interval"`
	Cache            CacheConfig   `yaml:"cache"`
}

// CacheConfig describes cache settings.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// SchemasConfig points to an OpenAPI document overriding the built-in
// schemas.
type SchemasConfig struct {
	File string `yaml:"file"`
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
			MaxBodyBytes:    1 << 20,
		},
		Identity: IdentityConfig{
			SecretEnv: "USECASE_JWT_SECRET",
			Leeway:    30 * time.Second,
			ClaimPaths: map[string]string{
				"subject_id": "sub",
				"tenant_id":  "tenant_id",
				"email":      "email",
				"roles":      "roles",
			},
		},
		Storage: StorageConfig{
			Driver: DriverMemory,
			Postgres: PostgresConfig{
				DSNEnv:          "USECASE_DATABASE_URL",
				Migrate:         true,
				MaxConns:        10,
				MinConns:        1,
				ConnMaxLifetime: time.Hour,
			},
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				AddrEnv:   "USECASE_REDIS_ADDR",
				Prefix:    "usecase",
				Retention: 24 * time.Hour,
			},
		},
		Invocation: InvocationConfig{
			AvailabilityMode: usecase.CheckOnce.String(),
			ValidationPolicy: usecase.PropagateValidationErrors.String(),
			InvitationTTL:    72 * time.Hour,
		},
		Capability: CapabilityConfig{
			Cache: CacheConfig{TTL: 5 * time.Minute},
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
	if c.Identity.Issuer == "" {
		errs = append(errs, "identity.issuer is required")
	}
	if c.Identity.Audience == "" {
		errs = append(errs, "identity.audience is required")
	}
	if c.Identity.SecretEnv == "" {
		errs = append(errs, "identity.secret_env is required")
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Storage.Postgres.DSNEnv == "" {
			errs = append(errs, "storage.postgres.dsn_env is required for the postgres driver")
		}
		if pg := c.Storage.Postgres; pg.MaxConns > 0 && pg.MinConns > pg.MaxConns {
			errs = append(errs, "storage.postgres.min_conns must not exceed max_conns")
		}
	case DriverRedis:
		if c.Storage.Redis.Address() == "" {
			errs = append(errs, "storage.redis.addr is required for the redis driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.driver %q is not one of memory, postgres, redis", c.Storage.Driver))
	}

	if _, err := usecase.ParseAvailabilityMode(c.Invocation.AvailabilityMode); err != nil {
		errs = append(errs, "invocation.availability_mode: "+err.Error())
	}
	if _, err := usecase.ParseValidationPolicy(c.Invocation.ValidationPolicy); err != nil {
		errs = append(errs, "invocation.validation_policy: "+err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Mode returns the parsed availability mode.
func (c InvocationConfig) Mode() usecase.AvailabilityMode {
	m, _ := usecase.ParseAvailabilityMode(c.AvailabilityMode)
	return m
}

// Policy returns the parsed validation policy.
func (c InvocationConfig) Policy() usecase.ValidationPolicy {
	p, _ := usecase.ParseValidationPolicy(c.ValidationPolicy)
	return p
}

// applyEnvOverrides reads USECASE_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("USECASE_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("USECASE_IDENTITY_ISSUER"); v != "" {
		cfg.Identity.Issuer = v
	}
	if v := os.Getenv("USECASE_IDENTITY_AUDIENCE"); v != "" {
		cfg.Identity.Audience = v
	}
	if v := os.Getenv("USECASE_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("USECASE_INVOCATION_AVAILABILITY_MODE"); v != "" {
		cfg.Invocation.AvailabilityMode = v
	}
	if v := os.Getenv("USECASE_INVOCATION_VALIDATION_POLICY"); v != "" {
		cfg.Invocation.ValidationPolicy = v
	}
	if v := os.Getenv("USECASE_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}
