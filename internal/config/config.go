// Package config loads service configuration from defaults, an optional YAML
// file and BCD_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	envPrefix          = "BCD_"
	minJWTSecretLength = 32
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Addr              string          `yaml:"addr"`
	ReadTimeout       time.Duration   `yaml:"read_timeout"`
	ReadHeaderTimeout time.Duration   `yaml:"read_header_timeout"`
	WriteTimeout      time.Duration   `yaml:"write_timeout"`
	IdleTimeout       time.Duration   `yaml:"idle_timeout"`
	ShutdownTimeout   time.Duration   `yaml:"shutdown_timeout"`
	MaxBodyBytes      int64           `yaml:"max_body_bytes"`
	RateLimit         RateLimitConfig `yaml:"rate_limit"`
	CORS              CORSConfig      `yaml:"cors"`
	// TrustProxy takes the client address from forwarding headers.
	TrustProxy bool `yaml:"trust_proxy"`
}

// RateLimitConfig bounds credential endpoints per client IP.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig selects the persistence backend.
type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver string `yaml:"driver"`
	// DSN is a PostgreSQL connection string or a SQLite file path.
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// AuthConfig contains credential and session settings.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	// PreviousSecrets are still accepted for verification during rotation.
	PreviousSecrets  []string      `yaml:"previous_secrets"`
	Issuer           string        `yaml:"issuer"`
	AccessTTL        time.Duration `yaml:"access_ttl"`
	RefreshTTL       time.Duration `yaml:"refresh_ttl"`
	BcryptCost       int           `yaml:"bcrypt_cost"`
	LockoutThreshold int           `yaml:"lockout_threshold"`
	LockoutDuration  time.Duration `yaml:"lockout_duration"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Dev   bool   `yaml:"dev"`
}

// Default returns a Config with the documented defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":8080",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			MaxBodyBytes:      1 << 20,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     5,
				Burst:   10,
			},
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			DSN:             "./data/bcd.db",
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 15 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Auth: AuthConfig{
			Issuer:           "breast-cancer-detection",
			AccessTTL:        60 * time.Minute,
			RefreshTTL:       7 * 24 * time.Hour,
			BcryptCost:       12,
			LockoutThreshold: 5,
			LockoutDuration:  30 * time.Minute,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func applyEnvOverrides(cfg *Config, lookup lookupFunc) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = b
		}
	}

	str("SERVER_ADDR", &cfg.Server.Addr)
	flag("RATE_LIMIT_ENABLED", &cfg.Server.RateLimit.Enabled)
	flag("TRUST_PROXY", &cfg.Server.TrustProxy)
	if v, ok := lookup(envPrefix + "CORS_ALLOWED_ORIGINS"); ok && v != "" {
		cfg.Server.CORS.AllowedOrigins = splitList(v)
	}

	str("DATABASE_DRIVER", &cfg.Database.Driver)
	str("DATABASE_DSN", &cfg.Database.DSN)
	flag("DATABASE_AUTO_MIGRATE", &cfg.Database.AutoMigrate)

	str("JWT_SECRET", &cfg.Auth.JWTSecret)
	if v, ok := lookup(envPrefix + "JWT_PREVIOUS_SECRETS"); ok && v != "" {
		cfg.Auth.PreviousSecrets = splitList(v)
	}
	str("JWT_ISSUER", &cfg.Auth.Issuer)
	dur("ACCESS_TTL", &cfg.Auth.AccessTTL)
	dur("REFRESH_TTL", &cfg.Auth.RefreshTTL)
	num("BCRYPT_COST", &cfg.Auth.BcryptCost)
	num("LOCKOUT_THRESHOLD", &cfg.Auth.LockoutThreshold)
	dur("LOCKOUT_DURATION", &cfg.Auth.LockoutDuration)

	str("LOG_LEVEL", &cfg.Logging.Level)
	flag("LOG_DEV", &cfg.Logging.Dev)

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Addr == "" {
		errs = append(errs, "server.addr is required")
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, "server.max_body_bytes must be positive")
	}
	if c.Server.RateLimit.Enabled && (c.Server.RateLimit.RPS <= 0 || c.Server.RateLimit.Burst <= 0) {
		errs = append(errs, "server.rate_limit.rps and burst must be positive when enabled")
	}

	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be postgres or sqlite", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, "database.dsn is required")
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, "auth.jwt_secret is required (set BCD_JWT_SECRET)")
	} else if len(c.Auth.JWTSecret) < minJWTSecretLength {
		errs = append(errs, "auth.jwt_secret must be at least 32 characters")
	}
	for i, s := range c.Auth.PreviousSecrets {
		if len(s) < minJWTSecretLength {
			errs = append(errs, fmt.Sprintf("auth.previous_secrets[%d] must be at least 32 characters", i))
		}
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		errs = append(errs, "auth.access_ttl and auth.refresh_ttl must be positive")
	} else if c.Auth.RefreshTTL <= c.Auth.AccessTTL {
		errs = append(errs, "auth.refresh_ttl must exceed auth.access_ttl")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		errs = append(errs, "auth.bcrypt_cost must be between 4 and 31")
	}
	if c.Auth.LockoutThreshold <= 0 {
		errs = append(errs, "auth.lockout_threshold must be positive")
	}
	if c.Auth.LockoutDuration <= 0 {
		errs = append(errs, "auth.lockout_duration must be positive")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q is not supported", c.Logging.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
