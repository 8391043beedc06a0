// Package config defines the top-level configuration for the orchestrator
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by HEDGED_* environment
// variables.
type Config struct {
	Hyperliquid HyperliquidConfig `toml:"hyperliquid"`
	Drift       DriftConfig       `toml:"drift"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	Funding     FundingConfig     `toml:"funding"`
	Rebalance   RebalanceConfig   `toml:"rebalance"`
	Server      ServerConfig      `toml:"server"`
	LogLevel    string            `toml:"log_level"`
}

// HyperliquidConfig holds the signed-REST exchange parameters. The signer
// key is an ECDSA hex key; Source tags the signing frontend in the
// EIP-712 payload.
type HyperliquidConfig struct {
	BaseURL          string `toml:"base_url"`
	SignerPrivateKey string `toml:"signer_private_key"`
	SignerSource     string `toml:"signer_source"`
}

// DriftConfig holds the on-chain program gateway parameters. The signer
// seed is a 32-byte ed25519 seed in hex.
type DriftConfig struct {
	GatewayURL    string `toml:"gateway_url"`
	SignerSeedHex string `toml:"signer_seed_hex"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Redis backs the funding
// cache and the cross-process rebalance lock; Enabled=false runs without
// either.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// FundingConfig holds funding-rate fetch parameters.
type FundingConfig struct {
	CacheTTL duration `toml:"cache_ttl"`
}

// RebalanceConfig holds the funding-rebalance scheduler parameters.
type RebalanceConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
}

// ServerConfig holds HTTP server parameters. APIKey guards the mutating
// endpoints; empty disables auth (local development only).
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "1h").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder
// can parse duration strings like "5m" or "1h".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Hyperliquid: HyperliquidConfig{
			BaseURL:      "https://api.hyperliquid.xyz",
			SignerSource: "a",
		},
		Drift: DriftConfig{
			GatewayURL: "http://localhost:8787",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "hedged",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Funding: FundingConfig{
			CacheTTL: duration{5 * time.Minute},
		},
		Rebalance: RebalanceConfig{
			Enabled:  true,
			Interval: duration{time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Hyperliquid
	if c.Hyperliquid.BaseURL == "" {
		errs = append(errs, "hyperliquid: base_url must not be empty")
	}
	if c.Hyperliquid.SignerPrivateKey == "" {
		errs = append(errs, "hyperliquid: signer_private_key must be set")
	}

	// Drift
	if c.Drift.GatewayURL == "" {
		errs = append(errs, "drift: gateway_url must not be empty")
	}
	if c.Drift.SignerSeedHex == "" {
		errs = append(errs, "drift: signer_seed_hex must be set")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Rebalance
	if c.Rebalance.Enabled && c.Rebalance.Interval.Duration <= 0 {
		errs = append(errs, "rebalance: interval must be positive when enabled")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
