package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies HEDGED_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known HEDGED_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Hyperliquid ──
	setStr(&cfg.Hyperliquid.BaseURL, "HEDGED_HYPERLIQUID_BASE_URL")
	setStr(&cfg.Hyperliquid.SignerPrivateKey, "HEDGED_HYPERLIQUID_SIGNER_PRIVATE_KEY")
	setStr(&cfg.Hyperliquid.SignerSource, "HEDGED_HYPERLIQUID_SIGNER_SOURCE")

	// ── Drift ──
	setStr(&cfg.Drift.GatewayURL, "HEDGED_DRIFT_GATEWAY_URL")
	setStr(&cfg.Drift.SignerSeedHex, "HEDGED_DRIFT_SIGNER_SEED_HEX")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "HEDGED_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "HEDGED_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "HEDGED_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "HEDGED_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "HEDGED_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "HEDGED_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "HEDGED_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "HEDGED_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "HEDGED_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "HEDGED_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "HEDGED_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "HEDGED_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "HEDGED_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "HEDGED_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "HEDGED_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "HEDGED_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "HEDGED_REDIS_TLS_ENABLED")

	// ── Funding ──
	setDuration(&cfg.Funding.CacheTTL, "HEDGED_FUNDING_CACHE_TTL")

	// ── Rebalance ──
	setBool(&cfg.Rebalance.Enabled, "HEDGED_REBALANCE_ENABLED")
	setDuration(&cfg.Rebalance.Interval, "HEDGED_REBALANCE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "HEDGED_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "HEDGED_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "HEDGED_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "HEDGED_SERVER_CORS_ORIGINS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "HEDGED_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
