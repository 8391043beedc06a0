package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `log_level = "debug"`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log_level = %q, want debug", cfg.LogLevel)
	}
	if cfg.Rebalance.Interval.Duration != time.Hour {
		t.Errorf("rebalance interval = %s, want default 1h", cfg.Rebalance.Interval.Duration)
	}
	if cfg.Postgres.Port != 5432 {
		t.Errorf("postgres port = %d, want default 5432", cfg.Postgres.Port)
	}
}

func TestEnvOverridesBeatFile(t *testing.T) {
	path := writeConfig(t, `
[hyperliquid]
base_url = "https://file.example"

[rebalance]
interval = "30m"
`)
	t.Setenv("HEDGED_HYPERLIQUID_BASE_URL", "https://env.example")
	t.Setenv("HEDGED_REBALANCE_INTERVAL", "15m")
	t.Setenv("HEDGED_SERVER_API_KEY", "sekret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Hyperliquid.BaseURL != "https://env.example" {
		t.Errorf("base_url = %q, env override lost", cfg.Hyperliquid.BaseURL)
	}
	if cfg.Rebalance.Interval.Duration != 15*time.Minute {
		t.Errorf("interval = %s, want env 15m", cfg.Rebalance.Interval.Duration)
	}
	if cfg.Server.APIKey != "sekret" {
		t.Errorf("api_key = %q, want env value", cfg.Server.APIKey)
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "shouting"
	cfg.Hyperliquid.SignerPrivateKey = "" // missing
	cfg.Drift.SignerSeedHex = ""          // missing
	cfg.Server.Port = -1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate accepted an invalid config")
	}
	for _, want := range []string{"log_level", "signer_private_key", "signer_seed_hex", "port"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Hyperliquid.SignerPrivateKey = "0xabc"
	cfg.Drift.SignerSeedHex = "0101"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Hyperliquid.SignerPrivateKey = "0xdeadbeef"
	cfg.Postgres.Password = "hunter2"
	cfg.Server.APIKey = "sekret"

	red := RedactedConfig(&cfg)
	if red.Hyperliquid.SignerPrivateKey != "***" || red.Postgres.Password != "***" || red.Server.APIKey != "***" {
		t.Error("secrets not redacted")
	}
	if cfg.Hyperliquid.SignerPrivateKey != "0xdeadbeef" {
		t.Error("original config mutated")
	}
}
