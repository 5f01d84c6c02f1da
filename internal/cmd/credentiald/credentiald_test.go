package credentiald

import (
	"flag"
	"testing"
	"time"
)

func noEnv(string) (string, bool) { return "", false }

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("credentiald", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil, noEnv)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Addr != "localhost:8080" {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
	if cfg.DBPath != "" {
		t.Fatalf("expected empty db path, got %q", cfg.DBPath)
	}
	if cfg.SweepInterval != time.Minute {
		t.Fatalf("expected 1m sweep interval, got %v", cfg.SweepInterval)
	}
}

func TestParseConfigEnvDefaults(t *testing.T) {
	env := map[string]string{
		"QUANTAUTH_HTTP_ADDR": "0.0.0.0:9090",
		"QUANTAUTH_DB_PATH":   "/var/lib/quantauth/credentials.db",
	}
	fs := flag.NewFlagSet("credentiald", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil, func(key string) (string, bool) {
		value, ok := env[key]
		return value, ok
	})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Addr != "0.0.0.0:9090" {
		t.Fatalf("addr = %q", cfg.Addr)
	}
	if cfg.DBPath != "/var/lib/quantauth/credentials.db" {
		t.Fatalf("db path = %q", cfg.DBPath)
	}
}

func TestParseConfigFlagsWin(t *testing.T) {
	env := map[string]string{"QUANTAUTH_HTTP_ADDR": "env-addr"}
	fs := flag.NewFlagSet("credentiald", flag.ContinueOnError)
	args := []string{"-addr", "flag-addr", "-sweep-interval", "30s"}
	cfg, err := ParseConfig(fs, args, func(key string) (string, bool) {
		value, ok := env[key]
		return value, ok
	})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Addr != "flag-addr" {
		t.Fatalf("addr = %q", cfg.Addr)
	}
	if cfg.SweepInterval != 30*time.Second {
		t.Fatalf("sweep interval = %v", cfg.SweepInterval)
	}
}
