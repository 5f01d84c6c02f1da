package passkey

import (
	"os"
	"testing"
	"time"

	"github.com/quantauth/quantauth/internal/platform/branding"
)

func unsetenv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	unsetenv(t,
		"QUANTAUTH_WEBAUTHN_RP_DISPLAY_NAME",
		"QUANTAUTH_WEBAUTHN_RP_ID",
		"QUANTAUTH_WEBAUTHN_RP_ORIGINS",
		"QUANTAUTH_WEBAUTHN_CEREMONY_TTL",
	)

	cfg := LoadConfigFromEnv()
	if cfg.RPDisplayName != branding.AppName {
		t.Fatalf("display name = %q, want %q", cfg.RPDisplayName, branding.AppName)
	}
	if cfg.RPID != "localhost" {
		t.Fatalf("rp id = %q, want localhost", cfg.RPID)
	}
	if len(cfg.RPOrigins) != 1 || cfg.RPOrigins[0] != "http://localhost:8080" {
		t.Fatalf("unexpected origins: %v", cfg.RPOrigins)
	}
	if cfg.CeremonyTTL != 5*time.Minute {
		t.Fatalf("ttl = %v, want 5m", cfg.CeremonyTTL)
	}
}

func TestLoadConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("QUANTAUTH_WEBAUTHN_RP_DISPLAY_NAME", "Example")
	t.Setenv("QUANTAUTH_WEBAUTHN_RP_ID", "example.com")
	t.Setenv("QUANTAUTH_WEBAUTHN_RP_ORIGINS", "https://example.com,https://www.example.com")
	t.Setenv("QUANTAUTH_WEBAUTHN_CEREMONY_TTL", "2m")

	cfg := LoadConfigFromEnv()
	if cfg.RPDisplayName != "Example" {
		t.Fatalf("display name = %q", cfg.RPDisplayName)
	}
	if cfg.RPID != "example.com" {
		t.Fatalf("rp id = %q", cfg.RPID)
	}
	if len(cfg.RPOrigins) != 2 || cfg.RPOrigins[1] != "https://www.example.com" {
		t.Fatalf("unexpected origins: %v", cfg.RPOrigins)
	}
	if cfg.CeremonyTTL != 2*time.Minute {
		t.Fatalf("ttl = %v, want 2m", cfg.CeremonyTTL)
	}
}
