package totp

import (
	"strings"
	"testing"
	"time"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{EncryptionKey: strings.Repeat("cd", 32)}
	cfg.applyDefaults()

	if cfg.Digits != 6 {
		t.Fatalf("digits = %d", cfg.Digits)
	}
	if cfg.Period != 30*time.Second {
		t.Fatalf("period = %v", cfg.Period)
	}
	if cfg.SecretSize != 20 {
		t.Fatalf("secret size = %d", cfg.SecretSize)
	}
	if cfg.SetupAttempts != 5 {
		t.Fatalf("setup attempts = %d", cfg.SetupAttempts)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestConfigKeyValidation(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"missing", ""},
		{"not hex", strings.Repeat("zz", 32)},
		{"too short", strings.Repeat("ab", 16)},
		{"too long", strings.Repeat("ab", 48)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Config{EncryptionKey: tc.key}
			cfg.applyDefaults()
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected key validation to fail")
			}
		})
	}
}

func TestConfigRejectsWeakPolicy(t *testing.T) {
	cfg := Config{EncryptionKey: strings.Repeat("ab", 32), Digits: 7}
	cfg.applyDefaults()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected 7 digits to be rejected")
	}

	cfg = Config{EncryptionKey: strings.Repeat("ab", 32), SecretSize: 10}
	cfg.applyDefaults()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected short secret to be rejected")
	}
}
