package totp

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/quantauth/quantauth/internal/platform/branding"
)

// Config controls code derivation and enrollment policy.
type Config struct {
	Issuer        string        `env:"QUANTAUTH_TOTP_ISSUER"`
	Digits        int           `env:"QUANTAUTH_TOTP_DIGITS"         envDefault:"6"`
	Period        time.Duration `env:"QUANTAUTH_TOTP_PERIOD"         envDefault:"30s"`
	Skew          uint          `env:"QUANTAUTH_TOTP_SKEW"           envDefault:"1"`
	SecretSize    uint          `env:"QUANTAUTH_TOTP_SECRET_SIZE"    envDefault:"20"`
	EnrollmentTTL time.Duration `env:"QUANTAUTH_TOTP_ENROLLMENT_TTL" envDefault:"10m"`
	SetupAttempts int           `env:"QUANTAUTH_TOTP_SETUP_ATTEMPTS" envDefault:"5"`

	// EncryptionKey seals seeds at rest. 64 hex characters (32 bytes).
	EncryptionKey string `env:"QUANTAUTH_TOTP_ENCRYPTION_KEY"`
}

// LoadConfigFromEnv returns TOTP configuration. The encryption key has no
// default; a missing or malformed key is an error.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse totp environment: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Issuer == "" {
		c.Issuer = branding.AppName
	}
	if c.Digits <= 0 {
		c.Digits = 6
	}
	if c.Period <= 0 {
		c.Period = 30 * time.Second
	}
	if c.SecretSize == 0 {
		c.SecretSize = 20
	}
	if c.EnrollmentTTL <= 0 {
		c.EnrollmentTTL = 10 * time.Minute
	}
	if c.SetupAttempts <= 0 {
		c.SetupAttempts = 5
	}
}

// Validate checks the policy values and the encryption key shape.
func (c Config) Validate() error {
	if c.Digits != 6 && c.Digits != 8 {
		return fmt.Errorf("totp digits must be 6 or 8, got %d", c.Digits)
	}
	if c.Period < time.Second {
		return fmt.Errorf("totp period must be at least 1s, got %v", c.Period)
	}
	if c.SecretSize < 20 {
		return fmt.Errorf("totp secret size must be at least 20 bytes, got %d", c.SecretSize)
	}
	if _, err := c.Key(); err != nil {
		return err
	}
	return nil
}

// Key decodes the hex encryption key.
func (c Config) Key() ([]byte, error) {
	if c.EncryptionKey == "" {
		return nil, fmt.Errorf("totp encryption key is required (QUANTAUTH_TOTP_ENCRYPTION_KEY)")
	}
	key, err := hex.DecodeString(c.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("decode totp encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("totp encryption key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

func (c Config) periodSeconds() uint {
	return uint(c.Period / time.Second)
}
