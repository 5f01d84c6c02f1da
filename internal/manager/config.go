package manager

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config controls lifecycle policy and TOTP throttling.
//
// Setup and login throttles are deliberately independent budgets: setup is
// a rare, owner-initiated flow while login verification sees steady
// traffic.
type Config struct {
	MinCredentials int `env:"QUANTAUTH_MIN_CREDENTIALS" envDefault:"1"`

	TOTPSetupBurst  int           `env:"QUANTAUTH_TOTP_SETUP_BURST"  envDefault:"5"`
	TOTPSetupRefill time.Duration `env:"QUANTAUTH_TOTP_SETUP_REFILL" envDefault:"1m"`
	TOTPLoginBurst  int           `env:"QUANTAUTH_TOTP_LOGIN_BURST"  envDefault:"10"`
	TOTPLoginRefill time.Duration `env:"QUANTAUTH_TOTP_LOGIN_REFILL" envDefault:"30s"`
}

// LoadConfigFromEnv returns manager configuration with defaults.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse manager environment: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.MinCredentials < 0 {
		c.MinCredentials = 0
	}
	if c.TOTPSetupBurst <= 0 {
		c.TOTPSetupBurst = 5
	}
	if c.TOTPSetupRefill <= 0 {
		c.TOTPSetupRefill = time.Minute
	}
	if c.TOTPLoginBurst <= 0 {
		c.TOTPLoginBurst = 10
	}
	if c.TOTPLoginRefill <= 0 {
		c.TOTPLoginRefill = 30 * time.Second
	}
}
