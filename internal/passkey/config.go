package passkey

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/quantauth/quantauth/internal/platform/branding"
)

// Config controls WebAuthn relying party settings.
type Config struct {
	RPDisplayName string        `env:"QUANTAUTH_WEBAUTHN_RP_DISPLAY_NAME"`
	RPID          string        `env:"QUANTAUTH_WEBAUTHN_RP_ID"           envDefault:"localhost"`
	RPOrigins     []string      `env:"QUANTAUTH_WEBAUTHN_RP_ORIGINS"      envSeparator:","`
	CeremonyTTL   time.Duration `env:"QUANTAUTH_WEBAUTHN_CEREMONY_TTL"    envDefault:"5m"`
}

// LoadConfigFromEnv returns passkey configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{
			RPDisplayName: branding.AppName,
			RPID:          "localhost",
			RPOrigins:     []string{"http://localhost:8080"},
			CeremonyTTL:   5 * time.Minute,
		}
	}
	if cfg.RPDisplayName == "" {
		cfg.RPDisplayName = branding.AppName
	}
	if cfg.RPID == "" {
		cfg.RPID = "localhost"
	}
	if len(cfg.RPOrigins) == 0 {
		cfg.RPOrigins = []string{"http://localhost:8080"}
	}
	if cfg.CeremonyTTL <= 0 {
		cfg.CeremonyTTL = 5 * time.Minute
	}
	return cfg
}
