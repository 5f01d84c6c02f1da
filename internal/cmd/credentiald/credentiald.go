// Package credentiald wires flags and environment into the credential
// server command.
package credentiald

import (
	"context"
	"flag"
	"strings"
	"time"

	"github.com/quantauth/quantauth/internal/app"
)

// Config holds credentiald command configuration.
type Config struct {
	Addr          string
	DBPath        string
	SweepInterval time.Duration
}

// EnvLookup returns the value for a key when present.
type EnvLookup func(string) (string, bool)

// ParseConfig parses flags into a Config. Environment values provide
// defaults; flags win.
func ParseConfig(fs *flag.FlagSet, args []string, lookup EnvLookup) (Config, error) {
	cfg := Config{
		Addr:          envOrDefault(lookup, []string{"QUANTAUTH_HTTP_ADDR"}, "localhost:8080"),
		DBPath:        envOrDefault(lookup, []string{"QUANTAUTH_DB_PATH"}, ""),
		SweepInterval: time.Minute,
	}

	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The credential HTTP server address")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "Path to the sqlite database file")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "How often expired challenges are swept")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the credential server.
func Run(ctx context.Context, cfg Config) error {
	return app.Run(ctx, app.Config{
		Addr:          cfg.Addr,
		DBPath:        cfg.DBPath,
		SweepInterval: cfg.SweepInterval,
	})
}

func envOrDefault(lookup EnvLookup, keys []string, fallback string) string {
	for _, key := range keys {
		if lookup == nil {
			break
		}
		value, ok := lookup(key)
		if ok {
			trimmed := strings.TrimSpace(value)
			if trimmed != "" {
				return trimmed
			}
		}
	}
	return fallback
}
